// Package ratelimit throttles stray requests hitting short-lived local HTTP
// listeners.
package ratelimit
