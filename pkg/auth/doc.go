// Package auth runs the OpenID Connect authorization code flow with PKCE for
// native applications: provider discovery, a single-use local callback
// listener, code exchange, refresh and encrypted session persistence.
package auth
