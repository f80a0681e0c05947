// Package config loads the oidc-session YAML configuration file, applies
// environment overrides and turns the result into an auth.ClientConfiguration.
package config
