// Package cmd implements the oidc-session command line: login through the
// system browser, refresh, status and logout against an encrypted session file.
package cmd
