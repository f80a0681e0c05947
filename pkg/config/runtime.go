package config

import (
	"fmt"
	"net/http"

	"github.com/telekom/oidc-session/pkg/auth"
	"github.com/telekom/oidc-session/pkg/codec"
)

const (
	keychainService = "oidc-session"
	keychainUser    = "session-key"
)

// KeySource maps session.key-source to the codec key source.
func (c *Config) KeySource() (codec.KeySource, error) {
	switch c.Session.KeySource {
	case "", KeySourceHost:
		return codec.HostKeySource{}, nil
	case KeySourceKeychain:
		return codec.KeyringKeySource{Service: keychainService, User: keychainUser}, nil
	default:
		return nil, fmt.Errorf("unknown session.key-source: %s", c.Session.KeySource)
	}
}

// HTTPClient returns nil when no TLS customisation is configured, leaving the
// auth package defaults in place.
func (c *Config) HTTPClient() (*http.Client, error) {
	if c.Provider.CAFile == "" && !c.Provider.InsecureSkipTLS {
		return nil, nil
	}
	return auth.NewHTTPClient(c.Provider.CAFile, c.Provider.InsecureSkipTLS)
}
