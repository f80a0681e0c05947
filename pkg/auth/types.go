package auth

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

const (
	DefaultScope        = "openid email profile"
	DefaultRedirectPath = "callback"
	DefaultPort         = 8734
)

// ClientConfiguration is supplied once per manager and outlives every attempt.
type ClientConfiguration struct {
	ClientID      string
	ClientSecret  string
	IssuerBaseURL string
	Port          int
	Scope         string
	RedirectPath  string
}

func (c ClientConfiguration) withDefaults() ClientConfiguration {
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.RedirectPath == "" {
		c.RedirectPath = DefaultRedirectPath
	}
	return c
}

func (c ClientConfiguration) validate() error {
	if c.IssuerBaseURL == "" || c.ClientID == "" {
		return errors.New("issuer and client-id are required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid callback port: %d", c.Port)
	}
	return nil
}

// RedirectURI returns http://localhost:{port}/{redirectPath}.
func (c ClientConfiguration) RedirectURI() string {
	return redirectURI(c.Port, c.RedirectPath)
}

func redirectURI(port int, path string) string {
	return fmt.Sprintf("http://localhost:%d/%s", port, trimSlash(path))
}

func trimSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}

// TokenSet is the bundle returned by a code exchange or a refresh.
type TokenSet struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	IDToken      string         `json:"id_token,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	Expiry       time.Time      `json:"expiry,omitempty"`
	Claims       map[string]any `json:"claims,omitempty"`
}

// Expired reports whether the access token is past its expiry. A zero expiry
// never expires.
func (t TokenSet) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}

func (t TokenSet) clone() TokenSet {
	t.Claims = cloneClaims(t.Claims)
	return t
}

// SessionCredentials is the result of a successful authentication.
type SessionCredentials struct {
	TokenSet TokenSet       `json:"token_set"`
	UserInfo map[string]any `json:"user_info,omitempty"`
}

func (c SessionCredentials) clone() SessionCredentials {
	return SessionCredentials{TokenSet: c.TokenSet.clone(), UserInfo: cloneClaims(c.UserInfo)}
}

// AuthenticatedFunc is called once per successful authentication or refresh.
type AuthenticatedFunc func(userInfo map[string]any, tokens TokenSet)

func cloneClaims(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := maps.Clone(in)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneClaims(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = cloneValue(val[i])
		}
		return out
	default:
		return v
	}
}
