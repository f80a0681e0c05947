package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Directory resolves provider metadata for an issuer and builds a client for it.
type Directory interface {
	Discover(ctx context.Context, cfg ClientConfiguration, redirectURI string) (ProviderClient, error)
}

// ProviderClient is a discovered, configured OIDC client.
type ProviderClient interface {
	AuthCodeURL(ac AuthorizationContext) string
	Exchange(ctx context.Context, code string, ac AuthorizationContext) (TokenSet, error)
	UserInfo(ctx context.Context, accessToken string) (map[string]any, error)
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

// OIDCDirectory implements Directory on top of go-oidc and x/oauth2.
type OIDCDirectory struct {
	HTTPClient *http.Client
}

func (d *OIDCDirectory) Discover(ctx context.Context, cfg ClientConfiguration, redirectURI string) (ProviderClient, error) {
	httpClient := d.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ctx = oidc.ClientContext(ctx, httpClient)
	provider, err := oidc.NewProvider(ctx, cfg.IssuerBaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	scopes := strings.Fields(cfg.Scope)
	if len(scopes) == 0 {
		scopes = strings.Fields(DefaultScope)
	}
	return &oidcClient{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		http:     httpClient,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURI,
			Scopes:       scopes,
		},
	}, nil
}

type oidcClient struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	http     *http.Client
	oauth    oauth2.Config
}

func (c *oidcClient) ctx(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.http)
}

func (c *oidcClient) AuthCodeURL(ac AuthorizationContext) string {
	return c.oauth.AuthCodeURL(ac.State,
		oidc.Nonce(ac.Nonce),
		oauth2.SetAuthURLParam("code_challenge", ac.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
	)
}

func (c *oidcClient) Exchange(ctx context.Context, code string, ac AuthorizationContext) (TokenSet, error) {
	ctx = c.ctx(ctx)
	token, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(ac.CodeVerifier))
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	tokens := tokenSetFrom(token)
	if tokens.IDToken == "" {
		if slices.Contains(c.oauth.Scopes, oidc.ScopeOpenID) {
			return TokenSet{}, fmt.Errorf("%w: id_token missing from token response", ErrTokenExchange)
		}
		return tokens, nil
	}
	idToken, err := c.verifier.Verify(ctx, tokens.IDToken)
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	if idToken.Nonce != ac.Nonce {
		return TokenSet{}, fmt.Errorf("%w: nonce mismatch", ErrTokenExchange)
	}
	if err := idToken.Claims(&tokens.Claims); err != nil {
		return TokenSet{}, fmt.Errorf("%w: failed to decode id_token claims: %w", ErrTokenExchange, err)
	}
	return tokens, nil
}

func (c *oidcClient) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := c.provider.UserInfo(c.ctx(ctx), src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserInfo, err)
	}
	claims := map[string]any{}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to decode claims: %w", ErrUserInfo, err)
	}
	return claims, nil
}

func (c *oidcClient) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	ctx = c.ctx(ctx)
	token, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: %w", ErrRefresh, err)
	}
	tokens := tokenSetFrom(token)
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	if tokens.IDToken == "" {
		return tokens, nil
	}
	// Refreshed ID tokens carry no nonce.
	idToken, err := c.verifier.Verify(ctx, tokens.IDToken)
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: %w", ErrRefresh, err)
	}
	if err := idToken.Claims(&tokens.Claims); err != nil {
		return TokenSet{}, fmt.Errorf("%w: failed to decode id_token claims: %w", ErrRefresh, err)
	}
	return tokens, nil
}

func tokenSetFrom(token *oauth2.Token) TokenSet {
	idToken, _ := token.Extra("id_token").(string)
	return TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      idToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry.UTC().Round(0),
	}
}

// NewHTTPClient builds the client used for discovery and token calls.
func NewHTTPClient(caFile string, insecure bool) (*http.Client, error) {
	tlsConfig, err := loadTLSConfig(caFile, insecure)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}, Timeout: 30 * time.Second}, nil
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	if caFile == "" && !insecure {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	certPool, err := loadCertPool(caFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure,
		RootCAs:            certPool,
	}, nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	return pool, nil
}
