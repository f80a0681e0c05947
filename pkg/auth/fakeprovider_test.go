package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "desktop-app"
	testKeyID    = "test-key"
)

var (
	signingKeyOnce sync.Once
	signingKey     *rsa.PrivateKey
)

func testSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	signingKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		signingKey = key
	})
	return signingKey
}

type issuedCode struct {
	nonce     string
	challenge string
}

// fakeProvider is a minimal OIDC provider serving discovery, JWKS, token and
// userinfo endpoints.
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu    sync.Mutex
	codes map[string]issuedCode
	seq   int

	tokenCalls    atomic.Int32
	refreshCalls  atomic.Int32
	userInfoCalls atomic.Int32

	noRefreshToken bool
	wrongNonce     bool
	failUserInfo   bool
	failRefresh    bool
	refreshIDToken bool
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{t: t, key: testSigningKey(t), codes: map[string]issuedCode{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("/jwks", p.jwks)
	mux.HandleFunc("/token", p.token)
	mux.HandleFunc("/userinfo", p.userinfo)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) URL() string {
	return p.server.URL
}

func (p *fakeProvider) discovery(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                p.server.URL,
		"authorization_endpoint":                p.server.URL + "/authorize",
		"token_endpoint":                        p.server.URL + "/token",
		"userinfo_endpoint":                     p.server.URL + "/userinfo",
		"jwks_uri":                              p.server.URL + "/jwks",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *fakeProvider) jwks(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     testKeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
}

// authorize plays the user's browser login: it records the code binding and
// returns the callback URL the provider would redirect to.
func (p *fakeProvider) authorize(authURL string) string {
	p.t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(p.t, err)
	q := u.Query()
	p.mu.Lock()
	p.seq++
	code := fmt.Sprintf("code-%d", p.seq)
	p.codes[code] = issuedCode{nonce: q.Get("nonce"), challenge: q.Get("code_challenge")}
	p.mu.Unlock()
	return callbackURL(p.t, q.Get("redirect_uri"), url.Values{"code": {code}, "state": {q.Get("state")}})
}

func (p *fakeProvider) token(w http.ResponseWriter, r *http.Request) {
	p.tokenCalls.Add(1)
	w.Header().Set("Content-Type", "application/json")
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request")
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.mu.Lock()
		issued, ok := p.codes[r.PostForm.Get("code")]
		delete(p.codes, r.PostForm.Get("code"))
		p.mu.Unlock()
		if !ok || CodeChallenge(r.PostForm.Get("code_verifier")) != issued.challenge {
			tokenError(w, "invalid_grant")
			return
		}
		nonce := issued.nonce
		if p.wrongNonce {
			nonce = "some-other-nonce"
		}
		resp := map[string]any{
			"access_token": "access-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     p.idToken(nonce),
		}
		if !p.noRefreshToken {
			resp["refresh_token"] = "refresh-1"
		}
		_ = json.NewEncoder(w).Encode(resp)
	case "refresh_token":
		n := p.refreshCalls.Add(1)
		if p.failRefresh || r.PostForm.Get("refresh_token") == "" {
			tokenError(w, "invalid_grant")
			return
		}
		resp := map[string]any{
			"access_token":  fmt.Sprintf("access-refreshed-%d", n),
			"refresh_token": fmt.Sprintf("refresh-rotated-%d", n),
			"token_type":    "Bearer",
			"expires_in":    3600,
		}
		if p.refreshIDToken {
			resp["id_token"] = p.idToken("")
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		tokenError(w, "unsupported_grant_type")
	}
}

func (p *fakeProvider) userinfo(w http.ResponseWriter, r *http.Request) {
	p.userInfoCalls.Add(1)
	if p.failUserInfo || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sub":   "user-1",
		"email": "jane@example.com",
		"name":  "Jane Doe",
	})
}

func (p *fakeProvider) idToken(nonce string) string {
	p.t.Helper()
	claims := map[string]any{
		"iss":   p.server.URL,
		"sub":   "user-1",
		"aud":   testClientID,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
		"email": "jane@example.com",
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	payload, err := json.Marshal(claims)
	require.NoError(p.t, err)
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: p.key, KeyID: testKeyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(p.t, err)
	signed, err := signer.Sign(payload)
	require.NoError(p.t, err)
	raw, err := signed.CompactSerialize()
	require.NoError(p.t, err)
	return raw
}

func tokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// callbackURL rewrites localhost to 127.0.0.1, where the listener is bound.
func callbackURL(t *testing.T, redirectURI string, query url.Values) string {
	t.Helper()
	u, err := url.Parse(redirectURI)
	require.NoError(t, err)
	u.Host = net.JoinHostPort("127.0.0.1", u.Port())
	u.RawQuery = query.Encode()
	return u.String()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func requirePortReleased(t *testing.T, addr string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		_ = conn.Close()
	}
	require.Error(t, err, "expected %s to be closed", addr)
}

func httpGet(t *testing.T, rawURL string) (int, string) {
	t.Helper()
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(rawURL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}
