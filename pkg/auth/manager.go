package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/oidc-session/pkg/codec"
	"github.com/telekom/oidc-session/pkg/metrics"
	"github.com/telekom/oidc-session/pkg/telemetry"
)

var tracer = telemetry.Tracer("github.com/telekom/oidc-session/pkg/auth")

type State int

const (
	StateIdle State = iota
	StateAwaitingCallback
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingCallback:
		return "AwaitingCallback"
	case StateAuthenticated:
		return "Authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Option func(*Manager)

// WithDirectory replaces the go-oidc backed provider directory.
func WithDirectory(d Directory) Option {
	return func(m *Manager) { m.dir = d }
}

// WithHTTPClient makes discovery, token and userinfo requests go through c.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.dir = &OIDCDirectory{HTTPClient: c} }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(m *Manager) { m.log = log }
}

// WithStore sets the store used by SaveToFile and LoadFromFile. Without it a
// store keyed by the host key source is created on first use.
func WithStore(s *TokenStore) Option {
	return func(m *Manager) { m.store = s }
}

// Manager owns one authentication session: at most one pending attempt and
// one callback listener, plus the current credentials.
type Manager struct {
	cfg   ClientConfiguration
	dir   Directory
	log   *zap.SugaredLogger
	store *TokenStore

	// opMu serializes Authenticate, Refresh, Shutdown and persistence.
	// Callback handlers never take it.
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	creds    *SessionCredentials
	attempt  *Attempt
	listener *CallbackListener
	authURL  string
}

func NewManager(cfg ClientConfiguration, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Manager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = zap.NewNop().Sugar()
	}
	if m.dir == nil {
		m.dir = &OIDCDirectory{}
	}
	return m, nil
}

// Authenticate starts a new attempt and returns once the callback listener is
// accepting requests. Any previous attempt is canceled first. The caller sends
// the user to Attempt.AuthorizationURL. onAuthenticated runs on success only,
// after the browser got its page and before Attempt.Wait returns.
func (m *Manager) Authenticate(ctx context.Context, onAuthenticated AuthenticatedFunc) (_ *Attempt, err error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.stopListener()

	id := uuid.NewString()
	ctx, span := tracer.Start(ctx, "oidc.authenticate", trace.WithAttributes(
		attribute.String("oidc.attempt", id),
		attribute.String("oidc.issuer", m.cfg.IssuerBaseURL),
	))
	defer func() { telemetry.End(span, err) }()

	ac, err := newAuthorizationContext()
	if err != nil {
		return nil, err
	}
	log := m.log.With("attempt", id, "issuer", m.cfg.IssuerBaseURL)
	metrics.AuthAttempts.Inc()

	listener, err := ListenCallback(log, m.cfg.Port, m.cfg.RedirectPath)
	if err != nil {
		metrics.AuthAttemptFailures.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}
	client, err := m.dir.Discover(ctx, m.cfg, listener.RedirectURI())
	if err != nil {
		listener.Close()
		metrics.AuthAttemptFailures.WithLabelValues(failureReason(err)).Inc()
		log.Warnw("Provider discovery failed", "error", err)
		return nil, err
	}

	a := &Attempt{
		id:              id,
		authURL:         client.AuthCodeURL(ac),
		ac:              ac,
		client:          client,
		onAuthenticated: onAuthenticated,
		done:            make(chan struct{}),
	}

	m.mu.Lock()
	m.attempt = a
	m.listener = listener
	m.authURL = a.authURL
	m.state = StateAwaitingCallback
	m.mu.Unlock()

	span.SetAttributes(attribute.String("oidc.redirect_uri", listener.RedirectURI()))
	listener.Serve(func(ctx context.Context, query url.Values) (err error) {
		ctx, span := tracer.Start(ctx, "oidc.callback", trace.WithAttributes(attribute.String("oidc.attempt", id)))
		defer func() { telemetry.End(span, err) }()
		return m.handleCallback(ctx, log, a, query)
	})
	go m.watch(a, listener)

	log.Infow("Waiting for authorization callback", "redirect_uri", listener.RedirectURI())
	return a, nil
}

func (m *Manager) handleCallback(ctx context.Context, log *zap.SugaredLogger, a *Attempt, query url.Values) error {
	if !m.isCurrent(a) {
		return m.failAttempt(a, "unknown_attempt", ErrUnknownAttempt)
	}
	if subtle.ConstantTimeCompare([]byte(query.Get("state")), []byte(a.ac.State)) != 1 {
		log.Warnw("Rejected callback with mismatched state")
		return m.failAttempt(a, "state_mismatch", ErrStateMismatch)
	}
	if e := query.Get("error"); e != "" {
		err := fmt.Errorf("%w: %s", ErrAuthorizationDenied, e)
		if desc := query.Get("error_description"); desc != "" {
			err = fmt.Errorf("%w: %s: %s", ErrAuthorizationDenied, e, desc)
		}
		return m.failAttempt(a, "denied", err)
	}
	code := query.Get("code")
	if code == "" {
		return m.failAttempt(a, "exchange_error", fmt.Errorf("%w: missing code in callback", ErrTokenExchange))
	}

	tokens, err := a.client.Exchange(ctx, code, a.ac)
	if err != nil {
		log.Warnw("Token exchange failed", "error", err)
		return m.failAttempt(a, "exchange_error", err)
	}
	creds := SessionCredentials{TokenSet: tokens}
	userInfo, infoErr := a.client.UserInfo(ctx, tokens.AccessToken)
	if infoErr == nil {
		creds.UserInfo = userInfo
	} else if !errors.Is(infoErr, ErrUserInfo) {
		infoErr = fmt.Errorf("%w: %w", ErrUserInfo, infoErr)
	}

	m.mu.Lock()
	if m.attempt != a {
		m.mu.Unlock()
		return m.failAttempt(a, "canceled", ErrAttemptCanceled)
	}
	stored := creds.clone()
	m.creds = &stored
	m.state = StateAuthenticated
	m.mu.Unlock()

	if infoErr != nil {
		// Tokens stay; only the claims are missing.
		log.Warnw("Userinfo request failed", "error", infoErr)
		metrics.Callbacks.WithLabelValues("userinfo_error").Inc()
		a.record(creds, infoErr)
		return infoErr
	}
	metrics.Callbacks.WithLabelValues("success").Inc()
	a.record(creds, nil)
	log.Infow("Authentication complete")
	return nil
}

func (m *Manager) failAttempt(a *Attempt, result string, err error) error {
	metrics.Callbacks.WithLabelValues(result).Inc()
	a.record(SessionCredentials{}, err)
	return err
}

// watch resolves the attempt once its listener has fully stopped. The
// success callback runs here, after the browser got its page, so it may call
// back into the manager.
func (m *Manager) watch(a *Attempt, l *CallbackListener) {
	<-l.Done()
	m.mu.Lock()
	if m.attempt == a {
		m.attempt = nil
		m.listener = nil
		m.state = m.restingState()
	}
	m.mu.Unlock()
	if creds, ok := a.succeeded(); ok && a.onAuthenticated != nil {
		a.onAuthenticated(cloneClaims(creds.UserInfo), creds.TokenSet.clone())
	}
	a.resolve()
	if errors.Is(a.Err(), ErrAttemptCanceled) {
		m.log.Debugw("Authentication attempt canceled", "attempt", a.id)
	}
}

func (m *Manager) isCurrent(a *Attempt) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt == a
}

// restingState is the state without a pending attempt. Callers hold mu.
func (m *Manager) restingState() State {
	if m.creds != nil {
		return StateAuthenticated
	}
	return StateIdle
}

// stopListener orphans the pending attempt and waits until its port is free.
func (m *Manager) stopListener() {
	m.mu.Lock()
	l := m.listener
	m.attempt = nil
	m.listener = nil
	m.state = m.restingState()
	m.mu.Unlock()
	if l == nil {
		return
	}
	l.Close()
	<-l.Done()
}

// Refresh exchanges the stored refresh token for a new token set. User info
// is kept as is. On failure the stored credentials are untouched.
func (m *Manager) Refresh(ctx context.Context, onAuthenticated AuthenticatedFunc) (_ TokenSet, err error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx, span := tracer.Start(ctx, "oidc.refresh", trace.WithAttributes(attribute.String("oidc.issuer", m.cfg.IssuerBaseURL)))
	defer func() { telemetry.End(span, err) }()

	m.mu.Lock()
	var current SessionCredentials
	if m.creds != nil {
		current = m.creds.clone()
	}
	hasCreds := m.creds != nil
	m.mu.Unlock()
	if !hasCreds {
		return TokenSet{}, ErrNotAuthenticated
	}
	if current.TokenSet.RefreshToken == "" {
		return TokenSet{}, ErrNoRefreshToken
	}

	m.stopListener()

	log := m.log.With("issuer", m.cfg.IssuerBaseURL)
	// Endpoints and signing keys may have rotated since the last discovery.
	client, err := m.dir.Discover(ctx, m.cfg, m.cfg.RedirectURI())
	if err != nil {
		metrics.Refreshes.WithLabelValues("discovery_error").Inc()
		log.Warnw("Provider discovery failed", "error", err)
		return TokenSet{}, err
	}
	tokens, err := client.Refresh(ctx, current.TokenSet.RefreshToken)
	if err != nil {
		metrics.Refreshes.WithLabelValues("error").Inc()
		log.Warnw("Token refresh failed", "error", err)
		return TokenSet{}, err
	}
	if tokens.IDToken == "" {
		tokens.IDToken = current.TokenSet.IDToken
		tokens.Claims = current.TokenSet.Claims
	}

	m.mu.Lock()
	m.creds = &SessionCredentials{TokenSet: tokens.clone(), UserInfo: current.UserInfo}
	m.state = StateAuthenticated
	m.mu.Unlock()

	metrics.Refreshes.WithLabelValues("success").Inc()
	log.Infow("Token refreshed", "expiry", tokens.Expiry)
	if onAuthenticated != nil {
		onAuthenticated(cloneClaims(current.UserInfo), tokens.clone())
	}
	return tokens.clone(), nil
}

// Shutdown stops the pending attempt, if any, and releases the port. Token
// calls already in flight are not interrupted, their result is discarded.
func (m *Manager) Shutdown() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.stopListener()
}

// Logout shuts down and forgets the in-memory credentials.
func (m *Manager) Logout() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.stopListener()
	m.mu.Lock()
	m.creds = nil
	m.state = StateIdle
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds != nil
}

// CanRefresh reports whether Refresh has a refresh token to use.
func (m *Manager) CanRefresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds != nil && m.creds.TokenSet.RefreshToken != ""
}

// Credentials returns a copy of the current credentials.
func (m *Manager) Credentials() (SessionCredentials, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return SessionCredentials{}, false
	}
	return m.creds.clone(), true
}

func (m *Manager) TokenSet() TokenSet {
	creds, _ := m.Credentials()
	return creds.TokenSet
}

func (m *Manager) UserInfo() map[string]any {
	creds, _ := m.Credentials()
	return creds.UserInfo
}

// AuthorizationURL returns the URL of the most recent attempt.
func (m *Manager) AuthorizationURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authURL
}

// RedirectURI returns the pending attempt's redirect URI, which carries the
// bound port, or the configured one when nothing is pending.
func (m *Manager) RedirectURI() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		return m.listener.RedirectURI()
	}
	return m.cfg.RedirectURI()
}

// SaveToFile writes the current credentials to path.
func (m *Manager) SaveToFile(path string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	creds, ok := m.Credentials()
	if !ok {
		return ErrNotAuthenticated
	}
	store, err := m.tokenStore()
	if err != nil {
		return err
	}
	return store.Save(path, creds)
}

// LoadFromFile replaces the in-memory credentials with the ones stored at
// path. It returns false without touching memory when the file is missing or
// was written by an incompatible host or format.
func (m *Manager) LoadFromFile(path string) (bool, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	store, err := m.tokenStore()
	if err != nil {
		return false, err
	}
	creds, ok, err := store.Load(path)
	if err != nil || !ok {
		return false, err
	}
	m.mu.Lock()
	m.creds = &creds
	if m.state != StateAwaitingCallback {
		m.state = StateAuthenticated
	}
	m.mu.Unlock()
	return true, nil
}

func (m *Manager) tokenStore() (*TokenStore, error) {
	if m.store != nil {
		return m.store, nil
	}
	c, err := codec.NewCodec(codec.HostKeySource{})
	if err != nil {
		return nil, err
	}
	m.store = NewTokenStore(c, m.log)
	return m.store, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPortInUse):
		return "port_in_use"
	case errors.Is(err, ErrDiscovery):
		return "discovery_error"
	default:
		return "error"
	}
}
