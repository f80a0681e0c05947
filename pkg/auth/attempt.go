package auth

import (
	"context"
	"sync"
)

// Attempt is one pending authorization. It resolves exactly once: with
// credentials, with an error, or with ErrAttemptCanceled when it is superseded
// or shut down before the callback arrives. A user who never finishes the
// login leaves the attempt pending until then.
type Attempt struct {
	id      string
	authURL string
	ac      AuthorizationContext

	client          ProviderClient
	onAuthenticated AuthenticatedFunc

	mu      sync.Mutex
	settled bool
	creds   SessionCredentials
	err     error
	done    chan struct{}
}

func (a *Attempt) ID() string               { return a.id }
func (a *Attempt) AuthorizationURL() string { return a.authURL }
func (a *Attempt) State() string            { return a.ac.State }
func (a *Attempt) Nonce() string            { return a.ac.Nonce }
func (a *Attempt) CodeChallenge() string    { return a.ac.CodeChallenge }

// Done is closed once the attempt has resolved and its listener has stopped.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Err returns the outcome error once Done is closed.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Wait blocks until the attempt resolves or ctx ends. Ending ctx does not
// cancel the attempt; call Manager.Shutdown for that.
func (a *Attempt) Wait(ctx context.Context) (SessionCredentials, error) {
	select {
	case <-ctx.Done():
		return SessionCredentials{}, ctx.Err()
	case <-a.done:
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return SessionCredentials{}, a.err
	}
	return a.creds.clone(), nil
}

// record stores the outcome; only the first call wins.
func (a *Attempt) record(creds SessionCredentials, err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return false
	}
	a.settled = true
	a.creds = creds
	a.err = err
	return true
}

// succeeded returns the credentials when the attempt was recorded as a success.
func (a *Attempt) succeeded() (SessionCredentials, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.settled || a.err != nil {
		return SessionCredentials{}, false
	}
	return a.creds.clone(), true
}

func (a *Attempt) resolve() {
	a.record(SessionCredentials{}, ErrAttemptCanceled)
	close(a.done)
}
