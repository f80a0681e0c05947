package auth

import "errors"

var (
	ErrDiscovery           = errors.New("oidc discovery failed")
	ErrPortInUse           = errors.New("callback port already in use")
	ErrStateMismatch       = errors.New("state mismatch in callback")
	ErrAuthorizationDenied = errors.New("authorization denied by provider")
	ErrTokenExchange       = errors.New("token exchange failed")
	ErrUserInfo            = errors.New("userinfo request failed")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNoRefreshToken      = errors.New("no refresh token available")
	ErrRefresh             = errors.New("token refresh failed")
	ErrCorruptSession      = errors.New("session file is corrupt")

	// ErrAttemptCanceled resolves an attempt that was superseded or shut down
	// before its callback arrived.
	ErrAttemptCanceled = errors.New("authentication attempt canceled")
	// ErrUnknownAttempt rejects a callback that belongs to an orphaned attempt.
	ErrUnknownAttempt = errors.New("callback does not belong to the active attempt")
)
