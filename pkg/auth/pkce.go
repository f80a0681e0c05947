package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const codeChallengeMethod = "S256"

// AuthorizationContext binds one authorization request to its callback.
type AuthorizationContext struct {
	State         string
	Nonce         string
	CodeVerifier  string
	CodeChallenge string
}

func newAuthorizationContext() (AuthorizationContext, error) {
	state, err := randomToken(24)
	if err != nil {
		return AuthorizationContext{}, err
	}
	nonce, err := randomToken(24)
	if err != nil {
		return AuthorizationContext{}, err
	}
	// 32 bytes encode to 43 characters, the RFC 7636 minimum.
	verifier, err := randomToken(32)
	if err != nil {
		return AuthorizationContext{}, err
	}
	return AuthorizationContext{
		State:         state,
		Nonce:         nonce,
		CodeVerifier:  verifier,
		CodeChallenge: CodeChallenge(verifier),
	}, nil
}

// CodeChallenge derives the S256 challenge for a verifier.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
