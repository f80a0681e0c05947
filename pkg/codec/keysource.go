package codec

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/zalando/go-keyring"
)

// KeySource supplies the secret the codec derives its keys from.
type KeySource interface {
	Key() ([]byte, error)
}

// HostKeySource derives key material from host-identifying values. It needs
// no storage and is deterministic per host and build platform.
type HostKeySource struct {
	// Hostname overrides os.Hostname, mostly for tests.
	Hostname func() (string, error)
}

func (s HostKeySource) Key() ([]byte, error) {
	hostname := s.Hostname
	if hostname == nil {
		hostname = os.Hostname
	}
	host, err := hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to read hostname: %w", err)
	}
	return []byte(host + "|" + runtime.GOOS + "|" + runtime.GOARCH), nil
}

// StaticKeySource uses caller-provided secret bytes, e.g. a user passphrase.
type StaticKeySource []byte

func (s StaticKeySource) Key() ([]byte, error) {
	return []byte(s), nil
}

// KeyringKeySource keeps a random key in the OS keychain, creating it on
// first use.
type KeyringKeySource struct {
	Service string
	User    string
}

func (s KeyringKeySource) Key() ([]byte, error) {
	stored, err := keyring.Get(s.Service, s.User)
	if err == nil {
		key, decErr := hex.DecodeString(stored)
		if decErr != nil {
			return nil, fmt.Errorf("invalid key in keychain for %s/%s: %w", s.Service, s.User, decErr)
		}
		return key, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("failed to read keychain: %w", err)
	}
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := keyring.Set(s.Service, s.User, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to store key in keychain: %w", err)
	}
	return key, nil
}
