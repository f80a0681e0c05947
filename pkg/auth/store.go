package auth

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/telekom/oidc-session/pkg/codec"
	"github.com/telekom/oidc-session/pkg/metrics"
)

// persistedSession is the on-disk layout. Claims and tokens are encrypted
// separately and hex encoded.
type persistedSession struct {
	Claims string `json:"claims"`
	Tokens string `json:"tokens"`
	Check  string `json:"check"`
}

// TokenStore reads and writes encrypted session files. It assumes a single
// writer; concurrent writers race and the last rename wins.
type TokenStore struct {
	codec *codec.Codec
	log   *zap.SugaredLogger
}

func NewTokenStore(c *codec.Codec, log *zap.SugaredLogger) *TokenStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &TokenStore{codec: c, log: log}
}

func (s *TokenStore) Save(path string, creds SessionCredentials) error {
	if path == "" {
		return errors.New("session path is required")
	}
	claims, err := s.seal(creds.UserInfo)
	if err != nil {
		return err
	}
	tokens, err := s.seal(creds.TokenSet)
	if err != nil {
		return err
	}
	content, err := json.Marshal(persistedSession{Claims: claims, Tokens: tokens, Check: s.codec.CheckString()})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := writeFileAtomic(path, content); err != nil {
		metrics.Persistence.WithLabelValues("save", "error").Inc()
		return err
	}
	metrics.Persistence.WithLabelValues("save", "success").Inc()
	s.log.Debugw("Session saved", "path", path)
	return nil
}

// Load returns false when the file does not exist or its check string does
// not match this codec. A matching file that cannot be decrypted is
// ErrCorruptSession.
func (s *TokenStore) Load(path string) (SessionCredentials, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			metrics.Persistence.WithLabelValues("load", "missing").Inc()
			return SessionCredentials{}, false, nil
		}
		metrics.Persistence.WithLabelValues("load", "error").Inc()
		return SessionCredentials{}, false, fmt.Errorf("failed to read session file: %w", err)
	}
	var stored persistedSession
	if err := json.Unmarshal(content, &stored); err != nil {
		metrics.Persistence.WithLabelValues("load", "corrupt").Inc()
		return SessionCredentials{}, false, fmt.Errorf("%w: %w", ErrCorruptSession, err)
	}
	if stored.Check != s.codec.CheckString() {
		metrics.Persistence.WithLabelValues("load", "mismatch").Inc()
		s.log.Infow("Session file written by an incompatible host or format, ignoring", "path", path)
		return SessionCredentials{}, false, nil
	}
	var creds SessionCredentials
	if err := s.open(stored.Claims, &creds.UserInfo); err != nil {
		metrics.Persistence.WithLabelValues("load", "corrupt").Inc()
		return SessionCredentials{}, false, fmt.Errorf("%w: claims: %w", ErrCorruptSession, err)
	}
	if err := s.open(stored.Tokens, &creds.TokenSet); err != nil {
		metrics.Persistence.WithLabelValues("load", "corrupt").Inc()
		return SessionCredentials{}, false, fmt.Errorf("%w: tokens: %w", ErrCorruptSession, err)
	}
	metrics.Persistence.WithLabelValues("load", "success").Inc()
	s.log.Debugw("Session loaded", "path", path)
	return creds, true, nil
}

// Delete removes the session file. A missing file is not an error.
func (s *TokenStore) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (s *TokenStore) seal(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session data: %w", err)
	}
	sealed, err := s.codec.Encrypt(plain)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sealed), nil
}

func (s *TokenStore) open(text string, v any) error {
	sealed, err := hex.DecodeString(text)
	if err != nil {
		return err
	}
	plain, err := s.codec.Decrypt(sealed)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, v)
}

func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set session file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
