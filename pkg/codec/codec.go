package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// FormatVersion changes whenever the encrypted layout changes.
const FormatVersion = "v1"

const (
	keySize   = 32
	checkSize = 6
)

var (
	ErrEmptyKey           = errors.New("key source returned no key material")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Codec is safe for concurrent use.
type Codec struct {
	aead  cipher.AEAD
	check string
}

func NewCodec(src KeySource) (*Codec, error) {
	secret, err := src.Key()
	if err != nil {
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	if len(secret) == 0 {
		return nil, ErrEmptyKey
	}
	key, err := derive(secret, "oidc-session "+FormatVersion+" encryption", keySize)
	if err != nil {
		return nil, err
	}
	fingerprint, err := derive(secret, "oidc-session "+FormatVersion+" check", checkSize)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{
		aead:  aead,
		check: FormatVersion + "." + base64.RawURLEncoding.EncodeToString(fingerprint),
	}, nil
}

func derive(secret []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return out, nil
}

// Encrypt seals data with a fresh random nonce prepended to the result.
func (c *Codec) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, data, nil), nil
}

func (c *Codec) Decrypt(data []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(data) < n+c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plain, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plain, nil
}

// CheckString fingerprints the key and format version. Files written under a
// different check string cannot be decrypted by this codec.
func (c *Codec) CheckString() string {
	return c.check
}
