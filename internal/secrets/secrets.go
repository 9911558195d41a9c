package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

const sealedPrefix = "v1:"

var (
	newGCM     = cipher.NewGCM
	randReader = rand.Reader

	ErrInvalidSecret = errors.New("invalid encrypted secret")
	errKeyFormat     = errors.New("CREDENTIALS_SECRETS_KEY must be 32 bytes, or 32 bytes encoded as base64 or hex")
)

// ParseKey accepts a raw 32-byte key or its base64 or hex encoding.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("CREDENTIALS_SECRETS_KEY is required")
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	if len(raw) == 64 {
		if decoded, err := hex.DecodeString(raw); err == nil {
			return decoded, nil
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return nil, errKeyFormat
	}
	return decoded, nil
}

// Sealer encrypts credential bundles with AES-256-GCM. The associated data
// binds each ciphertext to its owner so rows cannot be swapped between users.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := newGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(plaintext []byte, associated string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, []byte(associated))
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(encoded string, associated string) ([]byte, error) {
	if !strings.HasPrefix(encoded, sealedPrefix) {
		return nil, ErrInvalidSecret
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, sealedPrefix))
	if err != nil {
		return nil, ErrInvalidSecret
	}
	if len(data) < s.aead.NonceSize() {
		return nil, ErrInvalidSecret
	}
	nonce := data[:s.aead.NonceSize()]
	plain, err := s.aead.Open(nil, nonce, data[s.aead.NonceSize():], []byte(associated))
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return plain, nil
}
