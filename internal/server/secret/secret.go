// Package secret seals authentication tokens at rest and renders the masked
// form returned by every read path.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ErrKeyMissing is returned when no master key was configured.
var ErrKeyMissing = errors.New("secret: FEATHER_AUTH_KEY is not set")

const (
	saltSize = 16
	keySize  = 32
	info     = "feather-auth-token-v1"
)

// Sealer encrypts tokens with AES-256-GCM. Each record gets its own key,
// derived from the master key and a random salt.
type Sealer struct {
	master []byte
}

// NewSealer returns a Sealer for master. An empty master yields ErrKeyMissing.
func NewSealer(master string) (*Sealer, error) {
	master = strings.TrimSpace(master)
	if master == "" {
		return nil, ErrKeyMissing
	}
	return &Sealer{master: []byte(master)}, nil
}

// Seal encrypts plain and returns the base64 ciphertext (nonce prefixed) and
// the base64 salt used to derive the record key.
func (s *Sealer) Seal(plain string) (sealed, salt string, err error) {
	if s == nil {
		return "", "", ErrKeyMissing
	}
	rawSalt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, rawSalt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	aead, err := s.aead(rawSalt)
	if err != nil {
		return "", "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plain), rawSalt)
	return base64.StdEncoding.EncodeToString(out), base64.StdEncoding.EncodeToString(rawSalt), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, salt string) (string, error) {
	if s == nil {
		return "", ErrKeyMissing
	}
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	aead, err := s.aead(rawSalt)
	if err != nil {
		return "", err
	}
	if len(data) < aead.NonceSize() {
		return "", errors.New("secret: sealed token too short")
	}
	nonce, body := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, rawSalt)
	if err != nil {
		return "", fmt.Errorf("open token: %w", err)
	}
	return string(plain), nil
}

func (s *Sealer) aead(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.master, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Mask hides all but the last four characters of tokens long enough for the
// suffix to be safe to show.
func Mask(token string) string {
	const minVisible = 12
	if len(token) < minVisible {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
