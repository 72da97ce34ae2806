// Package secretbox seals client secrets and OAuth tokens before they are
// written to storage.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const prefix = "xc1:"

// ErrMalformed is returned when a sealed value cannot be decoded or authenticated.
var ErrMalformed = errors.New("secretbox: malformed sealed value")

// Sealer encrypts values bound to an owner (the tenant id).
type Sealer interface {
	Seal(owner, plaintext string) (string, error)
	Open(owner, sealed string) (string, error)
}

// Box seals with XChaCha20-Poly1305 using the owner as additional data, so a
// value copied onto another tenant's row fails to open.
type Box struct {
	key []byte
}

var _ Sealer = (*Box)(nil)

// New builds a Box from a 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secretbox: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Box{key: k}, nil
}

// NewFromBase64 decodes a standard base64 key.
func NewFromBase64(encoded string) (*Box, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("secretbox: decode key: %w", err)
	}
	return New(raw)
}

func (b *Box) Seal(owner, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), []byte(owner))
	return prefix + base64.RawStdEncoding.EncodeToString(out), nil
}

func (b *Box) Open(owner, sealed string) (string, error) {
	if !strings.HasPrefix(sealed, prefix) {
		return "", ErrMalformed
	}
	raw, err := base64.RawStdEncoding.DecodeString(sealed[len(prefix):])
	if err != nil {
		return "", ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrMalformed
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, []byte(owner))
	if err != nil {
		return "", ErrMalformed
	}
	return string(pt), nil
}

// Plain stores values as-is. Used when no sealing key is configured.
type Plain struct{}

var _ Sealer = Plain{}

func (Plain) Seal(_, plaintext string) (string, error) { return plaintext, nil }
func (Plain) Open(_, sealed string) (string, error) { return sealed, nil }
