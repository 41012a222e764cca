package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MasterKeyEnv names the environment variable consulted when no key file is
// configured.
const MasterKeyEnv = "BILLING_MASTER_KEY"

const sealInfo = "billing-session-channel-v1"

var (
	ErrNoMasterKey  = errors.New("cryptox: no master key configured")
	ErrCiphertext   = errors.New("cryptox: ciphertext too short")
	ErrDecryptFails = errors.New("cryptox: decryption failed")
)

// Sealer encrypts values persisted by the session store using
// XChaCha20-Poly1305 with a key derived from the master key via HKDF.
type Sealer struct {
	aead interface {
		NonceSize() int
		Overhead() int
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewSealer derives an encryption key from arbitrary key material.
func NewSealer(keyMaterial []byte) (*Sealer, error) {
	if len(keyMaterial) == 0 {
		return nil, ErrNoMasterKey
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, keyMaterial, nil, []byte(sealInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// LoadSealer reads key material from path when set, otherwise from the
// BILLING_MASTER_KEY environment variable. With neither available it
// returns ErrNoMasterKey; callers decide whether to run unsealed.
func LoadSealer(path string) (*Sealer, error) {
	var material []byte

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}
		material = []byte(strings.TrimSpace(string(data)))
	} else if env := os.Getenv(MasterKeyEnv); env != "" {
		material = []byte(env)
	}

	return NewSealer(material)
}

// Seal encrypts plaintext bound to aad.
// Output format: [24-byte nonce][ciphertext][16-byte tag]
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal. The aad must match the value used when sealing.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, ErrCiphertext
	}

	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], aad)
	if err != nil {
		return nil, ErrDecryptFails
	}
	return plaintext, nil
}

// SealString is Seal with base64url text output, suitable for string stores.
func (s *Sealer) SealString(plaintext, aad string) (string, error) {
	out, err := s.Seal([]byte(plaintext), []byte(aad))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// OpenString reverses SealString.
func (s *Sealer) OpenString(sealed, aad string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFails, err)
	}
	out, err := s.Open(raw, []byte(aad))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
