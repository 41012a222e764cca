package billingsdk

import (
	"context"
	"fmt"
)

// Cipher seals values at rest. *cryptox.Sealer satisfies it.
type Cipher interface {
	SealString(plaintext, aad string) (string, error)
	OpenString(sealed, aad string) (string, error)
}

// SealedChannel encrypts the token-bearing keys before they reach the inner
// channel. The key name is bound as additional data so a sealed refresh
// token cannot be replayed as an access token.
type SealedChannel struct {
	inner  Channel
	cipher Cipher
	keys   map[string]bool
}

// sensitiveKeys are sealed by default.
var sensitiveKeys = []string{
	KeyAccessToken,
	KeyRefreshToken,
	cookiePrefix + KeyAccessToken,
	cookiePrefix + KeyRefreshToken,
	cookiePrefix + CookieJWT,
	cookiePrefix + CookieAuthorization,
}

// NewSealedChannel wraps inner. With no keys given the token keys are
// sealed and everything else passes through.
func NewSealedChannel(inner Channel, cipher Cipher, keys ...string) *SealedChannel {
	if len(keys) == 0 {
		keys = sensitiveKeys
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return &SealedChannel{inner: inner, cipher: cipher, keys: set}
}

func (s *SealedChannel) Name() string { return "sealed(" + s.inner.Name() + ")" }

func (s *SealedChannel) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok || !s.keys[key] {
		return v, ok, err
	}

	plain, err := s.cipher.OpenString(v, key)
	if err != nil {
		return "", false, fmt.Errorf("open %s: %w", key, err)
	}
	return plain, true, nil
}

func (s *SealedChannel) Set(ctx context.Context, key, value string) error {
	if !s.keys[key] {
		return s.inner.Set(ctx, key, value)
	}

	sealed, err := s.cipher.SealString(value, key)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *SealedChannel) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
