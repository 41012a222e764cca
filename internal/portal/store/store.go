package store

import (
	"context"
	"errors"
	"strings"

	"github.com/aussiebroadwan/billing/pkg/billingsdk"
)

var ErrInvalidProfile = errors.New("store: invalid profile name")

// DefaultProfile is used when no profile is configured.
const DefaultProfile = "default"

// Store is a durable key-value channel scoped to one profile, so several
// accounts can keep independent sessions in the same database. Concrete
// drivers (sqlite, redis) implement it.
type Store interface {
	billingsdk.Channel

	// Keys lists the keys held for the profile, sorted.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes every key of the profile.
	Clear(ctx context.Context) error

	// Profiles lists every profile that holds at least one key.
	Profiles(ctx context.Context) ([]string, error)

	// Ping verifies the backing connection is still alive.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// ValidateProfile rejects names that cannot be used as key prefixes.
func ValidateProfile(name string) error {
	if name == "" || len(name) > 64 {
		return ErrInvalidProfile
	}
	if strings.ContainsFunc(name, func(r rune) bool {
		return !(r == '-' || r == '_' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) {
		return ErrInvalidProfile
	}
	return nil
}
