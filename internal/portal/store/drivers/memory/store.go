// Package memory is a process-local store. Sessions kept here end with the
// process; it serves tests and one-shot commands run with --store memory.
package memory

import (
	"context"

	"github.com/aussiebroadwan/billing/internal/portal/store"
	"github.com/aussiebroadwan/billing/pkg/billingsdk"
)

type Store struct {
	*billingsdk.MemoryChannel
	profile string
}

var _ store.Store = (*Store)(nil)

func NewStore(profile string) (*Store, error) {
	if err := store.ValidateProfile(profile); err != nil {
		return nil, err
	}
	return &Store{
		MemoryChannel: billingsdk.NewMemoryChannel("memory:" + profile),
		profile:       profile,
	}, nil
}

func (s *Store) Keys(context.Context) ([]string, error) {
	return s.MemoryChannel.Keys(), nil
}

func (s *Store) Clear(ctx context.Context) error {
	for _, k := range s.MemoryChannel.Keys() {
		if err := s.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Profiles(context.Context) ([]string, error) {
	if s.Len() == 0 {
		return nil, nil
	}
	return []string{s.profile}, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
