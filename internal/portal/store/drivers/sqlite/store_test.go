package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/billing/internal/portal/store"
	"github.com/aussiebroadwan/billing/pkg/billingsdk"
)

func newTestStore(t *testing.T, profile string) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "session.db"), profile)
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, store.DefaultProfile)

	_, ok, err := s.Get(ctx, billingsdk.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, billingsdk.KeyAccessToken, "a"))
	require.NoError(t, s.Set(ctx, billingsdk.KeyAccessToken, "b"))
	require.NoError(t, s.Set(ctx, billingsdk.KeyCustomerID, "42"))

	v, ok, err := s.Get(ctx, billingsdk.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", v)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{billingsdk.KeyAccessToken, billingsdk.KeyCustomerID}, keys)

	require.NoError(t, s.Delete(ctx, billingsdk.KeyAccessToken))
	require.NoError(t, s.Delete(ctx, billingsdk.KeyAccessToken))
	_, ok, err = s.Get(ctx, billingsdk.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Clear(ctx))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestStoreProfilesAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ada := newTestStore(t, "ada")
	grace, err := ada.WithProfile("grace")
	require.NoError(t, err)

	require.NoError(t, ada.Set(ctx, billingsdk.KeyCustomerID, "1"))
	require.NoError(t, grace.Set(ctx, billingsdk.KeyCustomerID, "2"))

	v, _, err := ada.Get(ctx, billingsdk.KeyCustomerID)
	require.NoError(t, err)
	require.Equal(t, "1", v)

	require.NoError(t, grace.Clear(ctx))
	_, ok, err := ada.Get(ctx, billingsdk.KeyCustomerID)
	require.NoError(t, err)
	require.True(t, ok)

	profiles, err := ada.Profiles(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"ada"}, profiles)

	_, err = ada.WithProfile("../etc")
	require.ErrorIs(t, err, store.ErrInvalidProfile)
}

func TestStorePrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	active := newTestStore(t, "active")
	stale, err := active.WithProfile("stale")
	require.NoError(t, err)

	require.NoError(t, active.Set(ctx, "k", "v"))
	require.NoError(t, stale.Set(ctx, "k", "v"))

	n, err := active.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = active.Prune(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	profiles, err := active.Profiles(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"active"}, profiles)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, store.DefaultProfile)
	require.NoError(t, s.ApplyMigrations())

	version, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	require.False(t, dirty)
	require.EqualValues(t, 2, version)
}

func TestSessionPersistsAcrossStores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	first, err := NewStore(path, store.DefaultProfile)
	require.NoError(t, err)
	require.NoError(t, first.ApplyMigrations())
	require.NoError(t, first.Set(ctx, billingsdk.KeySessionID, "sess-1"))
	require.NoError(t, first.Close())

	second, err := NewStore(path, store.DefaultProfile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	v, ok, err := second.Get(ctx, billingsdk.KeySessionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sess-1", v)
}
