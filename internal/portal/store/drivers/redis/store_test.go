package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/billing/internal/portal/store"
	"github.com/aussiebroadwan/billing/pkg/billingsdk"
)

// setupRedisContainer starts a throwaway Redis and returns its address.
func setupRedisContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, mappedPort.Port())
}

func TestStore(t *testing.T) {
	addr := setupRedisContainer(t)
	ctx := context.Background()

	s, err := NewStore(ctx, Options{Addr: addr, Profile: "ada", TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	t.Run("crud", func(t *testing.T) {
		_, ok, err := s.Get(ctx, billingsdk.KeyAccessToken)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, s.Set(ctx, billingsdk.KeyAccessToken, "tok"))
		require.NoError(t, s.Set(ctx, billingsdk.KeyCustomerID, "42"))

		v, ok, err := s.Get(ctx, billingsdk.KeyAccessToken)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "tok", v)

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{billingsdk.KeyAccessToken, billingsdk.KeyCustomerID}, keys)

		ttl, err := s.TTL(ctx)
		require.NoError(t, err)
		require.Greater(t, ttl, 59*time.Minute)

		require.NoError(t, s.Delete(ctx, billingsdk.KeyAccessToken))
		_, ok, err = s.Get(ctx, billingsdk.KeyAccessToken)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("profiles", func(t *testing.T) {
		other, err := NewStoreWithClient(s.client, "grace", -1)
		require.NoError(t, err)
		require.NoError(t, other.Set(ctx, billingsdk.KeyCustomerID, "7"))

		profiles, err := s.Profiles(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"ada", "grace"}, profiles)

		ttl, err := other.TTL(ctx)
		require.NoError(t, err)
		require.Negative(t, ttl)

		require.NoError(t, other.Clear(ctx))
		require.NoError(t, other.Close())
		require.NoError(t, s.Ping(ctx), "closing a borrowed client leaves it open")
	})

	t.Run("backs a session", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx))
		session, err := billingsdk.NewSession(ctx, billingsdk.SessionOptions{
			Client: billingsdk.NewSDKClient("http://127.0.0.1:1", nil),
			Store:  s,
		})
		require.NoError(t, err)

		session.SetCustomerID(ctx, "42")
		v, ok, err := s.Get(ctx, billingsdk.KeyCustomerID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "42", v)
	})
}

func TestNewStoreRejectsBadProfile(t *testing.T) {
	t.Parallel()
	_, err := NewStoreWithClient(nil, "", 0)
	require.ErrorIs(t, err, store.ErrInvalidProfile)
}
