package billingsdk

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/billing/internal/backendtest"
	"github.com/aussiebroadwan/billing/pkg/cryptox"
)

func TestMemoryChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ch := NewMemoryChannel("mem")

	_, ok, err := ch.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, ch.Set(ctx, "b", "2"))
	require.NoError(t, ch.Set(ctx, "a", "1"))
	v, ok, err := ch.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)
	require.Equal(t, []string{"a", "b"}, ch.Keys())

	require.NoError(t, ch.Delete(ctx, "a"))
	require.NoError(t, ch.Delete(ctx, "a"))
	require.Equal(t, 1, ch.Len())
}

func TestCookieChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rejects a base url without host", func(t *testing.T) {
		_, err := NewCookieChannel("/relative", nil)
		require.Error(t, err)
	})

	t.Run("jar carries cookies for the origin", func(t *testing.T) {
		backing := NewMemoryChannel("mem")
		ch, err := NewCookieChannel("http://billing.example.com/api", backing)
		require.NoError(t, err)

		require.NoError(t, ch.Set(ctx, CookieJWT, "abc"))

		u, _ := url.Parse("http://billing.example.com/invoices")
		cookies := ch.Jar().Cookies(u)
		require.Len(t, cookies, 1)
		require.Equal(t, "abc", cookies[0].Value)

		other, _ := url.Parse("http://elsewhere.example.com/")
		require.Empty(t, ch.Jar().Cookies(other))

		v, ok, err := backing.Get(ctx, "cookie:"+CookieJWT)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "abc", v)
	})

	t.Run("restores from backing after restart", func(t *testing.T) {
		backing := NewMemoryChannel("mem")
		first, err := NewCookieChannel("http://127.0.0.1:8080", backing)
		require.NoError(t, err)
		require.NoError(t, first.Set(ctx, KeyCustomerID, "42"))

		second, err := NewCookieChannel("http://127.0.0.1:8080", backing)
		require.NoError(t, err)
		v, ok, err := second.Get(ctx, KeyCustomerID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "42", v)

		u, _ := url.Parse("http://127.0.0.1:8080/")
		require.Len(t, second.Jar().Cookies(u), 1)
	})

	t.Run("delete expires the cookie", func(t *testing.T) {
		ch, err := NewCookieChannel("http://127.0.0.1:8080", nil)
		require.NoError(t, err)
		require.NoError(t, ch.Set(ctx, CookieJWT, "abc"))
		require.NoError(t, ch.Delete(ctx, CookieJWT))

		_, ok, err := ch.Get(ctx, CookieJWT)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestSealedChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sealer, err := cryptox.NewSealer([]byte("test-master-key"))
	require.NoError(t, err)

	inner := NewMemoryChannel("mem")
	ch := NewSealedChannel(inner, sealer)

	require.NoError(t, ch.Set(ctx, KeyAccessToken, "secret-token"))
	require.NoError(t, ch.Set(ctx, KeyCustomerID, "42"))

	raw, _, _ := inner.Get(ctx, KeyAccessToken)
	require.NotEqual(t, "secret-token", raw)
	raw, _, _ = inner.Get(ctx, KeyCustomerID)
	require.Equal(t, "42", raw, "non-sensitive keys pass through")

	v, ok, err := ch.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "secret-token", v)

	t.Run("sealed value is bound to its key", func(t *testing.T) {
		sealed, _, _ := inner.Get(ctx, KeyAccessToken)
		require.NoError(t, inner.Set(ctx, KeyRefreshToken, sealed))

		_, ok, err := ch.Get(ctx, KeyRefreshToken)
		require.Error(t, err)
		require.False(t, ok)
	})

	t.Run("session restores through a sealed store", func(t *testing.T) {
		store := NewSealedChannel(NewMemoryChannel("mem"), sealer)
		backend := backendtest.New(t).URL
		first := newTestSession(t, backend, store)
		snap := login(t, first)

		second := newTestSession(t, backend, store)
		token, ok := second.Token(ctx)
		require.True(t, ok)
		require.Equal(t, snap.AccessToken, token)
	})
}
