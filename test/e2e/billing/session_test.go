package billing_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/billing/internal/backendtest"
	"github.com/aussiebroadwan/billing/pkg/billingsdk"
)

// TestSessionAcrossProcesses logs in with one process and uses the session
// from later ones, for each durable store.
func TestSessionAcrossProcesses(t *testing.T) {
	for _, store := range []string{"sqlite", "redis"} {
		t.Run(store, func(t *testing.T) {
			e := newEnv(t, store)
			if store == "redis" {
				e.vars["BILLING_REDIS_ADDR"] = setupRedisContainer(t)
			}

			out := e.run("token")
			require.Equal(t, 5, out.exitCode)
			require.Contains(t, out.stderr, "session expired, please log in again")

			e.login()

			out = e.run("whoami", "-o", "json")
			require.Zero(t, out.exitCode, out.stderr)
			require.Contains(t, out.stdout, backendtest.Email)

			out = e.run("invoices", "list")
			require.Zero(t, out.exitCode, out.stderr)
			require.Contains(t, out.stdout, "1001")

			out = e.run("logout")
			require.Zero(t, out.exitCode, out.stderr)
			require.EqualValues(t, 1, e.backend.Count(billingsdk.PathLogout))

			out = e.run("status")
			require.Contains(t, out.stdout, "Not logged in")
		})
	}
}

// TestRevokedSessionEndsEverywhere revokes tokens server-side; the next
// authenticated command refreshes, fails and clears the stored session.
func TestRevokedSessionEndsEverywhere(t *testing.T) {
	e := newEnv(t, "sqlite")
	e.login()

	e.backend.RevokeAccessTokens()
	e.backend.RevokeRefreshTokens()

	out := e.run("plans")
	require.NotZero(t, out.exitCode)

	out = e.run("status", "-o", "json")
	require.Zero(t, out.exitCode, out.stderr)
	require.Contains(t, out.stdout, `"loggedIn": false`)
}

// TestConcurrentProcesses runs several commands at once against one store.
func TestConcurrentProcesses(t *testing.T) {
	e := newEnv(t, "sqlite")
	e.login()

	var wg sync.WaitGroup
	codes := make([]int, 6)
	for i := range codes {
		wg.Go(func() {
			codes[i] = e.run("plans").exitCode
		})
	}
	wg.Wait()

	for _, c := range codes {
		require.Zero(t, c)
	}
}

// TestSealedStore checks tokens are encrypted at rest when a key is set.
func TestSealedStore(t *testing.T) {
	e := newEnv(t, "sqlite")
	keyFile := filepath.Join(t.TempDir(), "master.key")

	out := e.run("keygen", keyFile)
	require.Zero(t, out.exitCode, out.stderr)
	e.vars["BILLING_MASTER_KEY_PATH"] = keyFile

	e.login()
	out = e.run("token")
	require.Zero(t, out.exitCode, out.stderr)
	token := strings.TrimSpace(out.stdout)

	raw, err := os.ReadFile(e.vars["BILLING_DATABASE_FILE"])
	require.NoError(t, err)
	require.NotContains(t, string(raw), token)

	e.vars["BILLING_MASTER_KEY_PATH"] = filepath.Join(t.TempDir(), "missing.key")
	out = e.run("token")
	require.NotZero(t, out.exitCode, "a configured but missing key file is an error")
}
