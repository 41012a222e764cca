package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/billing/internal/backendtest"
	"github.com/aussiebroadwan/billing/internal/portal/app"
	"github.com/aussiebroadwan/billing/pkg/billingsdk"
)

// harness runs CLI invocations against one backend and one session file.
type harness struct {
	t       *testing.T
	backend *backendtest.Backend
	config  string
	logs    bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, backend: backendtest.New(t)}

	dir := t.TempDir()
	h.config = filepath.Join(dir, "billing.yaml")
	body := fmt.Sprintf("api_url: %s\nstore: sqlite\ndatabase_file: %s\nlog_level: debug\n",
		h.backend.URL, filepath.Join(dir, "billing.db"))
	require.NoError(t, os.WriteFile(h.config, []byte(body), 0o600))
	return h
}

type result struct {
	stdout string
	stderr string
	err    error
}

func (h *harness) runWith(stdin string, extra []Option, args ...string) result {
	h.t.Helper()
	var stdout, stderr bytes.Buffer

	opts := []Option{
		WithInput(strings.NewReader(stdin)),
		WithInteractive(false),
		WithAppOptions(app.WithLogOutput(&h.logs)),
	}
	c := New(append(opts, extra...)...)
	root := c.Command()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", h.config, "--no-color"}, args...))

	err := c.ExecuteContext(context.Background())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func (h *harness) run(args ...string) result {
	h.t.Helper()
	return h.runWith("", nil, args...)
}

func (h *harness) login() {
	h.t.Helper()
	res := h.run("login", "-u", backendtest.Username, "--password", backendtest.Password)
	require.NoError(h.t, res.err)
}

func TestLoginLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.run("status")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Not logged in")

	res = h.run("login", "-u", backendtest.Username, "--password", backendtest.Password)
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Logged in as Ada Lovelace")
	require.Contains(t, res.stdout, backendtest.CustomerID)

	res = h.run("status")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Logged in")
	require.Contains(t, res.stdout, "Refreshable: yes")

	res = h.run("whoami")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, backendtest.Email)

	res = h.run("token")
	require.NoError(t, res.err)
	require.Len(t, strings.Split(strings.TrimSpace(res.stdout), "."), 3)

	res = h.run("logout")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Logged out")
	require.Equal(t, int64(1), h.backend.Count(billingsdk.PathLogout))

	res = h.run("token")
	require.ErrorIs(t, res.err, ErrLoginRequired)
	require.Equal(t, ExitAuth, ExitCode(res.err))
	require.Contains(t, h.logs.String(), "auth state changed")
}

func TestLoginInput(t *testing.T) {
	t.Parallel()

	t.Run("password from stdin", func(t *testing.T) {
		h := newHarness(t)
		res := h.runWith(backendtest.Password+"\n", nil, "login", "-u", backendtest.Username, "--password-stdin")
		require.NoError(t, res.err)
	})

	t.Run("missing password without a terminal", func(t *testing.T) {
		h := newHarness(t)
		res := h.run("login", "-u", backendtest.Username)
		require.ErrorContains(t, res.err, `required flag "password" not set`)
		require.Equal(t, ExitUsage, ExitCode(res.err))
	})

	t.Run("bad credentials", func(t *testing.T) {
		h := newHarness(t)
		res := h.run("login", "-u", backendtest.Username, "--password", "wrong")
		require.ErrorIs(t, res.err, billingsdk.ErrUnauthorized)
		require.Equal(t, ExitAuth, ExitCode(res.err))
	})

	t.Run("backend down", func(t *testing.T) {
		h := newHarness(t)
		h.backend.Close()
		res := h.run("login", "-u", backendtest.Username, "--password", backendtest.Password)
		require.ErrorIs(t, res.err, billingsdk.ErrUnreachable)
		require.Equal(t, ExitNetwork, ExitCode(res.err))
	})
}

func TestRouteGuardRefreshes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.login()

	later := WithAppOptions(app.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) }))
	res := h.runWith("", []Option{later}, "plans")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Basic")
	require.Equal(t, int64(1), h.backend.Count(billingsdk.PathRefresh))

	h.backend.RevokeRefreshTokens()
	muchLater := WithAppOptions(app.WithClock(func() time.Time { return time.Now().Add(4 * time.Hour) }))
	res = h.runWith("", []Option{muchLater}, "plans")
	require.ErrorIs(t, res.err, ErrLoginRequired)
	require.EqualError(t, res.err, "session expired, please log in again")

	res = h.run("status")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Not logged in")
}

func TestBillingCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.login()

	t.Run("plans as json", func(t *testing.T) {
		res := h.run("plans", "-o", "json")
		require.NoError(t, res.err)
		var plans []billingsdk.Plan
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &plans))
		require.Len(t, plans, 2)
	})

	t.Run("single plan", func(t *testing.T) {
		res := h.run("plans", "2")
		require.NoError(t, res.err)
		require.Contains(t, res.stdout, "Pro")
		require.Contains(t, res.stdout, "$29.99")
	})

	t.Run("bad id", func(t *testing.T) {
		res := h.run("plans", "two")
		require.ErrorContains(t, res.err, `invalid plan id "two"`)
		require.Equal(t, ExitUsage, ExitCode(res.err))
	})

	t.Run("active subscription", func(t *testing.T) {
		res := h.run("subscription", "active")
		require.NoError(t, res.err)
		require.Contains(t, res.stdout, "Pro")
	})

	t.Run("subscribe", func(t *testing.T) {
		res := h.run("sub", "subscribe", "1", "--discount", "WELCOME10")
		require.NoError(t, res.err)
		require.Contains(t, res.stdout, "Subscribed")
		require.Contains(t, res.stdout, "WELCOME10")
	})

	t.Run("invoices", func(t *testing.T) {
		res := h.run("invoices")
		require.NoError(t, res.err)
		require.Contains(t, res.stdout, "1001")
		require.Contains(t, res.stdout, "PENDING")

		res = h.run("invoices", "mark-paid", "1001")
		require.NoError(t, res.err)
		require.Equal(t, "PAID", h.backend.InvoiceStatus("1001"))
	})

	t.Run("notifications", func(t *testing.T) {
		res := h.run("notifications", "--unread", "-o", "json")
		require.NoError(t, res.err)
		var notes []billingsdk.Notification
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &notes))
		for _, n := range notes {
			require.False(t, n.Read())
		}

		res = h.run("notifications", "read", "1")
		require.NoError(t, res.err)
		require.Contains(t, res.stdout, "Notification 1 marked read")
	})

	t.Run("usage", func(t *testing.T) {
		res := h.run("usage")
		require.NoError(t, res.err)
		require.Contains(t, res.stdout, "api calls")
	})

	t.Run("unknown format", func(t *testing.T) {
		res := h.run("plans", "-o", "xml")
		require.Equal(t, ExitUsage, ExitCode(res.err))
	})
}

func TestInjectToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	token := h.backend.MintToken(backendtest.Username, 10*time.Minute)
	res := h.runWith(token+"\n", nil, "inject-token")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Token installed")

	res = h.run("token")
	require.NoError(t, res.err)
	require.Equal(t, token, strings.TrimSpace(res.stdout))

	res = h.run("inject-token", "not-a-jwt")
	require.Error(t, res.err)
}

func TestRoleGate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	token := h.backend.Sign(jwt.MapClaims{
		"sub":          "99",
		"exp":          time.Now().Add(10 * time.Minute).Unix(),
		"realm_access": map[string]any{"roles": []string{"AUDITOR"}},
	})
	require.NoError(t, h.run("inject-token", token).err)

	res := h.run("usage")
	require.ErrorIs(t, res.err, ErrForbidden)
	require.Equal(t, ExitAuth, ExitCode(res.err))

	res = h.run("debug")
	require.NoError(t, res.err, "debug requires no role")
}

func TestDebugAndProfiles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.login()

	res := h.run("debug", "--metrics", "-o", "json")
	require.NoError(t, res.err)
	var out struct {
		Session billingsdk.DebugInfo `json:"session"`
		Profile string               `json:"profile"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.True(t, out.Session.LoggedIn)
	require.Equal(t, "default", out.Profile)
	require.NotContains(t, res.stdout, "eyJ", "tokens are fingerprinted")

	res = h.run("--profile", "work", "status")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Not logged in")

	res = h.run("profiles")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "* default")

	res = h.run("--profile", "work", "profiles", "prune", "--older-than", "0s")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Pruned 1 profile(s)")
}

func TestKeygen(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "master.key")

	res := h.run("keygen", path)
	require.NoError(t, res.err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	res = h.run("keygen", path)
	require.Error(t, res.err)

	res = h.run("keygen", path, "--force")
	require.NoError(t, res.err)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.run("health")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "Backend available")

	h.backend.Disable(billingsdk.PathHealth, 503)
	res = h.run("health")
	require.Equal(t, ExitNetwork, ExitCode(res.err))
	require.Contains(t, res.stdout, "Backend unavailable")
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"cancelled", fmt.Errorf("wrapped: %w", context.Canceled), ExitInterrupted},
		{"login required", ErrLoginRequired, ExitAuth},
		{"session expired", &billingsdk.AuthError{Kind: billingsdk.KindSessionExpired}, ExitAuth},
		{"unreachable", &billingsdk.AuthError{Kind: billingsdk.KindUnreachable}, ExitNetwork},
		{"forbidden status", &billingsdk.APIError{StatusCode: 403}, ExitAuth},
		{"server error", &billingsdk.APIError{StatusCode: 500}, ExitError},
		{"unknown command", fmt.Errorf(`unknown command "x" for "billing"`), ExitUsage},
		{"plain", fmt.Errorf("boom"), ExitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
