package billing_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/billing/internal/backendtest"
)

/*
 * End-to-end tests drive the compiled billing binary as separate processes,
 * so session state only survives through the configured store.
 */

var binaryPath string

// TestMain builds the CLI once before all tests and removes it afterwards.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "billing-e2e")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	binaryPath = filepath.Join(dir, "billing")

	fmt.Fprintf(os.Stdout, "Building billing CLI...")
	cmd := exec.Command("go", "build", "-o", binaryPath, "../../../cmd/billing")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build CLI: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	_ = os.RemoveAll(dir)
	os.Exit(exitCode)
}

// setupRedisContainer starts Redis and returns its address.
func setupRedisContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

// env is the process environment shared by one test's invocations.
type env struct {
	t       *testing.T
	backend *backendtest.Backend
	vars    map[string]string
}

func newEnv(t *testing.T, store string) *env {
	t.Helper()
	backend := backendtest.New(t)
	dir := t.TempDir()
	return &env{
		t:       t,
		backend: backend,
		vars: map[string]string{
			"BILLING_API_URL":       backend.URL,
			"BILLING_STORE":         store,
			"BILLING_DATABASE_FILE": filepath.Join(dir, "billing.db"),
			"BILLING_CONFIG":        "",
			"BILLING_MASTER_KEY":    "",
			"LOG_LEVEL":             "error",
			"HOME":                  dir,
		},
	}
}

type output struct {
	stdout   string
	stderr   string
	exitCode int
}

// run executes the binary and waits for it.
func (e *env) run(args ...string) output {
	e.t.Helper()
	return e.runStdin("", args...)
}

func (e *env) runStdin(stdin string, args ...string) output {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(e.t.Context(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binaryPath, append([]string{"--no-color"}, args...)...)
	cmd.Dir = e.t.TempDir()
	cmd.Env = os.Environ()
	for k, v := range e.vars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := output{stdout: stdout.String(), stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		out.exitCode = exitErr.ExitCode()
	} else {
		require.NoError(e.t, err)
	}
	return out
}

func (e *env) login() {
	e.t.Helper()
	out := e.run("login", "-u", backendtest.Username, "--password", backendtest.Password)
	require.Zero(e.t, out.exitCode, out.stderr)
}
