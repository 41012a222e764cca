// Package cli is the billing command line. Commands share one lazily built
// application so that read-only commands like help never open the store.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/billing/internal/portal/app"
	"github.com/aussiebroadwan/billing/pkg/idx"
	"github.com/aussiebroadwan/billing/pkg/slogx"
)

// ErrLoginRequired is returned by commands that need a session when none can
// be restored or refreshed.
var ErrLoginRequired = errors.New("session expired, please log in again")

// Option adjusts a CLI before it runs.
type Option func(*CLI)

// WithAppOptions forwards options to app.New.
func WithAppOptions(opts ...app.Option) Option {
	return func(c *CLI) { c.appOpts = append(c.appOpts, opts...) }
}

// WithInput replaces stdin for prompts.
func WithInput(r io.Reader) Option {
	return func(c *CLI) { c.in = r }
}

// WithInteractive forces prompts on or off.
func WithInteractive(v bool) Option {
	return func(c *CLI) { c.interactive = &v }
}

// CLI owns the command tree and the application it builds on first use.
type CLI struct {
	root *cobra.Command

	configFile string
	profile    string
	storeName  string
	apiURL     string
	format     string
	logLevel   string
	noColor    bool

	in          io.Reader
	interactive *bool
	appOpts     []app.Option

	app *app.Application
}

// New builds the command tree.
func New(opts ...Option) *CLI {
	c := &CLI{in: os.Stdin}
	for _, opt := range opts {
		opt(c)
	}

	c.root = &cobra.Command{
		Use:   "billing",
		Short: "Billing portal client",
		Long: `billing signs in to the billing backend and keeps the session on disk,
so later commands reuse it and refresh the access token when it expires.

Configuration comes from billing.yaml (or --config / BILLING_CONFIG), then
BILLING_* environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := slogx.WithRequestID(cmd.Context(), idx.New().String())
			cmd.SetContext(ctx)
			return nil
		},
	}

	pf := c.root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "config file (default billing.yaml)")
	pf.StringVarP(&c.profile, "profile", "p", "", "session profile")
	pf.StringVar(&c.storeName, "store", "", "session store: sqlite, redis or memory")
	pf.StringVar(&c.apiURL, "api-url", "", "billing backend base URL")
	pf.StringVarP(&c.format, "format", "o", "text", "output format: text or json")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&c.noColor, "no-color", false, "disable colored output")

	c.addAuthCommands()
	c.addBillingCommands()
	c.addAdminCommands()

	return c
}

// Command returns the root command.
func (c *CLI) Command() *cobra.Command { return c.root }

// ExecuteContext runs the CLI with os.Args and releases the application.
func (c *CLI) ExecuteContext(ctx context.Context) error {
	defer c.Close()
	return c.root.ExecuteContext(ctx)
}

// Close releases the application if one was built.
func (c *CLI) Close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

// ExecuteContext builds a CLI and runs it.
func ExecuteContext(ctx context.Context, opts ...Option) error {
	return New(opts...).ExecuteContext(ctx)
}

// application loads the configuration, applies flag overrides and builds
// the application once.
func (c *CLI) application(cmd *cobra.Command) (*app.Application, error) {
	if c.app != nil {
		return c.app, nil
	}

	cfg, err := app.LoadConfig(c.configFile)
	if err != nil {
		return nil, err
	}
	if c.profile != "" {
		cfg.Profile = c.profile
	}
	if c.storeName != "" {
		cfg.Store = c.storeName
	}
	if c.apiURL != "" {
		cfg.APIURL = c.apiURL
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a, err := app.New(cmd.Context(), cfg, c.appOpts...)
	if err != nil {
		return nil, err
	}
	ctx := slogx.WithContext(cmd.Context(), a.Logger())
	if reqID, ok := slogx.RequestID(ctx); ok {
		ctx = slogx.WithRequestID(ctx, reqID)
	}
	cmd.SetContext(ctx)
	c.app = a
	return a, nil
}

// withApp adapts a handler that needs the application.
func (c *CLI) withApp(fn func(cmd *cobra.Command, a *app.Application, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := c.application(cmd)
		if err != nil {
			return err
		}
		return fn(cmd, a, args)
	}
}

// withSession is withApp plus the route guard: the session must be valid or
// refreshable before fn runs.
func (c *CLI) withSession(fn func(cmd *cobra.Command, a *app.Application, args []string) error) func(*cobra.Command, []string) error {
	return c.withApp(func(cmd *cobra.Command, a *app.Application, args []string) error {
		if !a.Session().CheckAndRefreshToken(cmd.Context()) {
			slogx.FromContext(cmd.Context()).Info("route guard rejected command", "command", cmd.CommandPath())
			return ErrLoginRequired
		}
		return fn(cmd, a, args)
	})
}

func (c *CLI) printer(cmd *cobra.Command) (*printer, error) {
	switch c.format {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid flag: unknown format %q", c.format)
	}
	return newPrinter(cmd.OutOrStdout(), c.format == "json", c.noColor), nil
}
