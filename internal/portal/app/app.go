package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/billing/internal/portal/store"
	"github.com/aussiebroadwan/billing/internal/portal/store/drivers/memory"
	"github.com/aussiebroadwan/billing/internal/portal/store/drivers/redis"
	"github.com/aussiebroadwan/billing/internal/portal/store/drivers/sqlite"
	"github.com/aussiebroadwan/billing/pkg/billingsdk"
	"github.com/aussiebroadwan/billing/pkg/cryptox"
	"github.com/aussiebroadwan/billing/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application holds the session manager and everything it is wired to.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store    store.Store
	sqlite   *sqlite.Store // nil unless the sqlite driver is in use
	registry *prometheus.Registry

	session *billingsdk.Session
	billing *billingsdk.Billing

	unsubscribe func()
}

// Option tweaks how New builds the application.
type Option func(*options)

type options struct {
	logOutput  io.Writer
	now        func() time.Time
	httpClient *http.Client
}

// WithLogOutput sends logs somewhere other than stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithClock replaces the session clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHTTPClient replaces the backend HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New builds the store, the session and the billing client, restoring any
// session the store already holds.
func New(ctx context.Context, cfg Config, opts ...Option) (*Application, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "billing-cli",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  o.logOutput,
		}),
		registry: prometheus.NewRegistry(),
	}

	if err := app.initStore(ctx); err != nil {
		return nil, err
	}

	channel, err := app.sealedChannel()
	if err != nil {
		_ = app.store.Close()
		return nil, err
	}

	client := billingsdk.NewSDKClient(cfg.APIURL, app.logger)
	if o.httpClient != nil {
		client.HTTPClient = o.httpClient
	} else if cfg.HTTPTimeout > 0 {
		client.HTTPClient.Timeout = cfg.HTTPTimeout
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}

	session, err := billingsdk.NewSession(ctx, billingsdk.SessionOptions{
		Client:        client,
		Store:         channel,
		Logger:        app.logger,
		Metrics:       billingsdk.NewMetrics(app.registry),
		LogoutTimeout: cfg.LogoutTimeout,
		Limiter:       limiter,
		Now:           o.now,
	})
	if err != nil {
		_ = app.store.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	app.session = session
	app.billing = billingsdk.NewBilling(session)

	app.unsubscribe = session.Subscribe(func(loggedIn bool) {
		app.logger.Debug("auth state changed", "logged_in", loggedIn, "profile", cfg.Profile)
	})

	return app, nil
}

func (app *Application) initStore(ctx context.Context) error {
	switch app.cfg.Store {
	case StoreSQLite:
		db, err := sqlite.NewStore(app.cfg.DatabaseFile, app.cfg.Profile)
		if err != nil {
			return fmt.Errorf("failed to open session database: %w", err)
		}
		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		app.store = db
		app.sqlite = db

	case StoreRedis:
		rdb, err := redis.NewStore(ctx, redis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
			Profile:  app.cfg.Profile,
			TTL:      app.cfg.RedisTTL,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.store = rdb

	case StoreMemory:
		mem, err := memory.NewStore(app.cfg.Profile)
		if err != nil {
			return err
		}
		app.store = mem

	default:
		return fmt.Errorf("unknown store %q", app.cfg.Store)
	}

	app.logger.Debug("session store ready", "store", app.store.Name())
	return nil
}

// sealedChannel wraps the store in a SealedChannel when sealing is enabled
// or a master key is available. Sealing without a key is an error.
func (app *Application) sealedChannel() (billingsdk.Channel, error) {
	sealer, err := cryptox.LoadSealer(app.cfg.MasterKeyPath)
	switch {
	case errors.Is(err, cryptox.ErrNoMasterKey) && !app.cfg.SealTokens:
		return app.store, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}
	return billingsdk.NewSealedChannel(app.store, sealer), nil
}

func (app *Application) Config() Config                 { return app.cfg }
func (app *Application) Logger() *slog.Logger           { return app.logger }
func (app *Application) Store() store.Store             { return app.store }
func (app *Application) Session() *billingsdk.Session   { return app.session }
func (app *Application) Billing() *billingsdk.Billing   { return app.billing }
func (app *Application) Registry() *prometheus.Registry { return app.registry }

// PruneProfiles deletes every other profile untouched since before. Only the
// sqlite store tracks write times.
func (app *Application) PruneProfiles(ctx context.Context, before time.Time) (int, error) {
	if app.sqlite == nil {
		return 0, fmt.Errorf("prune is not supported by the %s store", app.cfg.Store)
	}
	n, err := app.sqlite.Prune(ctx, before)
	if err != nil {
		return 0, err
	}
	app.logger.Info("pruned stale profiles", "count", n, "before", before)
	return n, nil
}

// Close releases the store. It does not log out.
func (app *Application) Close() error {
	if app.unsubscribe != nil {
		app.unsubscribe()
	}
	if app.store == nil {
		return nil
	}
	return app.store.Close()
}
