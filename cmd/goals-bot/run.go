package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"goals-telegram/internal/api"
	"goals-telegram/internal/bot"
	"goals-telegram/internal/config"
	"goals-telegram/internal/dialogue"
	"goals-telegram/internal/events"
	"goals-telegram/internal/identity"
	"goals-telegram/internal/metrics"
	"goals-telegram/internal/storage"
	"goals-telegram/internal/telegram"
	"goals-telegram/pkg/store"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll Telegram and serve the verification API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateBot(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			a, err := newApp(cmd.Context(), cfg, logger, !skipMigrate)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not create missing tables on start.")
	return cmd
}

// app holds the wired process. close releases resources in reverse order
// of acquisition.
type app struct {
	logger  *slog.Logger
	poller  *bot.Poller
	server  *http.Server
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if migrate {
		if err := db.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}

	sessions, err := a.sessionStore(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	publisher, err := a.publisher(cfg.NATS)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tg, err := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIURL)
	if err != nil {
		return nil, err
	}

	identities := storage.NewIdentityStore(db)
	resolver := identity.NewResolver(identities, logger)
	engine := dialogue.NewEngine(sessions, storage.NewGoalStore(db), resolver, tg,
		dialogue.WithLogger(logger),
		dialogue.WithMetrics(m),
		dialogue.WithEvents(publisher),
	)
	a.poller = bot.NewPoller(tg, resolver, engine, bot.PollerConfig{
		TimeoutSeconds: cfg.Telegram.PollTimeout,
		Workers:        cfg.Telegram.Workers,
		Logger:         logger,
		Metrics:        m,
	})
	a.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(storage.NewAccountStore(db), identities, tg, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *app) sessionStore(ctx context.Context, cfg config.RedisConfig) (store.Store, error) {
	if cfg.URL == "" {
		a.logger.Info("session store: memory")
		return store.NewMemoryStore(), nil
	}
	client, err := store.NewRealRedisClient(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.logger.Info("session store: redis", "ttl", cfg.SessionTTL)
	return store.NewRedisStore(client, cfg.SessionTTL), nil
}

func (a *app) publisher(cfg config.NATSConfig) (events.Publisher, error) {
	if cfg.URL == "" {
		return events.NopPublisher{}, nil
	}
	p, err := events.NewNATSPublisher(cfg.URL, cfg.Subject)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, p.Close)
	a.logger.Info("goal events enabled", "subject", cfg.Subject)
	return p, nil
}

// run blocks until ctx is cancelled or either the poller or the HTTP
// server fails, then shuts both down.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()
	pollErr := make(chan error, 1)
	go func() {
		pollErr <- a.poller.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-pollErr:
		runErr = err
		pollErr = nil
	}
	cancel()
	a.logger.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if pollErr != nil {
		if err := <-pollErr; err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close", "error", err)
		}
	}
	a.closers = nil
}
