package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/api/rest"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/auth"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/cache"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/chain"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/config"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/database"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/events"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/kvstore"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/repository"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/telemetry"
	"github.com/davidleathers/guardian-recovery/internal/metrics"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

const (
	eventBuffer    = 256
	streamMaxLen   = 100000
	meterName      = "guardiand"
	storeCheckName = "store"
	redisCheckName = "redis"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", zap.Error(err))
				return err
			}
			return a.run(ctx)
		},
	}
}

// app owns every long-lived component of a running daemon
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	server *rest.Server
	hub    *events.Hub
	// closers run in reverse order on shutdown
	closers []func(context.Context) error
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close(ctx context.Context) error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i](ctx))
	}
	a.closers = nil
	return err
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	tc := telemetry.DefaultConfig()
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = cfg.Version
	tc.Environment = cfg.Environment
	tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tc.Enabled = cfg.Telemetry.Enabled
	tc.SamplingRate = cfg.Telemetry.SamplingRate
	provider, err := telemetry.Setup(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.onClose(provider.Shutdown)

	checks := map[string]rest.HealthCheck{}
	store, err := a.openStore(ctx, checks)
	if err != nil {
		return nil, err
	}

	chainCfg := func(url string) chain.Config {
		return chain.Config{BaseURL: url, APIKey: cfg.Chain.APIKey, Timeout: cfg.Chain.Timeout}
	}
	ledger, err := chain.NewLedger(chainCfg(cfg.Chain.LedgerURL), logger)
	if err != nil {
		return nil, fmt.Errorf("token ledger: %w", err)
	}
	hook, err := chain.NewAccountHook(chainCfg(cfg.Chain.HookURL), logger)
	if err != nil {
		return nil, fmt.Errorf("account hook: %w", err)
	}

	tokens, err := auth.NewTokens(auth.Config{
		Secret:      []byte(cfg.Auth.JWTSecret),
		Issuer:      cfg.Auth.Issuer,
		TokenExpiry: cfg.Auth.TokenExpiry,
		CacheSize:   cfg.Auth.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(eventBuffer, logger)
	a.onClose(func(context.Context) error { bus.Close(); return nil })
	a.hub = events.NewHub(bus, events.DefaultHubConfig(), logger)
	publishers := events.Fanout{bus}

	var guardianCache protocol.GuardianCache
	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return client.Close() })
		checks[redisCheckName] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

		guardianCache = cache.NewGuardianCache(client, cfg.Redis.TTL, logger)
		publishers = append(publishers, events.NewStreamPublisher(client, events.DefaultStream, streamMaxLen, logger))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewPrometheus(reg)
	otelMetrics, err := metrics.NewRegistry(provider.MeterProvider.Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	svc, err := protocol.NewService(protocol.Dependencies{
		Store:      store,
		Ledger:     ledger,
		Hook:       hook,
		Authorizer: auth.ClaimsAuthorizer{},
		Publisher:  publishers,
		Cache:      guardianCache,
		Metrics:    metrics.Multi{prom, otelMetrics},
		Catalog:    catalog,
		Params:     cfg.Protocol,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	var contract *rest.ContractValidator
	if cfg.Server.ValidateRequests {
		if contract, err = rest.NewContractValidator(); err != nil {
			return nil, err
		}
	}

	handler, err := rest.NewRouter(rest.Config{
		Service:   svc,
		Tokens:    tokens,
		RateLimit: cfg.Server.RateLimit,
		Events:    a.hub,
		Gatherer:  reg,
		Contract:  contract,
		Checks:    checks,
		Recorders: []rest.RequestRecorder{prom, otelMetrics},
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	a.server = rest.NewServer(cfg.Server, handler, logger)
	return a, nil
}

// openStore opens the configured backend and registers its health check
func (a *app) openStore(ctx context.Context, checks map[string]rest.HealthCheck) (protocol.Store, error) {
	switch a.cfg.Storage.Driver {
	case "postgres":
		pool, err := database.NewPool(ctx, a.cfg.Storage.Postgres, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { pool.Close(); return nil })
		store := repository.NewStore(pool, a.cfg.Storage.Postgres.MaxRetries, a.logger)
		checks[storeCheckName] = store.Ping
		return store, nil

	default:
		store, err := kvstore.Open(kvstore.Config(a.cfg.Storage.Badger), a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return store.Close() })
		checks[storeCheckName] = store.Ping
		return store, nil
	}
}

// run serves until ctx is cancelled, then drains connections and closes
// every component
func (a *app) run(ctx context.Context) error {
	a.logger.Info("starting guardiand",
		zap.String("version", a.cfg.Version),
		zap.String("environment", a.cfg.Environment),
		zap.String("storage", a.cfg.Storage.Driver),
		zap.Int("port", a.cfg.Server.Port))

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.server.ListenAndServe() }()

	var err error
	select {
	case err = <-serveErr:
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.hub.Close()
	err = multierr.Append(err, a.server.Shutdown(shutdownCtx))
	return multierr.Append(err, a.close(shutdownCtx))
}
