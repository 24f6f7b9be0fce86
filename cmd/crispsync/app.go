package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/config"
	"github.com/capitalize-ai/crisp-sync/internal/crisp"
	"github.com/capitalize-ai/crisp-sync/internal/service"
	"github.com/capitalize-ai/crisp-sync/internal/store"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
	"github.com/capitalize-ai/crisp-sync/pkg/tracing"
)

// app holds the components shared by every sub-command.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.Store
	gateway  *crisp.Client
	writer   *service.Writer
	resolver *service.Resolver

	shutdownTracing func(context.Context) error
}

// newApp loads and validates configuration, then opens the record store.
// Missing Crisp credentials fail here, before anything is started.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.ForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetGlobal(log)

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:  cfg.TracingEnabled,
		Endpoint: cfg.TracingEndpoint,
	})
	if err != nil {
		log.Warn("failed to initialize tracing", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseMigrateAtStart {
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
	}

	gateway := crisp.NewClient(crispConfig(cfg), nil)
	writer := service.NewWriter(st, log)

	return &app{
		cfg:             cfg,
		log:             log,
		store:           st,
		gateway:         gateway,
		writer:          writer,
		resolver:        service.NewResolver(gateway, st, writer, log),
		shutdownTracing: shutdownTracing,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.shutdownTracing(ctx); err != nil {
		a.log.Warn("failed to flush traces", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close database", zap.Error(err))
	}
	a.log.Sync()
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	return store.Open(ctx, store.Config{
		Driver:       cfg.DatabaseDriver,
		DSN:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DatabaseMaxOpenConns,
		MaxIdleConns: cfg.DatabaseMaxIdleConns,
	})
}

func crispConfig(cfg *config.Config) crisp.Config {
	return crisp.Config{
		BaseURL:    cfg.CrispAPIURL,
		Identifier: cfg.CrispIdentifier,
		Key:        cfg.CrispKey,
		Tier:       cfg.CrispTier,
		Timeout:    cfg.CrispTimeout,
		MaxRetries: cfg.CrispMaxRetries,
	}
}
