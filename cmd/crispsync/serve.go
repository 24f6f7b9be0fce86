package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/crisp-sync/internal/config"
	"github.com/capitalize-ai/crisp-sync/internal/crisp"
	"github.com/capitalize-ai/crisp-sync/internal/handler"
	natsclient "github.com/capitalize-ai/crisp-sync/internal/nats"
	"github.com/capitalize-ai/crisp-sync/internal/service"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API and ingest live events",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, log := a.cfg, a.log
	log.Info("starting crisp sync", zap.String("event_source", cfg.EventSource))

	queue := service.NewEventQueue(cfg.EventQueueSize)
	locator, err := service.NewMessageLocator(a.gateway, cfg.MessageCacheTTL)
	if err != nil {
		return err
	}
	defer locator.Close()
	ingestor := service.NewIngestor(a.store, a.writer, a.resolver, locator, log)

	var (
		sources   []service.EventSource
		publisher handler.EventPublisher
		broker    handler.BrokerStatus
	)
	switch cfg.EventSource {
	case config.EventSourceNATS:
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		streams := natsclient.NewStreamManager(natsClient)
		if err := streams.EnsureStream(ctx); err != nil {
			return err
		}
		sources = append(sources, natsclient.NewEventSource(streams, cfg.NATSConsumer, cfg.NATSMaxAckPending, log))
		publisher = streams
		broker = natsClient
	case config.EventSourceWebsocket:
		sources = append(sources, crisp.NewRTMSource(cfg.RTMURL, crispConfig(cfg), log))
	}

	router := handler.NewRouter(handler.Handlers{
		Health:        handler.NewHealthHandler(a.store, broker),
		Conversations: handler.NewConversationHandler(service.NewConversationService(a.store, log), log),
		Messages:      handler.NewMessageHandler(service.NewMessageService(a.store, a.gateway, a.resolver, a.writer, log), log),
		Backfill:      handler.NewBackfillHandler(service.NewBackfillCoordinator(a.gateway, a.writer, cfg.BackfillConcurrency, log), log),
		Webhook:       handler.NewWebhookHandler(publisher, queue, log),
	}, handler.RateLimit{Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow}, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return ingestor.Run(gctx, queue, sources...)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}
