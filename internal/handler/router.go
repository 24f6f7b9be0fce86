package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/crisp-sync/internal/middleware"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Health        *HealthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Backfill      *BackfillHandler
	Webhook       *WebhookHandler
}

// RateLimit bounds requests per client on /api/v1.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// NewRouter builds the HTTP API.
func NewRouter(h Handlers, limit RateLimit, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/crisp", h.Webhook.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(limit.Requests, limit.Window))

		r.Post("/backfill/{websiteId}", h.Backfill.Run)
		r.Post("/websites/{websiteId}/conversations/{sessionId}/sync", h.Messages.Sync)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.Conversations.List)
			r.Delete("/", h.Conversations.Purge)
			r.Get("/{sessionId}/messages", h.Messages.List)
		})

		r.Delete("/messages", h.Messages.Purge)
	})

	return r
}
