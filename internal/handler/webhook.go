package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
	"github.com/capitalize-ai/crisp-sync/pkg/metrics"
)

const maxWebhookBody = 1 << 20

// EventPublisher forwards accepted events to the durable broker.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev model.Event) (uint64, error)
}

// EventEnqueuer hands accepted events straight to the in-process ingestor.
type EventEnqueuer interface {
	Enqueue(ctx context.Context, d model.Delivery) error
}

// WebhookHandler receives upstream web-hook events.
type WebhookHandler struct {
	publisher EventPublisher
	queue     EventEnqueuer
	validate  *validator.Validate
	logger    *logger.Logger
	now       func() time.Time
}

// NewWebhookHandler creates a web-hook receiver. Events go to publisher when it is set,
// otherwise onto queue.
func NewWebhookHandler(publisher EventPublisher, queue EventEnqueuer, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		publisher: publisher,
		queue:     queue,
		validate:  validator.New(),
		logger:    log.Named("webhook"),
		now:       time.Now,
	}
}

// Receive handles POST /webhooks/crisp
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read request body")
		return
	}

	env, err := model.DecodeEnvelope(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(env); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid event envelope")
		return
	}

	ev, err := env.Decode(h.now())
	if errors.Is(err, model.ErrUnknownEvent) {
		metrics.RecordEvent(string(env.Event), "ignored")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid event payload")
		return
	}

	if err := h.forward(ctx, ev); err != nil {
		h.logger.Error("failed to accept event",
			zap.String("event", string(ev.Kind)),
			zap.String("session_id", ev.SessionID()),
			zap.Error(err),
		)
		writeError(w, r, http.StatusServiceUnavailable, "failed to accept event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *WebhookHandler) forward(ctx context.Context, ev model.Event) error {
	if h.publisher != nil {
		_, err := h.publisher.PublishEvent(ctx, ev)
		return err
	}
	if h.queue == nil {
		return errors.New("no event sink configured")
	}
	return h.queue.Enqueue(ctx, model.NewDelivery(ev, nil, nil))
}
