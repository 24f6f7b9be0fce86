package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
	"github.com/capitalize-ai/crisp-sync/pkg/metrics"
	"github.com/capitalize-ai/crisp-sync/pkg/tracing"
)

// Event outcomes reported in metrics.
const (
	outcomeStored    = "stored"
	outcomeDuplicate = "duplicate"
	outcomeDropped   = "dropped"
	outcomeFailed    = "failed"
)

// EventQueue is the bounded buffer between event sources and the ingestor.
// Producers block when it is full.
type EventQueue struct {
	ch chan model.Delivery
}

// NewEventQueue creates a queue holding up to size events.
func NewEventQueue(size int) *EventQueue {
	if size < 1 {
		size = 1
	}
	return &EventQueue{ch: make(chan model.Delivery, size)}
}

// In is the send side handed to event sources.
func (q *EventQueue) In() chan<- model.Delivery { return q.ch }

// Enqueue adds one delivery, waiting for room until ctx is done.
func (q *EventQueue) Enqueue(ctx context.Context, d model.Delivery) error {
	select {
	case q.ch <- d:
		metrics.EventQueueDepth.Set(float64(len(q.ch)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of buffered events.
func (q *EventQueue) Len() int { return len(q.ch) }

// Ingestor applies live events to the record store.
type Ingestor struct {
	store    RecordStore
	writer   *Writer
	resolver *Resolver
	locator  *MessageLocator
	logger   *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewIngestor creates a new ingestor. Events are persisted through writer's insert-only path.
func NewIngestor(store RecordStore, writer *Writer, resolver *Resolver, locator *MessageLocator, log *logger.Logger) *Ingestor {
	return &Ingestor{
		store:    store,
		writer:   writer,
		resolver: resolver,
		locator:  locator,
		logger:   log.Named("ingestor"),
		tracer:   tracing.Tracer("crisp-sync/ingestor"),
		now:      time.Now,
	}
}

// Run starts every source and processes the queue until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context, queue *EventQueue, sources ...EventSource) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			return src.Run(ctx, queue.In())
		})
	}
	g.Go(func() error {
		i.consume(ctx, queue.ch)
		return nil
	})
	return g.Wait()
}

func (i *Ingestor) consume(ctx context.Context, in <-chan model.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-in:
			metrics.EventQueueDepth.Set(float64(len(in)))
			i.deliver(ctx, d)
		}
	}
}

func (i *Ingestor) deliver(ctx context.Context, d model.Delivery) {
	if err := i.Handle(ctx, d.Event); err != nil {
		i.logger.Error("event handling failed, requesting redelivery",
			zap.String("event", string(d.Event.Kind)),
			zap.String("session_id", d.Event.SessionID()),
			zap.Error(err),
		)
		if nakErr := d.Nak(); nakErr != nil {
			i.logger.Error("failed to nak event", zap.Error(nakErr))
		}
		return
	}
	if err := d.Ack(); err != nil {
		i.logger.Error("failed to ack event", zap.Error(err))
	}
}

// Handle applies one event. Redelivered events are no-ops. Only store failures are returned;
// malformed events are logged and dropped.
func (i *Ingestor) Handle(ctx context.Context, ev model.Event) error {
	ctx, span := i.tracer.Start(ctx, "ingest.event", trace.WithAttributes(
		attribute.String("event", string(ev.Kind)),
		attribute.String("session_id", ev.SessionID()),
	))
	defer span.End()

	var (
		outcome string
		err     error
	)
	switch {
	case ev.Kind == model.EventConversationInitiated && ev.Conversation != nil:
		outcome, err = i.handleConversation(ctx, ev)
	case ev.Message != nil && ev.Kind.Direction() != "":
		outcome, err = i.handleMessage(ctx, ev)
	default:
		i.logger.Warn("dropping unsupported event", zap.String("event", string(ev.Kind)))
		outcome = outcomeDropped
	}

	if err != nil {
		outcome = outcomeFailed
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	metrics.RecordEvent(string(ev.Kind), outcome)
	return err
}

func (i *Ingestor) handleConversation(ctx context.Context, ev model.Event) (string, error) {
	raw := *ev.Conversation
	if raw.WebsiteID == "" {
		raw.WebsiteID = ev.WebsiteID
	}
	conv, err := model.NormalizeInitiatedConversation(raw, i.now())
	if err != nil {
		i.logger.Warn("dropping conversation event", zap.String("session_id", raw.SessionID), zap.Error(err))
		return outcomeDropped, nil
	}

	created, err := i.writer.CreateConversation(ctx, conv)
	if err != nil {
		return outcomeFailed, err
	}
	if !created {
		i.logger.Debug("conversation already stored", zap.String("session_id", conv.SessionID))
		return outcomeDuplicate, nil
	}
	i.logger.Info("conversation stored from event", zap.String("session_id", conv.SessionID))
	return outcomeStored, nil
}

func (i *Ingestor) handleMessage(ctx context.Context, ev model.Event) (string, error) {
	raw := *ev.Message
	if raw.WebsiteID == "" {
		raw.WebsiteID = ev.WebsiteID
	}
	fingerprint, ok := raw.Key()
	if !ok || raw.SessionID == "" || raw.WebsiteID == "" {
		i.logger.Warn("dropping message event without identity",
			zap.String("event", string(ev.Kind)),
			zap.String("session_id", raw.SessionID),
		)
		return outcomeDropped, nil
	}
	log := i.logger.With(zap.Int64("fingerprint", fingerprint), zap.String("session_id", raw.SessionID))

	exists, err := i.store.MessageExists(ctx, fingerprint)
	if err != nil {
		return outcomeFailed, err
	}
	if exists {
		log.Debug("message already stored")
		return outcomeDuplicate, nil
	}

	if err := i.resolver.Ensure(ctx, raw.SessionID, raw.WebsiteID); err != nil {
		return outcomeFailed, err
	}

	source := i.authoritative(ctx, log, ev.Kind, raw, fingerprint)
	msg, err := model.NormalizeMessage(source, i.now())
	if err != nil {
		log.Warn("dropping message event", zap.Error(err))
		return outcomeDropped, nil
	}

	created, err := i.writer.CreateMessage(ctx, msg)
	if err != nil {
		return outcomeFailed, fmt.Errorf("failed to store message %d: %w", fingerprint, err)
	}
	if !created {
		log.Debug("message stored concurrently")
		return outcomeDuplicate, nil
	}
	log.Info("message stored from event", zap.String("from", msg.From))
	return outcomeStored, nil
}

// authoritative prefers the upstream listing's copy of the message. The event payload is used when
// the listing cannot be fetched or lacks the fingerprint, with its author set from the event kind.
func (i *Ingestor) authoritative(ctx context.Context, log *logger.Logger, kind model.EventKind, raw model.MessageRaw, fingerprint int64) model.MessageRaw {
	full, err := i.locator.Find(ctx, raw.WebsiteID, raw.SessionID, fingerprint)
	if err == nil && full != nil {
		return *full
	}

	if err != nil {
		log.Warn("message listing unavailable, using event payload", zap.Error(err))
	} else {
		log.Debug("message not in listing, using event payload")
	}
	from := kind.Direction()
	raw.From = &from
	return raw
}
