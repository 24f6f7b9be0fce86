package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
	"github.com/capitalize-ai/crisp-sync/pkg/metrics"
)

const (
	// StreamName is the name of the live events stream.
	StreamName = "CRISP_EVENTS"

	// SubjectPrefix is the prefix for all event subjects.
	SubjectPrefix = "crisp.events"

	// DuplicateWindow is how long the broker remembers message IDs.
	DuplicateWindow = 2 * time.Minute
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  DuplicateWindow,
		Description: "Live Crisp conversation and message events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for an event.
func EventSubject(websiteID string, kind model.EventKind) string {
	if websiteID == "" {
		websiteID = "_"
	}
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(websiteID), subjectToken(string(kind)))
}

func subjectToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// PublishEvent publishes an event to JetStream. The broker drops resends of the same event
// within DuplicateWindow.
func (m *StreamManager) PublishEvent(ctx context.Context, ev model.Event) (uint64, error) {
	env, err := ev.Envelope()
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EventSubject(ev.WebsiteID, ev.Kind), data,
		jetstream.WithMsgID(ev.DedupKey()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// EventSource feeds the ingestor from a durable JetStream consumer.
type EventSource struct {
	streams       *StreamManager
	durable       string
	maxAckPending int
	log           *logger.Logger
}

// NewEventSource creates a source reading through the named durable consumer.
func NewEventSource(streams *StreamManager, durable string, maxAckPending int, log *logger.Logger) *EventSource {
	return &EventSource{
		streams:       streams,
		durable:       durable,
		maxAckPending: maxAckPending,
		log:           log.Named("nats_source"),
	}
}

// Run consumes events until ctx is cancelled. The handler blocks while out is full, so at most
// MaxAckPending events are in flight.
func (s *EventSource) Run(ctx context.Context, out chan<- model.Delivery) error {
	cons, err := s.streams.client.JetStream().CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       s.durable,
		FilterSubject: SubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
		MaxAckPending: s.maxAckPending,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, msg, out)
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer cc.Stop()

	s.log.Info("consuming events", zap.String("stream", StreamName), zap.String("consumer", s.durable))

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if info, err := cons.Info(ctx); err == nil {
				metrics.NATSConsumerPending.WithLabelValues(StreamName, s.durable).Set(float64(info.NumPending))
			}
		}
	}
}

func (s *EventSource) handle(ctx context.Context, msg jetstream.Msg, out chan<- model.Delivery) {
	env, err := model.DecodeEnvelope(msg.Data())
	if err == nil {
		var ev model.Event
		if ev, err = env.Decode(time.Now()); err == nil {
			d := model.NewDelivery(ev, msg.Ack, func() error { return msg.NakWithDelay(time.Second) })
			select {
			case out <- d:
			case <-ctx.Done():
				_ = msg.Nak()
			}
			return
		}
	}

	// Undecodable events will never succeed; stop redelivery.
	s.log.Warn("terminating undecodable event", zap.String("subject", msg.Subject()), zap.Error(err))
	if termErr := msg.Term(); termErr != nil {
		s.log.Error("failed to terminate event", zap.Error(termErr))
	}
}
