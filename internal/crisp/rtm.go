package crisp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPongWait = 60 * time.Second
	writeWait       = 10 * time.Second
	maxMessageSize  = 1 << 20
)

// RTMSource streams live events from a websocket endpoint that emits JSON event envelopes.
type RTMSource struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    *logger.Logger

	minDelay time.Duration
	maxDelay time.Duration
	// pongWait bounds silence from the server; pings go out at 9/10 of it.
	pongWait time.Duration
	now      func() time.Time
}

// NewRTMSource creates a source authenticated with the same plugin token as the REST client.
func NewRTMSource(url string, cfg Config, log *logger.Logger) *RTMSource {
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cfg.Identifier+":"+cfg.Key)))
	tier := cfg.Tier
	if tier == "" {
		tier = "plugin"
	}
	header.Set("X-Crisp-Tier", tier)

	return &RTMSource{
		url:      url,
		header:   header,
		dialer:   websocket.DefaultDialer,
		log:      log.Named("rtm"),
		minDelay: time.Second,
		maxDelay: 30 * time.Second,
		pongWait: defaultPongWait,
		now:      time.Now,
	}
}

// Run reads events until ctx is cancelled, reconnecting with exponential backoff.
// Sends on out block when the ingestor falls behind.
func (s *RTMSource) Run(ctx context.Context, out chan<- model.Delivery) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.minDelay
	policy.MaxInterval = s.maxDelay
	policy.MaxElapsedTime = 0

	for {
		received, err := s.session(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if received {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		s.log.Warn("rtm connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection. received reports whether at least one frame was read.
func (s *RTMSource) session(ctx context.Context, out chan<- model.Delivery) (received bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return false, fmt.Errorf("failed to dial rtm: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	go s.ping(conn, done)

	s.log.Info("rtm connected", zap.String("url", s.url))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		received = true
		conn.SetReadDeadline(time.Now().Add(s.pongWait))

		ev, err := s.decode(data)
		if err != nil {
			if errors.Is(err, model.ErrUnknownEvent) {
				s.log.Debug("ignoring rtm event", zap.Error(err))
			} else {
				s.log.Warn("dropping malformed rtm frame", zap.Error(err))
			}
			continue
		}

		select {
		case out <- model.NewDelivery(ev, nil, nil):
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}

// ping keeps an idle connection alive until done is closed. A failed ping closes the
// connection so the read loop returns and Run reconnects.
func (s *RTMSource) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug("rtm ping failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

func (s *RTMSource) decode(data []byte) (model.Event, error) {
	env, err := model.DecodeEnvelope(data)
	if err != nil {
		return model.Event{}, err
	}
	return env.Decode(s.now())
}
