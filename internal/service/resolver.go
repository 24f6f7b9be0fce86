package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
	"github.com/capitalize-ai/crisp-sync/pkg/metrics"
)

// Resolver guarantees that a message's parent conversation is stored before the message is written.
type Resolver struct {
	gateway Gateway
	store   RecordStore
	writer  *Writer
	logger  *logger.Logger
	now     func() time.Time
}

// NewResolver creates a new resolver.
func NewResolver(gateway Gateway, store RecordStore, writer *Writer, log *logger.Logger) *Resolver {
	return &Resolver{
		gateway: gateway,
		store:   store,
		writer:  writer,
		logger:  log.Named("resolver"),
		now:     time.Now,
	}
}

// Ensure returns immediately when sessionID is stored. Otherwise it fetches the conversation upstream
// and stores it, storing a stub instead when the fetch fails or returns an unusable payload.
func (r *Resolver) Ensure(ctx context.Context, sessionID, websiteID string) error {
	exists, err := r.store.ConversationExists(ctx, sessionID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	conv := r.resolve(ctx, sessionID, websiteID)
	if _, err := r.writer.WriteConversations(ctx, []*model.Conversation{conv}); err != nil {
		return fmt.Errorf("failed to store conversation %s: %w", sessionID, err)
	}
	return nil
}

func (r *Resolver) resolve(ctx context.Context, sessionID, websiteID string) *model.Conversation {
	conv, err := r.fetch(ctx, sessionID, websiteID)
	if err == nil {
		return conv
	}

	r.logger.Warn("conversation details unavailable, storing stub",
		zap.String("session_id", sessionID),
		zap.String("website_id", websiteID),
		zap.Error(err),
	)
	metrics.StubConversationsTotal.Inc()
	return model.StubConversation(sessionID, websiteID, r.now())
}

func (r *Resolver) fetch(ctx context.Context, sessionID, websiteID string) (*model.Conversation, error) {
	raw, err := r.gateway.GetConversation(ctx, websiteID, sessionID)
	if err != nil {
		return nil, err
	}
	if raw.SessionID == "" {
		raw.SessionID = sessionID
	}
	if raw.WebsiteID == "" {
		raw.WebsiteID = websiteID
	}
	if raw.SessionID != sessionID {
		return nil, fmt.Errorf("upstream returned session %q", raw.SessionID)
	}
	return model.NormalizeConversation(*raw, r.now())
}
