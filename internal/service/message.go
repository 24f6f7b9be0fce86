package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

// MessageService serves read-back, purge and on-demand sync of mirrored messages.
type MessageService struct {
	store    RecordStore
	gateway  Gateway
	resolver *Resolver
	writer   *Writer
	logger   *logger.Logger
	now      func() time.Time
}

// NewMessageService creates a new message service.
func NewMessageService(store RecordStore, gateway Gateway, resolver *Resolver, writer *Writer, log *logger.Logger) *MessageService {
	return &MessageService{
		store:    store,
		gateway:  gateway,
		resolver: resolver,
		writer:   writer,
		logger:   log.Named("messages"),
		now:      time.Now,
	}
}

// SyncResult reports an on-demand conversation sync.
type SyncResult struct {
	SessionID string          `json:"session_id"`
	Written   int             `json:"written"`
	Skipped   int             `json:"skipped"`
	Messages  []model.Message `json:"messages"`
}

// List returns one page of a conversation's stored messages in timestamp order.
func (s *MessageService) List(ctx context.Context, sessionID string, page, limit int) (*model.ListMessagesResponse, error) {
	msgs, total, err := s.store.ListMessages(ctx, sessionID, page, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return &model.ListMessagesResponse{
		Messages: msgs,
		Total:    total,
		Page:     page,
		Limit:    limit,
		HasMore:  int64(page*limit) < total,
	}, nil
}

// Purge deletes every message and keeps conversations.
func (s *MessageService) Purge(ctx context.Context) (model.PurgeResult, error) {
	n, err := s.store.DeleteAllMessages(ctx)
	if err != nil {
		return model.PurgeResult{}, fmt.Errorf("failed to purge messages: %w", err)
	}
	s.logger.Info("messages purged", zap.Int64("messages", n))
	return model.PurgeResult{DeletedMessages: n}, nil
}

// SyncConversation pulls one conversation's messages from upstream and stores them,
// making sure the conversation itself is stored first.
func (s *MessageService) SyncConversation(ctx context.Context, websiteID, sessionID string) (*SyncResult, error) {
	if err := s.resolver.Ensure(ctx, sessionID, websiteID); err != nil {
		return nil, err
	}

	raws, err := s.gateway.ListMessages(ctx, websiteID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	for i := range raws {
		if raws[i].SessionID == "" {
			raws[i].SessionID = sessionID
		}
		if raws[i].WebsiteID == "" {
			raws[i].WebsiteID = websiteID
		}
	}

	msgs := normalizeMessages(raws, s.now(), s.logger)
	res, err := s.writer.WriteMessages(ctx, msgs)
	if err != nil {
		return nil, err
	}

	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *m)
	}
	s.logger.Info("conversation synced",
		zap.String("session_id", sessionID),
		zap.Int("written", res.Written()),
		zap.Int("skipped", res.Skipped),
	)
	return &SyncResult{SessionID: sessionID, Written: res.Written(), Skipped: res.Skipped, Messages: out}, nil
}
