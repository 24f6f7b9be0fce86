package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

// ConversationService serves read-back and purge of mirrored conversations.
type ConversationService struct {
	store  RecordStore
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(store RecordStore, log *logger.Logger) *ConversationService {
	return &ConversationService{store: store, logger: log.Named("conversations")}
}

// List returns one page of stored conversations, optionally scoped to a website.
func (s *ConversationService) List(ctx context.Context, websiteID string, page, limit int) (*model.ListConversationsResponse, error) {
	convs, total, err := s.store.ListConversations(ctx, websiteID, page, limit)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		Page:          page,
		Limit:         limit,
		HasMore:       int64(page*limit) < total,
	}, nil
}

// Purge deletes every conversation and, through the cascade, every message.
func (s *ConversationService) Purge(ctx context.Context) (model.PurgeResult, error) {
	res, err := s.store.DeleteAllConversations(ctx)
	if err != nil {
		return model.PurgeResult{}, fmt.Errorf("failed to purge conversations: %w", err)
	}
	s.logger.Info("conversations purged",
		zap.Int64("conversations", res.DeletedConversations),
		zap.Int64("messages", res.DeletedMessages),
	)
	return res, nil
}
