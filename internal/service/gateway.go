// Package service implements the Crisp synchronization engine: backfill, live ingestion,
// deduplication and idempotent writes into the record store.
package service

import (
	"context"

	"github.com/capitalize-ai/crisp-sync/internal/model"
)

// Gateway is the upstream API the engine reads from.
type Gateway interface {
	ListConversations(ctx context.Context, websiteID string, page, perPage int) ([]model.ConversationRaw, error)
	GetConversation(ctx context.Context, websiteID, sessionID string) (*model.ConversationRaw, error)
	ListMessages(ctx context.Context, websiteID, sessionID string) ([]model.MessageRaw, error)
}

// RecordStore is the persistence the engine writes through.
type RecordStore interface {
	FindConversations(ctx context.Context, sessionIDs []string) ([]model.Conversation, error)
	ConversationExists(ctx context.Context, sessionID string) (bool, error)
	InsertConversations(ctx context.Context, rows []*model.Conversation) error
	UpdateConversations(ctx context.Context, rows []*model.Conversation) error
	CreateConversation(ctx context.Context, c *model.Conversation) (bool, error)
	ListConversations(ctx context.Context, websiteID string, page, limit int) ([]model.Conversation, int64, error)
	DeleteAllConversations(ctx context.Context) (model.PurgeResult, error)

	FindMessages(ctx context.Context, fingerprints []int64) ([]model.Message, error)
	MessageExists(ctx context.Context, fingerprint int64) (bool, error)
	InsertMessages(ctx context.Context, rows []*model.Message) error
	UpdateMessages(ctx context.Context, rows []*model.Message) error
	CreateMessage(ctx context.Context, m *model.Message) (bool, error)
	ListMessages(ctx context.Context, sessionID string, page, limit int) ([]model.Message, int64, error)
	DeleteAllMessages(ctx context.Context) (int64, error)
}

// EventSource delivers live events into out until ctx is cancelled.
type EventSource interface {
	Run(ctx context.Context, out chan<- model.Delivery) error
}
