package store

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FindConversations returns the stored conversations among sessionIDs in a single query.
func (s *Store) FindConversations(ctx context.Context, sessionIDs []string) ([]model.Conversation, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var out []model.Conversation
	if err := s.db.WithContext(ctx).Where("session_id IN ?", sessionIDs).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to find conversations: %w", err)
	}
	return out, nil
}

// GetConversation returns one conversation or ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, sessionID string) (*model.Conversation, error) {
	var c model.Conversation
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ConversationExists reports whether sessionID is stored.
func (s *Store) ConversationExists(ctx context.Context, sessionID string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Conversation{}).Where("session_id = ?", sessionID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return n > 0, nil
}

// InsertConversations writes the batch in one statement. Either every row is inserted or none is.
func (s *Store) InsertConversations(ctx context.Context, rows []*model.Conversation) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(rows).Error
}

// CreateConversation inserts one conversation. created is false when the session already exists.
func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) (bool, error) {
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error
	if IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return true, nil
}

// UpdateConversations overwrites every field of the stored rows matching each session ID,
// preserving the local id and creation time. Rows are written in one transaction.
func (s *Store) UpdateConversations(ctx context.Context, rows []*model.Conversation) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range rows {
			err := tx.Model(&model.Conversation{}).
				Where("session_id = ?", c.SessionID).
				Select("*").
				Omit("ID", "SessionID", "CreatedAt", clause.Associations).
				Updates(c).Error
			if err != nil {
				return fmt.Errorf("failed to update conversation %s: %w", c.SessionID, err)
			}
		}
		return nil
	})
}

// ListConversations pages through conversations, most recently updated upstream first.
// An empty websiteID lists every website.
func (s *Store) ListConversations(ctx context.Context, websiteID string, page, limit int) ([]model.Conversation, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Conversation{})
	if websiteID != "" {
		q = q.Where("website_id = ?", websiteID)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	var out []model.Conversation
	err := q.Order("updated_at_crisp DESC").Order("id DESC").
		Offset(offset(page, limit)).Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	return out, total, nil
}

// DeleteAllConversations removes every conversation; messages go with them through the cascade.
// Counts are measured inside the same transaction before deleting.
func (s *Store) DeleteAllConversations(ctx context.Context) (model.PurgeResult, error) {
	var res model.PurgeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Message{}).Count(&res.DeletedMessages).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Conversation{}).Count(&res.DeletedConversations).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Conversation{}).Error
	})
	if err != nil {
		return model.PurgeResult{}, fmt.Errorf("failed to delete conversations: %w", err)
	}
	return res, nil
}
