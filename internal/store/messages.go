package store

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FindMessages returns the stored messages among fingerprints in a single query.
func (s *Store) FindMessages(ctx context.Context, fingerprints []int64) ([]model.Message, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	var out []model.Message
	if err := s.db.WithContext(ctx).Where("fingerprint IN ?", fingerprints).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	return out, nil
}

// GetMessage returns one message or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, fingerprint int64) (*model.Message, error) {
	var m model.Message
	if err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// MessageExists reports whether fingerprint is stored.
func (s *Store) MessageExists(ctx context.Context, fingerprint int64) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Message{}).Where("fingerprint = ?", fingerprint).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	return n > 0, nil
}

// InsertMessages writes the batch in one statement. Either every row is inserted or none is.
func (s *Store) InsertMessages(ctx context.Context, rows []*model.Message) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(rows).Error
}

// CreateMessage inserts one message. created is false when the fingerprint already exists.
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) (bool, error) {
	err := s.db.WithContext(ctx).Create(m).Error
	if IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create message: %w", err)
	}
	return true, nil
}

// UpdateMessages overwrites every field of the stored rows matching each fingerprint,
// preserving the local id and creation time. Rows are written in one transaction.
func (s *Store) UpdateMessages(ctx context.Context, rows []*model.Message) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range rows {
			err := tx.Model(&model.Message{}).
				Where("fingerprint = ?", m.Fingerprint).
				Select("*").
				Omit("ID", "Fingerprint", "CreatedAt").
				Updates(m).Error
			if err != nil {
				return fmt.Errorf("failed to update message %d: %w", m.Fingerprint, err)
			}
		}
		return nil
	})
}

// ListMessages pages through one conversation's messages in timestamp order.
func (s *Store) ListMessages(ctx context.Context, sessionID string, page, limit int) ([]model.Message, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Message{}).Where("session_id = ?", sessionID).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var out []model.Message
	err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).Order("id ASC").
		Offset(offset(page, limit)).Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return out, total, nil
}

// DeleteAllMessages removes every message and returns how many were deleted.
func (s *Store) DeleteAllMessages(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Message{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}
