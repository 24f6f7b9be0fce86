package model

import (
	"time"

	"gorm.io/datatypes"
)

// Message authors as reported by Crisp.
const (
	FromUser     = "user"
	FromOperator = "operator"
)

// Message is the local mirror of one upstream chat message. Fingerprint is its identity.
type Message struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Fingerprint int64  `gorm:"column:fingerprint;not null;uniqueIndex:idx_messages_fingerprint" json:"fingerprint"`
	SessionID   string `gorm:"column:session_id;size:255;not null;index" json:"session_id"`
	WebsiteID   string `gorm:"column:website_id;size:255;not null" json:"website_id"`

	Type    string  `gorm:"column:type;size:50;not null" json:"type"`
	From    string  `gorm:"column:from;size:50;not null" json:"from"`
	Origin  *string `gorm:"column:origin;size:50" json:"origin,omitempty"`
	Content string  `gorm:"column:content;type:text;not null" json:"content"`

	UserID       *string        `gorm:"column:user_id;size:255" json:"user_id,omitempty"`
	UserNickname *string        `gorm:"column:user_nickname;size:255" json:"user_nickname,omitempty"`
	Preview      datatypes.JSON `gorm:"column:preview" json:"preview,omitempty"`
	Mentions     datatypes.JSON `gorm:"column:mentions" json:"mentions,omitempty"`
	Read         *string        `gorm:"column:read;size:50" json:"read,omitempty"`
	Delivered    *string        `gorm:"column:delivered;size:50" json:"delivered,omitempty"`
	Stamped      bool           `gorm:"column:stamped;not null" json:"stamped"`

	// Timestamp is the upstream logical time in milliseconds.
	Timestamp int64 `gorm:"column:timestamp;not null;index" json:"timestamp"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Message) TableName() string { return "conversation_messages" }

// ListMessagesResponse is the response for listing the mirrored messages of one conversation.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	HasMore  bool      `json:"has_more"`
}
