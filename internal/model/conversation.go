// Package model defines the records mirrored from Crisp, the raw upstream shapes they are
// normalized from, and the live events that carry them.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation is the local mirror of one upstream session.
type Conversation struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	SessionID string `gorm:"column:session_id;size:255;not null;uniqueIndex:idx_conversations_session_id" json:"session_id"`
	WebsiteID string `gorm:"column:website_id;size:255;not null;index" json:"website_id"`

	// Lifecycle
	ActiveLast     *int64  `gorm:"column:active_last" json:"active_last,omitempty"`
	ActiveNow      bool    `gorm:"column:active_now;not null" json:"active_now"`
	Availability   *string `gorm:"column:availability;size:50" json:"availability,omitempty"`
	IsBlocked      bool    `gorm:"column:is_blocked;not null" json:"is_blocked"`
	State          *string `gorm:"column:state;size:50" json:"state,omitempty"`
	Status         int     `gorm:"column:status;not null" json:"status"`
	UnreadOperator int     `gorm:"column:unread_operator;not null" json:"unread_operator"`
	UnreadVisitor  int     `gorm:"column:unread_visitor;not null" json:"unread_visitor"`
	WaitingSince   *int64  `gorm:"column:waiting_since" json:"waiting_since,omitempty"`
	AssignedUserID *string `gorm:"column:assigned_user_id;size:255" json:"assigned_user_id,omitempty"`
	PeopleID       *string `gorm:"column:people_id;size:255" json:"people_id,omitempty"`

	// Contact metadata, opaque to the sync engine
	MetaNickname   *string        `gorm:"column:meta_nickname;size:255" json:"meta_nickname,omitempty"`
	MetaEmail      *string        `gorm:"column:meta_email;size:255" json:"meta_email,omitempty"`
	MetaPhone      *string        `gorm:"column:meta_phone;size:50" json:"meta_phone,omitempty"`
	MetaAvatar     *string        `gorm:"column:meta_avatar;type:text" json:"meta_avatar,omitempty"`
	MetaIP         *string        `gorm:"column:meta_ip;size:100" json:"meta_ip,omitempty"`
	MetaOrigin     *string        `gorm:"column:meta_origin;size:100" json:"meta_origin,omitempty"`
	MetaSegments   datatypes.JSON `gorm:"column:meta_segments" json:"meta_segments,omitempty"`
	MetaData       datatypes.JSON `gorm:"column:meta_data" json:"meta_data,omitempty"`
	MetaDevice     datatypes.JSON `gorm:"column:meta_device" json:"meta_device,omitempty"`
	MetaConnection datatypes.JSON `gorm:"column:meta_connection" json:"meta_connection,omitempty"`
	Mentions       datatypes.JSON `gorm:"column:mentions" json:"mentions,omitempty"`
	Participants   datatypes.JSON `gorm:"column:participants" json:"participants,omitempty"`
	Verifications  datatypes.JSON `gorm:"column:verifications" json:"verifications,omitempty"`
	Compose        datatypes.JSON `gorm:"column:compose" json:"compose,omitempty"`

	// Denormalized last message preview
	LastMessage               *string `gorm:"column:last_message;type:text" json:"last_message,omitempty"`
	PreviewMessageType        *string `gorm:"column:preview_message_type;size:50" json:"preview_message_type,omitempty"`
	PreviewMessageFrom        *string `gorm:"column:preview_message_from;size:50" json:"preview_message_from,omitempty"`
	PreviewMessageExcerpt     *string `gorm:"column:preview_message_excerpt;type:text" json:"preview_message_excerpt,omitempty"`
	PreviewMessageFingerprint *int64  `gorm:"column:preview_message_fingerprint" json:"preview_message_fingerprint,omitempty"`

	// Upstream logical timestamps in milliseconds. UpdatedAtCrisp orders re-observations.
	CreatedAtCrisp int64 `gorm:"column:created_at_crisp;not null" json:"created_at_crisp"`
	UpdatedAtCrisp int64 `gorm:"column:updated_at_crisp;not null;index" json:"updated_at_crisp"`

	// Stub marks a placeholder inserted because full details could not be fetched.
	Stub bool `gorm:"column:stub;not null" json:"stub"`

	Messages []Message `gorm:"foreignKey:SessionID;references:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Conversation) TableName() string { return "conversations" }

// ListConversationsResponse is the response for listing locally mirrored conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int64          `json:"total"`
	Page          int            `json:"page"`
	Limit         int            `json:"limit"`
	HasMore       bool           `json:"has_more"`
}

// PurgeResult reports how many records a bulk delete removed.
type PurgeResult struct {
	DeletedConversations int64 `json:"deleted_conversations"`
	DeletedMessages      int64 `json:"deleted_messages"`
}
