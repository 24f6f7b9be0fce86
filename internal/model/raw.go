package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Int64 decodes a JSON number or a numeric string. Crisp emits both for fingerprints and timestamps.
type Int64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Int64) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		v = int64(f)
	}
	*n = Int64(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n Int64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(n), 10)), nil
}

// ConversationRaw is a conversation as the upstream API returns it.
type ConversationRaw struct {
	SessionID      string               `json:"session_id"`
	WebsiteID      string               `json:"website_id"`
	PeopleID       *string              `json:"people_id,omitempty"`
	Active         *ActiveRaw           `json:"active,omitempty"`
	Availability   *string              `json:"availability,omitempty"`
	IsBlocked      *bool                `json:"is_blocked,omitempty"`
	State          *string              `json:"state,omitempty"`
	Status         *int                 `json:"status,omitempty"`
	Unread         *UnreadRaw           `json:"unread,omitempty"`
	WaitingSince   *Int64               `json:"waiting_since,omitempty"`
	Assigned       *AssignedRaw         `json:"assigned,omitempty"`
	Meta           *ConversationMetaRaw `json:"meta,omitempty"`
	Mentions       json.RawMessage      `json:"mentions,omitempty"`
	Participants   json.RawMessage      `json:"participants,omitempty"`
	Verifications  json.RawMessage      `json:"verifications,omitempty"`
	Compose        json.RawMessage      `json:"compose,omitempty"`
	LastMessage    *string              `json:"last_message,omitempty"`
	PreviewMessage *PreviewMessageRaw   `json:"preview_message,omitempty"`
	CreatedAt      *Int64               `json:"created_at,omitempty"`
	UpdatedAt      *Int64               `json:"updated_at,omitempty"`
}

// ActiveRaw is the presence block of a conversation.
type ActiveRaw struct {
	Now  *bool  `json:"now,omitempty"`
	Last *Int64 `json:"last,omitempty"`
}

// UnreadRaw holds per-side unread counters.
type UnreadRaw struct {
	Operator *int `json:"operator,omitempty"`
	Visitor  *int `json:"visitor,omitempty"`
}

// AssignedRaw names the operator routed to the conversation.
type AssignedRaw struct {
	UserID *string `json:"user_id,omitempty"`
}

// ConversationMetaRaw is the visitor contact metadata.
type ConversationMetaRaw struct {
	Nickname   *string         `json:"nickname,omitempty"`
	Email      *string         `json:"email,omitempty"`
	Phone      *string         `json:"phone,omitempty"`
	Avatar     *string         `json:"avatar,omitempty"`
	IP         *string         `json:"ip,omitempty"`
	Origin     *string         `json:"origin,omitempty"`
	Segments   json.RawMessage `json:"segments,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Device     json.RawMessage `json:"device,omitempty"`
	Connection json.RawMessage `json:"connection,omitempty"`
}

// PreviewMessageRaw summarizes the most recent message.
type PreviewMessageRaw struct {
	Type        *string `json:"type,omitempty"`
	From        *string `json:"from,omitempty"`
	Excerpt     *string `json:"excerpt,omitempty"`
	Fingerprint *Int64  `json:"fingerprint,omitempty"`
}

// MessageRaw is a message as the upstream API or a live event returns it.
type MessageRaw struct {
	SessionID   string          `json:"session_id"`
	WebsiteID   string          `json:"website_id"`
	Fingerprint *Int64          `json:"fingerprint,omitempty"`
	MessageID   *Int64          `json:"message_id,omitempty"`
	Type        *string         `json:"type,omitempty"`
	From        *string         `json:"from,omitempty"`
	Origin      *string         `json:"origin,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	User        *MessageUserRaw `json:"user,omitempty"`
	Preview     json.RawMessage `json:"preview,omitempty"`
	Mentions    json.RawMessage `json:"mentions,omitempty"`
	Read        *string         `json:"read,omitempty"`
	Delivered   *string         `json:"delivered,omitempty"`
	Stamped     *bool           `json:"stamped,omitempty"`
	Timestamp   *Int64          `json:"timestamp,omitempty"`
}

// MessageUserRaw identifies the message author.
type MessageUserRaw struct {
	UserID   *string `json:"user_id,omitempty"`
	Nickname *string `json:"nickname,omitempty"`
}

// Key returns the message fingerprint, falling back to message_id. ok is false when neither is set.
func (m MessageRaw) Key() (int64, bool) {
	if m.Fingerprint != nil && *m.Fingerprint != 0 {
		return int64(*m.Fingerprint), true
	}
	if m.MessageID != nil && *m.MessageID != 0 {
		return int64(*m.MessageID), true
	}
	return 0, false
}

// TimestampMillis returns the upstream timestamp. ok is false when it is absent.
func (m MessageRaw) TimestampMillis() (int64, bool) {
	if m.Timestamp == nil {
		return 0, false
	}
	return int64(*m.Timestamp), true
}
