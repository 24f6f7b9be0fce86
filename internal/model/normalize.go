package model

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
)

// ErrMissingIdentity is returned when a raw record lacks the fields that identify it.
var ErrMissingIdentity = errors.New("record is missing its identity")

// defaultState is assigned to stub and newly initiated conversations.
const defaultState = "active"

// NormalizeConversation maps an upstream conversation to its local record.
// Missing upstream timestamps fall back to now.
func NormalizeConversation(raw ConversationRaw, now time.Time) (*Conversation, error) {
	if raw.SessionID == "" || raw.WebsiteID == "" {
		return nil, ErrMissingIdentity
	}

	nowMillis := now.UnixMilli()
	c := &Conversation{
		SessionID:      raw.SessionID,
		WebsiteID:      raw.WebsiteID,
		PeopleID:       raw.PeopleID,
		Availability:   raw.Availability,
		State:          raw.State,
		WaitingSince:   int64Ptr(raw.WaitingSince),
		Mentions:       blob(raw.Mentions),
		Participants:   blob(raw.Participants),
		Verifications:  blob(raw.Verifications),
		Compose:        blob(raw.Compose),
		LastMessage:    raw.LastMessage,
		CreatedAtCrisp: int64Or(raw.CreatedAt, nowMillis),
		UpdatedAtCrisp: int64Or(raw.UpdatedAt, nowMillis),
	}

	if raw.Active != nil {
		if raw.Active.Now != nil {
			c.ActiveNow = *raw.Active.Now
		}
		c.ActiveLast = int64Ptr(raw.Active.Last)
	}
	if raw.IsBlocked != nil {
		c.IsBlocked = *raw.IsBlocked
	}
	if raw.Status != nil {
		c.Status = *raw.Status
	}
	if raw.Unread != nil {
		if raw.Unread.Operator != nil {
			c.UnreadOperator = *raw.Unread.Operator
		}
		if raw.Unread.Visitor != nil {
			c.UnreadVisitor = *raw.Unread.Visitor
		}
	}
	if raw.Assigned != nil {
		c.AssignedUserID = raw.Assigned.UserID
	}
	if m := raw.Meta; m != nil {
		c.MetaNickname = m.Nickname
		c.MetaEmail = m.Email
		c.MetaPhone = m.Phone
		c.MetaAvatar = m.Avatar
		c.MetaIP = m.IP
		c.MetaOrigin = m.Origin
		c.MetaSegments = blob(m.Segments)
		c.MetaData = blob(m.Data)
		c.MetaDevice = blob(m.Device)
		c.MetaConnection = blob(m.Connection)
	}
	if p := raw.PreviewMessage; p != nil {
		c.PreviewMessageType = p.Type
		c.PreviewMessageFrom = p.From
		c.PreviewMessageExcerpt = p.Excerpt
		c.PreviewMessageFingerprint = int64Ptr(p.Fingerprint)
	}

	return c, nil
}

// NormalizeInitiatedConversation normalizes the payload of a session that has just opened.
// It is active and in the default state unless the payload says otherwise.
func NormalizeInitiatedConversation(raw ConversationRaw, now time.Time) (*Conversation, error) {
	c, err := NormalizeConversation(raw, now)
	if err != nil {
		return nil, err
	}
	if c.State == nil {
		state := defaultState
		c.State = &state
	}
	if raw.Active == nil || raw.Active.Now == nil {
		c.ActiveNow = true
	}
	return c, nil
}

// StubConversation builds a placeholder for a session whose details could not be fetched.
// A session that just sent a message is treated as active. Both upstream timestamps use the local clock.
func StubConversation(sessionID, websiteID string, now time.Time) *Conversation {
	state := defaultState
	nowMillis := now.UnixMilli()
	return &Conversation{
		SessionID:      sessionID,
		WebsiteID:      websiteID,
		State:          &state,
		ActiveNow:      true,
		CreatedAtCrisp: nowMillis,
		UpdatedAtCrisp: nowMillis,
		Stub:           true,
	}
}

// NormalizeMessage maps an upstream message to its local record.
// A missing timestamp falls back to now.
func NormalizeMessage(raw MessageRaw, now time.Time) (*Message, error) {
	fingerprint, ok := raw.Key()
	if !ok || raw.SessionID == "" || raw.WebsiteID == "" {
		return nil, ErrMissingIdentity
	}

	m := &Message{
		Fingerprint: fingerprint,
		SessionID:   raw.SessionID,
		WebsiteID:   raw.WebsiteID,
		Type:        stringOr(raw.Type, "text"),
		From:        stringOr(raw.From, ""),
		Origin:      raw.Origin,
		Content:     contentText(raw.Content),
		Preview:     blob(raw.Preview),
		Mentions:    blob(raw.Mentions),
		Read:        raw.Read,
		Delivered:   raw.Delivered,
		Timestamp:   int64Or(raw.Timestamp, now.UnixMilli()),
	}
	if raw.User != nil {
		m.UserID = raw.User.UserID
		m.UserNickname = raw.User.Nickname
	}
	if raw.Stamped != nil {
		m.Stamped = *raw.Stamped
	}
	return m, nil
}

// contentText keeps text content as-is and stores structured content (files, events) as JSON.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func blob(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return datatypes.JSON(append([]byte(nil), raw...))
}

func int64Ptr(v *Int64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func int64Or(v *Int64, fallback int64) int64 {
	if v == nil || *v == 0 {
		return fallback
	}
	return int64(*v)
}

func stringOr(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}
