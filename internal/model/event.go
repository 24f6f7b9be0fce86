package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EventKind names a live upstream event.
type EventKind string

// Event kinds consumed by the ingestor.
const (
	EventConversationInitiated EventKind = "session:request:initiated"
	EventMessageSent           EventKind = "message:send"
	EventMessageReceived       EventKind = "message:received"
)

// ErrUnknownEvent is returned when decoding an envelope whose kind is not consumed.
var ErrUnknownEvent = errors.New("unknown event kind")

// Valid reports whether the kind is one the ingestor handles.
func (k EventKind) Valid() bool {
	switch k {
	case EventConversationInitiated, EventMessageSent, EventMessageReceived:
		return true
	}
	return false
}

// Direction returns the message author implied by a message event, or "" for other kinds.
func (k EventKind) Direction() string {
	switch k {
	case EventMessageSent:
		return FromUser
	case EventMessageReceived:
		return FromOperator
	}
	return ""
}

// EventEnvelope is the wire format shared by web hooks, the RTM socket and the broker.
type EventEnvelope struct {
	Event     EventKind       `json:"event" validate:"required"`
	WebsiteID string          `json:"website_id"`
	Data      json.RawMessage `json:"data" validate:"required"`
	Timestamp *Int64          `json:"timestamp,omitempty"`
}

// Event is a decoded envelope. Exactly one of Conversation and Message is set.
type Event struct {
	Kind         EventKind
	WebsiteID    string
	Conversation *ConversationRaw
	Message      *MessageRaw
	ReceivedAt   time.Time
}

// SessionID returns the session the event refers to.
func (e Event) SessionID() string {
	switch {
	case e.Conversation != nil:
		return e.Conversation.SessionID
	case e.Message != nil:
		return e.Message.SessionID
	}
	return ""
}

// DedupKey is a deterministic key identifying the event across redeliveries.
func (e Event) DedupKey() string {
	key := string(e.Kind) + ":" + e.SessionID()
	if e.Message != nil {
		if fp, ok := e.Message.Key(); ok {
			key += ":" + strconv.FormatInt(fp, 10)
		}
	}
	return key
}

// DecodeEnvelope parses a raw wire frame.
func DecodeEnvelope(b []byte) (EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	return env, nil
}

// Decode turns the envelope into a typed event. The envelope's website_id fills in a payload that omits it.
func (env EventEnvelope) Decode(now time.Time) (Event, error) {
	ev := Event{Kind: env.Event, WebsiteID: env.WebsiteID, ReceivedAt: now}

	switch env.Event {
	case EventConversationInitiated:
		var raw ConversationRaw
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return ev, fmt.Errorf("failed to decode %s payload: %w", env.Event, err)
		}
		if raw.WebsiteID == "" {
			raw.WebsiteID = env.WebsiteID
		}
		ev.Conversation = &raw
	case EventMessageSent, EventMessageReceived:
		var raw MessageRaw
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return ev, fmt.Errorf("failed to decode %s payload: %w", env.Event, err)
		}
		if raw.WebsiteID == "" {
			raw.WebsiteID = env.WebsiteID
		}
		ev.Message = &raw
	default:
		return ev, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if ev.WebsiteID == "" {
		ev.WebsiteID = ev.websiteFromPayload()
	}
	return ev, nil
}

func (e Event) websiteFromPayload() string {
	if e.Conversation != nil {
		return e.Conversation.WebsiteID
	}
	if e.Message != nil {
		return e.Message.WebsiteID
	}
	return ""
}

// Envelope re-encodes the event for publishing.
func (e Event) Envelope() (EventEnvelope, error) {
	var payload any
	if e.Conversation != nil {
		payload = e.Conversation
	} else {
		payload = e.Message
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("failed to encode event payload: %w", err)
	}
	ts := Int64(e.ReceivedAt.UnixMilli())
	return EventEnvelope{Event: e.Kind, WebsiteID: e.WebsiteID, Data: data, Timestamp: &ts}, nil
}

// Delivery is an event handed to the ingestor together with its transport acknowledgement hooks.
type Delivery struct {
	Event Event
	ack   func() error
	nak   func() error
}

// NewDelivery wraps an event. Nil hooks are no-ops.
func NewDelivery(ev Event, ack, nak func() error) Delivery {
	return Delivery{Event: ev, ack: ack, nak: nak}
}

// Ack confirms the event was handled.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nak asks the transport to redeliver the event.
func (d Delivery) Nak() error {
	if d.nak == nil {
		return nil
	}
	return d.nak()
}
