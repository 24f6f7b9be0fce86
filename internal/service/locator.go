package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/capitalize-ai/crisp-sync/internal/model"
)

// MessageLocator finds the authoritative upstream record of a single message. Listings are cached
// per conversation for a short TTL so bursts of events in one conversation share a single fetch.
type MessageLocator struct {
	gateway Gateway
	cache   *ristretto.Cache[string, []model.MessageRaw]
	ttl     time.Duration
}

// NewMessageLocator creates a locator. A zero ttl disables caching.
func NewMessageLocator(gateway Gateway, ttl time.Duration) (*MessageLocator, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []model.MessageRaw]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listing cache: %w", err)
	}
	return &MessageLocator{gateway: gateway, cache: cache, ttl: ttl}, nil
}

// Find returns the upstream message with fingerprint, or nil when the conversation listing does not contain it.
func (l *MessageLocator) Find(ctx context.Context, websiteID, sessionID string, fingerprint int64) (*model.MessageRaw, error) {
	key := websiteID + "/" + sessionID

	if listing, ok := l.cache.Get(key); ok {
		if m := match(listing, websiteID, sessionID, fingerprint); m != nil {
			return m, nil
		}
	}

	listing, err := l.gateway.ListMessages(ctx, websiteID, sessionID)
	if err != nil {
		return nil, err
	}
	if l.ttl > 0 {
		l.cache.SetWithTTL(key, listing, 1, l.ttl)
		l.cache.Wait()
	}
	return match(listing, websiteID, sessionID, fingerprint), nil
}

// Forget drops the cached listing of one conversation.
func (l *MessageLocator) Forget(websiteID, sessionID string) {
	l.cache.Del(websiteID + "/" + sessionID)
}

// Close stops the cache.
func (l *MessageLocator) Close() {
	l.cache.Close()
}

func match(listing []model.MessageRaw, websiteID, sessionID string, fingerprint int64) *model.MessageRaw {
	for i := range listing {
		if fp, ok := listing[i].Key(); !ok || fp != fingerprint {
			continue
		}
		m := listing[i]
		if m.SessionID == "" {
			m.SessionID = sessionID
		}
		if m.WebsiteID == "" {
			m.WebsiteID = websiteID
		}
		return &m
	}
	return nil
}
