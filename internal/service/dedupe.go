package service

import (
	"cmp"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

// Deduplicate collapses raw messages by fingerprint, keeping the one with the highest timestamp.
// When timestamps tie or either is missing, the record observed later wins.
// Records without a fingerprint are dropped.
func Deduplicate(raws []model.MessageRaw) map[int64]model.MessageRaw {
	out := make(map[int64]model.MessageRaw, len(raws))
	for _, r := range raws {
		fp, ok := r.Key()
		if !ok {
			continue
		}
		if prev, seen := out[fp]; seen {
			pt, pok := prev.TimestampMillis()
			rt, rok := r.TimestampMillis()
			if pok && rok && pt > rt {
				continue
			}
		}
		out[fp] = r
	}
	return out
}

// sortedMessages flattens a deduplicated set in timestamp order so writes are deterministic.
func sortedMessages(set map[int64]model.MessageRaw) []model.MessageRaw {
	out := make([]model.MessageRaw, 0, len(set))
	for _, r := range set {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b model.MessageRaw) int {
		at, _ := a.TimestampMillis()
		bt, _ := b.TimestampMillis()
		if at != bt {
			return cmp.Compare(at, bt)
		}
		af, _ := a.Key()
		bf, _ := b.Key()
		return cmp.Compare(af, bf)
	})
	return out
}

// normalizeMessages deduplicates and normalizes raw messages, logging what is dropped.
func normalizeMessages(raws []model.MessageRaw, now time.Time, log *logger.Logger) []*model.Message {
	set := Deduplicate(raws)
	if dropped := len(raws) - countKeyed(raws); dropped > 0 {
		log.Warn("dropping messages without fingerprint", zap.Int("count", dropped))
	}

	out := make([]*model.Message, 0, len(set))
	for _, raw := range sortedMessages(set) {
		m, err := model.NormalizeMessage(raw, now)
		if err != nil {
			fp, _ := raw.Key()
			log.Warn("dropping message", zap.Int64("fingerprint", fp), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out
}

func countKeyed(raws []model.MessageRaw) int {
	n := 0
	for _, r := range raws {
		if _, ok := r.Key(); ok {
			n++
		}
	}
	return n
}

// normalizeConversations normalizes a page of raw conversations, logging what is dropped.
func normalizeConversations(raws []model.ConversationRaw, websiteID string, now time.Time, log *logger.Logger) []*model.Conversation {
	out := make([]*model.Conversation, 0, len(raws))
	for _, raw := range raws {
		if raw.WebsiteID == "" {
			raw.WebsiteID = websiteID
		}
		c, err := model.NormalizeConversation(raw, now)
		if err != nil {
			log.Warn("dropping conversation", zap.String("session_id", raw.SessionID), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out
}
