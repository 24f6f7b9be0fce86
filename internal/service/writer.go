package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/internal/store"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
	"github.com/capitalize-ai/crisp-sync/pkg/metrics"
)

// WriteResult counts what one writer call did.
type WriteResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	// Skipped records were already stored with newer data.
	Skipped int `json:"skipped"`
}

// Written is the number of rows inserted or updated.
func (r WriteResult) Written() int { return r.Inserted + r.Updated }

// Writer persists normalized batches idempotently. Each call is independent and safe to replay.
type Writer struct {
	store  RecordStore
	logger *logger.Logger
}

// NewWriter creates a new writer.
func NewWriter(store RecordStore, log *logger.Logger) *Writer {
	return &Writer{store: store, logger: log.Named("writer")}
}

// WriteConversations upserts conversations by session ID. Stored records are overwritten when they
// are stubs or when the incoming record is at least as recent upstream; a stub never replaces a full record.
func (w *Writer) WriteConversations(ctx context.Context, rows []*model.Conversation) (WriteResult, error) {
	res, err := upsert(ctx, w.logger, batchOps[string, model.Conversation]{
		kind:   "conversation",
		key:    func(c *model.Conversation) string { return c.SessionID },
		find:   w.store.FindConversations,
		insert: w.store.InsertConversations,
		update: w.store.UpdateConversations,
		apply:  conversationSupersedes,
	}, rows)
	metrics.RecordWrite("conversation", res.Inserted, res.Updated, res.Skipped)
	return res, err
}

// WriteMessages upserts messages by fingerprint with a full field overwrite.
func (w *Writer) WriteMessages(ctx context.Context, rows []*model.Message) (WriteResult, error) {
	res, err := upsert(ctx, w.logger, batchOps[int64, model.Message]{
		kind:   "message",
		key:    func(m *model.Message) int64 { return m.Fingerprint },
		find:   w.store.FindMessages,
		insert: w.store.InsertMessages,
		update: w.store.UpdateMessages,
		apply:  func(_, _ *model.Message) bool { return true },
	}, rows)
	metrics.RecordWrite("message", res.Inserted, res.Updated, res.Skipped)
	return res, err
}

// CreateConversation stores a conversation announced by a live event. Live events carry less than
// the upstream record, so an existing row is never overwritten; a conflict returns created=false.
func (w *Writer) CreateConversation(ctx context.Context, c *model.Conversation) (created bool, err error) {
	created, err = w.store.CreateConversation(ctx, c)
	if err != nil {
		return false, err
	}
	recordCreate("conversation", created)
	return created, nil
}

// CreateMessage stores a message delivered by a live event. An already stored fingerprint,
// including one written concurrently, returns created=false.
func (w *Writer) CreateMessage(ctx context.Context, m *model.Message) (created bool, err error) {
	created, err = w.store.CreateMessage(ctx, m)
	if err != nil {
		return false, err
	}
	recordCreate("message", created)
	return created, nil
}

func recordCreate(kind string, created bool) {
	if created {
		metrics.RecordWrite(kind, 1, 0, 0)
		return
	}
	metrics.RecordWrite(kind, 0, 0, 1)
}

func conversationSupersedes(stored, incoming *model.Conversation) bool {
	if incoming.Stub && !stored.Stub {
		return false
	}
	return stored.Stub || incoming.UpdatedAtCrisp >= stored.UpdatedAtCrisp
}

// batchOps binds the upsert algorithm to one record kind.
type batchOps[K comparable, T any] struct {
	kind   string
	key    func(*T) K
	find   func(context.Context, []K) ([]T, error)
	insert func(context.Context, []*T) error
	update func(context.Context, []*T) error
	// apply reports whether incoming should overwrite stored.
	apply func(stored, incoming *T) bool
}

func upsert[K comparable, T any](ctx context.Context, log *logger.Logger, ops batchOps[K, T], rows []*T) (WriteResult, error) {
	var res WriteResult

	batch, keys := collapse(ops, rows)
	if len(batch) == 0 {
		return res, nil
	}

	existing, err := ops.find(ctx, keys)
	if err != nil {
		return res, fmt.Errorf("failed to look up %ss: %w", ops.kind, err)
	}
	stored := make(map[K]*T, len(existing))
	for i := range existing {
		stored[ops.key(&existing[i])] = &existing[i]
	}

	var inserts, updates []*T
	for _, r := range batch {
		cur, ok := stored[ops.key(r)]
		switch {
		case !ok:
			inserts = append(inserts, r)
		case ops.apply(cur, r):
			updates = append(updates, r)
		default:
			res.Skipped++
		}
	}

	if len(inserts) > 0 {
		err := ops.insert(ctx, inserts)
		switch {
		case err == nil:
			res.Inserted += len(inserts)
		case store.IsUniqueViolation(err):
			log.Debug("batch insert conflicted, retrying row by row",
				zap.String("kind", ops.kind),
				zap.Int("rows", len(inserts)),
			)
			metrics.ConflictRecoveriesTotal.WithLabelValues(ops.kind).Inc()
			late, err := insertEach(ctx, log, ops, inserts, &res)
			if err != nil {
				return res, err
			}
			updates = append(updates, late...)
		default:
			return res, fmt.Errorf("failed to insert %ss: %w", ops.kind, err)
		}
	}

	if len(updates) > 0 {
		if err := ops.update(ctx, updates); err != nil {
			return res, fmt.Errorf("failed to update %ss: %w", ops.kind, err)
		}
		res.Updated += len(updates)
	}

	return res, nil
}

// insertEach inserts rows one at a time. Rows another writer inserted first are returned for update
// when they supersede the stored record.
func insertEach[K comparable, T any](ctx context.Context, log *logger.Logger, ops batchOps[K, T], rows []*T, res *WriteResult) ([]*T, error) {
	var late []*T
	for _, r := range rows {
		err := ops.insert(ctx, []*T{r})
		if err == nil {
			res.Inserted++
			continue
		}
		if !store.IsUniqueViolation(err) {
			return late, fmt.Errorf("failed to insert %s %v: %w", ops.kind, ops.key(r), err)
		}

		found, err := ops.find(ctx, []K{ops.key(r)})
		if err != nil {
			return late, fmt.Errorf("failed to look up %s %v: %w", ops.kind, ops.key(r), err)
		}
		if len(found) == 0 {
			return late, fmt.Errorf("%s %v conflicted but is not stored", ops.kind, ops.key(r))
		}

		log.Debug("record inserted concurrently", zap.String("kind", ops.kind), zap.Any("key", ops.key(r)))
		if ops.apply(&found[0], r) {
			late = append(late, r)
		} else {
			res.Skipped++
		}
	}
	return late, nil
}

// collapse keeps one row per key, resolving repeats with apply, and returns the keys in first-seen order.
func collapse[K comparable, T any](ops batchOps[K, T], rows []*T) ([]*T, []K) {
	idx := make(map[K]int, len(rows))
	out := make([]*T, 0, len(rows))
	keys := make([]K, 0, len(rows))
	for _, r := range rows {
		if r == nil {
			continue
		}
		k := ops.key(r)
		if i, ok := idx[k]; ok {
			if ops.apply(out[i], r) {
				out[i] = r
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
		keys = append(keys, k)
	}
	return out, keys
}
