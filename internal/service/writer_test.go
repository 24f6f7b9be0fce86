package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/internal/testutil/testdb"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

func conv(sessionID string, updatedAt int64) *model.Conversation {
	return &model.Conversation{SessionID: sessionID, WebsiteID: testWebsite, CreatedAtCrisp: 1, UpdatedAtCrisp: updatedAt}
}

func msg(sessionID string, fingerprint int64, content string) *model.Message {
	return &model.Message{Fingerprint: fingerprint, SessionID: sessionID, WebsiteID: testWebsite, Type: "text", From: model.FromUser, Content: content, Timestamp: fingerprint}
}

func TestWriter_ReplayConvergesToLatestFields(t *testing.T) {
	s := testdb.SQLite(t)
	w := NewWriter(s, logger.Nop())
	ctx := context.Background()

	_, err := w.WriteConversations(ctx, []*model.Conversation{conv("a", 1)})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		res, err := w.WriteMessages(ctx, []*model.Message{msg("a", 1, fmt.Sprintf("v%d", i)), msg("a", 2, fmt.Sprintf("w%d", i))})
		require.NoError(t, err)
		if i == 1 {
			assert.Equal(t, WriteResult{Inserted: 2}, res)
		} else {
			assert.Equal(t, WriteResult{Updated: 2}, res)
		}
	}

	stored, err := s.FindMessages(ctx, []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, m := range stored {
		assert.Contains(t, []string{"v3", "w3"}, m.Content)
	}
}

func TestWriter_CreateNeverOverwrites(t *testing.T) {
	s := testdb.SQLite(t)
	w := NewWriter(s, logger.Nop())
	ctx := context.Background()

	created, err := w.CreateConversation(ctx, conv("a", 5))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = w.CreateConversation(ctx, conv("a", 9))
	require.NoError(t, err)
	assert.False(t, created)

	created, err = w.CreateMessage(ctx, msg("a", 1, "first"))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = w.CreateMessage(ctx, msg("a", 1, "second"))
	require.NoError(t, err)
	assert.False(t, created)

	c, err := s.GetConversation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.UpdatedAtCrisp)
	m, err := s.GetMessage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", m.Content)
}

func TestWriter_CollapsesRepeatsWithinBatch(t *testing.T) {
	s := testdb.SQLite(t)
	w := NewWriter(s, logger.Nop())
	ctx := context.Background()

	res, err := w.WriteConversations(ctx, []*model.Conversation{conv("a", 5), conv("a", 9), conv("a", 7)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	got, err := s.GetConversation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.UpdatedAtCrisp)
}

func TestWriter_ConversationLastWriterWins(t *testing.T) {
	s := testdb.SQLite(t)
	w := NewWriter(s, logger.Nop())
	ctx := context.Background()

	_, err := w.WriteConversations(ctx, []*model.Conversation{conv("a", 10)})
	require.NoError(t, err)

	res, err := w.WriteConversations(ctx, []*model.Conversation{conv("a", 5)})
	require.NoError(t, err)
	assert.Equal(t, WriteResult{Skipped: 1}, res)

	newer := conv("a", 10)
	newer.UnreadVisitor = 3
	res, err = w.WriteConversations(ctx, []*model.Conversation{newer})
	require.NoError(t, err)
	assert.Equal(t, WriteResult{Updated: 1}, res)

	got, err := s.GetConversation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, got.UnreadVisitor)
}

func TestWriter_StubRules(t *testing.T) {
	s := testdb.SQLite(t)
	w := NewWriter(s, logger.Nop())
	ctx := context.Background()

	// A full record replaces a stub even when the stub's clock is ahead.
	stub := model.StubConversation("a", testWebsite, testNow)
	_, err := w.WriteConversations(ctx, []*model.Conversation{stub})
	require.NoError(t, err)

	res, err := w.WriteConversations(ctx, []*model.Conversation{conv("a", 10)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	// A stub never replaces a full record.
	res, err = w.WriteConversations(ctx, []*model.Conversation{model.StubConversation("a", testWebsite, testNow)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	got, err := s.GetConversation(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.Stub)
	assert.Equal(t, int64(10), got.UpdatedAtCrisp)
}

func TestWriter_RecoversFromConcurrentMessageInsert(t *testing.T) {
	for _, size := range []int{1, 5} {
		t.Run(fmt.Sprintf("batch of %d", size), func(t *testing.T) {
			base := testdb.SQLite(t)
			ctx := context.Background()
			require.NoError(t, base.InsertConversations(ctx, []*model.Conversation{conv("a", 1)}))

			racing := &racingStore{Store: base, message: func(m *model.Message) { m.Content = "rival" }}
			w := NewWriter(racing, logger.Nop())

			batch := make([]*model.Message, 0, size)
			for i := 1; i <= size; i++ {
				batch = append(batch, msg("a", int64(i), "mine"))
			}

			res, err := w.WriteMessages(ctx, batch)
			require.NoError(t, err)
			assert.True(t, racing.raced.Load())
			assert.Equal(t, size-1, res.Inserted)
			assert.Equal(t, 1, res.Updated)

			stored, err := base.FindMessages(ctx, []int64{1})
			require.NoError(t, err)
			require.Len(t, stored, 1)
			assert.Equal(t, "mine", stored[0].Content)
			assert.Equal(t, int64(size), countMessages(t, base, "a"))
		})
	}
}

func TestWriter_RecoversFromConcurrentConversationInsert(t *testing.T) {
	base := testdb.SQLite(t)
	ctx := context.Background()

	// The rival is newer, so the recovered row is skipped rather than overwritten.
	racing := &racingStore{Store: base, conversation: func(c *model.Conversation) { c.UpdatedAtCrisp = 99 }}
	w := NewWriter(racing, logger.Nop())

	res, err := w.WriteConversations(ctx, []*model.Conversation{conv("a", 10), conv("b", 10)})
	require.NoError(t, err)
	assert.Equal(t, WriteResult{Inserted: 1, Skipped: 1}, res)

	got, err := base.GetConversation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.UpdatedAtCrisp)

	ok, err := base.ConversationExists(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWriter_SurfacesNonConflictErrors(t *testing.T) {
	s := testdb.SQLite(t)
	w := NewWriter(s, logger.Nop())

	_, err := w.WriteMessages(context.Background(), []*model.Message{msg("no_parent", 1, "x")})
	require.Error(t, err)
}
