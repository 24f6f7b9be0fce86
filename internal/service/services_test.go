package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

func TestMessageService_SyncConversation(t *testing.T) {
	h := newHarness(t)
	h.gateway.conversations["s1"] = ptr(rawConversation("s1", 10))
	noSession := rawMessage("", 3, 300, "three")
	h.gateway.messages["s1"] = []model.MessageRaw{
		rawMessage("s1", 2, 200, "two"),
		rawMessage("s1", 1, 100, "one"),
		noSession,
	}
	svc := NewMessageService(h.store, h.gateway, h.resolver, h.writer, logger.Nop())

	res, err := svc.SyncConversation(context.Background(), testWebsite, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Written)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, "one", res.Messages[0].Content)
	assert.Equal(t, "s1", res.Messages[2].SessionID)

	page, err := svc.List(context.Background(), "s1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.True(t, page.HasMore)
	assert.Len(t, page.Messages, 2)
}

func TestServices_ListAndPurge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.InsertConversations(ctx, []*model.Conversation{conv("a", 1), conv("b", 2)}))
	require.NoError(t, h.store.InsertMessages(ctx, []*model.Message{msg("a", 1, "x"), msg("b", 2, "y")}))

	convs := NewConversationService(h.store, logger.Nop())
	msgs := NewMessageService(h.store, h.gateway, h.resolver, h.writer, logger.Nop())

	list, err := convs.List(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.Total)
	assert.False(t, list.HasMore)

	purged, err := msgs.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged.DeletedMessages)

	purged, err = convs.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged.DeletedConversations)
	assert.Zero(t, purged.DeletedMessages)

	empty, err := convs.List(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, empty.Conversations)
	assert.Empty(t, empty.Conversations)
}
