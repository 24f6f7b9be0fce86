package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func TestNormalizeConversation_MapsNestedFields(t *testing.T) {
	payload := `{
		"session_id": "session_1",
		"website_id": "site_1",
		"active": {"now": true, "last": 1699999999000},
		"state": "unresolved",
		"status": 1,
		"unread": {"operator": 2, "visitor": 3},
		"assigned": {"user_id": "op_1"},
		"meta": {"nickname": "Ada", "email": "ada@example.com", "segments": ["vip"], "device": {"os": "linux"}},
		"preview_message": {"type": "text", "from": "user", "excerpt": "hi", "fingerprint": "42"},
		"created_at": 1690000000000,
		"updated_at": "1699999999500"
	}`
	var raw ConversationRaw
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))

	c, err := NormalizeConversation(raw, testNow)
	require.NoError(t, err)

	assert.Equal(t, "session_1", c.SessionID)
	assert.True(t, c.ActiveNow)
	require.NotNil(t, c.ActiveLast)
	assert.Equal(t, int64(1699999999000), *c.ActiveLast)
	assert.Equal(t, 2, c.UnreadOperator)
	assert.Equal(t, 3, c.UnreadVisitor)
	assert.Equal(t, "op_1", *c.AssignedUserID)
	assert.Equal(t, "Ada", *c.MetaNickname)
	assert.JSONEq(t, `["vip"]`, string(c.MetaSegments))
	assert.JSONEq(t, `{"os":"linux"}`, string(c.MetaDevice))
	assert.Nil(t, c.MetaData)
	assert.Equal(t, int64(42), *c.PreviewMessageFingerprint)
	assert.Equal(t, int64(1690000000000), c.CreatedAtCrisp)
	assert.Equal(t, int64(1699999999500), c.UpdatedAtCrisp)
	assert.False(t, c.Stub)
}

func TestNormalizeConversation_DefaultsTimestampsToClock(t *testing.T) {
	c, err := NormalizeConversation(ConversationRaw{SessionID: "s", WebsiteID: "w"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, testNow.UnixMilli(), c.CreatedAtCrisp)
	assert.Equal(t, testNow.UnixMilli(), c.UpdatedAtCrisp)
	assert.Zero(t, c.Status)
	assert.False(t, c.ActiveNow)
}

func TestNormalizeConversation_RejectsMissingIdentity(t *testing.T) {
	_, err := NormalizeConversation(ConversationRaw{SessionID: "s"}, testNow)
	require.ErrorIs(t, err, ErrMissingIdentity)

	_, err = NormalizeConversation(ConversationRaw{WebsiteID: "w"}, testNow)
	require.ErrorIs(t, err, ErrMissingIdentity)
}

func TestNormalizeInitiatedConversation_Defaults(t *testing.T) {
	c, err := NormalizeInitiatedConversation(ConversationRaw{SessionID: "s", WebsiteID: "w"}, testNow)
	require.NoError(t, err)
	require.NotNil(t, c.State)
	assert.Equal(t, "active", *c.State)
	assert.True(t, c.ActiveNow)
	assert.False(t, c.Stub)

	state, idle := "resolved", false
	c, err = NormalizeInitiatedConversation(ConversationRaw{
		SessionID: "s", WebsiteID: "w", State: &state, Active: &ActiveRaw{Now: &idle},
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "resolved", *c.State)
	assert.False(t, c.ActiveNow)

	_, err = NormalizeInitiatedConversation(ConversationRaw{SessionID: "s"}, testNow)
	require.ErrorIs(t, err, ErrMissingIdentity)
}

func TestStubConversation(t *testing.T) {
	c := StubConversation("s", "w", testNow)
	assert.True(t, c.Stub)
	assert.Equal(t, "active", *c.State)
	assert.True(t, c.ActiveNow)
	assert.Zero(t, c.UnreadOperator)
	assert.Equal(t, testNow.UnixMilli(), c.CreatedAtCrisp)
	assert.Equal(t, testNow.UnixMilli(), c.UpdatedAtCrisp)
}

func TestNormalizeMessage_TextAndStructuredContent(t *testing.T) {
	var text MessageRaw
	require.NoError(t, json.Unmarshal([]byte(`{
		"session_id": "s", "website_id": "w", "fingerprint": 7,
		"type": "text", "from": "user", "content": "hello",
		"user": {"user_id": "u1", "nickname": "Ada"}, "stamped": true, "timestamp": 1000
	}`), &text))

	m, err := NormalizeMessage(text, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.Fingerprint)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, "u1", *m.UserID)
	assert.True(t, m.Stamped)
	assert.Equal(t, int64(1000), m.Timestamp)

	var file MessageRaw
	require.NoError(t, json.Unmarshal([]byte(`{
		"session_id": "s", "website_id": "w", "fingerprint": "8",
		"type": "file", "from": "operator", "content": {"name": "a.png", "url": "https://x"}
	}`), &file))

	m, err = NormalizeMessage(file, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(8), m.Fingerprint)
	assert.JSONEq(t, `{"name":"a.png","url":"https://x"}`, m.Content)
	assert.Equal(t, testNow.UnixMilli(), m.Timestamp)
}

func TestNormalizeMessage_FallsBackToMessageID(t *testing.T) {
	id := Int64(99)
	m, err := NormalizeMessage(MessageRaw{SessionID: "s", WebsiteID: "w", MessageID: &id}, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(99), m.Fingerprint)
	assert.Equal(t, "text", m.Type)
}

func TestNormalizeMessage_RejectsMissingIdentity(t *testing.T) {
	fp := Int64(1)
	_, err := NormalizeMessage(MessageRaw{SessionID: "s", WebsiteID: "w"}, testNow)
	require.ErrorIs(t, err, ErrMissingIdentity)

	_, err = NormalizeMessage(MessageRaw{WebsiteID: "w", Fingerprint: &fp}, testNow)
	require.ErrorIs(t, err, ErrMissingIdentity)
}

func TestInt64_RejectsGarbage(t *testing.T) {
	var n Int64
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &n))
}
