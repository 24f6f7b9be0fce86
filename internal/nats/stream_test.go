package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/crisp-sync/internal/model"
)

func TestEventSubject(t *testing.T) {
	assert.Equal(t, "crisp.events.site-1.message:send", EventSubject("site-1", model.EventMessageSent))
	assert.Equal(t, "crisp.events.a_b.session:request:initiated", EventSubject("a.b", model.EventConversationInitiated))
	assert.Equal(t, "crisp.events._.message:received", EventSubject("", model.EventMessageReceived))
}
