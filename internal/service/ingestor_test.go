package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/crisp-sync/internal/model"
)

func TestIngestor_DuplicateDeliveryStoresOnce(t *testing.T) {
	h := newHarness(t)
	h.gateway.conversations["s1"] = ptr(rawConversation("s1", 10))
	ing := h.ingestor(t, h.store, time.Minute)
	ctx := context.Background()

	ev := messageEvent(model.EventMessageSent, "s1", 42, "hi")
	require.NoError(t, ing.Handle(ctx, ev))
	require.NoError(t, ing.Handle(ctx, ev))

	assert.Equal(t, int64(1), countMessages(t, h.store, "s1"))
	_, gets, listMsgs := h.gateway.calls()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 1, listMsgs)
}

func TestIngestor_UnknownSessionGetsStub(t *testing.T) {
	h := newHarness(t)
	ing := h.ingestor(t, h.store, time.Minute)
	ctx := context.Background()

	require.NoError(t, ing.Handle(ctx, messageEvent(model.EventMessageReceived, "ghost", 7, "hello")))

	c, err := h.store.GetConversation(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, c.Stub)
	assert.Equal(t, testWebsite, c.WebsiteID)

	m, err := h.store.GetMessage(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "ghost", m.SessionID)
}

func TestIngestor_PrefersListingCopy(t *testing.T) {
	h := newHarness(t)
	h.gateway.conversations["s1"] = ptr(rawConversation("s1", 10))
	full := rawMessage("s1", 42, 500, "full text")
	h.gateway.messages["s1"] = []model.MessageRaw{full}
	ing := h.ingestor(t, h.store, time.Minute)

	require.NoError(t, ing.Handle(context.Background(), messageEvent(model.EventMessageSent, "s1", 42, "partial")))

	m, err := h.store.GetMessage(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "full text", m.Content)
	assert.Equal(t, model.FromUser, m.From)
}

func TestIngestor_FallsBackToPayloadWithDirection(t *testing.T) {
	cases := map[model.EventKind]string{
		model.EventMessageSent:     model.FromUser,
		model.EventMessageReceived: model.FromOperator,
	}
	for kind, from := range cases {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t)
			h.gateway.conversations["s1"] = ptr(rawConversation("s1", 10))
			h.gateway.messageErrs["s1"] = errUpstream
			ing := h.ingestor(t, h.store, time.Minute)

			require.NoError(t, ing.Handle(context.Background(), messageEvent(kind, "s1", 42, "payload")))

			m, err := h.store.GetMessage(context.Background(), 42)
			require.NoError(t, err)
			assert.Equal(t, "payload", m.Content)
			assert.Equal(t, from, m.From)
		})
	}
}

func TestIngestor_ListingCacheServesBursts(t *testing.T) {
	h := newHarness(t)
	h.gateway.conversations["s1"] = ptr(rawConversation("s1", 10))
	h.gateway.messages["s1"] = []model.MessageRaw{
		rawMessage("s1", 1, 100, "one"),
		rawMessage("s1", 2, 200, "two"),
	}
	ing := h.ingestor(t, h.store, time.Minute)
	ctx := context.Background()

	require.NoError(t, ing.Handle(ctx, messageEvent(model.EventMessageSent, "s1", 1, "")))
	require.NoError(t, ing.Handle(ctx, messageEvent(model.EventMessageSent, "s1", 2, "")))

	_, _, listMsgs := h.gateway.calls()
	assert.Equal(t, 1, listMsgs)
	assert.Equal(t, int64(2), countMessages(t, h.store, "s1"))
}

func TestIngestor_ConcurrentSameFingerprint(t *testing.T) {
	h := newHarness(t)
	h.gateway.conversations["s1"] = ptr(rawConversation("s1", 10))
	ing := h.ingestor(t, blindStore{Store: h.store}, 0)
	ev := messageEvent(model.EventMessageSent, "s1", 42, "race")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = ing.Handle(context.Background(), ev)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), countMessages(t, h.store, "s1"))
}

func TestIngestor_ConversationInitiatedIsInsertOnly(t *testing.T) {
	h := newHarness(t)
	ing := h.ingestor(t, h.store, time.Minute)
	ctx := context.Background()

	first := rawConversation("s1", 10)
	require.NoError(t, ing.Handle(ctx, model.Event{Kind: model.EventConversationInitiated, WebsiteID: testWebsite, Conversation: &first}))

	again := rawConversation("s1", 20)
	require.NoError(t, ing.Handle(ctx, model.Event{Kind: model.EventConversationInitiated, WebsiteID: testWebsite, Conversation: &again}))

	c, err := h.store.GetConversation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.UpdatedAtCrisp)
	require.NotNil(t, c.State)
	assert.Equal(t, "active", *c.State)
	assert.True(t, c.ActiveNow)
	_, gets, _ := h.gateway.calls()
	assert.Zero(t, gets)
}

func TestIngestor_DropsEventsWithoutIdentity(t *testing.T) {
	h := newHarness(t)
	ing := h.ingestor(t, h.store, time.Minute)

	ev := messageEvent(model.EventMessageSent, "s1", 1, "x")
	ev.Message.Fingerprint = nil
	require.NoError(t, ing.Handle(context.Background(), ev))

	ok, err := h.store.ConversationExists(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

type sliceSource struct {
	events []model.Event
	acked  *atomic.Int32
}

func (s sliceSource) Run(ctx context.Context, out chan<- model.Delivery) error {
	for _, ev := range s.events {
		d := model.NewDelivery(ev, func() error { s.acked.Add(1); return nil }, nil)
		select {
		case out <- d:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func TestIngestor_RunAcksHandledDeliveries(t *testing.T) {
	h := newHarness(t)
	ing := h.ingestor(t, h.store, time.Minute)

	var acked atomic.Int32
	src := sliceSource{
		events: []model.Event{
			messageEvent(model.EventMessageSent, "s1", 1, "a"),
			messageEvent(model.EventMessageSent, "s1", 1, "a"),
			messageEvent(model.EventMessageReceived, "s1", 2, "b"),
		},
		acked: &acked,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx, NewEventQueue(1), src) }()

	require.Eventually(t, func() bool { return acked.Load() == 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(2), countMessages(t, h.store, "s1"))
}

func ptr[T any](v T) *T { return &v }
