package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/capitalize-ai/crisp-sync/internal/model"
	"github.com/capitalize-ai/crisp-sync/internal/store"
	"github.com/capitalize-ai/crisp-sync/internal/testutil/testdb"
	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

const testWebsite = "site_1"

var (
	errUpstream = errors.New("upstream unavailable")
	testNow     = time.UnixMilli(1_700_000_000_000)
)

// fakeGateway serves canned upstream data and records calls.
type fakeGateway struct {
	mu sync.Mutex

	pages         map[int][]model.ConversationRaw
	pageErrs      map[int]error
	conversations map[string]*model.ConversationRaw
	messages      map[string][]model.MessageRaw
	messageErrs   map[string]error

	// onListMessages runs before each message listing is served.
	onListMessages func(sessionID string)

	pageCalls    []int
	getCalls     int
	listMsgCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		pages:         map[int][]model.ConversationRaw{},
		pageErrs:      map[int]error{},
		conversations: map[string]*model.ConversationRaw{},
		messages:      map[string][]model.MessageRaw{},
		messageErrs:   map[string]error{},
	}
}

func (g *fakeGateway) ListConversations(ctx context.Context, websiteID string, page, perPage int) ([]model.ConversationRaw, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pageCalls = append(g.pageCalls, page)
	if perPage != PageSize {
		return nil, fmt.Errorf("unexpected per_page %d", perPage)
	}
	if err := g.pageErrs[page]; err != nil {
		return nil, err
	}
	return g.pages[page], nil
}

func (g *fakeGateway) GetConversation(ctx context.Context, websiteID, sessionID string) (*model.ConversationRaw, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	c, ok := g.conversations[sessionID]
	if !ok {
		return nil, errUpstream
	}
	cp := *c
	return &cp, nil
}

func (g *fakeGateway) ListMessages(ctx context.Context, websiteID, sessionID string) ([]model.MessageRaw, error) {
	g.mu.Lock()
	hook := g.onListMessages
	g.listMsgCalls++
	err := g.messageErrs[sessionID]
	msgs := append([]model.MessageRaw(nil), g.messages[sessionID]...)
	g.mu.Unlock()

	if hook != nil {
		hook(sessionID)
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (g *fakeGateway) calls() (pages []int, gets, listMsgs int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.pageCalls...), g.getCalls, g.listMsgCalls
}

// addPage registers n conversations with two messages each as the given page.
func (g *fakeGateway) addPage(page, n int) {
	raws := make([]model.ConversationRaw, 0, n)
	for i := 0; i < n; i++ {
		sid := fmt.Sprintf("p%d_s%d", page, i)
		raws = append(raws, rawConversation(sid, int64(1000+i)))
		base := int64(page*10_000 + i*10)
		g.messages[sid] = []model.MessageRaw{
			rawMessage(sid, base+1, 100, "hello"),
			rawMessage(sid, base+2, 200, "world"),
		}
	}
	g.pages[page] = raws
}

func rawConversation(sessionID string, updatedAt int64) model.ConversationRaw {
	ts := model.Int64(updatedAt)
	return model.ConversationRaw{SessionID: sessionID, WebsiteID: testWebsite, UpdatedAt: &ts, CreatedAt: &ts}
}

func rawMessage(sessionID string, fingerprint, timestamp int64, content string) model.MessageRaw {
	fp := model.Int64(fingerprint)
	ts := model.Int64(timestamp)
	typ := "text"
	from := model.FromUser
	return model.MessageRaw{
		SessionID:   sessionID,
		WebsiteID:   testWebsite,
		Fingerprint: &fp,
		Timestamp:   &ts,
		Type:        &typ,
		From:        &from,
		Content:     []byte(fmt.Sprintf("%q", content)),
	}
}

// racingStore inserts a competing copy of the first row right before the first batch insert,
// as a concurrent writer would between the writer's lookup and its insert.
type racingStore struct {
	*store.Store
	raced atomic.Bool

	conversation func(*model.Conversation)
	message      func(*model.Message)
}

func (s *racingStore) InsertConversations(ctx context.Context, rows []*model.Conversation) error {
	if len(rows) > 0 && s.conversation != nil && s.raced.CompareAndSwap(false, true) {
		rival := *rows[0]
		rival.ID = 0
		s.conversation(&rival)
		if _, err := s.Store.CreateConversation(ctx, &rival); err != nil {
			return err
		}
	}
	return s.Store.InsertConversations(ctx, rows)
}

func (s *racingStore) InsertMessages(ctx context.Context, rows []*model.Message) error {
	if len(rows) > 0 && s.message != nil && s.raced.CompareAndSwap(false, true) {
		rival := *rows[0]
		rival.ID = 0
		s.message(&rival)
		if _, err := s.Store.CreateMessage(ctx, &rival); err != nil {
			return err
		}
	}
	return s.Store.InsertMessages(ctx, rows)
}

// blindStore never sees existing messages, so concurrent handlers all reach the insert.
type blindStore struct {
	*store.Store
}

func (blindStore) MessageExists(context.Context, int64) (bool, error) { return false, nil }

type harness struct {
	store    *store.Store
	gateway  *fakeGateway
	writer   *Writer
	resolver *Resolver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := testdb.SQLite(t)
	g := newFakeGateway()
	w := NewWriter(s, logger.Nop())
	r := NewResolver(g, s, w, logger.Nop())
	r.now = func() time.Time { return testNow }
	return &harness{store: s, gateway: g, writer: w, resolver: r}
}

func (h *harness) ingestor(t *testing.T, st RecordStore, ttl time.Duration) *Ingestor {
	t.Helper()
	loc, err := NewMessageLocator(h.gateway, ttl)
	if err != nil {
		t.Fatalf("create locator: %v", err)
	}
	t.Cleanup(loc.Close)
	w := NewWriter(st, logger.Nop())
	ing := NewIngestor(st, w, NewResolver(h.gateway, st, w, logger.Nop()), loc, logger.Nop())
	ing.now = func() time.Time { return testNow }
	return ing
}

func messageEvent(kind model.EventKind, sessionID string, fingerprint int64, content string) model.Event {
	raw := rawMessage(sessionID, fingerprint, 500, content)
	raw.From = nil
	return model.Event{Kind: kind, WebsiteID: testWebsite, Message: &raw, ReceivedAt: testNow}
}

func countMessages(t *testing.T, s *store.Store, sessionID string) int64 {
	t.Helper()
	_, total, err := s.ListMessages(context.Background(), sessionID, 1, 1)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return total
}
