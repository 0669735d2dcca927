package engine

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"testing"
	"time"

	"zapflow/internal/channel"
	"zapflow/internal/repo"
)

// fakeStore is an in-memory Store with the same race semantics the
// database provides: claims are compare-and-set, inserts reconcile to the
// existing row.
type fakeStore struct {
	mu sync.Mutex

	contacts      map[string]*repo.Contact
	conversations map[string]*repo.Conversation
	messages      []repo.Message
	processed     map[string]bool
	pending       map[string]*repo.PendingResponse
	agents        map[string]*repo.AgentConfig
	connections   map[string]*repo.Connection
	usageEvents   []repo.UsageEvent

	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contacts:      make(map[string]*repo.Contact),
		conversations: make(map[string]*repo.Conversation),
		processed:     make(map[string]bool),
		pending:       make(map[string]*repo.PendingResponse),
		agents:        make(map[string]*repo.AgentConfig),
		connections:   make(map[string]*repo.Connection),
	}
}

func (f *fakeStore) id() string {
	f.nextID++
	return fmt.Sprintf("id-%d", f.nextID)
}

func (f *fakeStore) Close()                                     {}
func (f *fakeStore) Ping(context.Context) error                 { return nil }
func (f *fakeStore) RunMigrations(context.Context, fs.FS) error { return nil }

func (f *fakeStore) UpdateConnectionStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.connections[id]; ok {
		conn.Status = status
	}
	return nil
}

func (f *fakeStore) GetContact(_ context.Context, id string) (*repo.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contacts[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) GetContactByAddress(_ context.Context, accountID, address string) (*repo.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.contacts {
		if c.AccountID == accountID && c.Address == address {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateContact(_ context.Context, contact repo.Contact) (*repo.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.contacts {
		if c.AccountID == contact.AccountID && c.Address == contact.Address {
			copied := *c
			return &copied, nil
		}
	}
	contact.ID = f.id()
	f.contacts[contact.ID] = &contact
	copied := contact
	return &copied, nil
}

func (f *fakeStore) UpdateContactProfile(_ context.Context, id string, name, avatarURL *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[id]
	if !ok {
		return nil
	}
	if name != nil {
		c.Name = name
	}
	if avatarURL != nil {
		c.AvatarURL = avatarURL
	}
	return nil
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (*repo.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conversations[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) GetOpenConversation(_ context.Context, accountID, contactID, connectionID string) (*repo.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.AccountID == accountID && c.ContactID == contactID && c.ConnectionID == connectionID && !c.Archived {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateConversation(_ context.Context, conv repo.Conversation) (*repo.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.AccountID == conv.AccountID && c.ContactID == conv.ContactID && c.ConnectionID == conv.ConnectionID && !c.Archived {
			copied := *c
			return &copied, nil
		}
	}
	conv.ID = f.id()
	conv.Status = repo.StatusActive
	f.conversations[conv.ID] = &conv
	copied := conv
	return &copied, nil
}

func (f *fakeStore) UpdateConversationOnMessage(_ context.Context, id, snapshot, status string, unreadDelta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok {
		return nil
	}
	c.LastMessage = &snapshot
	if c.Status != repo.StatusClosed {
		c.Status = status
	}
	c.Unread += unreadDelta
	if c.Unread < 0 {
		c.Unread = 0
	}
	return nil
}

func (f *fakeStore) IsProcessed(_ context.Context, accountID, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[accountID+"/"+externalID], nil
}

func (f *fakeStore) InsertInboundMessage(_ context.Context, msg repo.Message) (*repo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = f.id()
	msg.Direction = repo.DirectionIn
	msg.CreatedAt = time.Now()
	f.messages = append(f.messages, msg)
	if msg.ExternalID != nil && *msg.ExternalID != "" {
		f.processed[msg.AccountID+"/"+*msg.ExternalID] = true
	}
	return &msg, nil
}

func (f *fakeStore) InsertOutboundMessage(_ context.Context, msg repo.Message) (*repo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = f.id()
	msg.Direction = repo.DirectionOut
	msg.CreatedAt = time.Now()
	f.messages = append(f.messages, msg)
	return &msg, nil
}

func (f *fakeStore) ListRecentMessages(_ context.Context, conversationID string, limit int) ([]repo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repo.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) LastInboundMessage(_ context.Context, conversationID string) (*repo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		m := f.messages[i]
		if m.ConversationID == conversationID && m.Direction == repo.DirectionIn {
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SchedulePending(_ context.Context, conversationID string, fireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[conversationID] = &repo.PendingResponse{
		ConversationID: conversationID,
		FireAt:         fireAt,
	}
	return nil
}

func (f *fakeStore) ClaimPending(_ context.Context, conversationID string) (*repo.PendingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pending[conversationID]
	if !ok || p.Claimed {
		return nil, nil
	}
	p.Claimed = true
	copied := *p
	return &copied, nil
}

func (f *fakeStore) ReleasePending(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pending[conversationID]; ok {
		p.Claimed = false
	}
	return nil
}

func (f *fakeStore) DeletePending(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Same ownership rule as the database: a refreshed (unclaimed) row
	// belongs to its own upcoming cycle and survives.
	if p, ok := f.pending[conversationID]; ok && p.Claimed {
		delete(f.pending, conversationID)
	}
	return nil
}

func (f *fakeStore) ListDuePending(_ context.Context, now time.Time, limit int) ([]repo.PendingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repo.PendingResponse
	for _, p := range f.pending {
		if !p.Claimed && !p.FireAt.After(now) {
			out = append(out, *p)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetAgentConfig(_ context.Context, id string) (*repo.AgentConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.agents[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) GetPrincipalAgent(_ context.Context, accountID string) (*repo.AgentConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.AccountID == accountID && a.Principal {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetConnection(_ context.Context, id string) (*repo.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.connections[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) InsertUsageEvent(_ context.Context, event repo.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageEvents = append(f.usageEvents, event)
	return nil
}

func (f *fakeStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

var _ repo.Store = (*fakeStore)(nil)

// fakeSender records sends and can fail selected fragments.
type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	failOn map[int]bool
	calls  int
	typing int
}

func (s *fakeSender) Send(_ context.Context, _ channel.Endpoint, _, text, _, _ string) (*channel.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if s.failOn[call] {
		return nil, fmt.Errorf("provider rejected fragment %d", call)
	}
	s.sent = append(s.sent, text)
	return &channel.SendResult{ProviderMessageID: fmt.Sprintf("ext-%d", call)}, nil
}

func (s *fakeSender) Presence(_ context.Context, _ channel.Endpoint, _ string, composing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if composing {
		s.typing++
	}
	return nil
}

func testEngine(store *fakeStore, sender channel.Sender) *Engine {
	senders := map[string]channel.Sender{}
	if sender != nil {
		senders[repo.ProviderEvo] = sender
	}
	eng := New(store, nil, senders, nil, slog.New(slog.DiscardHandler), Config{
		AIDefaultModel: "gpt-4o-mini",
		AITimeout:      time.Second,
	})
	return eng
}

func seedConnection(store *fakeStore) *repo.Connection {
	conn := &repo.Connection{
		ID:        "conn-1",
		AccountID: "acct-1",
		Provider:  repo.ProviderEvo,
		BaseURL:   "http://gateway.local",
		Token:     "secret",
	}
	store.connections[conn.ID] = conn
	return conn
}

func TestIngestDeduplicatesByExternalID(t *testing.T) {
	store := newFakeStore()
	conn := seedConnection(store)
	eng := testEngine(store, nil)

	inbound := channel.Inbound{
		ExternalID: "wamid-1",
		Sender:     "5511999990000",
		Kind:       channel.KindText,
		Text:       "hello",
	}
	for i := 0; i < 3; i++ {
		if err := eng.Ingest(context.Background(), conn, inbound); err != nil {
			t.Fatal(err)
		}
	}
	if n := store.messageCount(); n != 1 {
		t.Fatalf("expected 1 stored message after redelivery, got %d", n)
	}
}

// flakyStore fails the first message inserts, as a database hiccup would.
type flakyStore struct {
	*fakeStore
	failures int
}

func (s *flakyStore) InsertInboundMessage(ctx context.Context, msg repo.Message) (*repo.Message, error) {
	if s.failures > 0 {
		s.failures--
		return nil, fmt.Errorf("insert rejected")
	}
	return s.fakeStore.InsertInboundMessage(ctx, msg)
}

func TestIngestAcceptsRedeliveryAfterFailedPersist(t *testing.T) {
	base := newFakeStore()
	conn := seedConnection(base)
	store := &flakyStore{fakeStore: base, failures: 1}
	eng := New(store, nil, nil, nil, slog.New(slog.DiscardHandler), Config{
		AIDefaultModel: "gpt-4o-mini",
		AITimeout:      time.Second,
	})

	inbound := channel.Inbound{
		ExternalID: "wamid-1",
		Sender:     "5511999990000",
		Kind:       channel.KindText,
		Text:       "hello",
	}
	if err := eng.Ingest(context.Background(), conn, inbound); err == nil {
		t.Fatal("expected the first delivery to surface the insert failure")
	}
	if n := base.messageCount(); n != 0 {
		t.Fatalf("expected nothing persisted after the failure, got %d", n)
	}

	// The provider retries a message that never made it to storage. It
	// must not be treated as a duplicate of the failed attempt.
	if err := eng.Ingest(context.Background(), conn, inbound); err != nil {
		t.Fatal(err)
	}
	if n := base.messageCount(); n != 1 {
		t.Fatalf("expected the redelivery persisted, got %d messages", n)
	}
}

func TestIngestReusesContactAndConversation(t *testing.T) {
	store := newFakeStore()
	conn := seedConnection(store)
	eng := testEngine(store, nil)

	for i := 0; i < 3; i++ {
		inbound := channel.Inbound{
			ExternalID: fmt.Sprintf("wamid-%d", i),
			Sender:     "5511999990000",
			Kind:       channel.KindText,
			Text:       fmt.Sprintf("message %d", i),
		}
		if err := eng.Ingest(context.Background(), conn, inbound); err != nil {
			t.Fatal(err)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.contacts) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(store.contacts))
	}
	if len(store.conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(store.conversations))
	}
	for _, conv := range store.conversations {
		if conv.Unread != 3 {
			t.Fatalf("expected unread 3, got %d", conv.Unread)
		}
	}
}

func TestIngestCoalescesBurstIntoOneReply(t *testing.T) {
	store := newFakeStore()
	conn := seedConnection(store)
	// Principal agent binds automation to the auto-created conversation.
	// The generous debounce keeps the in-process timer out of the test.
	store.agents["agent-1"] = &repo.AgentConfig{
		ID: "agent-1", AccountID: "acct-1", Principal: true,
		Always24h: true, DebounceSeconds: 300,
	}
	eng := testEngine(store, nil)

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	current := base
	eng.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		current = base.Add(time.Duration(i) * 2 * time.Second)
		inbound := channel.Inbound{
			ExternalID: fmt.Sprintf("wamid-%d", i),
			Sender:     "5511999990000",
			Kind:       channel.KindText,
			Text:       fmt.Sprintf("part %d", i),
		}
		if err := eng.Ingest(context.Background(), conn, inbound); err != nil {
			t.Fatal(err)
		}
	}

	store.mu.Lock()
	if len(store.pending) != 1 {
		store.mu.Unlock()
		t.Fatalf("expected the burst to share one timer, got %d", len(store.pending))
	}
	var convID string
	var fireAt time.Time
	for id, p := range store.pending {
		convID, fireAt = id, p.FireAt
	}
	store.mu.Unlock()

	// Each message pushes the fire time out; only the last one counts.
	want := base.Add(4 * time.Second).Add(300 * time.Second)
	if !fireAt.Equal(want) {
		t.Fatalf("expected fire time %v after the last message, got %v", want, fireAt)
	}

	// Once due, a single cycle consumes the whole burst.
	current = fireAt
	if err := eng.ProcessDue(context.Background(), convID); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.pending[convID]; ok {
		t.Fatal("consumed debounce row must be gone")
	}
}

func TestIngestDropsSenderlessPayload(t *testing.T) {
	store := newFakeStore()
	conn := seedConnection(store)
	eng := testEngine(store, nil)

	if err := eng.Ingest(context.Background(), conn, channel.Inbound{Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if n := store.messageCount(); n != 0 {
		t.Fatalf("expected no stored message, got %d", n)
	}
}

func TestProcessDueClaimIsExclusive(t *testing.T) {
	store := newFakeStore()
	eng := testEngine(store, nil)

	// Automation stays off so the race isolates the claim itself: every
	// winning ProcessDue consumes the row without attempting a reply.
	store.conversations["conv-1"] = &repo.Conversation{
		ID: "conv-1", AccountID: "acct-1", ContactID: "c-1", ConnectionID: "conn-1",
	}

	const rounds = 8
	const racers = 16
	for round := 0; round < rounds; round++ {
		if err := store.SchedulePending(context.Background(), "conv-1", time.Now().Add(-time.Second)); err != nil {
			t.Fatal(err)
		}
		wins := make(chan bool, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := store.ClaimPending(context.Background(), "conv-1")
				if err != nil {
					t.Error(err)
					return
				}
				wins <- p != nil
			}()
		}
		wg.Wait()
		close(wins)

		won := 0
		for w := range wins {
			if w {
				won++
			}
		}
		if won != 1 {
			t.Fatalf("round %d: expected exactly one winning claim, got %d", round, won)
		}
		if err := eng.ProcessDue(context.Background(), "conv-1"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestProcessDueReleasesFutureFireTime(t *testing.T) {
	store := newFakeStore()
	eng := testEngine(store, nil)

	store.conversations["conv-1"] = &repo.Conversation{
		ID: "conv-1", AccountID: "acct-1", ContactID: "c-1", ConnectionID: "conn-1", AgentEnabled: true,
	}
	// Refreshed debounce: the stored fire time is still ahead of us.
	if err := store.SchedulePending(context.Background(), "conv-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	if err := eng.ProcessDue(context.Background(), "conv-1"); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	p, ok := store.pending["conv-1"]
	if !ok {
		t.Fatal("pending row must survive an early claim")
	}
	if p.Claimed {
		t.Fatal("pending row must be released for the later cycle")
	}
}

func TestProcessDueDeletesConsumedRow(t *testing.T) {
	store := newFakeStore()
	eng := testEngine(store, nil)

	// Automation disabled: the row is discarded without a reply.
	store.conversations["conv-1"] = &repo.Conversation{
		ID: "conv-1", AccountID: "acct-1", ContactID: "c-1", ConnectionID: "conn-1",
	}
	if err := store.SchedulePending(context.Background(), "conv-1", time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	if err := eng.ProcessDue(context.Background(), "conv-1"); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.pending["conv-1"]; ok {
		t.Fatal("consumed pending row must be deleted")
	}
}

// refreshingStore simulates a new inbound message landing while a cycle is
// already running: loading the conversation re-upserts the debounce row.
type refreshingStore struct {
	*fakeStore
	refreshAt time.Time
}

func (s *refreshingStore) GetConversation(ctx context.Context, id string) (*repo.Conversation, error) {
	if err := s.fakeStore.SchedulePending(ctx, id, s.refreshAt); err != nil {
		return nil, err
	}
	return s.fakeStore.GetConversation(ctx, id)
}

func TestProcessDueKeepsRowRefreshedMidCycle(t *testing.T) {
	base := newFakeStore()
	base.conversations["conv-1"] = &repo.Conversation{
		ID: "conv-1", AccountID: "acct-1", ContactID: "c-1", ConnectionID: "conn-1",
	}
	if err := base.SchedulePending(context.Background(), "conv-1", time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	refreshAt := time.Now().Add(10 * time.Second)
	store := &refreshingStore{fakeStore: base, refreshAt: refreshAt}
	eng := New(store, nil, nil, nil, slog.New(slog.DiscardHandler), Config{
		AIDefaultModel: "gpt-4o-mini",
		AITimeout:      time.Second,
	})

	if err := eng.ProcessDue(context.Background(), "conv-1"); err != nil {
		t.Fatal(err)
	}

	base.mu.Lock()
	defer base.mu.Unlock()
	p, ok := base.pending["conv-1"]
	if !ok {
		t.Fatal("row refreshed mid-cycle must survive the finished cycle's cleanup")
	}
	if p.Claimed {
		t.Fatal("refreshed row must be unclaimed for its own cycle")
	}
	if !p.FireAt.Equal(refreshAt) {
		t.Fatalf("expected refreshed fire time %v, got %v", refreshAt, p.FireAt)
	}
}

func TestDispatchFragmentsAndPersists(t *testing.T) {
	store := newFakeStore()
	seedConnection(store)
	sender := &fakeSender{}
	eng := testEngine(store, sender)

	agentID := "agent-1"
	store.agents[agentID] = &repo.AgentConfig{
		ID: agentID, AccountID: "acct-1",
		FragmentEnabled: true, FragmentMaxLen: 30,
	}
	store.contacts["c-1"] = &repo.Contact{ID: "c-1", AccountID: "acct-1", Address: "5511999990000"}
	conv := &repo.Conversation{
		ID: "conv-1", AccountID: "acct-1", ContactID: "c-1", ConnectionID: "conn-1",
		AgentID: &agentID, AgentEnabled: true,
	}
	store.conversations[conv.ID] = conv

	outcome := Outcome{
		Kind: OutcomeAIReply,
		Text: "First sentence goes here. Second sentence arrives later.",
	}
	if err := eng.Dispatch(context.Background(), conv, outcome); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 fragments sent, got %v", sender.sent)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	outbound := 0
	for _, m := range store.messages {
		if m.Direction == repo.DirectionOut {
			outbound++
			if !m.FromAutomation {
				t.Error("outbound fragment must be marked as automated")
			}
			if m.ExternalID == nil {
				t.Error("outbound fragment must carry the provider message id")
			}
		}
	}
	if outbound != 2 {
		t.Fatalf("expected 2 outbound messages persisted, got %d", outbound)
	}
	if store.conversations["conv-1"].Status != repo.StatusAwaitingCustomer {
		t.Fatalf("expected awaiting-customer status, got %s", store.conversations["conv-1"].Status)
	}
}

func TestDispatchContinuesPastFragmentFailure(t *testing.T) {
	store := newFakeStore()
	seedConnection(store)
	sender := &fakeSender{failOn: map[int]bool{0: true}}
	eng := testEngine(store, sender)

	agentID := "agent-1"
	store.agents[agentID] = &repo.AgentConfig{
		ID: agentID, AccountID: "acct-1",
		FragmentEnabled: true, FragmentMaxLen: 30,
	}
	store.contacts["c-1"] = &repo.Contact{ID: "c-1", AccountID: "acct-1", Address: "5511999990000"}
	conv := &repo.Conversation{
		ID: "conv-1", AccountID: "acct-1", ContactID: "c-1", ConnectionID: "conn-1",
		AgentID: &agentID, AgentEnabled: true,
	}
	store.conversations[conv.ID] = conv

	outcome := Outcome{
		Kind: OutcomeAIReply,
		Text: "First sentence goes here. Second sentence arrives later.",
	}
	if err := eng.Dispatch(context.Background(), conv, outcome); err != nil {
		t.Fatal(err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected the second fragment still delivered, got %v", sender.sent)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.usageEvents) != 1 || store.usageEvents[0].Kind != repo.UsageKindSendFailure {
		t.Fatalf("expected one send-failure audit event, got %+v", store.usageEvents)
	}
}

func TestDispatchSkipsWhenAutomationDisabled(t *testing.T) {
	store := newFakeStore()
	seedConnection(store)
	sender := &fakeSender{}
	eng := testEngine(store, sender)

	conv := &repo.Conversation{
		ID: "conv-1", AccountID: "acct-1", ContactID: "c-1", ConnectionID: "conn-1",
		AgentEnabled: true,
	}
	// Stored copy has automation switched off after the claim.
	stored := *conv
	stored.AgentEnabled = false
	store.conversations[conv.ID] = &stored

	if err := eng.Dispatch(context.Background(), conv, Outcome{Kind: OutcomeAIReply, Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no sends, got %v", sender.sent)
	}
}

func TestRecordConnectionStatusAuditsActivity(t *testing.T) {
	store := newFakeStore()
	conn := seedConnection(store)
	eng := testEngine(store, nil)

	if err := eng.RecordConnectionStatus(context.Background(), conn, "open"); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if got := store.connections["conn-1"].Status; got != "open" {
		t.Fatalf("expected connection status open, got %q", got)
	}
	if len(store.usageEvents) != 1 {
		t.Fatalf("expected one activity event, got %d", len(store.usageEvents))
	}
	event := store.usageEvents[0]
	if event.Kind != repo.UsageKindActivity {
		t.Fatalf("expected kind %s, got %s", repo.UsageKindActivity, event.Kind)
	}
	if event.Provider != repo.ProviderEvo {
		t.Fatalf("expected provider %s, got %s", repo.ProviderEvo, event.Provider)
	}
	if event.Detail["status"] != "open" {
		t.Fatalf("expected status detail, got %+v", event.Detail)
	}
}
