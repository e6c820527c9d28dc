package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/glowdesk/concierge/internal/bookings"
	"github.com/glowdesk/concierge/internal/channels/whatsapp"
	"github.com/glowdesk/concierge/internal/flow"
	"github.com/glowdesk/concierge/internal/identity"
	"github.com/glowdesk/concierge/internal/store"
	"github.com/glowdesk/concierge/pkg/logging"
)

type fakeStore struct {
	mu        sync.Mutex
	conv      store.Conversation
	inbound   []store.Message
	outbound  []store.Message
	seenIDs   map[string]bool
	active    int
	maxActive int

	processingDelay time.Duration
}

func newFakeStore(userID uuid.UUID) *fakeStore {
	return &fakeStore{
		conv: store.Conversation{
			ID:     uuid.New(),
			UserID: userID,
			Status: store.StatusActive,
			Flow:   flow.Idle(),
		},
		seenIDs: make(map[string]bool),
	}
}

func (f *fakeStore) EnsureOpen(_ context.Context, _ uuid.UUID) (*store.Conversation, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	conv := f.conv
	f.mu.Unlock()
	if f.processingDelay > 0 {
		time.Sleep(f.processingDelay)
	}
	return &conv, nil
}

func (f *fakeStore) SaveFlowState(_ context.Context, _ uuid.UUID, state flow.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conv.Flow = state
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, _ uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conv.Status = status
	return nil
}

func (f *fakeStore) Touch(_ context.Context, _ uuid.UUID, _ time.Time) error { return nil }

func (f *fakeStore) SeenInbound(_ context.Context, channelMessageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seenIDs[channelMessageID], nil
}

func (f *fakeStore) InsertInbound(_ context.Context, msg store.Message) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenIDs[msg.ChannelMessageID] {
		return uuid.Nil, store.ErrDuplicateMessage
	}
	f.seenIDs[msg.ChannelMessageID] = true
	msg.ID = uuid.New()
	f.inbound = append(f.inbound, msg)
	return msg.ID, nil
}

func (f *fakeStore) InsertOutbound(_ context.Context, msg store.Message) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = uuid.New()
	f.outbound = append(f.outbound, msg)
	f.active--
	return msg.ID, nil
}

func (f *fakeStore) ListByConversation(_ context.Context, _ uuid.UUID, _ int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Message(nil), f.inbound...), nil
}

type contactUpdate struct {
	name, phone, email string
}

type fakeResolver struct {
	user    identity.User
	err     error
	updates []contactUpdate
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string) (*identity.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u := f.user
	return &u, nil
}

func (f *fakeResolver) UpdateContact(_ context.Context, _ uuid.UUID, displayName, phone, email string) error {
	f.updates = append(f.updates, contactUpdate{name: displayName, phone: phone, email: email})
	return nil
}

type fakeLimiter struct {
	allow  bool
	notify bool
}

func (f *fakeLimiter) Allow(context.Context, string) bool        { return f.allow }
func (f *fakeLimiter) ShouldNotify(context.Context, string) bool { return f.notify }

type fakeMachine struct {
	owns   bool
	result flow.Result
	err    error
}

func (f *fakeMachine) Owns(flow.State, string) bool { return f.owns }
func (f *fakeMachine) Advance(context.Context, flow.Input, flow.State) (flow.Result, error) {
	return f.result, f.err
}

type recordingDeliverer struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (r *recordingDeliverer) Dispatch(_ context.Context, _, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.messages = append(r.messages, text)
	return "wamid.out", nil
}

func (r *recordingDeliverer) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingNotifier) NotifyHandoff(_ context.Context, _ *identity.User, _ uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return nil
}

type failingGenerator struct{}

func (failingGenerator) GenerateDirect(context.Context, GenerateRequest) (string, error) {
	return "", ErrGenerationFailed
}
func (failingGenerator) GenerateEscalated(context.Context, GenerateRequest) (string, error) {
	return "", ErrGenerationFailed
}

type panickyGenerator struct{}

func (panickyGenerator) GenerateDirect(context.Context, GenerateRequest) (string, error) {
	panic("model exploded")
}
func (panickyGenerator) GenerateEscalated(context.Context, GenerateRequest) (string, error) {
	panic("model exploded")
}

type orchestratorDeps struct {
	store     *fakeStore
	resolver  *fakeResolver
	limiter   *fakeLimiter
	machine   *fakeMachine
	generator Generator
	deliverer *recordingDeliverer
	notifier  *recordingNotifier
}

func newDeps() *orchestratorDeps {
	userID := uuid.New()
	return &orchestratorDeps{
		store:     newFakeStore(userID),
		resolver:  &fakeResolver{user: identity.User{ID: userID, Handle: "15551234", DisplayName: "Jane Doe"}},
		limiter:   &fakeLimiter{allow: true},
		machine:   &fakeMachine{},
		generator: NewTemplateGenerator("Glowdesk"),
		deliverer: &recordingDeliverer{},
		notifier:  &recordingNotifier{},
	}
}

func (d *orchestratorDeps) build() *Orchestrator {
	return NewOrchestrator(
		d.store,
		d.resolver,
		d.limiter,
		d.machine,
		NewComplaintDetector(logging.New("error")),
		d.generator,
		d.deliverer,
		d.notifier,
		nil,
		logging.New("error"),
		OrchestratorConfig{GenerateTimeout: time.Second, HistoryLimit: 10},
	)
}

func event(id, text string) whatsapp.InboundEvent {
	return whatsapp.InboundEvent{
		SenderHandle: "15551234",
		SenderName:   "Jane Doe",
		MessageID:    id,
		Type:         whatsapp.EventText,
		Text:         text,
		Timestamp:    time.Now(),
	}
}

func TestRoutineMessageGetsDirectReply(t *testing.T) {
	deps := newDeps()
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.1", "what are your opening hours?"))

	sent := deps.deliverer.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "open") {
		t.Fatalf("expected one hours reply, got %v", sent)
	}
	if len(deps.store.inbound) != 1 || len(deps.store.outbound) != 1 {
		t.Fatalf("expected message pair persisted, got %d in / %d out", len(deps.store.inbound), len(deps.store.outbound))
	}
	if deps.store.outbound[0].Failed {
		t.Fatal("delivered reply should not be flagged failed")
	}
}

func TestDuplicateDeliveryProcessedOnce(t *testing.T) {
	deps := newDeps()
	o := deps.build()
	ev := event("wamid.abc", "Hi")

	o.HandleInbound(context.Background(), ev)
	o.HandleInbound(context.Background(), ev)
	o.HandleInbound(context.Background(), ev)

	if len(deps.store.inbound) != 1 {
		t.Fatalf("duplicate deliveries should store one inbound message, got %d", len(deps.store.inbound))
	}
	if got := len(deps.deliverer.sent()); got != 1 {
		t.Fatalf("duplicate deliveries should produce one reply, got %d", got)
	}
}

func TestDuplicateCaughtAtInsert(t *testing.T) {
	deps := newDeps()
	// Defeat the pre-check so only the insert-level guard can catch it.
	deps.store.seenIDs["wamid.abc"] = false
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.abc", "Hi"))
	deps.store.mu.Lock()
	deps.store.seenIDs["wamid.abc"] = true
	deps.store.mu.Unlock()
	// Simulate the race where the pre-check misses but the insert conflicts.
	o.process(context.Background(), event("wamid.abc", "Hi"), &deps.resolver.user)

	if len(deps.store.inbound) != 1 {
		t.Fatalf("expected one stored inbound message, got %d", len(deps.store.inbound))
	}
	if got := len(deps.deliverer.sent()); got != 1 {
		t.Fatalf("expected one reply, got %d", got)
	}
}

func TestComplaintEscalatesAndHandsOff(t *testing.T) {
	deps := newDeps()
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.2", "you ruined my hair, I want a refund"))

	if deps.store.conv.Status != store.StatusAwaitingHuman {
		t.Fatalf("complaint should park the conversation, status %s", deps.store.conv.Status)
	}
	if len(deps.notifier.reasons) != 1 || !strings.Contains(deps.notifier.reasons[0], "complaint") {
		t.Fatalf("expected a complaint handoff notification, got %v", deps.notifier.reasons)
	}
	sent := deps.deliverer.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "sorry") {
		t.Fatalf("expected an apology reply, got %v", sent)
	}
}

func TestVIPGetsEscalatedReplyWithoutHandoff(t *testing.T) {
	deps := newDeps()
	deps.resolver.user.VIP = true
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.3", "hello!"))

	if deps.store.conv.Status != store.StatusActive {
		t.Fatalf("VIP treatment should not hand off, status %s", deps.store.conv.Status)
	}
	if len(deps.notifier.reasons) != 0 {
		t.Fatalf("no notification expected, got %v", deps.notifier.reasons)
	}
	if got := len(deps.deliverer.sent()); got != 1 {
		t.Fatalf("expected one reply, got %d", got)
	}
}

func TestFallbackOnGeneratorFailure(t *testing.T) {
	deps := newDeps()
	deps.generator = failingGenerator{}
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.4", "hello"))

	sent := deps.deliverer.sent()
	if len(sent) != 1 || sent[0] != FallbackReply {
		t.Fatalf("expected the fallback reply, got %v", sent)
	}
	if len(deps.store.outbound) != 1 || deps.store.outbound[0].Content != FallbackReply {
		t.Fatal("fallback reply should still be persisted")
	}
}

func TestFailedDeliveryPersistsOutbound(t *testing.T) {
	deps := newDeps()
	deps.deliverer.err = ErrDeliveryFailed
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.5", "hello"))

	if len(deps.store.outbound) != 1 {
		t.Fatalf("expected the undelivered reply persisted, got %d", len(deps.store.outbound))
	}
	if !deps.store.outbound[0].Failed {
		t.Fatal("undelivered reply should carry the failed flag")
	}
}

func TestRateLimitedSendsNoticeOnce(t *testing.T) {
	deps := newDeps()
	deps.limiter.allow = false
	deps.limiter.notify = true
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.6", "spam"))
	deps.limiter.notify = false
	o.HandleInbound(context.Background(), event("wamid.7", "spam"))
	o.HandleInbound(context.Background(), event("wamid.8", "spam"))

	sent := deps.deliverer.sent()
	if len(sent) != 1 || sent[0] != rateLimitNotice {
		t.Fatalf("expected exactly one rate limit notice, got %v", sent)
	}
	if len(deps.store.inbound) != 0 {
		t.Fatalf("rate limited messages should not be stored, got %d", len(deps.store.inbound))
	}
}

func TestAwaitingHumanGetsAck(t *testing.T) {
	deps := newDeps()
	deps.store.conv.Status = store.StatusAwaitingHuman
	deps.machine.owns = true
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.9", "any update?"))

	sent := deps.deliverer.sent()
	if len(sent) != 1 || sent[0] != awaitingHumanAck {
		t.Fatalf("expected the handoff acknowledgement, got %v", sent)
	}
	if len(deps.store.inbound) != 1 {
		t.Fatal("inbound message should still be stored during handoff")
	}
}

func TestFlowStrategySavesStateAndReplies(t *testing.T) {
	deps := newDeps()
	deps.machine.owns = true
	deps.machine.result = flow.Result{
		State: flow.State{Step: flow.StepCollectingName, UpdatedAt: time.Now()},
		Reply: "What name should I use?",
	}
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.10", "book me in"))

	sent := deps.deliverer.sent()
	if len(sent) != 1 || sent[0] != "What name should I use?" {
		t.Fatalf("expected the dialogue prompt, got %v", sent)
	}
	if deps.store.conv.Flow.Step != flow.StepCollectingName {
		t.Fatalf("dialogue state should be persisted, got %s", deps.store.conv.Flow.Step)
	}
}

func TestCompletedBookingBackfillsContact(t *testing.T) {
	deps := newDeps()
	deps.machine.owns = true
	deps.machine.result = flow.Result{
		State: flow.Idle(),
		Reply: "All booked!",
		Booking: &bookings.Booking{
			ID:           uuid.New(),
			CustomerName: "Jane Doe",
			Contact:      "555-1234",
			Service:      "Haircut",
		},
	}
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.13", "yes"))

	if len(deps.resolver.updates) != 1 {
		t.Fatalf("expected one contact backfill, got %d", len(deps.resolver.updates))
	}
	got := deps.resolver.updates[0]
	if got.name != "Jane Doe" || got.phone != "555-1234" || got.email != "" {
		t.Fatalf("unexpected contact backfill: %+v", got)
	}

	deps.machine.result.Booking.Contact = "jane@example.com"
	o.HandleInbound(context.Background(), event("wamid.14", "yes"))
	got = deps.resolver.updates[1]
	if got.phone != "" || got.email != "jane@example.com" {
		t.Fatalf("email contact should land in the email column: %+v", got)
	}
}

func TestFlowEscalationParksConversation(t *testing.T) {
	deps := newDeps()
	deps.machine.owns = true
	deps.machine.result = flow.Result{
		State:    flow.Idle(),
		Reply:    "Let me get a team member to help.",
		Escalate: true,
	}
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.11", "???"))

	if deps.store.conv.Status != store.StatusAwaitingHuman {
		t.Fatalf("dialogue escalation should park the conversation, status %s", deps.store.conv.Status)
	}
	if len(deps.notifier.reasons) != 1 {
		t.Fatalf("expected a handoff notification, got %v", deps.notifier.reasons)
	}
}

func TestPanicResolvesWithFallback(t *testing.T) {
	deps := newDeps()
	deps.generator = panickyGenerator{}
	o := deps.build()

	o.HandleInbound(context.Background(), event("wamid.12", "hello"))

	sent := deps.deliverer.sent()
	if len(sent) != 1 || sent[0] != FallbackReply {
		t.Fatalf("expected the fallback reply after a panic, got %v", sent)
	}
}

func TestSameUserMessagesAreSerialized(t *testing.T) {
	deps := newDeps()
	deps.store.processingDelay = 5 * time.Millisecond
	o := deps.build()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			o.HandleInbound(context.Background(), event(uuid.NewString(), "hello"))
		}(i)
	}
	wg.Wait()

	deps.store.mu.Lock()
	maxActive := deps.store.maxActive
	deps.store.mu.Unlock()
	if maxActive != 1 {
		t.Fatalf("same-user messages must be processed one at a time, saw %d concurrent", maxActive)
	}
	if len(deps.store.inbound) != 10 {
		t.Fatalf("every message should be processed, got %d", len(deps.store.inbound))
	}
}
