package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/glowdesk/concierge/internal/channels/whatsapp"
	"github.com/glowdesk/concierge/internal/flow"
	"github.com/glowdesk/concierge/internal/identity"
	"github.com/glowdesk/concierge/internal/observability/metrics"
	"github.com/glowdesk/concierge/internal/store"
	"github.com/glowdesk/concierge/pkg/logging"
)

var engineTracer = otel.Tracer("concierge.internal.engine")

// awaitingHumanAck is sent while a conversation is parked for a human, so the
// customer always hears back even when automation has stepped aside.
const awaitingHumanAck = "Thanks for your message! A team member is looking after this conversation and will be with you shortly."

// rateLimitNotice is sent at most once per cooldown to users over the
// inbound message cap.
const rateLimitNotice = "You're sending messages a little faster than I can keep up with. Give me a moment and I'll be right with you!"

// ConversationStore is the persistence surface the orchestrator needs;
// satisfied by *store.Store.
type ConversationStore interface {
	EnsureOpen(ctx context.Context, userID uuid.UUID) (*store.Conversation, error)
	SaveFlowState(ctx context.Context, id uuid.UUID, state flow.State) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	SeenInbound(ctx context.Context, channelMessageID string) (bool, error)
	InsertInbound(ctx context.Context, msg store.Message) (uuid.UUID, error)
	InsertOutbound(ctx context.Context, msg store.Message) (uuid.UUID, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error)
}

// Resolver maps channel handles to users and backfills contact details the
// booking dialogue collects; satisfied by *identity.Repository.
type Resolver interface {
	Resolve(ctx context.Context, handle, displayName string) (*identity.User, error)
	UpdateContact(ctx context.Context, id uuid.UUID, displayName, phone, email string) error
}

// RateLimiter guards against inbound floods; satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
	ShouldNotify(ctx context.Context, key string) bool
}

// DialogueMachine drives the booking flow; satisfied by *flow.Machine.
type DialogueMachine interface {
	Owns(state flow.State, text string) bool
	Advance(ctx context.Context, in flow.Input, state flow.State) (flow.Result, error)
}

// Deliverer sends outbound replies; satisfied by *Dispatcher.
type Deliverer interface {
	Dispatch(ctx context.Context, userHandle, text string) (string, error)
}

// HandoffNotifier tells the operator a conversation needs a human. A nil
// notifier disables notification without disabling the handoff itself.
type HandoffNotifier interface {
	NotifyHandoff(ctx context.Context, user *identity.User, conversationID uuid.UUID, reason string) error
}

// OrchestratorConfig carries the tunables the pipeline needs directly.
type OrchestratorConfig struct {
	GenerateTimeout time.Duration
	HistoryLimit    int
}

// Orchestrator runs the full inbound pipeline: dedup, rate limit, identity,
// conversation load, strategy selection, reply authoring, dispatch and
// persistence. One call handles one inbound message end to end.
type Orchestrator struct {
	store     ConversationStore
	users     Resolver
	limiter   RateLimiter
	machine   DialogueMachine
	detector  Detector
	generator Generator
	deliverer Deliverer
	notifier  HandoffNotifier
	metrics   *metrics.PipelineMetrics
	logger    *logging.Logger
	config    OrchestratorConfig
	locks     *userLocks
}

// NewOrchestrator wires the pipeline. All dependencies except the notifier
// are required.
func NewOrchestrator(
	st ConversationStore,
	users Resolver,
	limiter RateLimiter,
	machine DialogueMachine,
	detector Detector,
	generator Generator,
	deliverer Deliverer,
	notifier HandoffNotifier,
	pipelineMetrics *metrics.PipelineMetrics,
	logger *logging.Logger,
	config OrchestratorConfig,
) *Orchestrator {
	if st == nil || users == nil || limiter == nil || machine == nil || detector == nil || generator == nil || deliverer == nil {
		panic("engine: missing orchestrator dependency")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if config.GenerateTimeout <= 0 {
		config.GenerateTimeout = 10 * time.Second
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 20
	}
	return &Orchestrator{
		store:     st,
		users:     users,
		limiter:   limiter,
		machine:   machine,
		detector:  detector,
		generator: generator,
		deliverer: deliverer,
		notifier:  notifier,
		metrics:   pipelineMetrics,
		logger:    logger,
		config:    config,
		locks:     newUserLocks(),
	}
}

// HandleInbound processes one inbound event. It never returns an error for
// user-visible failures; those are resolved with the fallback reply so the
// webhook source is not retried into duplicates.
func (o *Orchestrator) HandleInbound(ctx context.Context, ev whatsapp.InboundEvent) {
	ctx, span := engineTracer.Start(ctx, "engine.handle_inbound")
	defer span.End()
	span.SetAttributes(
		attribute.String("concierge.channel_message_id", ev.MessageID),
		attribute.String("concierge.event_type", string(ev.Type)),
	)

	o.metrics.ObserveInbound()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic while handling inbound message", "channel_message_id", ev.MessageID, "panic", fmt.Sprint(r))
			o.metrics.ObservePanic()
			o.deliverBestEffort(context.WithoutCancel(ctx), ev.SenderHandle, FallbackReply)
		}
	}()

	if seen, err := o.store.SeenInbound(ctx, ev.MessageID); err == nil && seen {
		o.logger.Info("duplicate inbound dropped", "channel_message_id", ev.MessageID)
		o.metrics.ObserveDuplicate()
		return
	}

	if !o.limiter.Allow(ctx, ev.SenderHandle) {
		o.metrics.ObserveRateLimited()
		if o.limiter.ShouldNotify(ctx, ev.SenderHandle) {
			o.deliverBestEffort(ctx, ev.SenderHandle, rateLimitNotice)
		}
		return
	}

	user, err := o.users.Resolve(ctx, ev.SenderHandle, ev.SenderName)
	if err != nil {
		o.logger.Error("identity resolution failed", "sender_handle", ev.SenderHandle, "error", err)
		o.deliverBestEffort(ctx, ev.SenderHandle, FallbackReply)
		return
	}

	release := o.locks.acquire(user.ID.String())
	defer release()

	o.process(ctx, ev, user)
}

func (o *Orchestrator) process(ctx context.Context, ev whatsapp.InboundEvent, user *identity.User) {
	conv, err := o.store.EnsureOpen(ctx, user.ID)
	if err != nil {
		o.logger.Error("conversation load failed", "user_id", user.ID, "error", err)
		o.deliverBestEffort(ctx, ev.SenderHandle, FallbackReply)
		return
	}

	if _, err := o.store.InsertInbound(ctx, store.Message{
		UserID:           user.ID,
		ConversationID:   conv.ID,
		ChannelMessageID: ev.MessageID,
		Type:             string(ev.Type),
		Content:          ev.Text,
		Raw:              ev.Raw,
	}); err != nil {
		if errors.Is(err, store.ErrDuplicateMessage) {
			o.logger.Info("duplicate inbound dropped at insert", "channel_message_id", ev.MessageID)
			o.metrics.ObserveDuplicate()
			return
		}
		o.logger.Error("inbound persist failed", "channel_message_id", ev.MessageID, "error", err)
		o.deliverBestEffort(ctx, ev.SenderHandle, FallbackReply)
		return
	}
	if err := o.store.Touch(ctx, conv.ID, ev.Timestamp); err != nil {
		o.logger.Warn("conversation touch failed", "conversation_id", conv.ID, "error", err)
	}

	if conv.Status == store.StatusAwaitingHuman {
		o.reply(ctx, ev, user, conv, awaitingHumanAck, "handoff")
		return
	}

	complaint := o.detector.DetectComplaint(ctx, ev.Text)
	strategy := SelectStrategy(StrategyInput{
		VIP:       user.VIP,
		Complaint: complaint.Detected,
		FlowOwns:  o.machine.Owns(conv.Flow, ev.Text),
	})
	o.logger.Info("strategy selected",
		"conversation_id", conv.ID,
		"strategy", strategy,
		"vip", user.VIP,
		"complaint", complaint.Detected,
	)

	switch strategy {
	case StrategyFlow:
		o.runFlow(ctx, ev, user, conv)
	case StrategyEscalated:
		o.runEscalated(ctx, ev, user, conv, complaint)
	default:
		o.runDirect(ctx, ev, user, conv)
	}
}

func (o *Orchestrator) runFlow(ctx context.Context, ev whatsapp.InboundEvent, user *identity.User, conv *store.Conversation) {
	res, err := o.machine.Advance(ctx, flow.Input{
		UserID:         user.ID,
		ConversationID: conv.ID,
		SenderName:     user.DisplayName,
		Text:           ev.Text,
	}, conv.Flow)
	if err != nil {
		o.logger.Error("dialogue transition failed", "conversation_id", conv.ID, "error", err)
		o.reply(ctx, ev, user, conv, FallbackReply, string(StrategyFlow))
		return
	}

	if err := o.store.SaveFlowState(ctx, conv.ID, res.State); err != nil {
		o.logger.Error("flow state persist failed", "conversation_id", conv.ID, "error", err)
	}
	if res.Booking != nil {
		phone, email := splitContact(res.Booking.Contact)
		if err := o.users.UpdateContact(ctx, user.ID, res.Booking.CustomerName, phone, email); err != nil {
			o.logger.Warn("contact backfill failed", "user_id", user.ID, "error", err)
		}
	}
	if res.Escalate {
		o.handoff(ctx, user, conv, "booking dialogue gave up")
	}

	reply := res.Reply
	if reply == "" {
		reply = FallbackReply
	}
	o.reply(ctx, ev, user, conv, reply, string(StrategyFlow))
}

func (o *Orchestrator) runDirect(ctx context.Context, ev whatsapp.InboundEvent, user *identity.User, conv *store.Conversation) {
	req := o.buildRequest(ctx, ev, user, conv, nil)

	genCtx, cancel := context.WithTimeout(ctx, o.config.GenerateTimeout)
	defer cancel()
	reply, err := o.generator.GenerateDirect(genCtx, req)
	if err != nil {
		o.logger.Error("reply generation failed", "conversation_id", conv.ID, "error", err)
		o.metrics.ObserveGenerationFailure()
		reply = FallbackReply
	}
	o.reply(ctx, ev, user, conv, reply, string(StrategyDirect))
}

func (o *Orchestrator) runEscalated(ctx context.Context, ev whatsapp.InboundEvent, user *identity.User, conv *store.Conversation, complaint *ComplaintResult) {
	req := o.buildRequest(ctx, ev, user, conv, complaint)

	genCtx, cancel := context.WithTimeout(ctx, o.config.GenerateTimeout)
	defer cancel()
	reply, err := o.generator.GenerateEscalated(genCtx, req)
	if err != nil {
		o.logger.Error("escalated reply generation failed", "conversation_id", conv.ID, "error", err)
		o.metrics.ObserveGenerationFailure()
		reply = FallbackReply
	}
	o.reply(ctx, ev, user, conv, reply, string(StrategyEscalated))

	// The customer hears back first; the park-for-human signal follows.
	if complaint.Detected {
		o.handoff(ctx, user, conv, fmt.Sprintf("complaint detected: %s", complaint.MatchedKeyword))
	}
}

func (o *Orchestrator) buildRequest(ctx context.Context, ev whatsapp.InboundEvent, user *identity.User, conv *store.Conversation, complaint *ComplaintResult) GenerateRequest {
	req := GenerateRequest{
		UserName:  user.DisplayName,
		VIP:       user.VIP,
		Text:      ev.Text,
		Complaint: complaint,
	}
	history, err := o.store.ListByConversation(ctx, conv.ID, o.config.HistoryLimit)
	if err != nil {
		o.logger.Warn("history load failed", "conversation_id", conv.ID, "error", err)
		return req
	}
	for _, m := range history {
		req.History = append(req.History, m.Direction+": "+m.Content)
	}
	return req
}

// handoff parks the conversation for a human and notifies the operator.
func (o *Orchestrator) handoff(ctx context.Context, user *identity.User, conv *store.Conversation, reason string) {
	if err := o.store.UpdateStatus(ctx, conv.ID, store.StatusAwaitingHuman); err != nil {
		o.logger.Error("handoff status update failed", "conversation_id", conv.ID, "error", err)
		return
	}
	o.metrics.ObserveHandoff()
	o.logger.Info("conversation handed to human", "conversation_id", conv.ID, "user_id", user.ID, "reason", reason)

	if o.notifier != nil {
		if err := o.notifier.NotifyHandoff(ctx, user, conv.ID, reason); err != nil {
			o.logger.Error("handoff notification failed", "conversation_id", conv.ID, "error", err)
		}
	}
}

// reply dispatches the outbound text and persists it, failed or not.
func (o *Orchestrator) reply(ctx context.Context, ev whatsapp.InboundEvent, user *identity.User, conv *store.Conversation, text, strategy string) {
	start := time.Now()
	channelMsgID, err := o.deliverer.Dispatch(ctx, ev.SenderHandle, text)
	o.metrics.ObserveDispatchLatency(time.Since(start).Seconds())

	status := "sent"
	if err != nil {
		status = "failed"
		o.logger.Error("reply delivery failed", "conversation_id", conv.ID, "error", err)
	}
	o.metrics.ObserveReply(strategy, status)

	if _, perr := o.store.InsertOutbound(ctx, store.Message{
		UserID:           user.ID,
		ConversationID:   conv.ID,
		ChannelMessageID: channelMsgID,
		Type:             "text",
		Content:          text,
		Failed:           err != nil,
	}); perr != nil {
		o.logger.Error("outbound persist failed", "conversation_id", conv.ID, "error", perr)
	}
}

// splitContact sorts the dialogue's free-form contact answer into the user
// row's phone or email column.
func splitContact(contact string) (phone, email string) {
	if strings.Contains(contact, "@") {
		return "", contact
	}
	return contact, ""
}

// deliverBestEffort sends text without conversation bookkeeping, for paths
// where no user or conversation is available yet.
func (o *Orchestrator) deliverBestEffort(ctx context.Context, handle, text string) {
	if _, err := o.deliverer.Dispatch(ctx, handle, text); err != nil {
		o.logger.Error("best-effort delivery failed", "user_handle", handle, "error", err)
	}
}
