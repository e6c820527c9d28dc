package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glowdesk/concierge/internal/bookings"
	"github.com/glowdesk/concierge/pkg/logging"
)

// Confirmer is the booking dependency the machine needs; satisfied by
// *bookings.Service. SlotAvailable is an advisory pre-check at time
// collection; Confirm remains the arbiter under the unique index.
type Confirmer interface {
	Confirm(ctx context.Context, b bookings.Booking) (*bookings.Booking, error)
	SlotAvailable(ctx context.Context, service string, scheduledFor time.Time) (bool, error)
}

// Machine drives the slot-filling booking dialogue. It is a pure state
// transition engine: callers load the state, feed it one inbound message, and
// persist whatever comes back.
type Machine struct {
	bookings   Confirmer
	logger     *logging.Logger
	maxRetries int
	inactivity time.Duration
	now        func() time.Time
}

// Options tune the machine's retry and inactivity behavior.
type Options struct {
	MaxRetries        int
	InactivityTimeout time.Duration
}

// NewMachine constructs a dialogue machine.
func NewMachine(confirmer Confirmer, logger *logging.Logger, opts Options) *Machine {
	if confirmer == nil {
		panic("flow: booking confirmer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 30 * time.Minute
	}
	return &Machine{
		bookings:   confirmer,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		inactivity: opts.InactivityTimeout,
		now:        time.Now,
	}
}

// Input is one inbound message in the context of its conversation.
type Input struct {
	UserID         uuid.UUID
	ConversationID uuid.UUID
	SenderName     string
	Text           string
}

// Result is the outcome of one transition. Escalate means the dialogue gave
// up (too many unusable answers) and a human should take over.
type Result struct {
	State    State
	Reply    string
	Escalate bool
	Booking  *bookings.Booking
}

// Owns reports whether the machine should handle this message: either a
// dialogue is already in flight or the text opens one.
func (m *Machine) Owns(state State, text string) bool {
	return state.InFlight() || WantsBooking(text)
}

// Advance applies one inbound message to the dialogue state. The returned
// state must be persisted by the caller before replying.
func (m *Machine) Advance(ctx context.Context, in Input, state State) (Result, error) {
	now := m.now().UTC()

	if state.Expired(m.inactivity, now) {
		m.logger.Info("booking dialogue abandoned after inactivity", "conversation_id", in.ConversationID, "stale_step", state.Step)
		state = State{Step: StepAbandoned}
	}

	if state.InFlight() && WantsCancel(in.Text) {
		return m.finish(Idle(), "No problem, I've cancelled that. Message me any time you'd like to book.", now), nil
	}

	switch state.Step {
	case StepIdle, StepDone, StepAbandoned:
		if !WantsBooking(in.Text) {
			return Result{State: stamped(state, now)}, nil
		}
		next := State{Step: StepCollectingName}
		return m.finish(next, "Great, let's get you booked in! What name should I put the appointment under?", now), nil

	case StepCollectingName:
		name, ok := ParseName(in.Text)
		if !ok {
			return m.retry(in, state, "Sorry, I didn't catch that. What name should I use for the booking?", now)
		}
		state.Name = name
		state.Retries = 0
		state.Step = StepCollectingContact
		return m.finish(state, fmt.Sprintf("Thanks %s! What's the best phone number or email to reach you on?", name), now), nil

	case StepCollectingContact:
		contact, ok := ParseContact(in.Text)
		if !ok {
			return m.retry(in, state, "I'll need a phone number or email for the booking. Could you send one?", now)
		}
		state.Contact = contact
		state.Retries = 0
		state.Step = StepCollectingService
		return m.finish(state, "Got it. Which service would you like to book?", now), nil

	case StepCollectingService:
		svc, ok := ParseService(in.Text)
		if !ok {
			return m.retry(in, state, "Which service should I book for you?", now)
		}
		state.Service = svc
		state.Retries = 0
		state.Step = StepCollectingTime
		return m.finish(state, fmt.Sprintf("Lovely. When would you like to come in for your %s?", svc), now), nil

	case StepCollectingTime:
		when, ok := ParseWhen(in.Text, now)
		if !ok {
			return m.retry(in, state, `Sorry, I couldn't work out the time. Something like "tomorrow 2pm" or "Friday 10:30am" works best.`, now)
		}
		if free, err := m.bookings.SlotAvailable(ctx, state.Service, when); err == nil && !free {
			// A usable answer, just a taken slot; no retry charged.
			return m.finish(state, fmt.Sprintf("Ah, %s is already booked. Could you pick another time?", when.Format("Monday Jan 2 at 3:04 PM")), now), nil
		}
		state.When = &when
		state.Retries = 0
		state.Step = StepConfirming
		reply := fmt.Sprintf("To confirm: %s for %s on %s, contact %s. Shall I book it?",
			state.Service, state.Name, when.Format("Monday Jan 2 at 3:04 PM"), state.Contact)
		return m.finish(state, reply, now), nil

	case StepConfirming:
		switch {
		case IsAffirmative(in.Text):
			return m.confirm(ctx, in, state, now)
		case IsNegative(in.Text):
			state.When = nil
			state.Retries = 0
			state.Step = StepCollectingTime
			return m.finish(state, "Okay, let's pick a different time. When suits you?", now), nil
		default:
			return m.retry(in, state, `Just to check, should I book it? A quick "yes" or "no" is fine.`, now)
		}

	default:
		m.logger.Error("unknown dialogue step, resetting", "conversation_id", in.ConversationID, "step", state.Step)
		return Result{State: Idle()}, nil
	}
}

func (m *Machine) confirm(ctx context.Context, in Input, state State, now time.Time) (Result, error) {
	booked, err := m.bookings.Confirm(ctx, bookings.Booking{
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		CustomerName:   state.Name,
		Contact:        state.Contact,
		Service:        state.Service,
		ScheduledFor:   *state.When,
	})
	if err != nil {
		if errors.Is(err, bookings.ErrSlotTaken) {
			state.When = nil
			state.Retries = 0
			state.Step = StepCollectingTime
			return m.finish(state, "Ah, that slot was just taken. Could you pick another time?", now), nil
		}
		return Result{}, fmt.Errorf("flow: confirm booking: %w", err)
	}

	reply := fmt.Sprintf("All booked! %s on %s. See you then, %s!",
		booked.Service, booked.ScheduledFor.Format("Monday Jan 2 at 3:04 PM"), state.Name)
	res := m.finish(Idle(), reply, now)
	res.Booking = booked
	return res, nil
}

func (m *Machine) retry(in Input, state State, prompt string, now time.Time) (Result, error) {
	state.Retries++
	if state.Retries >= m.maxRetries {
		m.logger.Info("booking dialogue gave up", "conversation_id", in.ConversationID, "step", state.Step, "retries", state.Retries)
		res := m.finish(Idle(), "I'm having trouble with this one, let me get a team member to help you finish the booking.", now)
		res.Escalate = true
		return res, nil
	}
	return m.finish(state, prompt, now), nil
}

func (m *Machine) finish(state State, reply string, now time.Time) Result {
	return Result{State: stamped(state, now), Reply: reply}
}

func stamped(state State, now time.Time) State {
	state.UpdatedAt = now
	return state
}
