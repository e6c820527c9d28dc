package flow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Step identifies where a booking dialogue currently is. The machine only
// ever moves along Idle → CollectingName → CollectingContact →
// CollectingService → CollectingTime → Confirming → Done, with Abandoned as
// the absorbing state for dialogues that went quiet.
type Step string

const (
	StepIdle              Step = "idle"
	StepCollectingName    Step = "collecting_name"
	StepCollectingContact Step = "collecting_contact"
	StepCollectingService Step = "collecting_service"
	StepCollectingTime    Step = "collecting_time"
	StepConfirming        Step = "confirming"
	StepDone              Step = "done"
	StepAbandoned         Step = "abandoned"
)

var knownSteps = map[Step]struct{}{
	StepIdle:              {},
	StepCollectingName:    {},
	StepCollectingContact: {},
	StepCollectingService: {},
	StepCollectingTime:    {},
	StepConfirming:        {},
	StepDone:              {},
	StepAbandoned:         {},
}

// State is the persisted snapshot of a booking dialogue: the current step
// plus every slot collected so far. It is stored on the conversation row
// after each transition so a crash resumes at the last committed step.
type State struct {
	Step      Step       `json:"step"`
	Name      string     `json:"name,omitempty"`
	Contact   string     `json:"contact,omitempty"`
	Service   string     `json:"service,omitempty"`
	When      *time.Time `json:"when,omitempty"`
	Retries   int        `json:"retries,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Idle returns a fresh state outside any booking dialogue.
func Idle() State {
	return State{Step: StepIdle, UpdatedAt: time.Now().UTC()}
}

// Validate rejects states with steps this version does not know. Stores call
// it on load so a corrupt or future-format blob resets to idle instead of
// wedging the conversation.
func (s State) Validate() error {
	if _, ok := knownSteps[s.Step]; !ok {
		return fmt.Errorf("flow: unknown step %q", s.Step)
	}
	return nil
}

// InFlight reports whether the dialogue is mid-collection, i.e. the state
// machine owns the next reply.
func (s State) InFlight() bool {
	switch s.Step {
	case StepCollectingName, StepCollectingContact, StepCollectingService, StepCollectingTime, StepConfirming:
		return true
	default:
		return false
	}
}

// Expired reports whether an in-flight dialogue has been quiet longer than
// the inactivity timeout.
func (s State) Expired(timeout time.Duration, now time.Time) bool {
	if !s.InFlight() {
		return false
	}
	return now.Sub(s.UpdatedAt) > timeout
}

// Marshal encodes the state for the conversation's flow_state column.
func (s State) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("flow: marshal state: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a flow_state blob, returning an idle state for empty
// input and an error for blobs that fail validation.
func Unmarshal(data []byte) (State, error) {
	if len(data) == 0 {
		return Idle(), nil
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return Idle(), fmt.Errorf("flow: decode state: %w", err)
	}
	if s.Step == "" {
		s.Step = StepIdle
	}
	if err := s.Validate(); err != nil {
		return Idle(), err
	}
	return s, nil
}
