package engine

// Strategy names how a reply gets authored for one inbound message.
type Strategy string

const (
	// StrategyFlow hands the message to the booking dialogue machine.
	StrategyFlow Strategy = "flow"
	// StrategyDirect authors a normal assistant reply.
	StrategyDirect Strategy = "direct"
	// StrategyEscalated authors a careful reply and flags the conversation
	// for human attention.
	StrategyEscalated Strategy = "escalated"
)

// StrategyInput is everything the selector looks at. It deliberately carries
// no message content beyond the precomputed signals so selection stays a pure
// decision.
type StrategyInput struct {
	VIP       bool
	Complaint bool
	FlowOwns  bool
}

// SelectStrategy decides who authors the reply. First match wins: VIPs get
// the escalated treatment even for routine messages, complaints interrupt an
// in-flight booking dialogue, and only then does the dialogue machine keep
// ownership of its turn.
func SelectStrategy(in StrategyInput) Strategy {
	switch {
	case in.VIP:
		return StrategyEscalated
	case in.Complaint:
		return StrategyEscalated
	case in.FlowOwns:
		return StrategyFlow
	default:
		return StrategyDirect
	}
}
