package domain

import (
	"encoding/json"
	"fmt"

	"agent-rep/internal/solana"
)

// EventType names a ledger event.
type EventType string

const (
	EventAgentRegistered   EventType = "AgentRegistered"
	EventActionLogged      EventType = "ActionLogged"
	EventReputationQueried EventType = "ReputationQueried"
	EventAgentSlashed      EventType = "AgentSlashed"
	EventAgentDeregistered EventType = "AgentDeregistered"
)

// EventTypes lists every event type in declaration order.
var EventTypes = []EventType{
	EventAgentRegistered,
	EventActionLogged,
	EventReputationQueried,
	EventAgentSlashed,
	EventAgentDeregistered,
}

// EventVersion is the schema version carried by every envelope.
const EventVersion = 1

// Event is implemented by every event payload.
type Event interface {
	Type() EventType
	AgentAddress() solana.PublicKey
	EventTime() int64
}

// AgentRegistered is emitted when an owner registers an agent and locks its stake.
type AgentRegistered struct {
	Agent     solana.PublicKey `json:"agent"`
	Owner     solana.PublicKey `json:"owner"`
	Name      string           `json:"name"`
	Stake     uint64           `json:"stake"`
	Timestamp int64            `json:"timestamp"`
}

// ActionLogged is emitted for every recorded action with the score it produced.
type ActionLogged struct {
	Agent      solana.PublicKey `json:"agent"`
	Action     solana.PublicKey `json:"action"`
	ActionType ActionType       `json:"action_type"`
	Outcome    Outcome          `json:"outcome"`
	Pnl        int64            `json:"pnl"`
	NewScore   uint8            `json:"new_score"`
	Timestamp  int64            `json:"timestamp"`
}

// ReputationQueried reports a reputation read. It is streamed but never persisted.
type ReputationQueried struct {
	Agent        solana.PublicKey `json:"agent"`
	Querier      solana.PublicKey `json:"querier"`
	Score        uint8            `json:"score"`
	TotalActions uint64           `json:"total_actions"`
	SuccessRate  uint64           `json:"success_rate"`
	Timestamp    int64            `json:"timestamp"`
}

// AgentSlashed is emitted when governance moves stake from an agent to the treasury.
type AgentSlashed struct {
	Agent     solana.PublicKey `json:"agent"`
	Amount    uint64           `json:"amount"`
	Reason    string           `json:"reason"`
	NewStake  uint64           `json:"new_stake"`
	NewScore  uint8            `json:"new_score"`
	Timestamp int64            `json:"timestamp"`
}

// AgentDeregistered is emitted when an agent closes and its stake returns to the owner.
type AgentDeregistered struct {
	Agent         solana.PublicKey `json:"agent"`
	Owner         solana.PublicKey `json:"owner"`
	StakeReturned uint64           `json:"stake_returned"`
	FinalScore    uint8            `json:"final_score"`
	TotalActions  uint64           `json:"total_actions"`
	Timestamp     int64            `json:"timestamp"`
}

func (e *AgentRegistered) Type() EventType                  { return EventAgentRegistered }
func (e *AgentRegistered) AgentAddress() solana.PublicKey   { return e.Agent }
func (e *AgentRegistered) EventTime() int64                 { return e.Timestamp }
func (e *ActionLogged) Type() EventType                     { return EventActionLogged }
func (e *ActionLogged) AgentAddress() solana.PublicKey      { return e.Agent }
func (e *ActionLogged) EventTime() int64                    { return e.Timestamp }
func (e *ReputationQueried) Type() EventType                { return EventReputationQueried }
func (e *ReputationQueried) AgentAddress() solana.PublicKey { return e.Agent }
func (e *ReputationQueried) EventTime() int64               { return e.Timestamp }
func (e *AgentSlashed) Type() EventType                     { return EventAgentSlashed }
func (e *AgentSlashed) AgentAddress() solana.PublicKey      { return e.Agent }
func (e *AgentSlashed) EventTime() int64                    { return e.Timestamp }
func (e *AgentDeregistered) Type() EventType                { return EventAgentDeregistered }
func (e *AgentDeregistered) AgentAddress() solana.PublicKey { return e.Agent }
func (e *AgentDeregistered) EventTime() int64               { return e.Timestamp }

// Envelope wraps an event for storage and transport.
// Sequence is assigned by the store at commit and is 0 before that.
type Envelope struct {
	ID        string           `json:"id"`
	Sequence  int64            `json:"sequence"`
	Type      EventType        `json:"type"`
	Version   int              `json:"version"`
	Agent     solana.PublicKey `json:"agent"`
	Timestamp int64            `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// NewEnvelope encodes ev into an envelope with the given id.
func NewEnvelope(id string, ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev.Type(), err)
	}
	return Envelope{
		ID:        id,
		Type:      ev.Type(),
		Version:   EventVersion,
		Agent:     ev.AgentAddress(),
		Timestamp: ev.EventTime(),
		Payload:   payload,
	}, nil
}

// Decode unmarshals the payload into its concrete event type.
func (e Envelope) Decode() (Event, error) {
	var ev Event
	switch e.Type {
	case EventAgentRegistered:
		ev = &AgentRegistered{}
	case EventActionLogged:
		ev = &ActionLogged{}
	case EventReputationQueried:
		ev = &ReputationQueried{}
	case EventAgentSlashed:
		ev = &AgentSlashed{}
	case EventAgentDeregistered:
		ev = &AgentDeregistered{}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	if err := json.Unmarshal(e.Payload, ev); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", e.Type, err)
	}
	return ev, nil
}

// ScoreAfter reports the agent's reputation score once the event applied.
// Queries do not change the score and report false.
func (e Envelope) ScoreAfter() (uint8, bool, error) {
	ev, err := e.Decode()
	if err != nil {
		return 0, false, err
	}
	switch v := ev.(type) {
	case *AgentRegistered:
		return InitialScore, true, nil
	case *ActionLogged:
		return v.NewScore, true, nil
	case *AgentSlashed:
		return v.NewScore, true, nil
	case *AgentDeregistered:
		return v.FinalScore, true, nil
	default:
		return 0, false, nil
	}
}
