package domain

import "agent-rep/internal/solana"

// ActionType classifies a logged action.
type ActionType string

const (
	ActionTypeTrade    ActionType = "Trade"
	ActionTypeSwap     ActionType = "Swap"
	ActionTypeStake    ActionType = "Stake"
	ActionTypeUnstake  ActionType = "Unstake"
	ActionTypeLend     ActionType = "Lend"
	ActionTypeBorrow   ActionType = "Borrow"
	ActionTypeMint     ActionType = "Mint"
	ActionTypeBurn     ActionType = "Burn"
	ActionTypeTransfer ActionType = "Transfer"
	ActionTypeVote     ActionType = "Vote"
	ActionTypeOther    ActionType = "Other"
)

// ActionTypes lists every valid action type.
var ActionTypes = []ActionType{
	ActionTypeTrade, ActionTypeSwap, ActionTypeStake, ActionTypeUnstake,
	ActionTypeLend, ActionTypeBorrow, ActionTypeMint, ActionTypeBurn,
	ActionTypeTransfer, ActionTypeVote, ActionTypeOther,
}

func (t ActionType) String() string {
	return string(t)
}

// IsValid checks if action type is a known value.
func (t ActionType) IsValid() bool {
	for _, v := range ActionTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Outcome is the result class of an action.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailure Outcome = "Failure"
	OutcomeProfit  Outcome = "Profit"
	OutcomeLoss    Outcome = "Loss"
	OutcomeNeutral Outcome = "Neutral"
)

// Outcomes lists every valid outcome.
var Outcomes = []Outcome{OutcomeSuccess, OutcomeFailure, OutcomeProfit, OutcomeLoss, OutcomeNeutral}

func (o Outcome) String() string {
	return string(o)
}

// IsValid checks if outcome is a known value.
func (o Outcome) IsValid() bool {
	for _, v := range Outcomes {
		if o == v {
			return true
		}
	}
	return false
}

// IsSuccessful reports whether the outcome counts toward successful_actions.
func (o Outcome) IsSuccessful() bool {
	return o == OutcomeSuccess || o == OutcomeProfit
}

// Action is an immutable entry in an agent's ledger.
// Unique by (Agent, ActionIndex).
type Action struct {
	Address     solana.PublicKey // derived from ("action", agent, index)
	Agent       solana.PublicKey // agent account address
	Owner       solana.PublicKey // agent owner, the store key
	ActionIndex uint64           // 0-based, gapless

	ActionType  ActionType
	Protocol    string
	InputValue  uint64
	OutputValue uint64
	Pnl         int64 // OutputValue - InputValue
	Outcome     Outcome
	Metadata    string
	Timestamp   int64 // unix seconds
}

// ComputePnl returns output - input. Both values must be within MaxActionValue.
func ComputePnl(input, output uint64) int64 {
	return int64(output) - int64(input)
}
