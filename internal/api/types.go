package api

import (
	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
)

type registerRequest struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	AgentType    domain.AgentType `json:"agent_type"`
	InitialStake uint64           `json:"initial_stake"`
}

type actionRequest struct {
	ActionType    domain.ActionType `json:"action_type"`
	Protocol      string            `json:"protocol"`
	InputValue    uint64            `json:"input_value"`
	OutputValue   uint64            `json:"output_value"`
	Outcome       domain.Outcome    `json:"outcome"`
	Metadata      string            `json:"metadata"`
	ExpectedIndex *uint64           `json:"expected_index,omitempty"`
}

type slashRequest struct {
	Amount uint64 `json:"amount"`
	Reason string `json:"reason"`
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

// AgentResponse is the wire form of an agent record.
type AgentResponse struct {
	Owner             solana.PublicKey `json:"owner"`
	Address           solana.PublicKey `json:"address"`
	Name              string           `json:"name"`
	Description       string           `json:"description"`
	AgentType         domain.AgentType `json:"agent_type"`
	Stake             uint64           `json:"stake"`
	ReputationScore   uint8            `json:"reputation_score"`
	TotalActions      uint64           `json:"total_actions"`
	SuccessfulActions uint64           `json:"successful_actions"`
	TotalVolume       uint64           `json:"total_volume"`
	RegisteredAt      int64            `json:"registered_at"`
	LastActionAt      int64            `json:"last_action_at"`
	CooldownEndsAt    int64            `json:"cooldown_ends_at"`
	IsActive          bool             `json:"is_active"`
	Revision          uint64           `json:"revision"`
}

func agentResponse(a *domain.Agent) AgentResponse {
	return AgentResponse{
		Owner:             a.Owner,
		Address:           a.Address,
		Name:              a.Name,
		Description:       a.Description,
		AgentType:         a.AgentType,
		Stake:             a.Stake,
		ReputationScore:   a.ReputationScore,
		TotalActions:      a.TotalActions,
		SuccessfulActions: a.SuccessfulActions,
		TotalVolume:       a.TotalVolume,
		RegisteredAt:      a.RegisteredAt,
		LastActionAt:      a.LastActionAt,
		CooldownEndsAt:    a.CooldownEndsAt(),
		IsActive:          a.IsActive,
		Revision:          a.Revision,
	}
}

// ActionResponse is the wire form of a logged action.
type ActionResponse struct {
	Address     solana.PublicKey  `json:"address"`
	Agent       solana.PublicKey  `json:"agent"`
	Owner       solana.PublicKey  `json:"owner"`
	ActionIndex uint64            `json:"action_index"`
	ActionType  domain.ActionType `json:"action_type"`
	Protocol    string            `json:"protocol"`
	InputValue  uint64            `json:"input_value"`
	OutputValue uint64            `json:"output_value"`
	Pnl         int64             `json:"pnl"`
	Outcome     domain.Outcome    `json:"outcome"`
	Metadata    string            `json:"metadata"`
	Timestamp   int64             `json:"timestamp"`
}

func actionResponse(a *domain.Action) ActionResponse {
	return ActionResponse{
		Address:     a.Address,
		Agent:       a.Agent,
		Owner:       a.Owner,
		ActionIndex: a.ActionIndex,
		ActionType:  a.ActionType,
		Protocol:    a.Protocol,
		InputValue:  a.InputValue,
		OutputValue: a.OutputValue,
		Pnl:         a.Pnl,
		Outcome:     a.Outcome,
		Metadata:    a.Metadata,
		Timestamp:   a.Timestamp,
	}
}

func actionResponses(actions []*domain.Action) []ActionResponse {
	out := make([]ActionResponse, len(actions))
	for i, a := range actions {
		out[i] = actionResponse(a)
	}
	return out
}

// LogActionResponse pairs the new action with the updated agent.
type LogActionResponse struct {
	Action ActionResponse `json:"action"`
	Agent  AgentResponse  `json:"agent"`
}

// DeregisterResponse reports the stake returned on deregistration.
type DeregisterResponse struct {
	Agent         AgentResponse `json:"agent"`
	StakeReturned uint64        `json:"stake_returned"`
}

// AddressResponse lists the derived accounts for an owner.
type AddressResponse struct {
	Owner     solana.PublicKey `json:"owner"`
	Agent     solana.PublicKey `json:"agent"`
	Bump      uint8            `json:"bump"`
	ProgramID solana.PublicKey `json:"program_id"`
}

// BalanceResponse is a named balance.
type BalanceResponse struct {
	Account solana.PublicKey `json:"account"`
	Amount  uint64           `json:"amount"`
}

// StatusResponse describes the running server.
type StatusResponse struct {
	ProgramID      solana.PublicKey `json:"program_id"`
	Vault          solana.PublicKey `json:"vault"`
	Treasury       solana.PublicKey `json:"treasury"`
	VaultBalance   uint64           `json:"vault_balance"`
	ActiveAgents   int              `json:"active_agents"`
	LatestSequence int64            `json:"latest_sequence"`
	ArchiveEnabled bool             `json:"archive_enabled"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
