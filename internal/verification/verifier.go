// Package verification re-derives ledger state from the committed event
// history and the action ledger, and reports where the stored records
// disagree with the re-derivation.
package verification

import (
	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
)

// FieldDivergence represents a mismatch between stored and derived values.
type FieldDivergence struct {
	Field    string `json:"field"`
	Sequence int64  `json:"sequence,omitempty"` // event that exposed the mismatch, 0 for final state
	Expected any    `json:"expected"`           // derived value
	Actual   any    `json:"actual"`             // stored or emitted value
}

// AgentResult is the verification outcome for one agent.
type AgentResult struct {
	Owner       solana.PublicKey  `json:"owner"`
	Agent       solana.PublicKey  `json:"agent"`
	Events      int               `json:"events"`
	Match       bool              `json:"match"`
	Divergences []FieldDivergence `json:"divergences,omitempty"`
}

// Report contains results for a full verification run.
type Report struct {
	Events          int           `json:"events"`
	LastSequence    int64         `json:"last_sequence"`
	TotalAgents     int           `json:"total_agents"`
	MatchedAgents   int           `json:"matched_agents"`
	DivergentAgents int           `json:"divergent_agents"`
	Results         []AgentResult `json:"results"`

	// Vault is checked when a balance store is configured.
	VaultChecked  bool   `json:"vault_checked"`
	VaultBalance  uint64 `json:"vault_balance"`
	VaultExpected uint64 `json:"vault_expected"`
	VaultOverflow bool   `json:"vault_overflow,omitempty"` // derived stakes sum past uint64
}

// OK reports whether every agent matched and the vault reconciles.
func (r *Report) OK() bool {
	if r.DivergentAgents > 0 {
		return false
	}
	if r.VaultOverflow {
		return false
	}
	return !r.VaultChecked || r.VaultBalance == r.VaultExpected
}

// CompareAgents compares the stored record with the derived one. Name,
// description and agent type are not carried by every event and are
// compared only when derived is non-empty.
func CompareAgents(derived, stored *domain.Agent) []FieldDivergence {
	var out []FieldDivergence
	add := func(field string, expected, actual any) {
		if expected != actual {
			out = append(out, FieldDivergence{Field: field, Expected: expected, Actual: actual})
		}
	}

	add("address", derived.Address, stored.Address)
	if derived.Name != "" {
		add("name", derived.Name, stored.Name)
	}
	add("stake", derived.Stake, stored.Stake)
	add("reputation_score", derived.ReputationScore, stored.ReputationScore)
	add("total_actions", derived.TotalActions, stored.TotalActions)
	add("successful_actions", derived.SuccessfulActions, stored.SuccessfulActions)
	add("total_volume", derived.TotalVolume, stored.TotalVolume)
	add("registered_at", derived.RegisteredAt, stored.RegisteredAt)
	add("last_action_at", derived.LastActionAt, stored.LastActionAt)
	add("is_active", derived.IsActive, stored.IsActive)
	add("revision", derived.Revision, stored.Revision)
	return out
}
