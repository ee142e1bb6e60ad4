package main

import (
	"strings"
	"testing"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
)

func TestFormatEnvelope(t *testing.T) {
	agent := solana.PublicKey{0x07}
	tests := []struct {
		name string
		ev   domain.Event
		seq  int64
		want []string
	}{
		{"registered", &domain.AgentRegistered{Agent: agent, Name: "bot", Stake: 10, Timestamp: 1}, 1, []string{"#1", "AgentRegistered", `name="bot"`, "stake=10"}},
		{"action", &domain.ActionLogged{Agent: agent, ActionType: domain.ActionTypeSwap, Outcome: domain.OutcomeLoss, Pnl: -5, NewScore: 44}, 2, []string{"Swap", "Loss", "pnl=-5", "score=44"}},
		{"query", &domain.ReputationQueried{Agent: agent, Score: 70, SuccessRate: 80}, 0, []string{"live", "score=70", "success=80%"}},
		{"slashed", &domain.AgentSlashed{Agent: agent, Amount: 3, Reason: "spam"}, 4, []string{"amount=3", `reason="spam"`}},
		{"deregistered", &domain.AgentDeregistered{Agent: agent, StakeReturned: 9, FinalScore: 51}, 5, []string{"returned=9", "final_score=51"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := domain.NewEnvelope("id", tt.ev)
			if err != nil {
				t.Fatal(err)
			}
			env.Sequence = tt.seq
			line := formatEnvelope(env)
			for _, w := range append(tt.want, agent.String()) {
				if !strings.Contains(line, w) {
					t.Errorf("line %q missing %q", line, w)
				}
			}
		})
	}
}

func TestFormatEnvelope_Undecodable(t *testing.T) {
	env := domain.Envelope{Type: domain.EventActionLogged, Payload: []byte("{")}
	if !strings.Contains(formatEnvelope(env), "undecodable") {
		t.Error("expected undecodable marker")
	}
}
