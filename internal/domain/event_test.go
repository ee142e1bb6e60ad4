package domain

import (
	"strings"
	"testing"

	"agent-rep/internal/solana"
)

func TestEnvelope_Decode(t *testing.T) {
	agent := solana.MustAddress(solana.AgentAddress(solana.DefaultProgramID, solana.PublicKey{1}))
	ev := &AgentSlashed{Agent: agent, Amount: 500, Reason: "spam", NewStake: 500, NewScore: 40, Timestamp: 1700000000}

	env, err := NewEnvelope("id-1", ev)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Version != EventVersion || env.Type != EventAgentSlashed || env.Agent != agent {
		t.Fatalf("unexpected envelope header: %+v", env)
	}
	if !strings.Contains(string(env.Payload), `"new_stake":500`) {
		t.Errorf("payload field names changed: %s", env.Payload)
	}

	decoded, err := env.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*AgentSlashed)
	if !ok {
		t.Fatalf("decoded type %T", decoded)
	}
	if *got != *ev {
		t.Errorf("got %+v, want %+v", got, ev)
	}
}

func TestEnvelope_DecodeUnknown(t *testing.T) {
	env := Envelope{Type: "Bogus", Payload: []byte(`{}`)}
	if _, err := env.Decode(); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestEnums_IsValid(t *testing.T) {
	if !AgentTypeDeFi.IsValid() || AgentType("Bank").IsValid() {
		t.Error("agent type validation wrong")
	}
	if !ActionTypeVote.IsValid() || ActionType("").IsValid() {
		t.Error("action type validation wrong")
	}
	if !OutcomeNeutral.IsValid() || Outcome("Win").IsValid() {
		t.Error("outcome validation wrong")
	}
}

func TestOutcome_IsSuccessful(t *testing.T) {
	want := map[Outcome]bool{
		OutcomeSuccess: true, OutcomeProfit: true,
		OutcomeFailure: false, OutcomeLoss: false, OutcomeNeutral: false,
	}
	for o, w := range want {
		if o.IsSuccessful() != w {
			t.Errorf("%s.IsSuccessful() = %v, want %v", o, !w, w)
		}
	}
}

func TestComputePnl(t *testing.T) {
	if got := ComputePnl(100, 150); got != 50 {
		t.Errorf("ComputePnl(100,150) = %d", got)
	}
	if got := ComputePnl(MaxActionValue, 0); got != -int64(MaxActionValue) {
		t.Errorf("ComputePnl(max,0) = %d", got)
	}
}
