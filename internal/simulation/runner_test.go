package simulation

import (
	"context"
	"testing"

	"agent-rep/internal/authority"
	"agent-rep/internal/domain"
	"agent-rep/internal/ledger"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage/memory"
	"agent-rep/internal/verification"
)

var gov = solana.PublicKey{0xAA}

func runSimulation(t *testing.T, seed uint64) (*memory.LedgerStore, *ledger.Ledger, *Summary) {
	t.Helper()
	store := memory.NewLedgerStore()
	auth, err := authority.NewStatic(gov)
	if err != nil {
		t.Fatal(err)
	}
	clock := NewClock(1_700_000_000)
	l, err := ledger.New(ledger.Options{Store: store, Authority: auth, Clock: clock})
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRunner(RunnerOptions{
		Ledger:          l,
		Clock:           clock,
		Funds:           store,
		Governance:      gov,
		Seed:            seed,
		Agents:          6,
		Actions:         120,
		Slashes:         4,
		Queries:         10,
		Deregistrations: 2,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	s, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.Owners()) != s.Registered {
		t.Errorf("Owners() = %d, want %d", len(r.Owners()), s.Registered)
	}
	return store, l, s
}

func TestRunner_Run_Counts(t *testing.T) {
	store, _, s := runSimulation(t, 7)

	if s.Registered != 6 || s.Actions != 120 || s.Queries != 10 || s.Deregistered != 2 {
		t.Errorf("summary = %+v", s)
	}
	if s.Slashes == 0 || s.Slashes > 4 {
		t.Errorf("slashes = %d, want 1..4", s.Slashes)
	}

	latest, err := store.LatestSequence(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// Queries are published only and never reach the outbox.
	want := int64(s.Registered + s.Actions + s.Slashes + s.Deregistered)
	if latest != want {
		t.Errorf("outbox holds %d events, want %d", latest, want)
	}
}

func TestRunner_Run_Deterministic(t *testing.T) {
	ctx := context.Background()
	a, _, _ := runSimulation(t, 42)
	b, _, _ := runSimulation(t, 42)

	ea, err := a.ListEvents(ctx, 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	eb, err := b.ListEvents(ctx, 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ea) != len(eb) {
		t.Fatalf("event counts differ: %d vs %d", len(ea), len(eb))
	}
	for i := range ea {
		if ea[i].ID != eb[i].ID || string(ea[i].Payload) != string(eb[i].Payload) {
			t.Fatalf("event %d differs:\n%s\n%s", i, ea[i].Payload, eb[i].Payload)
		}
	}

	c, _, _ := runSimulation(t, 43)
	ec, err := c.ListEvents(ctx, 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ec) > 0 && ec[0].ID == ea[0].ID {
		t.Error("different seeds produced the same history")
	}
}

func TestRunner_HistoryVerifies(t *testing.T) {
	store, l, _ := runSimulation(t, 99)
	v, err := verification.NewLedgerVerifier(verification.Options{
		Events:    store,
		Agents:    store,
		Actions:   store,
		Balances:  store,
		Engine:    l.Engine(),
		ProgramID: l.ProgramID(),
	})
	if err != nil {
		t.Fatal(err)
	}
	report, err := v.VerifyAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Fatalf("simulated history does not verify: %+v", report)
	}
}

func TestProfile_OutcomesMatchValues(t *testing.T) {
	r, err := NewRunner(RunnerOptions{Ledger: &ledger.Ledger{}, Clock: NewClock(0), Funds: memory.NewLedgerStore(), Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		p := newProfile(r.rng, i)
		for j := 0; j < 20; j++ {
			a := p.nextAction(r.rng)
			if !a.Outcome.IsValid() || !a.ActionType.IsValid() {
				t.Fatalf("invalid action %+v", a)
			}
			switch a.Outcome {
			case domain.OutcomeProfit:
				if a.OutputValue <= a.InputValue {
					t.Errorf("profit with output %d <= input %d", a.OutputValue, a.InputValue)
				}
			case domain.OutcomeLoss:
				if a.OutputValue >= a.InputValue {
					t.Errorf("loss with output %d >= input %d", a.OutputValue, a.InputValue)
				}
			}
			if len(a.Protocol) > domain.MaxProtocolLength {
				t.Errorf("protocol %q too long", a.Protocol)
			}
		}
	}
}

func TestNewRunner_Validation(t *testing.T) {
	if _, err := NewRunner(RunnerOptions{}); err == nil {
		t.Error("expected error for missing dependencies")
	}
	clock := NewClock(0)
	if _, err := NewRunner(RunnerOptions{Ledger: &ledger.Ledger{}, Clock: clock, Funds: memory.NewLedgerStore(), Slashes: -1}); err == nil {
		t.Error("expected error for negative count")
	}
}
