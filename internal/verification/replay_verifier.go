package verification

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"agent-rep/internal/domain"
	"agent-rep/internal/replay"
	"agent-rep/internal/reputation"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// ErrAgentNotFound is returned by VerifyAgent when the owner has neither a
// stored record nor any events.
var ErrAgentNotFound = errors.New("agent not found")

// Options configures a LedgerVerifier.
type Options struct {
	Events    storage.EventReader  // outbox or archive, required
	Agents    storage.AgentReader  // required
	Actions   storage.ActionReader // required
	Balances  storage.BalanceStore // optional, enables vault reconciliation
	Engine    *reputation.Engine   // defaults to reputation.DefaultEngine
	ProgramID solana.PublicKey     // defaults to solana.DefaultProgramID
	PageSize  int
}

// LedgerVerifier replays the event history and checks it against the
// stored agents, actions and the stake vault.
type LedgerVerifier struct {
	runner    *replay.Runner
	agents    storage.AgentReader
	actions   storage.ActionReader
	balances  storage.BalanceStore
	engine    *reputation.Engine
	programID solana.PublicKey
}

// NewLedgerVerifier validates opts and creates a verifier.
func NewLedgerVerifier(opts Options) (*LedgerVerifier, error) {
	if opts.Events == nil || opts.Agents == nil || opts.Actions == nil {
		return nil, errors.New("verification: events, agents and actions are required")
	}
	v := &LedgerVerifier{
		runner:    replay.NewRunner(opts.Events, opts.PageSize),
		agents:    opts.Agents,
		actions:   opts.Actions,
		balances:  opts.Balances,
		engine:    opts.Engine,
		programID: opts.ProgramID,
	}
	if v.engine == nil {
		v.engine = reputation.DefaultEngine
	}
	if v.programID.IsZero() {
		v.programID = solana.DefaultProgramID
	}
	return v, nil
}

// VerifyAll replays the whole history and verifies every agent.
func (v *LedgerVerifier) VerifyAll(ctx context.Context) (*Report, error) {
	d := &deriver{v: v, byAgent: make(map[solana.PublicKey]*derived)}
	stats, err := v.runner.RunAll(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	report := &Report{Events: stats.Events, LastSequence: stats.LastSequence}
	var vaultExpected uint64
	seen := make(map[solana.PublicKey]bool, len(d.order))

	for _, addr := range d.order {
		da := d.byAgent[addr]
		seen[da.agent.Owner] = true
		if err := v.finish(ctx, da); err != nil {
			return nil, err
		}
		sum, carry := bits.Add64(vaultExpected, da.agent.Stake, 0)
		if carry != 0 {
			da.diverge(0, "stake", "vault total within uint64", da.agent.Stake)
			report.VaultOverflow = true
		} else {
			vaultExpected = sum
		}
		report.add(da.result())
	}

	stored, err := v.agents.ListAgents(ctx, storage.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	for _, a := range stored {
		if seen[a.Owner] {
			continue
		}
		report.add(AgentResult{
			Owner: a.Owner,
			Agent: a.Address,
			Divergences: []FieldDivergence{{
				Field: "registration", Expected: "AgentRegistered event", Actual: "stored agent without events",
			}},
		})
	}

	if v.balances != nil {
		vault, _, err := solana.VaultAddress(v.programID)
		if err != nil {
			return nil, err
		}
		balance, err := v.balances.Balance(ctx, vault)
		if err != nil {
			return nil, fmt.Errorf("vault balance: %w", err)
		}
		report.VaultChecked = true
		report.VaultBalance = balance
		report.VaultExpected = vaultExpected
	}
	return report, nil
}

// VerifyAgent replays the history and returns the result for one owner.
func (v *LedgerVerifier) VerifyAgent(ctx context.Context, owner solana.PublicKey) (*AgentResult, error) {
	report, err := v.VerifyAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range report.Results {
		if report.Results[i].Owner == owner {
			return &report.Results[i], nil
		}
	}
	return nil, ErrAgentNotFound
}

// finish compares the derived agent with its stored record and checks the
// action ledger holds nothing past the derived count.
func (v *LedgerVerifier) finish(ctx context.Context, da *derived) error {
	if da.agent.Owner.IsZero() {
		return nil
	}
	stored, err := v.agents.GetAgent(ctx, da.agent.Owner)
	if errors.Is(err, storage.ErrNotFound) {
		da.diverge(0, "record", "stored agent", "missing")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get agent %s: %w", da.agent.Owner, err)
	}
	da.divs = append(da.divs, CompareAgents(&da.agent, stored)...)

	_, err = v.actions.GetAction(ctx, da.agent.Owner, da.agent.TotalActions)
	switch {
	case err == nil:
		da.diverge(0, "actions", da.agent.TotalActions, "actions beyond the last ActionLogged event")
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("get action: %w", err)
	}
	return nil
}

func (r *Report) add(res AgentResult) {
	res.Match = len(res.Divergences) == 0
	r.Results = append(r.Results, res)
	r.TotalAgents++
	if res.Match {
		r.MatchedAgents++
	} else {
		r.DivergentAgents++
	}
}

type derived struct {
	agent  domain.Agent
	events int
	divs   []FieldDivergence
}

func (d *derived) diverge(seq int64, field string, expected, actual any) {
	d.divs = append(d.divs, FieldDivergence{Field: field, Sequence: seq, Expected: expected, Actual: actual})
}

func (d *derived) check(seq int64, field string, expected, actual any) {
	if expected != actual {
		d.diverge(seq, field, expected, actual)
	}
}

func (d *derived) result() AgentResult {
	return AgentResult{Owner: d.agent.Owner, Agent: d.agent.Address, Events: d.events, Divergences: d.divs}
}

// deriver rebuilds agent state event by event.
type deriver struct {
	v       *LedgerVerifier
	byAgent map[solana.PublicKey]*derived // keyed by agent address
	order   []solana.PublicKey
}

func (d *deriver) OnEvent(ctx context.Context, ev *replay.Event) error {
	seq := ev.Sequence()
	if p, ok := ev.Payload.(*domain.AgentRegistered); ok {
		d.register(seq, p)
		return nil
	}

	da, ok := d.byAgent[ev.Envelope.Agent]
	if !ok {
		// Events for an agent that never registered are reported under its address.
		da = &derived{agent: domain.Agent{Address: ev.Envelope.Agent}}
		da.diverge(seq, "registration", "AgentRegistered before first event", string(ev.Envelope.Type))
		d.byAgent[ev.Envelope.Agent] = da
		d.order = append(d.order, ev.Envelope.Agent)
	}
	da.events++
	if da.agent.Owner.IsZero() {
		return nil
	}

	switch p := ev.Payload.(type) {
	case *domain.ActionLogged:
		return d.action(ctx, da, seq, p)
	case *domain.AgentSlashed:
		d.slash(da, seq, p)
	case *domain.AgentDeregistered:
		d.deregister(da, seq, p)
	case *domain.ReputationQueried:
		da.diverge(seq, "event", "durable event", "ReputationQueried in history")
	}
	return nil
}

func (d *deriver) register(seq int64, p *domain.AgentRegistered) {
	if da, ok := d.byAgent[p.Agent]; ok {
		da.events++
		da.diverge(seq, "registration", "single AgentRegistered", "repeated registration")
		return
	}
	da := &derived{
		events: 1,
		agent: domain.Agent{
			Owner:           p.Owner,
			Address:         p.Agent,
			Name:            p.Name,
			Stake:           p.Stake,
			ReputationScore: domain.InitialScore,
			RegisteredAt:    p.Timestamp,
			LastActionAt:    p.Timestamp,
			IsActive:        true,
			Revision:        1,
		},
	}
	if addr, _, err := solana.AgentAddress(d.v.programID, p.Owner); err != nil || addr != p.Agent {
		da.diverge(seq, "event.agent", addr, p.Agent)
	}
	d.byAgent[p.Agent] = da
	d.order = append(d.order, p.Agent)
}

func (d *deriver) action(ctx context.Context, da *derived, seq int64, p *domain.ActionLogged) error {
	a := &da.agent
	if !a.IsActive {
		da.diverge(seq, "is_active", "active agent", "ActionLogged after deregistration")
	}
	index := a.TotalActions

	rec, err := d.v.actions.GetAction(ctx, a.Owner, index)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		da.diverge(seq, fmt.Sprintf("action[%d]", index), "stored action", "missing")
	case err != nil:
		return fmt.Errorf("get action %d of %s: %w", index, a.Owner, err)
	default:
		field := func(name string) string { return fmt.Sprintf("action[%d].%s", index, name) }
		if addr, _, err := solana.ActionAddress(d.v.programID, a.Address, index); err == nil {
			da.check(seq, field("address"), addr, rec.Address)
		}
		da.check(seq, field("event_address"), rec.Address, p.Action)
		da.check(seq, field("action_type"), rec.ActionType, p.ActionType)
		da.check(seq, field("outcome"), rec.Outcome, p.Outcome)
		da.check(seq, field("pnl"), domain.ComputePnl(rec.InputValue, rec.OutputValue), rec.Pnl)
		da.check(seq, field("event_pnl"), rec.Pnl, p.Pnl)
		da.check(seq, field("timestamp"), p.Timestamp, rec.Timestamp)

		volume, carry := bits.Add64(a.TotalVolume, rec.InputValue, 0)
		if carry != 0 {
			da.diverge(seq, "total_volume", "no overflow", "overflow")
		} else {
			a.TotalVolume = volume
		}
	}

	a.TotalActions++
	if p.Outcome.IsSuccessful() {
		a.SuccessfulActions++
	}
	a.LastActionAt = p.Timestamp
	a.ReputationScore = d.v.engine.Score(reputation.Stats{
		Successful:   a.SuccessfulActions,
		Total:        a.TotalActions,
		Volume:       a.TotalVolume,
		RegisteredAt: a.RegisteredAt,
	}, p.Timestamp)
	a.Revision++
	da.check(seq, "event.new_score", a.ReputationScore, p.NewScore)
	return nil
}

func (d *deriver) slash(da *derived, seq int64, p *domain.AgentSlashed) {
	a := &da.agent
	if p.Amount > a.Stake {
		da.diverge(seq, "slash.amount", fmt.Sprintf("<= %d", a.Stake), p.Amount)
	} else {
		a.Stake -= p.Amount
	}
	a.ReputationScore = reputation.ApplySlashPenalty(a.ReputationScore, domain.SlashPenalty)
	a.Revision++
	da.check(seq, "event.new_stake", a.Stake, p.NewStake)
	da.check(seq, "event.new_score", a.ReputationScore, p.NewScore)
}

func (d *deriver) deregister(da *derived, seq int64, p *domain.AgentDeregistered) {
	a := &da.agent
	if !a.IsActive {
		da.diverge(seq, "is_active", "active agent", "repeated deregistration")
	}
	if p.Timestamp < a.LastActionAt || uint64(p.Timestamp)-uint64(a.LastActionAt) < uint64(domain.CooldownSeconds) {
		da.diverge(seq, "cooldown", a.CooldownEndsAt(), p.Timestamp)
	}
	da.check(seq, "event.stake_returned", a.Stake, p.StakeReturned)
	da.check(seq, "event.final_score", a.ReputationScore, p.FinalScore)
	da.check(seq, "event.total_actions", a.TotalActions, p.TotalActions)
	a.Stake = 0
	a.IsActive = false
	a.Revision++
}
