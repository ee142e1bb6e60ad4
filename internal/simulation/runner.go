// Package simulation drives a ledger with a seeded synthetic workload. The
// same seed and options always produce the same event history.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"sync/atomic"

	"agent-rep/internal/domain"
	"agent-rep/internal/ledger"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// Clock is a virtual ledger clock advanced by the runner.
type Clock struct{ now atomic.Int64 }

// NewClock starts a clock at start (unix seconds).
func NewClock(start int64) *Clock {
	c := &Clock{}
	c.now.Store(start)
	return c
}

// Now implements ledger.Clock.
func (c *Clock) Now() int64 { return c.now.Load() }

// Advance moves the clock forward by seconds.
func (c *Clock) Advance(seconds int64) { c.now.Add(seconds) }

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Ledger     *ledger.Ledger       // required, built with Clock
	Clock      *Clock               // required
	Funds      storage.BalanceStore // required, credits owners before registration
	Governance solana.PublicKey     // slashes are skipped when zero

	Seed            uint64
	Agents          int // Default: 8
	Actions         int // Default: 200
	Slashes         int
	Queries         int
	Deregistrations int
	Logger          *log.Logger
}

// Summary counts what a run committed.
type Summary struct {
	Registered   int
	Actions      int
	Slashes      int
	Queries      int
	Deregistered int
	Rejected     int // transitions the ledger refused
}

// Runner executes a synthetic workload.
type Runner struct {
	opts   RunnerOptions
	rng    *rand.Rand
	logger *log.Logger
	agents []*profile
}

// NewRunner validates opts and creates a runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Ledger == nil || opts.Clock == nil || opts.Funds == nil {
		return nil, errors.New("simulation: ledger, clock and funds are required")
	}
	if opts.Agents <= 0 {
		opts.Agents = 8
	}
	if opts.Actions < 0 || opts.Slashes < 0 || opts.Queries < 0 || opts.Deregistrations < 0 {
		return nil, errors.New("simulation: counts must not be negative")
	}
	if opts.Actions == 0 {
		opts.Actions = 200
	}
	if opts.Deregistrations > opts.Agents {
		opts.Deregistrations = opts.Agents
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Runner{
		opts:   opts,
		rng:    rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		logger: logger,
	}, nil
}

// Owners returns the simulated owner keys in registration order.
func (r *Runner) Owners() []solana.PublicKey {
	out := make([]solana.PublicKey, len(r.agents))
	for i, p := range r.agents {
		out[i] = p.owner
	}
	return out
}

// Run registers the agents, logs actions, interleaves slashes and queries and
// finally deregisters the requested number of agents.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	s := &Summary{}
	if err := r.register(ctx, s); err != nil {
		return s, err
	}

	slashAt := r.schedule(r.opts.Slashes)
	queryAt := r.schedule(r.opts.Queries)
	for i := 0; i < r.opts.Actions; i++ {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		r.opts.Clock.Advance(600 + r.rng.Int64N(6*3600))

		p := r.agents[r.rng.IntN(len(r.agents))]
		if err := r.act(ctx, p, s); err != nil {
			return s, err
		}
		for ; slashAt[i] > 0; slashAt[i]-- {
			if err := r.slash(ctx, s); err != nil {
				return s, err
			}
		}
		for ; queryAt[i] > 0; queryAt[i]-- {
			if err := r.query(ctx, s); err != nil {
				return s, err
			}
		}
	}

	if r.opts.Deregistrations > 0 {
		r.opts.Clock.Advance(domain.CooldownSeconds)
		for _, idx := range r.rng.Perm(len(r.agents))[:r.opts.Deregistrations] {
			if err := r.deregister(ctx, r.agents[idx], s); err != nil {
				return s, err
			}
		}
	}

	r.logger.Printf("simulation done: %d agents, %d actions, %d slashes, %d queries, %d deregistered, %d rejected",
		s.Registered, s.Actions, s.Slashes, s.Queries, s.Deregistered, s.Rejected)
	return s, nil
}

// schedule spreads n events over the action steps.
func (r *Runner) schedule(n int) []int {
	at := make([]int, max(r.opts.Actions, 1))
	for i := 0; i < n; i++ {
		at[r.rng.IntN(len(at))]++
	}
	return at
}

func (r *Runner) register(ctx context.Context, s *Summary) error {
	for i := 0; i < r.opts.Agents; i++ {
		p := newProfile(r.rng, i)
		if err := r.opts.Funds.Deposit(ctx, p.owner, 2*p.stake); err != nil {
			return fmt.Errorf("fund %s: %w", p.owner, err)
		}
		_, err := r.opts.Ledger.Register(ctx, p.owner, ledger.RegisterParams{
			Name:         p.name,
			Description:  "simulated " + string(p.agentType) + " agent",
			AgentType:    p.agentType,
			InitialStake: p.stake,
		})
		ok, err := r.outcome(err, s)
		if err != nil {
			return fmt.Errorf("register %s: %w", p.name, err)
		}
		if ok {
			s.Registered++
			r.agents = append(r.agents, p)
		}
	}
	if len(r.agents) == 0 {
		return errors.New("simulation: no agent could register")
	}
	return nil
}

func (r *Runner) act(ctx context.Context, p *profile, s *Summary) error {
	params := p.nextAction(r.rng)
	_, err := r.opts.Ledger.LogAction(ctx, p.owner, params)
	ok, err := r.outcome(err, s)
	if err != nil {
		return fmt.Errorf("log action for %s: %w", p.name, err)
	}
	if ok {
		s.Actions++
	}
	return nil
}

func (r *Runner) slash(ctx context.Context, s *Summary) error {
	if r.opts.Governance.IsZero() {
		return nil
	}
	p := r.agents[r.rng.IntN(len(r.agents))]
	a, err := r.opts.Ledger.GetAgent(ctx, p.owner)
	if err != nil {
		return fmt.Errorf("get agent %s: %w", p.name, err)
	}
	amount := a.Stake / 10
	if amount == 0 {
		return nil
	}
	_, err = r.opts.Ledger.Slash(ctx, r.opts.Governance, p.owner, amount, "simulated misbehaviour")
	ok, err := r.outcome(err, s)
	if err != nil {
		return fmt.Errorf("slash %s: %w", p.name, err)
	}
	if ok {
		s.Slashes++
	}
	return nil
}

func (r *Runner) query(ctx context.Context, s *Summary) error {
	p := r.agents[r.rng.IntN(len(r.agents))]
	querier := r.agents[r.rng.IntN(len(r.agents))].owner
	_, err := r.opts.Ledger.QueryReputation(ctx, p.owner, querier)
	ok, err := r.outcome(err, s)
	if err != nil {
		return fmt.Errorf("query %s: %w", p.name, err)
	}
	if ok {
		s.Queries++
	}
	return nil
}

func (r *Runner) deregister(ctx context.Context, p *profile, s *Summary) error {
	_, err := r.opts.Ledger.Deregister(ctx, p.owner)
	ok, err := r.outcome(err, s)
	if err != nil {
		return fmt.Errorf("deregister %s: %w", p.name, err)
	}
	if ok {
		s.Deregistered++
		p.active = false
	}
	return nil
}

// outcome splits a transition result into committed, a counted rejection or
// a fatal error.
func (r *Runner) outcome(err error, s *Summary) (bool, error) {
	if err == nil {
		return true, nil
	}
	if ledger.IsRejection(err) {
		r.logger.Printf("rejected (%s): %v", ledger.ErrorKind(err), err)
		s.Rejected++
		return false, nil
	}
	return false, err
}

// Fixture builds a ledger from opts on a virtual clock and fills it with the
// default workload for seed. governance may be zero to skip slashes.
func Fixture(ctx context.Context, opts ledger.Options, governance solana.PublicKey, seed uint64) (*ledger.Ledger, *Summary, error) {
	clock := NewClock(1_735_689_600) // 2025-01-01T00:00:00Z
	opts.Clock = clock
	l, err := ledger.New(opts)
	if err != nil {
		return nil, nil, err
	}
	r, err := NewRunner(RunnerOptions{
		Ledger:          l,
		Clock:           clock,
		Funds:           opts.Store,
		Governance:      governance,
		Seed:            seed,
		Slashes:         5,
		Queries:         20,
		Deregistrations: 1,
		Logger:          opts.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	s, err := r.Run(ctx)
	if err != nil {
		return nil, nil, err
	}
	return l, s, nil
}
