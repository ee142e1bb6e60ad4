package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"agent-rep/internal/reputation"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
	"agent-rep/internal/verification"
)

// Verifier checks the history against the stored state.
type Verifier interface {
	VerifyAll(ctx context.Context) (*verification.Report, error)
}

// Options configures a Generator.
type Options struct {
	Agents    storage.AgentReader  // required
	Actions   storage.ActionReader // required
	Events    storage.EventReader  // required
	Archive   storage.EventArchive // optional, enables event counts and score history
	Verifier  Verifier             // optional
	ProgramID solana.PublicKey
}

// Generator produces reports from stored data.
type Generator struct {
	agents    storage.AgentReader
	actions   storage.ActionReader
	events    storage.EventReader
	archive   storage.EventArchive
	verifier  Verifier
	programID solana.PublicKey
	now       func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(opts Options) (*Generator, error) {
	if opts.Agents == nil || opts.Actions == nil || opts.Events == nil {
		return nil, errors.New("reporting: agents, actions and events are required")
	}
	g := &Generator{
		agents:    opts.Agents,
		actions:   opts.Actions,
		events:    opts.Events,
		archive:   opts.Archive,
		verifier:  opts.Verifier,
		programID: opts.ProgramID,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if g.programID.IsZero() {
		g.programID = solana.DefaultProgramID
	}
	return g, nil
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the ledger-wide report. limit caps the leaderboard, 0 means
// every active agent.
func (g *Generator) Generate(ctx context.Context, limit int) (*Report, error) {
	agents, err := g.agents.ListAgents(ctx, storage.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	latest, err := g.events.LatestSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest sequence: %w", err)
	}

	r := &Report{GeneratedAt: g.now(), ProgramID: g.programID}
	r.Summary.LastSequence = latest

	var scoreSum uint64
	for _, a := range agents {
		r.Summary.TotalAgents++
		r.Summary.TotalActions += a.TotalActions
		r.Summary.SuccessfulActions += a.SuccessfulActions
		scoreSum += uint64(a.ReputationScore)
		if !a.IsActive {
			continue
		}
		r.Summary.ActiveAgents++
		r.Summary.TotalStake += a.Stake

		if limit == 0 || len(r.Leaderboard) < limit {
			r.Leaderboard = append(r.Leaderboard, LeaderboardRow{
				Rank:         len(r.Leaderboard) + 1,
				Owner:        a.Owner,
				Agent:        a.Address,
				Name:         a.Name,
				AgentType:    a.AgentType,
				Score:        a.ReputationScore,
				TotalActions: a.TotalActions,
				SuccessRate:  reputation.SuccessRate(a.SuccessfulActions, a.TotalActions),
				Stake:        a.Stake,
			})
		}
	}
	r.Summary.SuccessRate = reputation.SuccessRate(r.Summary.SuccessfulActions, r.Summary.TotalActions)
	if r.Summary.TotalAgents > 0 {
		r.Summary.AverageScore = float64(scoreSum) / float64(r.Summary.TotalAgents)
	}

	if g.archive != nil {
		counts, err := g.archive.CountByType(ctx)
		if err != nil {
			return nil, fmt.Errorf("count events: %w", err)
		}
		for t, n := range counts {
			r.EventCounts = append(r.EventCounts, EventCountRow{Type: t, Count: n})
		}
		sort.Slice(r.EventCounts, func(i, j int) bool { return r.EventCounts[i].Type < r.EventCounts[j].Type })
	}

	if g.verifier != nil {
		if r.Verification, err = g.verifier.VerifyAll(ctx); err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
	}
	return r, nil
}

// GenerateAgent builds the history report of one owner. limit caps both the
// actions and the score history, 0 means everything.
func (g *Generator) GenerateAgent(ctx context.Context, owner solana.PublicKey, limit int) (*AgentReport, error) {
	a, err := g.agents.GetAgent(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", owner, err)
	}
	actions, err := g.actions.ListActions(ctx, owner, storage.ActionQuery{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	r := &AgentReport{
		GeneratedAt: g.now(),
		Agent:       *a,
		SuccessRate: reputation.SuccessRate(a.SuccessfulActions, a.TotalActions),
		Actions:     actions,
	}
	if g.archive != nil {
		if r.ScoreHistory, err = g.archive.ScoreHistory(ctx, a.Address, limit); err != nil {
			return nil, fmt.Errorf("score history: %w", err)
		}
	}
	return r, nil
}
