package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agent-rep/internal/domain"
	"agent-rep/internal/idhash"
	"agent-rep/internal/observability"
	"agent-rep/internal/reputation"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// ReputationQuery is the answer to QueryReputation.
type ReputationQuery struct {
	Agent        solana.PublicKey `json:"agent"`
	Owner        solana.PublicKey `json:"owner"`
	Score        uint8            `json:"score"`
	TotalActions uint64           `json:"total_actions"`
	SuccessRate  uint64           `json:"success_rate"`
	Timestamp    int64            `json:"timestamp"`
}

// QueryReputation reads the agent's score on behalf of any querier and
// publishes a ReputationQueried event. The agent record is not modified and
// the event is not written to the outbox.
func (l *Ledger) QueryReputation(ctx context.Context, owner, querier solana.PublicKey) (q *ReputationQuery, err error) {
	defer func(start time.Time) { l.observe("query_reputation", start, err) }(time.Now())

	a, err := l.GetAgent(ctx, owner)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	q = &ReputationQuery{
		Agent:        a.Address,
		Owner:        a.Owner,
		Score:        a.ReputationScore,
		TotalActions: a.TotalActions,
		SuccessRate:  reputation.SuccessRate(a.SuccessfulActions, a.TotalActions),
		Timestamp:    now,
	}

	observability.RecordReputationQuery()
	if l.publisher != nil {
		ev := &domain.ReputationQueried{
			Agent:        q.Agent,
			Querier:      querier,
			Score:        q.Score,
			TotalActions: q.TotalActions,
			SuccessRate:  q.SuccessRate,
			Timestamp:    now,
		}
		id := idhash.ComputeEventID(ev.Type(), ev.Agent, a.Revision, now, querier)
		env, err := domain.NewEnvelope(id, ev)
		if err != nil {
			return nil, err
		}
		l.publisher.Publish(env)
	}
	return q, nil
}

// GetAgent returns the committed agent owned by owner.
func (l *Ledger) GetAgent(ctx context.Context, owner solana.PublicKey) (*domain.Agent, error) {
	a, err := l.store.GetAgent(ctx, owner)
	if err != nil {
		return nil, storeErr("get agent", err)
	}
	return a, nil
}

// Reputation is the full standing of an agent.
type Reputation struct {
	Agent             solana.PublicKey     `json:"agent"`
	Owner             solana.PublicKey     `json:"owner"`
	Name              string               `json:"name"`
	AgentType         domain.AgentType     `json:"agent_type"`
	Score             uint8                `json:"score"`
	Stake             uint64               `json:"stake"`
	TotalActions      uint64               `json:"total_actions"`
	SuccessfulActions uint64               `json:"successful_actions"`
	SuccessRate       uint64               `json:"success_rate"`
	TotalVolume       uint64               `json:"total_volume"`
	AgeDays           uint64               `json:"age_days"`
	IsActive          bool                 `json:"is_active"`
	LastActionAt      int64                `json:"last_action_at"`
	Breakdown         reputation.Breakdown `json:"breakdown"`
}

// Reputation returns the agent's standing with the score breakdown evaluated now.
// The stored score includes slash penalties, the breakdown does not.
func (l *Ledger) Reputation(ctx context.Context, owner solana.PublicKey) (*Reputation, error) {
	a, err := l.GetAgent(ctx, owner)
	if err != nil {
		return nil, err
	}
	return l.reputationOf(a, l.clock.Now()), nil
}

func (l *Ledger) reputationOf(a *domain.Agent, now int64) *Reputation {
	return &Reputation{
		Agent:             a.Address,
		Owner:             a.Owner,
		Name:              a.Name,
		AgentType:         a.AgentType,
		Score:             a.ReputationScore,
		Stake:             a.Stake,
		TotalActions:      a.TotalActions,
		SuccessfulActions: a.SuccessfulActions,
		SuccessRate:       reputation.SuccessRate(a.SuccessfulActions, a.TotalActions),
		TotalVolume:       a.TotalVolume,
		AgeDays:           reputation.AgeDays(a.RegisteredAt, now),
		IsActive:          a.IsActive,
		LastActionAt:      a.LastActionAt,
		Breakdown: l.engine.Breakdown(reputation.Stats{
			Successful:   a.SuccessfulActions,
			Total:        a.TotalActions,
			Volume:       a.TotalVolume,
			RegisteredAt: a.RegisteredAt,
		}, now),
	}
}

// CheckTrust evaluates the agent against policy. An unknown agent is not
// trusted and is not an error.
func (l *Ledger) CheckTrust(ctx context.Context, owner solana.PublicKey, policy reputation.TrustPolicy) (reputation.TrustResult, error) {
	if err := policy.Validate(); err != nil {
		return reputation.TrustResult{}, err
	}
	a, err := l.GetAgent(ctx, owner)
	if errors.Is(err, ErrAgentNotFound) {
		return reputation.NotFoundTrust(), nil
	}
	if err != nil {
		return reputation.TrustResult{}, err
	}
	return policy.CheckTrust(reputation.TrustSubject{
		Score:        a.ReputationScore,
		TotalActions: a.TotalActions,
		IsActive:     a.IsActive,
		LastActionAt: a.LastActionAt,
	}, l.clock.Now()), nil
}

// LeaderboardEntry is one ranked agent.
type LeaderboardEntry struct {
	Rank         int              `json:"rank"`
	Agent        solana.PublicKey `json:"agent"`
	Owner        solana.PublicKey `json:"owner"`
	Name         string           `json:"name"`
	AgentType    domain.AgentType `json:"agent_type"`
	Score        uint8            `json:"score"`
	TotalActions uint64           `json:"total_actions"`
	SuccessRate  uint64           `json:"success_rate"`
	Stake        uint64           `json:"stake"`
}

// Leaderboard returns up to limit active agents ranked from 1.
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", storage.ErrInvalidInput)
	}
	agents, err := l.store.ListAgents(ctx, storage.AgentFilter{ActiveOnly: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	entries := make([]LeaderboardEntry, len(agents))
	for i, a := range agents {
		entries[i] = LeaderboardEntry{
			Rank:         i + 1,
			Agent:        a.Address,
			Owner:        a.Owner,
			Name:         a.Name,
			AgentType:    a.AgentType,
			Score:        a.ReputationScore,
			TotalActions: a.TotalActions,
			SuccessRate:  reputation.SuccessRate(a.SuccessfulActions, a.TotalActions),
			Stake:        a.Stake,
		}
	}
	return entries, nil
}

// ActionHistory returns the owner's actions newest first.
func (l *Ledger) ActionHistory(ctx context.Context, owner solana.PublicKey, limit, offset int) ([]*domain.Action, error) {
	if _, err := l.GetAgent(ctx, owner); err != nil {
		return nil, err
	}
	actions, err := l.store.ListActions(ctx, owner, storage.ActionQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}
