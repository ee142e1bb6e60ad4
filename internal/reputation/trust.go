package reputation

import (
	"errors"
	"fmt"
)

// TrustPolicy gates third-party interactions on an agent's standing.
type TrustPolicy struct {
	MinScore        uint8  `json:"min_score" yaml:"min_score"`
	MinActions      uint64 `json:"min_actions" yaml:"min_actions"`
	MaxInactiveDays uint64 `json:"max_inactive_days" yaml:"max_inactive_days"`
}

// DefaultTrustPolicy returns score 60, 10 actions, 30 days.
func DefaultTrustPolicy() TrustPolicy {
	return TrustPolicy{MinScore: 60, MinActions: 10, MaxInactiveDays: 30}
}

// Validate checks the policy is satisfiable.
func (p TrustPolicy) Validate() error {
	if p.MinScore > MaxScore {
		return errors.New("min_score exceeds 100")
	}
	return nil
}

// TrustDetails reports each criterion individually.
type TrustDetails struct {
	MeetsMinScore   bool `json:"meets_min_score"`
	MeetsMinActions bool `json:"meets_min_actions"`
	IsActive        bool `json:"is_active"`
	RecentActivity  bool `json:"recent_activity"`
}

// TrustResult is the outcome of a trust check.
type TrustResult struct {
	Trusted bool         `json:"trusted"`
	Score   uint8        `json:"score"`
	Reason  string       `json:"reason"`
	Details TrustDetails `json:"details"`
}

// TrustSubject is the subset of agent state a trust check reads.
type TrustSubject struct {
	Score        uint8
	TotalActions uint64
	IsActive     bool
	LastActionAt int64
}

// NotFoundTrust is the result for an unknown agent.
func NotFoundTrust() TrustResult {
	return TrustResult{Reason: "agent not found"}
}

// CheckTrust evaluates s against the policy at now.
// The first failing criterion, in order active, score, actions, activity,
// names the reason.
func (p TrustPolicy) CheckTrust(s TrustSubject, now int64) TrustResult {
	inactiveDays := AgeDays(s.LastActionAt, now)
	d := TrustDetails{
		MeetsMinScore:   s.Score >= p.MinScore,
		MeetsMinActions: s.TotalActions >= p.MinActions,
		IsActive:        s.IsActive,
		RecentActivity:  inactiveDays <= p.MaxInactiveDays,
	}
	r := TrustResult{
		Trusted: d.MeetsMinScore && d.MeetsMinActions && d.IsActive && d.RecentActivity,
		Score:   s.Score,
		Details: d,
	}
	switch {
	case r.Trusted:
		r.Reason = "agent meets all trust criteria"
	case !d.IsActive:
		r.Reason = "agent is deactivated"
	case !d.MeetsMinScore:
		r.Reason = fmt.Sprintf("score %d is below minimum %d", s.Score, p.MinScore)
	case !d.MeetsMinActions:
		r.Reason = fmt.Sprintf("only %d actions, need %d", s.TotalActions, p.MinActions)
	default:
		r.Reason = fmt.Sprintf("no activity in %d days", inactiveDays)
	}
	return r
}
