package ledger

import (
	"context"
	"fmt"
	"time"

	"agent-rep/internal/domain"
	"agent-rep/internal/observability"
	"agent-rep/internal/reputation"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// Slash moves amount of the agent's stake to the treasury and applies the
// score penalty. Only a governance caller may slash. The agent stays active
// and its action counters are untouched.
func (l *Ledger) Slash(ctx context.Context, caller, owner solana.PublicKey, amount uint64, reason string) (agent *domain.Agent, err error) {
	defer func(start time.Time) { l.observe("slash", start, err) }(time.Now())

	if err := l.auth.AuthorizeGovernance(caller); err != nil {
		return nil, err
	}
	now := l.clock.Now()

	err = l.commit(ctx, owner, func(tx storage.Tx) error {
		a, err := tx.Agent(ctx)
		if err != nil {
			return storeErr("load agent", err)
		}
		if amount > a.Stake {
			return fmt.Errorf("%w: amount %d, stake %d", ErrSlashExceedsStake, amount, a.Stake)
		}
		if len(reason) > domain.MaxReasonLength {
			return ErrReasonTooLong
		}

		a.Stake -= amount
		a.ReputationScore = reputation.ApplySlashPenalty(a.ReputationScore, domain.SlashPenalty)
		a.Revision++
		if err := tx.PutAgent(ctx, a); err != nil {
			return storeErr("update agent", err)
		}
		if err := tx.Transfer(ctx, l.vault, l.treasury, amount); err != nil {
			return storeErr("transfer to treasury", err)
		}
		ev := &domain.AgentSlashed{
			Agent:     a.Address,
			Amount:    amount,
			Reason:    reason,
			NewStake:  a.Stake,
			NewScore:  a.ReputationScore,
			Timestamp: now,
		}
		if err := appendEvent(ctx, tx, ev, a.Revision, caller); err != nil {
			return storeErr("append event", err)
		}
		agent = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RecordSlash(amount)
	l.logger.Printf("slashed agent %s amount=%d score=%d reason=%q", agent.Address, amount, agent.ReputationScore, reason)
	return agent, nil
}
