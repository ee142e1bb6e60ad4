package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// RegisterParams describes a new agent.
type RegisterParams struct {
	Name         string
	Description  string
	AgentType    domain.AgentType
	InitialStake uint64
}

func (p RegisterParams) validate() error {
	if len(p.Name) > domain.MaxNameLength {
		return ErrNameTooLong
	}
	if len(p.Description) > domain.MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if !p.AgentType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidAgentType, p.AgentType)
	}
	return nil
}

// Register creates the caller's agent and moves InitialStake into the vault.
func (l *Ledger) Register(ctx context.Context, caller solana.PublicKey, p RegisterParams) (agent *domain.Agent, err error) {
	defer func(start time.Time) { l.observe("register", start, err) }(time.Now())

	if err := l.auth.AuthorizeOwner(caller, caller); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	address, _, err := l.AgentAddress(caller)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()

	err = l.commit(ctx, caller, func(tx storage.Tx) error {
		if _, err := tx.Agent(ctx); err == nil {
			return ErrAgentAlreadyExists
		} else if !errors.Is(err, storage.ErrNotFound) {
			return storeErr("load agent", err)
		}

		a := &domain.Agent{
			Owner:           caller,
			Address:         address,
			Name:            p.Name,
			Description:     p.Description,
			AgentType:       p.AgentType,
			Stake:           p.InitialStake,
			ReputationScore: domain.InitialScore,
			RegisteredAt:    now,
			LastActionAt:    now,
			IsActive:        true,
			Revision:        1,
		}
		if err := tx.PutAgent(ctx, a); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return ErrAgentAlreadyExists
			}
			return storeErr("insert agent", err)
		}
		if err := tx.Transfer(ctx, caller, l.vault, p.InitialStake); err != nil {
			return storeErr("transfer stake", err)
		}
		ev := &domain.AgentRegistered{
			Agent:     address,
			Owner:     caller,
			Name:      a.Name,
			Stake:     a.Stake,
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
	l.logger.Printf("registered agent %s owner=%s stake=%d", address, caller, agent.Stake)
	return agent, nil
}

// DeregisterResult reports the final state of a deregistered agent.
type DeregisterResult struct {
	Agent         *domain.Agent
	StakeReturned uint64
}

// Deregister deactivates the caller's agent and returns its stake once the
// cooldown since the last action has elapsed.
func (l *Ledger) Deregister(ctx context.Context, caller solana.PublicKey) (result *DeregisterResult, err error) {
	defer func(start time.Time) { l.observe("deregister", start, err) }(time.Now())

	if err := l.auth.AuthorizeOwner(caller, caller); err != nil {
		return nil, err
	}
	now := l.clock.Now()

	err = l.commit(ctx, caller, func(tx storage.Tx) error {
		a, err := tx.Agent(ctx)
		if err != nil {
			return storeErr("load agent", err)
		}
		if !a.IsActive {
			return ErrAgentNotActive
		}
		if !cooldownComplete(a.LastActionAt, now) {
			return fmt.Errorf("%w: eligible at %d", ErrCooldownNotComplete, a.CooldownEndsAt())
		}

		returned := a.Stake
		a.IsActive = false
		a.Stake = 0
		a.Revision++
		if err := tx.PutAgent(ctx, a); err != nil {
			return storeErr("update agent", err)
		}
		if err := tx.Transfer(ctx, l.vault, caller, returned); err != nil {
			return storeErr("return stake", err)
		}
		ev := &domain.AgentDeregistered{
			Agent:         a.Address,
			Owner:         caller,
			StakeReturned: returned,
			FinalScore:    a.ReputationScore,
			TotalActions:  a.TotalActions,
			Timestamp:     now,
		}
		if err := appendEvent(ctx, tx, ev, a.Revision, caller); err != nil {
			return storeErr("append event", err)
		}
		result = &DeregisterResult{Agent: a, StakeReturned: returned}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Printf("deregistered agent %s returned=%d", result.Agent.Address, result.StakeReturned)
	return result, nil
}

// cooldownComplete reports now - lastActionAt >= CooldownSeconds without
// overflowing. A clock behind lastActionAt never completes.
func cooldownComplete(lastActionAt, now int64) bool {
	if now < lastActionAt {
		return false
	}
	return uint64(now)-uint64(lastActionAt) >= uint64(domain.CooldownSeconds)
}
