package ledger

import (
	"context"
	"fmt"
	"math/bits"
	"time"

	"agent-rep/internal/domain"
	"agent-rep/internal/observability"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// ActionParams describes an action to append to the caller's ledger.
type ActionParams struct {
	ActionType  domain.ActionType
	Protocol    string
	InputValue  uint64
	OutputValue uint64
	Outcome     domain.Outcome
	Metadata    string

	// ExpectedIndex, when set, must equal the agent's next action index.
	// It rejects a resubmitted transition that was already applied.
	ExpectedIndex *uint64
}

func (p ActionParams) validate() error {
	if !p.ActionType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidActionType, p.ActionType)
	}
	if !p.Outcome.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, p.Outcome)
	}
	if len(p.Protocol) > domain.MaxProtocolLength {
		return ErrProtocolNameTooLong
	}
	if len(p.Metadata) > domain.MaxMetadataLength {
		return ErrMetadataTooLong
	}
	if p.InputValue > domain.MaxActionValue || p.OutputValue > domain.MaxActionValue {
		return fmt.Errorf("%w: values must not exceed %d", ErrValueOutOfRange, domain.MaxActionValue)
	}
	return nil
}

// ActionResult holds the appended action and the updated agent.
type ActionResult struct {
	Action *domain.Action
	Agent  *domain.Agent
}

// LogAction appends an action at the agent's next index and recomputes its score.
func (l *Ledger) LogAction(ctx context.Context, caller solana.PublicKey, p ActionParams) (result *ActionResult, err error) {
	defer func(start time.Time) { l.observe("log_action", start, err) }(time.Now())

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
		if err := p.validate(); err != nil {
			return err
		}

		index := a.TotalActions
		if p.ExpectedIndex != nil && *p.ExpectedIndex != index {
			return fmt.Errorf("%w: expected %d, next is %d", ErrStaleActionIndex, *p.ExpectedIndex, index)
		}
		volume, carry := bits.Add64(a.TotalVolume, p.InputValue, 0)
		if carry != 0 {
			return ErrVolumeOverflow
		}
		total, carry := bits.Add64(a.TotalActions, 1, 0)
		if carry != 0 {
			return fmt.Errorf("%w: action counter exhausted", ErrValueOutOfRange)
		}

		address, _, err := solana.ActionAddress(l.programID, a.Address, index)
		if err != nil {
			return err
		}
		action := &domain.Action{
			Address:     address,
			Agent:       a.Address,
			Owner:       a.Owner,
			ActionIndex: index,
			ActionType:  p.ActionType,
			Protocol:    p.Protocol,
			InputValue:  p.InputValue,
			OutputValue: p.OutputValue,
			Pnl:         domain.ComputePnl(p.InputValue, p.OutputValue),
			Outcome:     p.Outcome,
			Metadata:    p.Metadata,
			Timestamp:   now,
		}
		if err := tx.AppendAction(ctx, action); err != nil {
			return storeErr("append action", err)
		}

		a.TotalActions = total
		a.TotalVolume = volume
		a.LastActionAt = now
		if p.Outcome.IsSuccessful() {
			a.SuccessfulActions++
		}
		a.ReputationScore = l.score(a, now)
		a.Revision++
		if err := tx.PutAgent(ctx, a); err != nil {
			return storeErr("update agent", err)
		}

		ev := &domain.ActionLogged{
			Agent:      a.Address,
			Action:     address,
			ActionType: action.ActionType,
			Outcome:    action.Outcome,
			Pnl:        action.Pnl,
			NewScore:   a.ReputationScore,
			Timestamp:  now,
		}
		if err := appendEvent(ctx, tx, ev, a.Revision, caller); err != nil {
			return storeErr("append event", err)
		}
		result = &ActionResult{Action: action, Agent: a}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RecordActionLogged(string(p.ActionType), string(p.Outcome))
	return result, nil
}
