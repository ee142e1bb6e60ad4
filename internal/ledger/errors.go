package ledger

import (
	"errors"
	"fmt"

	"agent-rep/internal/authority"
	"agent-rep/internal/storage"
)

// Transition errors. Every rejected transition returns exactly one of these,
// possibly wrapped with context.
var (
	ErrNameTooLong         = errors.New("name too long")
	ErrDescriptionTooLong  = errors.New("description too long")
	ErrProtocolNameTooLong = errors.New("protocol name too long")
	ErrMetadataTooLong     = errors.New("metadata too long")
	ErrReasonTooLong       = errors.New("reason too long")
	ErrAgentNotActive      = errors.New("agent is not active")
	ErrCooldownNotComplete = errors.New("cooldown period not complete")
	ErrSlashExceedsStake   = errors.New("slash amount exceeds stake")

	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentAlreadyExists = errors.New("agent already exists")
	ErrInvalidAgentType   = errors.New("invalid agent type")
	ErrInvalidActionType  = errors.New("invalid action type")
	ErrInvalidOutcome     = errors.New("invalid outcome")
	ErrValueOutOfRange    = errors.New("value out of range")
	ErrVolumeOverflow     = errors.New("total volume overflow")
	ErrStaleActionIndex   = errors.New("stale action index")
	ErrInsufficientFunds  = errors.New("insufficient funds")

	// ErrUnauthorized is an alias so callers need not import authority.
	ErrUnauthorized = authority.ErrUnauthorized
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNameTooLong, "name_too_long"},
	{ErrDescriptionTooLong, "description_too_long"},
	{ErrProtocolNameTooLong, "protocol_name_too_long"},
	{ErrMetadataTooLong, "metadata_too_long"},
	{ErrReasonTooLong, "reason_too_long"},
	{ErrAgentNotActive, "agent_not_active"},
	{ErrCooldownNotComplete, "cooldown_not_complete"},
	{ErrSlashExceedsStake, "slash_exceeds_stake"},
	{ErrAgentNotFound, "agent_not_found"},
	{ErrAgentAlreadyExists, "agent_already_exists"},
	{ErrInvalidAgentType, "invalid_agent_type"},
	{ErrInvalidActionType, "invalid_action_type"},
	{ErrInvalidOutcome, "invalid_outcome"},
	{ErrValueOutOfRange, "value_out_of_range"},
	{ErrVolumeOverflow, "volume_overflow"},
	{ErrStaleActionIndex, "stale_action_index"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrUnauthorized, "unauthorized"},
}

// ErrorKind returns a stable label for err, "" for nil and "internal" for
// errors that are not transition rejections.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// IsRejection reports whether err is a transition rejection rather than a
// store or infrastructure failure.
func IsRejection(err error) bool {
	kind := ErrorKind(err)
	return kind != "" && kind != "internal"
}

// storeErr maps storage sentinels onto transition errors.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return ErrAgentNotFound
	case errors.Is(err, storage.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case IsRejection(err):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
