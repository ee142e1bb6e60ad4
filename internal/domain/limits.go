package domain

// Field limits in bytes.
const (
	MaxNameLength        = 32
	MaxDescriptionLength = 256
	MaxProtocolLength    = 32
	MaxMetadataLength    = 512
	MaxReasonLength      = 256
)

// MaxActionValue bounds input and output values so pnl fits in int64 exactly.
const MaxActionValue uint64 = 1 << 62

// CooldownSeconds is the inactivity period required before deregistration.
const CooldownSeconds int64 = 7 * 24 * 60 * 60

// Score constants.
const (
	InitialScore uint8 = 50
	SlashPenalty uint8 = 10
)
