package storage

import "context"

// CheckpointStore persists consumer positions in the event log.
// This enables resumption after restarts without reprocessing events.
type CheckpointStore interface {
	// GetCheckpoint returns the last processed sequence for consumer.
	// Returns ErrNotFound if no checkpoint has been saved yet.
	GetCheckpoint(ctx context.Context, consumer string) (int64, error)

	// SetCheckpoint saves the last processed sequence for consumer.
	// A sequence lower than the stored one is ignored.
	SetCheckpoint(ctx context.Context, consumer string, sequence int64) error
}
