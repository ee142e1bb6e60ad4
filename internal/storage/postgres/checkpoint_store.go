package postgres

import (
	"context"

	"agent-rep/internal/storage"
)

// CheckpointStore is a PostgreSQL implementation of storage.CheckpointStore.
// One row per consumer in consumer_checkpoints.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new PostgreSQL checkpoint store.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// GetCheckpoint returns the last processed sequence for consumer.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context, consumer string) (int64, error) {
	if consumer == "" {
		return 0, storage.ErrInvalidInput
	}

	var seq int64
	err := s.pool.QueryRow(ctx, `
		SELECT sequence FROM consumer_checkpoints WHERE consumer = $1
	`, consumer).Scan(&seq)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, err
	}
	return seq, nil
}

// SetCheckpoint saves the last processed sequence for consumer.
// Uses upsert so the stored sequence never moves backwards.
func (s *CheckpointStore) SetCheckpoint(ctx context.Context, consumer string, sequence int64) error {
	if consumer == "" || sequence < 0 {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO consumer_checkpoints (consumer, sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (consumer) DO UPDATE
		SET sequence = GREATEST(consumer_checkpoints.sequence, EXCLUDED.sequence),
		    updated_at = NOW()
	`, consumer, sequence)
	return err
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
