package memory

import (
	"context"
	"sync"

	"agent-rep/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]int64
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		checkpoints: make(map[string]int64),
	}
}

// GetCheckpoint returns the last processed sequence for consumer.
func (s *CheckpointStore) GetCheckpoint(_ context.Context, consumer string) (int64, error) {
	if consumer == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seq, ok := s.checkpoints[consumer]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return seq, nil
}

// SetCheckpoint saves the last processed sequence for consumer.
func (s *CheckpointStore) SetCheckpoint(_ context.Context, consumer string, sequence int64) error {
	if consumer == "" || sequence < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.checkpoints[consumer]; ok && cur >= sequence {
		return nil
	}
	s.checkpoints[consumer] = sequence
	return nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
