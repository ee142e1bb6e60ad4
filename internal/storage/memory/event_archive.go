package memory

import (
	"context"
	"sort"
	"sync"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// EventArchive is an in-memory implementation of storage.EventArchive.
type EventArchive struct {
	mu     sync.RWMutex
	events map[int64]domain.Envelope // keyed by sequence
}

// NewEventArchive creates a new in-memory event archive.
func NewEventArchive() *EventArchive {
	return &EventArchive{events: make(map[int64]domain.Envelope)}
}

// InsertBatch archives envelopes. An already archived sequence is kept as is.
func (s *EventArchive) InsertBatch(_ context.Context, envs []domain.Envelope) error {
	seen := make(map[int64]struct{}, len(envs))
	for _, env := range envs {
		if env.Sequence <= 0 || env.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[env.Sequence]; exists {
			return storage.ErrDuplicateKey
		}
		seen[env.Sequence] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range envs {
		if _, ok := s.events[env.Sequence]; !ok {
			s.events[env.Sequence] = copyEnvelope(env)
		}
	}
	return nil
}

// sorted returns archived envelopes in sequence order. Caller holds mu.
func (s *EventArchive) sorted() []domain.Envelope {
	out := make([]domain.Envelope, 0, len(s.events))
	for _, env := range s.events {
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// ListEvents returns archived events with sequence > after.
func (s *EventArchive) ListEvents(_ context.Context, after int64, limit int) ([]domain.Envelope, error) {
	if limit <= 0 || after < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Envelope{}
	for _, env := range s.sorted() {
		if env.Sequence <= after {
			continue
		}
		result = append(result, copyEnvelope(env))
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// LatestSequence returns the highest archived sequence.
func (s *EventArchive) LatestSequence(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for seq := range s.events {
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

// ScoreHistory returns the agent's score after each score-bearing event.
func (s *EventArchive) ScoreHistory(_ context.Context, agent solana.PublicKey, limit int) ([]storage.ScorePoint, error) {
	if limit < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	points := []storage.ScorePoint{}
	for _, env := range s.sorted() {
		if env.Agent != agent {
			continue
		}
		score, ok, err := env.ScoreAfter()
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		points = append(points, storage.ScorePoint{
			Sequence:  env.Sequence,
			Timestamp: env.Timestamp,
			Type:      env.Type,
			Score:     score,
		})
		if limit > 0 && len(points) == limit {
			break
		}
	}
	return points, nil
}

// CountByType returns the number of archived events per type.
func (s *EventArchive) CountByType(_ context.Context) (map[domain.EventType]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.EventType]uint64)
	for _, env := range s.events {
		counts[env.Type]++
	}
	return counts, nil
}

var _ storage.EventArchive = (*EventArchive)(nil)
