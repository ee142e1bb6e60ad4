package replay

import (
	"context"
	"fmt"

	"agent-rep/internal/storage"
)

// DefaultPageSize is the number of events read per page.
const DefaultPageSize = 1000

// Stats summarizes a replay run.
type Stats struct {
	Events       int
	LastSequence int64
}

// Runner loads events from an outbox or archive and replays them in order.
type Runner struct {
	source   storage.EventReader
	pageSize int
}

// NewRunner creates a replay runner reading pageSize events at a time
// (DefaultPageSize if pageSize <= 0).
func NewRunner(source storage.EventReader, pageSize int) *Runner {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Runner{source: source, pageSize: pageSize}
}

// Run replays every event with sequence > after through the engine.
// It stops at the first engine error.
func (r *Runner) Run(ctx context.Context, after int64, engine ReplayEngine) (Stats, error) {
	stats := Stats{LastSequence: after}
	for {
		page, err := r.source.ListEvents(ctx, stats.LastSequence, r.pageSize)
		if err != nil {
			return stats, fmt.Errorf("list events after %d: %w", stats.LastSequence, err)
		}
		if err := CheckOrdering(stats.LastSequence, page); err != nil {
			return stats, err
		}
		for _, env := range page {
			payload, err := env.Decode()
			if err != nil {
				return stats, fmt.Errorf("event %d: %w", env.Sequence, err)
			}
			if err := engine.OnEvent(ctx, &Event{Envelope: env, Payload: payload}); err != nil {
				return stats, err
			}
			stats.Events++
			stats.LastSequence = env.Sequence
		}
		if len(page) < r.pageSize {
			return stats, nil
		}
	}
}

// RunAll replays the whole history.
func (r *Runner) RunAll(ctx context.Context, engine ReplayEngine) (Stats, error) {
	return r.Run(ctx, 0, engine)
}
