// Package indexer copies committed ledger events into the analytics archive.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"agent-rep/internal/observability"
	"agent-rep/internal/storage"
)

// DefaultConsumer is the checkpoint name used when none is configured.
const DefaultConsumer = "event-archive"

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source      storage.EventReader     // committed outbox, required
	Archive     storage.EventArchive    // required
	Checkpoints storage.CheckpointStore // optional, resume falls back to the archive
	Consumer    string                  // Default: DefaultConsumer
	BatchSize   int                     // Default: 500
	Interval    time.Duration           // Default: 2s between polls once caught up
	Logger      *log.Logger
}

// Runner moves events from Source to Archive in sequence order.
type Runner struct {
	source      storage.EventReader
	archive     storage.EventArchive
	checkpoints storage.CheckpointStore
	consumer    string
	batchSize   int
	interval    time.Duration
	logger      *log.Logger

	position int64 // last archived sequence, -1 until resumed
}

// NewRunner creates a new indexer runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Source == nil || opts.Archive == nil {
		return nil, errors.New("indexer: source and archive are required")
	}

	consumer := opts.Consumer
	if consumer == "" {
		consumer = DefaultConsumer
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Runner{
		source:      opts.Source,
		archive:     opts.Archive,
		checkpoints: opts.Checkpoints,
		consumer:    consumer,
		batchSize:   batchSize,
		interval:    interval,
		logger:      logger,
		position:    -1,
	}, nil
}

// Position returns the last archived sequence, or -1 before the first sync.
func (r *Runner) Position() int64 { return r.position }

// resume picks the start position. A checkpoint ahead of the archive means
// the archive lost rows, so the lower of the two wins. Re-sent rows collapse
// in the archive.
func (r *Runner) resume(ctx context.Context) (int64, error) {
	archived, err := r.archive.LatestSequence(ctx)
	if err != nil {
		return 0, fmt.Errorf("archive position: %w", err)
	}
	if r.checkpoints == nil {
		return archived, nil
	}

	cp, err := r.checkpoints.GetCheckpoint(ctx, r.consumer)
	if errors.Is(err, storage.ErrNotFound) {
		return archived, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp < archived {
		return cp, nil
	}
	return archived, nil
}

// SyncOnce archives every pending event and returns how many were copied.
func (r *Runner) SyncOnce(ctx context.Context) (int, error) {
	if r.position < 0 {
		pos, err := r.resume(ctx)
		if err != nil {
			return 0, err
		}
		r.position = pos
		r.logger.Printf("resuming after sequence %d", pos)
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := r.source.ListEvents(ctx, r.position, r.batchSize)
		if err != nil {
			return total, fmt.Errorf("read events after %d: %w", r.position, err)
		}
		if len(batch) == 0 {
			break
		}
		if err := r.archive.InsertBatch(ctx, batch); err != nil {
			return total, fmt.Errorf("archive batch after %d: %w", r.position, err)
		}

		last := batch[len(batch)-1].Sequence
		if r.checkpoints != nil {
			if err := r.checkpoints.SetCheckpoint(ctx, r.consumer, last); err != nil {
				return total, fmt.Errorf("save checkpoint: %w", err)
			}
		}
		r.position = last
		total += len(batch)

		if len(batch) < r.batchSize {
			break
		}
	}

	latest, err := r.source.LatestSequence(ctx)
	if err != nil {
		return total, fmt.Errorf("latest sequence: %w", err)
	}
	observability.RecordArchived(total, r.position, latest)
	return total, nil
}

// Run syncs immediately and then on every interval.
// It blocks until context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Printf("indexer started, consumer=%s batch=%d interval=%v", r.consumer, r.batchSize, r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.SyncOnce(ctx)
		switch {
		case ctx.Err() != nil:
			r.logger.Println("indexer stopping...")
			return ctx.Err()
		case err != nil:
			// Transient store errors are retried on the next tick.
			r.logger.Printf("sync failed: %v", err)
		case n > 0:
			r.logger.Printf("archived %d events, position=%d", n, r.position)
		}

		select {
		case <-ctx.Done():
			r.logger.Println("indexer stopping...")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
