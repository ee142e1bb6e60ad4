package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
	"agent-rep/internal/storage/memory"
)

func seed(t *testing.T, s *memory.LedgerStore, n int) {
	t.Helper()
	ctx := context.Background()
	owner := solana.PublicKey{1}
	existing, err := s.ListEvents(ctx, 0, 1<<20)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	for i := len(existing); i < len(existing)+n; i++ {
		env, err := domain.NewEnvelope(fmt.Sprintf("event-%d", i), &domain.ActionLogged{Agent: owner, NewScore: uint8(i)})
		if err != nil {
			t.Fatalf("NewEnvelope: %v", err)
		}
		if _, err := s.Update(ctx, owner, func(tx storage.Tx) error { return tx.AppendEvent(ctx, env) }); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
}

func TestSyncOnce_CopiesInBatches(t *testing.T) {
	ctx := context.Background()
	src := memory.NewLedgerStore()
	archive := memory.NewEventArchive()
	cps := memory.NewCheckpointStore()
	seed(t, src, 7)

	r, err := NewRunner(RunnerOptions{Source: src, Archive: archive, Checkpoints: cps, BatchSize: 3})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	n, err := r.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if n != 7 {
		t.Errorf("copied %d, want 7", n)
	}
	if r.Position() != 7 {
		t.Errorf("Position = %d, want 7", r.Position())
	}
	cp, err := cps.GetCheckpoint(ctx, DefaultConsumer)
	if err != nil || cp != 7 {
		t.Errorf("checkpoint = %d, %v", cp, err)
	}

	// Nothing new.
	n, err = r.SyncOnce(ctx)
	if err != nil || n != 0 {
		t.Errorf("second SyncOnce = %d, %v", n, err)
	}

	seed(t, src, 2)
	n, _ = r.SyncOnce(ctx)
	if n != 2 {
		t.Errorf("copied %d new events, want 2", n)
	}
	got, _ := archive.ListEvents(ctx, 0, 100)
	if len(got) != 9 {
		t.Fatalf("archive holds %d events, want 9", len(got))
	}
	for i, env := range got {
		if env.Sequence != int64(i+1) {
			t.Errorf("archive[%d].Sequence = %d", i, env.Sequence)
		}
	}
}

func TestSyncOnce_Resume(t *testing.T) {
	ctx := context.Background()
	src := memory.NewLedgerStore()
	seed(t, src, 5)

	tests := []struct {
		name       string
		archived   int // events already in the archive
		checkpoint int64
		hasCP      bool
		wantCopied int
	}{
		{"fresh", 0, 0, false, 5},
		{"archive only", 3, 0, false, 2},
		{"checkpoint behind archive", 4, 2, true, 3},
		{"checkpoint ahead of wiped archive", 0, 4, true, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := memory.NewEventArchive()
			if tt.archived > 0 {
				envs, _ := src.ListEvents(ctx, 0, tt.archived)
				if err := archive.InsertBatch(ctx, envs); err != nil {
					t.Fatalf("InsertBatch: %v", err)
				}
			}
			cps := memory.NewCheckpointStore()
			if tt.hasCP {
				_ = cps.SetCheckpoint(ctx, DefaultConsumer, tt.checkpoint)
			}

			r, _ := NewRunner(RunnerOptions{Source: src, Archive: archive, Checkpoints: cps})
			n, err := r.SyncOnce(ctx)
			if err != nil {
				t.Fatalf("SyncOnce: %v", err)
			}
			if n != tt.wantCopied {
				t.Errorf("copied %d, want %d", n, tt.wantCopied)
			}
			latest, _ := archive.LatestSequence(ctx)
			if latest != 5 {
				t.Errorf("archive latest = %d, want 5", latest)
			}
			counts, _ := archive.CountByType(ctx)
			if counts[domain.EventActionLogged] != 5 {
				t.Errorf("archive count = %d, want 5", counts[domain.EventActionLogged])
			}
		})
	}
}

type failingArchive struct {
	*memory.EventArchive
	err error
}

func (f *failingArchive) InsertBatch(ctx context.Context, envs []domain.Envelope) error {
	if f.err != nil {
		return f.err
	}
	return f.EventArchive.InsertBatch(ctx, envs)
}

func TestSyncOnce_ArchiveFailureKeepsPosition(t *testing.T) {
	ctx := context.Background()
	src := memory.NewLedgerStore()
	seed(t, src, 3)
	archive := &failingArchive{EventArchive: memory.NewEventArchive(), err: errors.New("unavailable")}
	cps := memory.NewCheckpointStore()

	r, _ := NewRunner(RunnerOptions{Source: src, Archive: archive, Checkpoints: cps})
	if _, err := r.SyncOnce(ctx); err == nil {
		t.Fatal("expected error")
	}
	if r.Position() != 0 {
		t.Errorf("Position = %d, want 0", r.Position())
	}
	if _, err := cps.GetCheckpoint(ctx, DefaultConsumer); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("checkpoint saved despite failure: %v", err)
	}

	archive.err = nil
	if n, err := r.SyncOnce(ctx); err != nil || n != 3 {
		t.Errorf("retry = %d, %v", n, err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := memory.NewLedgerStore()
	seed(t, src, 2)
	archive := memory.NewEventArchive()
	r, _ := NewRunner(RunnerOptions{Source: src, Archive: archive, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		latest, _ := archive.LatestSequence(context.Background())
		if latest == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("events not archived")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewRunner_RequiresStores(t *testing.T) {
	if _, err := NewRunner(RunnerOptions{}); err == nil {
		t.Error("expected error without stores")
	}
}
