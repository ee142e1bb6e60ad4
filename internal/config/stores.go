package config

import (
	"context"
	"errors"
	"fmt"

	"agent-rep/internal/storage"
	"agent-rep/internal/storage/clickhouse"
	"agent-rep/internal/storage/memory"
	"agent-rep/internal/storage/migrations"
	"agent-rep/internal/storage/postgres"
)

// StoreOptions selects the ledger backend.
type StoreOptions struct {
	UseMemory   bool
	PostgresDSN string
	Migrate     bool // apply embedded postgres migrations on connect
}

// Stores holds the opened ledger backend.
type Stores struct {
	Ledger      storage.Store
	Checkpoints storage.CheckpointStore
	Pool        *postgres.Pool // nil for memory
	close       func()
}

// Close releases the backend.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores connects the configured backend.
func OpenStores(ctx context.Context, opts StoreOptions) (*Stores, error) {
	if opts.UseMemory {
		return &Stores{
			Ledger:      memory.NewLedgerStore(),
			Checkpoints: memory.NewCheckpointStore(),
		}, nil
	}
	if opts.PostgresDSN == "" {
		return nil, errors.New("postgres dsn is required (use --use-memory for in-memory storage)")
	}

	pool, err := postgres.NewPool(ctx, opts.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if opts.Migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
	}
	return &Stores{
		Ledger:      postgres.NewLedgerStore(pool),
		Checkpoints: postgres.NewCheckpointStore(pool),
		Pool:        pool,
		close:       pool.Close,
	}, nil
}

// Archive is the opened analytics archive.
type Archive struct {
	storage.EventArchive
	Durable bool // false for the in-process memory archive
	close   func()
}

// Close releases the archive connection.
func (a *Archive) Close() {
	if a.close != nil {
		a.close()
	}
}

// OpenArchive connects ClickHouse at dsn and applies its migrations. An empty
// dsn selects an in-process archive that lives as long as the process.
func OpenArchive(ctx context.Context, dsn string) (*Archive, error) {
	if dsn == "" {
		return &Archive{EventArchive: memory.NewEventArchive()}, nil
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	return &Archive{
		EventArchive: clickhouse.NewEventArchive(conn),
		Durable:      true,
		close:        func() { _ = conn.Close() },
	}, nil
}
