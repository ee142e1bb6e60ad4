// Package main runs the agent reputation service:
// - HTTP API for registration, action logging, slashing and queries
// - WebSocket event stream at /events
// - Archive indexer feeding ClickHouse (or an in-process archive)
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"agent-rep/internal/api"
	"agent-rep/internal/config"
	"agent-rep/internal/events"
	"agent-rep/internal/indexer"
	"agent-rep/internal/ledger"
	"agent-rep/internal/observability"
	"agent-rep/internal/storage"
	"agent-rep/internal/stream"
)

func main() {
	// Load .env file if exists
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	var common config.CommonFlags
	fs := pflag.NewFlagSet("server", pflag.ExitOnError)
	common.AddFlags(fs)
	addr := fs.String("addr", config.Getenv("AGENTREP_ADDR", ":8080"), "HTTP listen address")
	clickhouseDSN := fs.String("clickhouse-dsn", config.Getenv(config.EnvClickhouseDSN, ""), "ClickHouse connection string (empty keeps the archive in memory)")
	noIndexer := fs.Bool("no-indexer", false, "do not run the archive indexer")
	allowDeposits := fs.Bool("allow-deposits", config.GetenvBool("AGENTREP_ALLOW_DEPOSITS", false), "enable the development deposit route")
	statsInterval := fs.Duration("stats-interval", 15*time.Second, "ledger gauge refresh interval")
	_ = fs.Parse(os.Args[1:])

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	settings, err := config.Load(common.ConfigPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if len(settings.Governance) == 0 {
		logger.Println("WARNING: no governance keys configured, slashing is disabled")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := config.OpenStores(ctx, common.StoreOptions())
	if err != nil {
		logger.Fatalf("Failed to open stores: %v", err)
	}
	defer stores.Close()

	var archive *config.Archive
	if !*noIndexer {
		if archive, err = config.OpenArchive(ctx, *clickhouseDSN); err != nil {
			logger.Fatalf("Failed to open archive: %v", err)
		}
		defer archive.Close()
	}

	bus := events.NewBus(
		events.WithLogger(log.New(os.Stdout, "[bus] ", log.LstdFlags)),
		events.WithDropHook(observability.RecordStreamDropped),
	)
	defer bus.Close()

	ledgerOpts, err := settings.LedgerOptions(stores.Ledger)
	if err != nil {
		logger.Fatalf("Invalid ledger settings: %v", err)
	}
	ledgerOpts.Publisher = bus
	ledgerOpts.Logger = log.New(os.Stdout, "[ledger] ", log.LstdFlags)
	l, err := ledger.New(ledgerOpts)
	if err != nil {
		logger.Fatalf("Failed to create ledger: %v", err)
	}
	logger.Printf("Program %s, vault %s, treasury %s", l.ProgramID(), l.Vault(), l.Treasury())

	hub, err := stream.NewHub(stream.Options{
		Source:       stores.Ledger,
		Bus:          bus,
		Buffer:       settings.Stream.Buffer,
		PingInterval: settings.Stream.PingInterval,
		Logger:       log.New(os.Stdout, "[stream] ", log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("Failed to create stream hub: %v", err)
	}

	apiOpts := api.Options{
		Ledger:        l,
		Stream:        hub,
		Trust:         settings.Trust,
		AllowDeposits: *allowDeposits,
		Logger:        log.New(os.Stdout, "[api] ", log.LstdFlags),
	}
	if archive != nil {
		apiOpts.Archive = archive
	}
	server, err := api.NewServer(apiOpts)
	if err != nil {
		logger.Fatalf("Failed to create API server: %v", err)
	}

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	var wg sync.WaitGroup
	if archive != nil {
		runner, err := indexer.NewRunner(indexer.RunnerOptions{
			Source:      stores.Ledger,
			Archive:     archive,
			Checkpoints: checkpointsFor(stores, archive),
			BatchSize:   settings.Indexer.BatchSize,
			Interval:    settings.Indexer.Interval,
			Logger:      log.New(os.Stdout, "[indexer] ", log.LstdFlags),
		})
		if err != nil {
			logger.Fatalf("Failed to create indexer: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("Indexer error: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportStats(ctx, l, stores, *statsInterval, logger)
	}()

	err = server.Run(ctx, *addr)
	cancel()
	hub.Close()
	wg.Wait()
	close(done)

	if err != nil {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// checkpointsFor pairs the checkpoint store with the archive. An in-process
// archive starts empty, so a durable checkpoint would skip events it never held.
func checkpointsFor(stores *config.Stores, archive *config.Archive) storage.CheckpointStore {
	if archive.Durable {
		return stores.Checkpoints
	}
	return nil
}

// reportStats refreshes the ledger gauges until ctx is cancelled.
func reportStats(ctx context.Context, l *ledger.Ledger, stores *config.Stores, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			observability.AddUptime(now.Sub(last).Seconds())
			last = now
			if err := refreshGauges(ctx, l, stores); err != nil && ctx.Err() == nil {
				logger.Printf("Failed to refresh gauges: %v", err)
			}
		}
	}
}

func refreshGauges(ctx context.Context, l *ledger.Ledger, stores *config.Stores) error {
	vault, err := stores.Ledger.Balance(ctx, l.Vault())
	if err != nil {
		return fmt.Errorf("vault balance: %w", err)
	}
	active, err := stores.Ledger.ListAgents(ctx, storage.AgentFilter{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	observability.UpdateLedgerGauges(vault, len(active))
	if stores.Pool != nil {
		stores.Pool.ReportStats()
	}
	return nil
}
