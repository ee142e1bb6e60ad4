// Package main copies committed ledger events from the PostgreSQL outbox into
// the ClickHouse archive.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"agent-rep/internal/config"
	"agent-rep/internal/indexer"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	var common config.CommonFlags
	fs := pflag.NewFlagSet("indexer", pflag.ExitOnError)
	common.AddFlags(fs)
	clickhouseDSN := fs.String("clickhouse-dsn", config.Getenv(config.EnvClickhouseDSN, ""), "ClickHouse connection string")
	consumer := fs.String("consumer", indexer.DefaultConsumer, "checkpoint name")
	once := fs.Bool("once", false, "sync until caught up and exit")
	_ = fs.Parse(os.Args[1:])

	logger := log.New(os.Stdout, "[indexer] ", log.LstdFlags|log.Lshortfile)

	if common.UseMemory {
		logger.Fatal("the indexer reads a shared outbox, --use-memory is not supported")
	}
	if *clickhouseDSN == "" {
		logger.Fatal("--clickhouse-dsn is required")
	}
	settings, err := config.Load(common.ConfigPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	stores, err := config.OpenStores(ctx, common.StoreOptions())
	if err != nil {
		logger.Fatalf("Failed to open stores: %v", err)
	}
	defer stores.Close()

	archive, err := config.OpenArchive(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("Failed to open archive: %v", err)
	}
	defer archive.Close()

	runner, err := indexer.NewRunner(indexer.RunnerOptions{
		Source:      stores.Ledger,
		Archive:     archive,
		Checkpoints: stores.Checkpoints,
		Consumer:    *consumer,
		BatchSize:   settings.Indexer.BatchSize,
		Interval:    settings.Indexer.Interval,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create indexer: %v", err)
	}

	if *once {
		n, err := runner.SyncOnce(ctx)
		if err != nil {
			logger.Fatalf("Sync failed: %v", err)
		}
		logger.Printf("Archived %d events, position=%d", n, runner.Position())
		return
	}
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Indexer error: %v", err)
	}
	logger.Println("Shutdown complete")
}
