// Package main drives the ledger with a seeded synthetic workload and prints
// the resulting leaderboard.
package main

import (
	"context"
	"crypto/sha256"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"agent-rep/internal/config"
	"agent-rep/internal/ledger"
	"agent-rep/internal/reporting"
	"agent-rep/internal/simulation"
	"agent-rep/internal/solana"
	"agent-rep/internal/verification"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	var common config.CommonFlags
	fs := pflag.NewFlagSet("simulate", pflag.ExitOnError)
	common.AddFlags(fs)
	seed := fs.Uint64("seed", 1, "workload seed")
	agents := fs.Int("agents", 8, "agents to register")
	actions := fs.Int("actions", 200, "actions to log")
	slashes := fs.Int("slashes", 5, "governance slashes")
	queries := fs.Int("queries", 20, "reputation queries")
	deregs := fs.Int("deregister", 1, "agents to deregister at the end")
	start := fs.Int64("start", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), "virtual clock start (unix seconds)")
	verify := fs.Bool("verify", true, "replay the history and verify the stored state afterwards")
	_ = fs.Parse(os.Args[1:])

	logger := log.New(os.Stderr, "[simulate] ", log.LstdFlags)

	settings, err := config.Load(common.ConfigPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	governance := simulatedGovernance(*seed)
	if len(settings.Governance) > 0 {
		governance = settings.Governance[0]
	} else {
		settings.Governance = []solana.PublicKey{governance}
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

	clock := simulation.NewClock(*start)
	opts, err := settings.LedgerOptions(stores.Ledger)
	if err != nil {
		logger.Fatalf("Invalid ledger settings: %v", err)
	}
	opts.Clock = clock
	l, err := ledger.New(opts)
	if err != nil {
		logger.Fatalf("Failed to create ledger: %v", err)
	}

	runner, err := simulation.NewRunner(simulation.RunnerOptions{
		Ledger:          l,
		Clock:           clock,
		Funds:           stores.Ledger,
		Governance:      governance,
		Seed:            *seed,
		Agents:          *agents,
		Actions:         *actions,
		Slashes:         *slashes,
		Queries:         *queries,
		Deregistrations: *deregs,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatalf("Invalid simulation: %v", err)
	}
	if _, err := runner.Run(ctx); err != nil {
		logger.Fatalf("Simulation failed: %v", err)
	}

	gen, err := reporting.NewGenerator(reporting.Options{
		Agents:    stores.Ledger,
		Actions:   stores.Ledger,
		Events:    stores.Ledger,
		ProgramID: l.ProgramID(),
	})
	if err != nil {
		logger.Fatalf("Failed to create report generator: %v", err)
	}
	report, err := gen.Generate(ctx, 0)
	if err != nil {
		logger.Fatalf("Failed to generate report: %v", err)
	}
	reporting.WriteLeaderboardTable(os.Stdout, report.Leaderboard)

	if !*verify {
		return
	}
	v, err := verification.NewLedgerVerifier(verification.Options{
		Events:    stores.Ledger,
		Agents:    stores.Ledger,
		Actions:   stores.Ledger,
		Balances:  stores.Ledger,
		Engine:    l.Engine(),
		ProgramID: l.ProgramID(),
	})
	if err != nil {
		logger.Fatalf("Failed to create verifier: %v", err)
	}
	result, err := v.VerifyAll(ctx)
	if err != nil {
		logger.Fatalf("Verification failed: %v", err)
	}
	if !result.OK() {
		logger.Fatalf("Verification found %d divergent agents (vault %d, expected %d)",
			result.DivergentAgents, result.VaultBalance, result.VaultExpected)
	}
	logger.Printf("Verified %d events across %d agents", result.Events, result.TotalAgents)
}

// simulatedGovernance derives a stable governance key from the seed when none
// is configured.
func simulatedGovernance(seed uint64) solana.PublicKey {
	var b [8]byte
	for i := range b {
		b[i] = byte(seed >> (8 * i))
	}
	return solana.PublicKey(sha256.Sum256(append([]byte("agent-rep/simulate/governance"), b[:]...)))
}
