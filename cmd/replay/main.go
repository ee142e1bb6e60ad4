package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"agent-rep/internal/config"
	"agent-rep/internal/domain"
	"agent-rep/internal/ledger"
	"agent-rep/internal/replay"
	"agent-rep/internal/simulation"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
	"agent-rep/internal/verification"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	// Parse flags
	var common config.CommonFlags
	fs := pflag.NewFlagSet("replay", pflag.ExitOnError)
	common.AddFlags(fs)
	source := fs.String("source", "outbox", "event source: outbox or archive")
	clickhouseDSN := fs.String("clickhouse-dsn", config.Getenv(config.EnvClickhouseDSN, ""), "ClickHouse connection string (archive source)")
	owner := fs.String("owner", "", "verify a single agent owner")
	after := fs.Int64("after", 0, "start after this sequence (--print only)")
	printEvents := fs.Bool("print", false, "print events instead of verifying")
	outputJSON := fs.Bool("json", false, "output as JSON")
	fixtures := fs.Uint64("fixtures", 0, "with --use-memory, seed the store with a simulated workload")
	_ = fs.Parse(os.Args[1:])

	// Setup structured logger
	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	settings, err := config.Load(common.ConfigPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
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

	opts, err := settings.LedgerOptions(stores.Ledger)
	if err != nil {
		logger.Fatalf("Invalid ledger settings: %v", err)
	}
	l, err := ledger.New(opts)
	if err != nil {
		logger.Fatalf("Failed to create ledger: %v", err)
	}
	if *fixtures > 0 {
		if !common.UseMemory {
			logger.Fatal("--fixtures requires --use-memory")
		}
		var gov solana.PublicKey
		if len(settings.Governance) > 0 {
			gov = settings.Governance[0]
		}
		if l, _, err = simulation.Fixture(ctx, opts, gov, *fixtures); err != nil {
			logger.Fatalf("Failed to seed fixtures: %v", err)
		}
	}

	var events storage.EventReader = stores.Ledger
	switch *source {
	case "outbox":
	case "archive":
		if *clickhouseDSN == "" {
			logger.Fatal("--clickhouse-dsn is required for the archive source")
		}
		archive, err := config.OpenArchive(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("Failed to open archive: %v", err)
		}
		defer archive.Close()
		events = archive
	default:
		logger.Fatalf("unknown --source %q", *source)
	}

	if *printEvents {
		engine := NewLoggingEngine(*outputJSON)
		stats, err := replay.NewRunner(events, 0).Run(ctx, *after, engine)
		if err != nil {
			logger.Fatalf("replay failed: %v", err)
		}
		engine.PrintSummary(stats)
		return
	}

	v, err := verification.NewLedgerVerifier(verification.Options{
		Events:    events,
		Agents:    stores.Ledger,
		Actions:   stores.Ledger,
		Balances:  stores.Ledger,
		Engine:    l.Engine(),
		ProgramID: l.ProgramID(),
	})
	if err != nil {
		logger.Fatalf("Failed to create verifier: %v", err)
	}

	if *owner != "" {
		pk, err := solana.ParsePublicKey(*owner)
		if err != nil {
			logger.Fatalf("invalid --owner: %v", err)
		}
		res, err := v.VerifyAgent(ctx, pk)
		if err != nil {
			logger.Fatalf("verification failed: %v", err)
		}
		printResult(res, *outputJSON)
		if !res.Match {
			os.Exit(2)
		}
		return
	}

	report, err := v.VerifyAll(ctx)
	if err != nil {
		logger.Fatalf("verification failed: %v", err)
	}
	printReport(report, *outputJSON)
	if !report.OK() {
		os.Exit(2)
	}
}

func printResult(res *verification.AgentResult, asJSON bool) {
	if asJSON {
		output, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(output))
		return
	}
	status := "MATCH"
	if !res.Match {
		status = "DIVERGED"
	}
	fmt.Printf("%s owner=%s agent=%s events=%d\n", status, res.Owner, res.Agent, res.Events)
	for _, d := range res.Divergences {
		fmt.Printf("  %-24s expected=%v actual=%v seq=%d\n", d.Field, d.Expected, d.Actual, d.Sequence)
	}
}

func printReport(r *verification.Report, asJSON bool) {
	if asJSON {
		output, _ := json.MarshalIndent(r, "", "  ")
		fmt.Println(string(output))
		return
	}
	fmt.Printf("\n=== Verification Summary ===\n")
	fmt.Printf("Events:            %d\n", r.Events)
	fmt.Printf("Last Sequence:     %d\n", r.LastSequence)
	fmt.Printf("Agents:            %d\n", r.TotalAgents)
	fmt.Printf("Matched:           %d\n", r.MatchedAgents)
	fmt.Printf("Divergent:         %d\n", r.DivergentAgents)
	if r.VaultChecked {
		fmt.Printf("Vault:             %d (derived %d)\n", r.VaultBalance, r.VaultExpected)
	}
	for i := range r.Results {
		if !r.Results[i].Match {
			printResult(&r.Results[i], false)
		}
	}
	if r.OK() {
		fmt.Println("Result:            OK")
	} else {
		fmt.Println("Result:            FAILED")
	}
}

// LoggingEngine implements replay.ReplayEngine and logs events.
type LoggingEngine struct {
	outputJSON bool
	counts     map[domain.EventType]int
	first      int64
	last       int64
}

// NewLoggingEngine creates a new logging engine.
func NewLoggingEngine(outputJSON bool) *LoggingEngine {
	return &LoggingEngine{outputJSON: outputJSON, counts: make(map[domain.EventType]int)}
}

// OnEvent processes an event.
func (e *LoggingEngine) OnEvent(_ context.Context, event *replay.Event) error {
	env := event.Envelope
	e.counts[env.Type]++
	if e.first == 0 || env.Timestamp < e.first {
		e.first = env.Timestamp
	}
	if env.Timestamp > e.last {
		e.last = env.Timestamp
	}

	if e.outputJSON {
		line, err := json.Marshal(struct {
			domain.Envelope
			Payload domain.Event `json:"payload"`
		}{env, event.Payload})
		if err != nil {
			return err
		}
		fmt.Println(string(line))
		return nil
	}
	fmt.Printf("[%s] seq=%d type=%s agent=%s\n",
		time.Unix(env.Timestamp, 0).UTC().Format(time.RFC3339), env.Sequence, env.Type, env.Agent)
	return nil
}

// PrintSummary prints counts per event type.
func (e *LoggingEngine) PrintSummary(stats replay.Stats) {
	if e.outputJSON {
		return
	}
	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Total Events:      %d\n", stats.Events)
	fmt.Printf("Last Sequence:     %d\n", stats.LastSequence)
	for _, t := range domain.EventTypes {
		if n := e.counts[t]; n > 0 {
			fmt.Printf("%-18s %d\n", string(t)+":", n)
		}
	}
	if stats.Events > 0 {
		fmt.Printf("Duration:          %v\n", time.Duration(e.last-e.first)*time.Second)
	}
}

// Ensure LoggingEngine implements replay.ReplayEngine
var _ replay.ReplayEngine = (*LoggingEngine)(nil)
