package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

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

	// Parse flags
	var common config.CommonFlags
	fs := pflag.NewFlagSet("report", pflag.ExitOnError)
	common.AddFlags(fs)
	outputDir := fs.String("output-dir", "reports", "output directory for generated files")
	clickhouseDSN := fs.String("clickhouse-dsn", config.Getenv(config.EnvClickhouseDSN, ""), "ClickHouse connection string (event counts and score history)")
	formats := fs.StringSlice("format", []string{"md", "csv"}, "output formats: md, csv, html, table")
	owner := fs.String("owner", "", "report on a single agent owner instead of the leaderboard")
	limit := fs.Int("limit", 0, "leaderboard rows or agent actions, 0 for all")
	verify := fs.Bool("verify", false, "include a replay verification section")
	fixtures := fs.Uint64("fixtures", 0, "with --use-memory, seed the store with a simulated workload")
	_ = fs.Parse(os.Args[1:])

	logger := log.New(os.Stderr, "[report] ", log.LstdFlags)
	ctx := context.Background()

	settings, err := config.Load(common.ConfigPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
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

	genOpts := reporting.Options{
		Agents:    stores.Ledger,
		Actions:   stores.Ledger,
		Events:    stores.Ledger,
		ProgramID: l.ProgramID(),
	}
	if *clickhouseDSN != "" {
		archive, err := config.OpenArchive(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("Failed to open archive: %v", err)
		}
		defer archive.Close()
		genOpts.Archive = archive
	}
	if *verify {
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
		genOpts.Verifier = v
	}
	gen, err := reporting.NewGenerator(genOpts)
	if err != nil {
		logger.Fatalf("Failed to create report generator: %v", err)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatalf("Failed to create output directory: %v", err)
	}

	var files map[string]string
	if *owner != "" {
		files, err = agentReport(ctx, gen, *owner, *limit, *formats)
	} else {
		files, err = ledgerReport(ctx, gen, *limit, *formats)
	}
	if err != nil {
		logger.Fatalf("Failed to generate report: %v", err)
	}

	for name, content := range files {
		path := filepath.Join(*outputDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			logger.Fatalf("Failed to write %s: %v", path, err)
		}
		fmt.Printf("Generated: %s\n", path)
	}
}

func ledgerReport(ctx context.Context, gen *reporting.Generator, limit int, formats []string) (map[string]string, error) {
	report, err := gen.Generate(ctx, limit)
	if err != nil {
		return nil, err
	}
	md := reporting.RenderMarkdown(report)
	files := make(map[string]string)
	for _, f := range formats {
		switch strings.ToLower(f) {
		case "md":
			files["REPORT.md"] = md
		case "csv":
			files["leaderboard.csv"] = reporting.RenderCSV(report.Leaderboard)
		case "html":
			page, err := reporting.RenderHTML("Agent Reputation Report", md)
			if err != nil {
				return nil, err
			}
			files["REPORT.html"] = page
		case "table":
			reporting.WriteLeaderboardTable(os.Stdout, report.Leaderboard)
		default:
			return nil, fmt.Errorf("unknown format %q", f)
		}
	}
	return files, nil
}

func agentReport(ctx context.Context, gen *reporting.Generator, owner string, limit int, formats []string) (map[string]string, error) {
	pk, err := solana.ParsePublicKey(owner)
	if err != nil {
		return nil, fmt.Errorf("invalid --owner: %w", err)
	}
	r, err := gen.GenerateAgent(ctx, pk, limit)
	if err != nil {
		return nil, err
	}
	base := "agent-" + pk.String()
	md := reporting.RenderAgentMarkdown(r)
	files := make(map[string]string)
	for _, f := range formats {
		switch strings.ToLower(f) {
		case "md":
			files[base+".md"] = md
		case "csv":
			files[base+"-actions.csv"] = reporting.RenderActionsCSV(r)
		case "html":
			page, err := reporting.RenderHTML("Agent "+r.Agent.Name, md)
			if err != nil {
				return nil, err
			}
			files[base+".html"] = page
		case "table":
			reporting.WriteActionsTable(os.Stdout, r)
		default:
			return nil, fmt.Errorf("unknown format %q", f)
		}
	}
	return files, nil
}
