// Package main follows the ledger event stream of a running server and prints
// each event as a styled line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"agent-rep/internal/config"
	"agent-rep/internal/domain"
	"agent-rep/internal/stream"
)

var (
	seqStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	agentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	goodStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	neutralStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	typeStyles = map[domain.EventType]lipgloss.Style{
		domain.EventAgentRegistered:   goodStyle.Bold(true),
		domain.EventActionLogged:      lipgloss.NewStyle().Bold(true),
		domain.EventReputationQueried: seqStyle,
		domain.EventAgentSlashed:      badStyle,
		domain.EventAgentDeregistered: neutralStyle.Bold(true),
	}
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	fs := pflag.NewFlagSet("watch", pflag.ExitOnError)
	endpoint := fs.String("url", config.Getenv("AGENTREP_STREAM_URL", "ws://localhost:8080/events"), "event stream endpoint")
	after := fs.Int64("after", -1, "resume after this sequence, negative for live only")
	agent := fs.String("agent", "", "only events of this agent address")
	types := fs.String("types", "", "comma-separated event types")
	raw := fs.Bool("json", false, "print raw envelopes as JSON lines")
	_ = fs.Parse(os.Args[1:])

	logger := log.New(os.Stderr, "[watch] ", log.LstdFlags)

	q := url.Values{}
	if *after >= 0 {
		q.Set("after", strconv.FormatInt(*after, 10))
	}
	if *agent != "" {
		q.Set("agent", *agent)
	}
	if *types != "" {
		q.Set("types", *types)
	}
	req, err := stream.ParseRequest(q)
	if err != nil {
		logger.Fatalf("Invalid subscription: %v", err)
	}

	cfg := stream.DefaultClientConfig()
	cfg.Logger = logger
	client, err := stream.NewClient(*endpoint, req, &cfg)
	if err != nil {
		logger.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	errc := make(chan error, 1)
	go func() { errc <- client.Run(ctx) }()

	for env := range client.Events() {
		if *raw {
			line, err := json.Marshal(env)
			if err != nil {
				logger.Printf("encode event: %v", err)
				continue
			}
			fmt.Println(string(line))
			continue
		}
		fmt.Println(formatEnvelope(env))
	}

	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Stream error: %v", err)
	}
	logger.Printf("Stopped after sequence %d", client.Last())
}

// formatEnvelope renders one event line.
func formatEnvelope(env domain.Envelope) string {
	seq := "live"
	if env.Sequence > 0 {
		seq = "#" + strconv.FormatInt(env.Sequence, 10)
	}
	style, ok := typeStyles[env.Type]
	if !ok {
		style = lipgloss.NewStyle()
	}
	head := fmt.Sprintf("%s %s %-17s %s",
		seqStyle.Render(time.Unix(env.Timestamp, 0).UTC().Format(time.RFC3339)),
		seqStyle.Render(fmt.Sprintf("%6s", seq)),
		style.Render(string(env.Type)),
		agentStyle.Render(env.Agent.String()),
	)

	ev, err := env.Decode()
	if err != nil {
		return head + " " + badStyle.Render("undecodable: "+err.Error())
	}
	return head + " " + describe(ev)
}

func describe(ev domain.Event) string {
	switch e := ev.(type) {
	case *domain.AgentRegistered:
		return fmt.Sprintf("name=%q stake=%d", e.Name, e.Stake)
	case *domain.ActionLogged:
		outcome := neutralStyle
		switch e.Outcome {
		case domain.OutcomeSuccess, domain.OutcomeProfit:
			outcome = goodStyle
		case domain.OutcomeFailure, domain.OutcomeLoss:
			outcome = badStyle
		}
		return fmt.Sprintf("%s %s pnl=%d score=%d", e.ActionType, outcome.Render(string(e.Outcome)), e.Pnl, e.NewScore)
	case *domain.ReputationQueried:
		return fmt.Sprintf("querier=%s score=%d actions=%d success=%d%%", e.Querier, e.Score, e.TotalActions, e.SuccessRate)
	case *domain.AgentSlashed:
		return fmt.Sprintf("amount=%d reason=%q stake=%d score=%d", e.Amount, e.Reason, e.NewStake, e.NewScore)
	case *domain.AgentDeregistered:
		return fmt.Sprintf("returned=%d final_score=%d actions=%d", e.StakeReturned, e.FinalScore, e.TotalActions)
	}
	return ""
}
