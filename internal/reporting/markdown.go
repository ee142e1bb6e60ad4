package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Agent Reputation Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Program: `%s` | Last sequence: %d\n\n", r.ProgramID, r.Summary.LastSequence))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Agents | %d |\n", r.Summary.TotalAgents))
	sb.WriteString(fmt.Sprintf("| Active Agents | %d |\n", r.Summary.ActiveAgents))
	sb.WriteString(fmt.Sprintf("| Staked (lamports) | %d |\n", r.Summary.TotalStake))
	sb.WriteString(fmt.Sprintf("| Actions | %d |\n", r.Summary.TotalActions))
	sb.WriteString(fmt.Sprintf("| Success Rate | %d%% |\n", r.Summary.SuccessRate))
	sb.WriteString(fmt.Sprintf("| Average Score | %.2f |\n", r.Summary.AverageScore))
	sb.WriteString("\n")

	sb.WriteString("## Leaderboard\n\n")
	if len(r.Leaderboard) > 0 {
		sb.WriteString("| Rank | Name | Type | Owner | Score | Actions | Success | Stake |\n")
		sb.WriteString("|------|------|------|-------|-------|---------|---------|-------|\n")
		for _, row := range r.Leaderboard {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | `%s` | %d | %d | %d%% | %d |\n",
				row.Rank, escapeCell(row.Name), row.AgentType, row.Owner,
				row.Score, row.TotalActions, row.SuccessRate, row.Stake))
		}
	} else {
		sb.WriteString("No active agents.\n")
	}
	sb.WriteString("\n")

	if len(r.EventCounts) > 0 {
		sb.WriteString("## Events\n\n")
		sb.WriteString("| Type | Count |\n")
		sb.WriteString("|------|-------|\n")
		for _, c := range r.EventCounts {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", c.Type, c.Count))
		}
		sb.WriteString("\n")
	}

	if v := r.Verification; v != nil {
		sb.WriteString("## Replay Verification\n\n")
		sb.WriteString(fmt.Sprintf("Replayed %d events up to sequence %d. ", v.Events, v.LastSequence))
		sb.WriteString(fmt.Sprintf("%d of %d agents match.\n\n", v.MatchedAgents, v.TotalAgents))
		if v.VaultChecked {
			sb.WriteString(fmt.Sprintf("Vault balance %d, derived stake %d.\n\n", v.VaultBalance, v.VaultExpected))
		}
		if v.OK() {
			sb.WriteString("**Verification passed.**\n\n")
		} else {
			sb.WriteString("**Verification failed.**\n\n")
			for _, res := range v.Results {
				for _, d := range res.Divergences {
					sb.WriteString(fmt.Sprintf("- `%s` %s: expected %v, got %v", res.Agent, d.Field, d.Expected, d.Actual))
					if d.Sequence > 0 {
						sb.WriteString(fmt.Sprintf(" (sequence %d)", d.Sequence))
					}
					sb.WriteString("\n")
				}
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// RenderAgentMarkdown renders an agent history report.
func RenderAgentMarkdown(r *AgentReport) string {
	var sb strings.Builder
	a := r.Agent

	name := a.Name
	if name == "" {
		name = a.Address.String()
	}
	sb.WriteString(fmt.Sprintf("# Agent %s\n\n", escapeCell(name)))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	status := "active"
	if !a.IsActive {
		status = "deregistered"
	}
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Owner | `%s` |\n", a.Owner))
	sb.WriteString(fmt.Sprintf("| Address | `%s` |\n", a.Address))
	sb.WriteString(fmt.Sprintf("| Type | %s |\n", a.AgentType))
	sb.WriteString(fmt.Sprintf("| Status | %s |\n", status))
	sb.WriteString(fmt.Sprintf("| Score | %d |\n", a.ReputationScore))
	sb.WriteString(fmt.Sprintf("| Stake | %d |\n", a.Stake))
	sb.WriteString(fmt.Sprintf("| Actions | %d (%d successful, %d%%) |\n", a.TotalActions, a.SuccessfulActions, r.SuccessRate))
	sb.WriteString(fmt.Sprintf("| Volume | %d |\n", a.TotalVolume))
	sb.WriteString(fmt.Sprintf("| Registered | %s |\n", unix(a.RegisteredAt)))
	sb.WriteString(fmt.Sprintf("| Last Action | %s |\n", unix(a.LastActionAt)))
	sb.WriteString("\n")

	sb.WriteString("## Actions\n\n")
	if len(r.Actions) > 0 {
		sb.WriteString("| # | Type | Protocol | Input | Output | PnL | Outcome | Time |\n")
		sb.WriteString("|---|------|----------|-------|--------|-----|---------|------|\n")
		for _, act := range r.Actions {
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %d | %d | %d | %s | %s |\n",
				act.ActionIndex, act.ActionType, escapeCell(act.Protocol),
				act.InputValue, act.OutputValue, act.Pnl, act.Outcome, unix(act.Timestamp)))
		}
	} else {
		sb.WriteString("No actions logged.\n")
	}
	sb.WriteString("\n")

	if len(r.ScoreHistory) > 0 {
		sb.WriteString("## Score History\n\n")
		sb.WriteString("| Sequence | Event | Score | Time |\n")
		sb.WriteString("|----------|-------|-------|------|\n")
		for _, p := range r.ScoreHistory {
			sb.WriteString(fmt.Sprintf("| %d | %s | %d | %s |\n", p.Sequence, p.Type, p.Score, unix(p.Timestamp)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func unix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// escapeCell keeps user text from breaking table rows.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
