package reporting

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

var leaderboardHeader = []string{"rank", "owner", "agent", "name", "agent_type", "score", "total_actions", "success_rate", "stake"}

// RenderCSV renders the leaderboard as CSV string.
func RenderCSV(rows []LeaderboardRow) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(leaderboardHeader)
	for _, r := range rows {
		_ = w.Write(leaderboardRecord(r))
	}
	w.Flush()
	return buf.String()
}

// RenderActionsCSV renders an agent's actions as CSV string.
func RenderActionsCSV(r *AgentReport) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"action_index", "address", "action_type", "protocol", "input_value", "output_value", "pnl", "outcome", "timestamp"})
	for _, a := range r.Actions {
		_ = w.Write([]string{
			strconv.FormatUint(a.ActionIndex, 10),
			a.Address.String(),
			string(a.ActionType),
			a.Protocol,
			strconv.FormatUint(a.InputValue, 10),
			strconv.FormatUint(a.OutputValue, 10),
			strconv.FormatInt(a.Pnl, 10),
			string(a.Outcome),
			strconv.FormatInt(a.Timestamp, 10),
		})
	}
	w.Flush()
	return buf.String()
}

func leaderboardRecord(r LeaderboardRow) []string {
	return []string{
		strconv.Itoa(r.Rank),
		r.Owner.String(),
		r.Agent.String(),
		r.Name,
		string(r.AgentType),
		strconv.Itoa(int(r.Score)),
		strconv.FormatUint(r.TotalActions, 10),
		strconv.FormatUint(r.SuccessRate, 10),
		strconv.FormatUint(r.Stake, 10),
	}
}
