package reporting

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// WriteLeaderboardTable prints the leaderboard as an aligned terminal table.
func WriteLeaderboardTable(w io.Writer, rows []LeaderboardRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Rank", "Name", "Type", "Owner", "Score", "Actions", "Success", "Stake"})
	table.SetAutoWrapText(false)
	for _, r := range rows {
		table.Append([]string{
			strconv.Itoa(r.Rank),
			r.Name,
			string(r.AgentType),
			r.Owner.String(),
			strconv.Itoa(int(r.Score)),
			strconv.FormatUint(r.TotalActions, 10),
			strconv.FormatUint(r.SuccessRate, 10) + "%",
			strconv.FormatUint(r.Stake, 10),
		})
	}
	table.Render()
}

// WriteActionsTable prints an agent's actions, newest first.
func WriteActionsTable(w io.Writer, r *AgentReport) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Type", "Protocol", "Input", "Output", "PnL", "Outcome", "Time"})
	for _, a := range r.Actions {
		table.Append([]string{
			strconv.FormatUint(a.ActionIndex, 10),
			string(a.ActionType),
			a.Protocol,
			strconv.FormatUint(a.InputValue, 10),
			strconv.FormatUint(a.OutputValue, 10),
			strconv.FormatInt(a.Pnl, 10),
			string(a.Outcome),
			unix(a.Timestamp),
		})
	}
	table.Render()
}
