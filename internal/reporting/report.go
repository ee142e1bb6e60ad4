package reporting

import (
	"time"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
	"agent-rep/internal/verification"
)

// Report is the ledger-wide snapshot.
type Report struct {
	GeneratedAt time.Time
	ProgramID   solana.PublicKey

	Summary Summary

	// Leaderboard holds active agents ranked by score, total actions, owner.
	Leaderboard []LeaderboardRow

	// EventCounts is filled from the archive when one is configured.
	EventCounts []EventCountRow

	// Verification is set when the report was generated with a replay check.
	Verification *verification.Report
}

// Summary aggregates every stored agent, active or not.
type Summary struct {
	TotalAgents       int
	ActiveAgents      int
	TotalStake        uint64
	TotalActions      uint64
	SuccessfulActions uint64
	SuccessRate       uint64 // percent, floored
	AverageScore      float64
	LastSequence      int64
}

// LeaderboardRow is one ranked agent.
type LeaderboardRow struct {
	Rank         int
	Owner        solana.PublicKey
	Agent        solana.PublicKey
	Name         string
	AgentType    domain.AgentType
	Score        uint8
	TotalActions uint64
	SuccessRate  uint64
	Stake        uint64
}

// EventCountRow counts archived events of one type.
type EventCountRow struct {
	Type  domain.EventType
	Count uint64
}

// AgentReport is the history of a single agent.
type AgentReport struct {
	GeneratedAt time.Time
	Agent       domain.Agent
	SuccessRate uint64

	// Actions are newest first.
	Actions []*domain.Action

	// ScoreHistory is oldest first; empty without an archive.
	ScoreHistory []storage.ScorePoint
}
