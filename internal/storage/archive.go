package storage

import (
	"context"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
)

// ScorePoint is the score of an agent right after one committed event.
type ScorePoint struct {
	Sequence  int64            `json:"sequence"`
	Timestamp int64            `json:"timestamp"`
	Type      domain.EventType `json:"type"`
	Score     uint8            `json:"score"`
}

// EventArchive is the append-only analytics copy of the event outbox.
type EventArchive interface {
	EventReader

	// InsertBatch archives committed events. Every envelope must carry a
	// sequence. Re-sending an archived event does not duplicate it.
	InsertBatch(ctx context.Context, envs []domain.Envelope) error

	// ScoreHistory returns the agent's score after each score-bearing event,
	// oldest first. Limit 0 means no limit.
	ScoreHistory(ctx context.Context, agent solana.PublicKey, limit int) ([]ScorePoint, error)

	// CountByType returns the number of archived events per type.
	CountByType(ctx context.Context) (map[domain.EventType]uint64, error)
}
