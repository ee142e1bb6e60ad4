package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// EventArchive implements storage.EventArchive using ClickHouse.
type EventArchive struct {
	conn *Conn
}

// NewEventArchive creates a new EventArchive.
func NewEventArchive(conn *Conn) *EventArchive {
	return &EventArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.EventArchive = (*EventArchive)(nil)

// InsertBatch archives committed envelopes in one batch.
// Duplicates inside the batch are rejected, re-sent rows collapse on merge.
func (s *EventArchive) InsertBatch(ctx context.Context, envs []domain.Envelope) (err error) {
	if len(envs) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("insert_batch", start, err) }(time.Now())

	seen := make(map[int64]struct{}, len(envs))
	for _, env := range envs {
		if env.Sequence <= 0 || env.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[env.Sequence]; exists {
			return storage.ErrDuplicateKey
		}
		seen[env.Sequence] = struct{}{}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			sequence, id, type, version, agent, timestamp, payload
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, env := range envs {
		err = batch.Append(
			env.Sequence, env.ID, string(env.Type), uint16(env.Version),
			env.Agent.String(), env.Timestamp, string(env.Payload),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ListEvents returns archived events with sequence > after, ascending.
func (s *EventArchive) ListEvents(ctx context.Context, after int64, limit int) (envs []domain.Envelope, err error) {
	if limit <= 0 || after < 0 {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("list_events", start, err) }(time.Now())

	rows, err := s.conn.Query(ctx, `
		SELECT sequence, id, type, version, agent, timestamp, payload
		FROM ledger_events FINAL
		WHERE sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, after, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEnvelopes(rows)
}

// LatestSequence returns the highest archived sequence, 0 if none.
func (s *EventArchive) LatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.conn.QueryRow(ctx, `SELECT max(sequence) FROM ledger_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max sequence: %w", err)
	}
	return seq, nil
}

// ScoreHistory returns the agent's score after each score-bearing event.
func (s *EventArchive) ScoreHistory(ctx context.Context, agent solana.PublicKey, limit int) (points []storage.ScorePoint, err error) {
	if limit < 0 {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("score_history", start, err) }(time.Now())

	query := `
		SELECT
			sequence, timestamp, type,
			toUInt8(multiIf(
				type = ?, ?,
				type = ?, JSONExtractUInt(payload, 'final_score'),
				JSONExtractUInt(payload, 'new_score')
			)) AS score
		FROM ledger_events FINAL
		WHERE agent = ? AND type IN (?, ?, ?, ?)
		ORDER BY sequence ASC
	`
	args := []any{
		string(domain.EventAgentRegistered), uint64(domain.InitialScore),
		string(domain.EventAgentDeregistered),
		agent.String(),
		string(domain.EventAgentRegistered),
		string(domain.EventActionLogged),
		string(domain.EventAgentSlashed),
		string(domain.EventAgentDeregistered),
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query score history: %w", err)
	}
	defer rows.Close()

	points = []storage.ScorePoint{}
	for rows.Next() {
		var (
			p   storage.ScorePoint
			typ string
		)
		if err := rows.Scan(&p.Sequence, &p.Timestamp, &typ, &p.Score); err != nil {
			return nil, fmt.Errorf("scan score row: %w", err)
		}
		p.Type = domain.EventType(typ)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score rows: %w", err)
	}
	return points, nil
}

// CountByType returns the number of archived events per type.
func (s *EventArchive) CountByType(ctx context.Context) (map[domain.EventType]uint64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT type, count() FROM ledger_events FINAL GROUP BY type
	`)
	if err != nil {
		return nil, fmt.Errorf("query event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventType]uint64)
	for rows.Next() {
		var (
			typ string
			n   uint64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan event count row: %w", err)
		}
		counts[domain.EventType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event count rows: %w", err)
	}
	return counts, nil
}

// scanEnvelopes scans rows selected as (sequence, id, type, version, agent, timestamp, payload).
func scanEnvelopes(rows chRows) ([]domain.Envelope, error) {
	envs := []domain.Envelope{}
	for rows.Next() {
		var (
			env        domain.Envelope
			typ, agent string
			version    uint16
			payload    string
		)
		if err := rows.Scan(&env.Sequence, &env.ID, &typ, &version, &agent, &env.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		pk, err := solana.ParsePublicKey(agent)
		if err != nil {
			return nil, fmt.Errorf("decode event agent: %w", err)
		}
		env.Agent = pk
		env.Type = domain.EventType(typ)
		env.Version = int(version)
		env.Payload = json.RawMessage(payload)
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return envs, nil
}
