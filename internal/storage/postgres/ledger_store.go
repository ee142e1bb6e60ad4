package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// DefaultMaxRetries bounds re-runs of a transition after a serialization
// failure or deadlock.
const DefaultMaxRetries = 10

// retryBackoff is the base pause between re-runs. Attempt n waits up to
// n*retryBackoff so contending writers spread out.
const retryBackoff = 2 * time.Millisecond

// eventSequenceLock is the advisory lock key held from the first outbox insert
// until commit. It makes sequence order equal commit order so that readers
// paging by sequence never skip a late committer.
const eventSequenceLock int64 = 0x6167656e74726570 // "agentrep"

// LedgerStore is a PostgreSQL implementation of storage.Store.
//
// Each Update runs in one SERIALIZABLE database transaction. The owner's
// agent row is locked with SELECT ... FOR UPDATE, so transitions for one owner
// queue behind each other while different owners proceed in parallel.
// Conflicts on shared rows such as the vault balance abort with 40001 and
// are re-run.
type LedgerStore struct {
	pool       *Pool
	maxRetries int
}

// NewLedgerStore creates a new PostgreSQL ledger store.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool, maxRetries: DefaultMaxRetries}
}

const agentColumns = `
	owner, address, name, description, agent_type,
	stake::text, reputation_score, total_actions::text, successful_actions::text, total_volume::text,
	registered_at, last_action_at, is_active, revision`

// Update runs fn in a transaction and commits its writes atomically.
// Serialization failures and deadlocks re-run fn up to maxRetries times.
func (s *LedgerStore) Update(ctx context.Context, owner solana.PublicKey, fn func(tx storage.Tx) error) (envs []domain.Envelope, err error) {
	if fn == nil {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("update", start, err) }(time.Now())

	for attempt := 0; ; attempt++ {
		envs, err = s.update(ctx, owner, fn)
		if !errors.Is(err, storage.ErrConflict) || attempt >= s.maxRetries {
			return envs, err
		}
		pause := time.Duration(rand.Int64N(int64(attempt+1)*int64(retryBackoff)) + 1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
	}
}

func (s *LedgerStore) update(ctx context.Context, owner solana.PublicKey, fn func(tx storage.Tx) error) ([]domain.Envelope, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ptx := &pgTx{tx: tx, owner: owner}
	if err := fn(ptx); err != nil {
		return nil, retryable(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, retryable(fmt.Errorf("commit: %w", err))
	}
	return ptx.events, nil
}

// retryable maps transient transaction failures to storage.ErrConflict.
func retryable(err error) error {
	if isRetryableError(err) && !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}

// pgTx implements storage.Tx on a pgx transaction.
type pgTx struct {
	tx     pgx.Tx
	owner  solana.PublicKey
	events []domain.Envelope
	locked bool // holds the event sequence lock
}

func (t *pgTx) Agent(ctx context.Context) (*domain.Agent, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE owner = $1 FOR UPDATE`, t.owner.Bytes())
	a, err := scanAgent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock agent: %w", err)
	}
	return a, nil
}

func (t *pgTx) PutAgent(ctx context.Context, a *domain.Agent) error {
	if a == nil || a.Owner != t.owner || a.Revision == 0 {
		return storage.ErrInvalidInput
	}

	if a.Revision == 1 {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO agents (
				owner, address, name, description, agent_type,
				stake, reputation_score, total_actions, successful_actions, total_volume,
				registered_at, last_action_at, is_active, revision
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			a.Owner.Bytes(), a.Address.Bytes(), a.Name, a.Description, string(a.AgentType),
			numeric(a.Stake), int16(a.ReputationScore), numeric(a.TotalActions), numeric(a.SuccessfulActions), numeric(a.TotalVolume),
			a.RegisteredAt, a.LastActionAt, a.IsActive, int64(a.Revision),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return writeErr("insert agent", err)
		}
		return nil
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE agents SET
			name = $2, description = $3, agent_type = $4,
			stake = $5, reputation_score = $6, total_actions = $7, successful_actions = $8, total_volume = $9,
			last_action_at = $10, is_active = $11, revision = $12
		WHERE owner = $1 AND revision = $13
	`,
		a.Owner.Bytes(), a.Name, a.Description, string(a.AgentType),
		numeric(a.Stake), int16(a.ReputationScore), numeric(a.TotalActions), numeric(a.SuccessfulActions), numeric(a.TotalVolume),
		a.LastActionAt, a.IsActive, int64(a.Revision), int64(a.Revision-1),
	)
	if err != nil {
		return writeErr("update agent", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (t *pgTx) AppendAction(ctx context.Context, a *domain.Action) error {
	if a == nil || a.Owner != t.owner {
		return storage.ErrInvalidInput
	}

	// The agent row lock is held, so the count is stable until commit.
	var next int64
	if err := t.tx.QueryRow(ctx, `SELECT count(*) FROM actions WHERE owner = $1`, t.owner.Bytes()).Scan(&next); err != nil {
		return fmt.Errorf("count actions: %w", err)
	}
	switch {
	case a.ActionIndex < uint64(next):
		return storage.ErrDuplicateKey
	case a.ActionIndex > uint64(next):
		return storage.ErrInvalidInput
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO actions (
			owner, action_index, address, agent, action_type, protocol,
			input_value, output_value, pnl, outcome, metadata, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		a.Owner.Bytes(), numeric(a.ActionIndex), a.Address.Bytes(), a.Agent.Bytes(), string(a.ActionType), a.Protocol,
		int64(a.InputValue), int64(a.OutputValue), a.Pnl, string(a.Outcome), a.Metadata, a.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return writeErr("insert action", err)
	}
	return nil
}

func (t *pgTx) Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error {
	if from == to {
		return storage.ErrInvalidInput
	}
	if amount == 0 {
		return nil
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE balances SET amount = amount - $2
		WHERE account = $1 AND amount >= $2
	`, from.Bytes(), numeric(amount))
	if err != nil {
		return writeErr("debit balance", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrInsufficientFunds
	}

	if err := credit(ctx, t.tx, to, amount); err != nil {
		return writeErr("credit balance", err)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, env domain.Envelope) error {
	if env.ID == "" || env.Type == "" {
		return storage.ErrInvalidInput
	}

	if !t.locked {
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, eventSequenceLock); err != nil {
			return fmt.Errorf("lock event sequence: %w", err)
		}
		t.locked = true
	}

	var seq int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ledger_events (id, type, version, agent, timestamp, payload)
		VALUES ($1, $2, $3, $4, $5, $6::json)
		RETURNING sequence
	`, env.ID, string(env.Type), env.Version, env.Agent.Bytes(), env.Timestamp, string(env.Payload)).Scan(&seq)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return writeErr("insert event", err)
	}

	env.Sequence = seq
	env.Payload = append(json.RawMessage(nil), env.Payload...)
	t.events = append(t.events, env)
	return nil
}

// execer is satisfied by both a pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// credit adds amount to account, creating the balance row if needed.
// A result above the uint64 range violates the column CHECK.
func credit(ctx context.Context, q execer, account solana.PublicKey, amount uint64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO balances (account, amount) VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
	`, account.Bytes(), numeric(amount))
	return err
}

// writeErr maps constraint violations to storage.ErrInvalidInput.
func writeErr(op string, err error) error {
	if isCheckViolation(err) {
		return fmt.Errorf("%w: %s: %v", storage.ErrInvalidInput, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GetAgent retrieves the agent owned by owner.
func (s *LedgerStore) GetAgent(ctx context.Context, owner solana.PublicKey) (a *domain.Agent, err error) {
	defer func(start time.Time) { observe("get_agent", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE owner = $1`, owner.Bytes())
	a, err = scanAgent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns agents in leaderboard order.
func (s *LedgerStore) ListAgents(ctx context.Context, filter storage.AgentFilter) (agents []*domain.Agent, err error) {
	if filter.Limit < 0 {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("list_agents", start, err) }(time.Now())

	var limit *int64
	if filter.Limit > 0 {
		l := int64(filter.Limit)
		limit = &l
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE is_active OR NOT $1
		ORDER BY reputation_score DESC, total_actions DESC, owner ASC
		LIMIT $2
	`, filter.ActiveOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents = []*domain.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent rows: %w", err)
	}
	return agents, nil
}

const actionColumns = `
	owner, action_index::text, address, agent, action_type, protocol,
	input_value, output_value, pnl, outcome, metadata, timestamp`

// GetAction retrieves an action by owner and index.
func (s *LedgerStore) GetAction(ctx context.Context, owner solana.PublicKey, index uint64) (a *domain.Action, err error) {
	defer func(start time.Time) { observe("get_action", start, err) }(time.Now())

	row := s.pool.QueryRow(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE owner = $1 AND action_index = $2
	`, owner.Bytes(), numeric(index))
	a, err = scanAction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

// ListActions returns a page of the owner's actions.
func (s *LedgerStore) ListActions(ctx context.Context, owner solana.PublicKey, q storage.ActionQuery) (actions []*domain.Action, err error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("list_actions", start, err) }(time.Now())

	order := "DESC"
	if q.NewestLast {
		order = "ASC"
	}
	var limit *int64
	if q.Limit > 0 {
		l := int64(q.Limit)
		limit = &l
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE owner = $1
		ORDER BY action_index `+order+`
		LIMIT $2 OFFSET $3
	`, owner.Bytes(), limit, int64(q.Offset))
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	actions = []*domain.Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action row: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action rows: %w", err)
	}
	return actions, nil
}

// Balance returns the amount held by account.
func (s *LedgerStore) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var amount string
	err := s.pool.QueryRow(ctx, `SELECT amount::text FROM balances WHERE account = $1`, account.Bytes()).Scan(&amount)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return parseUint("amount", amount)
}

// Deposit credits external funds to account.
func (s *LedgerStore) Deposit(ctx context.Context, account solana.PublicKey, amount uint64) error {
	if err := credit(ctx, s.pool, account, amount); err != nil {
		return writeErr("deposit", err)
	}
	return nil
}

// ListEvents returns committed events after the given sequence.
func (s *LedgerStore) ListEvents(ctx context.Context, after int64, limit int) (envs []domain.Envelope, err error) {
	if limit <= 0 || after < 0 {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("list_events", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT sequence, id, type, version, agent, timestamp, payload::text
		FROM ledger_events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, after, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	envs = []domain.Envelope{}
	for rows.Next() {
		var (
			env     domain.Envelope
			typ     string
			agent   []byte
			payload string
		)
		if err := rows.Scan(&env.Sequence, &env.ID, &typ, &env.Version, &agent, &env.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if env.Agent, err = solana.PublicKeyFromBytes(agent); err != nil {
			return nil, fmt.Errorf("decode event agent: %w", err)
		}
		env.Type = domain.EventType(typ)
		env.Payload = json.RawMessage(payload)
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return envs, nil
}

// LatestSequence returns the highest committed sequence.
func (s *LedgerStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM ledger_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest sequence: %w", err)
	}
	return seq, nil
}

// scanAgent scans a row selected with agentColumns.
func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var (
		a                                domain.Agent
		owner, address                   []byte
		agentType                        string
		stake, total, successful, volume string
		score                            int16
		revision                         int64
	)
	err := row.Scan(
		&owner, &address, &a.Name, &a.Description, &agentType,
		&stake, &score, &total, &successful, &volume,
		&a.RegisteredAt, &a.LastActionAt, &a.IsActive, &revision,
	)
	if err != nil {
		return nil, err
	}

	if a.Owner, err = solana.PublicKeyFromBytes(owner); err != nil {
		return nil, fmt.Errorf("decode owner: %w", err)
	}
	if a.Address, err = solana.PublicKeyFromBytes(address); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if a.Stake, err = parseUint("stake", stake); err != nil {
		return nil, err
	}
	if a.TotalActions, err = parseUint("total_actions", total); err != nil {
		return nil, err
	}
	if a.SuccessfulActions, err = parseUint("successful_actions", successful); err != nil {
		return nil, err
	}
	if a.TotalVolume, err = parseUint("total_volume", volume); err != nil {
		return nil, err
	}
	a.AgentType = domain.AgentType(agentType)
	a.ReputationScore = uint8(score)
	a.Revision = uint64(revision)
	return &a, nil
}

// scanAction scans a row selected with actionColumns.
func scanAction(row pgx.Row) (*domain.Action, error) {
	var (
		a                     domain.Action
		owner, address, agent []byte
		index                 string
		actionType, outcome   string
		input, output         int64
	)
	err := row.Scan(
		&owner, &index, &address, &agent, &actionType, &a.Protocol,
		&input, &output, &a.Pnl, &outcome, &a.Metadata, &a.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if a.Owner, err = solana.PublicKeyFromBytes(owner); err != nil {
		return nil, fmt.Errorf("decode owner: %w", err)
	}
	if a.Address, err = solana.PublicKeyFromBytes(address); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if a.Agent, err = solana.PublicKeyFromBytes(agent); err != nil {
		return nil, fmt.Errorf("decode agent: %w", err)
	}
	if a.ActionIndex, err = parseUint("action_index", index); err != nil {
		return nil, err
	}
	a.ActionType = domain.ActionType(actionType)
	a.Outcome = domain.Outcome(outcome)
	a.InputValue = uint64(input)
	a.OutputValue = uint64(output)
	return &a, nil
}

var _ storage.Store = (*LedgerStore)(nil)
