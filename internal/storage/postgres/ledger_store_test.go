package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-rep/internal/authority"
	"agent-rep/internal/domain"
	"agent-rep/internal/ledger"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

var vault = key(0xFE)

func testAgent(owner solana.PublicKey, rev uint64) *domain.Agent {
	return &domain.Agent{
		Owner:           owner,
		Address:         key(owner[0] + 0x80),
		Name:            "agent",
		AgentType:       domain.AgentTypeTrading,
		Stake:           100,
		ReputationScore: 50,
		RegisteredAt:    1_700_000_000,
		LastActionAt:    1_700_000_000,
		IsActive:        true,
		Revision:        rev,
	}
}

func testEnvelope(t *testing.T, id string, agent solana.PublicKey) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(id, &domain.AgentRegistered{Agent: agent, Owner: agent, Name: "a", Stake: 1, Timestamp: 7})
	require.NoError(t, err)
	return env
}

func registerAgent(t *testing.T, store *LedgerStore, owner solana.PublicKey) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Deposit(ctx, owner, 1000))
	_, err := store.Update(ctx, owner, func(tx storage.Tx) error {
		if err := tx.PutAgent(ctx, testAgent(owner, 1)); err != nil {
			return err
		}
		return tx.Transfer(ctx, owner, vault, 100)
	})
	require.NoError(t, err)
}

func TestLedgerStore_UpdateCommits(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	owner := key(1)

	require.NoError(t, store.Deposit(ctx, owner, 500))

	committed, err := store.Update(ctx, owner, func(tx storage.Tx) error {
		_, err := tx.Agent(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		if err := tx.PutAgent(ctx, testAgent(owner, 1)); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, owner, vault, 100); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, testEnvelope(t, "e1", owner))
	})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	assert.Equal(t, "e1", committed[0].ID)
	assert.Positive(t, committed[0].Sequence)

	got, err := store.GetAgent(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, testAgent(owner, 1), got)

	bal, err := store.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), bal)
	bal, err = store.Balance(ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal)

	evs, err := store.ListEvents(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, committed[0], evs[0])

	decoded, err := evs[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, int64(7), decoded.EventTime())
}

func TestLedgerStore_ErrorRollsBack(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	owner := key(1)
	require.NoError(t, store.Deposit(ctx, owner, 500))

	boom := errors.New("boom")
	_, err := store.Update(ctx, owner, func(tx storage.Tx) error {
		if err := tx.PutAgent(ctx, testAgent(owner, 1)); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, owner, vault, 100); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, testEnvelope(t, "e1", owner)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetAgent(ctx, owner)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	bal, err := store.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), bal)
	seq, err := store.LatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func TestLedgerStore_Revisions(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	owner := key(1)
	registerAgent(t, store, owner)

	_, err := store.Update(ctx, owner, func(tx storage.Tx) error {
		return tx.PutAgent(ctx, testAgent(owner, 1))
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.Update(ctx, owner, func(tx storage.Tx) error {
		return tx.PutAgent(ctx, testAgent(owner, 3))
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = store.Update(ctx, owner, func(tx storage.Tx) error {
		a, err := tx.Agent(ctx)
		if err != nil {
			return err
		}
		a.Revision++
		a.ReputationScore = 60
		return tx.PutAgent(ctx, a)
	})
	require.NoError(t, err)

	got, err := store.GetAgent(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Revision)
	assert.Equal(t, uint8(60), got.ReputationScore)
}

func TestLedgerStore_WideValues(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	owner := key(1)

	require.NoError(t, store.Deposit(ctx, owner, math.MaxUint64))
	err := store.Deposit(ctx, owner, 1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = store.Update(ctx, owner, func(tx storage.Tx) error {
		a := testAgent(owner, 1)
		a.Stake = math.MaxUint64
		a.TotalVolume = math.MaxUint64
		if err := tx.PutAgent(ctx, a); err != nil {
			return err
		}
		return tx.Transfer(ctx, owner, vault, math.MaxUint64)
	})
	require.NoError(t, err)

	got, err := store.GetAgent(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), got.Stake)
	assert.Equal(t, uint64(math.MaxUint64), got.TotalVolume)

	bal, err := store.Balance(ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), bal)
}

func TestLedgerStore_InsufficientFunds(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	owner := key(1)
	require.NoError(t, store.Deposit(ctx, owner, 50))

	_, err := store.Update(ctx, owner, func(tx storage.Tx) error {
		if err := tx.PutAgent(ctx, testAgent(owner, 1)); err != nil {
			return err
		}
		return tx.Transfer(ctx, owner, vault, 100)
	})
	assert.ErrorIs(t, err, storage.ErrInsufficientFunds)

	_, err = store.GetAgent(ctx, owner)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedgerStore_ActionsGapless(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	owner := key(1)
	registerAgent(t, store, owner)

	action := func(i uint64) *domain.Action {
		return &domain.Action{
			Address:     key(byte(0x10 + i)),
			Agent:       key(owner[0] + 0x80),
			Owner:       owner,
			ActionIndex: i,
			ActionType:  domain.ActionTypeSwap,
			Protocol:    "jupiter",
			InputValue:  1000 * (i + 1),
			OutputValue: 900,
			Pnl:         domain.ComputePnl(1000*(i+1), 900),
			Outcome:     domain.OutcomeLoss,
			Timestamp:   int64(100 + i),
		}
	}

	_, err := store.Update(ctx, owner, func(tx storage.Tx) error {
		for i := uint64(0); i < 3; i++ {
			if err := tx.AppendAction(ctx, action(i)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	_, err = store.Update(ctx, owner, func(tx storage.Tx) error { return tx.AppendAction(ctx, action(1)) })
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	_, err = store.Update(ctx, owner, func(tx storage.Tx) error { return tx.AppendAction(ctx, action(5)) })
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	got, err := store.GetAction(ctx, owner, 1)
	require.NoError(t, err)
	assert.Equal(t, action(1), got)

	_, err = store.GetAction(ctx, owner, 3)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	newest, err := store.ListActions(ctx, owner, storage.ActionQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, uint64(2), newest[0].ActionIndex)
	assert.Equal(t, uint64(1), newest[1].ActionIndex)

	oldest, err := store.ListActions(ctx, owner, storage.ActionQuery{Offset: 1, NewestLast: true})
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, uint64(1), oldest[0].ActionIndex)
	assert.Equal(t, uint64(2), oldest[1].ActionIndex)

	empty, err := store.ListActions(ctx, owner, storage.ActionQuery{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLedgerStore_ListAgentsOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)

	put := func(owner solana.PublicKey, score uint8, total uint64, active bool) {
		_, err := store.Update(ctx, owner, func(tx storage.Tx) error {
			a := testAgent(owner, 1)
			a.ReputationScore = score
			a.TotalActions = total
			a.IsActive = active
			return tx.PutAgent(ctx, a)
		})
		require.NoError(t, err)
	}
	put(key(4), 70, 5, true)
	put(key(2), 70, 5, true)
	put(key(3), 70, 9, true)
	put(key(1), 90, 1, false)

	all, err := store.ListAgents(ctx, storage.AgentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, key(1), all[0].Owner)
	assert.Equal(t, key(3), all[1].Owner)
	assert.Equal(t, key(2), all[2].Owner)
	assert.Equal(t, key(4), all[3].Owner)

	active, err := store.ListAgents(ctx, storage.AgentFilter{ActiveOnly: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, key(3), active[0].Owner)
	assert.Equal(t, key(2), active[1].Owner)
}

func TestLedgerStore_EventsDuplicateAndPaging(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	owner := key(1)

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Update(ctx, owner, func(tx storage.Tx) error {
			return tx.AppendEvent(ctx, testEnvelope(t, id, owner))
		})
		require.NoError(t, err)
	}

	_, err := store.Update(ctx, owner, func(tx storage.Tx) error {
		return tx.AppendEvent(ctx, testEnvelope(t, "b", owner))
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	latest, err := store.LatestSequence(ctx)
	require.NoError(t, err)

	page, err := store.ListEvents(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "b", page[1].ID)
	assert.Less(t, page[0].Sequence, page[1].Sequence)

	rest, err := store.ListEvents(ctx, page[1].Sequence, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].ID)
	assert.Equal(t, latest, rest[0].Sequence)

	_, err = store.ListEvents(ctx, 0, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestLedgerStore_ConcurrentVaultDrain(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	require.NoError(t, store.Deposit(ctx, vault, 100))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(owner solana.PublicKey) {
			defer wg.Done()
			_, err := store.Update(ctx, owner, func(tx storage.Tx) error {
				return tx.Transfer(ctx, vault, owner, 30)
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, storage.ErrInsufficientFunds)
		}(key(byte(i + 1)))
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	bal, err := store.Balance(ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bal)
}

func TestLedgerStore_UpdateIsSerializable(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	var level string
	_, err := store.Update(ctx, key(1), func(tx storage.Tx) error {
		return tx.(*pgTx).tx.QueryRow(ctx, `SHOW transaction_isolation`).Scan(&level)
	})
	require.NoError(t, err)
	assert.Equal(t, "serializable", level)
}

func TestLedgerStore_UpdateRetriesSerializationFailure(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	owner := key(2)
	registerAgent(t, store, owner)

	attempts := 0
	_, err := store.Update(ctx, owner, func(tx storage.Tx) error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("lock agent: %w", &pgconn.PgError{Code: pgErrSerializationFailed})
		}
		return tx.Transfer(ctx, vault, owner, 40)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	bal, err := store.Balance(ctx, vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), bal)

	attempts = 0
	_, err = store.Update(ctx, owner, func(tx storage.Tx) error {
		attempts++
		return &pgconn.PgError{Code: pgErrDeadlockDetected}
	})
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, DefaultMaxRetries+1, attempts)
}

func TestRetryable(t *testing.T) {
	serialization := &pgconn.PgError{Code: pgErrSerializationFailed}
	assert.ErrorIs(t, retryable(serialization), storage.ErrConflict)
	assert.ErrorIs(t, retryable(fmt.Errorf("commit: %w", serialization)), storage.ErrConflict)
	assert.ErrorIs(t, retryable(&pgconn.PgError{Code: pgErrDeadlockDetected}), storage.ErrConflict)

	assert.Equal(t, storage.ErrConflict, retryable(storage.ErrConflict))
	assert.Equal(t, storage.ErrInsufficientFunds, retryable(storage.ErrInsufficientFunds))
	unique := &pgconn.PgError{Code: pgErrUniqueViolation}
	assert.NotErrorIs(t, retryable(unique), storage.ErrConflict)
}

func TestCheckpointStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCheckpointStore(pool)

	_, err := store.GetCheckpoint(ctx, "indexer")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SetCheckpoint(ctx, "indexer", 10))
	require.NoError(t, store.SetCheckpoint(ctx, "indexer", 4))

	seq, err := store.GetCheckpoint(ctx, "indexer")
	require.NoError(t, err)
	assert.Equal(t, int64(10), seq)

	assert.ErrorIs(t, store.SetCheckpoint(ctx, "", 1), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.SetCheckpoint(ctx, "indexer", -1), storage.ErrInvalidInput)
}

// TestLedger_OnPostgres runs a full agent lifecycle through the ledger.
func TestLedger_OnPostgres(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLedgerStore(pool)
	gov := key(0xAA)
	owner := key(1)
	now := int64(1_700_000_000)

	auth, err := authority.NewStatic(gov)
	require.NoError(t, err)
	l, err := ledger.New(ledger.Options{
		Store:     store,
		Authority: auth,
		Clock:     ledger.ClockFunc(func() int64 { return now }),
	})
	require.NoError(t, err)

	require.NoError(t, store.Deposit(ctx, owner, 10_000))

	agent, err := l.Register(ctx, owner, ledger.RegisterParams{Name: "alpha", AgentType: domain.AgentTypeTrading, InitialStake: 5_000})
	require.NoError(t, err)
	assert.Equal(t, domain.InitialScore, agent.ReputationScore)

	_, err = l.Register(ctx, owner, ledger.RegisterParams{Name: "alpha", AgentType: domain.AgentTypeTrading})
	assert.ErrorIs(t, err, ledger.ErrAgentAlreadyExists)

	res, err := l.LogAction(ctx, owner, ledger.ActionParams{
		ActionType:    domain.ActionTypeSwap,
		Protocol:      "orca",
		InputValue:    1_000_000,
		OutputValue:   1_100_000,
		Outcome:       domain.OutcomeProfit,
		ExpectedIndex: ptr(uint64(0)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), res.Action.Pnl)

	_, err = l.LogAction(ctx, owner, ledger.ActionParams{
		ActionType:    domain.ActionTypeSwap,
		Outcome:       domain.OutcomeProfit,
		ExpectedIndex: ptr(uint64(0)),
	})
	assert.ErrorIs(t, err, ledger.ErrStaleActionIndex)

	slashed, err := l.Slash(ctx, gov, owner, 1_000, "bad fill")
	require.NoError(t, err)
	assert.Equal(t, uint64(4_000), slashed.Stake)

	now += domain.CooldownSeconds
	out, err := l.Deregister(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(4_000), out.StakeReturned)

	bal, err := store.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_000), bal)
	bal, err = store.Balance(ctx, l.Treasury())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), bal)

	evs, err := store.ListEvents(ctx, 0, 10)
	require.NoError(t, err)
	types := make([]domain.EventType, len(evs))
	for i, e := range evs {
		types[i] = e.Type
	}
	assert.Equal(t, []domain.EventType{
		domain.EventAgentRegistered,
		domain.EventActionLogged,
		domain.EventAgentSlashed,
		domain.EventAgentDeregistered,
	}, types)
}
