package storage

import (
	"context"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
)

// Tx is the unit of work of a single transition. It is scoped to one agent
// owner whose record stays locked until the transaction ends. Nothing written
// through a Tx is visible to readers before commit.
type Tx interface {
	// Agent returns the locked owner's agent. Returns ErrNotFound if none exists.
	Agent(ctx context.Context) (*domain.Agent, error)

	// PutAgent writes the agent. Revision 1 inserts and returns ErrDuplicateKey
	// if a record exists. Higher revisions update and return ErrConflict unless
	// the stored revision is exactly a.Revision-1.
	PutAgent(ctx context.Context, a *domain.Agent) error

	// AppendAction adds an action. Returns ErrDuplicateKey if (agent, index) exists.
	AppendAction(ctx context.Context, a *domain.Action) error

	// Transfer moves amount between named balances.
	// Returns ErrInsufficientFunds if from cannot cover it.
	Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error

	// AppendEvent adds an event to the outbox. The sequence is assigned at commit.
	// Returns ErrDuplicateKey if the event id exists.
	AppendEvent(ctx context.Context, env domain.Envelope) error
}

// LedgerStore runs transitions atomically.
type LedgerStore interface {
	// Update runs fn inside a transaction locked on owner. When fn returns nil
	// every write is committed together and the appended events are returned
	// with their sequences. Any error discards every write.
	Update(ctx context.Context, owner solana.PublicKey, fn func(tx Tx) error) ([]domain.Envelope, error)
}

// AgentFilter selects agents for listing.
type AgentFilter struct {
	ActiveOnly bool
	Limit      int // 0 means no limit
}

// AgentReader provides read access to committed agents.
type AgentReader interface {
	// GetAgent retrieves the agent owned by owner. Returns ErrNotFound if not exists.
	GetAgent(ctx context.Context, owner solana.PublicKey) (*domain.Agent, error)

	// ListAgents returns agents ordered by reputation_score DESC,
	// total_actions DESC, owner ASC (bytewise).
	ListAgents(ctx context.Context, filter AgentFilter) ([]*domain.Agent, error)
}

// ActionQuery pages through an agent's actions.
type ActionQuery struct {
	Limit      int // 0 means no limit
	Offset     int
	NewestLast bool // default order is action_index DESC
}

// ActionReader provides read access to committed actions.
type ActionReader interface {
	// GetAction retrieves an action by owner and index. Returns ErrNotFound if not exists.
	GetAction(ctx context.Context, owner solana.PublicKey, index uint64) (*domain.Action, error)

	// ListActions returns the owner's actions, newest first unless q.NewestLast.
	ListActions(ctx context.Context, owner solana.PublicKey, q ActionQuery) ([]*domain.Action, error)
}

// BalanceStore exposes named balances (owner wallets, stake vault, treasury).
type BalanceStore interface {
	// Balance returns the amount held by account. Unknown accounts hold 0.
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)

	// Deposit credits external funds to account.
	// Returns ErrInvalidInput if the balance would overflow.
	Deposit(ctx context.Context, account solana.PublicKey, amount uint64) error
}

// EventReader reads the committed event outbox.
type EventReader interface {
	// ListEvents returns up to limit events with sequence > after, ascending.
	ListEvents(ctx context.Context, after int64, limit int) ([]domain.Envelope, error)

	// LatestSequence returns the highest committed sequence, 0 if none.
	LatestSequence(ctx context.Context) (int64, error)
}

// Store is the full ledger store.
type Store interface {
	LedgerStore
	AgentReader
	ActionReader
	BalanceStore
	EventReader
}
