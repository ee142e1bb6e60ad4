package memory

import (
	"context"
	"sort"
	"sync"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.Store.
//
// Transitions for one owner are serialized by a per-owner lock. Writes are
// staged in the transaction and applied under the store lock at commit, where
// balance transfers are re-validated against the current balances.
type LedgerStore struct {
	stripesMu sync.Mutex
	stripes   map[solana.PublicKey]*sync.Mutex

	mu       sync.RWMutex
	agents   map[solana.PublicKey]*domain.Agent    // keyed by owner
	actions  map[solana.PublicKey][]*domain.Action // keyed by owner, ordered by index
	balances map[solana.PublicKey]uint64
	events   []domain.Envelope
	eventIDs map[string]struct{}
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		stripes:  make(map[solana.PublicKey]*sync.Mutex),
		agents:   make(map[solana.PublicKey]*domain.Agent),
		actions:  make(map[solana.PublicKey][]*domain.Action),
		balances: make(map[solana.PublicKey]uint64),
		eventIDs: make(map[string]struct{}),
	}
}

func (s *LedgerStore) stripe(owner solana.PublicKey) *sync.Mutex {
	s.stripesMu.Lock()
	defer s.stripesMu.Unlock()
	m, ok := s.stripes[owner]
	if !ok {
		m = &sync.Mutex{}
		s.stripes[owner] = m
	}
	return m
}

// Update runs fn with the owner's lock held and commits its writes atomically.
func (s *LedgerStore) Update(ctx context.Context, owner solana.PublicKey, fn func(tx storage.Tx) error) ([]domain.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, storage.ErrInvalidInput
	}

	lock := s.stripe(owner)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{s: s, owner: owner, balances: make(map[solana.PublicKey]uint64)}
	if err := fn(tx); err != nil {
		return nil, err
	}
	return s.commit(tx)
}

func (s *LedgerStore) commit(tx *memTx) ([]domain.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Other owners may have moved shared balances since the transfer was staged.
	next := make(map[solana.PublicKey]uint64)
	balance := func(k solana.PublicKey) uint64 {
		if v, ok := next[k]; ok {
			return v
		}
		return s.balances[k]
	}
	for _, t := range tx.transfers {
		from := balance(t.from)
		if from < t.amount {
			return nil, storage.ErrInsufficientFunds
		}
		next[t.from] = from - t.amount
		to := balance(t.to)
		if to+t.amount < to {
			return nil, storage.ErrInvalidInput
		}
		next[t.to] = to + t.amount
	}

	for k, v := range next {
		s.balances[k] = v
	}
	if tx.agent != nil {
		a := *tx.agent
		s.agents[tx.owner] = &a
	}
	s.actions[tx.owner] = append(s.actions[tx.owner], tx.actions...)

	committed := make([]domain.Envelope, 0, len(tx.events))
	for _, env := range tx.events {
		env.Sequence = int64(len(s.events)) + 1
		s.events = append(s.events, env)
		s.eventIDs[env.ID] = struct{}{}
		committed = append(committed, copyEnvelope(env))
	}
	return committed, nil
}

type transfer struct {
	from, to solana.PublicKey
	amount   uint64
}

// memTx stages writes for one Update call.
type memTx struct {
	s     *LedgerStore
	owner solana.PublicKey

	agent     *domain.Agent
	actions   []*domain.Action
	transfers []transfer
	balances  map[solana.PublicKey]uint64 // staged view of touched balances
	events    []domain.Envelope
}

func (t *memTx) Agent(_ context.Context) (*domain.Agent, error) {
	if t.agent != nil {
		a := *t.agent
		return &a, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.agents[t.owner]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) PutAgent(_ context.Context, a *domain.Agent) error {
	if a == nil || a.Owner != t.owner || a.Revision == 0 {
		return storage.ErrInvalidInput
	}

	var current *domain.Agent
	if t.agent != nil {
		current = t.agent
	} else {
		t.s.mu.RLock()
		current = t.s.agents[t.owner]
		t.s.mu.RUnlock()
	}

	switch {
	case a.Revision == 1 && current != nil:
		return storage.ErrDuplicateKey
	case a.Revision > 1 && (current == nil || current.Revision != a.Revision-1):
		return storage.ErrConflict
	}

	cp := *a
	t.agent = &cp
	return nil
}

func (t *memTx) AppendAction(_ context.Context, a *domain.Action) error {
	if a == nil || a.Owner != t.owner {
		return storage.ErrInvalidInput
	}

	t.s.mu.RLock()
	next := uint64(len(t.s.actions[t.owner])) + uint64(len(t.actions))
	t.s.mu.RUnlock()

	if a.ActionIndex < next {
		return storage.ErrDuplicateKey
	}
	if a.ActionIndex > next {
		return storage.ErrInvalidInput
	}

	cp := *a
	t.actions = append(t.actions, &cp)
	return nil
}

func (t *memTx) Transfer(_ context.Context, from, to solana.PublicKey, amount uint64) error {
	if from == to {
		return storage.ErrInvalidInput
	}
	if amount == 0 {
		return nil
	}

	t.s.mu.RLock()
	fromBal, ok := t.balances[from]
	if !ok {
		fromBal = t.s.balances[from]
	}
	toBal, ok := t.balances[to]
	if !ok {
		toBal = t.s.balances[to]
	}
	t.s.mu.RUnlock()

	if fromBal < amount {
		return storage.ErrInsufficientFunds
	}
	if toBal+amount < toBal {
		return storage.ErrInvalidInput
	}

	t.balances[from] = fromBal - amount
	t.balances[to] = toBal + amount
	t.transfers = append(t.transfers, transfer{from: from, to: to, amount: amount})
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, env domain.Envelope) error {
	if env.ID == "" || env.Type == "" {
		return storage.ErrInvalidInput
	}
	for _, staged := range t.events {
		if staged.ID == env.ID {
			return storage.ErrDuplicateKey
		}
	}

	t.s.mu.RLock()
	_, exists := t.s.eventIDs[env.ID]
	t.s.mu.RUnlock()
	if exists {
		return storage.ErrDuplicateKey
	}

	t.events = append(t.events, copyEnvelope(env))
	return nil
}

// GetAgent retrieves the agent owned by owner.
func (s *LedgerStore) GetAgent(_ context.Context, owner solana.PublicKey) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[owner]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAgents returns agents in leaderboard order.
func (s *LedgerStore) ListAgents(_ context.Context, filter storage.AgentFilter) ([]*domain.Agent, error) {
	if filter.Limit < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	result := make([]*domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if filter.ActiveOnly && !a.IsActive {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.ReputationScore != b.ReputationScore {
			return a.ReputationScore > b.ReputationScore
		}
		if a.TotalActions != b.TotalActions {
			return a.TotalActions > b.TotalActions
		}
		return a.Owner.Less(b.Owner)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// GetAction retrieves an action by owner and index.
func (s *LedgerStore) GetAction(_ context.Context, owner solana.PublicKey, index uint64) (*domain.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actions := s.actions[owner]
	if index >= uint64(len(actions)) {
		return nil, storage.ErrNotFound
	}
	cp := *actions[index]
	return &cp, nil
}

// ListActions returns a page of the owner's actions.
func (s *LedgerStore) ListActions(_ context.Context, owner solana.PublicKey, q storage.ActionQuery) ([]*domain.Action, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	actions := s.actions[owner]
	n := len(actions)
	if q.Offset >= n {
		return []*domain.Action{}, nil
	}
	count := n - q.Offset
	if q.Limit > 0 && q.Limit < count {
		count = q.Limit
	}

	result := make([]*domain.Action, 0, count)
	for i := 0; i < count; i++ {
		pos := q.Offset + i
		if !q.NewestLast {
			pos = n - 1 - pos
		}
		cp := *actions[pos]
		result = append(result, &cp)
	}
	return result, nil
}

// Balance returns the amount held by account.
func (s *LedgerStore) Balance(_ context.Context, account solana.PublicKey) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[account], nil
}

// Deposit credits external funds to account.
func (s *LedgerStore) Deposit(_ context.Context, account solana.PublicKey, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.balances[account]
	if cur+amount < cur {
		return storage.ErrInvalidInput
	}
	s.balances[account] = cur + amount
	return nil
}

// ListEvents returns committed events after the given sequence.
func (s *LedgerStore) ListEvents(_ context.Context, after int64, limit int) ([]domain.Envelope, error) {
	if limit <= 0 || after < 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Sequence n lives at index n-1.
	start := int(after)
	if start >= len(s.events) {
		return []domain.Envelope{}, nil
	}
	end := start + limit
	if end > len(s.events) {
		end = len(s.events)
	}
	result := make([]domain.Envelope, 0, end-start)
	for _, env := range s.events[start:end] {
		result = append(result, copyEnvelope(env))
	}
	return result, nil
}

// LatestSequence returns the highest committed sequence.
func (s *LedgerStore) LatestSequence(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

func copyEnvelope(env domain.Envelope) domain.Envelope {
	cp := env
	cp.Payload = append([]byte(nil), env.Payload...)
	return cp
}

var _ storage.Store = (*LedgerStore)(nil)
