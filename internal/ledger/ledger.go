// Package ledger implements the agent reputation state machine: registration,
// action logging, slashing, deregistration and reputation queries.
//
// Every mutating transition runs inside one storage transaction that writes the
// agent record, any action, the balance transfers and the resulting event.
// Events are handed to the Publisher only after the transaction commits.
package ledger

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"agent-rep/internal/authority"
	"agent-rep/internal/domain"
	"agent-rep/internal/events"
	"agent-rep/internal/idhash"
	"agent-rep/internal/observability"
	"agent-rep/internal/reputation"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage"
)

// Clock supplies the transition timestamp in unix seconds.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

// Now implements Clock.
func (f ClockFunc) Now() int64 { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(func() int64 { return time.Now().Unix() })

// Options configures a Ledger.
type Options struct {
	Store     storage.Store       // required
	Authority authority.Authority // required
	Clock     Clock               // defaults to SystemClock
	Publisher events.Publisher    // optional
	Weights   *reputation.Weights // defaults to reputation.DefaultWeights
	ProgramID solana.PublicKey    // defaults to solana.DefaultProgramID
	Treasury  solana.PublicKey    // receives slashed stake; defaults to the governance address
	Logger    *log.Logger
}

// Ledger executes transitions against a Store.
type Ledger struct {
	store     storage.Store
	auth      authority.Authority
	clock     Clock
	publisher events.Publisher
	engine    *reputation.Engine
	programID solana.PublicKey
	vault     solana.PublicKey
	treasury  solana.PublicKey
	addresses *solana.AddressCache
	logger    *log.Logger
}

// New validates opts and builds a Ledger.
func New(opts Options) (*Ledger, error) {
	if opts.Store == nil {
		return nil, errors.New("ledger: store is required")
	}
	if opts.Authority == nil {
		return nil, errors.New("ledger: authority is required")
	}

	weights := reputation.DefaultWeights()
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	engine, err := reputation.NewEngine(weights)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		store:     opts.Store,
		auth:      opts.Authority,
		clock:     opts.Clock,
		publisher: opts.Publisher,
		engine:    engine,
		programID: opts.ProgramID,
		treasury:  opts.Treasury,
		logger:    opts.Logger,
	}
	if l.clock == nil {
		l.clock = SystemClock
	}
	if l.programID.IsZero() {
		l.programID = solana.DefaultProgramID
	}
	if l.logger == nil {
		l.logger = log.New(io.Discard, "", 0)
	}

	vault, _, err := solana.VaultAddress(l.programID)
	if err != nil {
		return nil, err
	}
	l.vault = vault
	if l.treasury.IsZero() {
		gov, _, err := solana.GovernanceAddress(l.programID)
		if err != nil {
			return nil, err
		}
		l.treasury = gov
	}
	if l.addresses, err = solana.NewAddressCache(0); err != nil {
		return nil, err
	}
	if l.treasury == l.vault {
		return nil, errors.New("ledger: treasury must differ from the stake vault")
	}
	return l, nil
}

// ProgramID returns the program used for address derivation.
func (l *Ledger) ProgramID() solana.PublicKey { return l.programID }

// Vault returns the stake vault balance account.
func (l *Ledger) Vault() solana.PublicKey { return l.vault }

// Treasury returns the account receiving slashed stake.
func (l *Ledger) Treasury() solana.PublicKey { return l.treasury }

// AgentAddress returns the agent account address for owner.
func (l *Ledger) AgentAddress(owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	return l.addresses.AgentAddress(l.programID, owner)
}

// Engine returns the score engine.
func (l *Ledger) Engine() *reputation.Engine { return l.engine }

// Store returns the underlying store.
func (l *Ledger) Store() storage.Store { return l.store }

// commit runs fn in a store transaction and publishes the committed events.
func (l *Ledger) commit(ctx context.Context, owner solana.PublicKey, fn func(tx storage.Tx) error) error {
	committed, err := l.store.Update(ctx, owner, fn)
	if err != nil {
		return err
	}
	if l.publisher != nil && len(committed) > 0 {
		l.publisher.Publish(committed...)
	}
	return nil
}

// appendEvent wraps ev in an envelope and adds it to the transaction outbox.
func appendEvent(ctx context.Context, tx storage.Tx, ev domain.Event, revision uint64, actor solana.PublicKey) error {
	id := idhash.ComputeEventID(ev.Type(), ev.AgentAddress(), revision, ev.EventTime(), actor)
	env, err := domain.NewEnvelope(id, ev)
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, env)
}

// observe records metrics and logs the outcome of a transition.
func (l *Ledger) observe(kind string, start time.Time, err error) {
	reason := ErrorKind(err)
	observability.RecordTransition(kind, reason, time.Since(start).Seconds())
	if reason == "internal" {
		l.logger.Printf("%s failed: %v", kind, err)
	}
}

func (l *Ledger) score(a *domain.Agent, now int64) uint8 {
	return l.engine.Score(reputation.Stats{
		Successful:   a.SuccessfulActions,
		Total:        a.TotalActions,
		Volume:       a.TotalVolume,
		RegisteredAt: a.RegisteredAt,
	}, now)
}
