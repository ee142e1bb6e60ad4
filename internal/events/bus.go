// Package events fans committed ledger events out to in-process subscribers.
// Publishing never blocks the ledger: a subscriber whose buffer is full is
// closed and must resume from the durable outbox.
package events

import (
	"io"
	"log"
	"sync"

	"agent-rep/internal/domain"
)

// DefaultBuffer is the channel capacity of a subscription.
const DefaultBuffer = 256

// Publisher receives committed events.
type Publisher interface {
	Publish(envs ...domain.Envelope)
}

// Subscription delivers events in publish order until closed.
type Subscription struct {
	C <-chan domain.Envelope

	ch      chan domain.Envelope
	bus     *Bus
	id      uint64
	once    sync.Once
	dropped bool
}

// Dropped reports whether the bus closed the subscription because it fell behind.
func (s *Subscription) Dropped() bool {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.dropped
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s.id, false)
}

// Bus is an in-process Publisher with any number of subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	onDrop func()
	logger *log.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger for dropped subscribers.
func WithLogger(l *log.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithDropHook is called each time a slow subscriber is dropped.
func WithDropHook(fn func()) BusOption {
	return func(b *Bus) { b.onDrop = fn }
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber with the given buffer (DefaultBuffer if <= 0).
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan domain.Envelope, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{C: ch, ch: ch, bus: b, id: b.nextID}
	if b.closed {
		s.once.Do(func() { close(ch) })
		return s
	}
	b.subs[s.id] = s
	return s
}

// Len returns the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers envs to every subscriber without blocking.
func (b *Bus) Publish(envs ...domain.Envelope) {
	var slow []uint64

	b.mu.RLock()
	for id, s := range b.subs {
		for _, env := range envs {
			select {
			case s.ch <- env:
				continue
			default:
			}
			slow = append(slow, id)
			break
		}
	}
	b.mu.RUnlock()

	for _, id := range slow {
		b.remove(id, true)
	}
}

func (b *Bus) remove(id uint64, dropped bool) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		s.dropped = dropped
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	s.once.Do(func() { close(s.ch) })
	if dropped {
		b.logger.Printf("dropped slow subscriber %d", id)
		if b.onDrop != nil {
			b.onDrop()
		}
	}
}

// Close closes every subscription. Later subscriptions are closed immediately.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}

var _ Publisher = (*Bus)(nil)
