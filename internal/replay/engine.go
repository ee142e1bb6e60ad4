// Package replay feeds the committed event history to an engine in
// sequence order.
package replay

import (
	"context"

	"agent-rep/internal/domain"
)

// Event is one decoded envelope of the history.
type Event struct {
	Envelope domain.Envelope
	Payload  domain.Event
}

// Sequence returns the store-assigned order of the event.
func (e *Event) Sequence() int64 { return e.Envelope.Sequence }

// ReplayEngine processes events in order.
type ReplayEngine interface {
	// OnEvent is called for each event in ascending sequence order.
	OnEvent(ctx context.Context, event *Event) error
}

// EngineFunc adapts a function to ReplayEngine.
type EngineFunc func(ctx context.Context, event *Event) error

// OnEvent implements ReplayEngine.
func (f EngineFunc) OnEvent(ctx context.Context, event *Event) error { return f(ctx, event) }
