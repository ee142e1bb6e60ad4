// Package stream serves committed ledger events over websockets.
//
// A subscriber connects with ?after=<sequence> and first receives every
// outbox event after that sequence, then live events as they commit. The
// outbox is the source of truth: the in-process bus only wakes the session
// up, and durable events are always read back from storage in sequence
// order. Non-durable events (reputation queries) carry sequence 0 and are
// forwarded straight from the bus.
package stream

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"agent-rep/internal/domain"
	"agent-rep/internal/solana"
)

// FrameKind tags a websocket message.
type FrameKind string

const (
	FrameHello FrameKind = "hello"
	FrameEvent FrameKind = "event"
)

// Frame is one JSON text message sent by the hub.
type Frame struct {
	Kind    FrameKind        `json:"kind"`
	Session string           `json:"session,omitempty"`
	Latest  int64            `json:"latest,omitempty"`
	Event   *domain.Envelope `json:"event,omitempty"`
}

// Filter narrows what a session receives. Zero values match everything.
type Filter struct {
	Agent solana.PublicKey
	Types map[domain.EventType]bool
}

// Match reports whether env passes the filter.
func (f Filter) Match(env domain.Envelope) bool {
	if !f.Agent.IsZero() && env.Agent != f.Agent {
		return false
	}
	if len(f.Types) > 0 && !f.Types[env.Type] {
		return false
	}
	return true
}

// Request is the parsed subscription query.
type Request struct {
	// After is the last sequence the subscriber has seen. Negative means
	// live only, starting at the latest sequence at connect time.
	After  int64
	Filter Filter
}

// ParseRequest reads after, agent and types from a subscription URL query.
func ParseRequest(q url.Values) (Request, error) {
	req := Request{After: -1}
	if s := q.Get("after"); s != "" {
		after, err := strconv.ParseInt(s, 10, 64)
		if err != nil || after < 0 {
			return Request{}, fmt.Errorf("invalid after %q", s)
		}
		req.After = after
	}
	if s := q.Get("agent"); s != "" {
		agent, err := solana.ParsePublicKey(s)
		if err != nil {
			return Request{}, fmt.Errorf("invalid agent: %w", err)
		}
		req.Filter.Agent = agent
	}
	if s := q.Get("types"); s != "" {
		req.Filter.Types = make(map[domain.EventType]bool)
		for _, t := range strings.Split(s, ",") {
			et := domain.EventType(strings.TrimSpace(t))
			switch et {
			case domain.EventAgentRegistered, domain.EventActionLogged, domain.EventReputationQueried,
				domain.EventAgentSlashed, domain.EventAgentDeregistered:
				req.Filter.Types[et] = true
			default:
				return Request{}, fmt.Errorf("unknown event type %q", t)
			}
		}
	}
	return req, nil
}

// Encode writes the request back into a query.
func (r Request) Encode() url.Values {
	q := url.Values{}
	if r.After >= 0 {
		q.Set("after", strconv.FormatInt(r.After, 10))
	}
	if !r.Filter.Agent.IsZero() {
		q.Set("agent", r.Filter.Agent.String())
	}
	if len(r.Filter.Types) > 0 {
		types := make([]string, 0, len(r.Filter.Types))
		for t := range r.Filter.Types {
			types = append(types, string(t))
		}
		sort.Strings(types)
		q.Set("types", strings.Join(types, ","))
	}
	return q
}
