package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"agent-rep/internal/authority"
	"agent-rep/internal/domain"
	"agent-rep/internal/events"
	"agent-rep/internal/ledger"
	"agent-rep/internal/solana"
	"agent-rep/internal/storage/memory"
)

var (
	gov   = solana.PublicKey{0xAA}
	alice = solana.PublicKey{0x01}
	bob   = solana.PublicKey{0x02}
)

type env struct {
	ledger *ledger.Ledger
	store  *memory.LedgerStore
	bus    *events.Bus
	now    atomic.Int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{store: memory.NewLedgerStore(), bus: events.NewBus()}
	e.now.Store(1_700_000_000)
	auth, err := authority.NewStatic(gov)
	if err != nil {
		t.Fatal(err)
	}
	e.ledger, err = ledger.New(ledger.Options{
		Store:     e.store,
		Authority: auth,
		Clock:     ledger.ClockFunc(func() int64 { return e.now.Add(1) }),
		Publisher: e.bus,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, k := range []solana.PublicKey{alice, bob} {
		if err := e.store.Deposit(ctx, k, 10_000); err != nil {
			t.Fatal(err)
		}
	}
	return e
}

func (e *env) register(t *testing.T, owner solana.PublicKey) {
	t.Helper()
	_, err := e.ledger.Register(context.Background(), owner, ledger.RegisterParams{
		Name: "agent", AgentType: domain.AgentTypeTrading, InitialStake: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (e *env) act(t *testing.T, owner solana.PublicKey) {
	t.Helper()
	_, err := e.ledger.LogAction(context.Background(), owner, ledger.ActionParams{
		ActionType: domain.ActionTypeSwap, Protocol: "jupiter", InputValue: 100, OutputValue: 110, Outcome: domain.OutcomeSuccess,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (e *env) newHub(t *testing.T) *Hub {
	t.Helper()
	h, err := NewHub(Options{Source: e.store, Bus: e.bus, PingInterval: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// swapHandler lets a test replace the hub behind a running server.
type swapHandler struct{ hub atomic.Pointer[Hub] }

func (s *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.hub.Load().ServeHTTP(w, r)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
}

func startClient(t *testing.T, endpoint string, req Request) (*Client, <-chan error) {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	c, err := NewClient(endpoint, req, &cfg)
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	t.Cleanup(func() {
		c.Close()
		<-errc
	})
	return c, errc
}

func receive(t *testing.T, c *Client, n int) []domain.Envelope {
	t.Helper()
	var got []domain.Envelope
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case e, ok := <-c.Events():
			if !ok {
				t.Fatalf("events closed after %d of %d", len(got), n)
			}
			got = append(got, e)
		case <-timeout:
			t.Fatalf("received %d of %d events", len(got), n)
		}
	}
	return got
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case e := <-c.Events():
		t.Fatalf("unexpected event %s seq=%d", e.Type, e.Sequence)
	case <-time.After(100 * time.Millisecond):
	}
}

func sequences(envs []domain.Envelope) []int64 {
	out := make([]int64, len(envs))
	for i, e := range envs {
		out[i] = e.Sequence
	}
	return out
}

func assertSequences(t *testing.T, got []domain.Envelope, want ...int64) {
	t.Helper()
	seqs := sequences(got)
	if len(seqs) != len(want) {
		t.Fatalf("sequences = %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("sequences = %v, want %v", seqs, want)
		}
	}
}

func TestHub_BackfillThenLive(t *testing.T) {
	e := newEnv(t)
	e.register(t, alice)
	e.act(t, alice)

	hub := e.newHub(t)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	c, _ := startClient(t, wsURL(srv), Request{After: 0})
	got := receive(t, c, 2)
	assertSequences(t, got, 1, 2)
	if got[0].Type != domain.EventAgentRegistered || got[1].Type != domain.EventActionLogged {
		t.Fatalf("types = %s, %s", got[0].Type, got[1].Type)
	}

	e.act(t, alice)
	assertSequences(t, receive(t, c, 1), 3)

	if _, err := e.ledger.QueryReputation(context.Background(), alice, bob); err != nil {
		t.Fatal(err)
	}
	q := receive(t, c, 1)[0]
	if q.Type != domain.EventReputationQueried || q.Sequence != 0 {
		t.Fatalf("got %s seq=%d, want non-durable query event", q.Type, q.Sequence)
	}
	if c.Last() != 3 {
		t.Fatalf("Last() = %d, want 3", c.Last())
	}
	if c.Session() == "" {
		t.Fatal("session id not recorded")
	}
}

func TestHub_LiveOnly(t *testing.T) {
	e := newEnv(t)
	e.register(t, alice)

	hub := e.newHub(t)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	c, _ := startClient(t, wsURL(srv), Request{After: -1})
	waitFor(t, func() bool { return hub.Len() == 1 && c.Last() == 1 })
	expectNothing(t, c)

	e.act(t, alice)
	assertSequences(t, receive(t, c, 1), 2)
}

func TestHub_AgentFilter(t *testing.T) {
	e := newEnv(t)
	e.register(t, alice)
	e.register(t, bob)
	e.act(t, alice)
	e.act(t, bob)

	hub := e.newHub(t)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	bobAgent, _, err := solana.AgentAddress(e.ledger.ProgramID(), bob)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := startClient(t, wsURL(srv), Request{After: 0, Filter: Filter{Agent: bobAgent}})
	got := receive(t, c, 2)
	assertSequences(t, got, 2, 4)
	for _, g := range got {
		if g.Agent != bobAgent {
			t.Fatalf("event for %s leaked through filter", g.Agent)
		}
	}
	expectNothing(t, c)
}

func TestClient_ResumesAfterServerRestart(t *testing.T) {
	e := newEnv(t)
	e.register(t, alice)

	handler := &swapHandler{}
	first := e.newHub(t)
	handler.hub.Store(first)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c, _ := startClient(t, wsURL(srv), Request{After: 0})
	assertSequences(t, receive(t, c, 1), 1)

	// Events committed while no hub is serving are picked up on reconnect.
	first.Close()
	e.act(t, alice)
	e.act(t, alice)

	second := e.newHub(t)
	defer second.Close()
	handler.hub.Store(second)

	assertSequences(t, receive(t, c, 2), 2, 3)
	e.act(t, alice)
	assertSequences(t, receive(t, c, 1), 4)
	expectNothing(t, c)
}

func TestHub_RefusesAfterClose(t *testing.T) {
	e := newEnv(t)
	hub := e.newHub(t)
	hub.Close()

	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestNewHub_RequiresDependencies(t *testing.T) {
	if _, err := NewHub(Options{Bus: events.NewBus()}); err == nil {
		t.Fatal("expected error without source")
	}
	if _, err := NewHub(Options{Source: memory.NewLedgerStore()}); err == nil {
		t.Fatal("expected error without bus")
	}
}

func TestParseRequest(t *testing.T) {
	agent := solana.PublicKey{0x07}
	tests := []struct {
		name    string
		query   string
		want    Request
		wantErr bool
	}{
		{name: "empty is live only", query: "", want: Request{After: -1}},
		{name: "after", query: "after=42", want: Request{After: 42}},
		{name: "agent", query: "agent=" + agent.String(), want: Request{After: -1, Filter: Filter{Agent: agent}}},
		{name: "negative after", query: "after=-3", wantErr: true},
		{name: "bad after", query: "after=x", wantErr: true},
		{name: "bad agent", query: "agent=not-base58!", wantErr: true},
		{name: "unknown type", query: "types=Bogus", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			got, err := ParseRequest(q)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.After != tt.want.After || got.Filter.Agent != tt.want.Filter.Agent {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRequest_EncodeRoundTrip(t *testing.T) {
	req := Request{
		After: 9,
		Filter: Filter{
			Agent: solana.PublicKey{0x09},
			Types: map[domain.EventType]bool{domain.EventAgentSlashed: true, domain.EventActionLogged: true},
		},
	}
	q := req.Encode()
	if q.Get("types") != "ActionLogged,AgentSlashed" {
		t.Fatalf("types = %q", q.Get("types"))
	}
	got, err := ParseRequest(q)
	if err != nil {
		t.Fatal(err)
	}
	if got.After != 9 || got.Filter.Agent != req.Filter.Agent || len(got.Filter.Types) != 2 {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestNewClient_RejectsScheme(t *testing.T) {
	if _, err := NewClient("http://localhost/events", Request{}, nil); err == nil {
		t.Fatal("expected error for http scheme")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
