package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"agent-rep/internal/domain"
	"agent-rep/internal/events"
	"agent-rep/internal/observability"
	"agent-rep/internal/storage"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPage         = 500

	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Options configures a Hub.
type Options struct {
	Source       storage.EventReader // durable outbox, required
	Bus          *events.Bus         // live notifications, required
	Buffer       int                 // per-session bus buffer
	PingInterval time.Duration
	Page         int // outbox page size while catching up
	Logger       *log.Logger

	// CheckOrigin overrides the upgrader origin check. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

// Hub accepts websocket subscribers and streams events to them.
type Hub struct {
	source       storage.EventReader
	bus          *events.Bus
	buffer       int
	pingInterval time.Duration
	page         int
	logger       *log.Logger
	upgrader     websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

// NewHub validates opts and creates a Hub.
func NewHub(opts Options) (*Hub, error) {
	if opts.Source == nil {
		return nil, errors.New("stream: event source is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("stream: bus is required")
	}
	h := &Hub{
		source:       opts.Source,
		bus:          opts.Bus,
		buffer:       opts.Buffer,
		pingInterval: opts.PingInterval,
		page:         opts.Page,
		logger:       opts.Logger,
		sessions:     make(map[string]*session),
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}
	if h.page <= 0 {
		h.page = defaultPage
	}
	if h.logger == nil {
		h.logger = log.New(io.Discard, "", 0)
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
	}
	return h, nil
}

// Len returns the number of connected sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// ServeHTTP upgrades the request and streams until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	// Subscribe before reading the outbox so nothing committed in between is missed.
	s := &session{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		sub:    h.bus.Subscribe(h.buffer),
		filter: req.Filter,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if !h.add(s) {
		s.sub.Close()
		conn.Close()
		return
	}
	defer h.remove(s)

	h.logger.Printf("stream session %s connected from %s after=%d", s.id, r.RemoteAddr, req.After)
	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writePump(r.Context(), req.After)
	}()
	s.readPump()
	<-written
	h.logger.Printf("stream session %s closed", s.id)
}

// Close disconnects every session with a going-away close frame and waits
// for their pumps to exit. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, s := range h.sessions {
		s.stop()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) add(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s.id] = s
	h.wg.Add(1)
	observability.UpdateStreamSubscribers(len(h.sessions))
	return true
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	observability.UpdateStreamSubscribers(len(h.sessions))
	h.mu.Unlock()
	h.wg.Done()
}

type session struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	sub    *events.Subscription
	filter Filter

	quit     chan struct{} // hub shutdown
	quitOnce sync.Once
	done     chan struct{} // read side ended
	doneOnce sync.Once
}

func (s *session) stop() { s.quitOnce.Do(func() { close(s.quit) }) }

func (s *session) finish() { s.doneOnce.Do(func() { close(s.done) }) }

// readPump discards client messages and detects disconnects.
func (s *session) readPump() {
	defer s.finish()

	wait := 2 * s.hub.pingInterval
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Printf("stream session %s read error: %v", s.id, err)
			}
			return
		}
	}
}

// writePump owns every write to the connection.
func (s *session) writePump(ctx context.Context, after int64) {
	ticker := time.NewTicker(s.hub.pingInterval)
	defer func() {
		ticker.Stop()
		s.sub.Close()
		s.conn.Close()
	}()

	latest, err := s.hub.source.LatestSequence(ctx)
	if err != nil {
		s.hub.logger.Printf("stream session %s: latest sequence: %v", s.id, err)
		s.closeWith(websocket.CloseInternalServerErr, "outbox unavailable")
		return
	}
	last := after
	if last < 0 || last > latest {
		last = latest
	}
	if err := s.write(Frame{Kind: FrameHello, Session: s.id, Latest: latest}); err != nil {
		return
	}
	if last, err = s.catchUp(ctx, last); err != nil {
		s.fail(err)
		return
	}

	for {
		select {
		case env, ok := <-s.sub.C:
			if !ok {
				s.closeSubscription()
				return
			}
			wake, open, err := s.drain(env)
			if err != nil {
				s.fail(err)
				return
			}
			if wake {
				if last, err = s.catchUp(ctx, last); err != nil {
					s.fail(err)
					return
				}
			}
			if !open {
				s.closeSubscription()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.quit:
			s.closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		case <-s.done:
			return
		}
	}
}

// drain consumes every queued bus event. Non-durable events are forwarded
// directly, durable ones only request a catch-up from the outbox.
func (s *session) drain(first domain.Envelope) (wake, open bool, err error) {
	env := first
	for {
		if env.Sequence == 0 {
			if s.filter.Match(env) {
				if err := s.sendEvent(env); err != nil {
					return false, true, err
				}
			}
		} else {
			wake = true
		}

		var ok bool
		select {
		case env, ok = <-s.sub.C:
			if !ok {
				return wake, false, nil
			}
		default:
			return wake, true, nil
		}
	}
}

// catchUp sends outbox events after last and returns the new position.
func (s *session) catchUp(ctx context.Context, last int64) (int64, error) {
	for {
		page, err := s.hub.source.ListEvents(ctx, last, s.hub.page)
		if err != nil {
			return last, err
		}
		for _, env := range page {
			if env.Sequence <= last {
				continue
			}
			if s.filter.Match(env) {
				if err := s.sendEvent(env); err != nil {
					return last, err
				}
			}
			last = env.Sequence
		}
		if len(page) < s.hub.page {
			return last, nil
		}
	}
}

func (s *session) sendEvent(env domain.Envelope) error {
	if err := s.write(Frame{Kind: FrameEvent, Event: &env}); err != nil {
		return err
	}
	observability.RecordStreamSent()
	return nil
}

func (s *session) write(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// closeSubscription reports why the bus ended the subscription. A dropped
// subscriber is told to come back with its last sequence.
func (s *session) closeSubscription() {
	if s.sub.Dropped() {
		observability.RecordStreamDropped()
		s.hub.logger.Printf("stream session %s fell behind, closing", s.id)
		s.closeWith(websocket.CloseTryAgainLater, "subscriber fell behind, resume from last sequence")
		return
	}
	s.closeWith(websocket.CloseGoingAway, "event bus closed")
}

func (s *session) fail(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	s.hub.logger.Printf("stream session %s: %v", s.id, err)
	s.closeWith(websocket.CloseInternalServerErr, "stream error")
}

func (s *session) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
