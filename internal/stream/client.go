package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"agent-rep/internal/domain"
)

// ClientConfig configures client reconnect behavior.
type ClientConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// ReadTimeout is reset by every message and every server ping.
	ReadTimeout time.Duration
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// Buffer is the capacity of the Events channel.
	Buffer int
	Logger *log.Logger
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		Buffer:            256,
	}
}

// Client follows a hub and survives disconnects by resuming from the last
// sequence it delivered. Durable events are delivered at most once and in
// sequence order.
type Client struct {
	endpoint string
	filter   Filter
	config   ClientConfig
	logger   *log.Logger

	events  chan domain.Envelope
	last    atomic.Int64
	session atomic.Value // string

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool
	done   chan struct{}
}

// NewClient creates a client for a ws:// or wss:// hub endpoint. req.After
// is the starting position, negative for live only.
func NewClient(endpoint string, req Request, config *ClientConfig) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	cfg := DefaultClientConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	c := &Client{
		endpoint: endpoint,
		filter:   req.Filter,
		config:   cfg,
		logger:   cfg.Logger,
		events:   make(chan domain.Envelope, cfg.Buffer),
		done:     make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}
	c.last.Store(req.After)
	c.session.Store("")
	return c, nil
}

// Events delivers received events. It is closed when Run returns.
func (c *Client) Events() <-chan domain.Envelope { return c.events }

// Last returns the highest durable sequence delivered, or the starting
// position before anything arrived.
func (c *Client) Last() int64 { return c.last.Load() }

// Session returns the id the hub assigned to the current connection.
func (c *Client) Session() string { return c.session.Load().(string) }

// Run connects and reconnects with exponential backoff until ctx is done
// or Close is called.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	delay := c.config.ReconnectDelay
	for {
		received, err := c.follow(ctx)
		if c.closed.Load() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = c.config.ReconnectDelay
		}
		c.logger.Printf("stream disconnected (%v), reconnecting in %s from sequence %d", err, delay, c.Last())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// Close stops Run and closes the connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.conn.Close()
	}
	return nil
}

// follow runs one connection. received reports whether any frame arrived.
func (c *Client) follow(ctx context.Context) (received bool, err error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-c.done:
		case <-stop:
		}
	}()

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		received = true
		if err := c.handle(ctx, message); err != nil {
			return received, err
		}
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	q := Request{After: c.Last(), Filter: c.filter}.Encode()
	for k, v := range u.Query() {
		if _, ok := q[k]; !ok {
			q[k] = v
		}
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return nil, errors.New("client closed")
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) handle(ctx context.Context, message []byte) error {
	var f Frame
	if err := json.Unmarshal(message, &f); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	switch f.Kind {
	case FrameHello:
		c.session.Store(f.Session)
		// A live-only start is pinned to the hub's position so a reconnect resumes from it.
		if c.last.Load() < 0 {
			c.last.Store(f.Latest)
		}
		return nil
	case FrameEvent:
		if f.Event == nil {
			return errors.New("event frame without event")
		}
		env := *f.Event
		if env.Sequence > 0 && env.Sequence <= c.last.Load() {
			return nil
		}
		select {
		case c.events <- env:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return errors.New("client closed")
		}
		if env.Sequence > 0 {
			c.last.Store(env.Sequence)
		}
		return nil
	default:
		c.logger.Printf("ignoring frame kind %q", f.Kind)
		return nil
	}
}
