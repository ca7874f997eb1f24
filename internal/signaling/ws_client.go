package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/communehq/callcore/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// Dialer abstracts websocket.Dialer for tests.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// ClientConfig configures the WebSocket signaling client.
type ClientConfig struct {
	// URL of the signaling endpoint (ws:// or wss://).
	URL string

	// APIKey or Token authenticate the connection; the non-empty one is sent
	// as the first frame. Both empty skips the handshake.
	APIKey string
	Token  string

	// PingInterval controls keepalive pings; 0 disables them.
	PingInterval time.Duration
	// IdleTimeout bounds how long the connection may stay silent (no frames,
	// no pongs) before it is treated as lost. 0 disables the bound.
	IdleTimeout time.Duration

	// MaxMessageBytes caps inbound frame size. 0 means no cap.
	MaxMessageBytes int64
	// MaxMessagesPerSecond bounds the inbound message rate; exceeding it is
	// treated as a protocol violation and the connection is dropped.
	// 0 disables the bound.
	MaxMessagesPerSecond int

	Logger *slog.Logger
	Clock  ratelimit.Clock
}

// Client is a Channel over one WebSocket connection.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	handlers     map[Event][]Handler
	onDisconnect []func(error)
	closed       bool
	disconnected bool
	pingStop     chan struct{}
	pingInterval time.Duration
	idleTimeout  time.Duration
	limiter      *ratelimit.TokenBucket
	readLoopDone chan struct{}
}

// ErrChannelClosed is returned by Send after the channel closed or was lost.
var ErrChannelClosed = errors.New("signaling: channel closed")

// Dial connects, authenticates, and starts the read loop. Handlers should be
// registered immediately after Dial returns; messages that arrive before any
// handler is registered for their event are dropped with a warning.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	return DialWith(ctx, websocket.DefaultDialer, cfg)
}

func DialWith(ctx context.Context, dialer Dialer, cfg ClientConfig) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ratelimit.RealClock{}
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	c := &Client{
		conn:         conn,
		log:          logger,
		handlers:     make(map[Event][]Handler),
		pingStop:     make(chan struct{}),
		pingInterval: cfg.PingInterval,
		idleTimeout:  cfg.IdleTimeout,
		readLoopDone: make(chan struct{}),
	}
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	if cfg.MaxMessagesPerSecond > 0 {
		rate := int64(cfg.MaxMessagesPerSecond)
		c.limiter = ratelimit.NewTokenBucket(clock, rate, rate)
	}
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	if cfg.APIKey != "" || cfg.Token != "" {
		authMsg := Message{Event: EventAuth, APIKey: cfg.APIKey, Token: cfg.Token}
		if err := c.Send(authMsg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("send auth frame: %w", err)
		}
	}

	go c.readLoop()
	if c.pingInterval > 0 {
		go c.pingLoop()
	}
	return c, nil
}

func (c *Client) Send(msg Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid outbound message: %w", err)
	}
	c.mu.Lock()
	unusable := c.closed || c.disconnected
	c.mu.Unlock()
	if unusable {
		return ErrChannelClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write signaling message: %w", err)
	}
	return nil
}

func (c *Client) Handle(event Event, fn Handler) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

// OnDisconnect registers fn for channel loss. If the channel is already lost,
// fn runs synchronously.
func (c *Client) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		fn(ErrChannelClosed)
		return
	}
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.pingStop)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Done is closed when the read loop has exited.
func (c *Client) Done() <-chan struct{} { return c.readLoopDone }

func (c *Client) readLoop() {
	defer close(c.readLoopDone)
	c.extendReadDeadline()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.lost(fmt.Errorf("read signaling message: %w", err))
			return
		}
		c.extendReadDeadline()

		if c.limiter != nil && !c.limiter.Allow() {
			c.lost(errors.New("signaling: inbound message rate exceeded"))
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			// One malformed frame must not take down an in-flight call.
			c.log.Warn("dropping invalid signaling message", "err", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers[msg.Event]))
	copy(handlers, c.handlers[msg.Event])
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.log.Warn("no handler for signaling event", "event", msg.Event)
		return
	}
	for _, fn := range handlers {
		fn(msg)
	}
}

// lost marks the channel unusable and fires disconnect callbacks, unless the
// close was locally requested.
func (c *Client) lost(err error) {
	c.mu.Lock()
	if c.closed || c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	callbacks := make([]func(error), len(c.onDisconnect))
	copy(callbacks, c.onDisconnect)
	c.mu.Unlock()

	_ = c.conn.Close()
	c.log.Warn("signaling channel lost", "err", err)
	for _, fn := range callbacks {
		fn(err)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.pingStop:
			return
		case <-c.readLoopDone:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.lost(fmt.Errorf("keepalive ping: %w", err))
				return
			}
		}
	}
}

func (c *Client) extendReadDeadline() {
	if c.idleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
}
