package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	keepAliveInterval = 30 * time.Second
	reconnectDelay    = 5 * time.Second
	writeTimeout      = 5 * time.Second
	readLimit         = 1 << 20
)

// Client is a reconnecting WebSocket connection to the relay signaling
// server. One Client is created at process startup and shared by every
// consumer; it keeps itself alive (keep_alive frames, reconnect on drop)
// so callers only ever see SendMessage plus the inbound message stream.
type Client struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	online  bool
	waiters []chan struct{}
	onState func(online bool)

	messages chan Message
	closed   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewClient creates a client for the given ws:// or wss:// URL. Run must
// be called to start it.
func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:      url,
		logger:   logger,
		messages: make(chan Message, 64),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Messages returns the inbound signaling stream. The channel is closed
// when the client shuts down.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Online reports whether the server connection is currently up.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// OnStateChange registers a handler invoked on every offline→online and
// online→offline edge. At most one handler is supported; it is called
// from the client's run goroutine and must not block.
func (c *Client) OnStateChange(handler func(online bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// AwaitOnline blocks until the connection is up, ctx is cancelled, or
// the client is closed.
func (c *Client) AwaitOnline(ctx context.Context) error {
	c.mu.Lock()
	if c.online {
		c.mu.Unlock()
		return nil
	}
	wait := make(chan struct{})
	c.waiters = append(c.waiters, wait)
	c.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("signaling client closed")
	}
}

// SendMessage marshals and writes one signaling frame. It fails when the
// connection is down; callers that need delivery wait on AwaitOnline
// first.
func (c *Client) SendMessage(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.online {
		return fmt.Errorf("signaling server not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling %s message: %w", msg.Type, err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s message: %w", msg.Type, err)
	}
	return nil
}

// Run connects to the signaling server and keeps the connection alive,
// redialing every few seconds while it is down. Blocks until ctx is
// cancelled or Close is called.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.messages)
	for {
		if err := c.runOnce(ctx); err != nil {
			c.logger.Warn("signaling connection lost", "error", err, "retry_in", reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Close shuts the client down. Safe to call more than once.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
		close(c.closed)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// runOnce dials, then reads until the connection drops.
func (c *Client) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	conn.SetReadLimit(readLimit)

	c.setConn(conn)
	defer c.setConn(nil)
	c.logger.Info("signaling server connected", "url", c.url)

	stopKeepAlive := make(chan struct{})
	defer close(stopKeepAlive)
	go c.keepAlive(stopKeepAlive)

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case <-c.done:
			conn.Close()
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return fmt.Errorf("reading: %w", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed signaling frame", "error", err)
			continue
		}
		select {
		case c.messages <- msg:
		default:
			c.logger.Warn("inbound signaling queue full, dropping frame", "type", msg.Type)
		}
	}
}

// keepAlive sends keep_alive frames until stopped.
func (c *Client) keepAlive(stop <-chan struct{}) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.SendMessage(Message{Type: TypeKeepAlive}); err != nil {
				c.logger.Debug("keep_alive send failed", "error", err)
			}
		}
	}
}

// setConn swaps the active connection, updates the online flag, and
// releases any AwaitOnline waiters on the offline→online edge.
func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	wasOnline := c.online
	c.conn = conn
	c.online = conn != nil
	if c.online {
		for _, w := range c.waiters {
			close(w)
		}
		c.waiters = nil
	}
	handler := c.onState
	edge := c.online != wasOnline
	online := c.online
	c.mu.Unlock()

	if edge && handler != nil {
		handler(online)
	}
}
