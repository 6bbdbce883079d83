package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drivelab/copilot-sim/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	sendChSize   = 4096
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 5 * time.Second
)

// var for tests
var (
	ackTimeout     = 10 * time.Second
	initialBackoff = time.Second
)

// connection owns one dashboard socket. Telemetry goes through a bounded
// queue; snapshots go through a single slot where a newer frame replaces an
// unsent one. A pending frame is always written before the next queued
// message, so the dashboard never sees a frame after the event that followed it.
type connection struct {
	mu       sync.Mutex
	conn     *ws.Conn
	closed   bool
	startMsg []byte // replayed after a reconnect

	events     chan []byte
	frame      atomic.Pointer[[]byte]
	frameReady chan struct{}
	acks       chan streaming.AckMessage
	done       chan struct{}

	wsURL  string
	secret string

	dropped   atomic.Uint64
	coalesced atomic.Uint64

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		events:     make(chan []byte, sendChSize),
		frameReady: make(chan struct{}, 1),
		acks:       make(chan streaming.AckMessage, ackChSize),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	c.setConn(conn)
	c.startLoops()
	return nil
}

// dialOnce connects with the shared secret as a query parameter.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) setConn(conn *ws.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *connection) current() *ws.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *connection) startLoops() {
	go c.writeLoop()
	go c.readLoop()
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// writeLoop is the only writer while connected. It exits on shutdown or on a
// write error, handing over to reconnect.
func (c *connection) writeLoop() {
	for {
		var data []byte
		select {
		case <-c.done:
			return
		case data = <-c.events:
		case <-c.frameReady:
		}

		conn := c.current()
		if conn == nil {
			continue
		}
		if f := c.frame.Swap(nil); f != nil {
			if err := write(conn, *f); err != nil {
				c.logger.Warn("WebSocket write error", "error", err, "message", streaming.TypeSnapshot)
				go c.reconnect()
				return
			}
		}
		if data == nil {
			continue
		}
		if err := write(conn, data); err != nil {
			c.logger.Warn("WebSocket write error", "error", err)
			go c.reconnect()
			return
		}
	}
}

// readLoop routes acks to waiters. The dashboard sends nothing else the
// recorder acts on.
func (c *connection) readLoop() {
	for {
		conn := c.current()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect()
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Ignoring dashboard message", "raw", string(message))
			continue
		}
		select {
		case c.acks <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

// reconnect redials with exponential backoff, replays start_run so the
// dashboard attributes what follows to the right run, and restarts the loops.
func (c *connection) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	backoff := initialBackoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		start := c.startMsg
		c.mu.Unlock()
		if start != nil {
			if err := write(conn, start); err != nil {
				c.logger.Warn("Failed to replay start_run after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.setConn(conn)
		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		c.startLoops()
		return
	}

	c.logger.Error("WebSocket reconnect failed, dashboard stream stopped", "maxAttempts", maxReconnect)
}

// send queues a telemetry message without blocking; it is dropped when the
// queue is full.
func (c *connection) send(data []byte) {
	select {
	case c.events <- data:
	default:
		if n := c.dropped.Add(1); n%100 == 1 {
			c.logger.Warn("WebSocket send queue full, dropping message", "dropped", n)
		}
	}
}

// sendFrame replaces any unsent frame with data.
func (c *connection) sendFrame(data []byte) {
	if c.frame.Swap(&data) != nil {
		c.coalesced.Add(1)
	}
	select {
	case c.frameReady <- struct{}{}:
	default:
	}
}

func (c *connection) setStartMessage(data []byte) {
	c.mu.Lock()
	c.startMsg = data
	c.mu.Unlock()
}

// sendAndWait queues data and blocks until the dashboard acks msgType.
func (c *connection) sendAndWait(data []byte, msgType string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.acks:
			if ack.For == msgType {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", msgType)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", msgType)
		}
	}
}

// close sends a close frame and stops every loop. Safe to call twice.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	return conn.Close()
}
