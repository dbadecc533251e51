package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	maxFrameBytes  = 64 * 1024
)

// Client is one live websocket connection, owned exclusively by the process
// that accepted it. It carries the validated identity and a buffered send
// channel drained by its write pump.
type Client struct {
	id       string
	identity string
	conn     *websocket.Conn

	// sendMu orders enqueue against close: a delivery that snapshotted this
	// client before a concurrent disconnect must observe closed instead of
	// sending on a closed channel.
	sendMu sync.Mutex
	send   chan []byte
	closed bool

	// retired is set by Registry.Unregister under the registry lock; a
	// retired handle can never re-enter the registry.
	retired bool
}

func newClient(conn *websocket.Conn, identity string) *Client {
	if conn != nil {
		conn.SetReadLimit(maxFrameBytes)
	}
	return &Client{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}
}

// Identity returns the subject this connection authenticated as.
func (c *Client) Identity() string { return c.identity }

// enqueue hands a frame to the write pump without blocking. A full buffer
// means the client cannot keep up; the frame is dropped (best-effort
// delivery) and the caller is told so. Enqueue on a closed client is a
// no-op, never a panic.
func (c *Client) enqueue(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once, which terminates the write
// pump.
func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump reads frames and hands them to the handler until the transport
// closes. Closing the transport is the only cancellation signal a
// connection has; it triggers the full disconnect cascade.
func (c *Client) readPump(h *Handler) {
	defer func() {
		h.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				slog.Warn("Unexpected websocket close", "conn", c.id, "user", c.identity, "error", err)
			}
			return
		}
		h.dispatch(c, raw)
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
