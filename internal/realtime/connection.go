// Package realtime pushes badge updates and conversation events to connected
// UI clients over websockets. It is the delivery side only: what gets pushed
// is decided by the badge aggregator and the event bus.
package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Conn wraps a websocket and serializes outbound writes through a buffered
// channel. One Conn belongs to one user session.
type Conn struct {
	ID     string
	UserID string

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewConn constructs a Conn for the given user.
func NewConn(userID string, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Start launches the write loop. Call exactly once per connection.
func (c *Conn) Start() {
	go c.writeLoop()
}

// Send enqueues payload for delivery. A client too slow to drain its buffer
// is disconnected to keep backpressure bounded; it will resync on reconnect.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("send buffer full")
	}
}

// Close terminates the connection and stops the write loop. Idempotent.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Done is closed when the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
