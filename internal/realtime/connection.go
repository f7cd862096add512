// Package realtime wraps inbox WebSocket connections.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// ReadTimeout is how long a client may stay silent before the connection
	// is dropped. Pongs extend it.
	ReadTimeout = 60 * time.Second
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("connection buffer exceeded")
)

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel. Send is safe for concurrent use.
type Connection struct {
	ID     string
	UserID uuid.UUID

	ws      *websocket.Conn
	send    chan []byte
	once    sync.Once
	closing chan struct{}
	done    chan struct{}
}

// NewConnection constructs a Connection for the given user.
func NewConnection(userID uuid.UUID, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:      uuid.NewString(),
		UserID:  userID,
		ws:      ws,
		send:    make(chan []byte, 128),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once per connection.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload for delivery without blocking. A slow client whose
// buffer is full is disconnected.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrBufferFull
	}
}

// SendJSON encodes v and sends it.
func (c *Connection) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Closed is closed once the connection starts shutting down.
func (c *Connection) Closed() <-chan struct{} {
	return c.closing
}

// Close sends a close frame and closes the socket. Later calls are no-ops.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closing)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Wait blocks until the write loop has exited.
func (c *Connection) Wait() {
	<-c.done
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
	}()

	for {
		select {
		case <-c.closing:
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

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
