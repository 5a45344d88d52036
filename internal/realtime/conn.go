package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 25 * time.Second
	sendBufferSize = 64
)

var errConnClosed = errors.New("connection closed")
var errBufferFull = errors.New("send buffer full")

// socket is the subset of *websocket.Conn the pump needs. Tests substitute
// an in-memory implementation.
type socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn wraps one websocket with a buffered outbound channel. All writes
// funnel through the pump goroutine, so Send is safe from any goroutine and
// never blocks: when the buffer is full the frame is dropped and an error
// returned, keeping backpressure bounded (at-most-once, best-effort).
type Conn struct {
	ID string

	ws   socket
	send chan []byte
	once sync.Once
	done chan struct{}
}

func NewConn(ws socket) *Conn {
	return &Conn{
		ID:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Start launches the write pump. Called exactly once, by Hub.Attach.
func (c *Conn) Start() {
	go c.writePump()
}

// Send enqueues a frame for delivery.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errBufferFull
	}
}

// Close stops the pump and closes the underlying socket. Idempotent.
func (c *Conn) Close(reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		_ = c.ws.Close()
	})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close("ping failed")
				return
			}
		}
	}
}
