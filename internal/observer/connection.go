// ABOUTME: One observer WebSocket with a buffered write loop and ping/pong liveness
// ABOUTME: Closes itself after repeated missed pongs or when the send buffer overflows

package observer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// CloseMissedPongs is the close code sent when a client stops answering pings.
const CloseMissedPongs = websocket.ClosePolicyViolation

var errConnectionClosed = errors.New("connection closed")

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel.
type Connection struct {
	ID      string
	Subject string

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      sync.Once
	missed    atomic.Int32
	interval  time.Duration
	maxMissed int32
}

func newConnection(ws *websocket.Conn, subject string, cfg Config) *Connection {
	c := &Connection{
		ID:        uuid.NewString(),
		Subject:   subject,
		ws:        ws,
		send:      make(chan []byte, cfg.SendBuffer),
		done:      make(chan struct{}),
		interval:  cfg.PingInterval,
		maxMissed: int32(cfg.MaxMissedPongs),
	}

	// The read deadline backs up the miss counter and fires one interval later.
	deadline := c.interval * time.Duration(cfg.MaxMissedPongs+2)
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		c.missed.Store(0)
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})
	return c
}

// Send enqueues payload for delivery. A full buffer closes the connection.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.done:
		return errConnectionClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// Close sends a close frame and tears down the socket. Safe to call more than once.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if c.missed.Load() >= c.maxMissed {
				c.Close(CloseMissedPongs, "missed pongs")
				return
			}
			c.missed.Add(1)
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
