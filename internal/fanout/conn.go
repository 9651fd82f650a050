package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/ajith4Tech/rforum/internal/domain"
)

// clientConn owns the write side of one WebSocket. Frames queued by Send are
// written by run, the only goroutine that writes data frames; control frames
// go through WriteControl, which gorilla allows concurrently. Socket
// deadlines are wall-clock; the clock only drives the ping ticker.
type clientConn struct {
	id    string
	ws    *websocket.Conn
	clock clockwork.Clock
	opts  Options

	send   chan []byte
	done   chan struct{}
	exited chan struct{}

	closeOnce sync.Once
}

func newClientConn(id string, ws *websocket.Conn, clock clockwork.Clock, opts Options) *clientConn {
	return &clientConn{
		id:     id,
		ws:     ws,
		clock:  clock,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (c *clientConn) ID() string { return c.id }

// Send queues payload without blocking. A full queue means the client cannot
// keep up and the connection should be dropped.
func (c *clientConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return domain.ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return domain.ErrConnClosed
	default:
		return domain.ErrSlowConsumer
	}
}

// Close closes the socket with a normal closure frame.
func (c *clientConn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

// Evict drops the connection after a failed send and returns at once. The
// writer may be blocked on a client that stopped reading, so the close frame
// and socket teardown happen on their own goroutine once it exits.
func (c *clientConn) Evict(cause error) {
	c.closeOnce.Do(func() {
		close(c.done)
		go c.finish(websocket.ClosePolicyViolation, evictReason(cause))
	})
}

func evictReason(cause error) string {
	if errors.Is(cause, domain.ErrSlowConsumer) {
		return "slow consumer"
	}
	return "send failed"
}

// Done is closed once the connection starts closing.
func (c *clientConn) Done() <-chan struct{} { return c.done }

// closeWith stops the writer, sends a close frame with code and reason and
// closes the socket. Only the first call has an effect.
func (c *clientConn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.finish(code, reason)
	})
}

// finish waits for the writer, then sends the close frame and closes the
// socket.
func (c *clientConn) finish(code int, reason string) {
	<-c.exited
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
	_ = c.ws.Close()
}

// closeWithoutWriter is closeWith for a connection whose run loop was never
// started.
func (c *clientConn) closeWithoutWriter(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
		_ = c.ws.Close()
	})
}

// run writes queued frames and pings until the connection closes or a write
// fails. It must be started exactly once; closeWith and Evict wait for it to
// exit before writing the close frame.
func (c *clientConn) run(context.Context) error {
	defer func() {
		close(c.exited)
		c.closeWith(websocket.CloseGoingAway, "")
	}()

	ticker := c.clock.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		case <-ticker.Chan():
			deadline := time.Now().Add(c.opts.WriteWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		case <-c.done:
			return nil
		}
	}
}

// armReadDeadline makes reads fail when neither a frame nor a pong arrives
// within PongWait.
func (c *clientConn) armReadDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
}

func (c *clientConn) configureReads() {
	c.ws.SetReadLimit(c.opts.MaxMessageBytes)
	c.armReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.armReadDeadline()
		return nil
	})
}

// Options tunes per-connection behaviour.
type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	WriteWait       time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	PublishTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:      64,
		MaxMessageBytes: 64 << 10,
		WriteWait:       5 * time.Second,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		PublishTimeout:  2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = d.MaxMessageBytes
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = d.PublishTimeout
	}
	return o
}
