package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ajith4Tech/rforum/internal/adapter/metrics"
	"github.com/ajith4Tech/rforum/internal/domain"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var errRelayLost = errors.New("channel relay lost")

// Session handles one accepted connection on one channel. It is single use.
type Session struct {
	hub     *Hub
	channel string
	ws      *websocket.Conn
	conn    *clientConn
	state   atomic.Int32
	served  atomic.Bool
}

// NewSession wraps an upgraded socket for channel. Call Serve to run it.
func (h *Hub) NewSession(channel string, ws *websocket.Conn) *Session {
	s := &Session{
		hub:     h,
		channel: channel,
		ws:      ws,
		conn:    newClientConn(uuid.NewString(), ws, h.clock, h.opts),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) ConnID() string { return s.conn.ID() }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Serve registers the connection, relays frames until the connection
// closes, then releases everything it acquired. It returns the error that
// ended the session, if any, joined with cleanup errors.
func (s *Session) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		return errors.New("session already served")
	}

	if err := s.hub.track(); err != nil {
		s.conn.closeWithoutWriter(websocket.CloseGoingAway, "server shutting down")
		s.setState(StateClosed)
		return err
	}
	defer s.hub.sessions.Done()

	log := slog.With("channel", s.channel, "conn_id", s.conn.ID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.conn.run(gctx) })

	if err := s.hub.registry.Connect(s.channel, s.conn); err != nil {
		s.conn.closeWith(websocket.CloseTryAgainLater, "session is full")
		_ = g.Wait()
		s.setState(StateClosed)
		return fmt.Errorf("register connection: %w", err)
	}
	s.hub.updateGauges()

	lease, err := s.hub.acquire(ctx, s.channel)
	if err != nil {
		s.hub.registry.Disconnect(s.channel, s.conn)
		s.hub.updateGauges()
		s.conn.closeWith(websocket.CloseInternalServerErr, "subscription failed")
		_ = g.Wait()
		s.setState(StateClosed)
		return err
	}

	s.setState(StateActive)
	log.DebugContext(ctx, "Session active")

	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.watch(gctx, lease) })
	runErr := g.Wait()

	s.setState(StateClosing)
	cleanupErr := s.cleanup(lease)
	s.setState(StateClosed)

	if cleanupErr != nil {
		log.WarnContext(ctx, "Session cleanup incomplete", "error", cleanupErr)
	}
	log.DebugContext(ctx, "Session closed", "reason", runErr)
	return errors.Join(runErr, cleanupErr)
}

// watch ends the session when the server shuts down, the relay fails or
// the session context is done.
func (s *Session) watch(ctx context.Context, l *lease) error {
	select {
	case <-s.conn.Done():
		return nil
	case <-s.hub.ctx.Done():
		s.conn.closeWith(websocket.CloseGoingAway, "server shutting down")
		return nil
	case <-l.Failed():
		s.conn.closeWith(websocket.CloseTryAgainLater, errRelayLost.Error())
		return errRelayLost
	case <-ctx.Done():
		s.conn.closeWith(websocket.CloseGoingAway, "")
		return nil
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	defer s.conn.closeWith(websocket.CloseNormalClosure, "")

	s.conn.configureReads()
	for {
		kind, data, err := s.ws.ReadMessage()
		if err != nil {
			select {
			case <-s.conn.Done():
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		s.conn.armReadDeadline()

		if kind != websocket.TextMessage {
			continue
		}
		s.handleInbound(ctx, data)
	}
}

// handleInbound broadcasts a client frame locally and publishes it for the
// other processes. The local broadcast includes the sender.
func (s *Session) handleInbound(ctx context.Context, data []byte) {
	h := s.hub

	msg, err := domain.DecodeMessage(data)
	if err != nil {
		h.metrics.MalformedFrames.WithLabelValues(metrics.SourceClient).Inc()
		slog.DebugContext(ctx, "Ignored malformed client frame", "channel", s.channel, "error", err)
		return
	}
	h.origin.Stamp(msg)

	payload, err := msg.Encode()
	if err != nil {
		h.metrics.MalformedFrames.WithLabelValues(metrics.SourceClient).Inc()
		return
	}

	h.metrics.MessagesReceived.Inc()
	h.broadcast(ctx, s.channel, payload)

	pubCtx, cancel := context.WithTimeout(ctx, h.opts.PublishTimeout)
	defer cancel()
	if err := h.bus.Publish(pubCtx, s.channel, payload); err != nil {
		h.metrics.PublishFailures.Inc()
		slog.WarnContext(ctx, "Publish failed, message delivered locally only", "channel", s.channel, "error", err)
		return
	}
	h.metrics.MessagesPublished.Inc()
}

// cleanup runs every teardown step even when an earlier one fails.
func (s *Session) cleanup(l *lease) error {
	err := errors.Join(
		safely("release subscription", l.Release),
		safely("unregister connection", func() error {
			s.hub.registry.Disconnect(s.channel, s.conn)
			s.hub.updateGauges()
			return nil
		}),
		safely("close socket", s.conn.Close),
	)
	return err
}

func safely(step string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s: panic: %v", step, rec)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}
