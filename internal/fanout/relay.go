package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ajith4Tech/rforum/internal/adapter/metrics"
	"github.com/ajith4Tech/rforum/internal/domain"
)

const unsubscribeTimeout = 5 * time.Second

// relay forwards one channel's bus stream to the local registry. It lives
// while at least one session holds a lease on it.
type relay struct {
	channel string
	refs    int
	err     error

	ready        chan struct{}
	failed       chan struct{}
	done         chan struct{}
	unsubscribed chan struct{}

	stream <-chan []byte
	cancel context.CancelFunc
}

func newRelay(channel string) *relay {
	return &relay{
		channel:      channel,
		ready:        make(chan struct{}),
		failed:       make(chan struct{}),
		done:         make(chan struct{}),
		unsubscribed: make(chan struct{}),
	}
}

// lease is one session's claim on a channel relay.
type lease struct {
	hub   *Hub
	relay *relay
	once  sync.Once
	err   error
}

// Failed is closed when the relay lost its bus subscription.
func (l *lease) Failed() <-chan struct{} { return l.relay.failed }

// Release drops the claim. The last release stops the relay and unsubscribes.
func (l *lease) Release() error {
	l.once.Do(func() { l.err = l.hub.release(l.relay) })
	return l.err
}

// acquire returns a lease on the channel's relay, subscribing on first use.
func (h *Hub) acquire(ctx context.Context, channel string) (*lease, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, domain.ErrHubClosed
	}

	if r, ok := h.relays[channel]; ok {
		r.refs++
		h.mu.Unlock()

		select {
		case <-r.ready:
		case <-ctx.Done():
			_ = h.release(r)
			return nil, ctx.Err()
		}
		if r.err != nil {
			_ = h.release(r)
			return nil, r.err
		}
		return &lease{hub: h, relay: r}, nil
	}

	r := newRelay(channel)
	r.refs = 1
	h.relays[channel] = r
	previous := h.draining[channel]
	h.mu.Unlock()

	if previous != nil {
		<-previous.unsubscribed
	}

	stream, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.mu.Lock()
		if h.relays[channel] == r {
			delete(h.relays, channel)
		}
		r.err = fmt.Errorf("subscribe to channel %q: %w", channel, err)
		h.mu.Unlock()
		close(r.ready)
		return nil, r.err
	}

	rctx, cancel := context.WithCancel(h.ctx)
	r.stream = stream
	r.cancel = cancel
	h.metrics.ActiveSubscriptions.Inc()
	go h.runRelay(rctx, r)
	close(r.ready)

	slog.Debug("Subscribed to channel", "channel", channel, "topic", domain.Topic(channel))
	return &lease{hub: h, relay: r}, nil
}

func (h *Hub) release(r *relay) error {
	h.mu.Lock()
	r.refs--
	if r.refs > 0 || r.err != nil {
		h.mu.Unlock()
		return nil
	}
	current := h.relays[r.channel] == r
	if current {
		delete(h.relays, r.channel)
		h.draining[r.channel] = r
	}
	h.mu.Unlock()

	r.cancel()
	<-r.done

	if !current {
		return nil
	}
	return h.unsubscribe(r)
}

// unsubscribe drops the bus subscription of a relay that is no longer
// current and lets a successor on the same channel subscribe afresh.
func (h *Hub) unsubscribe(r *relay) error {
	defer func() {
		h.mu.Lock()
		if h.draining[r.channel] == r {
			delete(h.draining, r.channel)
		}
		h.mu.Unlock()
		close(r.unsubscribed)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := h.bus.Unsubscribe(ctx, r.channel); err != nil {
		return fmt.Errorf("unsubscribe from channel %q: %w", r.channel, err)
	}
	slog.Debug("Unsubscribed from channel", "channel", r.channel)
	return nil
}

func (h *Hub) runRelay(ctx context.Context, r *relay) {
	defer close(r.done)
	defer h.metrics.ActiveSubscriptions.Dec()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-r.stream:
			if !ok {
				if ctx.Err() == nil {
					h.relayLost(r)
				}
				return
			}
			h.relayPayload(ctx, r.channel, payload)
		}
	}
}

// relayLost detaches a relay whose stream ended underneath it. Sessions
// holding leases see Failed and close their connections, so clients
// reconnect onto a fresh subscription.
func (h *Hub) relayLost(r *relay) {
	h.metrics.RelayFailures.Inc()
	slog.Error("Bus subscription lost, closing channel connections",
		"channel", r.channel, "connections", h.registry.Count(r.channel))

	h.mu.Lock()
	current := h.relays[r.channel] == r
	if current {
		delete(h.relays, r.channel)
		h.draining[r.channel] = r
	}
	h.mu.Unlock()

	close(r.failed)
	if current {
		if err := h.unsubscribe(r); err != nil {
			slog.Warn("Failed to clean up lost subscription", "channel", r.channel, "error", err)
		}
	}
}

func (h *Hub) relayPayload(ctx context.Context, channel string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "Relay panicked on payload", "channel", channel, "panic", rec)
		}
	}()

	msg, err := domain.DecodeMessage(payload)
	if err != nil {
		h.metrics.MalformedFrames.WithLabelValues(metrics.SourceBus).Inc()
		slog.DebugContext(ctx, "Dropped malformed bus payload", "channel", channel, "error", err)
		return
	}
	if h.origin.IsOwn(msg) {
		h.metrics.EchoesSuppressed.Inc()
		return
	}

	h.metrics.MessagesRelayed.Inc()
	h.broadcast(ctx, channel, payload)
}
