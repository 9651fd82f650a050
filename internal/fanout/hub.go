package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/ajith4Tech/rforum/internal/adapter/metrics"
	"github.com/ajith4Tech/rforum/internal/domain"
)

// Hub ties the registry to the bus for one process.
type Hub struct {
	registry *Registry
	bus      domain.Bus
	origin   Origin
	metrics  *metrics.FanoutMetrics
	clock    clockwork.Clock
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	relays   map[string]*relay
	draining map[string]*relay
	closed   bool
	sessions sync.WaitGroup

	// gaugeMu orders gauge updates so the last one reflects the registry.
	gaugeMu sync.Mutex
}

// NewHub returns a hub that fans registry connections out over bus. A nil
// metrics set is replaced with an unregistered one.
func NewHub(registry *Registry, bus domain.Bus, origin Origin, m *metrics.FanoutMetrics, clock clockwork.Clock, opts Options) *Hub {
	if m == nil {
		m = metrics.NewNopFanoutMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry: registry,
		bus:      bus,
		origin:   origin,
		metrics:  m,
		clock:    clock,
		opts:     opts.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
		relays:   make(map[string]*relay),
		draining: make(map[string]*relay),
	}
}

func (h *Hub) Origin() Origin { return h.origin }

// Presence returns the number of local connections on channel.
func (h *Hub) Presence(channel string) int { return h.registry.Count(channel) }

// ChannelCount returns the number of channels with local connections.
func (h *Hub) ChannelCount() int { return len(h.registry.Channels()) }

// Subscribed reports whether this process holds a bus subscription for channel.
func (h *Hub) Subscribed(channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.relays[channel]
	if !ok {
		return false
	}
	select {
	case <-r.ready:
		return r.err == nil
	default:
		return false
	}
}

// Serve runs a session for an upgraded connection until it closes.
func (h *Hub) Serve(ctx context.Context, channel string, ws *websocket.Conn) error {
	return h.NewSession(channel, ws).Serve(ctx)
}

// Shutdown closes every session with 1001 and waits for their cleanup to
// finish or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Fan-out hub stopped", "origin", h.origin.String())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}

// track registers a starting session, failing once Shutdown has begun.
func (h *Hub) track() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.ErrHubClosed
	}
	h.sessions.Add(1)
	return nil
}

// broadcast delivers payload to the channel's local connections.
func (h *Hub) broadcast(ctx context.Context, channel string, payload []byte) {
	report := h.registry.Broadcast(channel, payload)
	h.metrics.MessagesDelivered.Add(float64(report.Delivered))
	if report.Pruned == 0 {
		return
	}

	h.metrics.PrunedConnections.Add(float64(report.Pruned))
	h.updateGauges()
	for _, res := range report.Results {
		if res.Err != nil {
			slog.DebugContext(ctx, "Dropped connection after failed send",
				"channel", channel, "conn_id", res.ConnID, "error", res.Err)
		}
	}
}

func (h *Hub) updateGauges() {
	h.gaugeMu.Lock()
	defer h.gaugeMu.Unlock()
	h.metrics.ActiveConnections.Set(float64(h.registry.Len()))
	h.metrics.ActiveChannels.Set(float64(len(h.registry.Channels())))
}
