package fanout

import (
	"sort"
	"sync"

	"github.com/ajith4Tech/rforum/internal/domain"
)

// Conn is a registered connection. Send and Evict must not block.
type Conn interface {
	ID() string
	Send(payload []byte) error
	// Evict closes a connection whose send failed with cause.
	Evict(cause error)
}

// SendResult is the outcome of one send during a broadcast.
type SendResult struct {
	ConnID string
	Err    error
}

// BroadcastReport summarizes one Broadcast call.
type BroadcastReport struct {
	Results   []SendResult
	Delivered int
	Pruned    int
}

// Registry maps channels to their local connections.
type Registry struct {
	mu            sync.RWMutex
	channels      map[string]map[Conn]struct{}
	maxPerChannel int
}

// NewRegistry returns an empty registry. maxPerChannel <= 0 means unlimited.
func NewRegistry(maxPerChannel int) *Registry {
	return &Registry{
		channels:      make(map[string]map[Conn]struct{}),
		maxPerChannel: maxPerChannel,
	}
}

// Connect adds conn to the channel, creating the channel on first use.
// Registering the same handle twice is a no-op.
func (r *Registry) Connect(channel string, conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.channels[channel]
	if _, dup := conns[conn]; dup {
		return nil
	}
	if r.maxPerChannel > 0 && len(conns) >= r.maxPerChannel {
		return domain.ErrChannelFull
	}
	if !ok {
		conns = make(map[Conn]struct{})
		r.channels[channel] = conns
	}
	conns[conn] = struct{}{}
	return nil
}

// Disconnect removes conn and drops the channel once it is empty. It
// reports whether conn was registered.
func (r *Registry) Disconnect(channel string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.channels[channel]
	if !ok {
		return false
	}
	if _, ok := conns[conn]; !ok {
		return false
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.channels, channel)
	}
	return true
}

// Broadcast sends payload to a snapshot of the channel's connections.
// Connections whose send fails are disconnected and evicted after the pass.
func (r *Registry) Broadcast(channel string, payload []byte) BroadcastReport {
	targets := r.snapshot(channel)

	report := BroadcastReport{Results: make([]SendResult, 0, len(targets))}
	type failure struct {
		conn Conn
		err  error
	}
	var failed []failure
	for _, conn := range targets {
		err := conn.Send(payload)
		report.Results = append(report.Results, SendResult{ConnID: conn.ID(), Err: err})
		if err != nil {
			failed = append(failed, failure{conn, err})
			continue
		}
		report.Delivered++
	}

	for _, f := range failed {
		if r.Disconnect(channel, f.conn) {
			report.Pruned++
		}
		f.conn.Evict(f.err)
	}
	return report
}

func (r *Registry) snapshot(channel string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.channels[channel]
	out := make([]Conn, 0, len(conns))
	for conn := range conns {
		out = append(out, conn)
	}
	return out
}

// Count returns the number of connections on channel.
func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

// Channels lists channels with at least one connection, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.channels))
	for channel := range r.channels {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of connections across all channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conns := range r.channels {
		n += len(conns)
	}
	return n
}
