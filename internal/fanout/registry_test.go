package fanout

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajith4Tech/rforum/internal/domain"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	evicted []error
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Evict(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = append(c.evicted, cause)
}

func (c *fakeConn) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, p := range c.sent {
		out[i] = string(p)
	}
	return out
}

func (c *fakeConn) evictions() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.evicted...)
}

func TestRegistry_ConnectCreatesChannel(t *testing.T) {
	r := NewRegistry(0)
	a := newFakeConn("a")

	require.NoError(t, r.Connect("S1", a))
	assert.Equal(t, 1, r.Count("S1"))
	assert.Equal(t, []string{"S1"}, r.Channels())
}

func TestRegistry_ConnectIsIdentityBased(t *testing.T) {
	r := NewRegistry(0)
	a := newFakeConn("a")
	twin := newFakeConn("a")

	require.NoError(t, r.Connect("S1", a))
	require.NoError(t, r.Connect("S1", a))
	assert.Equal(t, 1, r.Count("S1"), "same handle is stored once")

	require.NoError(t, r.Connect("S1", twin))
	assert.Equal(t, 2, r.Count("S1"), "distinct handles are distinct even with equal IDs")
}

func TestRegistry_DisconnectRemovesEmptyChannel(t *testing.T) {
	r := NewRegistry(0)
	a, b := newFakeConn("a"), newFakeConn("b")
	require.NoError(t, r.Connect("S1", a))
	require.NoError(t, r.Connect("S1", b))

	assert.True(t, r.Disconnect("S1", a))
	assert.Equal(t, 1, r.Count("S1"))

	assert.True(t, r.Disconnect("S1", b))
	assert.Empty(t, r.Channels())
	assert.Zero(t, r.Len())
}

func TestRegistry_DisconnectIsIdempotent(t *testing.T) {
	r := NewRegistry(0)
	a := newFakeConn("a")
	require.NoError(t, r.Connect("S1", a))

	assert.True(t, r.Disconnect("S1", a))
	assert.False(t, r.Disconnect("S1", a))
	assert.False(t, r.Disconnect("unknown", a))
	assert.Empty(t, r.Channels())
}

func TestRegistry_BroadcastReachesEveryConnection(t *testing.T) {
	r := NewRegistry(0)
	a, b, other := newFakeConn("a"), newFakeConn("b"), newFakeConn("other")
	require.NoError(t, r.Connect("S1", a))
	require.NoError(t, r.Connect("S1", b))
	require.NoError(t, r.Connect("S2", other))

	report := r.Broadcast("S1", []byte(`{"x":1}`))

	assert.Equal(t, 2, report.Delivered)
	assert.Zero(t, report.Pruned)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, []string{`{"x":1}`}, a.messages())
	assert.Equal(t, []string{`{"x":1}`}, b.messages())
	assert.Empty(t, other.messages(), "channels are isolated")
}

func TestRegistry_BroadcastPrunesFailedConnections(t *testing.T) {
	r := NewRegistry(0)
	a, dead, c := newFakeConn("a"), newFakeConn("dead"), newFakeConn("c")
	dead.failWith(domain.ErrSlowConsumer)
	for _, conn := range []*fakeConn{a, dead, c} {
		require.NoError(t, r.Connect("S1", conn))
	}

	report := r.Broadcast("S1", []byte(`{"n":1}`))

	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, report.Pruned)
	assert.Equal(t, 2, r.Count("S1"))
	evictions := dead.evictions()
	require.Len(t, evictions, 1)
	assert.ErrorIs(t, evictions[0], domain.ErrSlowConsumer)
	assert.Empty(t, a.evictions())
	assert.Equal(t, []string{`{"n":1}`}, a.messages())
	assert.Equal(t, []string{`{"n":1}`}, c.messages())

	var failures []SendResult
	for _, res := range report.Results {
		if res.Err != nil {
			failures = append(failures, res)
		}
	}
	require.Len(t, failures, 1)
	assert.Equal(t, "dead", failures[0].ConnID)
	assert.ErrorIs(t, failures[0].Err, domain.ErrSlowConsumer)
}

func TestRegistry_BroadcastAllFailRemovesChannel(t *testing.T) {
	r := NewRegistry(0)
	a, b := newFakeConn("a"), newFakeConn("b")
	a.failWith(errors.New("broken pipe"))
	b.failWith(errors.New("broken pipe"))
	require.NoError(t, r.Connect("S1", a))
	require.NoError(t, r.Connect("S1", b))

	report := r.Broadcast("S1", []byte(`{}`))

	assert.Zero(t, report.Delivered)
	assert.Equal(t, 2, report.Pruned)
	assert.Empty(t, r.Channels())
}

func TestRegistry_BroadcastUnknownChannel(t *testing.T) {
	report := NewRegistry(0).Broadcast("missing", []byte(`{}`))
	assert.Empty(t, report.Results)
	assert.Zero(t, report.Delivered)
}

func TestRegistry_PerChannelLimit(t *testing.T) {
	r := NewRegistry(2)
	require.NoError(t, r.Connect("S1", newFakeConn("a")))
	require.NoError(t, r.Connect("S1", newFakeConn("b")))

	err := r.Connect("S1", newFakeConn("c"))
	assert.ErrorIs(t, err, domain.ErrChannelFull)
	assert.Equal(t, 2, r.Count("S1"))

	require.NoError(t, r.Connect("S2", newFakeConn("d")), "limit is per channel")
}

// A send that re-enters the registry must not deadlock: broadcasts iterate a
// snapshot taken under the read lock.
type reentrantConn struct {
	*fakeConn
	r       *Registry
	channel string
}

func (c *reentrantConn) Send(payload []byte) error {
	c.r.Disconnect(c.channel, c)
	return c.fakeConn.Send(payload)
}

func TestRegistry_BroadcastSendMayMutateRegistry(t *testing.T) {
	r := NewRegistry(0)
	self := &reentrantConn{fakeConn: newFakeConn("leaver"), r: r, channel: "S1"}
	stay := newFakeConn("stay")
	require.NoError(t, r.Connect("S1", self))
	require.NoError(t, r.Connect("S1", stay))

	report := r.Broadcast("S1", []byte(`{}`))

	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, r.Count("S1"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(0)
	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := newFakeConn(fmt.Sprintf("c%d", i))
			channel := fmt.Sprintf("S%d", i%3)
			for range 50 {
				_ = r.Connect(channel, conn)
				r.Broadcast(channel, []byte(`{}`))
				r.Disconnect(channel, conn)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, r.Len())
	assert.Empty(t, r.Channels())
}
