package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ajith4Tech/rforum/internal/domain"
)

const (
	streamBuffer = 64

	// healthCheckInterval is how long a subscription may stay silent before
	// it is pinged.
	healthCheckInterval = 15 * time.Second
	maxMissedPings      = 2
)

// Bus implements domain.Bus on Redis Pub/Sub. Every subscribed channel owns
// a dedicated *goredis.PubSub so topics can be dropped independently.
//
// A stream closes after Unsubscribe or Close, and also when its connection
// fails or stops answering pings. Messages published while a connection is
// down are lost, so callers treat an unexpected close as a lost
// subscription rather than waiting for go-redis to resubscribe.
type Bus struct {
	rdb      *goredis.Client
	interval time.Duration

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

type subscription struct {
	topic string

	mu     sync.Mutex
	ps     *goredis.PubSub
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

var _ domain.Bus = (*Bus)(nil)

// NewBus returns a bus that publishes and subscribes through rdb.
func NewBus(rdb *goredis.Client) *Bus {
	return newBus(rdb, healthCheckInterval)
}

func newBus(rdb *goredis.Client, interval time.Duration) *Bus {
	return &Bus{rdb: rdb, interval: interval, subs: make(map[string]*subscription)}
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, domain.Topic(channel), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", domain.Topic(channel), err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	topic := domain.Topic(channel)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, domain.ErrHubClosed
	}
	if _, ok := b.subs[channel]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", topic, domain.ErrAlreadySubscribed)
	}
	sub := &subscription{topic: topic, done: make(chan struct{})}
	b.subs[channel] = sub
	b.mu.Unlock()

	ps := b.rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		b.forget(channel, sub)
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: unsubscribed before confirmation", topic)
	}
	sub.ps = ps

	rctx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel
	out := make(chan []byte, streamBuffer)
	go sub.receive(rctx, out, b.interval)
	return out, nil
}

func (b *Bus) forget(channel string, sub *subscription) {
	b.mu.Lock()
	if b.subs[channel] == sub {
		delete(b.subs, channel)
	}
	b.mu.Unlock()
}

// receive copies messages to out until ctx is cancelled or the connection
// is lost. A silent connection is pinged every interval; one that fails or
// misses maxMissedPings in a row ends the stream.
func (s *subscription) receive(ctx context.Context, out chan<- []byte, interval time.Duration) {
	defer close(s.done)
	defer close(out)

	missed := 0
	for {
		msg, err := s.ps.ReceiveTimeout(ctx, interval)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !isTimeout(err) || missed >= maxMissedPings {
				slog.Warn("Redis subscription lost", "topic", s.topic, "missed_pings", missed, "error", err)
				return
			}
			missed++
			if err := s.ps.Ping(ctx); err != nil {
				slog.Warn("Redis subscription lost", "topic", s.topic, "error", err)
				return
			}
			continue
		}

		missed = 0
		m, ok := msg.(*goredis.Message)
		if !ok {
			// Subscription confirmations and pongs.
			continue
		}
		select {
		case out <- []byte(m.Payload):
		case <-ctx.Done():
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Unsubscribe drops the subscription for channel. Unknown channels are a no-op.
func (b *Bus) Unsubscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	sub, ok := b.subs[channel]
	if ok {
		delete(b.subs, channel)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.close()
}

// Close drops every subscription. Further Subscribe calls fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *subscription) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ps, cancel := s.ps, s.cancel
	s.mu.Unlock()

	if ps == nil {
		// Subscribe is still waiting for confirmation and will close it.
		return nil
	}

	cancel()
	err := ps.Close()
	<-s.done
	if err != nil {
		return fmt.Errorf("close subscription: %w", err)
	}
	return nil
}
