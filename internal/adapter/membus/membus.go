// Package membus is an in-process domain.Bus. A Broker stands in for the
// shared Redis server and every Client plays one server process, which lets
// several hubs fan out to each other inside one binary or test.
package membus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ajith4Tech/rforum/internal/domain"
)

const streamBuffer = 256

// Broker routes payloads between the clients attached to it.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan []byte
}

// NewBroker returns a broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan []byte)}
}

// publish copies payload to every subscriber of topic. A subscriber whose
// buffer is full misses the message, like a Redis client over its output limit.
func (b *Broker) publish(topic string, payload []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subs[topic] {
		select {
		case ch <- append([]byte(nil), payload...):
			delivered++
		default:
		}
	}
	return delivered
}

func (b *Broker) subscribe(topic string) (int, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[topic]; !ok {
		b.subs[topic] = make(map[int]chan []byte)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan []byte, streamBuffer)
	b.subs[topic][id] = ch
	return id, ch
}

func (b *Broker) unsubscribe(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byID, ok := b.subs[topic]
	if !ok {
		return
	}
	if ch, exists := byID[id]; exists {
		delete(byID, id)
		close(ch)
	}
	if len(byID) == 0 {
		delete(b.subs, topic)
	}
}

// Subscribers reports how many streams are attached to the channel's topic.
func (b *Broker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[domain.Topic(channel)])
}

// Disconnect closes every stream on the channel's topic, as if the
// subscriptions had died.
func (b *Broker) Disconnect(channel string) {
	topic := domain.Topic(channel)

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs[topic] {
		delete(b.subs[topic], id)
		close(ch)
	}
	delete(b.subs, topic)
}

// Client is one process's view of the broker.
type Client struct {
	broker *Broker

	mu         sync.Mutex
	subs       map[string]int
	publishErr error
}

var _ domain.Bus = (*Client)(nil)

func (b *Broker) Client() *Client {
	return &Client{broker: b, subs: make(map[string]int)}
}

func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.publishErr
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", domain.Topic(channel), err)
	}

	c.broker.publish(domain.Topic(channel), payload)
	return nil
}

func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[channel]; ok {
		return nil, fmt.Errorf("%s: %w", domain.Topic(channel), domain.ErrAlreadySubscribed)
	}
	id, ch := c.broker.subscribe(domain.Topic(channel))
	c.subs[channel] = id
	return ch, nil
}

func (c *Client) Unsubscribe(_ context.Context, channel string) error {
	c.mu.Lock()
	id, ok := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()

	if ok {
		c.broker.unsubscribe(domain.Topic(channel), id)
	}
	return nil
}

// FailPublishes makes every Publish return err until called with nil.
func (c *Client) FailPublishes(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}
