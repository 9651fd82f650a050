package domain

import "context"

// TopicPrefix namespaces channel topics on the shared bus.
const TopicPrefix = "session:"

// Topic returns the bus topic for a channel code.
func Topic(channel string) string {
	return TopicPrefix + channel
}

// Bus propagates channel messages between server processes.
// Payloads are JSON-encoded messages including their origin tag.
type Bus interface {
	// Publish sends payload to every process subscribed to the channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe starts receiving payloads published to the channel. The
	// returned stream is closed after Unsubscribe or when the underlying
	// subscription is lost.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Unsubscribe stops the channel subscription. Unknown channels are a no-op.
	Unsubscribe(ctx context.Context, channel string) error
}
