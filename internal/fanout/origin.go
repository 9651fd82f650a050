package fanout

import (
	"github.com/google/uuid"

	"github.com/ajith4Tech/rforum/internal/domain"
)

// Origin identifies this process on the bus. It is generated once at
// startup and stamped on every message the process publishes.
type Origin string

// NewOrigin returns a fresh tag, "<prefix>-<uuid>" when prefix is set.
func NewOrigin(prefix string) Origin {
	id := uuid.NewString()
	if prefix == "" {
		return Origin(id)
	}
	return Origin(prefix + "-" + id)
}

func (o Origin) String() string { return string(o) }

// Stamp sets the origin key unless the message already has one. It reports
// whether the message was changed.
func (o Origin) Stamp(msg domain.Message) bool {
	if msg.HasOrigin() {
		return false
	}
	msg[domain.OriginKey] = string(o)
	return true
}

// IsOwn reports whether msg was published by this process.
func (o Origin) IsOwn(msg domain.Message) bool {
	tag, ok := msg.Origin()
	return ok && tag == string(o)
}
