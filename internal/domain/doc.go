// Package domain defines the core types and interfaces of the real-time fan-out layer.
//
// Concept-oriented files (message.go, channel.go, pubsub.go, directory.go, errors.go)
// hold shared types and the contracts adapters implement. No I/O lives here.
package domain
