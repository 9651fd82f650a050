// Package fanout relays channel messages between local WebSocket
// connections and the cross-process bus.
//
// A Registry holds the accepted connections per channel. The Hub owns one
// bus subscription per channel that has at least one active session and runs
// a relay goroutine for it, dropping messages that this process published
// itself (see Origin). Each Session drives one connection through
// Connecting, Active, Closing and Closed.
package fanout
