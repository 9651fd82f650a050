package domain

import "context"

// ChannelDirectory resolves session codes against the session store.
type ChannelDirectory interface {
	// Lookup returns ErrChannelNotFound when no session has the code.
	Lookup(ctx context.Context, code string) (*ChannelInfo, error)
}
