package domain

import "errors"

var (
	ErrInvalidChannel    = errors.New("invalid channel code")
	ErrChannelNotFound   = errors.New("channel not found")
	ErrChannelFull       = errors.New("channel connection limit reached")
	ErrNotAnObject       = errors.New("payload is not a JSON object")
	ErrConnClosed        = errors.New("connection closed")
	ErrSlowConsumer      = errors.New("connection send buffer full")
	ErrAlreadySubscribed = errors.New("topic already subscribed")
	ErrHubClosed         = errors.New("hub is shut down")
)
