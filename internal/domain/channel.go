package domain

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

const maxChannelLength = 64

// ValidateChannel checks that a session code can be used as a channel key.
// Codes are opaque; only length and printable, non-space runes are enforced.
func ValidateChannel(code string) error {
	if code == "" {
		return fmt.Errorf("%w: empty", ErrInvalidChannel)
	}
	if len(code) > maxChannelLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidChannel, maxChannelLength)
	}
	if !utf8.ValidString(code) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidChannel)
	}
	for _, r := range code {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("%w: contains %q", ErrInvalidChannel, r)
		}
	}
	return nil
}

// ChannelInfo describes a session known to the relational store.
type ChannelInfo struct {
	Code  string
	Title string
	Live  bool
}
