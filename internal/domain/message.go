package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// OriginKey is the reserved message key carrying the publishing process tag.
const OriginKey = "origin"

// Message is a client payload: an arbitrary JSON object.
type Message map[string]any

// DecodeMessage parses a single JSON object. Numbers are kept as json.Number
// so they re-encode exactly as received.
func DecodeMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAnObject, err)
	}
	if msg == nil {
		return nil, ErrNotAnObject
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrNotAnObject)
	}
	return msg, nil
}

// Encode serializes the message as a JSON object.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Origin returns the origin tag, if the message carries a string one.
func (m Message) Origin() (string, bool) {
	v, ok := m[OriginKey].(string)
	return v, ok
}

// HasOrigin reports whether the reserved key is present with any value.
func (m Message) HasOrigin() bool {
	_, ok := m[OriginKey]
	return ok
}
