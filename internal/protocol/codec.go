/*
Package protocol defines the wire packet shapes exchanged between chat clients and the server.

This file implements the frame codec: packets are marshaled to single-line JSON
terminated by '\n', and decoded frames are bounded by a hard size ceiling so an
oversized frame is rejected outright instead of buffered without limit.
*/
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxFrameSize is the hard per-frame ceiling in bytes, newline included.
// Frames at or over this size are rejected, never partially parsed.
const MaxFrameSize = 100 * 1024

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// ErrMalformedFrame is returned when a frame is not a valid single-line JSON packet.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Encode marshals a packet into a newline-terminated JSON frame.
// It fails if the encoded frame would exceed MaxFrameSize.
func Encode(p *Packet) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if len(body)+1 > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	return append(body, '\n'), nil
}

// Decode parses one frame into a Packet. The frame may include its trailing
// newline. Size, UTF-8 validity, and the presence of a type tag are all
// enforced here so callers see exactly one failure mode per bad frame.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	frame = bytes.TrimRight(frame, "\r\n")
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}

	if !utf8.Valid(frame) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrMalformedFrame)
	}

	var p Packet
	if err := json.Unmarshal(frame, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if p.Type == "" {
		return nil, fmt.Errorf("%w: missing packet type", ErrMalformedFrame)
	}

	return &p, nil
}

// NewErrorPacket builds an ERROR packet carrying the given code and message.
func NewErrorPacket(code int, message string) *Packet {
	return &Packet{
		Type:    TypeError,
		Code:    code,
		Message: message,
	}
}
