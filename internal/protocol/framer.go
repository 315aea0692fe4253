// Package protocol multiplexes single-character commands and length-framed
// binary records on one byte stream.
//
// A binary frame is
//
//	0x02 <int32 length, little endian> 0x03 <payload> 0x04
//
// and every other byte received outside a frame is a command.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	StartMarker     byte = 0x02
	SeparatorMarker byte = 0x03
	EndMarker       byte = 0x04

	// DefaultMaxPayload is the largest payload accepted unless configured.
	DefaultMaxPayload = 1024

	lengthBytes = 4
)

// ErrFraming is matched by every *FramingError.
var ErrFraming = errors.New("framing error")

// FramingError describes why a binary frame was abandoned.
type FramingError struct {
	Reason string
	Got    byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %s (got 0x%02X)", e.Reason, e.Got)
}

func (e *FramingError) Unwrap() error { return ErrFraming }

// FrameKind says what Feed produced.
type FrameKind int

const (
	// FrameNone means the byte was consumed without completing anything.
	FrameNone FrameKind = iota
	FrameChar
	FrameStream
)

// Frame is the result of feeding one byte. Payload aliases the framer's
// scratch and is only valid until the next call to Feed.
type Frame struct {
	Kind    FrameKind
	Char    byte
	Payload []byte
}

// FramerState is the position of the framer within the byte grammar.
type FramerState int

const (
	StateAwaitingChar FramerState = iota
	StateReadingLength
	StateReadingPayload
)

func (s FramerState) String() string {
	switch s {
	case StateAwaitingChar:
		return "awaiting-char"
	case StateReadingLength:
		return "reading-length"
	case StateReadingPayload:
		return "reading-payload"
	}
	return fmt.Sprintf("FramerState(%d)", int(s))
}

// Framer decodes the byte stream one byte at a time. It is not safe for
// concurrent use.
type Framer struct {
	state      FramerState
	maxPayload int

	length     [lengthBytes]byte
	lengthRead int
	declared   int

	payload []byte
}

// NewFramer returns a framer accepting payloads up to maxPayload bytes.
// A non-positive maxPayload selects DefaultMaxPayload.
func NewFramer(maxPayload int) *Framer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Framer{
		maxPayload: maxPayload,
		payload:    make([]byte, 0, maxPayload),
	}
}

// State returns the current parser state.
func (f *Framer) State() FramerState { return f.state }

// MaxPayload returns the configured payload limit.
func (f *Framer) MaxPayload() int { return f.maxPayload }

// Reset abandons any partial frame.
func (f *Framer) Reset() {
	f.state = StateAwaitingChar
	f.lengthRead = 0
	f.declared = 0
	f.payload = f.payload[:0]
}

func (f *Framer) fail(reason string, b byte) (Frame, error) {
	f.Reset()
	return Frame{}, &FramingError{Reason: reason, Got: b}
}

// Feed advances the framer by one byte.
func (f *Framer) Feed(b byte) (Frame, error) {
	switch f.state {
	case StateAwaitingChar:
		if b == StartMarker {
			f.Reset()
			f.state = StateReadingLength
			return Frame{}, nil
		}
		return Frame{Kind: FrameChar, Char: b}, nil

	case StateReadingLength:
		if f.lengthRead < lengthBytes {
			f.length[f.lengthRead] = b
			f.lengthRead++
			return Frame{}, nil
		}
		if b != SeparatorMarker {
			return f.fail("expected separator after length", b)
		}
		n := int32(binary.LittleEndian.Uint32(f.length[:]))
		if n < 0 || int(n) > f.maxPayload {
			f.Reset()
			return Frame{}, &FramingError{
				Reason: fmt.Sprintf("declared length %d outside 0-%d", n, f.maxPayload),
				Got:    b,
			}
		}
		f.declared = int(n)
		f.payload = f.payload[:0]
		f.state = StateReadingPayload
		return Frame{}, nil

	case StateReadingPayload:
		if len(f.payload) < f.declared {
			f.payload = append(f.payload, b)
			return Frame{}, nil
		}
		if b != EndMarker {
			return f.fail("expected end marker", b)
		}
		payload := f.payload
		f.state = StateAwaitingChar
		f.lengthRead = 0
		return Frame{Kind: FrameStream, Payload: payload}, nil
	}
	return f.fail("invalid framer state", b)
}
