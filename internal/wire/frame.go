// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package wire implements the control-plane framing and envelope codec:
// a u32 big-endian length prefix followed by a JSON payload (§4.1).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultMaxFrameSize is the default maximum payload size in bytes (1 MiB).
const DefaultMaxFrameSize = 1024 * 1024

// LengthFieldSize is the size, in bytes, of the frame length prefix.
const LengthFieldSize = 4

// ErrFrameTooLarge is returned by Decode/Encode when a frame's payload
// exceeds the configured maximum size. Connections must be closed with a
// protocol error when this occurs during decode.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// Codec frames Envelope values over a reliable byte stream.
type Codec struct {
	maxFrameSize int
}

// NewCodec builds a Codec with the given maximum frame size. A size of 0
// selects DefaultMaxFrameSize.
func NewCodec(maxFrameSize int) *Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{maxFrameSize: maxFrameSize}
}

// Decode consumes whole frames from buf, appending each decoded Envelope
// to the returned slice, and returns the number of bytes consumed. It
// never blocks: a trailing partial frame is left for the caller to
// re-present once more bytes arrive.
func (c *Codec) Decode(buf []byte) ([]Envelope, int, error) {
	var out []Envelope
	consumed := 0
	for {
		remaining := buf[consumed:]
		if len(remaining) < LengthFieldSize {
			return out, consumed, nil
		}
		length := binary.BigEndian.Uint32(remaining[:LengthFieldSize])
		if int(length) > c.maxFrameSize {
			return out, consumed, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, c.maxFrameSize)
		}
		total := LengthFieldSize + int(length)
		if len(remaining) < total {
			return out, consumed, nil
		}
		payload := remaining[LengthFieldSize:total]
		env, err := decodeEnvelope(payload)
		if err != nil {
			return out, consumed, err
		}
		out = append(out, env)
		consumed += total
	}
}

// Encode serializes one Envelope as a framed message, appending to dst.
func (c *Codec) Encode(dst []byte, env Envelope) ([]byte, error) {
	payload, err := encodeEnvelope(env)
	if err != nil {
		return dst, fmt.Errorf("wire: encoding envelope: %w", err)
	}
	if len(payload) > c.maxFrameSize {
		return dst, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(payload), c.maxFrameSize)
	}
	var lenBuf [LengthFieldSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, payload...)
	return dst, nil
}
