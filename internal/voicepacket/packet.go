// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package voicepacket decodes and encodes the fixed header that prefixes
// every UDP voice datagram (§4.7, §6): packet_type:u8, flags:u16,
// sequence:u32, timestamp:u32, ssrc:u32 — HeaderSize bytes total.
package voicepacket

import (
	"encoding/binary"
	"errors"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
)

// HeaderSize is the fixed size, in bytes, of the voice packet header.
const HeaderSize = 1 + 2 + 4 + 4 + 4 // packet_type + flags + sequence + timestamp + ssrc

// PacketType identifies the kind of payload following the header.
type PacketType uint8

const (
	PacketTypeOpus PacketType = iota
	PacketTypeSilence
	PacketTypeFEC
)

// Flags are bit flags carried in the header.
type Flags uint16

const (
	FlagSpeakingStart Flags = 1 << iota
	FlagSpeakingStop
	FlagFEC
	FlagDTX
)

// Has reports whether f contains every bit in want.
func (f Flags) Has(want Flags) bool { return f&want == want }

// MaxPayloadSize is the largest opaque payload a voice datagram may carry.
const MaxPayloadSize = 1280

// ErrShortPacket is returned when a buffer is too small to contain a header.
var ErrShortPacket = errors.New("voicepacket: buffer shorter than header")

// ErrPayloadTooLarge is returned when a decoded or encoded payload exceeds
// MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("voicepacket: payload exceeds maximum size")

// Header is the decoded fixed header of a voice datagram.
type Header struct {
	Type      PacketType
	Flags     Flags
	Sequence  uint32
	Timestamp uint32
	SSRC      ids.SSRC
}

// Packet is a decoded header plus its trailing opaque payload. Payload
// aliases the input buffer; callers that need to retain it across the next
// read must copy it.
type Packet struct {
	Header  Header
	Payload []byte
}

// Decode parses a Packet from buf. buf must be at least HeaderSize bytes.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	if len(buf)-HeaderSize > MaxPayloadSize {
		return Packet{}, ErrPayloadTooLarge
	}
	h := Header{
		Type:      PacketType(buf[0]),
		Flags:     Flags(binary.BigEndian.Uint16(buf[1:3])),
		Sequence:  binary.BigEndian.Uint32(buf[3:7]),
		Timestamp: binary.BigEndian.Uint32(buf[7:11]),
		SSRC:      ids.SSRC(binary.BigEndian.Uint32(buf[11:15])),
	}
	return Packet{Header: h, Payload: buf[HeaderSize:]}, nil
}

// Encode serializes p into dst, allocating a new buffer if dst is too
// small. It returns the buffer containing the full packet.
func Encode(dst []byte, p Packet) []byte {
	total := HeaderSize + len(p.Payload)
	if cap(dst) < total {
		dst = make([]byte, total)
	} else {
		dst = dst[:total]
	}
	dst[0] = byte(p.Header.Type)
	binary.BigEndian.PutUint16(dst[1:3], uint16(p.Header.Flags))
	binary.BigEndian.PutUint32(dst[3:7], p.Header.Sequence)
	binary.BigEndian.PutUint32(dst[7:11], p.Header.Timestamp)
	binary.BigEndian.PutUint32(dst[11:15], uint32(p.Header.SSRC))
	copy(dst[HeaderSize:], p.Payload)
	return dst
}
