// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ids defines the opaque identifier types shared across the
// control and voice planes.
package ids

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"

	"github.com/google/uuid"
)

// UserID is an opaque 128-bit user identifier.
type UserID uuid.UUID

// ChannelID is an opaque 128-bit channel identifier.
type ChannelID uuid.UUID

// SSRC is a 32-bit synchronization-source tag assigned at voice-session start.
type SSRC uint32

// RequestID is a 32-bit per-connection correlation key.
type RequestID uint32

// NilUser is the zero-value UserID, never assigned to a real user.
var NilUser = UserID{}

// NilChannel is the zero-value ChannelID, used to mean "no channel".
var NilChannel = ChannelID{}

// NewUserID allocates a fresh random user id.
func NewUserID() UserID {
	return UserID(uuid.New())
}

// NewChannelID allocates a fresh random channel id.
func NewChannelID() ChannelID {
	return ChannelID(uuid.New())
}

func (u UserID) String() string    { return uuid.UUID(u).String() }
func (c ChannelID) String() string { return uuid.UUID(c).String() }

// ParseUserID parses a textual UUID into a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(u), nil
}

// ParseChannelID parses a textual UUID into a ChannelID.
func ParseChannelID(s string) (ChannelID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ChannelID{}, err
	}
	return ChannelID(u), nil
}

func (u UserID) MarshalJSON() ([]byte, error) { return json.Marshal(uuid.UUID(u).String()) }

func (u *UserID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*u = UserID(parsed)
	return nil
}

func (c ChannelID) MarshalJSON() ([]byte, error) { return json.Marshal(uuid.UUID(c).String()) }

func (c *ChannelID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*c = ChannelID(parsed)
	return nil
}

// NewSSRC allocates a random, nonzero SSRC. Zero is reserved to mean
// "no SSRC assigned".
func NewSSRC() (SSRC, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v != 0 {
			return SSRC(v), nil
		}
	}
}

// SequenceOlder reports whether a is older than b under the RTP
// half-range wraparound rule: a is older than b iff (a-b) mod 2^32 > 2^31.
func SequenceOlder(a, b uint32) bool {
	return uint32(a-b) > 1<<31
}
