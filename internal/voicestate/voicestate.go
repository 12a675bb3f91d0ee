// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package voicestate holds the per-active-voice-session table (§3, §4.7):
// the primary entry plus two secondary indices, SSRC -> user and
// endpoint -> user, that must stay a bijection with the primary table
// (§8 invariant 2).
package voicestate

import (
	"sync"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
)

// DefaultInactivityTimeout is how long a voice-state entry may go without
// an inbound packet before the background sweeper evicts it.
const DefaultInactivityTimeout = 30 * time.Second

// Entry is one client's active voice session.
type Entry struct {
	User         ids.UserID
	SSRC         ids.SSRC
	Endpoint     string
	Channel      ids.ChannelID
	CodecConfig  []byte // opaque, negotiated out of band
	Speaking     bool
	LastPacketAt time.Time
	SmoothedRTT  time.Duration
	LossRate     float64
	JitterMs     float64
	BitrateKbps  int
}

// Table is the thread-safe voice-state store.
type Table struct {
	mu       sync.RWMutex
	byUser   map[ids.UserID]*Entry
	bySSRC   map[ids.SSRC]ids.UserID
	byEndpt  map[string]ids.UserID
}

// New builds an empty Table.
func New() *Table {
	return &Table{
		byUser:  make(map[ids.UserID]*Entry),
		bySSRC:  make(map[ids.SSRC]ids.UserID),
		byEndpt: make(map[string]ids.UserID),
	}
}

// Register creates a voice-state entry for user, replacing any existing
// one (and its stale secondary-index entries) first.
func (t *Table) Register(user ids.UserID, ssrc ids.SSRC, endpoint string, channel ids.ChannelID) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(user)
	e := &Entry{
		User:         user,
		SSRC:         ssrc,
		Endpoint:     endpoint,
		Channel:      channel,
		LastPacketAt: time.Now(),
	}
	t.byUser[user] = e
	t.bySSRC[ssrc] = user
	t.byEndpt[endpoint] = user
	return e
}

// Remove deletes user's voice-state entry and both secondary indices.
// Returns false if no entry existed.
func (t *Table) Remove(user ids.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(user)
}

func (t *Table) removeLocked(user ids.UserID) bool {
	e, ok := t.byUser[user]
	if !ok {
		return false
	}
	delete(t.byUser, user)
	delete(t.bySSRC, e.SSRC)
	delete(t.byEndpt, e.Endpoint)
	return true
}

// UserBySSRC resolves the bySSRC secondary index.
func (t *Table) UserBySSRC(ssrc ids.SSRC) (ids.UserID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.bySSRC[ssrc]
	return u, ok
}

// UserByEndpoint resolves the byEndpoint secondary index.
func (t *Table) UserByEndpoint(endpoint string) (ids.UserID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.byEndpt[endpoint]
	return u, ok
}

// Get returns a copy of user's entry.
func (t *Table) Get(user ids.UserID) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byUser[user]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// SetSpeaking updates the speaking flag in place.
func (t *Table) SetSpeaking(user ids.UserID, speaking bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byUser[user]
	if !ok {
		return false
	}
	e.Speaking = speaking
	return true
}

// TouchLastPacket records that a packet just arrived from user, resetting
// its inactivity clock.
func (t *Table) TouchLastPacket(user ids.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byUser[user]
	if !ok {
		return false
	}
	e.LastPacketAt = time.Now()
	return true
}

// SetChannel updates the channel membership recorded against user's
// voice entry without disturbing its SSRC or endpoint indices, used when
// a client switches channel without re-running voice setup.
func (t *Table) SetChannel(user ids.UserID, channel ids.ChannelID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byUser[user]
	if !ok {
		return false
	}
	e.Channel = channel
	return true
}

// UpdateMetrics overwrites the RTT/loss/jitter/bitrate fields used by the
// congestion controller.
func (t *Table) UpdateMetrics(user ids.UserID, rtt time.Duration, lossRate, jitterMs float64, bitrateKbps int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byUser[user]
	if !ok {
		return false
	}
	e.SmoothedRTT = rtt
	e.LossRate = lossRate
	e.JitterMs = jitterMs
	e.BitrateKbps = bitrateKbps
	return true
}

// SweepInactive evicts every entry whose LastPacketAt is older than
// timeout as of now, returning the evicted users.
func (t *Table) SweepInactive(now time.Time, timeout time.Duration) []ids.UserID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []ids.UserID
	for user, e := range t.byUser {
		if now.Sub(e.LastPacketAt) > timeout {
			evicted = append(evicted, user)
		}
	}
	for _, user := range evicted {
		t.removeLocked(user)
	}
	return evicted
}

// Len returns the number of active voice-state entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser)
}
