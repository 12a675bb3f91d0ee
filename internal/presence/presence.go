// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package presence tracks the online set and channel membership (§4.4):
// a UserId -> ClientPresence map plus a ChannelId -> member secondary
// index, with an event stream of every change, read through Events.
package presence

import (
	"sync"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
)

// ClientPresence is the per-online-client record.
type ClientPresence struct {
	UserID      ids.UserID
	Nickname    string
	ChannelID   ids.ChannelID // zero value (ids.NilChannel) when not in a channel
	InputMuted  bool
	OutputMuted bool
	Away        bool
	AwayMessage string
}

func (p ClientPresence) inChannel() bool { return p.ChannelID != ids.NilChannel }

// EventKind discriminates the presence event stream.
type EventKind int

const (
	EventJoined EventKind = iota
	EventLeft
	EventChannelJoined
	EventChannelLeft
	EventMoved
	EventStatusChanged
)

// StatusChangeCause distinguishes the kinds of StatusChanged events, since
// both mute and away toggles are folded into the same ClientPresence field
// set and callers (broadcaster, audit log) often care which one fired.
type StatusChangeCause int

const (
	StatusCauseNicknameChanged StatusChangeCause = iota
	StatusCauseMuteChanged
	StatusCauseAwayChanged
)

// Event is one entry in the presence event stream.
type Event struct {
	Kind       EventKind
	User       ids.UserID
	Presence   ClientPresence
	FromChanel ids.ChannelID // EventChannelLeft / EventMoved: the channel left
	Cause      StatusChangeCause
}

// Manager is the thread-safe presence table described in §4.4. Single-writer
// discipline is enforced by Manager's own mutex: every mutation happens
// inside one critical section that updates both the primary map and the
// channel index before publishing its event, so readers never observe a
// torn update.
type Manager struct {
	mu       sync.RWMutex
	byUser   map[ids.UserID]ClientPresence
	byChan   map[ids.ChannelID]map[ids.UserID]struct{}
	events   chan Event
}

// New builds an empty Manager. eventBuffer sizes the event channel; once
// it is full, further events are dropped rather than blocking the writer.
func New(eventBuffer int) *Manager {
	return &Manager{
		byUser: make(map[ids.UserID]ClientPresence),
		byChan: make(map[ids.ChannelID]map[ids.UserID]struct{}),
		events: make(chan Event, eventBuffer),
	}
}

// Events returns the read side of the event stream.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		// Slow consumer: drop rather than block the writer holding the lock.
	}
}

// Connect installs a new presence record for user. Returns false if the
// user already has one.
func (m *Manager) Connect(user ids.UserID, p ClientPresence) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byUser[user]; exists {
		return false
	}
	p.UserID = user
	m.byUser[user] = p
	if p.inChannel() {
		m.addToChannelLocked(p.ChannelID, user)
	}
	m.publish(Event{Kind: EventJoined, User: user, Presence: p})
	return true
}

// Disconnect removes user's presence record entirely, leaving any channel
// it occupied. Returns false if the user was not present.
func (m *Manager) Disconnect(user ids.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byUser[user]
	if !ok {
		return false
	}
	if p.inChannel() {
		m.removeFromChannelLocked(p.ChannelID, user)
	}
	delete(m.byUser, user)
	m.publish(Event{Kind: EventLeft, User: user, Presence: p})
	return true
}

// Join moves user into channel, atomically leaving any previous channel.
// Idempotent: joining the channel the user is already in is a no-op that
// still reports success (§8 invariant 3).
func (m *Manager) Join(user ids.UserID, channel ids.ChannelID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byUser[user]
	if !ok {
		return false
	}
	if p.ChannelID == channel {
		return true
	}
	prev := p.ChannelID
	if p.inChannel() {
		m.removeFromChannelLocked(prev, user)
	}
	m.addToChannelLocked(channel, user)
	p.ChannelID = channel
	m.byUser[user] = p
	if prev == ids.NilChannel {
		m.publish(Event{Kind: EventChannelJoined, User: user, Presence: p})
	} else {
		m.publish(Event{Kind: EventMoved, User: user, Presence: p, FromChanel: prev})
	}
	return true
}

// Leave removes user from whichever channel it is in. No-op (returns true)
// if the user is not in any channel; returns false if the user has no
// presence record.
func (m *Manager) Leave(user ids.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byUser[user]
	if !ok {
		return false
	}
	if !p.inChannel() {
		return true
	}
	prev := p.ChannelID
	m.removeFromChannelLocked(prev, user)
	p.ChannelID = ids.NilChannel
	m.byUser[user] = p
	m.publish(Event{Kind: EventChannelLeft, User: user, Presence: p, FromChanel: prev})
	return true
}

// UpdateMute sets the caller's own mute flags (§4.3 Update handler).
func (m *Manager) UpdateMute(user ids.UserID, inputMuted, outputMuted bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byUser[user]
	if !ok {
		return false
	}
	p.InputMuted, p.OutputMuted = inputMuted, outputMuted
	m.byUser[user] = p
	m.publish(Event{Kind: EventStatusChanged, User: user, Presence: p, Cause: StatusCauseMuteChanged})
	return true
}

// SetAway toggles the away flag and optional message.
func (m *Manager) SetAway(user ids.UserID, away bool, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byUser[user]
	if !ok {
		return false
	}
	p.Away = away
	p.AwayMessage = message
	m.byUser[user] = p
	m.publish(Event{Kind: EventStatusChanged, User: user, Presence: p, Cause: StatusCauseAwayChanged})
	return true
}

// UpdateNickname renames user and broadcasts the change.
func (m *Manager) UpdateNickname(user ids.UserID, nickname string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byUser[user]
	if !ok {
		return false
	}
	p.Nickname = nickname
	m.byUser[user] = p
	m.publish(Event{Kind: EventStatusChanged, User: user, Presence: p, Cause: StatusCauseNicknameChanged})
	return true
}

// Get returns a snapshot of user's presence record.
func (m *Manager) Get(user ids.UserID) (ClientPresence, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byUser[user]
	return p, ok
}

// List returns a snapshot of every online presence record.
func (m *Manager) List() []ClientPresence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ClientPresence, 0, len(m.byUser))
	for _, p := range m.byUser {
		out = append(out, p)
	}
	return out
}

// Members returns the users currently in channel.
func (m *Manager) Members(channel ids.ChannelID) []ids.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.byChan[channel]
	if !ok {
		return nil
	}
	out := make([]ids.UserID, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return out
}

func (m *Manager) addToChannelLocked(channel ids.ChannelID, user ids.UserID) {
	set, ok := m.byChan[channel]
	if !ok {
		set = make(map[ids.UserID]struct{})
		m.byChan[channel] = set
	}
	set[user] = struct{}{}
}

func (m *Manager) removeFromChannelLocked(channel ids.ChannelID, user ids.UserID) {
	set, ok := m.byChan[channel]
	if !ok {
		return
	}
	delete(set, user)
	if len(set) == 0 {
		delete(m.byChan, channel)
	}
}
