// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package channelrouter is the SFU forwarding table (§4.6): one bounded,
// reference-counted-by-sharing queue per channel member, fed by a single
// serialize-once, fan-out-many forwarding step that never blocks.
package channelrouter

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
)

// DefaultQueueDepth is sized for roughly 2-3 seconds of audio at worst-case
// bitrate (20ms frames => ~100-150 frames).
const DefaultQueueDepth = 128

// Datagram is a shared, read-only voice datagram queued for egress. All
// recipients of one inbound packet hold the same *Datagram; nothing
// mutates it after Forward hands it out.
type Datagram struct {
	Bytes []byte
}

type member struct {
	endpoint string
	queue    chan *Datagram
}

type channel struct {
	mu      sync.RWMutex
	members map[ids.UserID]*member
}

// Router implements the channel routing table.
type Router struct {
	channels  *xsync.Map[ids.ChannelID, *channel]
	reverse   *xsync.Map[ids.UserID, ids.ChannelID]
	depth     int
}

// New builds an empty Router. depth is the per-recipient queue capacity
// (DefaultQueueDepth if <= 0).
func New(depth int) *Router {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Router{
		channels: xsync.NewMap[ids.ChannelID, *channel](),
		reverse:  xsync.NewMap[ids.UserID, ids.ChannelID](),
		depth:    depth,
	}
}

// Join adds user to channel's forwarding set, implicitly leaving any
// channel it previously occupied. It returns the queue the caller's egress
// task should drain.
func (r *Router) Join(user ids.UserID, ch ids.ChannelID, endpoint string) <-chan *Datagram {
	if prev, ok := r.reverse.Load(user); ok && prev != ch {
		r.Leave(user)
	}
	candidate := &channel{members: make(map[ids.UserID]*member)}
	c, _ := r.channels.LoadOrStore(ch, candidate)
	m := &member{endpoint: endpoint, queue: make(chan *Datagram, r.depth)}
	c.mu.Lock()
	c.members[user] = m
	c.mu.Unlock()
	r.reverse.Store(user, ch)
	return m.queue
}

// Leave removes user from whatever channel it occupies, closing its queue.
// Cleans up the channel entry once the last member leaves.
func (r *Router) Leave(user ids.UserID) {
	ch, ok := r.reverse.LoadAndDelete(user)
	if !ok {
		return
	}
	c, ok := r.channels.Load(ch)
	if !ok {
		return
	}
	c.mu.Lock()
	m, ok := c.members[user]
	if ok {
		delete(c.members, user)
	}
	empty := len(c.members) == 0
	c.mu.Unlock()
	if ok {
		close(m.queue)
	}
	if empty {
		r.channels.Delete(ch)
	}
}

// Forward serializes payload once and non-blockingly enqueues a shared
// reference to every member of sender's channel except sender itself. It
// returns the number of successful enqueues. If sender is not in any
// channel, Forward is a no-op and returns 0.
func (r *Router) Forward(sender ids.UserID, payload []byte) int {
	ch, ok := r.reverse.Load(sender)
	if !ok {
		return 0
	}
	c, ok := r.channels.Load(ch)
	if !ok {
		return 0
	}

	shared := &Datagram{Bytes: payload}

	c.mu.RLock()
	recipients := make([]*member, 0, len(c.members))
	for user, m := range c.members {
		if user == sender {
			continue
		}
		recipients = append(recipients, m)
	}
	c.mu.RUnlock()

	sent := 0
	for _, m := range recipients {
		select {
		case m.queue <- shared:
			sent++
		default:
			// Full queue: recipient drops this packet, never blocks the forwarder.
		}
	}
	return sent
}

// ChannelOf reports the channel user currently occupies, if any.
func (r *Router) ChannelOf(user ids.UserID) (ids.ChannelID, bool) {
	return r.reverse.Load(user)
}

// Channels returns every channel id that currently has at least one
// voice member, for merging against the persisted channel list (§4.3's
// "List returns persisted channels merged with any ephemeral channels
// that currently have members").
func (r *Router) Channels() []ids.ChannelID {
	var out []ids.ChannelID
	r.channels.Range(func(ch ids.ChannelID, _ *channel) bool {
		out = append(out, ch)
		return true
	})
	return out
}

// Members returns the users currently routed through channel. Satisfies
// broadcast.ChannelMembers so the control-plane broadcaster and the voice
// router can share one membership notion when wired together.
func (r *Router) Members(ch ids.ChannelID) []ids.UserID {
	c, ok := r.channels.Load(ch)
	if !ok {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ids.UserID, 0, len(c.members))
	for u := range c.members {
		out = append(out, u)
	}
	return out
}
