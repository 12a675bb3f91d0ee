// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package broadcast fans control-plane events out to per-client outbound
// queues (§4.5): bounded, non-blocking, drop-on-full so one slow reader
// never head-of-line-blocks the rest of the server.
package broadcast

import (
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
)

// DefaultQueueDepth is the default per-client outbound queue depth.
const DefaultQueueDepth = 64

// Message is whatever payload a handler wants delivered to one or more
// clients; the broadcaster is agnostic to its shape.
type Message any

// ScopeKind selects the recipients of a Broadcast call.
type ScopeKind int

const (
	ScopeUser ScopeKind = iota
	ScopeChannel
	ScopeChannelExcept
	ScopeAll
	ScopeAllExcept
)

// Scope identifies the targets of one broadcast.
type Scope struct {
	Kind    ScopeKind
	User    ids.UserID    // ScopeUser, ScopeChannelExcept, ScopeAllExcept
	Channel ids.ChannelID // ScopeChannel, ScopeChannelExcept
}

// ToUser scopes a broadcast to exactly one client.
func ToUser(u ids.UserID) Scope { return Scope{Kind: ScopeUser, User: u} }

// ToChannel scopes a broadcast to every member of a channel.
func ToChannel(c ids.ChannelID) Scope { return Scope{Kind: ScopeChannel, Channel: c} }

// ToChannelExcept scopes a broadcast to a channel's members minus one user.
func ToChannelExcept(c ids.ChannelID, except ids.UserID) Scope {
	return Scope{Kind: ScopeChannelExcept, Channel: c, User: except}
}

// ToAll scopes a broadcast to every connected client.
func ToAll() Scope { return Scope{Kind: ScopeAll} }

// ToAllExcept scopes a broadcast to every connected client minus one.
func ToAllExcept(except ids.UserID) Scope { return Scope{Kind: ScopeAllExcept, User: except} }

// ChannelMembers resolves a ChannelId to its current member UserIds. The
// broadcaster asks for membership on every channel-scoped send rather than
// own a copy of presence, so it always reflects the live member set.
type ChannelMembers interface {
	Members(channel ids.ChannelID) []ids.UserID
}

// Queue is one client's outbound mailbox.
type Queue struct {
	ch chan Message
}

// Send enqueues msg, returning false if the queue is full (dropped) or
// closed (recipient gone).
func (q *Queue) Send(msg Message) (sent bool) {
	// A send on a queue that Unregister has closed panics; report it as
	// a gone recipient instead.
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

// Receive returns the channel a connection task drains alongside inbound
// frames.
func (q *Queue) Receive() <-chan Message { return q.ch }

// Broadcaster holds one bounded Queue per online client. It is cheap to
// share: callers pass around the same *Broadcaster rather than cloning it.
type Broadcaster struct {
	queues  *xsync.Map[ids.UserID, *Queue]
	members ChannelMembers
	depth   int
}

// New builds a Broadcaster. members resolves channel scopes; depth is the
// per-client queue capacity (DefaultQueueDepth if <= 0).
func New(members ChannelMembers, depth int) *Broadcaster {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Broadcaster{
		queues:  xsync.NewMap[ids.UserID, *Queue](),
		members: members,
		depth:   depth,
	}
}

// Register creates a queue for user, replacing any existing one.
func (b *Broadcaster) Register(user ids.UserID) *Queue {
	q := &Queue{ch: make(chan Message, b.depth)}
	b.queues.Store(user, q)
	return q
}

// Unregister removes and closes user's queue.
func (b *Broadcaster) Unregister(user ids.UserID) {
	q, ok := b.queues.LoadAndDelete(user)
	if ok {
		close(q.ch)
	}
}

// Queue returns user's outbound queue, if registered.
func (b *Broadcaster) Queue(user ids.UserID) (*Queue, bool) {
	return b.queues.Load(user)
}

// Broadcast enqueues msg to every recipient selected by scope. It returns
// the number of successful (non-dropped) enqueues.
func (b *Broadcaster) Broadcast(scope Scope, msg Message) int {
	switch scope.Kind {
	case ScopeUser:
		return b.sendTo(scope.User, msg)
	case ScopeChannel:
		return b.sendToMany(b.members.Members(scope.Channel), ids.NilUser, msg)
	case ScopeChannelExcept:
		return b.sendToMany(b.members.Members(scope.Channel), scope.User, msg)
	case ScopeAll:
		return b.sendToAll(ids.NilUser, msg)
	case ScopeAllExcept:
		return b.sendToAll(scope.User, msg)
	default:
		return 0
	}
}

func (b *Broadcaster) sendTo(user ids.UserID, msg Message) int {
	q, ok := b.queues.Load(user)
	if !ok {
		return 0
	}
	if q.Send(msg) {
		return 1
	}
	return 0
}

func (b *Broadcaster) sendToMany(users []ids.UserID, except ids.UserID, msg Message) int {
	sent := 0
	for _, u := range users {
		if u == except {
			continue
		}
		sent += b.sendTo(u, msg)
	}
	return sent
}

func (b *Broadcaster) sendToAll(except ids.UserID, msg Message) int {
	sent := 0
	b.queues.Range(func(user ids.UserID, q *Queue) bool {
		if user == except {
			return true
		}
		if q.Send(msg) {
			sent++
		}
		return true
	})
	return sent
}
