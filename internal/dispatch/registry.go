// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package dispatch implements the control-message dispatcher and its
// per-message-type handlers (§4.3): a pure routing function over the
// decoded envelope and the connection's authenticated state.
package dispatch

import (
	"sync"

	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
)

// Registry tracks the live *connection.Conn behind each authenticated
// user, letting a handler force-close another user's connection for a
// server-kick or ban (§4.3) without connection and dispatch holding
// back-pointers to each other (§9's "cyclic ownership" note).
type Registry struct {
	mu     sync.RWMutex
	byUser map[ids.UserID]*connection.Conn
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[ids.UserID]*connection.Conn)}
}

// Put records conn as the live connection for user, replacing any prior
// entry.
func (r *Registry) Put(user ids.UserID, conn *connection.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[user] = conn
}

// Remove drops the entry for user, but only if conn is still the one on
// file — a connection that already lost its race with a newer login for
// the same user must not evict the newer entry on its own cleanup.
func (r *Registry) Remove(user ids.UserID, conn *connection.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byUser[user]; ok && cur == conn {
		delete(r.byUser, user)
	}
}

// Get returns the live connection for user, if any.
func (r *Registry) Get(user ids.UserID) (*connection.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[user]
	return c, ok
}
