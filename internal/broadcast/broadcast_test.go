// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package broadcast_test

import (
	"testing"

	"github.com/speakeasy-voice/speakeasy/internal/broadcast"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/stretchr/testify/require"
)

type fakeMembers map[ids.ChannelID][]ids.UserID

func (f fakeMembers) Members(c ids.ChannelID) []ids.UserID { return f[c] }

func TestBroadcastToUser(t *testing.T) {
	t.Parallel()
	b := broadcast.New(fakeMembers{}, 4)
	u := ids.NewUserID()
	q := b.Register(u)

	n := b.Broadcast(broadcast.ToUser(u), "hello")
	require.Equal(t, 1, n)
	require.Equal(t, "hello", <-q.Receive())
}

func TestBroadcastToChannelExcept(t *testing.T) {
	t.Parallel()
	ch := ids.NewChannelID()
	u1, u2, u3 := ids.NewUserID(), ids.NewUserID(), ids.NewUserID()
	members := fakeMembers{ch: {u1, u2, u3}}
	b := broadcast.New(members, 4)
	q1, q2 := b.Register(u1), b.Register(u2)
	b.Register(u3)

	n := b.Broadcast(broadcast.ToChannelExcept(ch, u3), "voice-event")
	require.Equal(t, 2, n)
	require.Equal(t, "voice-event", <-q1.Receive())
	require.Equal(t, "voice-event", <-q2.Receive())
}

func TestBroadcastDropsOnFullQueue(t *testing.T) {
	t.Parallel()
	b := broadcast.New(fakeMembers{}, 1)
	u := ids.NewUserID()
	b.Register(u)

	require.Equal(t, 1, b.Broadcast(broadcast.ToUser(u), "first"))
	require.Equal(t, 0, b.Broadcast(broadcast.ToUser(u), "dropped"))
}

func TestBroadcastToAllExcept(t *testing.T) {
	t.Parallel()
	b := broadcast.New(fakeMembers{}, 4)
	u1, u2 := ids.NewUserID(), ids.NewUserID()
	q1 := b.Register(u1)
	b.Register(u2)

	n := b.Broadcast(broadcast.ToAllExcept(u2), "server-wide")
	require.Equal(t, 1, n)
	require.Equal(t, "server-wide", <-q1.Receive())
}

func TestUnregisterClosesQueue(t *testing.T) {
	t.Parallel()
	b := broadcast.New(fakeMembers{}, 4)
	u := ids.NewUserID()
	q := b.Register(u)
	b.Unregister(u)

	_, open := <-q.Receive()
	require.False(t, open)

	require.Equal(t, 0, b.Broadcast(broadcast.ToUser(u), "gone"))
}
