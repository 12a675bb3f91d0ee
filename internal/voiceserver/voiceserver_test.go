// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package voiceserver_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/channelrouter"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/voicepacket"
	"github.com/speakeasy-voice/speakeasy/internal/voiceserver"
	"github.com/speakeasy-voice/speakeasy/internal/voicestate"
	"github.com/stretchr/testify/require"
)

func TestVoiceFanOutExcludesSender(t *testing.T) {
	t.Parallel()
	voice := voicestate.New()
	router := channelrouter.New(8)
	srv := voiceserver.New("127.0.0.1", 0, voice, router, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ListenAndServe(ctx)
	}()
	defer func() { cancel(); <-done }()
	<-srv.Ready()

	remote, err := net.ResolveUDPAddr("udp", srv.LocalAddr().String())
	require.NoError(t, err)
	channel := ids.NewChannelID()

	sender := ids.NewUserID()
	recipient := ids.NewUserID()
	otherRecipient := ids.NewUserID()

	senderConn := dialLoopback(t)
	recipientConn := dialLoopback(t)
	otherConn := dialLoopback(t)

	voice.Register(sender, mustSSRC(t), senderConn.LocalAddr().String(), channel)
	voice.Register(recipient, mustSSRC(t), recipientConn.LocalAddr().String(), channel)
	voice.Register(otherRecipient, mustSSRC(t), otherConn.LocalAddr().String(), channel)

	recipientQueue := router.Join(recipient, channel, recipientConn.LocalAddr().String())
	otherQueue := router.Join(otherRecipient, channel, otherConn.LocalAddr().String())
	router.Join(sender, channel, senderConn.LocalAddr().String())

	srv.StartEgress(recipient, recipientConn.LocalAddr().String(), recipientQueue)
	srv.StartEgress(otherRecipient, otherConn.LocalAddr().String(), otherQueue)

	pkt := voicepacket.Encode(nil, voicepacket.Packet{
		Header: voicepacket.Header{
			Type:      voicepacket.PacketTypeOpus,
			Flags:     voicepacket.FlagSpeakingStart,
			Sequence:  100,
			Timestamp: 1000,
			SSRC:      0xAAAA,
		},
		Payload: make([]byte, 60),
	})

	_, err = senderConn.WriteToUDP(pkt, remote)
	require.NoError(t, err)

	buf := make([]byte, 2048)
	require.NoError(t, recipientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := recipientConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, pkt, buf[:n])

	require.NoError(t, otherConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err = otherConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, pkt, buf[:n])

	require.NoError(t, senderConn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = senderConn.ReadFromUDP(buf)
	require.Error(t, err, "sender must not receive its own packet back")

	require.Eventually(t, func() bool {
		entry, ok := voice.Get(sender)
		return ok && entry.Speaking
	}, time.Second, 10*time.Millisecond, "speaking-start flag should mark the sender speaking")
}

func TestUnregisteredSourceIsDropped(t *testing.T) {
	t.Parallel()
	voice := voicestate.New()
	router := channelrouter.New(8)
	srv := voiceserver.New("127.0.0.1", 0, voice, router, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ListenAndServe(ctx)
	}()
	defer func() { cancel(); <-done }()
	<-srv.Ready()

	remote, err := net.ResolveUDPAddr("udp", srv.LocalAddr().String())
	require.NoError(t, err)

	unknownConn := dialLoopback(t)
	pkt := voicepacket.Encode(nil, voicepacket.Packet{
		Header: voicepacket.Header{Type: voicepacket.PacketTypeOpus, Sequence: 1, SSRC: 1},
	})
	_, err = unknownConn.WriteToUDP(pkt, remote)
	require.NoError(t, err)

	// No voice-state entry exists for unknownConn's endpoint, so the
	// packet is dropped; there is no observable side effect to assert
	// beyond the server not panicking and remaining responsive.
	require.Equal(t, 0, voice.Len())
}

func dialLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func mustSSRC(t *testing.T) ids.SSRC {
	t.Helper()
	s, err := ids.NewSSRC()
	require.NoError(t, err)
	return s
}
