// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"context"

	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

// handleVoiceInit implements VoiceInit (§4.3, §4.7): allocates an SSRC,
// records the claimed endpoint, registers the voice-state entry, and
// joins the channel router for the connection's current channel.
func (d *Dispatcher) handleVoiceInit(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.VoiceInit) (*wire.Envelope, error) {
	user := conn.User()

	ssrc, err := ids.NewSSRC()
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "allocating ssrc"), nil
	}

	channel := d.currentChannel(user.ID)
	endpoint := msg.Endpoint
	if endpoint == "" {
		endpoint = conn.PeerAddr()
	}
	d.Voice.Register(user.ID, ssrc, endpoint, channel)
	if channel != ids.NilChannel {
		queue := d.Router.Join(user.ID, channel, endpoint)
		if d.OnVoiceJoin != nil {
			d.OnVoiceJoin(user.ID, endpoint, queue)
		}
	}

	_ = ctx
	return respond(id, wire.VoiceReady{SSRC: ssrc, UDPPort: d.Identity.UDPPort}), nil
}

// handleVoiceDisconnect implements VoiceDisconnect (§4.3, §4.7): tears
// down the voice-state entry and router membership, leaving the control
// session untouched.
func (d *Dispatcher) handleVoiceDisconnect(_ context.Context, conn *connection.Conn, id ids.RequestID) (*wire.Envelope, error) {
	user := conn.User()
	d.Router.Leave(user.ID)
	d.Voice.Remove(user.ID)
	return respond(id, wire.VoiceDisconnect{}), nil
}
