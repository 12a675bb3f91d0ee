// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"context"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/broadcast"
	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/presence"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

// handleClientList returns every online presence record (§4.3).
func (d *Dispatcher) handleClientList(_ context.Context, _ *connection.Conn, id ids.RequestID) (*wire.Envelope, error) {
	snapshot := d.Presence.List()
	out := make([]wire.ClientSummary, 0, len(snapshot))
	for _, p := range snapshot {
		out = append(out, wire.ClientSummary{
			UserID:    p.UserID,
			Nickname:  p.Nickname,
			ChannelID: p.ChannelID,
			Muted:     p.InputMuted || p.OutputMuted,
			Away:      p.Away,
		})
	}
	return respond(id, wire.ClientListResponse{Clients: out}), nil
}

// handleClientKick implements Kick (§4.3): a channel-kick only removes
// presence channel membership; a server-kick additionally tears down the
// broadcaster, voice-state, and router entries and force-closes the
// target's connection.
func (d *Dispatcher) handleClientKick(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ClientKick) (*wire.Envelope, error) {
	user := conn.User()
	target, ok := d.Presence.Get(msg.UserID)
	if !ok {
		return errorResponse(id, wire.ErrorNotFound, "unknown client"), nil
	}

	serverAllowed, err := d.allowed(ctx, user.ID, ids.NilChannel, PermClientKickServer)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if serverAllowed {
		d.serverKick(ctx, msg.UserID, msg.Reason)
		d.audit(ctx, &user.ID, "client_kick_server", "user", msg.UserID.String(), msg.Reason)
		return respond(id, wire.ClientKickResponse{}), nil
	}

	channelAllowed, err := d.allowed(ctx, user.ID, target.ChannelID, PermClientKickChan)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !channelAllowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "client kick denied"), nil
	}

	prev := target.ChannelID
	d.Presence.Leave(msg.UserID)
	d.Broadcaster.Broadcast(broadcast.ToChannelExcept(prev, msg.UserID), event(wire.ChannelMemberLeft{
		ChannelID: prev,
		UserID:    msg.UserID,
	}))
	d.audit(ctx, &user.ID, "client_kick_channel", "user", msg.UserID.String(), msg.Reason)
	return respond(id, wire.ClientKickResponse{}), nil
}

// serverKick tears down every collaborator entry for user and, if still
// connected, force-closes its connection with a terminal error frame
// (§4.2, §4.3).
func (d *Dispatcher) serverKick(_ context.Context, user ids.UserID, reason string) {
	d.Router.Leave(user)
	d.Voice.Remove(user)
	d.Presence.Disconnect(user)
	d.Broadcaster.Unregister(user)
	if target, ok := d.Registry.Get(user); ok {
		target.Kick(event(wire.Error{Code: wire.ErrorBanned, Message: reason}))
		d.Registry.Remove(user, target)
	}
}

// handleClientBan implements Ban (§4.3): persists a ban record, then
// performs a server-kick.
func (d *Dispatcher) handleClientBan(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ClientBan) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, ids.NilChannel, PermClientBanServer)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "client ban denied"), nil
	}

	target := msg.UserID
	ban := &model.Ban{
		UserID:    &target,
		Reason:    msg.Reason,
		CreatedAt: d.now(),
	}
	if msg.DurationS > 0 {
		expires := d.now().Add(time.Duration(msg.DurationS) * time.Second)
		ban.ExpiresAt = &expires
	}
	if err := d.Bans.Create(ctx, ban); err != nil {
		return errorResponse(id, wire.ErrorInternal, "recording ban"), nil
	}

	d.serverKick(ctx, target, msg.Reason)
	d.audit(ctx, &user.ID, "client_ban", "user", target.String(), msg.Reason)
	return respond(id, wire.ClientBanResponse{}), nil
}

// handleClientMove implements Move (§4.3): switches the target's channel
// and notifies it with a synthetic join response.
func (d *Dispatcher) handleClientMove(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ClientMove) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, msg.ChannelID, PermClientMove)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "client move denied"), nil
	}

	p, ok := d.Presence.Get(msg.UserID)
	if !ok {
		return errorResponse(id, wire.ErrorNotFound, "unknown client"), nil
	}
	prev := p.ChannelID

	if !d.Presence.Join(msg.UserID, msg.ChannelID) {
		return errorResponse(id, wire.ErrorInternal, "presence join failed"), nil
	}
	if entry, ok := d.Voice.Get(msg.UserID); ok {
		d.Voice.SetChannel(msg.UserID, msg.ChannelID)
		queue := d.Router.Join(msg.UserID, msg.ChannelID, entry.Endpoint)
		if d.OnVoiceJoin != nil {
			d.OnVoiceJoin(msg.UserID, entry.Endpoint, queue)
		}
	}

	if prev != ids.NilChannel {
		d.Broadcaster.Broadcast(broadcast.ToChannelExcept(prev, msg.UserID), event(wire.ChannelMemberLeft{
			ChannelID: prev, UserID: msg.UserID,
		}))
	}
	d.Broadcaster.Broadcast(broadcast.ToChannelExcept(msg.ChannelID, msg.UserID), event(wire.ChannelMemberJoined{
		ChannelID: msg.ChannelID, UserID: msg.UserID, Nickname: p.Nickname,
	}))
	d.Broadcaster.Broadcast(broadcast.ToUser(msg.UserID), event(wire.ChannelJoinResponse{ChannelID: msg.ChannelID}))

	return respond(id, wire.ClientMoveResponse{}), nil
}

// handleClientPoke implements Poke (§4.3): forwards a short text message
// as a peer event.
func (d *Dispatcher) handleClientPoke(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ClientPoke) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, d.currentChannel(user.ID), PermClientPoke)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "client poke denied"), nil
	}
	if _, ok := d.Presence.Get(msg.UserID); !ok {
		return errorResponse(id, wire.ErrorNotFound, "unknown client"), nil
	}

	d.Broadcaster.Broadcast(broadcast.ToUser(msg.UserID), event(wire.ClientPoked{
		FromUserID: user.ID,
		Message:    msg.Message,
	}))
	return respond(id, wire.ClientPokeResponse{}), nil
}

// handleClientUpdate implements Update (§4.3): sets whichever of the
// caller's own nickname, away, and mute flags the request carries, then
// broadcasts the caller's full resulting status to every other client.
func (d *Dispatcher) handleClientUpdate(_ context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ClientUpdate) (*wire.Envelope, error) {
	user := conn.User()

	if msg.Nickname != nil {
		d.Presence.UpdateNickname(user.ID, *msg.Nickname)
	}
	if msg.Away != nil {
		away := *msg.Away
		p, _ := d.Presence.Get(user.ID)
		d.Presence.SetAway(user.ID, away, p.AwayMessage)
	}
	if msg.Muted != nil {
		muted := *msg.Muted
		d.Presence.UpdateMute(user.ID, muted, muted)
	}

	p, _ := d.Presence.Get(user.ID)
	d.broadcastStatus(p)
	return respond(id, wire.ClientUpdateResponse{}), nil
}

func (d *Dispatcher) broadcastStatus(p presence.ClientPresence) {
	d.Broadcaster.Broadcast(broadcast.ToAllExcept(p.UserID), event(wire.ClientStatusChanged{
		UserID:      p.UserID,
		Nickname:    p.Nickname,
		Away:        p.Away,
		AwayMessage: p.AwayMessage,
		InputMuted:  p.InputMuted,
		OutputMuted: p.OutputMuted,
	}))
}
