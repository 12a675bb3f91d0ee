// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"context"
	"errors"

	"github.com/speakeasy-voice/speakeasy/internal/broadcast"
	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

// handleChannelList returns persisted channels merged with any ephemeral
// channel that currently has voice members but no persisted record
// (§4.3).
func (d *Dispatcher) handleChannelList(ctx context.Context, _ *connection.Conn, id ids.RequestID) (*wire.Envelope, error) {
	persisted, err := d.Channels.List(ctx)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "listing channels"), nil
	}

	seen := make(map[ids.ChannelID]struct{}, len(persisted))
	out := make([]wire.ChannelSummary, 0, len(persisted))
	for _, c := range persisted {
		seen[c.ID] = struct{}{}
		sum := wire.ChannelSummary{ID: c.ID, Name: c.Name, Topic: c.Topic}
		if c.ParentID != nil {
			sum.ParentID = *c.ParentID
		}
		out = append(out, sum)
	}
	for _, ch := range d.Router.Channels() {
		if _, ok := seen[ch]; ok {
			continue
		}
		out = append(out, wire.ChannelSummary{ID: ch})
	}

	return respond(id, wire.ChannelListResponse{Channels: out}), nil
}

// resolveChannel reports whether channel exists, either as a persisted
// record or as a live ephemeral one with at least one voice member
// (SPEC_FULL.md's channel-lifetime resolution).
func (d *Dispatcher) resolveChannel(ctx context.Context, channel ids.ChannelID) (*model.Channel, bool) {
	c, err := d.Channels.GetByID(ctx, channel)
	if err == nil && c != nil {
		return c, true
	}
	if len(d.Router.Members(channel)) > 0 {
		return nil, true
	}
	return nil, false
}

// handleChannelJoin implements Join (§4.3): permission-gated, atomically
// leaves any previous channel, and keeps an active voice session's
// router/voice-state membership synchronized with presence.
func (d *Dispatcher) handleChannelJoin(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ChannelJoin) (*wire.Envelope, error) {
	user := conn.User()
	channel, persisted := d.resolveChannel(ctx, msg.ChannelID)
	if !persisted {
		return errorResponse(id, wire.ErrorNotFound, "unknown channel"), nil
	}
	if channel != nil && channel.Password != "" && channel.Password != msg.Password {
		return errorResponse(id, wire.ErrorPermissionDenied, "incorrect channel password"), nil
	}

	allowed, err := d.allowed(ctx, user.ID, msg.ChannelID, PermChannelJoin)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "channel join denied"), nil
	}

	if !d.Presence.Join(user.ID, msg.ChannelID) {
		return errorResponse(id, wire.ErrorInternal, "presence join failed"), nil
	}
	if err := conn.Machine().JoinedChannel(); err != nil {
		_ = err // already InChannel, switching channels: no state transition needed
	}

	if entry, ok := d.Voice.Get(user.ID); ok {
		d.Voice.SetChannel(user.ID, msg.ChannelID)
		d.Router.Join(user.ID, msg.ChannelID, entry.Endpoint)
	}

	p, _ := d.Presence.Get(user.ID)
	members := d.Presence.Members(msg.ChannelID)
	clients := make([]ids.UserID, 0, len(members))
	for _, m := range members {
		if m != user.ID {
			clients = append(clients, m)
		}
	}

	d.Broadcaster.Broadcast(broadcast.ToChannelExcept(msg.ChannelID, user.ID), event(wire.ChannelMemberJoined{
		ChannelID: msg.ChannelID,
		UserID:    user.ID,
		Nickname:  p.Nickname,
	}))

	return respond(id, wire.ChannelJoinResponse{ChannelID: msg.ChannelID, Clients: clients}), nil
}

// handleChannelLeave implements Leave (§4.3): a no-op, reporting success,
// when the client is not currently in any channel.
func (d *Dispatcher) handleChannelLeave(ctx context.Context, conn *connection.Conn, id ids.RequestID) (*wire.Envelope, error) {
	user := conn.User()
	p, ok := d.Presence.Get(user.ID)
	if !ok || p.ChannelID == ids.NilChannel {
		return respond(id, wire.ChannelLeave{}), nil
	}
	prev := p.ChannelID
	d.Presence.Leave(user.ID)
	_ = conn.Machine().LeftChannel()

	d.Broadcaster.Broadcast(broadcast.ToChannelExcept(prev, user.ID), event(wire.ChannelMemberLeft{
		ChannelID: prev,
		UserID:    user.ID,
	}))
	_ = ctx
	return respond(id, wire.ChannelLeave{}), nil
}

// handleChannelCreate implements Create (§4.3), gated on b_channel_create
// resolved against the server-default tier since the new channel has no
// identity of its own yet.
func (d *Dispatcher) handleChannelCreate(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ChannelCreate) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, ids.NilChannel, PermChannelCreate)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "channel create denied"), nil
	}
	if msg.Name == "" {
		return errorResponse(id, wire.ErrorInvalidRequest, "channel name must not be empty"), nil
	}

	c := &model.Channel{
		ID:        ids.NewChannelID(),
		Name:      msg.Name,
		Topic:     msg.Topic,
		Password:  msg.Password,
		Persisted: true,
	}
	if msg.ParentID != ids.NilChannel {
		parent := msg.ParentID
		c.ParentID = &parent
	}
	if err := d.Channels.Create(ctx, c); err != nil {
		return errorResponse(id, wire.ErrorInternal, "creating channel"), nil
	}

	d.audit(ctx, &user.ID, "channel_create", "channel", c.ID.String(), c.Name)
	return respond(id, wire.ChannelCreateResponse{ChannelID: c.ID}), nil
}

// handleChannelEdit implements Edit (§4.3), gated on b_channel_modify.
func (d *Dispatcher) handleChannelEdit(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ChannelEdit) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, msg.ChannelID, PermChannelModify)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "channel modify denied"), nil
	}

	c, err := d.Channels.GetByID(ctx, msg.ChannelID)
	if err != nil || c == nil {
		return errorResponse(id, wire.ErrorNotFound, "unknown channel"), nil
	}
	if msg.Name != nil {
		c.Name = *msg.Name
	}
	if msg.Topic != nil {
		c.Topic = *msg.Topic
	}
	if err := d.Channels.Update(ctx, c); err != nil {
		return errorResponse(id, wire.ErrorInternal, "updating channel"), nil
	}
	return respond(id, wire.ChannelEditResponse{}), nil
}

// handleChannelDelete implements Delete (§4.3), gated on
// b_channel_delete; displaced members move to the channel's configured
// delete target, if any, otherwise they simply leave.
func (d *Dispatcher) handleChannelDelete(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ChannelDelete) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, msg.ChannelID, PermChannelDelete)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "channel delete denied"), nil
	}

	c, err := d.Channels.GetByID(ctx, msg.ChannelID)
	if err != nil || c == nil {
		return errorResponse(id, wire.ErrorNotFound, "unknown channel"), nil
	}

	for _, member := range d.Presence.Members(msg.ChannelID) {
		if c.DeleteTarget != nil {
			d.Presence.Join(member, *c.DeleteTarget)
			if target, ok := d.Registry.Get(member); ok {
				target.Send(event(wire.ChannelJoinResponse{ChannelID: *c.DeleteTarget}))
			}
		} else {
			d.Presence.Leave(member)
		}
	}

	if err := d.Channels.Delete(ctx, msg.ChannelID); err != nil && !errors.Is(err, context.Canceled) {
		return errorResponse(id, wire.ErrorInternal, "deleting channel"), nil
	}
	d.audit(ctx, &user.ID, "channel_delete", "channel", msg.ChannelID.String(), "")
	return respond(id, wire.ChannelDeleteResponse{}), nil
}
