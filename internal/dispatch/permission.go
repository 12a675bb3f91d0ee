// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"context"

	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

// handlePermissionList implements List (§4.3, §4.8): every key set on the
// server-default tier, or on a channel's default tier when ChannelID is
// given.
func (d *Dispatcher) handlePermissionList(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.PermissionList) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, msg.ChannelID, PermPermissionModify)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "permission list denied"), nil
	}

	target := model.PermissionTarget{Kind: model.TargetServerDefault}
	if msg.ChannelID != ids.NilChannel {
		target = model.PermissionTarget{Kind: model.TargetChannelDefault, ChannelID: msg.ChannelID}
	}

	input, err := d.Permissions.ResolveEffective(ctx, user.ID, msg.ChannelID)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "listing permissions"), nil
	}
	tier := input.ServerDefault
	if target.Kind == model.TargetChannelDefault {
		tier = input.ChannelDefault
	}

	out := make([]wire.PermissionEntry, 0, len(tier))
	for key, v := range tier {
		out = append(out, wire.PermissionEntry{Key: key, Value: int(v.Tri)})
	}
	return respond(id, wire.PermissionListResponse{Permissions: out}), nil
}

// handlePermissionAdd implements Add (§4.3, §4.8): sets a key on a named
// server group, invalidating every cached resolution since group
// membership isn't tracked per-target in the cache.
func (d *Dispatcher) handlePermissionAdd(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.PermissionAdd) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, ids.NilChannel, PermPermissionModify)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "permission modify denied"), nil
	}

	target := model.PermissionTarget{Kind: model.TargetGroup, Group: msg.GroupID}
	value := model.PermissionValue{Kind: model.ValueTriState, Tri: model.TriState(msg.Value)}
	if err := d.Permissions.Set(ctx, target, msg.Key, value); err != nil {
		return errorResponse(id, wire.ErrorInternal, "setting permission"), nil
	}
	d.Perms.Flush()
	d.audit(ctx, &user.ID, "permission_add", "group", msg.GroupID, msg.Key)
	return respond(id, wire.PermissionAddResponse{}), nil
}

// handlePermissionRemove implements Remove (§4.3, §4.8).
func (d *Dispatcher) handlePermissionRemove(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.PermissionRemove) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, ids.NilChannel, PermPermissionModify)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "permission modify denied"), nil
	}

	target := model.PermissionTarget{Kind: model.TargetGroup, Group: msg.GroupID}
	if err := d.Permissions.Remove(ctx, target, msg.Key); err != nil {
		return errorResponse(id, wire.ErrorInternal, "removing permission"), nil
	}
	d.Perms.Flush()
	d.audit(ctx, &user.ID, "permission_remove", "group", msg.GroupID, msg.Key)
	return respond(id, wire.PermissionRemoveResponse{}), nil
}
