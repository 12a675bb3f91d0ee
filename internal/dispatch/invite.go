// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"context"
	"slices"

	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

// handleInvite implements Invite redemption (§4.3, SPEC_FULL.md's invite
// service module addition): consumes a one-time code, joins the redeeming
// client to the invite's target channel, and grants its server group if
// the user does not already hold it.
func (d *Dispatcher) handleInvite(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.Invite) (*wire.Envelope, error) {
	user := conn.User()
	if msg.Code == "" {
		return errorResponse(id, wire.ErrorInvalidRequest, "invite code must not be empty"), nil
	}

	inv, err := d.Invites.Redeem(ctx, msg.Code, user.ID, d.now())
	if err != nil {
		return errorResponse(id, wire.ErrorNotFound, "invalid or expired invite code"), nil
	}

	if inv.ServerGroup != "" && !slices.Contains(user.ServerGroups, inv.ServerGroup) {
		user.ServerGroups = append(user.ServerGroups, inv.ServerGroup)
		if err := d.Users.Update(ctx, user); err == nil {
			d.Perms.InvalidateTarget(user.ID, ids.NilChannel)
		}
	}

	if d.Presence.Join(user.ID, inv.ChannelID) {
		_ = conn.Machine().JoinedChannel()
	}

	d.audit(ctx, &user.ID, "invite_redeem", "channel", inv.ChannelID.String(), msg.Code)
	return respond(id, wire.InviteResponse{ChannelID: inv.ChannelID}), nil
}
