// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"context"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
)

// Permission keys gated by handlers (§4.3, §4.8).
const (
	PermChannelJoin      = "b_channel_join"
	PermChannelCreate    = "b_channel_create"
	PermChannelModify    = "b_channel_modify"
	PermChannelDelete    = "b_channel_delete"
	PermClientKickChan   = "b_client_kick_channel"
	PermClientKickServer = "b_client_kick_server"
	PermClientBanServer  = "b_client_ban_server"
	PermClientMove       = "b_client_move"
	PermClientPoke       = "b_client_poke"
	PermPermissionModify = "b_permission_modify"
	PermChatSend         = "b_chat_send"
	PermServerEdit       = "b_server_edit"
	PermServerStop       = "b_server_stop"
)

// allowed resolves key for (user, channel) and reports whether it is
// allowed. A missing key resolves to allowed (§4.8, §9's "permission
// default" note); only an explicit Deny blocks.
func (d *Dispatcher) allowed(ctx context.Context, user ids.UserID, channel ids.ChannelID, key string) (bool, error) {
	resolved, err := d.Perms.Resolve(ctx, user, channel, key)
	if err != nil {
		return false, err
	}
	return resolved.Value.Tri != model.Deny, nil
}

// currentChannel returns the channel the user currently occupies, or
// ids.NilChannel if not in one — used as the resolution target for
// handlers that check a permission without an explicit channel argument.
func (d *Dispatcher) currentChannel(user ids.UserID) ids.ChannelID {
	p, ok := d.Presence.Get(user)
	if !ok {
		return ids.NilChannel
	}
	return p.ChannelID
}
