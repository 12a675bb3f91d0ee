// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"context"

	"github.com/speakeasy-voice/speakeasy/internal/broadcast"
	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

// handleServerInfo implements ServerInfo (§4.3): the current connected
// client count against the configured capacity.
func (d *Dispatcher) handleServerInfo(_ context.Context, _ *connection.Conn, id ids.RequestID) (*wire.Envelope, error) {
	return respond(id, wire.ServerInfoResponse{
		Name:        d.Identity.Name,
		ClientCount: len(d.Presence.List()),
		MaxClients:  d.Identity.MaxClients,
	}), nil
}

// handleServerEdit implements Edit (§4.3), gated on b_server_edit.
func (d *Dispatcher) handleServerEdit(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ServerEdit) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, ids.NilChannel, PermServerEdit)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "server edit denied"), nil
	}
	if msg.Name != nil {
		d.Identity.Name = *msg.Name
	}
	d.audit(ctx, &user.ID, "server_edit", "server", "", "")
	return respond(id, wire.ServerEditResponse{}), nil
}

// handleServerStop implements Stop (§4.3), gated on b_server_stop: warns
// every connected client, then hands off to the collaborator's shutdown
// hook.
func (d *Dispatcher) handleServerStop(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.ServerStop) (*wire.Envelope, error) {
	user := conn.User()
	allowed, err := d.allowed(ctx, user.ID, ids.NilChannel, PermServerStop)
	if err != nil {
		return errorResponse(id, wire.ErrorInternal, "resolving permission"), nil
	}
	if !allowed {
		return errorResponse(id, wire.ErrorPermissionDenied, "server stop denied"), nil
	}

	d.Broadcaster.Broadcast(broadcast.ToAll(), event(wire.Error{
		Code:    wire.ErrorServerStopping,
		Message: msg.Reason,
	}))
	d.audit(ctx, &user.ID, "server_stop", "server", "", msg.Reason)
	if d.Shutdown != nil {
		d.Shutdown(msg.Reason)
	}
	return respond(id, wire.ServerStopResponse{}), nil
}
