// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"context"
	"net"

	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/presence"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

// handleLogin implements the auth handler (§4.3): IP ban check, then
// credential or API-token verification, then a user-id ban check, before
// a session is ever exposed to the client.
func (d *Dispatcher) handleLogin(ctx context.Context, conn *connection.Conn, id ids.RequestID, msg wire.Login) (*wire.Envelope, error) {
	if conn.Machine().IsAuthenticated() {
		return errorResponse(id, wire.ErrorAlreadyLoggedIn, "connection already authenticated"), nil
	}

	peerIP := hostOf(conn.PeerAddr())
	if ban, banned, err := d.Bans.IsBanned(ctx, nil, peerIP); err == nil && banned {
		conn.Kick(event(wire.Error{Code: wire.ErrorBanned, Message: ban.Reason}))
		return nil, nil
	}

	if err := conn.Machine().BeginAuthenticating(); err != nil {
		return errorResponse(id, wire.ErrorInvalidRequest, "invalid connection state"), nil
	}

	var authedUser *model.User
	var token string

	if msg.APIToken != "" {
		u, session, err := d.Auth.ValidateAPIToken(ctx, msg.APIToken)
		if err != nil {
			_ = conn.Machine().AbortAuthentication()
			return errorResponse(id, wire.ErrorInvalidCredentials, "invalid api token"), nil
		}
		authedUser, token = u, session.Token
	} else {
		u, session, err := d.Auth.Login(ctx, msg.Username, msg.Password)
		if err != nil {
			_ = conn.Machine().AbortAuthentication()
			return errorResponse(id, wire.ErrorInvalidCredentials, "invalid username or password"), nil
		}
		authedUser, token = u, session.Token
	}

	if ban, banned, err := d.Bans.IsBanned(ctx, &authedUser.ID, ""); err == nil && banned {
		_ = d.Auth.Logout(ctx, token)
		_ = conn.Machine().AbortAuthentication()
		conn.Kick(event(wire.Error{Code: wire.ErrorBanned, Message: ban.Reason}))
		return nil, nil
	}

	if err := conn.Machine().CompleteAuthentication(); err != nil {
		_ = d.Auth.Logout(ctx, token)
		return errorResponse(id, wire.ErrorInternal, "state transition failed"), nil
	}

	conn.SetUser(authedUser, token)
	q := d.Broadcaster.Register(authedUser.ID)
	conn.BindOutbound(q)
	d.Registry.Put(authedUser.ID, conn)

	nickname := msg.Nickname
	if nickname == "" {
		nickname = authedUser.DisplayName
	}
	d.Presence.Connect(authedUser.ID, presence.ClientPresence{Nickname: nickname})

	if def, err := d.Channels.GetDefault(ctx); err == nil && def != nil {
		if d.Presence.Join(authedUser.ID, def.ID) {
			_ = conn.Machine().JoinedChannel()
		}
	}

	d.audit(ctx, &authedUser.ID, "login", "user", authedUser.ID.String(), "")

	return respond(id, wire.LoginResponse{
		UserID:             authedUser.ID,
		SessionID:          token,
		ServerName:         d.Identity.Name,
		ServerGroups:       authedUser.ServerGroups,
		MustChangePassword: authedUser.MustChangePassword,
	}), nil
}

// handleLogout invalidates the session and marks the connection closing;
// the run loop's own cleanup path de-registers the rest of the fabric
// once it observes the Closing state (§4.2).
func (d *Dispatcher) handleLogout(ctx context.Context, conn *connection.Conn, id ids.RequestID) (*wire.Envelope, error) {
	if token := conn.SessionToken(); token != "" {
		_ = d.Auth.Logout(ctx, token)
	}
	conn.Machine().Close()
	return respond(id, wire.LogoutResponse{}), nil
}

// audit records an administrative or security-relevant event, logging
// (not failing the request) if the audit log is unavailable.
func (d *Dispatcher) audit(ctx context.Context, actor *ids.UserID, action, targetType, targetID, details string) {
	if d.Audit == nil {
		return
	}
	err := d.Audit.LogEvent(ctx, &model.AuditLogEntry{
		ActorID:    actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		At:         d.now(),
	})
	if err != nil {
		d.logger().Warn("recording audit event", "action", action, "error", err)
	}
}

// hostOf strips the port from a "host:port" peer address, tolerating a
// bare host (e.g. from net.Pipe in tests, which has no port at all).
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
