// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/auth"
	"github.com/speakeasy-voice/speakeasy/internal/broadcast"
	"github.com/speakeasy-voice/speakeasy/internal/channelrouter"
	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/permcache"
	"github.com/speakeasy-voice/speakeasy/internal/presence"
	"github.com/speakeasy-voice/speakeasy/internal/voicestate"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

// ServerIdentity is the subset of server identity/capacity a handler
// needs, kept separate from internal/config so this package never
// imports it directly.
type ServerIdentity struct {
	Name       string
	MaxClients int
	UDPPort    int
}

// Collaborators bundles every external dependency the dispatcher routes
// requests through — the in-memory fabric plus the §6 repository
// collaborators.
type Collaborators struct {
	Presence    *presence.Manager
	Broadcaster *broadcast.Broadcaster
	Router      *channelrouter.Router
	Voice       *voicestate.Table
	Perms       *permcache.Cache
	Auth        *auth.Service

	Users       model.UserRepository
	Channels    model.ChannelRepository
	Permissions model.PermissionRepository
	Bans        model.BanRepository
	Invites     model.InviteRepository
	Chat        model.ChatRepository
	Audit       model.AuditLogRepository

	Registry *Registry
	Identity ServerIdentity
	Logger   *slog.Logger

	// Shutdown, if set, is invoked by ServerStop to begin a coordinated
	// server shutdown; nil makes ServerStop a no-op acknowledgement.
	Shutdown func(reason string)

	// OnVoiceJoin, if set, is invoked after VoiceInit joins the channel
	// router, handing the voice server the per-client queue it must drain
	// into UDP writes at endpoint; nil means no voice datagram server is
	// wired (control-plane-only operation, e.g. in tests).
	OnVoiceJoin func(user ids.UserID, endpoint string, queue <-chan *channelrouter.Datagram)
}

// Dispatcher implements connection.Dispatcher over the full control
// message set (§4.3). It never blocks on external I/O for un-authenticated
// paths other than Login itself.
type Dispatcher struct {
	Collaborators
	now func() time.Time
}

// New builds a Dispatcher over the given collaborators.
func New(c Collaborators) *Dispatcher {
	return &Dispatcher{Collaborators: c, now: time.Now}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Dispatch routes one decoded envelope to its handler. Login, Ping, and
// Pong are accepted in any connection state; everything else requires an
// authenticated connection and fails with SessionExpired otherwise (§4.2).
func (d *Dispatcher) Dispatch(ctx context.Context, conn *connection.Conn, env wire.Envelope) (*wire.Envelope, error) {
	switch msg := env.Message.(type) {
	case wire.Ping:
		return respond(env.RequestID, wire.Pong{}), nil
	case wire.Pong:
		return nil, nil
	case wire.Login:
		return d.handleLogin(ctx, conn, env.RequestID, msg)
	case wire.UnknownMessage:
		return nil, nil
	}

	if !conn.Machine().IsAuthenticated() {
		return errorResponse(env.RequestID, wire.ErrorSessionExpired, "connection is not authenticated"), nil
	}

	switch msg := env.Message.(type) {
	case wire.Logout:
		return d.handleLogout(ctx, conn, env.RequestID)

	case wire.ChannelList:
		return d.handleChannelList(ctx, conn, env.RequestID)
	case wire.ChannelJoin:
		return d.handleChannelJoin(ctx, conn, env.RequestID, msg)
	case wire.ChannelLeave:
		return d.handleChannelLeave(ctx, conn, env.RequestID)
	case wire.ChannelCreate:
		return d.handleChannelCreate(ctx, conn, env.RequestID, msg)
	case wire.ChannelEdit:
		return d.handleChannelEdit(ctx, conn, env.RequestID, msg)
	case wire.ChannelDelete:
		return d.handleChannelDelete(ctx, conn, env.RequestID, msg)

	case wire.ClientList:
		return d.handleClientList(ctx, conn, env.RequestID)
	case wire.ClientKick:
		return d.handleClientKick(ctx, conn, env.RequestID, msg)
	case wire.ClientBan:
		return d.handleClientBan(ctx, conn, env.RequestID, msg)
	case wire.ClientMove:
		return d.handleClientMove(ctx, conn, env.RequestID, msg)
	case wire.ClientPoke:
		return d.handleClientPoke(ctx, conn, env.RequestID, msg)
	case wire.ClientUpdate:
		return d.handleClientUpdate(ctx, conn, env.RequestID, msg)

	case wire.ServerInfo:
		return d.handleServerInfo(ctx, conn, env.RequestID)
	case wire.ServerEdit:
		return d.handleServerEdit(ctx, conn, env.RequestID, msg)
	case wire.ServerStop:
		return d.handleServerStop(ctx, conn, env.RequestID, msg)

	case wire.PermissionList:
		return d.handlePermissionList(ctx, conn, env.RequestID, msg)
	case wire.PermissionAdd:
		return d.handlePermissionAdd(ctx, conn, env.RequestID, msg)
	case wire.PermissionRemove:
		return d.handlePermissionRemove(ctx, conn, env.RequestID, msg)

	case wire.VoiceInit:
		return d.handleVoiceInit(ctx, conn, env.RequestID, msg)
	case wire.VoiceDisconnect:
		return d.handleVoiceDisconnect(ctx, conn, env.RequestID)

	case wire.ChatSend:
		return d.handleChatSend(ctx, conn, env.RequestID, msg)
	case wire.ChatEdit:
		return d.handleChatEdit(ctx, conn, env.RequestID, msg)
	case wire.ChatDelete:
		return d.handleChatDelete(ctx, conn, env.RequestID, msg)
	case wire.ChatHistory:
		return d.handleChatHistory(ctx, conn, env.RequestID, msg)

	case wire.Invite:
		return d.handleInvite(ctx, conn, env.RequestID, msg)

	default:
		return errorResponse(env.RequestID, wire.ErrorInvalidRequest, "unrecognized message variant"), nil
	}
}

// Cleanup de-registers a closing connection from every collaborator
// exactly once (§4.2's cleanup contract, §8 invariant 1): presence,
// broadcaster, voice-state, channel router, and the auth session.
func (d *Dispatcher) Cleanup(conn *connection.Conn) {
	u := conn.User()
	if u == nil {
		return
	}
	d.Registry.Remove(u.ID, conn)
	d.Router.Leave(u.ID)
	d.Voice.Remove(u.ID)
	d.Presence.Disconnect(u.ID)
	d.Broadcaster.Unregister(u.ID)
	if token := conn.SessionToken(); token != "" {
		_ = d.Auth.Logout(context.Background(), token)
	}
}

