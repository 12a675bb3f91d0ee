// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
)

// Message is any control-plane payload that can travel inside an Envelope.
// Concrete types are registered in the type registry below so that
// encode/decode can round-trip through the "type" discriminant field.
type Message interface {
	messageType() string
}

// Envelope is the outermost shape of every control-plane frame: a
// correlation id chosen by the sender of a request (zero for
// fire-and-forget notifications) and exactly one tagged Message.
type Envelope struct {
	RequestID ids.RequestID
	Message   Message
}

type wireEnvelope struct {
	RequestID ids.RequestID   `json:"request_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// ErrorCode enumerates the stable error reasons carried by an Error message.
type ErrorCode string

const (
	ErrorInvalidCredentials ErrorCode = "invalid_credentials"
	ErrorAlreadyLoggedIn    ErrorCode = "already_logged_in"
	ErrorSessionExpired     ErrorCode = "session_expired"
	ErrorPermissionDenied   ErrorCode = "permission_denied"
	ErrorNotFound           ErrorCode = "not_found"
	ErrorInvalidRequest     ErrorCode = "invalid_request"
	ErrorBanned             ErrorCode = "banned"
	ErrorInternal           ErrorCode = "internal_error"
	ErrorServerStopping     ErrorCode = "server_stopping"
)

// UnknownMessage is the sentinel decoded in place of a payload whose "type"
// discriminant is not recognized, so that forward-compatible peers can skip
// messages from a newer protocol revision instead of dropping the connection.
type UnknownMessage struct {
	Type string
	Raw  json.RawMessage
}

func (UnknownMessage) messageType() string { return "" }

// --- Session ---

type Login struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	APIToken string `json:"api_token,omitempty"`
	Nickname string `json:"nickname"`
}

func (Login) messageType() string { return "login" }

type LoginResponse struct {
	UserID             ids.UserID `json:"user_id"`
	SessionID          string     `json:"session_id"`
	ServerName         string     `json:"server_name"`
	WelcomeText        string     `json:"welcome_text,omitempty"`
	ServerGroups       []string   `json:"server_groups,omitempty"`
	MustChangePassword bool       `json:"must_change_password,omitempty"`
}

func (LoginResponse) messageType() string { return "login_response" }

type Logout struct{}

func (Logout) messageType() string { return "logout" }

type LogoutResponse struct{}

func (LogoutResponse) messageType() string { return "logout_response" }

type Ping struct{}

func (Ping) messageType() string { return "ping" }

type Pong struct{}

func (Pong) messageType() string { return "pong" }

// --- Channels ---

type ChannelList struct{}

func (ChannelList) messageType() string { return "channel_list" }

type ChannelSummary struct {
	ID       ids.ChannelID `json:"id"`
	ParentID ids.ChannelID `json:"parent_id,omitempty"`
	Name     string        `json:"name"`
	Topic    string        `json:"topic,omitempty"`
}

type ChannelListResponse struct {
	Channels []ChannelSummary `json:"channels"`
}

func (ChannelListResponse) messageType() string { return "channel_list_response" }

type ChannelJoin struct {
	ChannelID ids.ChannelID `json:"channel_id"`
	Password  string        `json:"password,omitempty"`
}

func (ChannelJoin) messageType() string { return "channel_join" }

type ChannelJoinResponse struct {
	ChannelID ids.ChannelID `json:"channel_id"`
	Clients   []ids.UserID  `json:"clients,omitempty"`
}

func (ChannelJoinResponse) messageType() string { return "channel_join_response" }

// ChannelMemberJoined is a server-initiated event notifying a channel's
// existing members that a new client joined.
type ChannelMemberJoined struct {
	ChannelID ids.ChannelID `json:"channel_id"`
	UserID    ids.UserID    `json:"user_id"`
	Nickname  string        `json:"nickname"`
}

func (ChannelMemberJoined) messageType() string { return "channel_member_joined" }

// ChannelMemberLeft is a server-initiated event notifying a channel's
// remaining members that a client left.
type ChannelMemberLeft struct {
	ChannelID ids.ChannelID `json:"channel_id"`
	UserID    ids.UserID    `json:"user_id"`
}

func (ChannelMemberLeft) messageType() string { return "channel_member_left" }

type ChannelLeave struct{}

func (ChannelLeave) messageType() string { return "channel_leave" }

type ChannelCreate struct {
	ParentID ids.ChannelID `json:"parent_id,omitempty"`
	Name     string        `json:"name"`
	Topic    string        `json:"topic,omitempty"`
	Password string        `json:"password,omitempty"`
}

func (ChannelCreate) messageType() string { return "channel_create" }

type ChannelCreateResponse struct {
	ChannelID ids.ChannelID `json:"channel_id"`
}

func (ChannelCreateResponse) messageType() string { return "channel_create_response" }

type ChannelEdit struct {
	ChannelID ids.ChannelID `json:"channel_id"`
	Name      *string       `json:"name,omitempty"`
	Topic     *string       `json:"topic,omitempty"`
}

func (ChannelEdit) messageType() string { return "channel_edit" }

type ChannelEditResponse struct{}

func (ChannelEditResponse) messageType() string { return "channel_edit_response" }

type ChannelDelete struct {
	ChannelID ids.ChannelID `json:"channel_id"`
}

func (ChannelDelete) messageType() string { return "channel_delete" }

type ChannelDeleteResponse struct{}

func (ChannelDeleteResponse) messageType() string { return "channel_delete_response" }

// --- Clients ---

type ClientList struct{}

func (ClientList) messageType() string { return "client_list" }

type ClientSummary struct {
	UserID    ids.UserID    `json:"user_id"`
	Nickname  string        `json:"nickname"`
	ChannelID ids.ChannelID `json:"channel_id,omitempty"`
	Muted     bool          `json:"muted"`
	Away      bool          `json:"away"`
}

type ClientListResponse struct {
	Clients []ClientSummary `json:"clients"`
}

func (ClientListResponse) messageType() string { return "client_list_response" }

type ClientKick struct {
	UserID ids.UserID `json:"user_id"`
	Reason string     `json:"reason,omitempty"`
}

func (ClientKick) messageType() string { return "client_kick" }

type ClientKickResponse struct{}

func (ClientKickResponse) messageType() string { return "client_kick_response" }

type ClientBan struct {
	UserID     ids.UserID `json:"user_id"`
	Reason     string     `json:"reason,omitempty"`
	DurationS  int64      `json:"duration_seconds,omitempty"`
}

func (ClientBan) messageType() string { return "client_ban" }

type ClientBanResponse struct{}

func (ClientBanResponse) messageType() string { return "client_ban_response" }

type ClientMove struct {
	UserID    ids.UserID    `json:"user_id"`
	ChannelID ids.ChannelID `json:"channel_id"`
}

func (ClientMove) messageType() string { return "client_move" }

type ClientMoveResponse struct{}

func (ClientMoveResponse) messageType() string { return "client_move_response" }

type ClientPoke struct {
	UserID  ids.UserID `json:"user_id"`
	Message string     `json:"message"`
}

func (ClientPoke) messageType() string { return "client_poke" }

type ClientPokeResponse struct{}

func (ClientPokeResponse) messageType() string { return "client_poke_response" }

// ClientPoked is the peer event delivered to a poke's target.
type ClientPoked struct {
	FromUserID ids.UserID `json:"from_user_id"`
	Message    string     `json:"message"`
}

func (ClientPoked) messageType() string { return "client_poked" }

type ClientUpdate struct {
	Nickname *string `json:"nickname,omitempty"`
	Away     *bool   `json:"away,omitempty"`
	Muted    *bool   `json:"muted,omitempty"`
}

func (ClientUpdate) messageType() string { return "client_update" }

type ClientUpdateResponse struct{}

func (ClientUpdateResponse) messageType() string { return "client_update_response" }

// ClientStatusChanged is a server-initiated event broadcast whenever a
// client's nickname, away state, or mute flags change.
type ClientStatusChanged struct {
	UserID      ids.UserID `json:"user_id"`
	Nickname    string     `json:"nickname"`
	Away        bool       `json:"away"`
	AwayMessage string     `json:"away_message,omitempty"`
	InputMuted  bool       `json:"input_muted"`
	OutputMuted bool       `json:"output_muted"`
}

func (ClientStatusChanged) messageType() string { return "client_status_changed" }

// --- Server ---

type ServerInfo struct{}

func (ServerInfo) messageType() string { return "server_info" }

type ServerInfoResponse struct {
	Name        string `json:"name"`
	ClientCount int    `json:"client_count"`
	MaxClients  int    `json:"max_clients"`
}

func (ServerInfoResponse) messageType() string { return "server_info_response" }

type ServerEdit struct {
	Name *string `json:"name,omitempty"`
}

func (ServerEdit) messageType() string { return "server_edit" }

type ServerEditResponse struct{}

func (ServerEditResponse) messageType() string { return "server_edit_response" }

type ServerStop struct {
	Reason string `json:"reason,omitempty"`
}

func (ServerStop) messageType() string { return "server_stop" }

type ServerStopResponse struct{}

func (ServerStopResponse) messageType() string { return "server_stop_response" }

// --- Permissions ---

type PermissionList struct {
	ChannelID ids.ChannelID `json:"channel_id,omitempty"`
}

func (PermissionList) messageType() string { return "permission_list" }

type PermissionEntry struct {
	Key   string `json:"key"`
	Value int    `json:"value"`
}

type PermissionListResponse struct {
	Permissions []PermissionEntry `json:"permissions"`
}

func (PermissionListResponse) messageType() string { return "permission_list_response" }

type PermissionAdd struct {
	GroupID string `json:"group_id"`
	Key     string `json:"key"`
	Value   int    `json:"value"`
}

func (PermissionAdd) messageType() string { return "permission_add" }

type PermissionAddResponse struct{}

func (PermissionAddResponse) messageType() string { return "permission_add_response" }

type PermissionRemove struct {
	GroupID string `json:"group_id"`
	Key     string `json:"key"`
}

func (PermissionRemove) messageType() string { return "permission_remove" }

type PermissionRemoveResponse struct{}

func (PermissionRemoveResponse) messageType() string { return "permission_remove_response" }

// --- Voice setup ---

// VoiceInit requests a voice session. Endpoint is the "host:port" the
// client intends to send UDP datagrams from; the voice server's ingress
// loop matches each datagram's source address against it exactly and
// drops datagrams from any other address.
type VoiceInit struct {
	Endpoint string `json:"endpoint"`
}

func (VoiceInit) messageType() string { return "voice_init" }

type VoiceReady struct {
	SSRC    ids.SSRC `json:"ssrc"`
	UDPPort int      `json:"udp_port"`
}

func (VoiceReady) messageType() string { return "voice_ready" }

type VoiceDisconnect struct{}

func (VoiceDisconnect) messageType() string { return "voice_disconnect" }

// --- Chat ---

type ChatSend struct {
	ChannelID     ids.ChannelID `json:"channel_id,omitempty"`
	ToUserID      ids.UserID    `json:"to_user_id,omitempty"`
	Text          string        `json:"text"`
	AttachmentRef string        `json:"attachment_ref,omitempty"`
}

func (ChatSend) messageType() string { return "chat_send" }

type ChatSendResponse struct {
	MessageID string `json:"message_id"`
}

func (ChatSendResponse) messageType() string { return "chat_send_response" }

type ChatEdit struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

func (ChatEdit) messageType() string { return "chat_edit" }

type ChatEditResponse struct{}

func (ChatEditResponse) messageType() string { return "chat_edit_response" }

type ChatDelete struct {
	MessageID string `json:"message_id"`
}

func (ChatDelete) messageType() string { return "chat_delete" }

type ChatDeleteResponse struct{}

func (ChatDeleteResponse) messageType() string { return "chat_delete_response" }

type ChatHistory struct {
	ChannelID ids.ChannelID `json:"channel_id,omitempty"`
	Limit     int           `json:"limit,omitempty"`
}

func (ChatHistory) messageType() string { return "chat_history" }

type ChatEntry struct {
	MessageID     string     `json:"message_id"`
	FromUserID    ids.UserID `json:"from_user_id"`
	Text          string     `json:"text"`
	AttachmentRef string     `json:"attachment_ref,omitempty"`
	SentAtUnix    int64      `json:"sent_at_unix"`
}

type ChatHistoryResponse struct {
	Entries []ChatEntry `json:"entries"`
}

func (ChatHistoryResponse) messageType() string { return "chat_history_response" }

// ChatReceived is the server-initiated event delivering a sent, edited,
// or deleted chat message to its recipients.
type ChatReceived struct {
	MessageID     string        `json:"message_id"`
	ChannelID     ids.ChannelID `json:"channel_id,omitempty"`
	FromUserID    ids.UserID    `json:"from_user_id"`
	Text          string        `json:"text"`
	AttachmentRef string        `json:"attachment_ref,omitempty"`
	Deleted       bool          `json:"deleted,omitempty"`
	SentAtUnix    int64         `json:"sent_at_unix"`
}

func (ChatReceived) messageType() string { return "chat_received" }

// --- Invites (module addition) ---

type Invite struct {
	Code string `json:"code"`
}

func (Invite) messageType() string { return "invite" }

type InviteResponse struct {
	ChannelID ids.ChannelID `json:"channel_id"`
}

func (InviteResponse) messageType() string { return "invite_response" }

// --- Errors ---

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

func (Error) messageType() string { return "error" }

// registry maps the wire "type" discriminant to a zero-value instance
// used only for its concrete Go type when decoding.
var registry = map[string]func() Message{
	"login":                    func() Message { return &Login{} },
	"login_response":           func() Message { return &LoginResponse{} },
	"logout":                   func() Message { return &Logout{} },
	"logout_response":          func() Message { return &LogoutResponse{} },
	"ping":                     func() Message { return &Ping{} },
	"pong":                     func() Message { return &Pong{} },
	"channel_list":             func() Message { return &ChannelList{} },
	"channel_list_response":    func() Message { return &ChannelListResponse{} },
	"channel_join":             func() Message { return &ChannelJoin{} },
	"channel_join_response":    func() Message { return &ChannelJoinResponse{} },
	"channel_member_joined":    func() Message { return &ChannelMemberJoined{} },
	"channel_member_left":      func() Message { return &ChannelMemberLeft{} },
	"channel_leave":            func() Message { return &ChannelLeave{} },
	"channel_create":           func() Message { return &ChannelCreate{} },
	"channel_create_response":  func() Message { return &ChannelCreateResponse{} },
	"channel_edit":             func() Message { return &ChannelEdit{} },
	"channel_edit_response":    func() Message { return &ChannelEditResponse{} },
	"channel_delete":           func() Message { return &ChannelDelete{} },
	"channel_delete_response":  func() Message { return &ChannelDeleteResponse{} },
	"client_list":              func() Message { return &ClientList{} },
	"client_list_response":     func() Message { return &ClientListResponse{} },
	"client_kick":              func() Message { return &ClientKick{} },
	"client_kick_response":     func() Message { return &ClientKickResponse{} },
	"client_ban":               func() Message { return &ClientBan{} },
	"client_ban_response":      func() Message { return &ClientBanResponse{} },
	"client_move":              func() Message { return &ClientMove{} },
	"client_move_response":     func() Message { return &ClientMoveResponse{} },
	"client_poke":              func() Message { return &ClientPoke{} },
	"client_poke_response":     func() Message { return &ClientPokeResponse{} },
	"client_poked":             func() Message { return &ClientPoked{} },
	"client_update":            func() Message { return &ClientUpdate{} },
	"client_update_response":   func() Message { return &ClientUpdateResponse{} },
	"client_status_changed":    func() Message { return &ClientStatusChanged{} },
	"server_info":              func() Message { return &ServerInfo{} },
	"server_info_response":     func() Message { return &ServerInfoResponse{} },
	"server_edit":              func() Message { return &ServerEdit{} },
	"server_edit_response":     func() Message { return &ServerEditResponse{} },
	"server_stop":              func() Message { return &ServerStop{} },
	"server_stop_response":     func() Message { return &ServerStopResponse{} },
	"permission_list":          func() Message { return &PermissionList{} },
	"permission_list_response": func() Message { return &PermissionListResponse{} },
	"permission_add":           func() Message { return &PermissionAdd{} },
	"permission_add_response":  func() Message { return &PermissionAddResponse{} },
	"permission_remove":        func() Message { return &PermissionRemove{} },
	"permission_remove_response": func() Message { return &PermissionRemoveResponse{} },
	"voice_init":               func() Message { return &VoiceInit{} },
	"voice_ready":              func() Message { return &VoiceReady{} },
	"voice_disconnect":         func() Message { return &VoiceDisconnect{} },
	"chat_send":                func() Message { return &ChatSend{} },
	"chat_send_response":       func() Message { return &ChatSendResponse{} },
	"chat_edit":                func() Message { return &ChatEdit{} },
	"chat_edit_response":       func() Message { return &ChatEditResponse{} },
	"chat_delete":              func() Message { return &ChatDelete{} },
	"chat_delete_response":     func() Message { return &ChatDeleteResponse{} },
	"chat_history":             func() Message { return &ChatHistory{} },
	"chat_history_response":    func() Message { return &ChatHistoryResponse{} },
	"chat_received":            func() Message { return &ChatReceived{} },
	"invite":                   func() Message { return &Invite{} },
	"invite_response":          func() Message { return &InviteResponse{} },
	"error":                    func() Message { return &Error{} },
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var we wireEnvelope
	if err := json.Unmarshal(raw, &we); err != nil {
		return Envelope{}, fmt.Errorf("wire: decoding envelope: %w", err)
	}
	ctor, ok := registry[we.Type]
	if !ok {
		return Envelope{
			RequestID: we.RequestID,
			Message:   UnknownMessage{Type: we.Type, Raw: we.Payload},
		}, nil
	}
	msg := ctor()
	if len(we.Payload) > 0 {
		if err := json.Unmarshal(we.Payload, msg); err != nil {
			return Envelope{}, fmt.Errorf("wire: decoding payload for %q: %w", we.Type, err)
		}
	}
	return Envelope{RequestID: we.RequestID, Message: derefMessage(msg)}, nil
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env.Message)
	if err != nil {
		return nil, err
	}
	we := wireEnvelope{
		RequestID: env.RequestID,
		Type:      env.Message.messageType(),
		Payload:   payload,
	}
	return json.Marshal(we)
}

// derefMessage unwraps the pointer receivers used by the registry so
// callers can type-switch on value types.
func derefMessage(m Message) Message {
	switch v := m.(type) {
	case *Login:
		return *v
	case *LoginResponse:
		return *v
	case *Logout:
		return *v
	case *LogoutResponse:
		return *v
	case *Ping:
		return *v
	case *Pong:
		return *v
	case *ChannelList:
		return *v
	case *ChannelListResponse:
		return *v
	case *ChannelJoin:
		return *v
	case *ChannelJoinResponse:
		return *v
	case *ChannelMemberJoined:
		return *v
	case *ChannelMemberLeft:
		return *v
	case *ChannelLeave:
		return *v
	case *ChannelCreate:
		return *v
	case *ChannelCreateResponse:
		return *v
	case *ChannelEdit:
		return *v
	case *ChannelEditResponse:
		return *v
	case *ChannelDelete:
		return *v
	case *ChannelDeleteResponse:
		return *v
	case *ClientList:
		return *v
	case *ClientListResponse:
		return *v
	case *ClientKick:
		return *v
	case *ClientKickResponse:
		return *v
	case *ClientBan:
		return *v
	case *ClientBanResponse:
		return *v
	case *ClientMove:
		return *v
	case *ClientMoveResponse:
		return *v
	case *ClientPoke:
		return *v
	case *ClientPokeResponse:
		return *v
	case *ClientPoked:
		return *v
	case *ClientUpdate:
		return *v
	case *ClientUpdateResponse:
		return *v
	case *ClientStatusChanged:
		return *v
	case *ServerInfo:
		return *v
	case *ServerInfoResponse:
		return *v
	case *ServerEdit:
		return *v
	case *ServerEditResponse:
		return *v
	case *ServerStop:
		return *v
	case *ServerStopResponse:
		return *v
	case *PermissionList:
		return *v
	case *PermissionListResponse:
		return *v
	case *PermissionAdd:
		return *v
	case *PermissionAddResponse:
		return *v
	case *PermissionRemove:
		return *v
	case *PermissionRemoveResponse:
		return *v
	case *VoiceInit:
		return *v
	case *VoiceReady:
		return *v
	case *VoiceDisconnect:
		return *v
	case *ChatSend:
		return *v
	case *ChatSendResponse:
		return *v
	case *ChatEdit:
		return *v
	case *ChatEditResponse:
		return *v
	case *ChatDelete:
		return *v
	case *ChatDeleteResponse:
		return *v
	case *ChatHistory:
		return *v
	case *ChatHistoryResponse:
		return *v
	case *ChatReceived:
		return *v
	case *Invite:
		return *v
	case *InviteResponse:
		return *v
	case *Error:
		return *v
	default:
		return m
	}
}
