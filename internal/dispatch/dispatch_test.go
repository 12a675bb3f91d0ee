// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package dispatch_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/auth"
	"github.com/speakeasy-voice/speakeasy/internal/broadcast"
	"github.com/speakeasy-voice/speakeasy/internal/channelrouter"
	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/dispatch"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/permcache"
	"github.com/speakeasy-voice/speakeasy/internal/presence"
	"github.com/speakeasy-voice/speakeasy/internal/voicestate"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
	"github.com/stretchr/testify/require"
)

// --- fakes shared across this file's scenarios ---

type fakeUsers struct {
	mu   sync.Mutex
	byID map[ids.UserID]*model.User
}

func newFakeUsers(users ...*model.User) *fakeUsers {
	f := &fakeUsers{byID: map[ids.UserID]*model.User{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}
func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[u.ID] = u
	return nil
}
func (f *fakeUsers) GetByID(_ context.Context, id ids.UserID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, auth.ErrInvalidCredentials
	}
	return u, nil
}
func (f *fakeUsers) GetByName(_ context.Context, name string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Username == name {
			return u, nil
		}
	}
	return nil, auth.ErrInvalidCredentials
}
func (f *fakeUsers) Update(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[u.ID] = u
	return nil
}
func (f *fakeUsers) List(_ context.Context) ([]*model.User, error) { return nil, nil }
func (f *fakeUsers) Authenticate(_ context.Context, _, _ string) (*model.User, error) {
	return nil, auth.ErrInvalidCredentials
}
func (f *fakeUsers) UpdateLastLogin(_ context.Context, _ ids.UserID, _ time.Time) error { return nil }

type fakeBans struct {
	mu      sync.Mutex
	byIP    map[string]*model.Ban
	byUser  map[ids.UserID]*model.Ban
}

func newFakeBans() *fakeBans {
	return &fakeBans{byIP: map[string]*model.Ban{}, byUser: map[ids.UserID]*model.Ban{}}
}
func (f *fakeBans) Create(_ context.Context, b *model.Ban) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.UserID != nil {
		f.byUser[*b.UserID] = b
	}
	if b.IP != "" {
		f.byIP[b.IP] = b
	}
	return nil
}
func (f *fakeBans) List(_ context.Context) ([]*model.Ban, error) { return nil, nil }
func (f *fakeBans) Remove(_ context.Context, _ uint64) error     { return nil }
func (f *fakeBans) IsBanned(_ context.Context, user *ids.UserID, ip string) (*model.Ban, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user != nil {
		if b, ok := f.byUser[*user]; ok {
			return b, true, nil
		}
	}
	if ip != "" {
		if b, ok := f.byIP[ip]; ok {
			return b, true, nil
		}
	}
	return nil, false, nil
}
func (f *fakeBans) CleanupExpired(_ context.Context, _ time.Time) (int, error) { return 0, nil }

type fakeChannels struct {
	mu      sync.Mutex
	byID    map[ids.ChannelID]*model.Channel
	dflt    *model.Channel
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{byID: map[ids.ChannelID]*model.Channel{}}
}
func (f *fakeChannels) Create(_ context.Context, c *model.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[c.ID] = c
	return nil
}
func (f *fakeChannels) GetByID(_ context.Context, id ids.ChannelID) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}
func (f *fakeChannels) List(_ context.Context) ([]*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Channel, 0, len(f.byID))
	for _, c := range f.byID {
		out = append(out, c)
	}
	return out, nil
}
func (f *fakeChannels) Update(_ context.Context, c *model.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[c.ID] = c
	return nil
}
func (f *fakeChannels) Delete(_ context.Context, id ids.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}
func (f *fakeChannels) GetDefault(_ context.Context) (*model.Channel, error) { return f.dflt, nil }

type fakeChat struct {
	mu       sync.Mutex
	nextID   uint64
	messages map[uint64]*model.ChatMessage
}

func newFakeChat() *fakeChat {
	return &fakeChat{messages: map[uint64]*model.ChatMessage{}}
}
func (f *fakeChat) Send(_ context.Context, m *model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	f.messages[m.ID] = m
	return nil
}
func (f *fakeChat) Edit(_ context.Context, id uint64, body string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[id]; ok {
		m.Body = body
		m.EditedAt = &at
	}
	return nil
}
func (f *fakeChat) Delete(_ context.Context, id uint64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[id]; ok {
		m.DeletedAt = &at
	}
	return nil
}
func (f *fakeChat) History(_ context.Context, channel ids.ChannelID, limit int, _ *time.Time) ([]*model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ChatMessage
	for _, m := range f.messages {
		if m.ChannelID == channel && m.DeletedAt == nil {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakePermissions serves static per-tier maps to exercise the cache's
// deny-cascade precedence (§8's permission precedence scenario).
type fakePermissions struct {
	input model.ResolutionInput
}

func (f *fakePermissions) Get(context.Context, model.PermissionTarget, string) (model.PermissionValue, bool, error) {
	return model.PermissionValue{}, false, nil
}
func (f *fakePermissions) Set(context.Context, model.PermissionTarget, string, model.PermissionValue) error {
	return nil
}
func (f *fakePermissions) Remove(context.Context, model.PermissionTarget, string) error { return nil }
func (f *fakePermissions) ResolveEffective(context.Context, ids.UserID, ids.ChannelID) (model.ResolutionInput, error) {
	return f.input, nil
}

func tri(t model.TriState) model.PermissionValue {
	return model.PermissionValue{Kind: model.ValueTriState, Tri: t}
}

func newDispatcher(t *testing.T, perms *fakePermissions, channels *fakeChannels, bans *fakeBans, users *fakeUsers) (*dispatch.Dispatcher, *presence.Manager) {
	t.Helper()
	router := channelrouter.New(0)
	pres := presence.New(32)
	b := broadcast.New(pres, 8)
	voice := voicestate.New()
	if perms == nil {
		perms = &fakePermissions{}
	}
	cache := permcache.New(perms)
	if users == nil {
		users = newFakeUsers()
	}
	if bans == nil {
		bans = newFakeBans()
	}
	if channels == nil {
		channels = newFakeChannels()
	}
	svc := auth.New(users, nil)

	d := dispatch.New(dispatch.Collaborators{
		Presence:    pres,
		Broadcaster: b,
		Router:      router,
		Voice:       voice,
		Perms:       cache,
		Auth:        svc,
		Users:       users,
		Channels:    channels,
		Bans:        bans,
		Chat:        newFakeChat(),
		Registry:    dispatch.NewRegistry(),
		Identity:    dispatch.ServerIdentity{Name: "test-server"},
	})
	return d, pres
}

func newAuthedConn(t *testing.T, d *dispatch.Dispatcher, user *model.User) (*connection.Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	conn := connection.New(server, connection.DefaultConfig(), d, d.Cleanup, nil)
	require.NoError(t, conn.Machine().BeginAuthenticating())
	require.NoError(t, conn.Machine().CompleteAuthentication())
	conn.SetUser(user, "session-"+user.Username)
	q := d.Broadcaster.Register(user.ID)
	conn.BindOutbound(q)
	d.Registry.Put(user.ID, conn)
	return conn, client
}

func registerPresence(pres *presence.Manager, user ids.UserID, nickname string, channel ids.ChannelID) {
	pres.Connect(user, presence.ClientPresence{Nickname: nickname})
	if channel != ids.NilChannel {
		pres.Join(user, channel)
	}
}

// --- S1: a banned client's login is rejected before any session exists ---

func TestLoginRejectsBannedIP(t *testing.T) {
	t.Parallel()
	users := newFakeUsers()
	require.NoError(t, users.Create(context.Background(), &model.User{ID: ids.NewUserID(), Username: "alice", ServerGroups: nil}))
	bans := newFakeBans()
	d, _ := newDispatcher(t, nil, nil, bans, users)

	server, client := net.Pipe()
	defer client.Close()
	conn := connection.New(server, connection.DefaultConfig(), d, d.Cleanup, nil)
	require.NoError(t, bans.Create(context.Background(), &model.Ban{IP: conn.PeerAddr(), Reason: "abuse"}))

	readDone := make(chan wire.Envelope, 1)
	go func() {
		readDone <- readOneEnvelope(t, client)
	}()

	resp, err := d.Dispatch(context.Background(), conn, wire.Envelope{
		RequestID: 1,
		Message:   wire.Login{Username: "alice", Password: "whatever"},
	})
	require.NoError(t, err)
	require.Nil(t, resp, "a kicked connection gets its terminal frame written directly, not returned")

	select {
	case kicked := <-readDone:
		errMsg, ok := kicked.Message.(wire.Error)
		require.True(t, ok)
		require.Equal(t, wire.ErrorBanned, errMsg.Code)
	case <-time.After(time.Second):
		t.Fatal("banned client never received a terminal frame")
	}
	require.False(t, conn.Machine().IsAuthenticated())
}

// --- S2: joining a channel notifies its existing members ---

func TestChannelJoinNotifiesExistingMembers(t *testing.T) {
	t.Parallel()
	alice := &model.User{ID: ids.NewUserID(), Username: "alice"}
	bob := &model.User{ID: ids.NewUserID(), Username: "bob"}
	users := newFakeUsers(alice, bob)
	channels := newFakeChannels()
	channel := &model.Channel{ID: ids.NewChannelID(), Name: "lobby", Persisted: true}
	require.NoError(t, channels.Create(context.Background(), channel))

	d, pres := newDispatcher(t, nil, channels, nil, users)

	_, aliceClient := newAuthedConn(t, d, alice)
	defer aliceClient.Close()
	registerPresence(pres, alice.ID, "alice", channel.ID)

	bobConn, bobClient := newAuthedConn(t, d, bob)
	defer bobClient.Close()
	registerPresence(pres, bob.ID, "bob", ids.NilChannel)

	aliceQueue, ok := d.Broadcaster.Queue(alice.ID)
	require.True(t, ok)

	resp, err := d.Dispatch(context.Background(), bobConn, wire.Envelope{
		RequestID: 2,
		Message:   wire.ChannelJoin{ChannelID: channel.ID},
	})
	require.NoError(t, err)
	joinResp, ok := resp.Message.(wire.ChannelJoinResponse)
	require.True(t, ok)
	require.Contains(t, joinResp.Clients, alice.ID)

	select {
	case msg := <-aliceQueue.Receive():
		env, ok := msg.(wire.Envelope)
		require.True(t, ok)
		joined, ok := env.Message.(wire.ChannelMemberJoined)
		require.True(t, ok)
		require.Equal(t, bob.ID, joined.UserID)
		require.Equal(t, channel.ID, joined.ChannelID)
	case <-time.After(time.Second):
		t.Fatal("existing channel member was never notified of the new join")
	}
}

func readOneEnvelope(t *testing.T, c net.Conn) wire.Envelope {
	t.Helper()
	codec := wire.NewCodec(0)
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		envs, consumed, err := codec.Decode(buf)
		require.NoError(t, err)
		if len(envs) > 0 {
			buf = buf[consumed:]
			return envs[0]
		}
		n, err := c.Read(chunk)
		require.NoError(t, err)
		buf = append(buf, chunk[:n]...)
	}
}

// --- S6: permission precedence — individual deny beats server group grant ---

func TestPermissionPrecedenceIndividualDenyWinsOverGroupGrant(t *testing.T) {
	t.Parallel()
	user := &model.User{ID: ids.NewUserID(), Username: "carol"}
	users := newFakeUsers(user)
	channel := ids.NewChannelID()

	perms := &fakePermissions{input: model.ResolutionInput{
		Individual:    map[string]model.PermissionValue{dispatch.PermChatSend: tri(model.Deny)},
		ServerGroups:  []map[string]model.PermissionValue{{dispatch.PermChatSend: tri(model.Grant)}},
		ServerDefault: map[string]model.PermissionValue{dispatch.PermChatSend: tri(model.Grant)},
	}}
	channels := newFakeChannels()
	channels.byID[channel] = &model.Channel{ID: channel, Name: "lobby", Persisted: true}
	d, pres := newDispatcher(t, perms, channels, nil, users)

	conn, client := newAuthedConn(t, d, user)
	defer client.Close()
	registerPresence(pres, user.ID, "carol", channel)

	resp, err := d.Dispatch(context.Background(), conn, wire.Envelope{
		RequestID: 3,
		Message:   wire.ChatSend{ChannelID: channel, Text: "hello"},
	})
	require.NoError(t, err)
	errMsg, ok := resp.Message.(wire.Error)
	require.True(t, ok, "individual deny must override the server-group grant")
	require.Equal(t, wire.ErrorPermissionDenied, errMsg.Code)
}

func TestPermissionPrecedenceMissingKeyDefaultsAllowed(t *testing.T) {
	t.Parallel()
	user := &model.User{ID: ids.NewUserID(), Username: "dave"}
	users := newFakeUsers(user)
	channel := ids.NewChannelID()
	channels := newFakeChannels()
	channels.byID[channel] = &model.Channel{ID: channel, Name: "lobby", Persisted: true}

	d, pres := newDispatcher(t, &fakePermissions{}, channels, nil, users)
	conn, client := newAuthedConn(t, d, user)
	defer client.Close()
	registerPresence(pres, user.ID, "dave", channel)

	resp, err := d.Dispatch(context.Background(), conn, wire.Envelope{
		RequestID: 4,
		Message:   wire.ChatSend{ChannelID: channel, Text: "hi"},
	})
	require.NoError(t, err)
	_, denied := resp.Message.(wire.Error)
	require.False(t, denied, "a key with no stored value at any tier defaults to allowed")
}
