// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package permcache_test

import (
	"context"
	"testing"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/permcache"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	calls int
	input model.ResolutionInput
}

func (f *fakeRepo) Get(context.Context, model.PermissionTarget, string) (model.PermissionValue, bool, error) {
	return model.PermissionValue{}, false, nil
}
func (f *fakeRepo) Set(context.Context, model.PermissionTarget, string, model.PermissionValue) error {
	return nil
}
func (f *fakeRepo) Remove(context.Context, model.PermissionTarget, string) error { return nil }

func (f *fakeRepo) ResolveEffective(context.Context, ids.UserID, ids.ChannelID) (model.ResolutionInput, error) {
	f.calls++
	return f.input, nil
}

func tri(t model.TriState) model.PermissionValue {
	return model.PermissionValue{Kind: model.ValueTriState, Tri: t}
}

func TestIndividualOverridesServerDefault(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{input: model.ResolutionInput{
		Individual:    map[string]model.PermissionValue{"can_speak": tri(model.Grant)},
		ServerDefault: map[string]model.PermissionValue{"can_speak": tri(model.Deny)},
	}}
	cache := permcache.New(repo)

	r, err := cache.Resolve(context.Background(), ids.NewUserID(), ids.NewChannelID(), "can_speak")
	require.NoError(t, err)
	require.Equal(t, model.Grant, r.Value.Tri)
	require.Equal(t, permcache.TierIndividual, r.Source)
}

func TestRemovingIndividualFallsThroughToServerDefault(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{input: model.ResolutionInput{
		ServerDefault: map[string]model.PermissionValue{"can_speak": tri(model.Deny)},
	}}
	cache := permcache.New(repo)
	user, channel := ids.NewUserID(), ids.NewChannelID()

	r, err := cache.Resolve(context.Background(), user, channel, "can_speak")
	require.NoError(t, err)
	require.Equal(t, model.Deny, r.Value.Tri)
	require.Equal(t, permcache.TierServerDefault, r.Source)
}

func TestMissingKeyResolvesToAllowedByDefault(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{}
	cache := permcache.New(repo)

	r, err := cache.Resolve(context.Background(), ids.NewUserID(), ids.NewChannelID(), "b_channel_join")
	require.NoError(t, err)
	require.Equal(t, model.Grant, r.Value.Tri)
	require.Equal(t, permcache.TierDefault, r.Source)
	require.EqualValues(t, 1, cache.DefaultAllowedCount())
}

func TestServerGroupsFirstPriorityGroupWins(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{input: model.ResolutionInput{
		ServerGroups: []map[string]model.PermissionValue{
			{"b_client_kick_server": tri(model.Grant)},
			{"b_client_kick_server": tri(model.Deny)},
		},
	}}
	cache := permcache.New(repo)

	r, err := cache.Resolve(context.Background(), ids.NewUserID(), ids.NewChannelID(), "b_client_kick_server")
	require.NoError(t, err)
	require.Equal(t, model.Grant, r.Value.Tri, "the first/highest-priority group's value must win outright")
	require.Equal(t, permcache.TierServerGroup, r.Source)
}

func TestServerGroupsFallThroughToLowerPriorityForUnsetKeys(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{input: model.ResolutionInput{
		ServerGroups: []map[string]model.PermissionValue{
			{"b_client_kick_server": tri(model.Grant)},
			{"i_client_max_channels": {Kind: model.ValueLimit, Limit: 3}},
		},
	}}
	cache := permcache.New(repo)

	r, err := cache.Resolve(context.Background(), ids.NewUserID(), ids.NewChannelID(), "i_client_max_channels")
	require.NoError(t, err)
	require.Equal(t, 3, r.Value.Limit, "a key the higher-priority group leaves unset falls through to a lower one")
}

func TestResolveIsDeterministicAndCached(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{input: model.ResolutionInput{
		ServerDefault: map[string]model.PermissionValue{"can_speak": tri(model.Deny)},
	}}
	cache := permcache.New(repo)
	user, channel := ids.NewUserID(), ids.NewChannelID()

	r1, err := cache.Resolve(context.Background(), user, channel, "can_speak")
	require.NoError(t, err)
	r2, err := cache.Resolve(context.Background(), user, channel, "can_speak")
	require.NoError(t, err)
	require.Equal(t, r1, r2)
	require.Equal(t, 1, repo.calls, "second resolve should hit the cache, not the repository")
}

func TestInvalidateTargetForcesRefetch(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{input: model.ResolutionInput{
		ServerDefault: map[string]model.PermissionValue{"can_speak": tri(model.Deny)},
	}}
	cache := permcache.New(repo)
	user, channel := ids.NewUserID(), ids.NewChannelID()

	_, err := cache.Resolve(context.Background(), user, channel, "can_speak")
	require.NoError(t, err)
	cache.InvalidateTarget(user, channel)
	_, err = cache.Resolve(context.Background(), user, channel, "can_speak")
	require.NoError(t, err)

	require.Equal(t, 2, repo.calls)
}

func TestFlushClearsEveryTarget(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{input: model.ResolutionInput{
		ServerDefault: map[string]model.PermissionValue{"can_speak": tri(model.Deny)},
	}}
	cache := permcache.New(repo)
	u1, u2, channel := ids.NewUserID(), ids.NewUserID(), ids.NewChannelID()

	_, _ = cache.Resolve(context.Background(), u1, channel, "can_speak")
	_, _ = cache.Resolve(context.Background(), u2, channel, "can_speak")
	require.Equal(t, 2, repo.calls)

	cache.Flush()
	_, _ = cache.Resolve(context.Background(), u1, channel, "can_speak")
	require.Equal(t, 3, repo.calls)
}
