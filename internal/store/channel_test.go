// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store_test

import (
	"context"
	"testing"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/store"
	"github.com/stretchr/testify/require"
)

func TestChannelStoreCreateThenGetByID(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewChannelStore(db)
	ctx := context.Background()

	c := &model.Channel{ID: ids.NewChannelID(), Name: "Lobby", MaxClients: 10, Persisted: true}
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "Lobby", got.Name)
	require.True(t, got.Persisted)
}

func TestChannelStoreParentIDRoundTrips(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewChannelStore(db)
	ctx := context.Background()

	parent := ids.NewChannelID()
	require.NoError(t, repo.Create(ctx, &model.Channel{ID: parent, Name: "Parent"}))

	childID := ids.NewChannelID()
	require.NoError(t, repo.Create(ctx, &model.Channel{ID: childID, Name: "Child", ParentID: &parent}))

	got, err := repo.GetByID(ctx, childID)
	require.NoError(t, err)
	require.NotNil(t, got.ParentID)
	require.Equal(t, parent, *got.ParentID)
}

func TestChannelStoreGetDefaultReturnsOldestRootChannel(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewChannelStore(db)
	ctx := context.Background()

	first := ids.NewChannelID()
	require.NoError(t, repo.Create(ctx, &model.Channel{ID: first, Name: "Root"}))

	got, err := repo.GetDefault(ctx)
	require.NoError(t, err)
	require.Equal(t, first, got.ID)
}

func TestChannelStoreGetDefaultErrorsWhenNoneExist(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewChannelStore(db)

	_, err := repo.GetDefault(context.Background())
	require.ErrorIs(t, err, store.ErrNoDefaultChannel)
}

func TestChannelStoreDeleteRemovesChannel(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewChannelStore(db)
	ctx := context.Background()

	id := ids.NewChannelID()
	require.NoError(t, repo.Create(ctx, &model.Channel{ID: id, Name: "Temp"}))
	require.NoError(t, repo.Delete(ctx, id))

	_, err := repo.GetByID(ctx, id)
	require.Error(t, err)
}
