// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/store"
	"github.com/stretchr/testify/require"
)

func TestBanStoreIsBannedByUserID(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewBanStore(db)
	ctx := context.Background()
	user := ids.NewUserID()

	require.NoError(t, repo.Create(ctx, &model.Ban{UserID: &user, Reason: "spam", CreatedAt: time.Now()}))

	b, banned, err := repo.IsBanned(ctx, &user, "")
	require.NoError(t, err)
	require.True(t, banned)
	require.Equal(t, "spam", b.Reason)
}

func TestBanStoreExpiredBanDoesNotMatch(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewBanStore(db)
	ctx := context.Background()
	user := ids.NewUserID()
	past := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Create(ctx, &model.Ban{UserID: &user, CreatedAt: time.Now(), ExpiresAt: &past}))

	_, banned, err := repo.IsBanned(ctx, &user, "")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestBanStoreFallsBackToIPMatch(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewBanStore(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Ban{IP: "203.0.113.5", Reason: "abuse", CreatedAt: time.Now()}))

	b, banned, err := repo.IsBanned(ctx, nil, "203.0.113.5")
	require.NoError(t, err)
	require.True(t, banned)
	require.Equal(t, "abuse", b.Reason)
}

func TestBanStoreCleanupExpiredRemovesOnlyPastBans(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewBanStore(db)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, repo.Create(ctx, &model.Ban{IP: "a", CreatedAt: time.Now(), ExpiresAt: &past}))
	require.NoError(t, repo.Create(ctx, &model.Ban{IP: "b", CreatedAt: time.Now(), ExpiresAt: &future}))
	require.NoError(t, repo.Create(ctx, &model.Ban{IP: "c", CreatedAt: time.Now()}))

	n, err := repo.CleanupExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	remaining, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}
