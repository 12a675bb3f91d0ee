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

func TestInviteStoreCreateThenGetByCode(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewInviteStore(db)
	ctx := context.Background()
	creator := ids.NewUserID()
	channel := ids.NewChannelID()

	require.NoError(t, repo.Create(ctx, &model.Invite{
		Code: "abc123", ChannelID: channel, CreatedBy: creator, CreatedAt: time.Now(),
	}))

	inv, err := repo.GetByCode(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, channel, inv.ChannelID)
	require.Nil(t, inv.RedeemedBy)
}

func TestInviteStoreGetByCodeUnknownCode(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewInviteStore(db)

	_, err := repo.GetByCode(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrInviteNotFound)
}

func TestInviteStoreRedeemMarksUsed(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewInviteStore(db)
	ctx := context.Background()
	creator, redeemer := ids.NewUserID(), ids.NewUserID()

	require.NoError(t, repo.Create(ctx, &model.Invite{
		Code: "xyz789", ChannelID: ids.NewChannelID(), CreatedBy: creator, CreatedAt: time.Now(),
	}))

	inv, err := repo.Redeem(ctx, "xyz789", redeemer, time.Now())
	require.NoError(t, err)
	require.NotNil(t, inv.RedeemedBy)
	require.Equal(t, redeemer, *inv.RedeemedBy)
}

func TestInviteStoreRedeemTwiceFails(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewInviteStore(db)
	ctx := context.Background()
	creator, redeemer := ids.NewUserID(), ids.NewUserID()

	require.NoError(t, repo.Create(ctx, &model.Invite{
		Code: "once", ChannelID: ids.NewChannelID(), CreatedBy: creator, CreatedAt: time.Now(),
	}))
	_, err := repo.Redeem(ctx, "once", redeemer, time.Now())
	require.NoError(t, err)

	_, err = repo.Redeem(ctx, "once", ids.NewUserID(), time.Now())
	require.ErrorIs(t, err, store.ErrInviteAlreadyRedeemed)
}

func TestInviteStoreRedeemExpiredFails(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewInviteStore(db)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Create(ctx, &model.Invite{
		Code: "stale", ChannelID: ids.NewChannelID(), CreatedBy: ids.NewUserID(), CreatedAt: time.Now(), ExpiresAt: &past,
	}))

	_, err := repo.Redeem(ctx, "stale", ids.NewUserID(), time.Now())
	require.ErrorIs(t, err, store.ErrInviteExpired)
}

func TestInviteStoreRevokeRemovesCode(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	repo := store.NewInviteStore(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Invite{
		Code: "gone", ChannelID: ids.NewChannelID(), CreatedBy: ids.NewUserID(), CreatedAt: time.Now(),
	}))
	require.NoError(t, repo.Revoke(ctx, "gone"))

	_, err := repo.GetByCode(ctx, "gone")
	require.ErrorIs(t, err, store.ErrInviteNotFound)
}
