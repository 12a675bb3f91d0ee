// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package kv is the optional clustered key-value backend used to share
// short-lived state (API-token scopes, rate-limit counters) across
// multiple Speakeasy instances. A single process runs the in-memory
// implementation; config.Redis.Enabled switches to the Redis-backed one.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/config"
)

type KV interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	// RPush appends a value to a list stored under key. Returns the new length.
	RPush(ctx context.Context, key string, value []byte) (int64, error)
	// LDrain atomically returns all elements of the list and deletes the key.
	LDrain(ctx context.Context, key string) ([][]byte, error)
	Close() error
}

// MakeKV creates a new key-value store client.
func MakeKV(ctx context.Context, cfg *config.Config) (KV, error) {
	if cfg.Redis.Enabled {
		redisKV, err := makeRedisKV(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis kv: %w", err)
		}
		return redisKV, nil
	}

	return makeInMemoryKV(ctx, cfg)
}
