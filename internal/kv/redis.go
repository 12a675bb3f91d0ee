// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package kv

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/speakeasy-voice/speakeasy/internal/config"
)

const connsPerCPU = 10
const maxIdleTime = 10 * time.Minute

func makeRedisKV(ctx context.Context, cfg *config.Config) (KV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:        cfg.Redis.Password,
		PoolFIFO:        true,
		PoolSize:        runtime.GOMAXPROCS(0) * connsPerCPU,
		MinIdleConns:    runtime.GOMAXPROCS(0),
		ConnMaxIdleTime: maxIdleTime,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("kv: connecting to redis: %w", err)
	}
	return &redisKV{client: client}, nil
}

// redisKV is the clustered KV backend: every key is a plain Redis string,
// lists use RPush/LRange+Del so LDrain stays atomic via a pipeline.
type redisKV struct {
	client *redis.Client
}

func (kv *redisKV) Has(ctx context.Context, key string) (bool, error) {
	n, err := kv.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("kv: checking existence of %q: %w", key, err)
	}
	return n > 0, nil
}

func (kv *redisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := kv.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("kv: key %q not found", key)
		}
		return nil, fmt.Errorf("kv: getting %q: %w", key, err)
	}
	return val, nil
}

func (kv *redisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := kv.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("kv: setting %q: %w", key, err)
	}
	return nil
}

func (kv *redisKV) Delete(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv: deleting %q: %w", key, err)
	}
	return nil
}

func (kv *redisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return kv.Delete(ctx, key)
	}
	ok, err := kv.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return fmt.Errorf("kv: expiring %q: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("kv: key %q not found", key)
	}
	return nil
}

func (kv *redisKV) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	keys, next, err := kv.client.Scan(ctx, cursor, match, count).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("kv: scanning %q: %w", match, err)
	}
	return keys, next, nil
}

func (kv *redisKV) RPush(ctx context.Context, key string, value []byte) (int64, error) {
	n, err := kv.client.RPush(ctx, key, value).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: pushing to %q: %w", key, err)
	}
	return n, nil
}

func (kv *redisKV) LDrain(ctx context.Context, key string) ([][]byte, error) {
	var lrange *redis.StringSliceCmd
	_, err := kv.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: draining %q: %w", key, err)
	}
	vals := lrange.Val()
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (kv *redisKV) Close() error {
	if err := kv.client.Close(); err != nil {
		return fmt.Errorf("kv: closing redis client: %w", err)
	}
	return nil
}
