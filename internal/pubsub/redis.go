// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package pubsub

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/speakeasy-voice/speakeasy/internal/config"
)

const connsPerCPU = 10
const maxIdleTime = 10 * time.Minute

func makePubSubFromRedis(ctx context.Context, cfg *config.Config) (PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:        cfg.Redis.Password,
		PoolFIFO:        true,
		PoolSize:        runtime.GOMAXPROCS(0) * connsPerCPU,
		MinIdleConns:    runtime.GOMAXPROCS(0),
		ConnMaxIdleTime: maxIdleTime,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("pubsub: connecting to redis: %w", err)
	}
	return &redisPubSub{client: client}, nil
}

type redisPubSub struct {
	client *redis.Client
}

func (ps *redisPubSub) Publish(topic string, message []byte) error {
	if err := ps.client.Publish(context.Background(), topic, message).Err(); err != nil {
		return fmt.Errorf("pubsub: publishing to %q: %w", topic, err)
	}
	return nil
}

func (ps *redisPubSub) Subscribe(topic string) Subscription {
	sub := ps.client.Subscribe(context.Background(), topic)
	return &redisSubscription{sub: sub, in: sub.Channel(), out: make(chan []byte)}
}

func (ps *redisPubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("pubsub: closing redis client: %w", err)
	}
	return nil
}

type redisSubscription struct {
	sub *redis.PubSub
	in  <-chan *redis.Message
	out chan []byte
}

func (s *redisSubscription) Close() error {
	if err := s.sub.Close(); err != nil {
		return fmt.Errorf("pubsub: closing subscription: %w", err)
	}
	return nil
}

func (s *redisSubscription) Channel() <-chan []byte {
	go func() {
		defer close(s.out)
		for msg := range s.in {
			s.out <- []byte(msg.Payload)
		}
	}()
	return s.out
}
