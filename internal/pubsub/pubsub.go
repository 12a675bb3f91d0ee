// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package pubsub is the optional clustered fanout backend used to mirror
// control-plane events (presence changes, permission-cache invalidation)
// across multiple Speakeasy instances sharing one Redis deployment. A
// single process runs the in-memory implementation.
package pubsub

import (
	"context"

	"github.com/speakeasy-voice/speakeasy/internal/config"
)

// PubSub is a topic-based publish/subscribe fanout.
type PubSub interface {
	Publish(topic string, message []byte) error
	Subscribe(topic string) Subscription
	Close() error
}

// Subscription delivers every message published to the topic it was
// created from until Close is called.
type Subscription interface {
	Close() error
	Channel() <-chan []byte
}

// MakePubSub builds a PubSub backend for cfg: Redis-backed clustered
// fanout if cfg.Redis.Enabled, otherwise an in-process implementation.
func MakePubSub(ctx context.Context, cfg *config.Config) (PubSub, error) {
	if cfg.Redis.Enabled {
		return makePubSubFromRedis(ctx, cfg)
	}
	return makeInMemoryPubSub(cfg)
}
