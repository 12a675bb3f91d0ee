// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package kv

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/config"
)

func makeInMemoryKV(_ context.Context, _ *config.Config) (KV, error) {
	return &inMemoryKV{entries: make(map[string]kvEntry)}, nil
}

type kvEntry struct {
	list []byte
	// lists holds the RPush backing store separately from a single Set
	// value, so the two key spaces never collide.
	lists [][]byte
	ttl   time.Time
}

func (e kvEntry) expired(now time.Time) bool {
	return !e.ttl.IsZero() && e.ttl.Before(now)
}

// inMemoryKV is the single-process KV backend used when config.Redis is
// disabled. It never leaves the current instance's memory, so clustered
// deployments must enable Redis to share state.
type inMemoryKV struct {
	mu      sync.Mutex
	entries map[string]kvEntry
}

func (kv *inMemoryKV) Has(_ context.Context, key string) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.entries[key]
	if !ok {
		return false, nil
	}
	if e.expired(time.Now()) {
		delete(kv.entries, key)
		return false, nil
	}
	return true, nil
}

func (kv *inMemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.entries[key]
	if !ok {
		return nil, fmt.Errorf("kv: key %q not found", key)
	}
	if e.expired(time.Now()) {
		delete(kv.entries, key)
		return nil, fmt.Errorf("kv: key %q has expired", key)
	}
	return e.list, nil
}

func (kv *inMemoryKV) Set(_ context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.entries[key] = kvEntry{list: value}
	return nil
}

func (kv *inMemoryKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.entries, key)
	return nil
}

func (kv *inMemoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.entries[key]
	if !ok {
		return fmt.Errorf("kv: key %q not found", key)
	}
	if ttl <= 0 {
		delete(kv.entries, key)
		return nil
	}
	e.ttl = time.Now().Add(ttl)
	kv.entries[key] = e
	return nil
}

func (kv *inMemoryKV) Scan(_ context.Context, _ uint64, match string, _ int64) ([]string, uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	now := time.Now()
	var keys []string
	for key, e := range kv.entries {
		if e.expired(now) {
			delete(kv.entries, key)
			continue
		}
		if matchesScanPattern(match, key) {
			keys = append(keys, key)
		}
	}
	return keys, 0, nil
}

func (kv *inMemoryKV) RPush(_ context.Context, key string, value []byte) (int64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.entries[key]
	e.lists = append(e.lists, value)
	kv.entries[key] = e
	return int64(len(e.lists)), nil
}

func (kv *inMemoryKV) LDrain(_ context.Context, key string) ([][]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.entries[key]
	if !ok {
		return nil, nil
	}
	delete(kv.entries, key)
	return e.lists, nil
}

func (kv *inMemoryKV) Close() error {
	return nil
}

// matchesScanPattern supports the subset of glob syntax the codebase
// relies on: an empty pattern matches everything, and a trailing "*"
// matches by prefix. Redis' full glob syntax is not reproduced here
// since no caller needs more than prefix scans.
func matchesScanPattern(match, key string) bool {
	if match == "" {
		return true
	}
	if strings.HasSuffix(match, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(match, "*"))
	}
	return match == key
}
