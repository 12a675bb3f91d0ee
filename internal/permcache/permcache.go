// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package permcache implements the permission resolution cache (§4.8):
// a five-tier deny/grant cascade — individual, channel-group,
// channel-default, server-group, server default — first match wins
// across tiers. Within the server-group tier, a user can belong to
// several groups at once; they are consulted highest-priority group
// first, and the first group that defines a key wins it outright, with
// lower-priority groups only consulted for keys none of the
// higher-priority ones set. A key absent from every tier resolves to
// allowed, per TeamSpeak semantics (§9's "permission default" note).
package permcache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
)

// Tier names the resolution source of a resolved value.
type Tier int

const (
	TierIndividual Tier = iota
	TierChannelGroup
	TierChannelDefault
	TierServerGroup
	TierServerDefault
	// TierDefault means no tier named the key; it resolves to allowed.
	TierDefault
)

// Resolved is one cached/resolved permission value plus its source tier.
type Resolved struct {
	Value  model.PermissionValue
	Source Tier
}

// allowedByDefault is what an unnamed key resolves to (§9: "missing key
// is allowed").
var allowedByDefault = Resolved{Value: model.PermissionValue{Kind: model.ValueTriState, Tri: model.Grant}, Source: TierDefault}

type targetKey struct {
	user    ids.UserID
	channel ids.ChannelID
}

// Cache resolves and caches effective permissions per (user, channel).
// Reads are many, writes (invalidation) are exclusive, per §5's
// "read-write primitive" discipline — a sync.RWMutex over a plain map is
// the idiomatic Go match for that description.
type Cache struct {
	repo model.PermissionRepository

	mu      sync.RWMutex
	entries map[targetKey]map[string]Resolved

	// defaultAllowed counts resolutions that fell through to the
	// default-allow rule, surfaced per §9's "log a warning counter" note.
	defaultAllowed atomic.Uint64
}

// New builds a Cache over the given permission repository.
func New(repo model.PermissionRepository) *Cache {
	return &Cache{
		repo:    repo,
		entries: make(map[targetKey]map[string]Resolved),
	}
}

// DefaultAllowedCount returns how many resolutions fell through to the
// default-allow rule since startup.
func (c *Cache) DefaultAllowedCount() uint64 { return c.defaultAllowed.Load() }

// Resolve returns the effective value of key for (user, channel),
// populating the cache on first miss.
func (c *Cache) Resolve(ctx context.Context, user ids.UserID, channel ids.ChannelID, key string) (Resolved, error) {
	tk := targetKey{user: user, channel: channel}

	c.mu.RLock()
	perTarget, ok := c.entries[tk]
	c.mu.RUnlock()

	if !ok {
		input, err := c.repo.ResolveEffective(ctx, user, channel)
		if err != nil {
			return Resolved{}, err
		}
		perTarget = resolveAll(input)

		c.mu.Lock()
		c.entries[tk] = perTarget
		c.mu.Unlock()
	}

	resolved, ok := perTarget[key]
	if !ok {
		c.defaultAllowed.Add(1)
		return allowedByDefault, nil
	}
	return resolved, nil
}

// InvalidateTarget drops the cached resolution for one (user, channel)
// pair, forcing the next Resolve to re-fetch. Called after a permission
// write targeting that pair (§4.8).
func (c *Cache) InvalidateTarget(user ids.UserID, channel ids.ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, targetKey{user: user, channel: channel})
}

// Flush drops every cached resolution, used on group-membership changes
// since those can affect any number of (user, channel) pairs at once
// (§4.8).
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[targetKey]map[string]Resolved)
}

// resolveAll folds a ResolutionInput into one Resolved value per key
// named by any tier.
func resolveAll(input model.ResolutionInput) map[string]Resolved {
	out := make(map[string]Resolved)

	for key, v := range input.Individual {
		out[key] = Resolved{Value: v, Source: TierIndividual}
	}
	for key, v := range input.ChannelGroup {
		if _, done := out[key]; !done {
			out[key] = Resolved{Value: v, Source: TierChannelGroup}
		}
	}
	for key, v := range input.ChannelDefault {
		if _, done := out[key]; !done {
			out[key] = Resolved{Value: v, Source: TierChannelDefault}
		}
	}

	groupMerged := mergeServerGroups(input.ServerGroups)
	for key, v := range groupMerged {
		if _, done := out[key]; !done {
			out[key] = Resolved{Value: v, Source: TierServerGroup}
		}
	}

	for key, v := range input.ServerDefault {
		if _, done := out[key]; !done {
			out[key] = Resolved{Value: v, Source: TierServerDefault}
		}
	}

	return out
}

// mergeServerGroups folds groups (ordered highest-priority group first,
// per model.ResolutionInput.ServerGroups) into one value per key: the
// first group that defines a key wins outright, and lower-priority
// groups are only consulted for keys none of the higher ones set.
func mergeServerGroups(groups []map[string]model.PermissionValue) map[string]model.PermissionValue {
	merged := make(map[string]model.PermissionValue)
	for _, group := range groups {
		for key, v := range group {
			if _, done := merged[key]; !done {
				merged[key] = v
			}
		}
	}
	return merged
}
