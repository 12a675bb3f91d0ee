// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"gorm.io/gorm"
)

// PermissionStore is the default model.PermissionRepository.
type PermissionStore struct {
	db *gorm.DB
}

// NewPermissionStore wraps db as a model.PermissionRepository.
func NewPermissionStore(db *gorm.DB) *PermissionStore { return &PermissionStore{db: db} }

func targetRowFields(target model.PermissionTarget) (kind int, user, group, channel string) {
	channel = ""
	if target.ChannelID != ids.NilChannel {
		channel = target.ChannelID.String()
	}
	switch target.Kind {
	case model.TargetUser:
		return int(target.Kind), target.User.String(), "", channel
	case model.TargetGroup:
		return int(target.Kind), "", target.Group, channel
	default:
		return int(target.Kind), "", "", channel
	}
}

func toPermissionValue(v model.PermissionValue) (valueKind, tri, limit int, scope string) {
	return int(v.Kind), int(v.Tri), v.Limit, joinStrings(v.Scope)
}

func fromPermissionRow(r permissionRow) model.PermissionValue {
	return model.PermissionValue{
		Kind:  model.PermissionValueKind(r.ValueKind),
		Tri:   model.TriState(r.Tri),
		Limit: r.Limit,
		Scope: splitStrings(r.Scope),
	}
}

func (s *PermissionStore) Get(ctx context.Context, target model.PermissionTarget, key string) (model.PermissionValue, bool, error) {
	kind, user, group, channel := targetRowFields(target)
	var row permissionRow
	err := s.db.WithContext(ctx).Where(
		"target_kind = ? AND target_user = ? AND target_group = ? AND channel_id = ? AND key = ?",
		kind, user, group, channel, key,
	).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PermissionValue{}, false, nil
	}
	if err != nil {
		return model.PermissionValue{}, false, fmt.Errorf("store: loading permission %q: %w", key, err)
	}
	return fromPermissionRow(row), true, nil
}

func (s *PermissionStore) Set(ctx context.Context, target model.PermissionTarget, key string, value model.PermissionValue) error {
	kind, user, group, channel := targetRowFields(target)
	valueKind, tri, limit, scope := toPermissionValue(value)
	row := permissionRow{
		TargetKind:  kind,
		TargetUser:  user,
		TargetGroup: group,
		ChannelID:   channel,
		Key:         key,
		ValueKind:   valueKind,
		Tri:         tri,
		Limit:       limit,
		Scope:       scope,
	}
	err := s.db.WithContext(ctx).
		Where("target_kind = ? AND target_user = ? AND target_group = ? AND channel_id = ? AND key = ?",
			kind, user, group, channel, key).
		Assign(map[string]any{"value_kind": valueKind, "tri": tri, "limit": limit, "scope": scope}).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("store: setting permission %q: %w", key, err)
	}
	return nil
}

func (s *PermissionStore) Remove(ctx context.Context, target model.PermissionTarget, key string) error {
	kind, user, group, channel := targetRowFields(target)
	err := s.db.WithContext(ctx).Where(
		"target_kind = ? AND target_user = ? AND target_group = ? AND channel_id = ? AND key = ?",
		kind, user, group, channel, key,
	).Delete(&permissionRow{}).Error
	if err != nil {
		return fmt.Errorf("store: removing permission %q: %w", key, err)
	}
	return nil
}

// ResolveEffective gathers every tier of raw permission data applicable
// to (user, channel), for internal/permcache to fold per §4.8's cascade.
// Group membership and channel-group assignment are read from the
// user's ServerGroups and the channel's group-default rows; the
// highest-priority group is the first one named on the user record.
func (s *PermissionStore) ResolveEffective(ctx context.Context, user ids.UserID, channel ids.ChannelID) (model.ResolutionInput, error) {
	var userRecord userRow
	if err := s.db.WithContext(ctx).First(&userRecord, "id = ?", user.String()).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return model.ResolutionInput{}, fmt.Errorf("store: loading user %s for permission resolution: %w", user, err)
		}
	}
	groups := splitStrings(userRecord.ServerGroups)

	individual, err := s.tierValues(ctx, model.TargetUser, user.String(), "", "")
	if err != nil {
		return model.ResolutionInput{}, err
	}
	channelDefault, err := s.tierValues(ctx, model.TargetChannelDefault, "", "", channel.String())
	if err != nil {
		return model.ResolutionInput{}, err
	}
	serverDefault, err := s.tierValues(ctx, model.TargetServerDefault, "", "", "")
	if err != nil {
		return model.ResolutionInput{}, err
	}

	serverGroups := make([]map[string]model.PermissionValue, 0, len(groups))
	channelGroupLayers := make([]map[string]model.PermissionValue, 0, len(groups))
	for _, g := range groups {
		v, err := s.tierValues(ctx, model.TargetGroup, "", g, "")
		if err != nil {
			return model.ResolutionInput{}, err
		}
		serverGroups = append(serverGroups, v)

		cv, err := s.tierValues(ctx, model.TargetGroup, "", g, channel.String())
		if err != nil {
			return model.ResolutionInput{}, err
		}
		channelGroupLayers = append(channelGroupLayers, cv)
	}

	return model.ResolutionInput{
		Individual:     individual,
		ChannelGroup:   mergeTierLayers(channelGroupLayers),
		ChannelDefault: channelDefault,
		ServerGroups:   serverGroups,
		ServerDefault:  serverDefault,
	}, nil
}

// mergeTierLayers folds per-group channel overrides into the single map
// ResolutionInput.ChannelGroup expects. Where several groups name the
// same key, tri-states merge Deny>Grant>Skip, limits take the minimum,
// and scopes the intersection. This differs from internal/permcache's
// ServerGroup tier, where the first group to define a key wins it.
func mergeTierLayers(layers []map[string]model.PermissionValue) map[string]model.PermissionValue {
	merged := make(map[string]model.PermissionValue)
	for _, layer := range layers {
		for key, v := range layer {
			existing, ok := merged[key]
			if !ok {
				merged[key] = v
				continue
			}
			merged[key] = mergePermissionValue(existing, v)
		}
	}
	return merged
}

func mergePermissionValue(a, b model.PermissionValue) model.PermissionValue {
	switch a.Kind {
	case model.ValueTriState:
		tri := a.Tri
		if a.Tri == model.Deny || b.Tri == model.Deny {
			tri = model.Deny
		} else if a.Tri == model.Grant || b.Tri == model.Grant {
			tri = model.Grant
		} else {
			tri = model.Skip
		}
		return model.PermissionValue{Kind: model.ValueTriState, Tri: tri}
	case model.ValueLimit:
		limit := a.Limit
		if b.Limit < limit {
			limit = b.Limit
		}
		return model.PermissionValue{Kind: model.ValueLimit, Limit: limit}
	case model.ValueScope:
		set := make(map[string]struct{}, len(b.Scope))
		for _, s := range b.Scope {
			set[s] = struct{}{}
		}
		var scope []string
		for _, s := range a.Scope {
			if _, ok := set[s]; ok {
				scope = append(scope, s)
			}
		}
		return model.PermissionValue{Kind: model.ValueScope, Scope: scope}
	default:
		return a
	}
}

func (s *PermissionStore) tierValues(ctx context.Context, kind model.PermissionTargetKind, user, group, channel string) (map[string]model.PermissionValue, error) {
	var rows []permissionRow
	err := s.db.WithContext(ctx).Where(
		"target_kind = ? AND target_user = ? AND target_group = ? AND channel_id = ?",
		int(kind), user, group, channel,
	).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: loading permission tier: %w", err)
	}
	out := make(map[string]model.PermissionValue, len(rows))
	for _, r := range rows {
		out[r.Key] = fromPermissionRow(r)
	}
	return out, nil
}
