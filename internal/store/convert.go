// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package store

import (
	"strings"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
)

func joinStrings(ss []string) string { return strings.Join(ss, ",") }

func splitStrings(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func channelIDPtr(id *ids.ChannelID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func parseChannelIDPtr(s *string) (*ids.ChannelID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := ids.ParseChannelID(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func userIDPtr(id *ids.UserID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func parseUserIDPtr(s *string) (*ids.UserID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	id, err := ids.ParseUserID(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
