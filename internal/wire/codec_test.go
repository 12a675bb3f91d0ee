// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package wire_test

import (
	"testing"

	"github.com/speakeasy-voice/speakeasy/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestDecodeToleratesUnknownType(t *testing.T) {
	t.Parallel()
	c := wire.NewCodec(0)

	raw := []byte(`{"request_id":42,"type":"future_feature","payload":{"foo":"bar"}}`)
	framed := frameOf(raw)
	envs, consumed, err := c.Decode(framed)
	require.NoError(t, err)
	require.Equal(t, len(framed), consumed)
	require.Len(t, envs, 1)

	unknown, ok := envs[0].Message.(wire.UnknownMessage)
	require.True(t, ok)
	require.Equal(t, "future_feature", unknown.Type)
	require.JSONEq(t, `{"foo":"bar"}`, string(unknown.Raw))
}

func TestLoginRoundTripsCredentials(t *testing.T) {
	t.Parallel()
	c := wire.NewCodec(0)

	env := wire.Envelope{RequestID: 3, Message: wire.Login{
		Username: "alice",
		Password: "hunter2",
		Nickname: "Alice",
	}}
	buf, err := c.Encode(nil, env)
	require.NoError(t, err)

	envs, _, err := c.Decode(buf)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	login, ok := envs[0].Message.(wire.Login)
	require.True(t, ok)
	require.Equal(t, "alice", login.Username)
	require.Equal(t, "hunter2", login.Password)
}

func TestErrorMessageCarriesCode(t *testing.T) {
	t.Parallel()
	c := wire.NewCodec(0)

	env := wire.Envelope{RequestID: 9, Message: wire.Error{
		Code:    wire.ErrorPermissionDenied,
		Message: "not allowed",
	}}
	buf, err := c.Encode(nil, env)
	require.NoError(t, err)

	envs, _, err := c.Decode(buf)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	got, ok := envs[0].Message.(wire.Error)
	require.True(t, ok)
	require.Equal(t, wire.ErrorPermissionDenied, got.Code)
}

// frameOf manually length-prefixes a raw JSON payload the way Codec.Encode
// would, for tests that need to exercise a frame the encoder itself can't
// produce (e.g. an unregistered "type").
func frameOf(payload []byte) []byte {
	n := len(payload)
	out := make([]byte, 4+n)
	out[0] = byte(n >> 24)
	out[1] = byte(n >> 16)
	out[2] = byte(n >> 8)
	out[3] = byte(n)
	copy(out[4:], payload)
	return out
}
