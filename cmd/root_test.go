// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommand_SetsVersionAnnotations(t *testing.T) {
	t.Parallel()
	cmd := NewCommand("1.2.3", "abcdef0")

	assert.Equal(t, "speakeasyd", cmd.Use)
	assert.Equal(t, "1.2.3", cmd.Annotations["version"])
	assert.Equal(t, "abcdef0", cmd.Annotations["commit"])
}

func TestNewCommand_RegistersConfigFlag(t *testing.T) {
	t.Parallel()
	cmd := NewCommand("1.2.3", "abcdef0")

	flag := cmd.Flags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}
