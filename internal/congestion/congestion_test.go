// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package congestion_test

import (
	"testing"

	"github.com/speakeasy-voice/speakeasy/internal/congestion"
	"github.com/stretchr/testify/require"
)

func TestStableWhenNoLoss(t *testing.T) {
	t.Parallel()
	c := congestion.New(64)
	c.UpdateRTT(20)
	for i := 0; i < 100; i++ {
		c.PacketSent()
	}

	action := c.Evaluate()
	require.Contains(t, []congestion.ActionKind{congestion.ActionStable, congestion.ActionIncreaseBitrate}, action.Kind)
}

func TestReducesBitrateOnHighLoss(t *testing.T) {
	t.Parallel()
	c := congestion.New(64)
	c.UpdateRTT(30)
	for i := 0; i < 100; i++ {
		c.PacketSent()
	}
	for i := 0; i < 10; i++ {
		c.PacketLost()
	}

	action := c.Evaluate()
	require.Equal(t, congestion.ActionReduceBitrate, action.Kind)
}

func TestReductionArithmetic(t *testing.T) {
	t.Parallel()
	cfg := congestion.DefaultConfig()
	cfg.ReductionFactor = 0.75
	c := congestion.NewWithConfig(cfg, 64)
	c.UpdateRTT(20)
	for i := 0; i < 100; i++ {
		c.PacketSent()
	}
	for i := 0; i < 10; i++ {
		c.PacketLost()
	}

	action := c.Evaluate()
	require.Equal(t, congestion.ActionReduceBitrate, action.Kind)
	require.EqualValues(t, 48, action.NewBitrateKbps) // 64 * 0.75 = 48
	require.EqualValues(t, 48, c.CurrentBitrateKbps())
}

func TestBitrateNeverDropsBelowMinimum(t *testing.T) {
	t.Parallel()
	cfg := congestion.DefaultConfig()
	cfg.ReductionFactor = 0.1
	cfg.MinBitrateKbps = 8
	c := congestion.NewWithConfig(cfg, 8)
	c.UpdateRTT(20)
	for i := 0; i < 100; i++ {
		c.PacketSent()
	}
	for i := 0; i < 10; i++ {
		c.PacketLost()
	}

	c.Evaluate()
	require.GreaterOrEqual(t, c.CurrentBitrateKbps(), uint16(8))
}

func TestRecoversAfterStableIntervals(t *testing.T) {
	t.Parallel()
	cfg := congestion.DefaultConfig()
	cfg.StableIntervalsForRecovery = 2
	cfg.RecoveryFactor = 1.10
	c := congestion.NewWithConfig(cfg, 40)
	c.UpdateRTT(20)

	for i := 0; i < 3; i++ {
		c.Evaluate() // no packets sent -> no loss
	}

	require.Greater(t, c.CurrentBitrateKbps(), uint16(40))
}

func TestRecoveryNeverExceedsMaximum(t *testing.T) {
	t.Parallel()
	cfg := congestion.DefaultConfig()
	cfg.StableIntervalsForRecovery = 1
	cfg.MaxBitrateKbps = 64
	c := congestion.NewWithConfig(cfg, 64)
	c.UpdateRTT(20)

	for i := 0; i < 5; i++ {
		c.Evaluate()
	}
	require.LessOrEqual(t, c.CurrentBitrateKbps(), uint16(64))
}

func TestWarnsWhenRTTRisesSharply(t *testing.T) {
	t.Parallel()
	c := congestion.New(64)
	c.UpdateRTT(30)
	c.Evaluate() // establish a baseline sample

	c.UpdateRTT(100) // +70ms, over the 50ms default threshold
	for i := 0; i < 10; i++ {
		c.PacketSent()
	}

	action := c.Evaluate()
	require.Equal(t, congestion.ActionRTTWarning, action.Kind)
	require.EqualValues(t, 70, action.DeltaMs)
}

func TestCriticalWhenLossAndRTTAreBothHigh(t *testing.T) {
	t.Parallel()
	c := congestion.New(64)
	c.UpdateRTT(250)
	for i := 0; i < 100; i++ {
		c.PacketSent()
	}
	for i := 0; i < 20; i++ {
		c.PacketLost()
	}

	action := c.Evaluate()
	require.Equal(t, congestion.ActionCritical, action.Kind)
	require.EqualValues(t, 36, action.NewBitrateKbps, "critical path must report the reduced bitrate like ActionReduceBitrate does")
}

func TestEvaluateResetsIntervalCounters(t *testing.T) {
	t.Parallel()
	c := congestion.New(64)
	c.UpdateRTT(20)
	for i := 0; i < 100; i++ {
		c.PacketSent()
	}
	for i := 0; i < 10; i++ {
		c.PacketLost()
	}
	c.Evaluate()

	m := c.Metrics()
	require.InDelta(t, 0.1, m.LossRate, 0.001)

	// Second interval with no traffic reports zero loss, not the stale rate.
	action := c.Evaluate()
	require.NotEqual(t, congestion.ActionReduceBitrate, action.Kind)
}
