// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package congestion implements the per-client congestion controller
// (§4.11): it watches RTT and packet-loss counters reported by the voice
// plane and recommends bitrate adjustments once per evaluation interval.
// Loss takes priority over delay; delay takes priority over recovery.
package congestion

import "time"

// Config tunes one Controller's thresholds and factors.
type Config struct {
	// LossThreshold is the fraction of sent packets lost (0.0-1.0) above
	// which the controller reduces bitrate.
	LossThreshold float64
	// RTTWarnDeltaMs is the RTT increase, in milliseconds since the prior
	// sample, above which the controller issues a warning.
	RTTWarnDeltaMs uint32
	// HighRTTMs is the absolute RTT above which, combined with high loss,
	// the controller escalates to Critical.
	HighRTTMs uint32
	MinBitrateKbps uint16
	MaxBitrateKbps uint16
	// ReductionFactor multiplies the current bitrate on a loss-triggered
	// reduction; applied twice (squared) for a Critical reduction.
	ReductionFactor float64
	// RecoveryFactor multiplies the current bitrate on each recovery step.
	RecoveryFactor float64
	// Interval is the nominal evaluation period; Evaluate does not enforce
	// it, the caller is expected to call it on this cadence.
	Interval time.Duration
	// StableIntervalsForRecovery is the number of consecutive stable
	// evaluations required before bitrate is allowed to recover upward.
	StableIntervalsForRecovery uint32
}

// DefaultConfig mirrors the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{
		LossThreshold:              0.05,
		RTTWarnDeltaMs:             50,
		HighRTTMs:                  200,
		MinBitrateKbps:             8,
		MaxBitrateKbps:             510,
		ReductionFactor:            0.75,
		RecoveryFactor:             1.05,
		Interval:                   time.Second,
		StableIntervalsForRecovery: 3,
	}
}

// ActionKind discriminates the controller's recommendation.
type ActionKind int

const (
	// ActionStable means the connection looks healthy; no change needed.
	ActionStable ActionKind = iota
	// ActionReduceBitrate means loss crossed the threshold.
	ActionReduceBitrate
	// ActionIncreaseBitrate means a recovery step was taken after enough
	// consecutive stable intervals.
	ActionIncreaseBitrate
	// ActionRTTWarning means RTT is rising but no bitrate change was made.
	ActionRTTWarning
	// ActionCritical means both loss and RTT are high at once; bitrate was
	// cut more aggressively than a plain reduction.
	ActionCritical
)

// Action is the result of one Evaluate call.
type Action struct {
	Kind           ActionKind
	NewBitrateKbps uint16
	LossPercent    float64
	RTTMs          uint32
	DeltaMs        int64
}

// Metrics is a point-in-time snapshot of a client's network quality.
type Metrics struct {
	RTTMs            uint32
	LossRate         float64
	JitterTicks      uint32
	PacketsSent      uint64
	PacketsLost      uint64
	ReceivedBitrateBps uint32
}

// Controller tracks one client's network quality and recommends bitrate
// changes. Not safe for concurrent use; callers own one instance per
// client and serialize access to it (the voice datagram server's
// per-client egress task is the natural owner).
type Controller struct {
	cfg Config

	currentBitrateKbps uint16
	lastRTTMs          uint32
	previousRTTMs      uint32

	packetsSent uint64
	packetsLost uint64
	bytesRecv   uint64

	stableIntervals uint32
	lastLossRate    float64
}

// New builds a Controller with the default configuration.
func New(startBitrateKbps uint16) *Controller {
	return NewWithConfig(DefaultConfig(), startBitrateKbps)
}

// NewWithConfig builds a Controller with a caller-supplied configuration.
// The starting bitrate is clamped to [MinBitrateKbps, MaxBitrateKbps].
func NewWithConfig(cfg Config, startBitrateKbps uint16) *Controller {
	bitrate := startBitrateKbps
	if bitrate < cfg.MinBitrateKbps {
		bitrate = cfg.MinBitrateKbps
	}
	if bitrate > cfg.MaxBitrateKbps {
		bitrate = cfg.MaxBitrateKbps
	}
	return &Controller{cfg: cfg, currentBitrateKbps: bitrate}
}

// UpdateRTT records a fresh round-trip-time sample, typically derived
// from a ping/pong exchange on the control connection.
func (c *Controller) UpdateRTT(rttMs uint32) {
	c.previousRTTMs = c.lastRTTMs
	c.lastRTTMs = rttMs
}

// PacketSent records one packet sent to this client.
func (c *Controller) PacketSent() { c.packetsSent++ }

// PacketLost records one packet this client's acknowledgment or the
// jitter buffer's loss accounting attributed to this client.
func (c *Controller) PacketLost() { c.packetsLost++ }

// BytesReceived records bytes received from this client, for bitrate
// accounting.
func (c *Controller) BytesReceived(n uint64) { c.bytesRecv += n }

// CurrentBitrateKbps returns the current recommendation.
func (c *Controller) CurrentBitrateKbps() uint16 { return c.currentBitrateKbps }

// Metrics returns a snapshot of the current network metrics.
func (c *Controller) Metrics() Metrics {
	return Metrics{
		RTTMs:       c.lastRTTMs,
		LossRate:    c.lastLossRate,
		PacketsSent: c.packetsSent,
		PacketsLost: c.packetsLost,
	}
}

// Evaluate runs one assessment and returns a recommendation, resetting
// the interval counters (packets sent/lost, bytes received). It should
// be called periodically, on roughly Config.Interval cadence.
func (c *Controller) Evaluate() Action {
	lossRate := 0.0
	if c.packetsSent > 0 {
		lossRate = float64(c.packetsLost) / float64(c.packetsSent)
	}
	c.lastLossRate = lossRate

	rttDelta := int64(c.lastRTTMs) - int64(c.previousRTTMs)

	c.packetsSent = 0
	c.packetsLost = 0
	c.bytesRecv = 0

	highLoss := lossRate > c.cfg.LossThreshold
	highRTT := c.lastRTTMs > c.cfg.HighRTTMs
	rttRising := rttDelta > int64(c.cfg.RTTWarnDeltaMs)

	switch {
	case highLoss && highRTT:
		c.stableIntervals = 0
		c.currentBitrateKbps = c.clampBitrate(float64(c.currentBitrateKbps) * c.cfg.ReductionFactor * c.cfg.ReductionFactor)
		return Action{
			Kind:           ActionCritical,
			NewBitrateKbps: c.currentBitrateKbps,
			LossPercent:    lossRate * 100,
			RTTMs:          c.lastRTTMs,
		}

	case highLoss:
		c.stableIntervals = 0
		c.currentBitrateKbps = c.clampBitrate(float64(c.currentBitrateKbps) * c.cfg.ReductionFactor)
		return Action{
			Kind:           ActionReduceBitrate,
			NewBitrateKbps: c.currentBitrateKbps,
			LossPercent:    lossRate * 100,
		}

	case rttRising:
		c.stableIntervals = 0
		return Action{
			Kind:    ActionRTTWarning,
			RTTMs:   c.lastRTTMs,
			DeltaMs: rttDelta,
		}
	}

	c.stableIntervals++
	if c.stableIntervals >= c.cfg.StableIntervalsForRecovery {
		candidate := c.clampBitrate(float64(c.currentBitrateKbps) * c.cfg.RecoveryFactor)
		if candidate > c.currentBitrateKbps {
			c.currentBitrateKbps = candidate
			return Action{Kind: ActionIncreaseBitrate, NewBitrateKbps: candidate}
		}
	}

	return Action{Kind: ActionStable}
}

func (c *Controller) clampBitrate(v float64) uint16 {
	rounded := uint16(v + 0.5)
	if rounded < c.cfg.MinBitrateKbps {
		return c.cfg.MinBitrateKbps
	}
	if rounded > c.cfg.MaxBitrateKbps {
		return c.cfg.MaxBitrateKbps
	}
	return rounded
}
