// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package jitter implements the per-sender jitter buffer (§4.9): packets
// are reordered by sequence number, jitter is estimated with Welford's
// online variance over interarrival timestamps, and the target depth
// adapts to the measured jitter in adaptive mode. One Buffer is used by
// exactly one goroutine per sender; synchronization happens above this
// package (the voice datagram server dispatches per-sender).
package jitter

import (
	"math"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/voicepacket"
)

// Mode selects fixed or adaptive target-depth behavior.
type Mode int

const (
	ModeAdaptive Mode = iota
	ModeFixed
)

// TicksPerFrame is the RTP timestamp delta of one 20ms frame at 48kHz,
// used to convert a jitter estimate in ticks into a packet count.
const TicksPerFrame = 960

// Config configures one Buffer.
type Config struct {
	Mode           Mode
	MaxPackets     int // buffer capacity; overflow evicts the oldest entry
	MinPackets     int // adaptive mode: lower clamp on target depth
	JitterWindow   int // interarrival samples considered for the variance estimate
}

// DefaultConfig mirrors the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{
		Mode:         ModeAdaptive,
		MaxPackets:   50,
		MinPackets:   2,
		JitterWindow: 16,
	}
}

// Stats is a point-in-time snapshot of buffer statistics.
type Stats struct {
	Received    uint64
	Played      uint64
	Duplicates  uint64
	Lost        uint64
	OutOfOrder  uint64
	JitterTicks uint32
	FillLevel   int
	TargetDepth int
}

// Buffer is the per-sender adaptive jitter buffer.
type Buffer struct {
	cfg Config

	packets map[uint32]voicepacket.Packet

	hasNextSeq     bool
	nextSeq        uint32
	hasLastPlayed  bool
	lastPlayed     uint32
	hasLastTS      bool
	lastTimestamp  uint32

	interarrivals []int64
	interarrivalI int

	jitterMean float64
	jitterM2   float64
	jitterN    uint64

	targetDepth int
	stats       Stats
}

// New builds a Buffer with the given configuration.
func New(cfg Config) *Buffer {
	target := cfg.MaxPackets / 2
	if target < cfg.MinPackets {
		target = cfg.MinPackets
	}
	return &Buffer{
		cfg:           cfg,
		packets:       make(map[uint32]voicepacket.Packet),
		interarrivals: make([]int64, cfg.JitterWindow),
		targetDepth:   target,
	}
}

// Push inserts a received packet, rejecting duplicates and stale (already
// played) arrivals, counting out-of-order arrivals, updating the jitter
// estimate, and evicting the oldest buffered packet on overflow.
func (b *Buffer) Push(p voicepacket.Packet) {
	seq := p.Header.Sequence
	b.stats.Received++

	if b.hasLastPlayed && ids.SequenceOlder(seq, b.lastPlayed) {
		b.stats.Duplicates++
		return
	}
	if _, exists := b.packets[seq]; exists {
		b.stats.Duplicates++
		return
	}

	for buffered := range b.packets {
		if ids.SequenceOlder(seq, buffered) {
			b.stats.OutOfOrder++
			break
		}
	}

	b.measureJitter(p.Header.Timestamp)

	b.packets[seq] = p

	if len(b.packets) > b.cfg.MaxPackets {
		oldest, found := b.oldestSeq()
		if found {
			delete(b.packets, oldest)
			b.stats.Lost++
		}
	}

	if b.cfg.Mode == ModeAdaptive {
		b.adjustTargetDepth()
	}

	b.stats.FillLevel = len(b.packets)
	b.stats.TargetDepth = b.targetDepth
}

// Pop returns the oldest buffered packet once the fill level has reached
// the minimum required depth, or false if the caller should keep waiting.
func (b *Buffer) Pop() (voicepacket.Packet, bool) {
	if len(b.packets) == 0 {
		return voicepacket.Packet{}, false
	}

	minFill := b.cfg.MinPackets
	if b.cfg.Mode == ModeAdaptive {
		minFill = min(b.targetDepth, b.cfg.MinPackets)
	}
	if minFill > 0 && len(b.packets) < minFill && b.hasNextSeq {
		return voicepacket.Packet{}, false
	}

	seq, found := b.oldestSeq()
	if !found {
		return voicepacket.Packet{}, false
	}
	p := b.packets[seq]
	delete(b.packets, seq)

	if b.hasNextSeq && seq > b.nextSeq {
		b.stats.Lost += uint64(seq - b.nextSeq)
	}

	b.nextSeq = seq + 1
	b.hasNextSeq = true
	b.lastPlayed = seq
	b.hasLastPlayed = true
	b.stats.Played++
	b.stats.FillLevel = len(b.packets)

	return p, true
}

// Stats returns a snapshot of the current statistics.
func (b *Buffer) Stats() Stats { return b.stats }

// JitterTicks returns the current jitter estimate (standard deviation of
// interarrival time, in RTP ticks) via Welford's online variance.
func (b *Buffer) JitterTicks() uint32 {
	if b.jitterN < 2 {
		return 0
	}
	variance := b.jitterM2 / float64(b.jitterN-1)
	return uint32(math.Sqrt(variance))
}

// FillLevel returns the current number of buffered packets.
func (b *Buffer) FillLevel() int { return len(b.packets) }

// TargetDepth returns the current target depth.
func (b *Buffer) TargetDepth() int { return b.targetDepth }

func (b *Buffer) oldestSeq() (uint32, bool) {
	first := true
	var oldest uint32
	for seq := range b.packets {
		if first {
			oldest, first = seq, false
			continue
		}
		if ids.SequenceOlder(seq, oldest) {
			oldest = seq
		}
	}
	return oldest, !first
}

func (b *Buffer) measureJitter(timestamp uint32) {
	if b.hasLastTS {
		interarrival := int64(int32(timestamp - b.lastTimestamp))
		b.interarrivals[b.interarrivalI] = interarrival
		b.interarrivalI = (b.interarrivalI + 1) % len(b.interarrivals)
		if b.jitterN < uint64(len(b.interarrivals)) {
			b.jitterN++
		}

		// Welford's update over the samples currently in the window.
		b.jitterMean, b.jitterM2 = 0, 0
		for i := uint64(0); i < b.jitterN; i++ {
			x := float64(b.interarrivals[i])
			delta := x - b.jitterMean
			b.jitterMean += delta / float64(i+1)
			b.jitterM2 += delta * (x - b.jitterMean)
		}

		b.stats.JitterTicks = b.JitterTicks()
	}
	b.lastTimestamp = timestamp
	b.hasLastTS = true
}

func (b *Buffer) adjustTargetDepth() {
	jitterTicks := b.JitterTicks()
	needed := int(jitterTicks/TicksPerFrame) + 2
	b.targetDepth = clamp(needed, b.cfg.MinPackets, b.cfg.MaxPackets)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
