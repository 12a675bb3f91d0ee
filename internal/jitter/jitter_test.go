// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package jitter_test

import (
	"testing"

	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/jitter"
	"github.com/speakeasy-voice/speakeasy/internal/voicepacket"
	"github.com/stretchr/testify/require"
)

func makePacket(seq, ts uint32) voicepacket.Packet {
	return voicepacket.Packet{
		Header: voicepacket.Header{
			Type:      voicepacket.PacketTypeOpus,
			Sequence:  seq,
			Timestamp: ts,
			SSRC:      ids.SSRC(0xCAFE),
		},
		Payload: make([]byte, 60),
	}
}

func fixedConfig(max, min, window int) jitter.Config {
	return jitter.Config{Mode: jitter.ModeFixed, MaxPackets: max, MinPackets: min, JitterWindow: window}
}

func TestInOrderStreamPopsInOrder(t *testing.T) {
	t.Parallel()
	b := jitter.New(fixedConfig(10, 0, 8))
	for i := uint32(0); i < 5; i++ {
		b.Push(makePacket(i, i*960))
	}

	var lastSeq uint32
	hasLast := false
	count := 0
	for {
		p, ok := b.Pop()
		if !ok {
			break
		}
		if hasLast {
			require.Greater(t, p.Header.Sequence, lastSeq)
		}
		lastSeq, hasLast = p.Header.Sequence, true
		count++
	}
	require.Equal(t, 5, count)
}

func TestOutOfOrderArrivalsPopInAscendingOrder(t *testing.T) {
	t.Parallel()
	b := jitter.New(fixedConfig(10, 0, 8))
	b.Push(makePacket(2, 1920))
	b.Push(makePacket(0, 0))
	b.Push(makePacket(1, 960))
	b.Push(makePacket(4, 3840))
	b.Push(makePacket(3, 2880))

	var seqs []uint32
	for {
		p, ok := b.Pop()
		if !ok {
			break
		}
		seqs = append(seqs, p.Header.Sequence)
	}
	require.Equal(t, []uint32{0, 1, 2, 3, 4}, seqs)
}

func TestDuplicatesAreDiscarded(t *testing.T) {
	t.Parallel()
	b := jitter.New(fixedConfig(10, 0, 8))
	b.Push(makePacket(1, 960))
	b.Push(makePacket(1, 960))
	b.Push(makePacket(1, 960))

	require.Equal(t, 1, b.FillLevel())
	require.Equal(t, uint64(2), b.Stats().Duplicates)
}

func TestGapBetweenPopsCountsAsLost(t *testing.T) {
	t.Parallel()
	b := jitter.New(fixedConfig(20, 0, 8))
	b.Push(makePacket(0, 0))
	b.Push(makePacket(4, 3840))

	p1, ok := b.Pop()
	require.True(t, ok)
	require.EqualValues(t, 0, p1.Header.Sequence)

	p2, ok := b.Pop()
	require.True(t, ok)
	require.EqualValues(t, 4, p2.Header.Sequence)

	require.Equal(t, uint64(3), b.Stats().Lost)
}

func TestOverflowEvictsOldestAsLoss(t *testing.T) {
	t.Parallel()
	b := jitter.New(fixedConfig(3, 0, 4))
	b.Push(makePacket(0, 0))
	b.Push(makePacket(1, 960))
	b.Push(makePacket(2, 1920))
	b.Push(makePacket(3, 2880))

	require.Equal(t, 3, b.FillLevel())
	require.Equal(t, uint64(1), b.Stats().Lost)

	p, ok := b.Pop()
	require.True(t, ok)
	require.EqualValues(t, 1, p.Header.Sequence)
}

func TestAdaptiveModeStaysWithinBounds(t *testing.T) {
	t.Parallel()
	cfg := jitter.Config{Mode: jitter.ModeAdaptive, MaxPackets: 20, MinPackets: 2, JitterWindow: 8}
	b := jitter.New(cfg)
	for i := uint32(0); i < 10; i++ {
		b.Push(makePacket(i, i*960))
	}
	require.GreaterOrEqual(t, b.TargetDepth(), 2)
	require.LessOrEqual(t, b.TargetDepth(), 20)
}

func TestSequenceWrapAround(t *testing.T) {
	t.Parallel()
	b := jitter.New(fixedConfig(10, 0, 4))
	const max = ^uint32(0)
	b.Push(makePacket(max-1, 0))
	b.Push(makePacket(max, 960))
	b.Push(makePacket(0, 1920))

	require.Equal(t, 3, b.FillLevel())
}
