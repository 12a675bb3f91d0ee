// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package plc implements packet-loss concealment (§4.10): sits between
// the jitter buffer and the (opaque, client-side) decoder, filling gaps
// with FEC reconstruction where available, otherwise a fading repeat of
// the last good packet, and finally silence once the loss run gets long.
package plc

import (
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/voicepacket"
)

// MaxRepeats is the number of consecutive repeat-with-fade packets
// emitted before the concealer switches to silence.
const MaxRepeats = 3

// FadeFactor is the per-repeat amplitude fade multiplier.
const FadeFactor = 0.75

// FrameTicks is the RTP timestamp delta of one 20ms frame at 48kHz, used
// to backdate synthesized packets relative to the reference timestamp.
const FrameTicks = 960

// Kind discriminates the outcome of one Process call entry.
type Kind int

const (
	KindOriginal Kind = iota
	KindFECReconstructed
	KindRepeated
	KindSilenced
	// KindEmpty means no last-good packet was available to repeat and the
	// loss run had not yet crossed into silence; there is nothing to play.
	KindEmpty
)

// Result is one emitted packet plus how it was produced.
type Result struct {
	Kind   Kind
	Packet voicepacket.Packet
}

// IsOriginal reports whether this result passed through untouched.
func (r Result) IsOriginal() bool { return r.Kind == KindOriginal }

// Active reports whether concealment produced this result.
func (r Result) Active() bool { return r.Kind != KindOriginal && r.Kind != KindEmpty }

// Stats accumulates concealment outcome counts.
type Stats struct {
	Originals        uint64
	FECReconstructed uint64
	Repeated         uint64
	Silenced         uint64
	TotalLost        uint64
}

// LossRate returns the fraction of total traffic that needed concealment.
func (s Stats) LossRate() float64 {
	total := s.Originals + s.TotalLost
	if total == 0 {
		return 0
	}
	return float64(s.TotalLost) / float64(total)
}

// Concealer is the per-sender packet-loss concealer. Not safe for
// concurrent use; one instance is owned by the same goroutine that drains
// that sender's jitter buffer.
type Concealer struct {
	lastPacket    voicepacket.Packet
	hasLastPacket bool
	consecutiveLosses uint32
	hasNextSeq    bool
	nextSeq       uint32
	currentFade   float64
	stats         Stats
}

// New builds an empty Concealer.
func New() *Concealer {
	return &Concealer{currentFade: 1.0}
}

// Process accepts the next packet played out of the jitter buffer and
// returns the list of results to hand to the consumer: any synthesized
// fill-ins for a detected gap, followed by the original packet itself. A
// late/duplicate arrival (seq before the next expected one) yields no
// results.
func (c *Concealer) Process(p voicepacket.Packet) []Result {
	seq := p.Header.Sequence
	var results []Result

	if c.hasNextSeq {
		expected := c.nextSeq
		if seq > expected {
			gap := seq - expected
			if gap > MaxRepeats+1 {
				gap = MaxRepeats + 1
			}
			for missing := expected; missing != expected+gap; missing++ {
				fecAvailable := p.Header.Flags.Has(voicepacket.FlagFEC) && missing == seq-1
				var res Result
				if fecAvailable {
					res = c.reconstructFEC(missing, p)
				} else {
					res = c.concealLoss(missing, p.Header.Timestamp)
				}
				c.stats.TotalLost++
				results = append(results, res)
			}
		} else if seq < expected {
			return nil
		}
	}

	c.consecutiveLosses = 0
	c.currentFade = 1.0
	c.nextSeq = seq + 1
	c.hasNextSeq = true
	c.lastPacket = p
	c.hasLastPacket = true
	c.stats.Originals++
	results = append(results, Result{Kind: KindOriginal, Packet: p})
	return results
}

// Stats returns a snapshot of the accumulated statistics.
func (c *Concealer) Stats() Stats { return c.stats }

func (c *Concealer) reconstructFEC(seq uint32, successor voicepacket.Packet) Result {
	pkt := voicepacket.Packet{
		Header: voicepacket.Header{
			Type:      voicepacket.PacketTypeFEC,
			Flags:     voicepacket.FlagFEC,
			Sequence:  seq,
			Timestamp: successor.Header.Timestamp - FrameTicks,
			SSRC:      successor.Header.SSRC,
		},
		Payload: append([]byte(nil), successor.Payload...),
	}
	c.stats.FECReconstructed++
	return Result{Kind: KindFECReconstructed, Packet: pkt}
}

func (c *Concealer) concealLoss(seq uint32, referenceTimestamp uint32) Result {
	c.consecutiveLosses++

	if c.consecutiveLosses > MaxRepeats {
		c.stats.Silenced++
		return Result{Kind: KindSilenced, Packet: c.silencePacket(seq, referenceTimestamp)}
	}

	if !c.hasLastPacket {
		return Result{Kind: KindEmpty}
	}

	c.currentFade *= FadeFactor
	payload := append([]byte(nil), c.lastPacket.Payload...)
	newLen := int(float64(len(payload)) * c.currentFade)
	if newLen < 1 {
		newLen = 1
	}
	if newLen > len(payload) {
		newLen = len(payload)
	}
	payload = payload[:newLen]

	pkt := voicepacket.Packet{
		Header: voicepacket.Header{
			Type:      voicepacket.PacketTypeOpus,
			Sequence:  seq,
			Timestamp: referenceTimestamp - FrameTicks,
			SSRC:      c.lastPacket.Header.SSRC,
		},
		Payload: payload,
	}
	c.stats.Repeated++
	return Result{Kind: KindRepeated, Packet: pkt}
}

func (c *Concealer) silencePacket(seq uint32, referenceTimestamp uint32) voicepacket.Packet {
	var ssrc ids.SSRC
	if c.hasLastPacket {
		ssrc = c.lastPacket.Header.SSRC
	}
	return voicepacket.Packet{
		Header: voicepacket.Header{
			Type:      voicepacket.PacketTypeSilence,
			Flags:     voicepacket.FlagDTX,
			Sequence:  seq,
			Timestamp: referenceTimestamp - FrameTicks,
			SSRC:      ssrc,
		},
	}
}
