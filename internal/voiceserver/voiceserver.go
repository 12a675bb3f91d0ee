// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package voiceserver binds the voice datagram socket (§4.7): a single
// ingress loop decodes inbound packets and hands them to the channel
// router, while a per-client egress task drains each router queue back
// onto the wire. Grounded on internal/dmr/server.go's UDP accept loop.
package voiceserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/speakeasy-voice/speakeasy/internal/channelrouter"
	"github.com/speakeasy-voice/speakeasy/internal/ids"
	"github.com/speakeasy-voice/speakeasy/internal/voicepacket"
	"github.com/speakeasy-voice/speakeasy/internal/voicestate"
)

// recvBufferSize is reused across every ingress iteration so receiving a
// packet never allocates; sized for the largest legal datagram
// (voicepacket.HeaderSize + voicepacket.MaxPayloadSize) with headroom.
const recvBufferSize = 2048

// socketBufferSize is the kernel read/write buffer requested on the UDP
// socket, sized generously for bursts of simultaneous speakers.
const socketBufferSize = 1 << 20

// Server is the voice datagram server.
type Server struct {
	bindAddr string
	port     int
	voice    *voicestate.Table
	router   *channelrouter.Router
	logger   *slog.Logger

	conn  *net.UDPConn
	ready chan struct{}
}

// New builds a Server bound to bindAddr:port once ListenAndServe runs.
func New(bindAddr string, port int, voice *voicestate.Table, router *channelrouter.Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{bindAddr: bindAddr, port: port, voice: voice, router: router, logger: logger, ready: make(chan struct{})}
}

// ListenAndServe binds the UDP socket and runs the ingress loop until ctx
// is canceled, at which point the socket is closed and the loop returns
// cleanly. It does not return until the loop has exited.
func (s *Server) ListenAndServe(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(s.bindAddr), Port: s.port})
	if err != nil {
		return fmt.Errorf("voiceserver: binding udp socket: %w", err)
	}
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		s.logger.Warn("failed to set udp read buffer size", "error", err)
	}
	if err := conn.SetWriteBuffer(socketBufferSize); err != nil {
		s.logger.Warn("failed to set udp write buffer size", "error", err)
	}
	s.conn = conn
	close(s.ready)

	s.logger.Info("voice server listening", "addr", conn.LocalAddr())

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stopped:
		}
	}()
	defer close(stopped)

	buf := make([]byte, recvBufferSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("voice ingress read error", "error", err)
			continue
		}
		s.handlePacket(buf[:n], from)
	}
}

// handlePacket implements the §4.7 per-iteration ingress steps: decode,
// resolve the sender, apply speaking flags, touch the inactivity clock,
// and hand the raw wire bytes to the router.
func (s *Server) handlePacket(raw []byte, from *net.UDPAddr) {
	pkt, err := voicepacket.Decode(raw)
	if err != nil {
		return
	}

	user, ok := s.voice.UserByEndpoint(from.String())
	if !ok {
		return
	}

	if pkt.Header.Flags.Has(voicepacket.FlagSpeakingStart) {
		s.voice.SetSpeaking(user, true)
	}
	if pkt.Header.Flags.Has(voicepacket.FlagSpeakingStop) {
		s.voice.SetSpeaking(user, false)
	}
	s.voice.TouchLastPacket(user)

	wire := make([]byte, len(raw))
	copy(wire, raw)
	s.router.Forward(user, wire)
}

// LocalAddr returns the bound socket address. Callers must wait on Ready
// before calling it.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Ready closes once the socket is bound; callers that wire StartEgress as
// a hook invoked from another goroutine (e.g. dispatch.Collaborators.
// OnVoiceJoin) should wait on it before ListenAndServe's caller allows
// any connection through, or hold any pre-bind call until it fires.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// StartEgress spawns the per-client egress task bound to endpoint: it
// drains queue, writing each shared datagram to the socket, until queue
// closes (the client left its channel or disconnected). Satisfies the
// dispatch package's OnVoiceJoin hook.
func (s *Server) StartEgress(user ids.UserID, endpoint string, queue <-chan *channelrouter.Datagram) {
	<-s.ready
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		s.logger.Warn("voice egress: unresolvable endpoint", "user", user, "endpoint", endpoint, "error", err)
		return
	}
	go func() {
		for dg := range queue {
			if _, err := s.conn.WriteToUDP(dg.Bytes, addr); err != nil {
				s.logger.Debug("voice egress write failed", "user", user, "error", err)
			}
		}
	}()
}
