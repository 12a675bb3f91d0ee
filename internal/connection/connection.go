// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package connection

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/speakeasy-voice/speakeasy/internal/broadcast"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/wire"
)

// Config tunes one Conn's framing, keepalive, and timeout behavior.
type Config struct {
	MaxFrameSize      int
	KeepaliveInterval time.Duration
	Timeout           time.Duration
}

// DefaultConfig mirrors §5's defaults: 15s keepalive, 60s idle timeout.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:      wire.DefaultMaxFrameSize,
		KeepaliveInterval: 15 * time.Second,
		Timeout:           60 * time.Second,
	}
}

// Dispatcher routes one decoded envelope to the appropriate handler and
// returns the response to send back, or nil if the message needed no
// reply (§4.3: "None means the message is fully handled internally").
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *Conn, env wire.Envelope) (*wire.Envelope, error)
}

// Cleanup runs exactly once when a connection enters Closing (§4.2):
// de-registering from presence, the broadcaster, voice-state, the
// channel router, and invalidating the auth session.
type Cleanup func(conn *Conn)

// Conn is one accepted control connection: the transport, frame codec,
// state machine, and outbound queue, plus the run loop that ties them
// together per §4.2's contract.
type Conn struct {
	transport net.Conn
	codec     *wire.Codec
	cfg       Config
	dispatch  Dispatcher
	cleanup   Cleanup
	logger    *slog.Logger

	machine *Machine

	peerAddr string

	mu           sync.RWMutex
	sessionToken string
	user         *model.User
	outbound     *broadcast.Queue

	lastRecvNano atomic.Int64
	closeOnce    sync.Once
}

// New builds a Conn over an already-accepted transport.
func New(transport net.Conn, cfg Config, dispatch Dispatcher, cleanup Cleanup, logger *slog.Logger) *Conn {
	c := &Conn{
		transport: transport,
		codec:     wire.NewCodec(cfg.MaxFrameSize),
		cfg:       cfg,
		dispatch:  dispatch,
		cleanup:   cleanup,
		logger:    logger,
		machine:   NewMachine(),
		peerAddr:  transport.RemoteAddr().String(),
	}
	c.lastRecvNano.Store(time.Now().UnixNano())
	return c
}

// PeerAddr returns the remote address this connection was accepted
// from.
func (c *Conn) PeerAddr() string { return c.peerAddr }

// Machine returns the connection's state machine.
func (c *Conn) Machine() *Machine { return c.machine }

// User returns the authenticated user, or nil before login completes.
func (c *Conn) User() *model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// SetUser records the authenticated user and session token, called once
// by the Login handler on success.
func (c *Conn) SetUser(u *model.User, sessionToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
	c.sessionToken = sessionToken
}

// SessionToken returns the current session token, or "" before login.
func (c *Conn) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionToken
}

// BindOutbound attaches the connection's broadcaster queue, obtained
// from broadcast.Broadcaster.Register once the user is known.
func (c *Conn) BindOutbound(q *broadcast.Queue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outbound = q
}

// Send enqueues an event frame to this connection's outbound queue if
// one is bound; a nil/unbound queue silently drops the send (used for
// pre-login connections that cannot yet be addressed).
func (c *Conn) Send(env wire.Envelope) {
	c.mu.RLock()
	q := c.outbound
	c.mu.RUnlock()
	if q != nil {
		q.Send(env)
	}
}

// Kick writes a terminal frame straight to the transport and closes it,
// used for a server-kick or ban (§4.3): the connection's own read loop
// then observes the closed transport and unwinds through the normal
// Closing path exactly once, so cleanup still runs from one place.
func (c *Conn) Kick(terminal wire.Envelope) {
	_ = c.writeDirect(terminal)
	c.machine.Close()
	_ = c.transport.Close()
}

// writeDirect frames and writes one envelope straight to the transport,
// bypassing the outbound queue — used for responses to the request that
// is currently being handled, and for the keepalive ping. A write the
// peer does not drain within the connection timeout fails instead of
// blocking the run loop.
func (c *Conn) writeDirect(env wire.Envelope) error {
	buf, err := c.codec.Encode(nil, env)
	if err != nil {
		return err
	}
	if c.cfg.Timeout > 0 {
		if err := c.transport.SetWriteDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
			return err
		}
	}
	_, err = c.transport.Write(buf)
	return err
}

// touch records that a frame was just received, resetting the idle
// timeout clock.
func (c *Conn) touch() {
	c.lastRecvNano.Store(time.Now().UnixNano())
}

func (c *Conn) idleFor(now time.Time) time.Duration {
	last := time.Unix(0, c.lastRecvNano.Load())
	return now.Sub(last)
}

// Run executes the connection's loop per §4.2's contract: on each
// iteration it reads one frame and dispatches it, forwards one
// broadcast message, emits a scheduled keepalive ping, or observes
// shutdown — whichever is ready first. It returns when the connection
// closes, running cleanup exactly once before returning.
func (c *Conn) Run(ctx context.Context) error {
	defer c.runCleanupOnce()

	inbound := make(chan wire.Envelope, 1)
	readErrs := make(chan error, 1)
	go c.readLoop(ctx, inbound, readErrs)

	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	idleCheck := time.NewTicker(c.cfg.KeepaliveInterval)
	defer idleCheck.Stop()

	for {
		var outboundCh <-chan broadcast.Message
		c.mu.RLock()
		if c.outbound != nil {
			outboundCh = c.outbound.Receive()
		}
		c.mu.RUnlock()

		select {
		case <-ctx.Done():
			c.machine.Close()
			return nil

		case err := <-readErrs:
			c.machine.Close()
			if errors.Is(err, errConnClosed) {
				return nil
			}
			return err

		case env := <-inbound:
			c.touch()
			if err := c.handleInbound(ctx, env); err != nil {
				c.machine.Close()
				return err
			}

		case msg, ok := <-outboundCh:
			if !ok {
				continue
			}
			env, ok := msg.(wire.Envelope)
			if !ok {
				continue
			}
			if err := c.writeDirect(env); err != nil {
				c.machine.Close()
				return err
			}

		case <-ticker.C:
			_ = c.writeDirect(wire.Envelope{RequestID: 0, Message: wire.Ping{}})

		case <-idleCheck.C:
			if c.idleFor(time.Now()) > c.cfg.Timeout {
				c.machine.Close()
				return nil
			}
		}

		if c.machine.State() == StateClosing {
			return nil
		}
	}
}

func (c *Conn) handleInbound(ctx context.Context, env wire.Envelope) error {
	resp, err := c.dispatch.Dispatch(ctx, c, env)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return c.writeDirect(*resp)
}

var errConnClosed = errors.New("connection: closed")

// readLoop decodes frames off the transport and forwards them to
// inbound, exiting (and signaling errs) on read error, decode error, or
// context cancellation. It owns the only read buffer for this
// connection's lifetime, reused across iterations.
func (c *Conn) readLoop(ctx context.Context, inbound chan<- wire.Envelope, errs chan<- error) {
	buf := make([]byte, 0, c.cfg.MaxFrameSize)
	chunk := make([]byte, 64*1024)

	for {
		if ctx.Err() != nil {
			errs <- errConnClosed
			return
		}

		n, err := c.transport.Read(chunk)
		if err != nil {
			errs <- errConnClosed
			return
		}
		buf = append(buf, chunk[:n]...)

		envs, consumed, err := c.codec.Decode(buf)
		if err != nil {
			errs <- err
			return
		}
		buf = buf[consumed:]

		for _, env := range envs {
			select {
			case inbound <- env:
			case <-ctx.Done():
				errs <- errConnClosed
				return
			}
		}
	}
}

func (c *Conn) runCleanupOnce() {
	c.closeOnce.Do(func() {
		c.machine.Close()
		if c.cleanup != nil {
			c.cleanup(c)
		}
		if err := c.transport.Close(); err != nil && c.logger != nil {
			c.logger.Debug("closing transport", "peer", c.peerAddr, "error", err)
		}
	})
}
