// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package server assembles every collaborator into one running instance:
// the persistence layer, the in-memory fabric (presence, broadcaster,
// channel router, voice-state, permission cache, auth), the TCP control
// listener, the UDP voice datagram server, and the background sweep job
// that evicts inactive voice-state entries. Grounded on the teacher's
// cmd/root.go serverManager: a struct that owns every long-lived component
// and knows how to start and stop them in the right order.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/speakeasy-voice/speakeasy/internal/auth"
	"github.com/speakeasy-voice/speakeasy/internal/broadcast"
	"github.com/speakeasy-voice/speakeasy/internal/channelrouter"
	"github.com/speakeasy-voice/speakeasy/internal/config"
	"github.com/speakeasy-voice/speakeasy/internal/connection"
	"github.com/speakeasy-voice/speakeasy/internal/dispatch"
	"github.com/speakeasy-voice/speakeasy/internal/kv"
	"github.com/speakeasy-voice/speakeasy/internal/model"
	"github.com/speakeasy-voice/speakeasy/internal/permcache"
	"github.com/speakeasy-voice/speakeasy/internal/presence"
	"github.com/speakeasy-voice/speakeasy/internal/pubsub"
	"github.com/speakeasy-voice/speakeasy/internal/store"
	"github.com/speakeasy-voice/speakeasy/internal/voiceserver"
	"github.com/speakeasy-voice/speakeasy/internal/voicestate"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// presenceQueueDepth sizes the presence manager's internal event buffer.
const presenceQueueDepth = 256

// State owns every long-lived collaborator for one running instance and
// the listeners bound to them.
type State struct {
	cfg    config.Config
	logger *slog.Logger

	db     *gorm.DB
	kv     kv.KV
	pubsub pubsub.PubSub

	presence *presence.Manager
	router   *channelrouter.Router
	voice    *voicestate.Table
	perms    *permcache.Cache
	auth     *auth.Service
	bans     model.BanRepository

	dispatcher *dispatch.Dispatcher
	voiceSrv   *voiceserver.Server
	scheduler  gocron.Scheduler
}

// New opens the store, builds every collaborator, and wires the voice
// server's egress start-up into the dispatcher's OnVoiceJoin hook. It does
// not bind any listener yet; call ListenAndServe for that.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("server: opening store: %w", err)
	}

	kvStore, err := kv.MakeKV(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("server: connecting key-value store: %w", err)
	}

	pubsubClient, err := pubsub.MakePubSub(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("server: connecting pubsub: %w", err)
	}

	users := store.NewUserStore(db)
	channels := store.NewChannelStore(db)
	permissions := store.NewPermissionStore(db)
	bans := store.NewBanStore(db)
	invites := store.NewInviteStore(db)
	chat := store.NewChatStore(db)
	auditLog := store.NewAuditLogStore(db)

	presenceMgr := presence.New(presenceQueueDepth)
	router := channelrouter.New(channelrouter.DefaultQueueDepth)
	voice := voicestate.New()
	permCache := permcache.New(permissions)
	authSvc := auth.New(users, nil)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("server: creating scheduler: %w", err)
	}

	voiceSrv := voiceserver.New(cfg.Network.BindAddress, cfg.Network.UDPPort, voice, router, logger)

	collaborators := dispatch.Collaborators{
		Presence:    presenceMgr,
		Broadcaster: broadcast.New(presenceMgr, broadcast.DefaultQueueDepth),
		Router:      router,
		Voice:       voice,
		Perms:       permCache,
		Auth:        authSvc,

		Users:       users,
		Channels:    channels,
		Permissions: permissions,
		Bans:        bans,
		Invites:     invites,
		Chat:        chat,
		Audit:       auditLog,

		Registry: dispatch.NewRegistry(),
		Identity: dispatch.ServerIdentity{
			Name:       cfg.Server.Name,
			MaxClients: cfg.Server.MaxClients,
			UDPPort:    cfg.Network.UDPPort,
		},
		Logger:      logger,
		OnVoiceJoin: voiceSrv.StartEgress,
	}

	s := &State{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		kv:         kvStore,
		pubsub:     pubsubClient,
		presence:   presenceMgr,
		router:     router,
		voice:      voice,
		perms:      permCache,
		auth:       authSvc,
		bans:       bans,
		dispatcher: dispatch.New(collaborators),
		voiceSrv:   voiceSrv,
		scheduler:  scheduler,
	}
	collaborators.Shutdown = s.shutdownFromControlPlane
	s.dispatcher.Collaborators = collaborators

	return s, nil
}

// shutdownFromControlPlane backs the dispatcher's ServerStop handler: an
// admin-privileged client asked the instance to shut down. It only logs
// the request; teardown happens when the context passed to ListenAndServe
// is canceled, which this hook does not do.
func (s *State) shutdownFromControlPlane(reason string) {
	s.logger.Warn("shutdown requested over control plane", "reason", reason)
}

// ListenAndServe binds the TCP control listener and UDP voice socket,
// starts the inactivity sweep job, and accepts connections until ctx is
// canceled. It returns once every component has stopped.
func (s *State) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Network.BindAddress, s.cfg.Network.TCPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: binding tcp control listener: %w", err)
	}
	s.logger.Info("control listener bound", "addr", ln.Addr())

	if err := s.scheduleSweep(); err != nil {
		return fmt.Errorf("server: scheduling sweep job: %w", err)
	}
	if err := s.scheduleBanCleanup(); err != nil {
		return fmt.Errorf("server: scheduling ban cleanup job: %w", err)
	}
	s.scheduler.Start()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreOnShutdown(ctx, s.voiceSrv.ListenAndServe(gCtx)) })
	g.Go(func() error { return ignoreOnShutdown(ctx, s.acceptLoop(gCtx, ln)) })

	err = g.Wait()

	if shutdownErr := s.scheduler.Shutdown(); shutdownErr != nil {
		s.logger.Warn("scheduler shutdown error", "error", shutdownErr)
	}

	return err
}

// ignoreOnShutdown swallows errors that are the expected consequence of
// ctx being canceled, so a clean shutdown never reports spurious failures.
func ignoreOnShutdown(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// acceptLoop accepts control connections until the listener is closed
// (which ListenAndServe triggers when ctx is canceled), running each
// connection's frame loop on its own goroutine.
func (s *State) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.serveControlConn(ctx, conn)
	}
}

func (s *State) serveControlConn(ctx context.Context, transport net.Conn) {
	connCfg := connection.DefaultConfig()
	connCfg.KeepaliveInterval = s.cfg.Keepalive.Interval()
	connCfg.Timeout = s.cfg.Keepalive.Timeout()
	c := connection.New(transport, connCfg, s.dispatcher, s.dispatcher.Cleanup, s.logger)

	if err := c.Run(ctx); err != nil {
		s.logger.Debug("control connection closed", "peer", c.PeerAddr(), "error", err)
	}
}

// scheduleSweep registers the periodic voice-state inactivity eviction
// (§5's "background task sweeps inactive voice-state entries on a timer").
func (s *State) scheduleSweep() error {
	interval := time.Duration(s.cfg.Audio.VoiceInactivitySec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.sweepInactiveVoice(interval) }),
	)
	if err != nil {
		return fmt.Errorf("scheduling voice sweep: %w", err)
	}
	return nil
}

func (s *State) sweepInactiveVoice(timeout time.Duration) {
	stale := s.voice.SweepInactive(time.Now(), timeout)
	for _, user := range stale {
		s.router.Leave(user)
		s.voice.Remove(user)
		s.logger.Debug("evicted inactive voice session", "user", user)
	}
}

// banCleanupInterval is how often expired bans are purged from the store.
const banCleanupInterval = time.Hour

// banCleanupRetries caps the number of immediate retries a single cleanup
// run attempts before giving up until the next scheduled tick.
const banCleanupRetries = 3

// scheduleBanCleanup registers the periodic expired-ban purge.
func (s *State) scheduleBanCleanup() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(banCleanupInterval),
		gocron.NewTask(s.cleanupExpiredBans),
	)
	if err != nil {
		return fmt.Errorf("scheduling ban cleanup: %w", err)
	}
	return nil
}

// cleanupExpiredBans purges expired bans, retrying with linear backoff on
// transient store errors rather than waiting a full interval for the next
// scheduled attempt.
func (s *State) cleanupExpiredBans() {
	var lastErr error
	for attempt := 1; attempt <= banCleanupRetries; attempt++ {
		removed, err := s.bans.CleanupExpired(context.Background(), time.Now())
		if err == nil {
			if removed > 0 {
				s.logger.Debug("purged expired bans", "count", removed)
			}
			return
		}
		lastErr = err
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	s.logger.Warn("ban cleanup failed after retries", "error", lastErr)
}

// Close releases the store, kv, and pubsub connections. Call after
// ListenAndServe returns.
func (s *State) Close() error {
	var errs []error
	if s.pubsub != nil {
		if err := s.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing pubsub: %w", err))
		}
	}
	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing kv: %w", err))
		}
	}
	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	return errors.Join(errs...)
}
