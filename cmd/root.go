// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/speakeasy-voice/speakeasy/internal/config"
	"github.com/speakeasy-voice/speakeasy/internal/logging"
	"github.com/speakeasy-voice/speakeasy/internal/server"
)

// NewCommand builds the speakeasyd root command.
func NewCommand(version, commit string) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "speakeasyd",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		RunE:              func(cmd *cobra.Command, args []string) error { return runRoot(cmd, configPath) },
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the server's YAML config file")
	return cmd
}

func runRoot(cmd *cobra.Command, configPath string) error {
	ctx := cmd.Context()
	fmt.Printf("speakeasyd - %s (%s)\n", cmd.Annotations["version"], cmd.Annotations["commit"])

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)

	logger.Info("starting speakeasyd", "version", cmd.Annotations["version"], "commit", cmd.Annotations["commit"],
		"control_addr", fmt.Sprintf("%s:%d", cfg.Network.BindAddress, cfg.Network.TCPPort),
		"voice_addr", fmt.Sprintf("%s:%d", cfg.Network.BindAddress, cfg.Network.UDPPort))

	state, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to assemble server: %w", err)
	}
	defer func() {
		if err := state.Close(); err != nil {
			logger.Error("error closing server resources", "error", err)
		}
	}()

	return runUntilSignal(ctx, logger, state)
}

// runUntilSignal starts the server and blocks until SIGINT/SIGTERM/SIGQUIT/
// SIGHUP, then drives an orderly shutdown with a hard deadline so a stuck
// component can never hang the process indefinitely.
func runUntilSignal(ctx context.Context, logger *slog.Logger, state *server.State) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErrs := make(chan error, 1)
	go func() { serveErrs <- state.ListenAndServe(runCtx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Warn("shutting down due to signal", "signal", sig)
		cancel()
	case err := <-serveErrs:
		if err != nil {
			logger.Error("server exited unexpectedly", "error", err)
			return err
		}
		return nil
	}

	const shutdownTimeout = 10 * time.Second
	select {
	case err := <-serveErrs:
		if err != nil {
			logger.Error("error during shutdown", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Error("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}
}
