// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

// Package config loads and validates the server's configuration surface:
// a YAML file consulted at startup, with every recognized key falling
// back to a documented default when missing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server groups server identity and capacity.
type Server struct {
	Name       string `yaml:"name"`
	MaxClients int    `yaml:"max_clients"`
	Welcome    string `yaml:"welcome"`
	Password   string `yaml:"password"`
}

// Network groups listener binding.
type Network struct {
	BindAddress string `yaml:"bind_address"`
	TCPPort     int    `yaml:"tcp_port"`
	UDPPort     int    `yaml:"udp_port"`
}

// Database groups the persistence target for the default store.
type Database struct {
	Kind           DatabaseKind `yaml:"kind"`
	URL            string       `yaml:"url"`
	MaxConnections int          `yaml:"max_connections"`
}

// Redis groups the optional clustered pubsub/kv backend. Not part of the
// original config surface in spec.md §6, but required to back the
// multi-instance pubsub/kv abstractions described in SPEC_FULL.md.
type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

// Audio groups voice-path defaults.
type Audio struct {
	MaxBitrateKbps     int `yaml:"max_bitrate_kbps"`
	JitterBufferMs     int `yaml:"jitter_buffer_ms"`
	SilenceTimeoutMs   int `yaml:"silence_timeout_ms"`
	VoiceInactivitySec int `yaml:"voice_inactivity_sec"`
}

// Logging groups diagnostics output.
type Logging struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
	File   string    `yaml:"file"`
}

// Keepalive groups connection-liveness timing.
type Keepalive struct {
	IntervalSec int `yaml:"interval_sec"`
	TimeoutSec  int `yaml:"timeout_sec"`
}

func (k Keepalive) Interval() time.Duration { return time.Duration(k.IntervalSec) * time.Second }
func (k Keepalive) Timeout() time.Duration  { return time.Duration(k.TimeoutSec) * time.Second }

// Config is the full, validated server configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Network   Network   `yaml:"network"`
	Database  Database  `yaml:"database"`
	Redis     Redis     `yaml:"redis"`
	Audio     Audio     `yaml:"audio"`
	Logging   Logging   `yaml:"logging"`
	Keepalive Keepalive `yaml:"keepalive"`
}

// Default returns a Config with every recognized key set to its documented
// default.
func Default() Config {
	return Config{
		Server: Server{
			Name:       "Speakeasy",
			MaxClients: 512,
		},
		Network: Network{
			BindAddress: "0.0.0.0",
			TCPPort:     9987,
			UDPPort:     9987,
		},
		Database: Database{
			Kind:           DatabaseKindSQLite,
			URL:            "speakeasy.db",
			MaxConnections: 10,
		},
		Redis: Redis{
			Enabled: false,
			Host:    "localhost",
			Port:    6379,
		},
		Audio: Audio{
			MaxBitrateKbps:     96,
			JitterBufferMs:     400,
			SilenceTimeoutMs:   2000,
			VoiceInactivitySec: 30,
		},
		Logging: Logging{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
		Keepalive: Keepalive{
			IntervalSec: 15,
			TimeoutSec:  60,
		},
	}
}

// Load reads the YAML file at path, overlaying it onto Default(), and
// validates the result. A missing file is not an error: defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, cfg.Validate()
}
