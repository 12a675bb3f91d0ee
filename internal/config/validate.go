// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package config

import "errors"

var (
	ErrInvalidServerName    = errors.New("server.name must not be empty")
	ErrInvalidMaxClients    = errors.New("server.max_clients must be positive")
	ErrInvalidBindAddress   = errors.New("network.bind_address must not be empty")
	ErrInvalidTCPPort       = errors.New("network.tcp_port must be between 1 and 65535")
	ErrInvalidUDPPort       = errors.New("network.udp_port must be between 1 and 65535")
	ErrInvalidDatabaseKind  = errors.New("database.kind must be sqlite or postgres")
	ErrInvalidDatabaseURL   = errors.New("database.url must not be empty")
	ErrInvalidRedisHost     = errors.New("redis.host must not be empty when redis is enabled")
	ErrInvalidRedisPort     = errors.New("redis.port must be between 1 and 65535 when redis is enabled")
	ErrInvalidLogLevel      = errors.New("logging.level must be one of debug, info, warn, error")
	ErrInvalidLogFormat     = errors.New("logging.format must be one of text, json")
	ErrInvalidKeepalive     = errors.New("keepalive.interval_sec must be less than keepalive.timeout_sec")
	ErrInvalidAudioBitrate  = errors.New("audio.max_bitrate_kbps must be positive")
	ErrInvalidJitterBufMs   = errors.New("audio.jitter_buffer_ms must be positive")
	ErrInvalidSilenceTimeMs = errors.New("audio.silence_timeout_ms must be positive")
)

// Validate checks every configuration group for internal consistency,
// returning the first violation found.
func (c Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Audio.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Keepalive.Validate(); err != nil {
		return err
	}
	return nil
}

func (s Server) Validate() error {
	if s.Name == "" {
		return ErrInvalidServerName
	}
	if s.MaxClients <= 0 {
		return ErrInvalidMaxClients
	}
	return nil
}

func (n Network) Validate() error {
	if n.BindAddress == "" {
		return ErrInvalidBindAddress
	}
	if n.TCPPort <= 0 || n.TCPPort > 65535 {
		return ErrInvalidTCPPort
	}
	if n.UDPPort <= 0 || n.UDPPort > 65535 {
		return ErrInvalidUDPPort
	}
	return nil
}

func (d Database) Validate() error {
	if d.Kind != DatabaseKindSQLite && d.Kind != DatabaseKindPostgres {
		return ErrInvalidDatabaseKind
	}
	if d.URL == "" {
		return ErrInvalidDatabaseURL
	}
	return nil
}

func (r Redis) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Host == "" {
		return ErrInvalidRedisHost
	}
	if r.Port <= 0 || r.Port > 65535 {
		return ErrInvalidRedisPort
	}
	return nil
}

func (a Audio) Validate() error {
	if a.MaxBitrateKbps <= 0 {
		return ErrInvalidAudioBitrate
	}
	if a.JitterBufferMs <= 0 {
		return ErrInvalidJitterBufMs
	}
	if a.SilenceTimeoutMs <= 0 {
		return ErrInvalidSilenceTimeMs
	}
	return nil
}

func (l Logging) Validate() error {
	switch l.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return ErrInvalidLogLevel
	}
	switch l.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return ErrInvalidLogFormat
	}
	return nil
}

func (k Keepalive) Validate() error {
	if k.IntervalSec <= 0 || k.TimeoutSec <= 0 || k.IntervalSec >= k.TimeoutSec {
		return ErrInvalidKeepalive
	}
	return nil
}
