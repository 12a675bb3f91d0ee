// SPDX-License-Identifier: AGPL-3.0-or-later
// Speakeasy - a TeamSpeak-class voice chat server core

package config

// LogLevel is the configured minimum severity to emit.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat selects the logging handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// DatabaseKind selects the default store's backing driver.
type DatabaseKind string

const (
	DatabaseKindSQLite   DatabaseKind = "sqlite"
	DatabaseKindPostgres DatabaseKind = "postgres"
)
