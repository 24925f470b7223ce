// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process logger and keeps a bounded in-memory
// tail of recent lines for diagnostics and the terminal UI.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	Level string
	// Format is "console" or "json".
	Format string
	// BufferLines is the ring buffer capacity.
	BufferLines int
	// File, when set, receives JSON lines in addition to the primary output.
	File string
	// Output overrides stderr as the primary destination.
	Output io.Writer
	// Quiet drops the primary output entirely; only the ring (and File) are written.
	// The TUI uses this so log lines do not tear the screen.
	Quiet bool
}

// Logger bundles the root zerolog logger with its ring buffer.
type Logger struct {
	zerolog.Logger
	Ring *Ring

	closer io.Closer
}

// New builds a Logger from opts.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	ring := NewRing(opts.BufferLines)
	writers := []io.Writer{ring}

	if !opts.Quiet {
		out := opts.Output
		if out == nil {
			out = os.Stderr
		}
		if strings.EqualFold(opts.Format, "json") {
			writers = append(writers, out)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
		}
	}

	var closer io.Closer
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{Logger: zl, Ring: ring, closer: closer}, nil
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ParseLevel maps a config level to a zerolog level; empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
