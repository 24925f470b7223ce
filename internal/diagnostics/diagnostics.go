// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diagnostics gathers a read-only view of the capture session, its
// configuration, the host environment and recent log lines.
package diagnostics

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/jeranaias/screencap/internal/config"
	"github.com/jeranaias/screencap/internal/logging"
	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/pipeline"
)

// DefaultLogLines is how many log lines a snapshot carries by default.
const DefaultLogLines = 50

// Source is the part of the pipeline diagnostics reads.
type Source interface {
	Snapshot() pipeline.State
	Handle() *media.HandleInfo
	PlatformName() string
	SessionConfig() *config.Config
}

// Environment describes the running process.
type Environment struct {
	UserAgent    string `json:"user_agent"`
	Version      string `json:"version"`
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	Hostname     string `json:"hostname"`
	PID          int    `json:"pid"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
}

// Snapshot is everything diagnostics reports at one instant.
type Snapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	State       pipeline.State    `json:"state"`
	Platform    string            `json:"platform"`
	Handle      *media.HandleInfo `json:"handle,omitempty"`
	Config      *config.Config    `json:"config"`
	Environment Environment       `json:"environment"`
	Logs        []string          `json:"logs"`
}

// Collector builds snapshots. It never mutates what it reads.
type Collector struct {
	src     Source
	ring    *logging.Ring
	version string
	now     func() time.Time
}

// New creates a collector. ring may be nil.
func New(src Source, ring *logging.Ring, version string) *Collector {
	return &Collector{src: src, ring: ring, version: version, now: time.Now}
}

// UserAgent identifies this build in diagnostics and outgoing requests.
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("screencap/%s (%s; %s) %s", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// Env describes the current process.
func Env(version string) Environment {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return Environment{
		UserAgent:    UserAgent(version),
		Version:      version,
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		Hostname:     host,
		PID:          os.Getpid(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}
}

// Snapshot returns the current diagnostics with up to lines log lines.
// Secrets in the configuration are redacted.
func (c *Collector) Snapshot(lines int) Snapshot {
	if lines <= 0 {
		lines = DefaultLogLines
	}
	snap := Snapshot{
		GeneratedAt: c.now(),
		State:       c.src.Snapshot(),
		Platform:    c.src.PlatformName(),
		Handle:      c.src.Handle(),
		Config:      c.src.SessionConfig().Redacted(),
		Environment: Env(c.version),
		Logs:        []string{},
	}
	if c.ring != nil {
		for _, e := range c.ring.Lines(lines) {
			snap.Logs = append(snap.Logs, e.String())
		}
	}
	return snap
}

// Text renders s as a plain report.
func (s Snapshot) Text() string {
	var b strings.Builder
	st := s.State

	fmt.Fprintf(&b, "Status:      %s\n", st.Status)
	fmt.Fprintf(&b, "Session:     %s (since %s)\n", st.SessionID, st.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Platform:    %s\n", s.Platform)
	if st.Status == pipeline.StatusActive || st.Status == pipeline.StatusPaused {
		fmt.Fprintf(&b, "Countdown:   %ds of %ds\n", st.Countdown, st.Interval)
	}
	fmt.Fprintf(&b, "Captures:    %d attempted, %d stored, %d failed, %d skipped\n",
		st.CaptureCount, st.SuccessCount, st.FailureCount, st.SkippedCount)
	if st.LastCaptureURL != "" {
		fmt.Fprintf(&b, "Last:        %s (%dx%d at %s)\n", st.LastCaptureURL, st.LastWidth, st.LastHeight, st.LastCaptureAt.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "Last error:  %s\n", st.LastError)
	}
	if h := s.Handle; h != nil {
		fmt.Fprintf(&b, "Stream:      %s active=%t ended=%t\n", h.StreamID, h.Active, h.Ended)
		for _, t := range h.Tracks {
			state := "ended"
			if t.Live {
				state = "live"
			}
			fmt.Fprintf(&b, "  track %-6s %-24s %s\n", t.Kind, t.Label, state)
		}
	}
	if s.Config != nil {
		c := s.Config
		fmt.Fprintf(&b, "Capture:     source=%s resolution=%s fps=%d audio=%t basic=%t interval=%ds\n",
			c.Capture.Source, c.Capture.Resolution, c.Capture.FrameRate, c.Capture.IncludeAudio, c.Capture.BasicMode, c.Capture.IntervalSecs)
		fmt.Fprintf(&b, "Storage:     %s, log %s (keep %d)\n", c.Storage.Backend, c.Log.Driver, c.Log.Retention)
	}
	fmt.Fprintf(&b, "Agent:       %s\n", s.Environment.UserAgent)
	fmt.Fprintf(&b, "Host:        %s pid %d\n", s.Environment.Hostname, s.Environment.PID)

	if len(s.Logs) > 0 {
		b.WriteString("\nRecent log:\n")
		for _, l := range s.Logs {
			b.WriteString("  ")
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
