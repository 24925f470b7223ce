// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"sync/atomic"
	"time"
)

// Status is the capture session state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRequesting Status = "requesting-permission"
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the defined states.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRequesting, StatusActive, StatusPaused, StatusError:
		return true
	}
	return false
}

// HasHandle reports whether a session in state s holds a live media handle.
func (s Status) HasHandle() bool {
	return s == StatusActive || s == StatusPaused
}

// counters are monotonic for the life of the pipeline.
type counters struct {
	capture atomic.Uint64
	success atomic.Uint64
	failure atomic.Uint64
	skipped atomic.Uint64
}

// State is a point-in-time copy of the capture session.
type State struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Status    Status    `json:"status"`
	Countdown int       `json:"countdown"`
	Interval  int       `json:"interval"`
	// Ticking is false while paused even though the handle is kept.
	Ticking bool `json:"ticking"`

	CaptureCount uint64 `json:"capture_count"`
	SuccessCount uint64 `json:"success_count"`
	FailureCount uint64 `json:"failure_count"`
	SkippedCount uint64 `json:"skipped_count"`
	InFlight     int    `json:"in_flight"`

	LastError      string    `json:"last_error,omitempty"`
	LastCaptureURL string    `json:"last_capture_url,omitempty"`
	LastCaptureAt  time.Time `json:"last_capture_at,omitempty"`
	LastWidth      int       `json:"last_width,omitempty"`
	LastHeight     int       `json:"last_height,omitempty"`
}

// EventKind names what an Event reports.
type EventKind string

const (
	EventStatus       EventKind = "status"
	EventCountdown    EventKind = "countdown"
	EventCapture      EventKind = "capture"
	EventNotification EventKind = "notification"
)

// Event is pushed to subscribers on every observable change.
type Event struct {
	Kind      EventKind `json:"kind"`
	Time      time.Time `json:"time"`
	Status    Status    `json:"status,omitempty"`
	Countdown int       `json:"countdown,omitempty"`
	URL       string    `json:"url,omitempty"`
	Message   string    `json:"message,omitempty"`
}
