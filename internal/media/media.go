// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package media acquires live screen streams from a capture platform and
// guards the single screen-sharing grant a capture session may hold.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/jeranaias/screencap/internal/config"
)

// =============================================================================
// CONSTRAINTS
// =============================================================================

// Resolution presets.
const (
	LowMaxWidth   = 1280
	LowMaxHeight  = 720
	HighMaxWidth  = 1920
	HighMaxHeight = 1080
)

// Constraints describe the stream requested from the platform.
// Zero MaxWidth/MaxHeight/FrameRate mean "platform default".
type Constraints struct {
	MaxWidth  int
	MaxHeight int
	FrameRate int
	Audio     bool
	// Basic is set when advanced constraints were dropped.
	Basic bool
}

// ConstraintsFor derives request constraints from capture config.
// Basic mode keeps only the audio flag.
func ConstraintsFor(c config.CaptureConfig) Constraints {
	if c.BasicMode {
		return Constraints{Audio: c.IncludeAudio, Basic: true}
	}
	out := Constraints{FrameRate: c.FrameRate, Audio: c.IncludeAudio}
	switch c.Resolution {
	case "high":
		out.MaxWidth, out.MaxHeight = HighMaxWidth, HighMaxHeight
	default:
		out.MaxWidth, out.MaxHeight = LowMaxWidth, LowMaxHeight
	}
	return out
}

// =============================================================================
// PLATFORM INTERFACES
// =============================================================================

// Platform is a source of display media.
type Platform interface {
	Name() string
	// RequestDisplayMedia blocks until the user grants or denies sharing.
	RequestDisplayMedia(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live display-media stream.
type Stream interface {
	ID() string
	Tracks() []*Track
	// Active reports whether any track is still live.
	Active() bool
	// Attach opens a frame sink on the stream's video.
	Attach() (Sink, error)
}

// Sink reads frames from an attached stream. Callers must Close it.
type Sink interface {
	// Ready waits for stream metadata and returns the native frame size.
	Ready(ctx context.Context) (image.Point, error)
	// Frame waits for the next decoded frame.
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorKind classifies permission failures.
type ErrorKind string

const (
	// ErrKindUnavailable means no capture platform is present.
	ErrKindUnavailable ErrorKind = "unavailable"
	// ErrKindDenied means the user or platform refused the request.
	ErrKindDenied ErrorKind = "denied"
	// ErrKindInvalidStream means a stream came back without live tracks.
	ErrKindInvalidStream ErrorKind = "invalid-stream"
)

// Sentinel errors.
var (
	// ErrAlreadyInProgress is returned when a permission request is already pending.
	ErrAlreadyInProgress = errors.New("permission request already in progress")
	// ErrStreamEnded is returned by sinks once the stream has terminated.
	ErrStreamEnded = errors.New("stream ended")
	// ErrSinkClosed is returned by a sink used after Close.
	ErrSinkClosed = errors.New("sink closed")
)

// PermissionError reports why screen-sharing could not be acquired.
type PermissionError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *PermissionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("screen capture %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("screen capture %s: %s", e.Kind, e.Message)
}

func (e *PermissionError) Unwrap() error {
	return e.Cause
}

// NewPermissionError creates a permission error.
func NewPermissionError(kind ErrorKind, msg string, cause error) *PermissionError {
	return &PermissionError{Kind: kind, Message: msg, Cause: cause}
}

// IsDenied reports whether err is a permission denial.
func IsDenied(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe) && pe.Kind == ErrKindDenied
}

// IsUnavailable reports whether err means no platform support.
func IsUnavailable(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe) && pe.Kind == ErrKindUnavailable
}
