// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// HANDLE
// =============================================================================

// Handle is the granted screen-sharing stream. The broker owns it; holders
// only check liveness and pass it back to Release.
type Handle struct {
	stream     Stream
	acquiredAt time.Time

	ended       atomic.Bool
	released    atomic.Bool
	releaseOnce sync.Once
}

// Stream returns the underlying stream.
func (h *Handle) Stream() Stream {
	if h == nil {
		return nil
	}
	return h.stream
}

// Active reports whether the handle can still produce frames.
func (h *Handle) Active() bool {
	if h == nil || h.released.Load() || h.ended.Load() {
		return false
	}
	return h.stream.Active()
}

// Ended reports whether the source terminated the stream.
func (h *Handle) Ended() bool {
	return h != nil && h.ended.Load()
}

// LiveTracks counts tracks that are still live.
func (h *Handle) LiveTracks() int {
	if h == nil {
		return 0
	}
	n := 0
	for _, t := range h.stream.Tracks() {
		if t.Live() {
			n++
		}
	}
	return n
}

// HandleInfo is a serializable view of a handle.
type HandleInfo struct {
	StreamID   string      `json:"stream_id"`
	AcquiredAt time.Time   `json:"acquired_at"`
	Active     bool        `json:"active"`
	Ended      bool        `json:"ended"`
	LiveTracks int         `json:"live_tracks"`
	Tracks     []TrackInfo `json:"tracks"`
}

// Info returns the handle's current state; nil handles yield nil.
func (h *Handle) Info() *HandleInfo {
	if h == nil {
		return nil
	}
	info := &HandleInfo{
		StreamID:   h.stream.ID(),
		AcquiredAt: h.acquiredAt,
		Active:     h.Active(),
		Ended:      h.Ended(),
		LiveTracks: h.LiveTracks(),
	}
	for _, t := range h.stream.Tracks() {
		info.Tracks = append(info.Tracks, t.Info())
	}
	return info
}

func (h *Handle) stopAll() {
	h.releaseOnce.Do(func() {
		h.released.Store(true)
		for _, t := range h.stream.Tracks() {
			t.Stop()
		}
	})
}

// =============================================================================
// BROKER
// =============================================================================

// Broker requests screen-sharing from a Platform. It allows one request in
// flight and one live handle at a time.
type Broker struct {
	platform Platform
	log      zerolog.Logger
	now      func() time.Time

	inFlight atomic.Bool

	mu      sync.Mutex
	current *Handle
}

// NewBroker creates a broker. A nil platform makes every request fail as unavailable.
func NewBroker(platform Platform, log zerolog.Logger) *Broker {
	return &Broker{
		platform: platform,
		log:      log.With().Str("component", "media").Logger(),
		now:      time.Now,
	}
}

// PlatformName returns the configured platform's name.
func (b *Broker) PlatformName() string {
	if b.platform == nil {
		return "none"
	}
	return b.platform.Name()
}

// Current returns the live handle, if any.
func (b *Broker) Current() *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Request asks the platform for a display stream. A concurrent call returns
// ErrAlreadyInProgress without reaching the platform. Any previously granted
// handle is released first.
func (b *Broker) Request(ctx context.Context, c Constraints) (*Handle, error) {
	if !b.inFlight.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInProgress
	}
	defer b.inFlight.Store(false)

	if b.platform == nil {
		return nil, NewPermissionError(ErrKindUnavailable, "no screen capture platform configured", nil)
	}

	b.mu.Lock()
	prev := b.current
	b.current = nil
	b.mu.Unlock()
	if prev != nil {
		b.log.Debug().Str("stream", prev.stream.ID()).Msg("releasing previous stream before new request")
		prev.stopAll()
	}

	b.log.Info().
		Str("platform", b.platform.Name()).
		Int("max_width", c.MaxWidth).
		Int("frame_rate", c.FrameRate).
		Bool("audio", c.Audio).
		Bool("basic", c.Basic).
		Msg("requesting screen capture permission")

	stream, err := b.platform.RequestDisplayMedia(ctx, c)
	if err != nil {
		var pe *PermissionError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, NewPermissionError(ErrKindDenied, "request failed", err)
	}

	if err := validateStream(stream); err != nil {
		if stream != nil {
			for _, t := range stream.Tracks() {
				t.Stop()
			}
		}
		return nil, err
	}

	if c.Audio && !hasKind(stream, TrackAudio) {
		b.log.Warn().Msg("audio requested but the stream carries video only")
	}

	h := &Handle{stream: stream, acquiredAt: b.now()}
	for _, t := range stream.Tracks() {
		t.OnEnded(func(t *Track) {
			if t.Kind() == TrackVideo {
				h.ended.Store(true)
			}
			b.log.Warn().Str("track", t.ID()).Str("kind", string(t.Kind())).Msg("screen sharing track ended")
		})
	}

	b.mu.Lock()
	b.current = h
	b.mu.Unlock()

	b.log.Info().Str("stream", stream.ID()).Int("tracks", len(stream.Tracks())).Msg("screen capture permission granted")
	return h, nil
}

// Release stops every track of h. Safe on nil or already released handles.
func (b *Broker) Release(h *Handle) {
	if h == nil {
		return
	}
	h.stopAll()

	b.mu.Lock()
	if b.current == h {
		b.current = nil
	}
	b.mu.Unlock()
}

func validateStream(s Stream) error {
	if s == nil {
		return NewPermissionError(ErrKindInvalidStream, "platform returned no stream", nil)
	}
	if len(s.Tracks()) == 0 {
		return NewPermissionError(ErrKindInvalidStream, "stream has no tracks", nil)
	}
	if !s.Active() {
		return NewPermissionError(ErrKindInvalidStream, "stream is not active", nil)
	}
	if !hasKind(s, TrackVideo) {
		return NewPermissionError(ErrKindInvalidStream, "stream has no video track", nil)
	}
	return nil
}

func hasKind(s Stream, kind TrackKind) bool {
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}
