// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"sync"

	"github.com/rs/xid"
)

// TrackKind is the media type of a track.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Track is one media track of a stream.
//
// Stop is the consumer ending the track; it does not fire ended listeners.
// End is the source ending the track (process exit, user pressed
// "stop sharing") and fires listeners exactly once.
type Track struct {
	id    string
	kind  TrackKind
	label string

	mu        sync.Mutex
	live      bool
	stopFn    func()
	stopOnce  sync.Once
	endOnce   sync.Once
	listeners []func(*Track)
}

// NewTrack creates a live track. stop releases the underlying source and may be nil.
func NewTrack(kind TrackKind, label string, stop func()) *Track {
	return &Track{
		id:     xid.New().String(),
		kind:   kind,
		label:  label,
		live:   true,
		stopFn: stop,
	}
}

func (t *Track) ID() string      { return t.id }
func (t *Track) Kind() TrackKind { return t.kind }
func (t *Track) Label() string   { return t.label }

// Live reports whether the track has neither been stopped nor ended.
func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Stop ends the track from the consumer side. Idempotent.
func (t *Track) Stop() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
	t.stopOnce.Do(func() {
		if t.stopFn != nil {
			t.stopFn()
		}
	})
}

// End marks the track as ended by its source and notifies listeners.
func (t *Track) End() {
	t.mu.Lock()
	wasLive := t.live
	t.live = false
	listeners := append([]func(*Track){}, t.listeners...)
	t.mu.Unlock()

	if !wasLive {
		return
	}
	t.endOnce.Do(func() {
		for _, fn := range listeners {
			fn(t)
		}
	})
}

// OnEnded registers fn to run when the source ends the track.
func (t *Track) OnEnded(fn func(*Track)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// TrackInfo is a serializable view of a track.
type TrackInfo struct {
	ID    string    `json:"id"`
	Kind  TrackKind `json:"kind"`
	Label string    `json:"label"`
	Live  bool      `json:"live"`
}

// Info returns the track's current state.
func (t *Track) Info() TrackInfo {
	return TrackInfo{ID: t.id, Kind: t.kind, Label: t.label, Live: t.Live()}
}
