// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// =============================================================================
// FRAME BUFFER
// =============================================================================

// FrameBuffer holds the most recent decoded frame of a stream and wakes
// sinks waiting for the first one.
type FrameBuffer struct {
	mu     sync.Mutex
	img    image.Image
	notify chan struct{}
	err    error
}

// NewFrameBuffer creates an empty buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{notify: make(chan struct{})}
}

// Publish stores img as the latest frame.
func (b *FrameBuffer) Publish(img image.Image) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	b.img = img
	close(b.notify)
	b.notify = make(chan struct{})
}

// Close marks the buffer finished; waiters receive err (ErrStreamEnded if nil).
func (b *FrameBuffer) Close(err error) {
	if err == nil {
		err = ErrStreamEnded
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	b.err = err
	close(b.notify)
}

func (b *FrameBuffer) state() (image.Image, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.img, b.notify, b.err
}

// wait blocks until a frame exists, the buffer closes, or ctx ends.
// A closed buffer yields its error even if a stale frame remains.
func (b *FrameBuffer) wait(ctx context.Context) (image.Image, error) {
	for {
		img, notify, err := b.state()
		if err != nil {
			return nil, err
		}
		if img != nil {
			return img, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		}
	}
}

// Sink attaches a sink that reads the current frame, waiting for the first one.
func (b *FrameBuffer) Sink() Sink {
	return &bufferSink{buf: b}
}

type bufferSink struct {
	buf    *FrameBuffer
	closed atomic.Bool
}

func (s *bufferSink) Ready(ctx context.Context) (image.Point, error) {
	if s.closed.Load() {
		return image.Point{}, ErrSinkClosed
	}
	img, err := s.buf.wait(ctx)
	if err != nil {
		return image.Point{}, err
	}
	return img.Bounds().Size(), nil
}

func (s *bufferSink) Frame(ctx context.Context) (image.Image, error) {
	if s.closed.Load() {
		return nil, ErrSinkClosed
	}
	return s.buf.wait(ctx)
}

func (s *bufferSink) Close() error {
	s.closed.Store(true)
	return nil
}

// =============================================================================
// LIVE STREAM
// =============================================================================

// LiveStream is a Stream backed by a FrameBuffer.
type LiveStream struct {
	id     string
	tracks []*Track
	frames *FrameBuffer

	attached atomic.Int64
}

// NewLiveStream assembles a stream from tracks and a frame buffer.
func NewLiveStream(tracks []*Track, frames *FrameBuffer) *LiveStream {
	return &LiveStream{id: xid.New().String(), tracks: tracks, frames: frames}
}

func (s *LiveStream) ID() string { return s.id }

func (s *LiveStream) Tracks() []*Track { return s.tracks }

func (s *LiveStream) Active() bool {
	for _, t := range s.tracks {
		if t.Live() {
			return true
		}
	}
	return false
}

// Attach opens a sink. It fails once the video track is gone.
func (s *LiveStream) Attach() (Sink, error) {
	if s.frames == nil {
		return nil, ErrStreamEnded
	}
	for _, t := range s.tracks {
		if t.Kind() == TrackVideo && t.Live() {
			s.attached.Add(1)
			return s.frames.Sink(), nil
		}
	}
	return nil, ErrStreamEnded
}

// Attachments reports how many sinks were opened; used by tests.
func (s *LiveStream) Attachments() int {
	return int(s.attached.Load())
}
