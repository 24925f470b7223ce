// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mediatest provides a scriptable media.Platform for tests.
package mediatest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/jeranaias/screencap/internal/media"
)

// ErrDenied is what Platform returns when Deny is set without DenyErr.
var ErrDenied = errors.New("user denied screen sharing")

// Platform is a fake capture platform. Configure fields before use; all
// methods are safe for concurrent use.
type Platform struct {
	mu sync.Mutex

	// Deny makes requests fail with a denied PermissionError.
	Deny bool
	// Unavailable makes requests fail as unsupported.
	Unavailable bool
	// ZeroTracks returns a stream with no tracks.
	ZeroTracks bool
	// Inactive returns a stream whose tracks have already ended.
	Inactive bool
	// WithAudio adds an audio track when audio is requested.
	WithAudio bool
	// NoFrames keeps sinks waiting forever for the first frame.
	NoFrames bool
	// Size is the frame size; defaults to 64x48.
	Size image.Point
	// Gate, when non-nil, blocks requests until it is closed or ctx ends.
	Gate chan struct{}

	calls       int
	constraints []media.Constraints
	streams     []*Stream
	entered     chan struct{}
}

// Stream is a fake stream that lets tests end it or swap its frames.
type Stream struct {
	*media.LiveStream
	frames *media.FrameBuffer
	video  *media.Track
}

// NewPlatform returns a platform that grants 64x48 streams.
func NewPlatform() *Platform {
	return &Platform{Size: image.Pt(64, 48)}
}

// Name implements media.Platform.
func (p *Platform) Name() string { return "fake" }

// Entered returns a channel that receives once per request after it starts.
func (p *Platform) Entered() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entered == nil {
		p.entered = make(chan struct{}, 16)
	}
	return p.entered
}

// RequestDisplayMedia implements media.Platform.
func (p *Platform) RequestDisplayMedia(ctx context.Context, c media.Constraints) (media.Stream, error) {
	p.mu.Lock()
	p.calls++
	p.constraints = append(p.constraints, c)
	gate := p.Gate
	entered := p.entered
	deny, unavailable, zero, inactive, noFrames, withAudio := p.Deny, p.Unavailable, p.ZeroTracks, p.Inactive, p.NoFrames, p.WithAudio
	size := p.Size
	p.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if unavailable {
		return nil, media.NewPermissionError(media.ErrKindUnavailable, "display capture unsupported", nil)
	}
	if deny {
		return nil, media.NewPermissionError(media.ErrKindDenied, "NotAllowedError", ErrDenied)
	}
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(64, 48)
	}

	frames := media.NewFrameBuffer()
	var tracks []*media.Track
	var video *media.Track
	if !zero {
		video = media.NewTrack(media.TrackVideo, "fake:screen", func() { frames.Close(nil) })
		tracks = append(tracks, video)
		if withAudio && c.Audio {
			tracks = append(tracks, media.NewTrack(media.TrackAudio, "fake:system-audio", nil))
		}
	}
	if !noFrames {
		frames.Publish(Frame(size))
	}
	if inactive {
		for _, t := range tracks {
			t.Stop()
		}
	}

	s := &Stream{LiveStream: media.NewLiveStream(tracks, frames), frames: frames, video: video}
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

// Calls returns how many requests reached the platform.
func (p *Platform) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Constraints returns the constraints of every request, in order.
func (p *Platform) Constraints() []media.Constraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]media.Constraints(nil), p.constraints...)
}

// Streams returns every stream handed out.
func (p *Platform) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Stream(nil), p.streams...)
}

// LiveTracks counts live tracks across every stream handed out.
func (p *Platform) LiveTracks() int {
	n := 0
	for _, s := range p.Streams() {
		for _, t := range s.Tracks() {
			if t.Live() {
				n++
			}
		}
	}
	return n
}

// End simulates the user pressing "stop sharing".
func (s *Stream) End() {
	if s.video != nil {
		s.video.End()
	}
	s.frames.Close(nil)
}

// Publish pushes a new frame.
func (s *Stream) Publish(img image.Image) {
	s.frames.Publish(img)
}

// Frame returns a solid test frame of the given size.
func Frame(size image.Point) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	c := color.RGBA{R: 0x20, G: 0x80, B: 0xe0, A: 0xff}
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
