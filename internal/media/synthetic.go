// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"context"
	"image"
	"image/color"
	"time"
)

// SyntheticPlatform produces a moving colour-bar test pattern. It always grants.
type SyntheticPlatform struct {
	// Size overrides the constraint-derived frame size when non-zero.
	Size image.Point
}

// Name implements Platform.
func (p *SyntheticPlatform) Name() string { return "synthetic" }

// RequestDisplayMedia implements Platform.
func (p *SyntheticPlatform) RequestDisplayMedia(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewPermissionError(ErrKindDenied, "request cancelled", err)
	}

	size := p.Size
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(LowMaxWidth, LowMaxHeight)
		if c.MaxWidth > 0 && c.MaxHeight > 0 {
			size = image.Pt(c.MaxWidth, c.MaxHeight)
		}
	}
	fps := c.FrameRate
	if fps <= 0 {
		fps = 1
	}

	frames := NewFrameBuffer()
	stop := make(chan struct{})
	track := NewTrack(TrackVideo, "synthetic:test-pattern", func() {
		close(stop)
		frames.Close(nil)
	})

	frames.Publish(testPattern(size, 0))
	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		for n := 1; ; n++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				frames.Publish(testPattern(size, n))
			}
		}
	}()

	return NewLiveStream([]*Track{track}, frames), nil
}

var bars = []color.RGBA{
	{0xc0, 0xc0, 0xc0, 0xff},
	{0xc0, 0xc0, 0x00, 0xff},
	{0x00, 0xc0, 0xc0, 0xff},
	{0x00, 0xc0, 0x00, 0xff},
	{0xc0, 0x00, 0xc0, 0xff},
	{0xc0, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0xc0, 0xff},
}

// testPattern draws SMPTE-style bars with a white marker that advances per frame.
func testPattern(size image.Point, n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	barWidth := size.X / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	markerX := (n * 16) % size.X
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			c := bars[min(x/barWidth, len(bars)-1)]
			if x >= markerX && x < markerX+16 && y < size.Y/8 {
				c = color.RGBA{0xff, 0xff, 0xff, 0xff}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
