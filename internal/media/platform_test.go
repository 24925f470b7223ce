// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"context"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/screencap/internal/config"
)

func TestFFmpegArgs(t *testing.T) {
	p := &FFmpegPlatform{GOOS: "linux"}

	args := strings.Join(p.Args(Constraints{MaxWidth: 1280, FrameRate: 2}), " ")
	assert.Contains(t, args, "-f x11grab")
	assert.Contains(t, args, "-framerate 2")
	assert.Contains(t, args, "-i :0.0")
	assert.Contains(t, args, "scale='min(1280,iw)':-2")
	assert.True(t, strings.HasSuffix(args, "-f image2pipe -c:v png pipe:1"))

	basic := strings.Join(p.Args(Constraints{MaxWidth: 1280, FrameRate: 2, Basic: true}), " ")
	assert.NotContains(t, basic, "-framerate")
	assert.NotContains(t, basic, "scale=")
}

func TestFFmpegDevicePerOS(t *testing.T) {
	tests := []struct {
		goos, device, display string
	}{
		{"linux", "x11grab", ":0.0"},
		{"darwin", "avfoundation", "1:none"},
		{"windows", "gdigrab", "desktop"},
	}
	for _, tt := range tests {
		p := &FFmpegPlatform{GOOS: tt.goos}
		if got := p.device(); got != tt.device {
			t.Errorf("device(%s) = %q, want %q", tt.goos, got, tt.device)
		}
		if got := p.display(); got != tt.display {
			t.Errorf("display(%s) = %q, want %q", tt.goos, got, tt.display)
		}
	}

	p := &FFmpegPlatform{GOOS: "linux", Display: ":1.0+0,0"}
	assert.Equal(t, ":1.0+0,0", p.display())
}

func TestFFmpegMissingBinaryIsUnavailable(t *testing.T) {
	p := &FFmpegPlatform{Path: "/nonexistent/ffmpeg-for-tests", Log: zerolog.Nop()}
	_, err := p.RequestDisplayMedia(context.Background(), Constraints{})
	assert.True(t, IsUnavailable(err))
}

func TestSyntheticPlatform(t *testing.T) {
	p := &SyntheticPlatform{Size: image.Pt(70, 20)}
	b := NewBroker(p, zerolog.Nop())

	h, err := b.Request(context.Background(), Constraints{FrameRate: 10})
	require.NoError(t, err)
	defer b.Release(h)

	sink, err := h.Stream().Attach()
	require.NoError(t, err)
	defer sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	size, err := sink.Ready(ctx)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(70, 20), size)

	b.Release(h)
	_, err = sink.Frame(ctx)
	assert.ErrorIs(t, err, ErrStreamEnded)
}

func TestNewPlatform(t *testing.T) {
	cfg := config.Default().Capture

	cfg.Source = "synthetic"
	p, err := NewPlatform(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "synthetic", p.Name())

	cfg.Source = "ffmpeg"
	p, err = NewPlatform(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.Name(), "ffmpeg/"))

	cfg.Source = "webcam"
	_, err = NewPlatform(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 4}
	tb.Write([]byte("abc"))
	tb.Write([]byte("def"))
	assert.Equal(t, "cdef", tb.String())
}
