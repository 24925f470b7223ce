// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package frame

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/media/mediatest"
)

func grant(t *testing.T, p *mediatest.Platform) (*media.Broker, *media.Handle) {
	t.Helper()
	b := media.NewBroker(p, zerolog.Nop())
	h, err := b.Request(context.Background(), media.Constraints{})
	require.NoError(t, err)
	return b, h
}

func TestExtract_PNGMatchesSourceSize(t *testing.T) {
	p := mediatest.NewPlatform()
	p.Size = image.Pt(40, 30)
	_, h := grant(t, p)

	e := NewExtractor(Options{}, zerolog.Nop())
	art, err := e.Extract(context.Background(), h)
	require.NoError(t, err)

	assert.Equal(t, "image/png", art.ContentType)
	assert.Equal(t, "png", art.Ext())
	assert.Equal(t, image.Pt(40, 30), art.Size())
	assert.False(t, art.CapturedAt.IsZero())

	img, err := png.Decode(bytes.NewReader(art.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 30), img.Bounds().Size())

	r, g, b, _ := img.At(5, 5).RGBA()
	assert.Equal(t, uint32(0x20), r>>8)
	assert.Equal(t, uint32(0x80), g>>8)
	assert.Equal(t, uint32(0xe0), b>>8)
}

func TestExtract_JPEG(t *testing.T) {
	_, h := grant(t, mediatest.NewPlatform())
	e := NewExtractor(Options{Format: FormatJPEG, JPEGQuality: 60}, zerolog.Nop())

	art, err := e.Extract(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", art.ContentType)
	assert.Equal(t, "jpg", art.Ext())
}

func TestSetOptions_AppliesToNextExtract(t *testing.T) {
	_, h := grant(t, mediatest.NewPlatform())
	e := NewExtractor(Options{}, zerolog.Nop())

	e.SetOptions(Options{Format: FormatJPEG})
	assert.Equal(t, jpeg.DefaultQuality, e.Options().JPEGQuality)
	assert.Equal(t, DefaultTimeout, e.Options().Timeout)

	art, err := e.Extract(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", art.ContentType)
	assert.Equal(t, FormatJPEG, art.Format)
}

func TestExtract_NoHandle(t *testing.T) {
	e := NewExtractor(Options{}, zerolog.Nop())
	_, err := e.Extract(context.Background(), nil)

	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "handle", ee.Stage)
	assert.ErrorIs(t, err, ErrNoHandle)
}

func TestExtract_ReleasedHandle(t *testing.T) {
	b, h := grant(t, mediatest.NewPlatform())
	b.Release(h)

	_, err := NewExtractor(Options{}, zerolog.Nop()).Extract(context.Background(), h)
	assert.ErrorIs(t, err, ErrNoHandle)
}

func TestExtract_TimesOutWithoutFrames(t *testing.T) {
	p := mediatest.NewPlatform()
	p.NoFrames = true
	_, h := grant(t, p)

	e := NewExtractor(Options{Timeout: 30 * time.Millisecond}, zerolog.Nop())
	start := time.Now()
	_, err := e.Extract(context.Background(), h)
	require.Error(t, err)

	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "metadata", ee.Stage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExtract_ZeroDimensions(t *testing.T) {
	p := mediatest.NewPlatform()
	p.NoFrames = true
	_, h := grant(t, p)
	p.Streams()[0].Publish(image.NewRGBA(image.Rect(0, 0, 0, 0)))

	_, err := NewExtractor(Options{}, zerolog.Nop()).Extract(context.Background(), h)
	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "metadata", ee.Stage)
}

func TestExtract_AttachesPerCall(t *testing.T) {
	p := mediatest.NewPlatform()
	_, h := grant(t, p)
	e := NewExtractor(Options{}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := e.Extract(context.Background(), h)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.Streams()[0].Attachments())
}

func TestEncode_UnsupportedFormat(t *testing.T) {
	_, _, err := Encode(image.NewRGBA(image.Rect(0, 0, 1, 1)), "tiff", 0)
	assert.Error(t, err)
}

func TestFit(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 100))
	out := Fit(src, 200)
	assert.Equal(t, image.Pt(200, 50), out.Bounds().Size())

	tall := image.NewRGBA(image.Rect(0, 0, 100, 400))
	assert.Equal(t, image.Pt(50, 200), Fit(tall, 200).Bounds().Size())

	assert.Same(t, src, Fit(src, 1000))
}

func TestShrink(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 300, 150))
	for x := 0; x < 300; x++ {
		src.Set(x, 10, color.White)
	}
	data, _, err := Encode(src, FormatPNG, 0)
	require.NoError(t, err)

	same, mime, err := Shrink(data, 500, 80)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, data, same)

	small, mime, err := Shrink(data, 100, 80)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(small))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	_, _, err = Shrink([]byte("not an image"), 100, 80)
	assert.Error(t, err)
}
