// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package frame turns the current frame of a live stream into an encoded image.
package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/jeranaias/screencap/internal/media"
)

// Image formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// DefaultTimeout bounds an extraction when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// ErrNoHandle is returned when there is no live stream to read.
var ErrNoHandle = errors.New("no active screen capture")

// Artifact is one encoded capture.
type Artifact struct {
	Data        []byte
	ContentType string
	Format      string
	Width       int
	Height      int
	CapturedAt  time.Time
}

// Ext returns the file extension for the artifact's format.
func (a *Artifact) Ext() string {
	if a.Format == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// Size returns the artifact dimensions.
func (a *Artifact) Size() image.Point {
	return image.Pt(a.Width, a.Height)
}

// ExtractionError reports the stage at which extraction failed.
type ExtractionError struct {
	Stage string
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("frame extraction failed at %s: %v", e.Stage, e.Cause)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// Options configures an Extractor.
type Options struct {
	Format      string
	JPEGQuality int
	Timeout     time.Duration
}

// Extractor reads and encodes frames.
type Extractor struct {
	opts atomic.Pointer[Options]
	log  zerolog.Logger
	now  func() time.Time
}

// NewExtractor creates an extractor; zero options fall back to PNG and DefaultTimeout.
func NewExtractor(opts Options, log zerolog.Logger) *Extractor {
	e := &Extractor{
		log: log.With().Str("component", "frame").Logger(),
		now: time.Now,
	}
	e.SetOptions(opts)
	return e
}

// SetOptions replaces the options used by later extractions. Calls already
// running keep the options they started with.
func (e *Extractor) SetOptions(opts Options) {
	if opts.Format == "" {
		opts.Format = FormatPNG
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = jpeg.DefaultQuality
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	e.opts.Store(&opts)
}

// Options returns the current options.
func (e *Extractor) Options() Options {
	return *e.opts.Load()
}

// Extract captures the current frame of h at its native size. The sink it
// attaches is always closed, and the call never outlives Options.Timeout.
func (e *Extractor) Extract(ctx context.Context, h *media.Handle) (*Artifact, error) {
	if h == nil || !h.Active() {
		return nil, &ExtractionError{Stage: "handle", Cause: ErrNoHandle}
	}

	opts := e.Options()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	sink, err := h.Stream().Attach()
	if err != nil {
		return nil, &ExtractionError{Stage: "attach", Cause: err}
	}
	defer sink.Close()

	size, err := sink.Ready(ctx)
	if err != nil {
		return nil, &ExtractionError{Stage: "metadata", Cause: err}
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, &ExtractionError{Stage: "metadata", Cause: fmt.Errorf("stream reports zero dimensions %v", size)}
	}

	src, err := sink.Frame(ctx)
	if err != nil {
		return nil, &ExtractionError{Stage: "frame", Cause: err}
	}
	capturedAt := e.now()

	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, &ExtractionError{Stage: "draw", Cause: errors.New("empty frame")}
	}
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	data, contentType, err := Encode(dst, opts.Format, opts.JPEGQuality)
	if err != nil {
		return nil, &ExtractionError{Stage: "encode", Cause: err}
	}

	e.log.Debug().
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("bytes", len(data)).
		Str("format", opts.Format).
		Msg("frame extracted")

	return &Artifact{
		Data:        data,
		ContentType: contentType,
		Format:      opts.Format,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		CapturedAt:  capturedAt,
	}, nil
}

// Encode writes img in format and returns the bytes and MIME type.
func Encode(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	case FormatPNG, "":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	default:
		return nil, "", fmt.Errorf("unsupported image format %q", format)
	}
}
