// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jeranaias/screencap/internal/config"
)

// NewPlatform returns the platform named by cfg.Source.
func NewPlatform(cfg config.CaptureConfig, log zerolog.Logger) (Platform, error) {
	switch cfg.Source {
	case "ffmpeg", "":
		return &FFmpegPlatform{
			Path:    cfg.FFmpegPath,
			Display: cfg.Display,
			Log:     log.With().Str("component", "ffmpeg").Logger(),
		}, nil
	case "synthetic":
		return &SyntheticPlatform{}, nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}
