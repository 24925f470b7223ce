// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for screencap.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - CaptureConfig: Acquisition constraints, interval and overlap policy
//   - UploadConfig: Upload timeout and retry policy
//   - StorageConfig / LogConfig: Object store and capture log backends
//   - Store / Watcher: Live configuration with on-disk reload
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SCREENCAP_*)
//   - ~/.screencap/config.toml
//   - ~/.screencap/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	interval := cfg.Capture.Interval()
//	timeout := cfg.Upload.Timeout()
package config
