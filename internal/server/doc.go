// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes a capture session over HTTP and WebSocket.
//
// # Endpoints
//
//   - GET  /health                  - Liveness, public
//   - GET  /api/v1/status           - Status, countdown, last capture URL
//   - GET  /api/v1/diagnostics      - Diagnostics snapshot (?format=text)
//   - POST /api/v1/capture/toggle   - Start, pause or resume capturing
//   - POST /api/v1/capture/stop     - End the session
//   - POST /api/v1/capture/now      - Capture immediately
//   - GET  /api/v1/captures         - Recent capture log entries
//   - POST /api/v1/ask              - Ask the assistant about the screen
//   - GET  /api/v1/logs             - Recent process log lines
//   - GET  /ws                      - Pipeline events as JSON frames
//   - GET  /artifacts/{name}        - Local-store object behind a signed URL
//
// # Security
//
//   - Bearer token authentication with constant-time comparison
//     (?token= is accepted for WebSocket upgrades)
//   - Per-client token bucket rate limiting
//   - CORS for configured origins only
//   - Panic recovery and structured access logging
//
// # Usage
//
//	srv := server.New(server.Deps{
//		Config:   cfg.Server,
//		Pipeline: pipe,
//		Logger:   log,
//	})
//	defer srv.Close()
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
package server
