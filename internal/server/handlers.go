// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"github.com/jeranaias/screencap/internal/assist"
	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/diagnostics"
	"github.com/jeranaias/screencap/internal/logging"
	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/objstore"
	"github.com/jeranaias/screencap/internal/ollama"
	"github.com/jeranaias/screencap/internal/pipeline"
	"github.com/jeranaias/screencap/internal/util"
)

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string          `json:"status"`
	Version string          `json:"version"`
	Uptime  string          `json:"uptime"`
	Capture pipeline.Status `json:"capture"`
	Clients int             `json:"ws_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Clients: s.hub.Len(),
	}
	if s.pipe != nil {
		resp.Capture = s.pipe.Status()
	}
	if s.captures != nil {
		if err := s.captures.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// STATUS AND CONTROL
// ============================================================================

// StatusResponse is the body of GET /api/v1/status and the capture
// control endpoints.
type StatusResponse struct {
	Status         pipeline.Status `json:"status"`
	Countdown      int             `json:"countdown"`
	LastCaptureURL string          `json:"lastCaptureUrl"`
	LastError      string          `json:"lastError,omitempty"`
	CaptureCount   uint64          `json:"captureCount"`
	SuccessCount   uint64          `json:"successCount"`
	FailureCount   uint64          `json:"failureCount"`
	SkippedCount   uint64          `json:"skippedCount"`
}

func statusFrom(st pipeline.State) StatusResponse {
	return StatusResponse{
		Status:         st.Status,
		Countdown:      st.Countdown,
		LastCaptureURL: st.LastCaptureURL,
		LastError:      st.LastError,
		CaptureCount:   st.CaptureCount,
		SuccessCount:   st.SuccessCount,
		FailureCount:   st.FailureCount,
		SkippedCount:   st.SkippedCount,
	}
}

func (s *Server) requirePipeline(w http.ResponseWriter) bool {
	if s.pipe == nil {
		writeError(w, http.StatusServiceUnavailable, "capture pipeline not configured")
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requirePipeline(w) {
		return
	}
	writeJSON(w, http.StatusOK, statusFrom(s.pipe.Snapshot()))
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !s.requirePipeline(w) {
		return
	}
	_, err := s.pipe.Toggle(r.Context())
	resp := statusFrom(s.pipe.Snapshot())
	if err != nil {
		code := toggleErrorCode(err)
		hlog.FromRequest(r).Info().Err(err).Int("code", code).Msg("toggle refused")
		writeJSON(w, code, ErrorResponse{Error: ErrorBody{Message: err.Error(), Code: code, Status: string(resp.Status)}})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func toggleErrorCode(err error) int {
	var permErr *media.PermissionError
	switch {
	case media.IsUnavailable(err):
		return http.StatusNotImplemented
	case media.IsDenied(err):
		return http.StatusForbidden
	case errors.As(err, &permErr):
		return http.StatusBadGateway
	case errors.Is(err, media.ErrAlreadyInProgress), errors.Is(err, pipeline.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.requirePipeline(w) {
		return
	}
	s.pipe.Stop()
	writeJSON(w, http.StatusOK, statusFrom(s.pipe.Snapshot()))
}

func (s *Server) handleCaptureNow(w http.ResponseWriter, r *http.Request) {
	if !s.requirePipeline(w) {
		return
	}
	rec, err := s.pipe.CaptureNow(r.Context())
	if err != nil {
		code := http.StatusBadGateway
		switch {
		case errors.Is(err, pipeline.ErrNotActive), errors.Is(err, pipeline.ErrBusy), errors.Is(err, media.ErrStreamEnded):
			code = http.StatusConflict
		case errors.Is(err, pipeline.ErrClosed):
			code = http.StatusServiceUnavailable
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ============================================================================
// DIAGNOSTICS AND LOGS
// ============================================================================

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.diag == nil {
		writeError(w, http.StatusServiceUnavailable, "diagnostics not configured")
		return
	}
	lines, err := intParam(r, "lines", diagnostics.DefaultLogLines, MaxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.diag.Snapshot(lines)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(snap.Text()))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// LogsResponse is the body of GET /api/v1/logs.
type LogsResponse struct {
	Entries []logging.Entry `json:"entries"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.ring == nil {
		writeError(w, http.StatusServiceUnavailable, "log buffer not configured")
		return
	}
	n, err := intParam(r, "n", 100, MaxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := s.ring.Lines(n)
	if level := r.URL.Query().Get("level"); level != "" {
		filtered := entries[:0:0]
		for _, e := range entries {
			if strings.EqualFold(e.Level, level) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []logging.Entry{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{Entries: entries})
}

// ============================================================================
// CAPTURES
// ============================================================================

// CapturesResponse is the body of GET /api/v1/captures.
type CapturesResponse struct {
	Captures []capturelog.Record `json:"captures"`
	Total    int                 `json:"total"`
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if s.captures == nil {
		writeError(w, http.StatusServiceUnavailable, "capture log not configured")
		return
	}
	limit, err := intParam(r, "limit", DefaultListLimit, MaxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.captures.List(r.Context(), limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list captures")
		writeError(w, http.StatusInternalServerError, "list captures failed")
		return
	}
	total, err := s.captures.Count(r.Context())
	if err != nil {
		total = len(recs)
	}
	if recs == nil {
		recs = []capturelog.Record{}
	}
	writeJSON(w, http.StatusOK, CapturesResponse{Captures: recs, Total: total})
}

// handleArtifact serves a local-store object behind a signed URL.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.local == nil {
		writeError(w, http.StatusNotFound, "artifacts are not served by this backend")
		return
	}
	name := mux.Vars(r)["name"]
	q := r.URL.Query()
	switch err := s.local.Verify(name, q.Get("exp"), q.Get("sig")); {
	case errors.Is(err, objstore.ErrURLExpired):
		writeError(w, http.StatusGone, err.Error())
		return
	case errors.Is(err, objstore.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	data, contentType, err := s.local.Get(r.Context(), name)
	if errors.Is(err, objstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "capture not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("name", name).Msg("read artifact")
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

// ============================================================================
// ASK
// ============================================================================

// AskRequest is the body of POST /api/v1/ask.
type AskRequest struct {
	Prompt   string        `json:"prompt"`
	History  []assist.Turn `json:"history,omitempty"`
	TextOnly bool          `json:"textOnly,omitempty"`
}

// AskResponse is the reply to POST /api/v1/ask.
type AskResponse struct {
	Text       string `json:"text"`
	Model      string `json:"model"`
	Provider   string `json:"provider"`
	CaptureURL string `json:"captureUrl,omitempty"`
	Attempts   int    `json:"attempts"`
	ElapsedMs  int64  `json:"elapsedMs"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Prompt) > MaxPromptLength {
		writeError(w, http.StatusRequestEntityTooLarge, "prompt too long")
		return
	}
	for i, t := range req.History {
		if t.Role != "user" && t.Role != "assistant" {
			writeError(w, http.StatusBadRequest, "invalid role at history["+strconv.Itoa(i)+"]")
			return
		}
	}

	ans, err := s.assistant.AskWith(r.Context(), assist.Question{
		Prompt:   req.Prompt,
		History:  req.History,
		TextOnly: req.TextOnly,
	})
	if errors.Is(err, assist.ErrEmptyPrompt) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("prompt", util.TruncateRunes(req.Prompt, 60)).Msg("ask failed")
		writeError(w, askErrorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AskResponse{
		Text:       ans.Text,
		Model:      ans.Model,
		Provider:   ans.Provider,
		CaptureURL: ans.CaptureURL,
		Attempts:   ans.Attempts,
		ElapsedMs:  ans.Elapsed.Milliseconds(),
	})
}

func askErrorCode(err error) int {
	switch {
	case ollama.IsNotRunning(err):
		return http.StatusServiceUnavailable
	case ollama.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// ============================================================================
// WEBSOCKET
// ============================================================================

// handleWS streams pipeline events as JSON text frames. The first frame is
// the current status.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("websocket upgrade")
		return
	}
	c := newClient(conn, GetClientIP(r), s.log)
	if s.pipe != nil {
		st := s.pipe.Snapshot()
		hello, _ := json.Marshal(pipeline.Event{
			Kind:      pipeline.EventStatus,
			Time:      time.Now().UTC(),
			Status:    st.Status,
			Countdown: st.Countdown,
			URL:       st.LastCaptureURL,
		})
		c.send <- hello
	}
	if !s.hub.Register(c) {
		_ = conn.Close()
		return
	}
	go c.writeLoop()
	c.readLoop()
	s.hub.Unregister(c)
}

// intParam parses a positive integer query parameter, clamped to max.
func intParam(r *http.Request, name string, def, ceiling int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.New(name + " must be a positive integer")
	}
	if n > ceiling {
		n = ceiling
	}
	return n, nil
}
