// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jeranaias/screencap/internal/assist"
	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/config"
	"github.com/jeranaias/screencap/internal/diagnostics"
	"github.com/jeranaias/screencap/internal/logging"
	"github.com/jeranaias/screencap/internal/objstore"
	"github.com/jeranaias/screencap/internal/pipeline"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds JSON request bodies.
	MaxRequestBodySize = 64 * 1024

	// MaxPromptLength bounds /api/v1/ask prompts, in bytes.
	MaxPromptLength = 16 * 1024

	// DefaultListLimit is used by list endpoints without ?limit.
	DefaultListLimit = 20

	// MaxListLimit caps ?limit on list endpoints.
	MaxListLimit = 500

	// tokenQueryParam carries the bearer token on WebSocket upgrades.
	tokenQueryParam = "token"
)

// ============================================================================
// SERVER
// ============================================================================

// Deps are the components the API exposes. Only Pipeline is required;
// endpoints for missing components answer 503.
type Deps struct {
	Config    config.ServerConfig
	Pipeline  *pipeline.Pipeline
	Diag      *diagnostics.Collector
	Captures  capturelog.Log
	Store     objstore.Store
	Assistant *assist.Assistant
	Ring      *logging.Ring
	Logger    zerolog.Logger
	Version   string
}

// Server is the HTTP and WebSocket API of a capture session.
type Server struct {
	cfg       config.ServerConfig
	pipe      *pipeline.Pipeline
	diag      *diagnostics.Collector
	captures  capturelog.Log
	local     *objstore.Local
	assistant *assist.Assistant
	ring      *logging.Ring
	log       zerolog.Logger
	version   string
	started   time.Time

	router   *mux.Router
	handler  http.Handler
	hub      *hub
	upgrader websocket.Upgrader

	stopEvents func()
	pumpDone   chan struct{}
	closeOnce  sync.Once

	mu         sync.Mutex
	httpServer *http.Server
}

// New builds the server and starts forwarding pipeline events to
// WebSocket clients. Call Close when done.
func New(d Deps) *Server {
	log := d.Logger.With().Str("component", "server").Logger()
	s := &Server{
		cfg:       d.Config,
		pipe:      d.Pipeline,
		diag:      d.Diag,
		captures:  d.Captures,
		assistant: d.Assistant,
		ring:      d.Ring,
		log:       log,
		version:   d.Version,
		started:   time.Now(),
		router:    mux.NewRouter(),
		hub:       newHub(log),
		pumpDone:  make(chan struct{}),
	}
	if local, ok := d.Store.(*objstore.Local); ok {
		s.local = local
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()
	s.handler = s.buildHandler()

	if s.pipe != nil {
		events, cancel := s.pipe.Subscribe(256)
		s.stopEvents = cancel
		go s.pump(events)
	} else {
		close(s.pumpDone)
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc(objstore.ArtifactPath+"{name}", s.handleArtifact).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)
	api.HandleFunc("/capture/toggle", s.handleToggle).Methods(http.MethodPost)
	api.HandleFunc("/capture/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/capture/now", s.handleCaptureNow).Methods(http.MethodPost)
	api.HandleFunc("/captures", s.handleCaptures).Methods(http.MethodGet)
	api.HandleFunc("/ask", s.handleAsk).Methods(http.MethodPost)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
}

// buildHandler wraps the router. Order: recovery, logging, CORS, security
// headers, rate limit, auth.
func (s *Server) buildHandler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.log),
		LoggingMiddleware(s.log),
		CORSMiddleware(s.cfg.AllowedOrigins),
		SecurityHeadersMiddleware(),
	}
	if s.cfg.RateLimit > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst)))
	}
	middlewares = append(middlewares, AuthMiddleware(&AuthConfig{
		BearerToken: s.cfg.AuthToken,
		// Artifact URLs carry their own signature.
		Public:     []string{"/health", objstore.ArtifactPath},
		QueryParam: tokenQueryParam,
	}))
	return Chain(middlewares...)(s.router)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// checkOrigin accepts same-host upgrades, non-browser clients and the
// configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func (s *Server) pump(events <-chan pipeline.Event) {
	defer close(s.pumpDone)
	for e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			s.log.Error().Err(err).Msg("encode event")
			continue
		}
		s.hub.Broadcast(data)
	}
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streaming asks and WebSockets manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	served := make(chan struct{})
	shutdownErr := make(chan error, 1)
	go func() {
		select {
		case <-ctx.Done():
		case <-served:
			shutdownErr <- nil
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr <- s.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Str("version", s.version).Msg("api server listening")
	err := srv.Serve(ln)
	close(served)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-shutdownErr
}

// Shutdown stops accepting requests, disconnects WebSocket clients and
// waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.log.Info().Msg("api server shutting down")
	return srv.Shutdown(ctx)
}

// Close stops event forwarding and disconnects WebSocket clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.stopEvents != nil {
			s.stopEvents()
		}
		<-s.pumpDone
		s.hub.Close()
	})
}

// ============================================================================
// HELPERS
// ============================================================================

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Status  string `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Message: message, Code: status}})
}
