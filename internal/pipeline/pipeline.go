// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline runs the capture session: it acquires the screen through
// the media broker, counts down between captures, and extracts and uploads a
// frame on every countdown.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/config"
	"github.com/jeranaias/screencap/internal/frame"
	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/timer"
	"github.com/jeranaias/screencap/internal/upload"
)

// Messages recorded in LastError.
const (
	MsgSharingEnded = "screen sharing ended"
)

var (
	// ErrNotActive is returned by CaptureNow outside an active session.
	ErrNotActive = errors.New("capture session is not active")
	// ErrBusy is returned by CaptureNow when an attempt is in flight and
	// overlapping attempts are not allowed.
	ErrBusy = errors.New("a capture is already in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pipeline closed")
	// ErrStopped is returned by Toggle when Stop interrupted a permission request.
	ErrStopped = errors.New("capture stopped while requesting permission")
)

// Extractor turns the current frame of a handle into an artifact.
type Extractor interface {
	Extract(ctx context.Context, h *media.Handle) (*frame.Artifact, error)
}

// Uploader persists an artifact and returns its log record.
type Uploader interface {
	Upload(ctx context.Context, art *frame.Artifact) (capturelog.Record, error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Broker    *media.Broker
	Extractor Extractor
	Uploader  Uploader
	Config    *config.Store
	// Clock drives the countdown and retry backoff. Nil uses the real clock.
	Clock clock.WithTicker
	// OnSession, when set, receives the config snapshot each new session
	// starts with, so collaborators can pick up reloaded settings.
	OnSession func(cfg *config.Config)
	Log       zerolog.Logger
}

// Pipeline is the capture session state machine. All methods are safe for
// concurrent use.
type Pipeline struct {
	broker    *media.Broker
	extractor Extractor
	uploader  Uploader
	cfgs      *config.Store
	onSession func(cfg *config.Config)
	clock     clock.WithTicker
	timer     *timer.Timer
	log       zerolog.Logger

	sessionID string
	startedAt time.Time

	counts   counters
	inFlight atomic.Int32
	closed   atomic.Bool
	attempts sync.WaitGroup

	mu        sync.Mutex
	status    Status
	epoch     uint64
	cancelReq context.CancelFunc
	handle    *media.Handle
	session   *config.Config
	lastError string
	lastURL   string
	lastAt    time.Time
	lastSize  [2]int

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New creates an idle pipeline.
func New(d Deps) *Pipeline {
	clk := d.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	cfgs := d.Config
	if cfgs == nil {
		cfgs = config.NewStore(config.Default())
	}
	p := &Pipeline{
		broker:    d.Broker,
		extractor: d.Extractor,
		uploader:  d.Uploader,
		cfgs:      cfgs,
		onSession: d.OnSession,
		clock:     clk,
		timer:     timer.New(clk, d.Log),
		log:       d.Log.With().Str("component", "pipeline").Logger(),
		sessionID: uuid.NewString(),
		startedAt: clk.Now(),
		status:    StatusIdle,
		subs:      make(map[int]chan Event),
	}
	p.session = cfgs.Current()
	p.timer.OnChange(func(v int) {
		p.emit(Event{Kind: EventCountdown, Countdown: v})
	})
	return p
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Toggle advances the session: idle or error requests permission and blocks
// until it resolves, active pauses, paused resumes. It returns the resulting
// status. A toggle while permission is pending returns ErrAlreadyInProgress.
func (p *Pipeline) Toggle(ctx context.Context) (Status, error) {
	if p.closed.Load() {
		return StatusIdle, ErrClosed
	}

	p.mu.Lock()
	switch p.status {
	case StatusIdle, StatusError:
		return p.requestLocked(ctx)
	case StatusRequesting:
		p.mu.Unlock()
		return StatusRequesting, media.ErrAlreadyInProgress
	case StatusActive:
		p.timer.Stop()
		p.setStatusLocked(StatusPaused)
		p.mu.Unlock()
		p.log.Info().Msg("capture paused")
		return StatusPaused, nil
	case StatusPaused:
		if !p.handle.Active() {
			p.failSessionLocked(MsgSharingEnded)
			p.mu.Unlock()
			return StatusError, errors.New(MsgSharingEnded)
		}
		if err := p.startTimerLocked(); err != nil {
			p.mu.Unlock()
			return StatusPaused, err
		}
		p.setStatusLocked(StatusActive)
		p.mu.Unlock()
		p.log.Info().Msg("capture resumed")
		return StatusActive, nil
	}
	st := p.status
	p.mu.Unlock()
	return st, fmt.Errorf("unknown status %q", st)
}

// requestLocked is entered with p.mu held and returns with it released.
func (p *Pipeline) requestLocked(ctx context.Context) (Status, error) {
	p.session = p.cfgs.Current()
	cfg := p.session
	if p.onSession != nil {
		p.onSession(cfg)
	}
	epoch := p.epoch
	prev := p.status
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancelReq = cancel
	p.setStatusLocked(StatusRequesting)
	p.mu.Unlock()

	h, err := p.broker.Request(reqCtx, media.ConstraintsFor(cfg.Capture))

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.epoch != epoch || p.closed.Load() {
		p.broker.Release(h)
		return p.status, ErrStopped
	}
	p.cancelReq = nil
	if errors.Is(err, media.ErrAlreadyInProgress) {
		// A request from an earlier session is still unwinding.
		p.setStatusLocked(prev)
		return prev, err
	}
	if err != nil {
		p.broker.Release(h)
		p.failSessionLocked(err.Error())
		p.log.Warn().Err(err).Msg("screen capture permission failed")
		return StatusError, err
	}

	p.handle = h
	p.lastError = ""
	if err := p.startTimerLocked(); err != nil {
		p.broker.Release(h)
		p.handle = nil
		p.failSessionLocked(err.Error())
		return StatusError, err
	}
	p.setStatusLocked(StatusActive)
	p.log.Info().Int("interval", cfg.Capture.IntervalSecs).Msg("capture active")
	return StatusActive, nil
}

func (p *Pipeline) startTimerLocked() error {
	return p.timer.Start(p.session.Capture.IntervalSecs, p.onTick)
}

// failSessionLocked moves to error, dropping any handle.
func (p *Pipeline) failSessionLocked(msg string) {
	p.timer.Stop()
	if p.handle != nil {
		p.broker.Release(p.handle)
		p.handle = nil
	}
	p.lastError = msg
	p.setStatusLocked(StatusError)
	p.emit(Event{Kind: EventNotification, Message: msg})
}

// Stop ends the session from any state and releases the screen. A pending
// permission request is cancelled. Attempts already in flight still record
// their result.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Pipeline) stopLocked() {
	p.epoch++
	if p.cancelReq != nil {
		p.cancelReq()
		p.cancelReq = nil
	}
	p.timer.Stop()
	if p.handle != nil {
		p.broker.Release(p.handle)
		p.handle = nil
	}
	if p.status != StatusIdle {
		p.setStatusLocked(StatusIdle)
		p.log.Info().Msg("capture stopped")
	}
}

// Close stops the session and discards the results of attempts that finish
// afterwards. Subscriber channels are closed.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()

	p.subMu.Lock()
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
	p.subMu.Unlock()
	return nil
}

// Wait blocks until in-flight capture attempts have returned.
func (p *Pipeline) Wait() {
	p.attempts.Wait()
}

func (p *Pipeline) setStatusLocked(s Status) {
	if p.status == s {
		return
	}
	p.status = s
	p.emit(Event{Kind: EventStatus, Status: s})
}

// =============================================================================
// CAPTURE ATTEMPTS
// =============================================================================

// onTick runs on the timer goroutine; the attempt itself runs on its own.
func (p *Pipeline) onTick() error {
	if !p.reserve() {
		p.counts.skipped.Add(1)
		p.log.Debug().Msg("capture still in flight, tick skipped")
		return nil
	}
	p.attempts.Add(1)
	go func() {
		defer p.attempts.Done()
		defer p.inFlight.Add(-1)
		_, _ = p.attempt(context.Background())
	}()
	return nil
}

// reserve claims an in-flight slot according to the overlap policy.
func (p *Pipeline) reserve() bool {
	p.mu.Lock()
	allow := p.session.Capture.Overlap == "allow"
	p.mu.Unlock()
	if allow {
		p.inFlight.Add(1)
		return true
	}
	return p.inFlight.CompareAndSwap(0, 1)
}

// CaptureNow runs one capture attempt immediately and returns its record.
func (p *Pipeline) CaptureNow(ctx context.Context) (capturelog.Record, error) {
	if p.closed.Load() {
		return capturelog.Record{}, ErrClosed
	}
	if !p.reserve() {
		return capturelog.Record{}, ErrBusy
	}
	p.attempts.Add(1)
	defer p.attempts.Done()
	defer p.inFlight.Add(-1)
	return p.attempt(ctx)
}

func (p *Pipeline) attempt(ctx context.Context) (capturelog.Record, error) {
	p.mu.Lock()
	status, h, cfg := p.status, p.handle, p.session
	p.mu.Unlock()

	if status != StatusActive || h == nil {
		p.log.Debug().Str("status", string(status)).Msg("capture skipped, session not active")
		return capturelog.Record{}, ErrNotActive
	}
	if !h.Active() {
		if h.Ended() {
			p.recordEnded()
		}
		p.log.Warn().Msg("capture skipped, stream no longer active")
		return capturelog.Record{}, media.ErrStreamEnded
	}

	p.counts.capture.Add(1)

	art, err := p.extractor.Extract(ctx, h)
	if err != nil {
		p.recordFailure("extract", err)
		return capturelog.Record{}, err
	}

	rec, err := p.uploadWithRetry(ctx, art, cfg.Upload)
	if err != nil {
		p.recordFailure("upload", err)
		return capturelog.Record{}, err
	}

	p.recordSuccess(rec, art)
	return rec, nil
}

// uploadWithRetry makes one attempt plus up to c.Retries more after
// c.RetryBackoff for retryable failures.
func (p *Pipeline) uploadWithRetry(ctx context.Context, art *frame.Artifact, c config.UploadConfig) (capturelog.Record, error) {
	var lastErr error
	for try := 0; try <= c.Retries; try++ {
		if try > 0 {
			if p.closed.Load() {
				return capturelog.Record{}, lastErr
			}
			p.log.Debug().Int("try", try+1).Err(lastErr).Msg("retrying upload")
			if backoff := c.RetryBackoff(); backoff > 0 {
				select {
				case <-p.clock.After(backoff):
				case <-ctx.Done():
					return capturelog.Record{}, lastErr
				}
			}
		}
		rec, err := p.uploader.Upload(ctx, art)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if !upload.IsRetryable(err) {
			break
		}
	}
	return capturelog.Record{}, lastErr
}

func (p *Pipeline) recordSuccess(rec capturelog.Record, art *frame.Artifact) {
	if p.closed.Load() {
		return
	}
	p.counts.success.Add(1)
	p.mu.Lock()
	p.lastURL = rec.URL
	p.lastAt = rec.CreatedAt
	p.lastSize = [2]int{art.Width, art.Height}
	p.mu.Unlock()

	p.log.Info().Str("url", rec.URL).Int("width", art.Width).Int("height", art.Height).Msg("capture stored")
	p.emit(Event{Kind: EventCapture, URL: rec.URL})
}

func (p *Pipeline) recordFailure(stage string, err error) {
	if p.closed.Load() {
		return
	}
	p.counts.failure.Add(1)
	msg := fmt.Sprintf("Capture failed: %v", err)
	p.mu.Lock()
	p.lastError = msg
	p.mu.Unlock()

	p.log.Error().Err(err).Str("stage", stage).Msg("capture attempt failed")
	p.emit(Event{Kind: EventNotification, Message: msg})
}

func (p *Pipeline) recordEnded() {
	if p.closed.Load() {
		return
	}
	p.mu.Lock()
	already := p.lastError == MsgSharingEnded
	p.lastError = MsgSharingEnded
	p.mu.Unlock()
	if !already {
		p.emit(Event{Kind: EventNotification, Message: MsgSharingEnded})
	}
}

// =============================================================================
// READS
// =============================================================================

// Status returns the current status.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Countdown returns seconds until the next capture, or 0 without a session.
func (p *Pipeline) Countdown() int {
	p.mu.Lock()
	has := p.status.HasHandle()
	p.mu.Unlock()
	if !has {
		return 0
	}
	return p.timer.Countdown()
}

// LastCaptureURL returns the retrieval URL of the newest stored capture.
func (p *Pipeline) LastCaptureURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastURL
}

// LastError returns the last failure message.
func (p *Pipeline) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

// Snapshot returns a copy of the session state.
func (p *Pipeline) Snapshot() State {
	p.mu.Lock()
	st := State{
		SessionID:      p.sessionID,
		StartedAt:      p.startedAt,
		Status:         p.status,
		Interval:       p.session.Capture.IntervalSecs,
		LastError:      p.lastError,
		LastCaptureURL: p.lastURL,
		LastCaptureAt:  p.lastAt,
		LastWidth:      p.lastSize[0],
		LastHeight:     p.lastSize[1],
	}
	has := p.status.HasHandle()
	p.mu.Unlock()

	if has {
		st.Countdown = p.timer.Countdown()
	}
	st.Ticking = p.timer.Running()
	st.CaptureCount = p.counts.capture.Load()
	st.SuccessCount = p.counts.success.Load()
	st.FailureCount = p.counts.failure.Load()
	st.SkippedCount = p.counts.skipped.Load()
	st.InFlight = int(p.inFlight.Load())
	return st
}

// Handle returns the live handle's details, or nil.
func (p *Pipeline) Handle() *media.HandleInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle.Info()
}

// PlatformName returns the capture platform in use.
func (p *Pipeline) PlatformName() string {
	return p.broker.PlatformName()
}

// SessionConfig returns the configuration the current session runs with.
func (p *Pipeline) SessionConfig() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.Clone()
}

// =============================================================================
// EVENTS
// =============================================================================

// Subscribe returns a channel of pipeline events and a cancel func. Events
// are dropped for subscribers that fall behind.
func (p *Pipeline) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	p.subMu.Lock()
	if p.closed.Load() {
		p.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			defer p.subMu.Unlock()
			if _, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(ch)
			}
		})
	}
}

func (p *Pipeline) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = p.clock.Now()
	}
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
