// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assist sends a prompt, together with the most recent screen
// capture, to a chat model and returns its answer.
package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/config"
	"github.com/jeranaias/screencap/internal/frame"
	"github.com/jeranaias/screencap/internal/objstore"
)

// Retry bounds for transient provider failures.
const (
	DefaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 10 * time.Second
	DefaultImageSide  = 1280
)

// ErrEmptyPrompt is returned for blank prompts.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Turn is one earlier exchange in a conversation.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is what a Provider sends to its model.
type Request struct {
	System    string
	History   []Turn
	Prompt    string
	Image     []byte
	ImageType string
}

// Provider talks to one model backend.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (string, error)
	// Stream calls onDelta with each piece of text and returns the whole answer.
	Stream(ctx context.Context, req Request, onDelta func(string)) (string, error)
	// Transient reports whether err may go away on retry.
	Transient(err error) bool
	Ping(ctx context.Context) error
}

// Question is a prompt plus per-call options.
type Question struct {
	Prompt  string
	History []Turn
	// TextOnly skips attaching the latest capture.
	TextOnly bool
	// OnDelta, when set, streams the answer as it arrives.
	OnDelta func(string)
}

// Answer is a model reply.
type Answer struct {
	Text        string        `json:"text"`
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	CaptureName string        `json:"capture_name,omitempty"`
	CaptureURL  string        `json:"capture_url,omitempty"`
	Attempts    int           `json:"attempts"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// Options configures an Assistant.
type Options struct {
	SystemPrompt string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	// MaxImageSide bounds the attached capture; larger captures are scaled down.
	MaxImageSide int
	Clock        clock.Clock
}

// OptionsFrom maps the assist config section to Options.
func OptionsFrom(c config.AssistConfig) Options {
	return Options{
		SystemPrompt: c.SystemPrompt,
		Timeout:      time.Duration(c.TimeoutSecs) * time.Second,
		MaxRetries:   c.MaxRetries,
	}
}

// Assistant answers prompts about the latest capture.
type Assistant struct {
	provider Provider
	clog     capturelog.Log
	store    objstore.Store
	opts     Options
	log      zerolog.Logger
}

// New creates an assistant. clog and store may be nil, in which case prompts
// are always sent text-only.
func New(provider Provider, clog capturelog.Log, store objstore.Store, opts Options, log zerolog.Logger) *Assistant {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxImageSide <= 0 {
		opts.MaxImageSide = DefaultImageSide
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Assistant{
		provider: provider,
		clog:     clog,
		store:    store,
		opts:     opts,
		log:      log.With().Str("component", "assist").Str("provider", provider.Name()).Logger(),
	}
}

// Provider returns the backing provider.
func (a *Assistant) Provider() Provider {
	return a.provider
}

// Ask sends prompt with the latest capture attached.
func (a *Assistant) Ask(ctx context.Context, prompt string) (*Answer, error) {
	return a.AskWith(ctx, Question{Prompt: prompt})
}

// AskWith sends q. Transient provider failures are retried with exponential
// backoff until MaxRetries is spent; a streamed answer is not retried once
// text has arrived.
func (a *Assistant) AskWith(ctx context.Context, q Question) (*Answer, error) {
	prompt := strings.TrimSpace(q.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	start := a.opts.Clock.Now()
	req := Request{System: a.opts.SystemPrompt, History: q.History, Prompt: prompt}
	ans := &Answer{Provider: a.provider.Name(), Model: a.provider.Model()}

	if !q.TextOnly {
		rec, img, mime, err := a.latestCapture(ctx)
		switch {
		case err != nil:
			a.log.Warn().Err(err).Msg("latest capture unavailable, sending text only")
		case rec != nil:
			req.Image, req.ImageType = img, mime
			ans.CaptureName, ans.CaptureURL = rec.Name, rec.URL
		}
	}

	var streamed bool
	onDelta := q.OnDelta
	if onDelta != nil {
		inner := onDelta
		onDelta = func(s string) {
			streamed = true
			inner(s)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= a.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.backoff(attempt - 1)
			a.log.Debug().Int("attempt", attempt+1).Dur("delay", delay).Err(lastErr).Msg("retrying model request")
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-a.opts.Clock.After(delay):
			}
		}
		ans.Attempts = attempt + 1

		var text string
		var err error
		if onDelta != nil {
			text, err = a.provider.Stream(ctx, req, onDelta)
		} else {
			text, err = a.provider.Complete(ctx, req)
		}
		if err == nil {
			ans.Text = text
			ans.Elapsed = a.opts.Clock.Since(start)
			a.log.Info().
				Int("attempts", ans.Attempts).
				Bool("image", req.Image != nil).
				Dur("elapsed", ans.Elapsed).
				Msg("model answered")
			return ans, nil
		}

		lastErr = fmt.Errorf("%s: %w", a.provider.Name(), err)
		if streamed || !a.provider.Transient(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// backoff returns 500ms, 1s, 2s... capped at maxRetryDelay.
func (a *Assistant) backoff(n int) time.Duration {
	delay := a.opts.RetryDelay * time.Duration(1<<uint(n))
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	return delay
}

// latestCapture returns the newest capture, scaled for the model. A missing
// log or an empty one yields a nil record and no error.
func (a *Assistant) latestCapture(ctx context.Context) (*capturelog.Record, []byte, string, error) {
	if a.clog == nil || a.store == nil {
		return nil, nil, "", nil
	}
	rec, err := a.clog.Latest(ctx)
	if errors.Is(err, capturelog.ErrEmpty) {
		return nil, nil, "", nil
	}
	if err != nil {
		return nil, nil, "", err
	}
	data, _, err := a.store.Get(ctx, rec.Name)
	if err != nil {
		return nil, nil, "", fmt.Errorf("fetch %s: %w", rec.Name, err)
	}
	small, mime, err := frame.Shrink(data, a.opts.MaxImageSide, 85)
	if err != nil {
		return nil, nil, "", err
	}
	return &rec, small, mime, nil
}
