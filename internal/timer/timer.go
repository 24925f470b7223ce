// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package timer drives the one-second capture countdown.
package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

// Threshold is the countdown value at which the next tick fires.
const Threshold = 1

// Step advances a countdown by one tick. When current is at or below
// Threshold the tick fires and the countdown resets to interval.
func Step(current, interval int) (next int, fire bool) {
	if current <= Threshold {
		return interval, true
	}
	return current - 1, false
}

// Timer ticks once per second and calls onTick every interval seconds.
type Timer struct {
	clock clock.WithTicker
	log   zerolog.Logger

	mu        sync.Mutex
	countdown int
	interval  int
	gen       uint64
	stop      chan struct{}
	onChange  func(int)
}

// New creates a stopped timer. A nil clock uses the real clock.
func New(clk clock.WithTicker, log zerolog.Logger) *Timer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Timer{
		clock: clk,
		log:   log.With().Str("component", "timer").Logger(),
	}
}

// OnChange registers fn to receive every countdown value, including the
// reset value after a fire. fn runs on the timer goroutine and must not block.
func (t *Timer) OnChange(fn func(int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Start resets the countdown to interval seconds and begins ticking,
// replacing any running countdown.
func (t *Timer) Start(interval int, onTick func() error) error {
	if interval < 1 {
		return fmt.Errorf("timer interval must be at least 1s, got %d", interval)
	}

	t.mu.Lock()
	t.stopLocked()
	t.gen++
	gen := t.gen
	stop := make(chan struct{})
	t.stop = stop
	t.interval = interval
	t.countdown = interval
	notify := t.onChange
	ticker := t.clock.NewTicker(time.Second)
	t.mu.Unlock()

	if notify != nil {
		notify(interval)
	}

	go t.run(gen, stop, ticker, onTick)
	return nil
}

func (t *Timer) run(gen uint64, stop chan struct{}, ticker clock.Ticker, onTick func() error) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}

		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		next, fire := Step(t.countdown, t.interval)
		t.countdown = next
		notify := t.onChange
		t.mu.Unlock()

		if fire {
			t.invoke(onTick)
		}
		if notify != nil {
			notify(next)
		}
	}
}

func (t *Timer) invoke(onTick func() error) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Msg("capture tick panicked")
		}
	}()
	if err := onTick(); err != nil {
		t.log.Warn().Err(err).Msg("capture tick failed")
	}
}

// Stop halts the countdown. Safe to call when not running.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
		t.gen++
	}
}

// Running reports whether the countdown is ticking.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// Countdown returns seconds until the next fire.
func (t *Timer) Countdown() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countdown
}

// Interval returns the interval of the current or last countdown.
func (t *Timer) Interval() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}
