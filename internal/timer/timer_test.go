// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package timer

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func TestStep_Sequence(t *testing.T) {
	const interval = 5
	cur := interval
	seen := []int{cur}
	fires := 0
	for i := 0; i < 6; i++ {
		next, fire := Step(cur, interval)
		if fire {
			fires++
			if i != 4 {
				t.Errorf("fired on tick %d, want tick 4", i)
			}
		}
		cur = next
		seen = append(seen, cur)
	}
	assert.Equal(t, []int{5, 4, 3, 2, 1, 5, 4}, seen)
	assert.Equal(t, 1, fires)
}

func TestStep_IntervalOne(t *testing.T) {
	next, fire := Step(1, 1)
	if !fire || next != 1 {
		t.Errorf("Step(1, 1) = (%d, %v), want (1, true)", next, fire)
	}
}

func TestStep_StaysInRange(t *testing.T) {
	for interval := 1; interval <= 10; interval++ {
		cur := interval
		for i := 0; i < 3*interval; i++ {
			cur, _ = Step(cur, interval)
			if cur < 0 || cur > interval {
				t.Fatalf("countdown %d out of [0,%d]", cur, interval)
			}
		}
	}
}

// harness steps a fake clock one second at a time and waits for the timer
// goroutine to report each new countdown value.
type harness struct {
	t       *testing.T
	clock   *testingclock.FakeClock
	timer   *Timer
	changes chan int
}

func newHarness(t *testing.T) *harness {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	h := &harness{
		t:       t,
		clock:   clk,
		timer:   New(clk, zerolog.Nop()),
		changes: make(chan int, 64),
	}
	h.timer.OnChange(func(v int) { h.changes <- v })
	return h
}

func (h *harness) next() int {
	h.t.Helper()
	select {
	case v := <-h.changes:
		return v
	case <-time.After(2 * time.Second):
		h.t.Fatal("no countdown change")
		return -1
	}
}

func (h *harness) tick() int {
	h.t.Helper()
	h.clock.Step(time.Second)
	return h.next()
}

func TestTimer_FiresOncePerInterval(t *testing.T) {
	h := newHarness(t)
	var fired atomic.Int32

	require.NoError(t, h.timer.Start(5, func() error {
		fired.Add(1)
		return nil
	}))

	got := []int{h.next()}
	for i := 0; i < 6; i++ {
		got = append(got, h.tick())
	}

	assert.Equal(t, []int{5, 4, 3, 2, 1, 5, 4}, got)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 4, h.timer.Countdown())
	h.timer.Stop()
}

func TestTimer_StopHaltsTicks(t *testing.T) {
	h := newHarness(t)
	var fired atomic.Int32
	require.NoError(t, h.timer.Start(1, func() error {
		fired.Add(1)
		return nil
	}))
	h.next()
	h.tick()
	require.Equal(t, int32(1), fired.Load())

	h.timer.Stop()
	h.timer.Stop()
	assert.False(t, h.timer.Running())

	h.clock.Step(5 * time.Second)
	select {
	case v := <-h.changes:
		t.Fatalf("countdown changed to %d after Stop", v)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(1), fired.Load())
}

func TestTimer_RestartResetsCountdown(t *testing.T) {
	h := newHarness(t)
	noop := func() error { return nil }

	require.NoError(t, h.timer.Start(5, noop))
	h.next()
	h.tick()
	h.tick()
	require.Equal(t, 3, h.timer.Countdown())

	require.NoError(t, h.timer.Start(5, noop))
	assert.Equal(t, 5, h.next())
	assert.Equal(t, 5, h.timer.Countdown())
	assert.Equal(t, 4, h.tick())
	h.timer.Stop()
}

func TestTimer_TickErrorsAndPanicsAreContained(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	require.NoError(t, h.timer.Start(1, func() error {
		n := calls.Add(1)
		if n == 1 {
			panic("boom")
		}
		return errors.New("upload exploded")
	}))
	h.next()
	h.tick()
	h.tick()
	h.tick()
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, h.timer.Running())
	h.timer.Stop()
}

func TestTimer_InvalidInterval(t *testing.T) {
	tm := New(nil, zerolog.Nop())
	assert.Error(t, tm.Start(0, func() error { return nil }))
	assert.False(t, tm.Running())
}
