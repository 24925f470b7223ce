// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/logging"
	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/pipeline"
	"github.com/jeranaias/screencap/internal/ui/components"
)

type fakeController struct {
	mu         sync.Mutex
	state      pipeline.State
	toggleErr  error
	captureErr error
	toggles    int
	stops      int
	events     chan pipeline.Event
	cancelled  bool
}

func newFakeController() *fakeController {
	return &fakeController{
		state:  pipeline.State{Status: pipeline.StatusIdle, Interval: 5, SessionID: "s1"},
		events: make(chan pipeline.Event, 16),
	}
}

func (f *fakeController) Toggle(context.Context) (pipeline.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	if f.toggleErr != nil {
		return f.state.Status, f.toggleErr
	}
	f.state.Status = pipeline.StatusActive
	f.state.Countdown = 5
	return f.state.Status, nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state.Status = pipeline.StatusIdle
	f.state.Countdown = 0
}

func (f *fakeController) CaptureNow(context.Context) (capturelog.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return capturelog.Record{}, f.captureErr
	}
	f.state.CaptureCount++
	f.state.SuccessCount++
	f.state.LastCaptureURL = "https://store/capture-1.png"
	return capturelog.Record{Name: "capture-1.png", URL: f.state.LastCaptureURL}, nil
}

func (f *fakeController) Snapshot() pipeline.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Subscribe(int) (<-chan pipeline.Event, func()) {
	return f.events, func() {
		f.mu.Lock()
		f.cancelled = true
		f.mu.Unlock()
	}
}

func (f *fakeController) set(fn func(*pipeline.State)) {
	f.mu.Lock()
	fn(&f.state)
	f.mu.Unlock()
}

func newModel(t *testing.T, ctrl *fakeController) (Model, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	m := New(ctrl, Options{Clock: clk, Version: "v1.0.0", APIAddr: "127.0.0.1:8787"})
	t.Cleanup(m.Close)
	return m, clk
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func space() tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
}

func TestNew_InitialView(t *testing.T) {
	m, _ := newModel(t, newFakeController())
	view := m.View()
	assert.Contains(t, view, "screencap")
	assert.Contains(t, view, "v1.0.0")
	assert.Contains(t, view, "127.0.0.1:8787")
	assert.Contains(t, view, "IDLE")
	assert.Contains(t, view, "press space to start")
	assert.Contains(t, view, "none yet")
	assert.NotNil(t, m.Init())
}

func TestSpace_TogglesOnce(t *testing.T) {
	ctrl := newFakeController()
	m, _ := newModel(t, ctrl)

	m, cmd := update(t, m, space())
	require.NotNil(t, cmd)

	// A second press while the first toggle is pending is ignored.
	m, cmd2 := update(t, m, space())
	assert.Nil(t, cmd2)

	m, _ = update(t, m, cmd())
	assert.Equal(t, 1, ctrl.toggles)
	assert.Equal(t, pipeline.StatusActive, m.State().Status)
	assert.Contains(t, m.View(), "ACTIVE")
	assert.Contains(t, m.View(), "next capture in 5s")

	_, cmd = update(t, m, space())
	assert.NotNil(t, cmd, "toggle is accepted again once the first finished")
}

func TestToggleErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status pipeline.Status
		kind   components.ToastKind
		toasts int
	}{
		{"pending", media.ErrAlreadyInProgress, pipeline.StatusRequesting, components.ToastKindWarning, 1},
		{"stopped", pipeline.ErrStopped, pipeline.StatusIdle, components.ToastKindStatus, 1},
		{"announced by pipeline", errors.New("denied"), pipeline.StatusError, 0, 0},
		{"resume failed", errors.New("timer"), pipeline.StatusPaused, components.ToastKindError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newModel(t, newFakeController())
			m, _ = update(t, m, toggleDoneMsg{status: tt.status, err: tt.err})
			toasts := m.Toasts()
			require.Len(t, toasts, tt.toasts)
			if tt.toasts > 0 {
				assert.Equal(t, tt.kind, toasts[0].Kind)
			}
		})
	}
}

func TestCaptureKey(t *testing.T) {
	ctrl := newFakeController()
	m, _ := newModel(t, ctrl)

	m, cmd := update(t, m, keyRune('c'))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())

	assert.Equal(t, uint64(1), m.State().SuccessCount)
	require.Len(t, m.Toasts(), 1)
	assert.Equal(t, components.ToastKindSuccess, m.Toasts()[0].Kind)
	assert.Contains(t, m.View(), "https://store/capture-1.png")

	ctrl.captureErr = pipeline.ErrNotActive
	m, cmd = update(t, m, keyRune('c'))
	m, _ = update(t, m, cmd())
	assert.Equal(t, components.ToastKindWarning, m.Toasts()[0].Kind)
}

func TestStopKey(t *testing.T) {
	ctrl := newFakeController()
	ctrl.state.Status = pipeline.StatusActive
	m, _ := newModel(t, ctrl)

	m, _ = update(t, m, eventMsg{Kind: pipeline.EventNotification, Message: "Capture failed: boom"})
	require.Len(t, m.Toasts(), 1)

	m, cmd := update(t, m, keyRune('s'))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, 1, ctrl.stops)
	assert.Equal(t, pipeline.StatusIdle, m.State().Status)
	assert.Empty(t, m.Toasts())
}

func TestQuitKey(t *testing.T) {
	m, _ := newModel(t, newFakeController())
	m, cmd := update(t, m, keyRune('q'))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, m.View())
}

func TestEvents(t *testing.T) {
	ctrl := newFakeController()
	m, _ := newModel(t, ctrl)

	ctrl.set(func(s *pipeline.State) { s.Status = pipeline.StatusRequesting })
	m, cmd := update(t, m, eventMsg{Kind: pipeline.EventStatus, Status: pipeline.StatusRequesting})
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "REQUESTING-PERMISSION")
	assert.Contains(t, m.View(), "Waiting for screen share permission")

	ctrl.set(func(s *pipeline.State) { s.Status = pipeline.StatusActive; s.Countdown = 5 })
	m, _ = update(t, m, eventMsg{Kind: pipeline.EventStatus, Status: pipeline.StatusActive})
	assert.NotContains(t, m.View(), "Waiting for screen share permission")

	m, _ = update(t, m, eventMsg{Kind: pipeline.EventCountdown, Countdown: 2})
	assert.Equal(t, 2, m.State().Countdown)
	assert.Contains(t, m.View(), "next capture in 2s")

	ctrl.set(func(s *pipeline.State) { s.CaptureCount, s.SuccessCount = 1, 1 })
	m, _ = update(t, m, eventMsg{Kind: pipeline.EventCapture, URL: "https://store/a.png"})
	assert.Equal(t, "https://store/a.png", m.State().LastCaptureURL)
	assert.Equal(t, uint64(1), m.State().SuccessCount)

	m, _ = update(t, m, eventMsg{Kind: pipeline.EventNotification, Message: "Capture failed: boom"})
	require.Len(t, m.Toasts(), 1)
	assert.Equal(t, components.ToastKindError, m.Toasts()[0].Kind)
	assert.Contains(t, m.View(), "Capture failed: boom")
}

func TestActiveSessionShowsLastFailure(t *testing.T) {
	ctrl := newFakeController()
	m, _ := newModel(t, ctrl)

	ctrl.set(func(s *pipeline.State) {
		s.Status = pipeline.StatusActive
		s.Countdown = 3
		s.LastError = "screen sharing ended"
	})
	m, _ = update(t, m, eventMsg{Kind: pipeline.EventStatus, Status: pipeline.StatusActive})
	assert.Contains(t, m.View(), "ACTIVE")
	assert.Contains(t, m.View(), "[!] screen sharing ended")

	ctrl.set(func(s *pipeline.State) { s.LastError = "" })
	m, _ = update(t, m, eventMsg{Kind: pipeline.EventStatus, Status: pipeline.StatusActive})
	assert.NotContains(t, m.View(), "[!]")
}

func TestEventsClosed(t *testing.T) {
	m, _ := newModel(t, newFakeController())
	m, cmd := update(t, m, eventsClosedMsg{})
	assert.Nil(t, cmd)
	assert.Nil(t, waitForEvent(m.events))
}

func TestWaitForEvent(t *testing.T) {
	ch := make(chan pipeline.Event, 1)
	ch <- pipeline.Event{Kind: pipeline.EventCountdown, Countdown: 3}
	msg := waitForEvent(ch)()
	assert.Equal(t, eventMsg{Kind: pipeline.EventCountdown, Countdown: 3}, msg)

	close(ch)
	assert.Equal(t, eventsClosedMsg{}, waitForEvent(ch)())
}

func TestToastsAutoDismissAndDismissKey(t *testing.T) {
	m, clk := newModel(t, newFakeController())
	m, _ = update(t, m, eventMsg{Kind: pipeline.EventNotification, Message: "first"})
	m, _ = update(t, m, eventMsg{Kind: pipeline.EventNotification, Message: "second"})
	require.Len(t, m.Toasts(), 2)

	m, _ = update(t, m, keyRune('x'))
	require.Len(t, m.Toasts(), 1)
	assert.Equal(t, "first", m.Toasts()[0].Message)

	clk.Step(components.ErrorToastDuration)
	m, cmd := update(t, m, components.ToastTickMsg{Time: clk.Now()})
	assert.NotNil(t, cmd)
	assert.Empty(t, m.Toasts())
}

func TestLogTail(t *testing.T) {
	ring := logging.NewRing(32)
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	m := New(newFakeController(), Options{Ring: ring, LogLines: 2, Clock: clk})
	t.Cleanup(m.Close)

	for _, line := range []string{"alpha", "bravo", "charlie"} {
		m, _ = update(t, m, logMsg(logging.Entry{Time: clk.Now(), Level: "info", Message: line}))
	}
	require.Len(t, m.Logs(), 2)
	assert.Equal(t, "bravo", m.Logs()[0].Message)
	assert.Contains(t, m.View(), "charlie")
	assert.NotContains(t, m.View(), "alpha")
}

func TestWindowSize(t *testing.T) {
	m, _ := newModel(t, newFakeController())
	m, cmd := update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Nil(t, cmd)
	assert.Equal(t, 120, m.width)
	assert.NotEmpty(t, m.View())
}

func TestClose_CancelsSubscription(t *testing.T) {
	ctrl := newFakeController()
	m := New(ctrl, Options{})
	m.Close()
	assert.True(t, ctrl.cancelled)
}
