// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/logging"
	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/pipeline"
	"github.com/jeranaias/screencap/internal/ui/components"
)

// =============================================================================
// MESSAGES
// =============================================================================

type eventMsg pipeline.Event

type eventsClosedMsg struct{}

type logMsg logging.Entry

type toggleDoneMsg struct {
	status pipeline.Status
	err    error
}

type captureDoneMsg struct {
	rec capturelog.Record
	err error
}

type stopDoneMsg struct{}

func waitForEvent(ch <-chan pipeline.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(e)
	}
}

func waitForLog(ch <-chan logging.Entry) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(e)
	}
}

func (m Model) toggleCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		st, err := ctrl.Toggle(context.Background())
		return toggleDoneMsg{status: st, err: err}
	}
}

func (m Model) captureCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		rec, err := ctrl.CaptureNow(context.Background())
		return captureDoneMsg{rec: rec, err: err}
	}
}

func (m Model) stopCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Stop()
		return stopDoneMsg{}
	}
}

// =============================================================================
// UPDATE
// =============================================================================

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.countdown.SetWidth(msg.Width - 30)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		cmd := m.applyEvent(pipeline.Event(msg))
		return m, tea.Batch(cmd, waitForEvent(m.events))

	case eventsClosedMsg:
		m.spinner.Stop()
		m.events = nil
		return m, nil

	case logMsg:
		m.logs = append(m.logs, logging.Entry(msg))
		if over := len(m.logs) - m.logLines; over > 0 {
			m.logs = append([]logging.Entry(nil), m.logs[over:]...)
		}
		return m, waitForLog(m.logCh)

	case toggleDoneMsg:
		m.toggling = false
		m.refresh()
		m.toastToggleError(msg)
		return m, nil

	case captureDoneMsg:
		m.refresh()
		m.toastCaptureResult(msg)
		return m, nil

	case stopDoneMsg:
		// Failures from the ended session no longer apply.
		m.refresh()
		m.spinner.Stop()
		m.toasts.Clear()
		return m, nil

	case components.ToastTickMsg:
		m.toasts.Tick()
		return m, components.ToastTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Toggle):
		// Toggle blocks while permission is pending; one at a time.
		if m.toggling {
			return m, nil
		}
		m.toggling = true
		return m, m.toggleCmd()

	case key.Matches(msg, m.keys.Capture):
		return m, m.captureCmd()

	case key.Matches(msg, m.keys.Stop):
		return m, m.stopCmd()

	case key.Matches(msg, m.keys.Dismiss):
		if ts := m.toasts.Toasts(); len(ts) > 0 {
			m.toasts.Remove(ts[0].ID)
		}
		return m, nil
	}
	return m, nil
}

// applyEvent folds a pipeline event into the model.
func (m *Model) applyEvent(e pipeline.Event) tea.Cmd {
	var cmd tea.Cmd
	switch e.Kind {
	case pipeline.EventStatus:
		m.refresh()
		m.state.Status = e.Status
		if e.Status == pipeline.StatusRequesting {
			cmd = m.spinner.Start()
		} else {
			m.spinner.Stop()
		}
		if !e.Status.HasHandle() {
			m.countdown.Set(m.state.Interval)
		}
	case pipeline.EventCountdown:
		m.state.Countdown = e.Countdown
		m.countdown.Set(e.Countdown)
	case pipeline.EventCapture:
		m.refresh()
		m.state.LastCaptureURL = e.URL
	case pipeline.EventNotification:
		m.refresh()
		m.toasts.AddError(e.Message)
	}
	return cmd
}

// refresh re-reads counters and last results from the controller.
func (m *Model) refresh() {
	st := m.ctrl.Snapshot()
	m.state = st
	m.countdown.SetInterval(st.Interval)
	if st.Status.HasHandle() {
		m.countdown.Set(st.Countdown)
	}
}

// toastToggleError reports toggle failures the pipeline does not announce
// itself. Transitions into the error state always emit a notification.
func (m *Model) toastToggleError(msg toggleDoneMsg) {
	switch {
	case msg.err == nil:
	case errors.Is(msg.err, media.ErrAlreadyInProgress):
		m.toasts.AddWarning("Permission request already in progress")
	case errors.Is(msg.err, pipeline.ErrStopped):
		m.toasts.AddStatus("Permission request cancelled")
	case msg.status != pipeline.StatusError:
		m.toasts.AddError(msg.err.Error())
	}
}

// toastCaptureResult reports manual capture outcomes. Extract and upload
// failures already arrive as notifications.
func (m *Model) toastCaptureResult(msg captureDoneMsg) {
	switch {
	case msg.err == nil:
		m.toasts.AddSuccess("Captured " + msg.rec.Name)
	case errors.Is(msg.err, pipeline.ErrNotActive):
		m.toasts.AddWarning("Capture is not active; press space to start")
	case errors.Is(msg.err, pipeline.ErrBusy):
		m.toasts.AddWarning("A capture is already in flight")
	case errors.Is(msg.err, pipeline.ErrClosed):
		m.toasts.AddError(msg.err.Error())
	}
}
