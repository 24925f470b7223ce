// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dashboard is the bubbletea front end of a capture session: status,
// countdown, counters, last capture, log tail and failure toasts.
package dashboard

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"k8s.io/utils/clock"

	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/logging"
	"github.com/jeranaias/screencap/internal/pipeline"
	"github.com/jeranaias/screencap/internal/ui/components"
	"github.com/jeranaias/screencap/internal/ui/styles"
)

// DefaultLogLines is the size of the log tail.
const DefaultLogLines = 8

// Controller is the part of the pipeline the dashboard drives.
type Controller interface {
	Toggle(ctx context.Context) (pipeline.Status, error)
	Stop()
	CaptureNow(ctx context.Context) (capturelog.Record, error)
	Snapshot() pipeline.State
	Subscribe(buffer int) (<-chan pipeline.Event, func())
}

// Options configure the dashboard. All fields are optional.
type Options struct {
	Theme    *styles.Theme
	Ring     *logging.Ring
	LogLines int
	Clock    clock.PassiveClock
	Version  string
	// APIAddr is shown in the header when the API server is running.
	APIAddr string
}

// Model is the dashboard's bubbletea model.
type Model struct {
	ctrl  Controller
	theme *styles.Theme
	keys  KeyMap

	version string
	apiAddr string

	state     pipeline.State
	countdown components.Countdown
	spinner   components.Spinner
	toasts    *components.ToastManager

	logs     []logging.Entry
	logLines int

	events     <-chan pipeline.Event
	stopEvents func()
	logCh      <-chan logging.Entry
	stopLogs   func()

	// initCmd is returned by Init; New may have started the spinner.
	initCmd tea.Cmd

	toggling bool
	width    int
	height   int
	quitting bool
}

// New subscribes to ctrl and the log ring. Call Close after the program
// exits.
func New(ctrl Controller, opts Options) Model {
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme()
	}
	if opts.LogLines <= 0 {
		opts.LogLines = DefaultLogLines
	}

	st := ctrl.Snapshot()
	m := Model{
		ctrl:      ctrl,
		theme:     opts.Theme,
		keys:      DefaultKeyMap(),
		version:   opts.Version,
		apiAddr:   opts.APIAddr,
		state:     st,
		countdown: components.NewCountdown(st.Interval, 40),
		spinner:   components.NewSpinner("Waiting for screen share permission", opts.Clock),
		toasts:    components.NewToastManager(opts.Clock),
		logLines:  opts.LogLines,
	}
	m.countdown.Set(st.Countdown)
	if st.Status == pipeline.StatusRequesting {
		m.initCmd = m.spinner.Start()
	}

	m.events, m.stopEvents = ctrl.Subscribe(64)
	if opts.Ring != nil {
		m.logs = opts.Ring.Lines(m.logLines)
		m.logCh, m.stopLogs = opts.Ring.Subscribe(64)
	}
	return m
}

// Close releases the subscriptions taken by New.
func (m Model) Close() {
	if m.stopEvents != nil {
		m.stopEvents()
	}
	if m.stopLogs != nil {
		m.stopLogs()
	}
}

// State returns the dashboard's copy of the session state.
func (m Model) State() pipeline.State { return m.state }

// Toasts returns the visible notifications.
func (m Model) Toasts() []components.Toast { return m.toasts.Toasts() }

// Logs returns the log tail.
func (m Model) Logs() []logging.Entry { return m.logs }

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		waitForEvent(m.events),
		waitForLog(m.logCh),
		components.ToastTickCmd(),
		m.initCmd,
	}
	return tea.Batch(cmds...)
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctrl Controller, opts Options) error {
	m := New(ctrl, opts)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-done:
		}
	}()

	_, err := p.Run()
	return err
}
