// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"k8s.io/utils/clock"

	"github.com/jeranaias/screencap/internal/ui/styles"
)

// Spinner is an ASCII spinner with a message and elapsed time.
type Spinner struct {
	spinner   spinner.Model
	clock     clock.PassiveClock
	message   string
	startTime time.Time
	active    bool
}

// NewSpinner returns an idle spinner. A nil clk uses the real clock.
func NewSpinner(message string, clk clock.PassiveClock) Spinner {
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	return Spinner{spinner: s, clock: clk, message: message}
}

// Start activates the spinner and returns its first tick.
func (s *Spinner) Start() tea.Cmd {
	if s.active {
		return nil
	}
	s.active = true
	s.startTime = s.clock.Now()
	return s.spinner.Tick
}

func (s *Spinner) Stop() {
	s.active = false
}

func (s *Spinner) Active() bool {
	return s.active
}

// Elapsed returns the time since Start.
func (s *Spinner) Elapsed() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return s.clock.Since(s.startTime)
}

// Update advances the animation. Ticks arriving while stopped are dropped,
// which ends the tick loop.
func (s Spinner) Update(msg tea.Msg) (Spinner, tea.Cmd) {
	if !s.active {
		return s, nil
	}
	var cmd tea.Cmd
	s.spinner, cmd = s.spinner.Update(msg)
	return s, cmd
}

func (s Spinner) View() string {
	if !s.active {
		return ""
	}
	frame := lipgloss.NewStyle().Foreground(styles.Cyan).Render(s.spinner.View())
	msg := lipgloss.NewStyle().Foreground(styles.TextSecondary).Render(s.message + "...")
	timer := lipgloss.NewStyle().Foreground(styles.TextMuted).Render(" " + formatElapsed(s.Elapsed()))
	return frame + " " + msg + timer
}

func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
