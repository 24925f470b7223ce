// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides the widgets of the screencap dashboard.
//
// Toasts are non-blocking notifications that stack in a corner and
// auto-dismiss, so capture failures never stop the countdown display.
package components

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"k8s.io/utils/clock"

	"github.com/jeranaias/screencap/internal/ui/styles"
)

// =============================================================================
// TOAST TYPES
// =============================================================================

// ToastKind is the severity of a toast.
type ToastKind int

const (
	ToastKindStatus ToastKind = iota
	ToastKindError
	ToastKindWarning
	ToastKindSuccess
)

const (
	DefaultToastDuration = 4 * time.Second
	ErrorToastDuration   = 8 * time.Second
	WarningToastDuration = 6 * time.Second

	// ToastTickInterval is how often expired toasts are swept.
	ToastTickInterval = 250 * time.Millisecond

	defaultMaxToasts = 4
)

// Toast is one notification.
type Toast struct {
	ID        int
	Message   string
	Kind      ToastKind
	CreatedAt time.Time
	Duration  time.Duration
}

func durationFor(kind ToastKind) time.Duration {
	switch kind {
	case ToastKindError:
		return ErrorToastDuration
	case ToastKindWarning:
		return WarningToastDuration
	default:
		return DefaultToastDuration
	}
}

// Remaining returns the time left before auto-dismiss at now.
func (t Toast) Remaining(now time.Time) time.Duration {
	if d := t.Duration - now.Sub(t.CreatedAt); d > 0 {
		return d
	}
	return 0
}

// Expired reports whether the toast should be gone at now.
func (t Toast) Expired(now time.Time) bool {
	return t.Remaining(now) == 0
}

// =============================================================================
// TOAST MANAGER
// =============================================================================

// ToastManager keeps the visible toasts, newest first.
type ToastManager struct {
	mu        sync.Mutex
	clock     clock.PassiveClock
	toasts    []Toast
	nextID    int
	maxToasts int
}

// NewToastManager returns an empty manager. A nil clk uses the real clock.
func NewToastManager(clk clock.PassiveClock) *ToastManager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &ToastManager{clock: clk, nextID: 1, maxToasts: defaultMaxToasts}
}

// Add shows message and returns the toast's ID.
func (m *ToastManager) Add(kind ToastKind, message string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := Toast{
		ID:        m.nextID,
		Message:   message,
		Kind:      kind,
		CreatedAt: m.clock.Now(),
		Duration:  durationFor(kind),
	}
	m.nextID++

	m.toasts = append([]Toast{t}, m.toasts...)
	if len(m.toasts) > m.maxToasts {
		m.toasts = m.toasts[:m.maxToasts]
	}
	return t.ID
}

func (m *ToastManager) AddError(message string) int   { return m.Add(ToastKindError, message) }
func (m *ToastManager) AddWarning(message string) int { return m.Add(ToastKindWarning, message) }
func (m *ToastManager) AddStatus(message string) int  { return m.Add(ToastKindStatus, message) }
func (m *ToastManager) AddSuccess(message string) int { return m.Add(ToastKindSuccess, message) }

// Remove dismisses a toast early.
func (m *ToastManager) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.toasts {
		if t.ID == id {
			m.toasts = append(m.toasts[:i], m.toasts[i+1:]...)
			return
		}
	}
}

// Tick drops expired toasts and returns the remaining ones.
func (m *ToastManager) Tick() []Toast {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	active := m.toasts[:0]
	for _, t := range m.toasts {
		if !t.Expired(now) {
			active = append(active, t)
		}
	}
	m.toasts = active
	return append([]Toast(nil), m.toasts...)
}

// Toasts returns a copy of the visible toasts.
func (m *ToastManager) Toasts() []Toast {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Toast(nil), m.toasts...)
}

// Clear drops every toast.
func (m *ToastManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toasts = nil
}

func (m *ToastManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.toasts)
}

// Now is the manager's clock reading, used when rendering countdowns.
func (m *ToastManager) Now() time.Time {
	return m.clock.Now()
}

// =============================================================================
// TOAST MESSAGES
// =============================================================================

// ToastTickMsg drives auto-dismiss.
type ToastTickMsg struct {
	Time time.Time
}

// ToastTickCmd schedules the next ToastTickMsg.
func ToastTickCmd() tea.Cmd {
	return tea.Tick(ToastTickInterval, func(t time.Time) tea.Msg {
		return ToastTickMsg{Time: t}
	})
}

// =============================================================================
// TOAST RENDERING
// =============================================================================

// RenderToast renders t as a bordered box no wider than width.
func RenderToast(t Toast, now time.Time, width int) string {
	maxWidth := 60
	if width > 0 && width-8 < maxWidth {
		maxWidth = width - 8
	}
	if maxWidth < 30 {
		maxWidth = 30
	}

	var color lipgloss.AdaptiveColor
	var icon string
	switch t.Kind {
	case ToastKindError:
		color, icon = styles.Rose, styles.StatusIndicators.Error
	case ToastKindWarning:
		color, icon = styles.Amber, styles.StatusIndicators.Warning
	case ToastKindSuccess:
		color, icon = styles.Emerald, styles.StatusIndicators.Success
	default:
		color, icon = styles.Cyan, styles.StatusIndicators.Info
	}

	iconView := lipgloss.NewStyle().Foreground(color).Bold(true).Render(icon + " ")
	msgView := lipgloss.NewStyle().
		Foreground(styles.TextPrimary).
		Width(maxWidth - 10).
		Render(t.Message)
	content := lipgloss.JoinHorizontal(lipgloss.Top, iconView, msgView)

	if secs := int(t.Remaining(now).Seconds()); secs > 0 {
		hint := lipgloss.NewStyle().Foreground(styles.TextMuted).Italic(true).
			Render(fmt.Sprintf("[x] dismiss  %ds", secs))
		content += "\n" + hint
	}

	return lipgloss.NewStyle().
		Background(styles.SurfaceDim).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 2).
		MaxWidth(maxWidth).
		Render(content)
}

// RenderToastStack renders toasts right-aligned, one below another.
func RenderToastStack(toasts []Toast, now time.Time, width int) string {
	if len(toasts) == 0 {
		return ""
	}
	rendered := make([]string, 0, len(toasts))
	for _, t := range toasts {
		rendered = append(rendered, RenderToast(t, now, width))
	}
	stack := lipgloss.JoinVertical(lipgloss.Right, rendered...)
	if width > 0 {
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, stack)
	}
	return strings.TrimRight(stack, "\n")
}
