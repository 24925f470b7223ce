// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/screencap/internal/logging"
	"github.com/jeranaias/screencap/internal/pipeline"
	"github.com/jeranaias/screencap/internal/ui/components"
	"github.com/jeranaias/screencap/internal/ui/styles"
	"github.com/jeranaias/screencap/internal/util"
)

const defaultWidth = 80

// statusColor is the badge colour of each session state.
func statusColor(s pipeline.Status) lipgloss.AdaptiveColor {
	switch s {
	case pipeline.StatusActive:
		return styles.Emerald
	case pipeline.StatusPaused:
		return styles.Amber
	case pipeline.StatusRequesting:
		return styles.Cyan
	case pipeline.StatusError:
		return styles.Rose
	default:
		return styles.TextSecondary
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	width := m.width
	if width <= 0 {
		width = defaultWidth
	}

	sections := []string{
		m.viewHeader(),
		m.viewStatus(),
		m.viewStats(),
		m.viewLast(width),
		m.viewLogs(width),
	}
	if toasts := m.toasts.Toasts(); len(toasts) > 0 {
		sections = append(sections, components.RenderToastStack(toasts, m.toasts.Now(), width))
	}
	sections = append(sections, m.viewHelp())
	return m.theme.App.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) viewHeader() string {
	title := m.theme.HeaderTitle.Render("screencap")
	var sub []string
	if m.version != "" {
		sub = append(sub, m.version)
	}
	if m.apiAddr != "" {
		sub = append(sub, "api "+m.apiAddr)
	}
	if m.state.SessionID != "" {
		sub = append(sub, "session "+m.state.SessionID)
	}
	if len(sub) > 0 {
		title += "  " + m.theme.HeaderSubtitle.Render(strings.Join(sub, " | "))
	}
	return m.theme.Header.Render(title)
}

func (m Model) viewStatus() string {
	status := m.state.Status
	if status == "" {
		status = pipeline.StatusIdle
	}
	badge := m.theme.BadgeColor(statusColor(status)).Render(strings.ToUpper(string(status)))

	var detail string
	switch {
	case status == pipeline.StatusRequesting:
		detail = m.spinner.View()
	case status == pipeline.StatusPaused:
		detail = m.theme.LogMuted.Render("paused, press space to resume")
	case status.HasHandle():
		detail = m.countdown.View()
		if m.state.LastError != "" {
			detail += "  " + styles.RenderWarning(m.state.LastError)
		}
	case status == pipeline.StatusError:
		detail = styles.RenderError(m.state.LastError)
	default:
		detail = m.theme.LogMuted.Render("press space to start capturing")
	}
	return badge + "  " + detail
}

func (m Model) viewStats() string {
	stat := func(label string, v uint64) string {
		return m.theme.StatsLabel.Render(label+" ") + m.theme.StatsValue.Render(fmt.Sprint(v))
	}
	parts := []string{
		stat("captures", m.state.CaptureCount),
		stat("stored", m.state.SuccessCount),
		stat("failed", m.state.FailureCount),
		stat("skipped", m.state.SkippedCount),
	}
	if m.state.InFlight > 0 {
		parts = append(parts, m.theme.StatsLabel.Render(fmt.Sprintf("in flight %d", m.state.InFlight)))
	}
	return strings.Join(parts, "   ")
}

func (m Model) viewLast(width int) string {
	if m.state.LastCaptureURL == "" {
		return m.theme.StatsLabel.Render("last capture ") + m.theme.LogMuted.Render("none yet")
	}
	line := m.theme.StatsLabel.Render("last capture ")
	if !m.state.LastCaptureAt.IsZero() {
		line += m.theme.LogMuted.Render(m.state.LastCaptureAt.Format("15:04:05") + " ")
	}
	if m.state.LastWidth > 0 {
		line += m.theme.LogMuted.Render(fmt.Sprintf("%dx%d ", m.state.LastWidth, m.state.LastHeight))
	}
	url := util.TruncateWidth(m.state.LastCaptureURL, width-lipgloss.Width(line)-4)
	return line + "\n  " + m.theme.Link.Render(url)
}

func (m Model) viewLogs(width int) string {
	inner := width - 6
	lines := make([]string, 0, m.logLines)
	for _, e := range m.logs {
		lines = append(lines, m.logStyle(e).Render(util.TruncateWidth(e.String(), inner)))
	}
	if len(lines) == 0 {
		lines = append(lines, m.theme.LogMuted.Render("no log output"))
	}
	return m.theme.Panel.Width(width - 4).Render(strings.Join(lines, "\n"))
}

func (m Model) logStyle(e logging.Entry) lipgloss.Style {
	switch e.Level {
	case "error", "fatal", "panic":
		return m.theme.LogError
	case "warn":
		return m.theme.LogWarn
	case "debug", "trace":
		return m.theme.LogMuted
	}
	return m.theme.LogLine
}

func (m Model) viewHelp() string {
	var parts []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}
