// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the dashboard.
type Theme struct {
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	App            lipgloss.Style
	Header         lipgloss.Style
	HeaderTitle    lipgloss.Style
	HeaderSubtitle lipgloss.Style

	// Badge is the base of the status badge; Badge{Color} colours it.
	Badge lipgloss.Style

	Panel      lipgloss.Style
	StatsLabel lipgloss.Style
	StatsValue lipgloss.Style
	Link       lipgloss.Style

	LogLine  lipgloss.Style
	LogError lipgloss.Style
	LogWarn  lipgloss.Style
	LogMuted lipgloss.Style

	Spinner      lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style
}

// NewTheme detects the terminal's colour support and builds every style.
func NewTheme() *Theme {
	profile := termenv.ColorProfile()
	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		HasTrueColor: profile == termenv.TrueColor,
		ColorProfile: profile,
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.App = lipgloss.NewStyle().Padding(0, 1)

	t.Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan).
		Background(SurfaceDim).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(0, 2)

	t.HeaderTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.HeaderSubtitle = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Italic(true)

	t.Badge = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextInverse).
		Padding(0, 1)

	t.Panel = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.StatsLabel = lipgloss.NewStyle().Foreground(TextSecondary)
	t.StatsValue = lipgloss.NewStyle().Foreground(TextPrimary).Bold(true)
	t.Link = lipgloss.NewStyle().Foreground(LinkColor).Underline(true)

	t.LogLine = lipgloss.NewStyle().Foreground(TextPrimary)
	t.LogError = lipgloss.NewStyle().Foreground(Rose)
	t.LogWarn = lipgloss.NewStyle().Foreground(Amber)
	t.LogMuted = lipgloss.NewStyle().Foreground(TextMuted)

	t.Spinner = lipgloss.NewStyle().Foreground(Cyan)
	t.ShortcutKey = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(TextMuted)
}

// BadgeColor returns Badge with the given background.
func (t *Theme) BadgeColor(c lipgloss.AdaptiveColor) lipgloss.Style {
	return t.Badge.Background(c)
}
