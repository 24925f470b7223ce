// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/screencap/internal/ui/styles"
)

// Countdown shows the seconds left until the next capture as a filling bar.
type Countdown struct {
	bar       progress.Model
	interval  int
	remaining int
}

// NewCountdown returns a bar for an interval of the given seconds.
func NewCountdown(interval, width int) Countdown {
	if interval < 1 {
		interval = 1
	}
	bar := progress.New(
		progress.WithScaledGradient("#7C3AED", "#22D3EE"),
		progress.WithoutPercentage(),
		progress.WithWidth(width),
	)
	return Countdown{bar: bar, interval: interval, remaining: interval}
}

// Set records the seconds left. Values outside [0, interval] are clamped.
func (c *Countdown) Set(remaining int) {
	switch {
	case remaining < 0:
		remaining = 0
	case remaining > c.interval:
		remaining = c.interval
	}
	c.remaining = remaining
}

func (c *Countdown) SetInterval(interval int) {
	if interval >= 1 {
		c.interval = interval
		c.Set(c.remaining)
	}
}

func (c *Countdown) SetWidth(width int) {
	if width > 4 {
		c.bar.Width = width
	}
}

func (c Countdown) Remaining() int { return c.remaining }

// Percent is the elapsed fraction of the interval.
func (c Countdown) Percent() float64 {
	return float64(c.interval-c.remaining) / float64(c.interval)
}

func (c Countdown) View() string {
	label := lipgloss.NewStyle().Foreground(styles.TextSecondary).
		Render(fmt.Sprintf(" next capture in %ds", c.remaining))
	return c.bar.ViewAs(c.Percent()) + label
}
