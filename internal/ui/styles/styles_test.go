// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHelpers_IncludeIndicators(t *testing.T) {
	tests := []struct {
		name   string
		render func(string) string
		marker string
	}{
		{"error", RenderError, StatusIndicators.Error},
		{"warning", RenderWarning, StatusIndicators.Warning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.render("upload failed")
			assert.Contains(t, out, tt.marker)
			assert.Contains(t, out, "upload failed")
		})
	}
}

func TestStatusIndicators_ASCII(t *testing.T) {
	for _, s := range []string{
		StatusIndicators.Success, StatusIndicators.Error, StatusIndicators.Warning,
		StatusIndicators.Info, StatusIndicators.Pending, StatusIndicators.Active,
	} {
		for _, r := range s {
			assert.Less(t, r, rune(128), "indicator %q", s)
		}
	}
}

func TestNewTheme(t *testing.T) {
	theme := NewTheme()
	require.NotNil(t, theme)

	out := theme.BadgeColor(Emerald).Render("active")
	assert.True(t, strings.Contains(out, "active"))
	assert.Contains(t, theme.Header.Render("screencap"), "screencap")
}
