// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - health checks for the capture chain.
//
// Checks performed:
//   1. Config Valid      - the effective configuration validates
//   2. Capture Source    - ffmpeg is installed (or the synthetic source is selected)
//   3. Storage Writable  - a probe object can be written, signed and deleted
//   4. Capture Log       - the log database answers and reports its size
//   5. Assistant         - the model backend is reachable (warning only)
//
// Exit codes: 0 when nothing failed, 1 otherwise.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/diagnostics"
	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/objstore"
)

// =============================================================================
// DOCTOR STYLES
// =============================================================================

var (
	doctorTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")). // Cyan
				MarginBottom(1)

	checkPassStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)

	checkWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")).
			Bold(true)

	checkFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	checkNameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Bold(true)

	fixStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true).
			PaddingLeft(2)

	summaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// checkSymbol returns the bracketed marker for a status.
func checkSymbol(s diagnostics.CheckStatus) string {
	switch s {
	case diagnostics.CheckPass:
		return checkPassStyle.Render("[OK]")
	case diagnostics.CheckWarn:
		return checkWarnStyle.Render("[!!]")
	case diagnostics.CheckFail:
		return checkFailStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// renderCheck formats one result, with its fix on a second line.
func renderCheck(c diagnostics.HealthCheck) string {
	result := fmt.Sprintf("%s %s %s", checkSymbol(c.Status), checkNameStyle.Render(c.Name+":"), c.Message)
	if c.Status != diagnostics.CheckPass && c.Fix != "" {
		result += "\n" + fixStyle.Render("-> "+c.Fix)
	}
	return result
}

// =============================================================================
// JSON OUTPUT
// =============================================================================

// DoctorSummary counts results by status.
type DoctorSummary struct {
	Passed  int  `json:"passed"`
	Warned  int  `json:"warned"`
	Failed  int  `json:"failed"`
	Healthy bool `json:"healthy"`
}

// DoctorData is the --json payload of doctor.
type DoctorData struct {
	Checks  []diagnostics.HealthCheck `json:"checks"`
	Summary DoctorSummary             `json:"summary"`
}

func summarize(results []diagnostics.HealthCheck) DoctorSummary {
	var s DoctorSummary
	for _, r := range results {
		switch r.Status {
		case diagnostics.CheckPass:
			s.Passed++
		case diagnostics.CheckWarn:
			s.Warned++
		case diagnostics.CheckFail:
			s.Failed++
		}
	}
	s.Healthy = s.Failed == 0
	return s
}

// =============================================================================
// DOCTOR COMMAND
// =============================================================================

func newDoctorCommand(opts *globalOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Run health checks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, appOptions{quiet: true})
			if err != nil {
				return err
			}
			defer a.Close()

			results := diagnostics.RunChecks(cmd.Context(), timeout, a.doctorChecks(cmd.Context())...)
			summary := summarize(results)

			out := cmd.OutOrStdout()
			var failErr error
			if summary.Failed > 0 {
				failErr = fmt.Errorf("%d health check(s) failed", summary.Failed)
			}
			if opts.json {
				resp := NewJSONResponse("doctor", DoctorData{Checks: results, Summary: summary})
				if failErr != nil {
					msg := failErr.Error()
					resp.Success = false
					resp.Error = &msg
				}
				if err := resp.Write(out); err != nil {
					return err
				}
				return failErr
			}

			renderDoctor(out, results, summary)
			return failErr
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-check timeout")
	return cmd
}

// doctorChecks opens each component independently so one broken piece
// does not hide the state of the others.
func (a *app) doctorChecks(ctx context.Context) []diagnostics.Check {
	checks := []diagnostics.Check{diagnostics.ConfigCheck(a.cfg)}

	const sourceCheck = "Capture Source"
	if err := a.openPlatform(); err != nil {
		checks = append(checks, failedCheck(sourceCheck, err, "set capture.source to ffmpeg or synthetic"))
	} else if ff, ok := a.platform.(*media.FFmpegPlatform); ok {
		checks = append(checks, diagnostics.InstallCheck(sourceCheck, ff.CheckInstallation,
			"install ffmpeg or set capture.ffmpeg_path"))
	} else {
		name := a.platform.Name()
		checks = append(checks, diagnostics.Check{Name: sourceCheck, Run: func(context.Context) diagnostics.HealthCheck {
			return diagnostics.HealthCheck{Status: diagnostics.CheckPass, Message: name + " source selected"}
		}})
	}

	if store, err := objstore.New(ctx, a.cfg.Storage, a.logger.Component("objstore")); err != nil {
		checks = append(checks, failedCheck("Storage Writable", err, "check [storage] settings and credentials"))
	} else {
		a.store = store
		checks = append(checks, diagnostics.StorageCheck(store))
	}

	if clog, err := capturelog.Open(ctx, a.cfg.Log); err != nil {
		checks = append(checks, failedCheck("Capture Log", err, "check [log] driver and dsn"))
	} else {
		a.clog = clog
		checks = append(checks, diagnostics.LogCheck(clog))
	}

	const assistCheck = "Assistant"
	if err := a.openAssistant(ctx); err != nil {
		checks = append(checks, failedCheck(assistCheck, err, "check [assist] provider settings or set OPENAI_API_KEY"))
	} else {
		p := a.assistant.Provider()
		fix := "start ollama (ollama serve) and pull " + p.Model()
		if p.Name() != "ollama" {
			fix = "check assist.openai_base_url and the API key"
		}
		checks = append(checks, diagnostics.ProbeCheck(assistCheck, p.Ping,
			fmt.Sprintf("%s/%s is reachable", p.Name(), p.Model()), fix))
	}
	return checks
}

// failedCheck reports a component that could not even be built.
func failedCheck(name string, err error, fix string) diagnostics.Check {
	return diagnostics.Check{Name: name, Run: func(context.Context) diagnostics.HealthCheck {
		return diagnostics.HealthCheck{Status: diagnostics.CheckFail, Message: err.Error(), Fix: fix}
	}}
}

func renderDoctor(w io.Writer, results []diagnostics.HealthCheck, s DoctorSummary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, doctorTitleStyle.Render("screencap Doctor"))
	fmt.Fprintln(w, RenderSeparator(41))
	fmt.Fprintln(w)
	for _, r := range results {
		fmt.Fprintln(w, renderCheck(r))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, SeparatorStyle.Render(strings.Repeat("-", 41)))

	parts := []string{fmt.Sprintf("%d passed", s.Passed)}
	if s.Warned > 0 {
		parts = append(parts, checkWarnStyle.Render(fmt.Sprintf("%d warning", s.Warned)))
	}
	if s.Failed > 0 {
		parts = append(parts, checkFailStyle.Render(fmt.Sprintf("%d failed", s.Failed)))
	}
	fmt.Fprintln(w, summaryStyle.Render(strings.Join(parts, ", ")))
	fmt.Fprintln(w)
}
