// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/util"
)

func newCapturesCommand(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "captures",
		Aliases: []string{"ls"},
		Short:   "List recorded captures, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return usageErrorf("--limit must not be negative")
			}
			a, err := newApp(opts, appOptions{quiet: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openStorage(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return outputJSON(out, "captures", func() (interface{}, error) {
					return a.clog.List(cmd.Context(), limit)
				})
			}

			records, err := a.clog.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderCaptures(out, records)
			return nil
		},
	}
	addLimitFlag(cmd.Flags(), &limit, 20)
	return cmd
}

func renderCaptures(w io.Writer, records []capturelog.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No captures yet. Start a session with: screencap watch"))
		return
	}
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Captures (%d)", len(records))))
	for _, r := range records {
		fmt.Fprintf(w, "%s %s  %s  %s  %s\n",
			DimStyle.Render(fmt.Sprintf("#%-5d", r.ID)),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			util.PadRight(fmt.Sprintf("%dx%d", r.Width, r.Height), 10),
			util.PadRight(formatBytes(r.Size), 9),
			ValueStyle.Render(r.Name),
		)
		if r.URL != "" {
			fmt.Fprintf(w, "       %s\n", LinkStyle.Render(util.TruncateWidth(r.URL, GetTerminalWidth()-8)))
		}
	}
}

// formatBytes renders n with a binary unit suffix.
func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
