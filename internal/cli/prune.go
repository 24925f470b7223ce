// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pruneResult is the --json payload of prune.
type pruneResult struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
	Keep      int `json:"keep"`
}

func newPruneCommand(opts *globalOptions) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply capture retention now",
		Long: "prune deletes all but the newest captures from the log and from object\n" +
			"storage. It runs the same housekeeping the agent schedules.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, appOptions{stderr: cmd.ErrOrStderr(), quiet: opts.logLevel == ""})
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("keep") {
				if keep < 1 {
					return usageErrorf("--keep must be at least 1")
				}
				a.cfg.Log.Retention = keep
			}
			ctx := cmd.Context()
			if err := a.openUploader(ctx); err != nil {
				return err
			}

			run := func() (interface{}, error) {
				removed, err := a.uploader.EnforceRetention(ctx)
				if err != nil {
					return nil, err
				}
				remaining, err := a.clog.Count(ctx)
				if err != nil {
					return nil, err
				}
				return pruneResult{Removed: removed, Remaining: remaining, Keep: a.uploader.Retention()}, nil
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return outputJSON(out, "prune", run)
			}
			res, err := run()
			if err != nil {
				return err
			}
			r := res.(pruneResult)
			fmt.Fprintf(out, "%s Removed %d capture(s), %d remaining (keeping the newest %d)\n",
				SuccessStyle.Render("[OK]"), r.Removed, r.Remaining, r.Keep)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "Captures to keep (default log.retention)")
	return cmd
}
