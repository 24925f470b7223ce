// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/spf13/cobra"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	var (
		start bool
		addr  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the capture agent and its API server without a UI",
		Long: "run starts the capture pipeline headless. Capture is driven through the\n" +
			"HTTP API (POST /api/toggle) unless --start requests permission on launch.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, appOptions{stderr: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			a.log.Info().
				Str("version", Version).
				Str("config", a.cfgPath).
				Str("source", a.cfg.Capture.Source).
				Msg("starting agent")
			return a.runAgent(cmd.Context(), agentOptions{api: true, start: start})
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "Request screen permission and start capturing immediately")
	cmd.Flags().StringVar(&addr, "addr", "", "API listen address (overrides server.addr)")
	return cmd
}
