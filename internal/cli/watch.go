// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jeranaias/screencap/internal/ui/dashboard"
	"github.com/jeranaias/screencap/internal/ui/styles"
)

func newWatchCommand(opts *globalOptions) *cobra.Command {
	var (
		api   bool
		start bool
		addr  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the capture dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := RequiresTTY("show the dashboard"); err != nil {
				return err
			}
			// Log lines go to the ring only; the dashboard tails it.
			a, err := newApp(opts, appOptions{quiet: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			apiAddr := ""
			if api {
				apiAddr = a.cfg.Server.Addr
			}

			return a.runAgent(cmd.Context(), agentOptions{
				api:   api,
				start: start,
				ui: func(ctx context.Context) error {
					return dashboard.Run(ctx, a.pipe, dashboard.Options{
						Theme:   styles.NewTheme(),
						Ring:    a.logger.Ring,
						Version: Version,
						APIAddr: apiAddr,
					})
				},
			})
		},
	}
	cmd.Flags().BoolVar(&api, "api", false, "Also serve the HTTP API")
	cmd.Flags().BoolVar(&start, "start", false, "Request screen permission on launch")
	cmd.Flags().StringVar(&addr, "addr", "", "API listen address (overrides server.addr)")
	return cmd
}
