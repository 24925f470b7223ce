// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jeranaias/screencap/internal/diagnostics"
)

// VersionInfo is the --json payload of version.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	UserAgent string `json:"user_agent"`
}

func currentVersion() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		UserAgent: diagnostics.UserAgent(Version),
	}
}

func newVersionCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := currentVersion()
			out := cmd.OutOrStdout()
			if opts.json {
				return NewJSONResponse("version", info).Write(out)
			}
			fmt.Fprintf(out, "screencap %s\n", info.Version)
			fmt.Fprintf(out, "%s%s\n", RenderLabel("Commit:"), info.GitCommit)
			fmt.Fprintf(out, "%s%s\n", RenderLabel("Built:"), info.BuildDate)
			fmt.Fprintf(out, "%s%s (%s)\n", RenderLabel("Go:"), info.GoVersion, info.Platform)
			return nil
		},
	}
}
