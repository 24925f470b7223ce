// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	envFile    string
	json       bool
}

// NewRootCommand builds the screencap command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "screencap",
		Short: "Periodic screen capture with an AI assistant",
		Long: "screencap captures the shared screen on a fixed countdown, uploads each\n" +
			"frame to object storage and lets you ask a model about what is on screen.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (default ~/.screencap/config.toml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: console or json")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before the config")
	flags.BoolVar(&opts.json, "json", false, "Machine-readable output")

	cmd.AddCommand(
		newRunCommand(opts),
		newWatchCommand(opts),
		newAskCommand(opts),
		newChatCommand(opts),
		newCapturesCommand(opts),
		newPruneCommand(opts),
		newConfigCommand(opts),
		newDoctorCommand(opts),
		newVersionCommand(opts),
	)
	return cmd
}

// loadEnvFile exports variables from a dotenv file without overriding the
// real environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Execute runs the command tree with args and returns the exit status.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return ExitSuccess
	}

	// Errors always go to stderr; --json envelopes on stdout stay parseable.
	DisplayError(stderr, err)
	return ExitCode(err)
}

// addLimitFlag registers --limit on fs.
func addLimitFlag(fs *pflag.FlagSet, limit *int, def int) {
	fs.IntVarP(limit, "limit", "n", def, "Maximum number of captures to show (0 for all)")
}
