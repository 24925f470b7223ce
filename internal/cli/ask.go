// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/screencap/internal/assist"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// renderMarkdown renders content for the terminal, falling back to the raw
// text if glamour cannot build a renderer.
func renderMarkdown(content string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

// =============================================================================
// ASK COMMAND
// =============================================================================

func newAskCommand(opts *globalOptions) *cobra.Command {
	var (
		textOnly bool
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask the assistant about the latest capture",
		Long: "ask sends one question, with the most recent capture attached, to the\n" +
			"configured model. The question may also be piped on stdin.",
		Example: "  screencap ask what is the error in the terminal?\n" +
			"  echo 'summarise this page' | screencap ask",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			a, err := newApp(opts, appOptions{quiet: opts.logLevel == "", stderr: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.openAssistant(ctx); err != nil {
				return err
			}

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			q := assist.Question{Prompt: prompt, TextOnly: textOnly}

			if opts.json {
				return outputJSON(out, "ask", func() (interface{}, error) {
					return a.assistant.AskWith(ctx, q)
				})
			}

			// Rendered answers arrive whole; piped output streams.
			render := !raw && IsStdoutTTY()
			if render {
				fmt.Fprintln(errOut, DimStyle.Render("Thinking..."))
			} else {
				q.OnDelta = func(s string) { fmt.Fprint(out, s) }
			}

			ans, err := a.assistant.AskWith(ctx, q)
			if err != nil {
				return err
			}
			if render {
				fmt.Fprintln(out, renderMarkdown(ans.Text, GetTerminalWidth()))
			} else if !strings.HasSuffix(ans.Text, "\n") {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(errOut, answerFooter(ans))
			return nil
		},
	}
	cmd.Flags().BoolVar(&textOnly, "text-only", false, "Do not attach the latest capture")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the answer without markdown rendering")
	return cmd
}

// readPrompt joins args, or reads stdin when no args were given.
func readPrompt(stdin io.Reader, args []string) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" && stdin != nil && !IsTTY() {
		data, err := io.ReadAll(io.LimitReader(stdin, 64<<10))
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", usageErrorf("a question is required")
	}
	return prompt, nil
}

// answerFooter summarises where an answer came from.
func answerFooter(ans *assist.Answer) string {
	parts := []string{fmt.Sprintf("%s/%s", ans.Provider, ans.Model)}
	if ans.CaptureName != "" {
		parts = append(parts, "capture "+ans.CaptureName)
	} else {
		parts = append(parts, "no capture attached")
	}
	if ans.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("%d attempts", ans.Attempts))
	}
	parts = append(parts, ans.Elapsed.Round(10*time.Millisecond).String())
	return DimStyle.Render(strings.Join(parts, " | "))
}
