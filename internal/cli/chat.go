// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/screencap/internal/assist"
	"github.com/jeranaias/screencap/internal/config"
)

// maxChatTurns bounds the history sent with each prompt.
const maxChatTurns = 20

// =============================================================================
// INPUT HANDLING
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor whose history lives in historyFile.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	cli := &ChatCLI{line: line, historyFile: historyFile}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history to file with secure permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0755); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// inputReader is the part of ChatCLI the chat loop needs.
type inputReader interface {
	ReadInput(prompt string) (string, error)
}

// =============================================================================
// CHAT SESSION
// =============================================================================

type chatSession struct {
	assistant *assist.Assistant
	history   []assist.Turn
	textOnly  bool
	out       io.Writer
	errOut    io.Writer
}

func newChatCommand(opts *globalOptions) *cobra.Command {
	var textOnly bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant about what is on screen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := RequiresTTY("chat"); err != nil {
				return err
			}
			a, err := newApp(opts, appOptions{quiet: opts.logLevel == "", stderr: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openAssistant(cmd.Context()); err != nil {
				return err
			}

			dir, err := config.ConfigDir()
			if err != nil {
				dir = os.TempDir()
			}
			input := NewChatCLI(filepath.Join(dir, "chat_history"))
			defer input.Close()

			s := &chatSession{
				assistant: a.assistant,
				textOnly:  textOnly,
				out:       cmd.OutOrStdout(),
				errOut:    cmd.ErrOrStderr(),
			}
			s.printWelcome()
			return s.run(cmd.Context(), input)
		},
	}
	cmd.Flags().BoolVar(&textOnly, "text-only", false, "Start without attaching captures (toggle with /text)")
	return cmd
}

// run reads prompts until EOF, Ctrl+C or /quit. Model errors are printed
// and the session continues.
func (s *chatSession) run(ctx context.Context, in inputReader) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.ReadInput("you> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			if s.command(line) {
				return nil
			}
		default:
			if err := s.ask(ctx, line); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(s.errOut, "%s %v\n", ErrorStyle.Render("[ERROR]"), err)
			}
		}
	}
}

func (s *chatSession) ask(ctx context.Context, prompt string) error {
	fmt.Fprint(s.out, SuccessStyle.Render("assistant> "))
	ans, err := s.assistant.AskWith(ctx, assist.Question{
		Prompt:   prompt,
		History:  s.history,
		TextOnly: s.textOnly,
		OnDelta:  func(d string) { fmt.Fprint(s.out, d) },
	})
	fmt.Fprintln(s.out)
	if err != nil {
		return err
	}
	if ans.CaptureName != "" {
		fmt.Fprintln(s.out, DimStyle.Render("  (looked at "+ans.CaptureName+")"))
	}

	s.history = append(s.history,
		assist.Turn{Role: "user", Content: prompt},
		assist.Turn{Role: "assistant", Content: ans.Text},
	)
	if len(s.history) > maxChatTurns {
		s.history = s.history[len(s.history)-maxChatTurns:]
	}
	return nil
}

// command handles a slash command and reports whether to quit.
func (s *chatSession) command(line string) bool {
	name := strings.ToLower(strings.Fields(line)[0])
	switch name {
	case "/quit", "/exit", "/q":
		return true
	case "/clear":
		s.history = nil
		fmt.Fprintln(s.out, DimStyle.Render("Conversation cleared."))
	case "/text":
		s.textOnly = !s.textOnly
		if s.textOnly {
			fmt.Fprintln(s.out, DimStyle.Render("Captures will not be attached."))
		} else {
			fmt.Fprintln(s.out, DimStyle.Render("The latest capture is attached to each prompt."))
		}
	case "/status":
		p := s.assistant.Provider()
		fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Model:"), ValueStyle.Render(p.Name()+"/"+p.Model()))
		fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Turns:"), ValueStyle.Render(fmt.Sprint(len(s.history)/2)))
		fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Captures:"), ValueStyle.Render(onOff(!s.textOnly)))
	case "/help":
		s.printHelp()
	default:
		fmt.Fprintf(s.errOut, "%s unknown command %s (try /help)\n", WarningStyle.Render("[WARN]"), name)
	}
	return false
}

func (s *chatSession) printWelcome() {
	p := s.assistant.Provider()
	fmt.Fprintln(s.out, TitleStyle.Render("screencap chat"))
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Model:"), ValueStyle.Render(p.Name()+"/"+p.Model()))
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printHelp() {
	fmt.Fprintln(s.out, TitleStyle.Render("Commands"))
	for _, c := range [][2]string{
		{"/text", "Toggle attaching the latest capture"},
		{"/clear", "Forget the conversation so far"},
		{"/status", "Show model and session info"},
		{"/quit", "Leave the chat"},
	} {
		fmt.Fprintf(s.out, "  %s%s\n", RenderLabel(c[0]), DimStyle.Render(c[1]))
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
