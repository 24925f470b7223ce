// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/screencap/internal/assist"
	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/config"
	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/ollama"
)

var envOverrides = []string{
	"SCREENCAP_SOURCE", "SCREENCAP_DISPLAY", "SCREENCAP_INTERVAL", "SCREENCAP_STORAGE",
	"SCREENCAP_S3_BUCKET", "SCREENCAP_SIGNING_KEY", "DATABASE_URL", "SCREENCAP_LOG_DSN",
	"SCREENCAP_PROVIDER", "SCREENCAP_OLLAMA_URL", "SCREENCAP_MODEL", "OPENAI_API_KEY",
	"SCREENCAP_OPENAI_KEY", "SCREENCAP_ADDR", "SCREENCAP_TOKEN", "SCREENCAP_LOG_LEVEL",
}

// isolate points the config directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("SCREENCAP_HOME", home)
	for _, k := range envOverrides {
		t.Setenv(k, "")
	}
	t.Setenv("SCREENCAP_SOURCE", "synthetic")
	return home
}

// execute runs the CLI and returns exit code, stdout and stderr.
func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--env-file", ""}, args...)
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// fakeOllama answers /api/tags and /api/chat, streamed or not.
func fakeOllama(t *testing.T, answer ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte("Ollama is running"))
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"llava:7b"}]}`))
		case "/api/chat":
			var req struct {
				Stream bool `json:"stream"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if !req.Stream {
				fmt.Fprintf(w, `{"model":"llava:7b","message":{"role":"assistant","content":%q},"done":true}`, strings.Join(answer, ""))
				return
			}
			for i, part := range answer {
				fmt.Fprintf(w, "{\"model\":\"llava:7b\",\"message\":{\"role\":\"assistant\",\"content\":%q},\"done\":%t}\n", part, i == len(answer)-1)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersion(t *testing.T) {
	isolate(t)
	code, out, _ := execute(t, "version")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "screencap "+Version)

	code, out, _ = execute(t, "--json", "version")
	assert.Equal(t, ExitSuccess, code)
	var resp struct {
		Success bool        `json:"success"`
		Data    VersionInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, Version, resp.Data.Version)
	assert.Contains(t, resp.Data.UserAgent, "screencap/")
}

func TestConfigLifecycle(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.toml")

	code, out, _ := execute(t, "config", "path")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, path, strings.TrimSpace(out))

	code, out, _ = execute(t, "config", "init")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	code, _, errOut := execute(t, "config", "init")
	assert.Equal(t, ExitGeneralError, code)
	assert.Contains(t, errOut, "--force")

	code, _, _ = execute(t, "config", "init", "--force")
	assert.Equal(t, ExitSuccess, code)

	code, _, _ = execute(t, "config", "set", "capture.interval_secs", "9")
	require.Equal(t, ExitSuccess, code)
	code, out, _ = execute(t, "config", "get", "capture.interval_secs")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "9", strings.TrimSpace(out))

	code, out, _ = execute(t, "config", "show")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "interval_secs = 9")
}

func TestConfigSet_Rejects(t *testing.T) {
	isolate(t)

	code, _, _ := execute(t, "config", "set", "capture.nope", "1")
	assert.Equal(t, ExitUsageError, code)

	code, _, errOut := execute(t, "config", "set", "capture.format", "gif")
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut, "capture.format")
}

func TestConfigGet_MasksSecrets(t *testing.T) {
	isolate(t)
	t.Setenv("SCREENCAP_TOKEN", "hunter2")
	code, out, _ := execute(t, "config", "get", "server.auth_token")
	assert.Equal(t, ExitSuccess, code)
	assert.NotContains(t, out, "hunter2")
}

func TestCapturesAndPrune(t *testing.T) {
	home := isolate(t)

	code, out, _ := execute(t, "captures")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "No captures yet")

	ctx := context.Background()
	clog, err := capturelog.Open(ctx, config.LogConfig{Driver: "sqlite", DSN: filepath.Join(home, "captures.db")})
	require.NoError(t, err)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := clog.Append(ctx, capturelog.Record{
			Name:        fmt.Sprintf("capture-%d.png", i),
			URL:         fmt.Sprintf("http://127.0.0.1:8787/captures/capture-%d.png", i),
			ContentType: "image/png",
			Size:        2048,
			Width:       1280,
			Height:      720,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	require.NoError(t, clog.Close())

	code, out, _ = execute(t, "captures", "--limit", "2")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Captures (2)")
	assert.Contains(t, out, "capture-4.png")
	assert.Contains(t, out, "1280x720")
	assert.NotContains(t, out, "capture-2.png")

	code, out, _ = execute(t, "--json", "prune", "--keep", "2")
	require.Equal(t, ExitSuccess, code)
	var resp struct {
		Data pruneResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, pruneResult{Removed: 3, Remaining: 2, Keep: 2}, resp.Data)

	code, out, _ = execute(t, "--json", "captures")
	assert.Equal(t, ExitSuccess, code)
	var list struct {
		Data []capturelog.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list.Data, 2)
	assert.Equal(t, "capture-4.png", list.Data[0].Name)

	code, _, _ = execute(t, "prune", "--keep", "0")
	assert.Equal(t, ExitUsageError, code)
}

func TestDoctor(t *testing.T) {
	isolate(t)
	t.Setenv("SCREENCAP_OLLAMA_URL", fakeOllama(t).URL)

	code, out, _ := execute(t, "doctor")
	assert.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "screencap Doctor")
	assert.Contains(t, out, "[OK] Config Valid:")
	assert.Contains(t, out, "synthetic source selected")
	assert.Contains(t, out, "ollama/llava:7b is reachable")
	assert.Contains(t, out, "5 passed")
}

func TestDoctor_FailuresSetExitCode(t *testing.T) {
	isolate(t)
	t.Setenv("SCREENCAP_PROVIDER", "openai")

	code, out, _ := execute(t, "--json", "doctor")
	assert.Equal(t, ExitGeneralError, code)
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Checks []struct {
				Name    string `json:"name"`
				Status  string `json:"status"`
				Message string `json:"message"`
			} `json:"checks"`
			Summary DoctorSummary `json:"summary"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Success)
	assert.False(t, resp.Data.Summary.Healthy)
	assert.Equal(t, 1, resp.Data.Summary.Failed)
	last := resp.Data.Checks[len(resp.Data.Checks)-1]
	assert.Equal(t, "Assistant", last.Name)
	assert.Equal(t, "Fail", last.Status)
	assert.Contains(t, last.Message, "openai_key")
}

func TestAsk_Streams(t *testing.T) {
	isolate(t)
	t.Setenv("SCREENCAP_OLLAMA_URL", fakeOllama(t, "a code ", "editor").URL)

	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{"--env-file", "", "ask", "--raw", "what", "is", "this?"}, &stdout, &stderr)
	assert.Equal(t, ExitSuccess, code, stderr.String())
	assert.Equal(t, "a code editor\n", stdout.String())
	assert.Contains(t, stderr.String(), "ollama/llava:7b")
	assert.Contains(t, stderr.String(), "no capture attached")
}

func TestAsk_JSON(t *testing.T) {
	isolate(t)
	t.Setenv("SCREENCAP_OLLAMA_URL", fakeOllama(t, "a terminal").URL)

	code, out, _ := execute(t, "--json", "ask", "--text-only", "what is open?")
	require.Equal(t, ExitSuccess, code)
	var resp struct {
		Success bool          `json:"success"`
		Data    assist.Answer `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "a terminal", resp.Data.Text)
	assert.Equal(t, "ollama", resp.Data.Provider)
	assert.Equal(t, 1, resp.Data.Attempts)
}

func TestAsk_RequiresQuestion(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer
	root := []string{"--env-file", "", "ask"}
	cmd := NewRootCommand()
	cmd.SetArgs(root)
	cmd.SetIn(strings.NewReader("   "))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestReadPrompt(t *testing.T) {
	p, err := readPrompt(nil, []string{" what ", "is", "this "})
	require.NoError(t, err)
	assert.Equal(t, "what  is this", p)

	if !IsTTY() {
		p, err = readPrompt(strings.NewReader("from stdin\n"), nil)
		require.NoError(t, err)
		assert.Equal(t, "from stdin", p)
	}
}

func TestUnknownCommand(t *testing.T) {
	isolate(t)
	code, _, errOut := execute(t, "bogus")
	assert.Equal(t, ExitGeneralError, code)
	assert.Contains(t, errOut, "[ERROR]")
}

// scriptedInput replays lines, then reports EOF.
type scriptedInput struct {
	lines []string
	err   error
}

func (s *scriptedInput) ReadInput(string) (string, error) {
	if len(s.lines) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

type echoProvider struct {
	requests []assist.Request
	fail     error
}

func (p *echoProvider) Name() string  { return "echo" }
func (p *echoProvider) Model() string { return "test" }
func (p *echoProvider) Complete(ctx context.Context, req assist.Request) (string, error) {
	return p.Stream(ctx, req, nil)
}
func (p *echoProvider) Stream(_ context.Context, req assist.Request, onDelta func(string)) (string, error) {
	p.requests = append(p.requests, req)
	if p.fail != nil {
		return "", p.fail
	}
	answer := "re: " + req.Prompt
	if onDelta != nil {
		onDelta(answer)
	}
	return answer, nil
}
func (p *echoProvider) Transient(error) bool         { return false }
func (p *echoProvider) Ping(context.Context) error { return nil }

func newChatSession(p assist.Provider) (*chatSession, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &chatSession{
		assistant: assist.New(p, nil, nil, assist.Options{}, zerolog.Nop()),
		out:       &out,
		errOut:    &errOut,
	}, &out, &errOut
}

func TestChatSession_HistoryAndCommands(t *testing.T) {
	p := &echoProvider{}
	s, out, errOut := newChatSession(p)

	in := &scriptedInput{lines: []string{"hello", "", "/text", "second", "/status", "/bogus", "/clear", "third", "/quit", "never"}}
	require.NoError(t, s.run(context.Background(), in))

	require.Len(t, p.requests, 3)
	assert.Empty(t, p.requests[0].History)
	assert.Equal(t, []assist.Turn{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "re: hello"},
	}, p.requests[1].History)
	assert.Empty(t, p.requests[2].History, "/clear drops history")
	assert.True(t, s.textOnly)

	assert.Contains(t, out.String(), "re: second")
	assert.Contains(t, out.String(), "echo/test")
	assert.Contains(t, errOut.String(), "unknown command /bogus")
	assert.Equal(t, []string{"never"}, in.lines)
}

func TestChatSession_ErrorsDoNotEndChat(t *testing.T) {
	p := &echoProvider{fail: errors.New("model offline")}
	s, _, errOut := newChatSession(p)

	require.NoError(t, s.run(context.Background(), &scriptedInput{lines: []string{"one", "two"}}))
	assert.Len(t, p.requests, 2)
	assert.Equal(t, 2, strings.Count(errOut.String(), "model offline"))
	assert.Empty(t, s.history)
}

func TestChatSession_AbortEnds(t *testing.T) {
	s, _, _ := newChatSession(&echoProvider{})
	assert.NoError(t, s.run(context.Background(), &scriptedInput{err: liner.ErrPromptAborted}))

	boom := errors.New("tty gone")
	assert.ErrorIs(t, s.run(context.Background(), &scriptedInput{err: boom}), boom)
}

func TestChatSession_TrimsHistory(t *testing.T) {
	s, _, _ := newChatSession(&echoProvider{})
	lines := make([]string, maxChatTurns)
	for i := range lines {
		lines[i] = fmt.Sprintf("q%d", i)
	}
	require.NoError(t, s.run(context.Background(), &scriptedInput{lines: lines}))
	assert.Len(t, s.history, maxChatTurns)
	assert.Equal(t, "re: q"+fmt.Sprint(maxChatTurns-1), s.history[len(s.history)-1].Content)
}

func TestRunAgent_CapturesWithSyntheticSource(t *testing.T) {
	isolate(t)
	a, err := newApp(&globalOptions{}, appOptions{quiet: true})
	require.NoError(t, err)
	defer a.Close()
	a.cfg.Capture.IntervalSecs = 1

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err = a.runAgent(ctx, agentOptions{
		start: true,
		ui: func(ctx context.Context) error {
			assert.Eventually(t, func() bool {
				return a.pipe.Snapshot().SuccessCount >= 1
			}, 15*time.Second, 50*time.Millisecond)
			return nil
		},
	})
	require.NoError(t, err)

	n, err := a.clog.Count(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	assert.False(t, a.pipe.Snapshot().Status.HasHandle(), "agent stops capture on exit")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("x"), ExitGeneralError},
		{"usage", usageErrorf("bad"), ExitUsageError},
		{"config", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "capture.format", Message: "bad"}}), ExitConfigError},
		{"no key", fmt.Errorf("openai: %w", assist.ErrNoAPIKey), ExitConfigError},
		{"denied", media.NewPermissionError(media.ErrKindDenied, "no", nil), ExitPermissionError},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, ExitNetworkError},
		{"cancelled", context.Canceled, ExitInterrupted},
		{"timeout", fmt.Errorf("ask: %w", context.DeadlineExceeded), ExitTimeoutError},
		{"ollama down", fmt.Errorf("ollama: %w", ollama.ErrNotRunning), ExitNetworkError},
		{"ollama timeout", fmt.Errorf("ollama: %w", ollama.ErrTimeout), ExitTimeoutError},
		{"model missing", fmt.Errorf("ollama: %w", ollama.ErrModelNotFound), ExitConfigError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("SCREENCAP_MODEL", "")
	// godotenv never overrides a variable that is present, even if empty.
	require.NoError(t, os.Unsetenv("SCREENCAP_MODEL"))
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SCREENCAP_MODEL=llava:13b\n"), 0600))

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "llava:13b", os.Getenv("SCREENCAP_MODEL"))
	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	assert.NoError(t, loadEnvFile(""))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "2.0 KiB", formatBytes(2048))
	assert.Equal(t, "1.5 MiB", formatBytes(3<<19))
}
