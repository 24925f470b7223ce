// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/screencap/internal/util"
)

// FFmpegPlatform captures the desktop with an ffmpeg screen-grab device and
// reads a PNG image stream from its stdout. The first decoded frame is the
// grant; an exit before it is a denial.
type FFmpegPlatform struct {
	Path    string
	Display string
	// GOOS selects the input device; defaults to runtime.GOOS.
	GOOS string
	Log  zerolog.Logger
}

// Name implements Platform.
func (p *FFmpegPlatform) Name() string { return "ffmpeg/" + p.device() }

func (p *FFmpegPlatform) goos() string {
	if p.GOOS != "" {
		return p.GOOS
	}
	return runtime.GOOS
}

func (p *FFmpegPlatform) device() string {
	switch p.goos() {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "gdigrab"
	default:
		return "x11grab"
	}
}

func (p *FFmpegPlatform) display() string {
	if p.Display != "" {
		return p.Display
	}
	switch p.goos() {
	case "darwin":
		return "1:none"
	case "windows":
		return "desktop"
	default:
		return ":0.0"
	}
}

// Args builds the ffmpeg argument list for c.
func (p *FFmpegPlatform) Args(c Constraints) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", p.device()}
	if !c.Basic && c.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.FrameRate))
	}
	args = append(args, "-i", p.display())
	if !c.Basic && c.MaxWidth > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale='min(%d,iw)':-2", c.MaxWidth))
	}
	return append(args, "-an", "-f", "image2pipe", "-c:v", "png", "pipe:1")
}

// CheckInstallation verifies the ffmpeg binary runs.
func (p *FFmpegPlatform) CheckInstallation(ctx context.Context) (string, error) {
	path, err := exec.LookPath(p.binary())
	if err != nil {
		return "", fmt.Errorf("ffmpeg is not installed or not in PATH: %w", err)
	}
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version failed: %w", err)
	}
	return strings.TrimSpace(util.FirstLine(string(out))), nil
}

func (p *FFmpegPlatform) binary() string {
	if p.Path != "" {
		return p.Path
	}
	return "ffmpeg"
}

// RequestDisplayMedia implements Platform.
func (p *FFmpegPlatform) RequestDisplayMedia(ctx context.Context, c Constraints) (Stream, error) {
	path, err := exec.LookPath(p.binary())
	if err != nil {
		return nil, NewPermissionError(ErrKindUnavailable, "ffmpeg not found", err)
	}
	if c.Audio {
		p.Log.Warn().Msg("ffmpeg image pipe carries no audio; capturing video only")
	}

	stderr := &tailBuffer{max: 4096}
	cmd := exec.Command(path, p.Args(c)...)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewPermissionError(ErrKindUnavailable, "ffmpeg stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, NewPermissionError(ErrKindUnavailable, "ffmpeg start", err)
	}
	p.Log.Debug().Strs("args", cmd.Args).Int("pid", cmd.Process.Pid).Msg("ffmpeg started")

	frames := NewFrameBuffer()
	var stopping sync.Once
	kill := func() {
		stopping.Do(func() {
			_ = cmd.Process.Kill()
		})
	}
	track := NewTrack(TrackVideo, "ffmpeg:"+p.device()+":"+p.display(), kill)

	granted := make(chan struct{})
	exited := make(chan error, 1)

	go func() {
		br := bufio.NewReaderSize(stdout, 1<<20)
		first := true
		var readErr error
		for {
			img, err := png.Decode(br)
			if err != nil {
				readErr = err
				break
			}
			frames.Publish(img)
			if first {
				first = false
				close(granted)
			}
		}
		waitErr := cmd.Wait()
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			readErr = nil
		}
		frames.Close(nil)
		if first {
			exited <- errors.Join(waitErr, readErr)
			return
		}
		p.Log.Info().Err(waitErr).Msg("ffmpeg exited; screen sharing ended")
		track.End()
	}()

	select {
	case <-granted:
		return NewLiveStream([]*Track{track}, frames), nil
	case err := <-exited:
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "ffmpeg exited before the first frame"
		}
		return nil, NewPermissionError(ErrKindDenied, msg, err)
	case <-ctx.Done():
		kill()
		return nil, NewPermissionError(ErrKindDenied, "request cancelled", ctx.Err())
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
