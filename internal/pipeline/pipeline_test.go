// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/config"
	"github.com/jeranaias/screencap/internal/frame"
	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/media/mediatest"
	"github.com/jeranaias/screencap/internal/upload"
)

// fakeUploader records calls and can fail, or block until released.
type fakeUploader struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	err       error
	gate      chan struct{}
	entered   chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, art *frame.Artifact) (capturelog.Record, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return capturelog.Record{}, ctx.Err()
		}
	}
	if n <= f.failFirst {
		return capturelog.Record{}, f.err
	}
	return capturelog.Record{
		ID:        int64(n),
		Name:      fmt.Sprintf("capture-%d.png", n),
		URL:       fmt.Sprintf("http://127.0.0.1:8787/artifacts/capture-%d.png", n),
		Width:     art.Width,
		Height:    art.Height,
		CreatedAt: art.CapturedAt,
	}, nil
}

func (f *fakeUploader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errTransient = &upload.UploadError{Op: "put", Retryable: true, Cause: errors.New("503 Service Unavailable")}

type fixture struct {
	p        *Pipeline
	platform *mediatest.Platform
	uploader *fakeUploader
	clock    *testingclock.FakeClock
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Capture.IntervalSecs = 2
	cfg.Upload.Retries = 1
	cfg.Upload.RetryBackoffMs = 0
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		platform: mediatest.NewPlatform(),
		uploader: &fakeUploader{},
		clock:    testingclock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	f.p = New(Deps{
		Broker:    media.NewBroker(f.platform, zerolog.Nop()),
		Extractor: frame.NewExtractor(frame.Options{Timeout: 2 * time.Second}, zerolog.Nop()),
		Uploader:  f.uploader,
		Config:    config.NewStore(cfg),
		Clock:     f.clock,
		Log:       zerolog.Nop(),
	})
	t.Cleanup(func() { _ = f.p.Close() })
	return f
}

func (f *fixture) activate(t *testing.T) {
	t.Helper()
	st, err := f.p.Toggle(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusActive, st)
}

func waitEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
			return Event{}
		}
	}
}

func TestNew_StartsIdle(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, StatusIdle, f.p.Status())
	assert.Equal(t, 0, f.p.Countdown())
	assert.Empty(t, f.p.LastCaptureURL())
	assert.Nil(t, f.p.Handle())

	st := f.p.Snapshot()
	assert.NotEmpty(t, st.SessionID)
	assert.Zero(t, st.CaptureCount)
}

func TestToggle_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.activate(t)
	assert.Equal(t, 2, f.p.Countdown())
	require.NotNil(t, f.p.Handle())
	assert.Equal(t, 1, f.platform.LiveTracks())
	assert.True(t, f.p.Snapshot().Ticking)

	st, err := f.p.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, st)
	assert.Equal(t, 1, f.platform.LiveTracks(), "pausing keeps the handle")
	assert.False(t, f.p.Snapshot().Ticking)

	st, err = f.p.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st)
	assert.Equal(t, 1, f.platform.Calls(), "resuming does not ask for permission again")

	f.p.Stop()
	assert.Equal(t, StatusIdle, f.p.Status())
	assert.Equal(t, 0, f.platform.LiveTracks())
	assert.Nil(t, f.p.Handle())

	f.p.Stop()
	assert.Equal(t, StatusIdle, f.p.Status())
}

func TestToggle_DeniedThenRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.platform.Deny = true

	st, err := f.p.Toggle(context.Background())
	require.Error(t, err)
	assert.True(t, media.IsDenied(err))
	assert.Equal(t, StatusError, st)
	assert.Equal(t, StatusError, f.p.Status())
	assert.NotEmpty(t, f.p.LastError())
	assert.Nil(t, f.p.Handle())

	f.platform.Deny = false
	f.activate(t)
	assert.Empty(t, f.p.LastError(), "activation clears the last error")
}

func TestToggle_ZeroTrackStreamIsError(t *testing.T) {
	f := newFixture(t, nil)
	f.platform.ZeroTracks = true

	st, err := f.p.Toggle(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusError, st)
	assert.Nil(t, f.p.Handle())
}

func TestToggle_WhilePermissionPending(t *testing.T) {
	f := newFixture(t, nil)
	gate := make(chan struct{})
	f.platform.Gate = gate
	entered := f.platform.Entered()

	done := make(chan error, 1)
	go func() {
		_, err := f.p.Toggle(context.Background())
		done <- err
	}()
	<-entered
	assert.Equal(t, StatusRequesting, f.p.Status())

	st, err := f.p.Toggle(context.Background())
	assert.ErrorIs(t, err, media.ErrAlreadyInProgress)
	assert.Equal(t, StatusRequesting, st)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, StatusActive, f.p.Status())
	assert.Equal(t, 1, f.platform.Calls())
}

func TestStop_DuringPermissionRequest(t *testing.T) {
	f := newFixture(t, nil)
	gate := make(chan struct{})
	f.platform.Gate = gate
	entered := f.platform.Entered()

	done := make(chan error, 1)
	go func() {
		_, err := f.p.Toggle(context.Background())
		done <- err
	}()
	<-entered
	f.p.Stop()
	close(gate)

	assert.ErrorIs(t, <-done, ErrStopped)
	assert.Equal(t, StatusIdle, f.p.Status())
	assert.Equal(t, 0, f.platform.LiveTracks(), "a grant after stop is released")
}

func TestStop_CancelsPendingRequestAndAllowsRestart(t *testing.T) {
	f := newFixture(t, nil)
	gate := make(chan struct{})
	defer close(gate)
	f.platform.Gate = gate
	entered := f.platform.Entered()

	done := make(chan error, 1)
	go func() {
		_, err := f.p.Toggle(context.Background())
		done <- err
	}()
	<-entered
	f.p.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not cancel the permission request")
	}
	assert.Equal(t, StatusIdle, f.p.Status())

	f.platform.Gate = nil
	f.activate(t)
	assert.Empty(t, f.p.LastError())
	assert.Equal(t, 2, f.platform.Calls())
}

func TestToggle_BrokerBusyKeepsStatus(t *testing.T) {
	f := newFixture(t, nil)
	gate := make(chan struct{})
	f.platform.Gate = gate
	entered := f.platform.Entered()

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan struct{})
	go func() {
		defer close(released)
		_, _ = f.p.broker.Request(ctx, media.Constraints{})
	}()
	<-entered

	st, err := f.p.Toggle(context.Background())
	assert.ErrorIs(t, err, media.ErrAlreadyInProgress)
	assert.Equal(t, StatusIdle, st)
	assert.Equal(t, StatusIdle, f.p.Status())
	assert.Empty(t, f.p.LastError())

	cancel()
	<-released
	close(gate)
}

func TestCountdownTriggersCapture(t *testing.T) {
	f := newFixture(t, nil)
	events, cancel := f.p.Subscribe(64)
	defer cancel()

	f.activate(t)
	assert.Equal(t, 2, waitEvent(t, events, EventCountdown).Countdown)

	f.clock.Step(time.Second)
	assert.Equal(t, 1, waitEvent(t, events, EventCountdown).Countdown)

	f.clock.Step(time.Second)
	e := waitEvent(t, events, EventCapture)
	assert.Contains(t, e.URL, "capture-1.png")

	f.p.Wait()
	st := f.p.Snapshot()
	assert.Equal(t, uint64(1), st.CaptureCount)
	assert.Equal(t, uint64(1), st.SuccessCount)
	assert.Equal(t, 64, st.LastWidth)
	assert.Equal(t, 48, st.LastHeight)
	assert.Equal(t, e.URL, f.p.LastCaptureURL())
	assert.Equal(t, StatusActive, f.p.Status())
}

func TestPausedSessionDoesNotCapture(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	_, err := f.p.Toggle(context.Background())
	require.NoError(t, err)

	f.clock.Step(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, f.uploader.Calls())

	_, err = f.p.CaptureNow(context.Background())
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestCaptureNow_UploadFailsTwice(t *testing.T) {
	f := newFixture(t, nil)
	f.uploader.failFirst = 2
	f.uploader.err = errTransient
	events, cancel := f.p.Subscribe(64)
	defer cancel()

	f.activate(t)
	_, err := f.p.CaptureNow(context.Background())
	require.Error(t, err)

	st := f.p.Snapshot()
	assert.Equal(t, uint64(1), st.CaptureCount)
	assert.Equal(t, uint64(1), st.FailureCount)
	assert.Equal(t, uint64(0), st.SuccessCount)
	assert.Equal(t, StatusActive, st.Status)
	assert.Contains(t, st.LastError, "Capture failed")
	assert.Equal(t, 2, f.uploader.Calls())

	notifications := 0
	for len(events) > 0 {
		if e := <-events; e.Kind == EventNotification {
			notifications++
		}
	}
	assert.Equal(t, 1, notifications)
}

func TestCaptureNow_RecoversOnRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.uploader.failFirst = 1
	f.uploader.err = errTransient

	f.activate(t)
	rec, err := f.p.CaptureNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.ID)

	st := f.p.Snapshot()
	assert.Equal(t, uint64(1), st.SuccessCount)
	assert.Equal(t, uint64(0), st.FailureCount)
}

func TestCaptureNow_NonRetryableNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.uploader.failFirst = 5
	f.uploader.err = &upload.UploadError{Op: "put", Cause: errors.New("invalid name")}

	f.activate(t)
	_, err := f.p.CaptureNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, f.uploader.Calls())
}

func TestCaptureNow_RetryWaitsForBackoff(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Upload.RetryBackoffMs = 2000 })
	f.uploader.failFirst = 1
	f.uploader.err = errTransient
	f.activate(t)
	// Only the backoff should be waiting on the clock.
	f.p.timer.Stop()
	require.Eventually(t, func() bool { return !f.clock.HasWaiters() }, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := f.p.CaptureNow(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return f.uploader.Calls() == 1 && f.clock.HasWaiters() }, time.Second, 5*time.Millisecond)
	f.clock.Step(1999 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("retried before backoff elapsed")
	case <-time.After(20 * time.Millisecond):
	}
	f.clock.Step(time.Millisecond)
	require.NoError(t, <-done)
	assert.Equal(t, 2, f.uploader.Calls())
}

func TestCaptureNow_StreamEnded(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	f.platform.Streams()[0].End()

	_, err := f.p.CaptureNow(context.Background())
	assert.ErrorIs(t, err, media.ErrStreamEnded)
	assert.Equal(t, MsgSharingEnded, f.p.LastError())
	assert.Equal(t, StatusActive, f.p.Status())
	assert.Equal(t, uint64(0), f.p.Snapshot().CaptureCount)
}

func TestResumeAfterStreamEnded(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	_, err := f.p.Toggle(context.Background())
	require.NoError(t, err)

	f.platform.Streams()[0].End()
	st, err := f.p.Toggle(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusError, st)
	assert.Equal(t, MsgSharingEnded, f.p.LastError())
	assert.Nil(t, f.p.Handle())
}

func TestOverlap_Skip(t *testing.T) {
	f := newFixture(t, nil)
	f.uploader.gate = make(chan struct{})
	f.uploader.entered = make(chan struct{}, 4)
	f.activate(t)

	done := make(chan error, 1)
	go func() {
		_, err := f.p.CaptureNow(context.Background())
		done <- err
	}()
	<-f.uploader.entered

	_, err := f.p.CaptureNow(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	require.NoError(t, f.p.onTick())
	assert.Equal(t, uint64(1), f.p.Snapshot().SkippedCount)

	close(f.uploader.gate)
	require.NoError(t, <-done)
	f.p.Wait()
	assert.Equal(t, 1, f.uploader.Calls())
}

func TestOverlap_Allow(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Capture.Overlap = "allow" })
	f.uploader.gate = make(chan struct{})
	f.uploader.entered = make(chan struct{}, 4)
	f.activate(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.p.CaptureNow(context.Background())
		}()
	}
	<-f.uploader.entered
	<-f.uploader.entered
	assert.Equal(t, 2, f.p.Snapshot().InFlight)

	close(f.uploader.gate)
	wg.Wait()
	st := f.p.Snapshot()
	assert.Equal(t, uint64(2), st.SuccessCount)
	assert.Equal(t, uint64(0), st.SkippedCount)
}

func TestStop_InFlightAttemptStillRecorded(t *testing.T) {
	f := newFixture(t, nil)
	f.uploader.gate = make(chan struct{})
	f.uploader.entered = make(chan struct{}, 1)
	f.activate(t)

	done := make(chan error, 1)
	go func() {
		_, err := f.p.CaptureNow(context.Background())
		done <- err
	}()
	<-f.uploader.entered

	f.p.Stop()
	assert.Equal(t, 0, f.platform.LiveTracks())
	close(f.uploader.gate)
	require.NoError(t, <-done)

	assert.Equal(t, uint64(1), f.p.Snapshot().SuccessCount)
	assert.Equal(t, StatusIdle, f.p.Status())
	assert.NotEmpty(t, f.p.LastCaptureURL())
}

func TestClose_DropsLateResults(t *testing.T) {
	f := newFixture(t, nil)
	f.uploader.gate = make(chan struct{})
	f.uploader.entered = make(chan struct{}, 1)
	f.activate(t)
	events, _ := f.p.Subscribe(8)

	done := make(chan error, 1)
	go func() {
		_, err := f.p.CaptureNow(context.Background())
		done <- err
	}()
	<-f.uploader.entered

	require.NoError(t, f.p.Close())
	close(f.uploader.gate)
	<-done

	assert.Equal(t, uint64(0), f.p.Snapshot().SuccessCount)
	assert.Empty(t, f.p.LastCaptureURL())

	for range events {
	}
	_, err := f.p.Toggle(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestToggleSequences_AlwaysValid(t *testing.T) {
	f := newFixture(t, nil)
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	var prev State
	for i := 0; i < 200; i++ {
		switch rng.Intn(6) {
		case 0:
			f.p.Stop()
		case 1:
			f.platform.Deny = !f.platform.Deny
		case 2:
			_, _ = f.p.CaptureNow(ctx)
		default:
			_, _ = f.p.Toggle(ctx)
		}

		st := f.p.Snapshot()
		require.True(t, st.Status.Valid(), "status %q", st.Status)
		if st.Status == StatusActive {
			require.NotNil(t, f.p.Handle(), "active without a handle")
			require.True(t, f.p.Handle().Active)
		}
		if !st.Status.HasHandle() {
			require.Nil(t, f.p.Handle())
		}
		require.GreaterOrEqual(t, st.CaptureCount, prev.CaptureCount)
		require.GreaterOrEqual(t, st.SuccessCount, prev.SuccessCount)
		require.GreaterOrEqual(t, st.FailureCount, prev.FailureCount)
		require.LessOrEqual(t, st.Countdown, st.Interval)
		prev = st
	}
	f.p.Stop()
	assert.Equal(t, 0, f.platform.LiveTracks())
}

func TestSubscribe_Cancel(t *testing.T) {
	f := newFixture(t, nil)
	events, cancel := f.p.Subscribe(4)
	f.activate(t)

	e := waitEvent(t, events, EventStatus)
	assert.Equal(t, StatusRequesting, e.Status)
	cancel()
	cancel()

	f.p.Stop()
	for range events {
	}
}

func TestSessionConfigIsSnapshot(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.IntervalSecs = 4
	store := config.NewStore(cfg)
	var sessions []int
	p := New(Deps{
		Broker:    media.NewBroker(mediatest.NewPlatform(), zerolog.Nop()),
		Extractor: frame.NewExtractor(frame.Options{}, zerolog.Nop()),
		Uploader:  &fakeUploader{},
		Config:    store,
		Clock:     testingclock.NewFakeClock(time.Now()),
		OnSession: func(c *config.Config) { sessions = append(sessions, c.Capture.IntervalSecs) },
		Log:       zerolog.Nop(),
	})
	defer p.Close()

	_, err := p.Toggle(context.Background())
	require.NoError(t, err)

	next := config.Default()
	next.Capture.IntervalSecs = 9
	store.Set(next)

	assert.Equal(t, 4, p.SessionConfig().Capture.IntervalSecs, "running session keeps its config")
	p.Stop()
	_, err = p.Toggle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, p.Snapshot().Interval)
	assert.Equal(t, "fake", p.PlatformName())
	assert.Equal(t, []int{4, 9}, sessions, "each session hands its config to collaborators")
}
