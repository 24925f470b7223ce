// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper runs retention housekeeping on a cron schedule, catching captures
// left behind when a post-upload pass failed.
type Sweeper struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewSweeper schedules u.EnforceRetention. schedule accepts cron specs and
// descriptors such as "@every 10m".
func NewSweeper(u *Uploader, schedule string, log zerolog.Logger) (*Sweeper, error) {
	log = log.With().Str("component", "sweeper").Logger()
	c := cron.New(cron.WithLogger(cronLogger{log: log}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: log})))

	_, err := c.AddFunc(schedule, func() {
		n, err := u.EnforceRetention(context.Background())
		if err != nil {
			log.Warn().Err(err).Msg("retention sweep failed")
			return
		}
		if n > 0 {
			log.Info().Int("removed", n).Msg("retention sweep removed captures")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return &Sweeper{cron: c, log: log}, nil
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and returns a context done when a running sweep ends.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

var _ cron.Logger = cronLogger{}
