// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/screencap/internal/assist"
	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/config"
	"github.com/jeranaias/screencap/internal/diagnostics"
	"github.com/jeranaias/screencap/internal/frame"
	"github.com/jeranaias/screencap/internal/logging"
	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/objstore"
	"github.com/jeranaias/screencap/internal/pipeline"
	"github.com/jeranaias/screencap/internal/server"
	"github.com/jeranaias/screencap/internal/upload"
)

// app holds the components a command needs. Each open* method is
// idempotent and builds only what it depends on, so cheap commands like
// "captures" never touch the capture platform.
type app struct {
	opts    *globalOptions
	cfgPath string
	cfg     *config.Config
	cfgs    *config.Store

	logger *logging.Logger
	log    zerolog.Logger

	store     objstore.Store
	clog      capturelog.Log
	uploader  *upload.Uploader
	extractor *frame.Extractor
	platform  media.Platform
	pipe      *pipeline.Pipeline
	diag      *diagnostics.Collector
	assistant *assist.Assistant
}

// appOptions tweak how newApp sets up logging.
type appOptions struct {
	// quiet keeps log lines out of the terminal; they still reach the ring.
	quiet  bool
	stderr io.Writer
}

// loadConfig resolves the config file the same way for every command:
// --config wins, then ~/.screencap/config.toml (or .json), then defaults.
func loadConfig(opts *globalOptions) (*config.Config, string, error) {
	if opts.configPath != "" {
		cfg, err := config.LoadFromPath(opts.configPath)
		if err != nil {
			return nil, "", err
		}
		return cfg, opts.configPath, nil
	}
	path, err := config.ConfigPathTOML()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load()
	if cfg == nil {
		return nil, "", err
	}
	// A broken file falls back to defaults; surface it rather than fail.
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v (using defaults)\n", WarningStyle.Render("[WARN]"), err)
	}
	return cfg, path, nil
}

func newApp(opts *globalOptions, ao appOptions) (*app, error) {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		BufferLines: cfg.Logging.BufferLines,
		File:        cfg.Logging.File,
		Output:      ao.stderr,
		Quiet:       ao.quiet,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		opts:    opts,
		cfgPath: path,
		cfg:     cfg,
		cfgs:    config.NewStore(cfg),
		logger:  logger,
		log:     logger.Logger,
	}, nil
}

// openStorage opens the object store and the capture log.
func (a *app) openStorage(ctx context.Context) error {
	if a.store == nil {
		store, err := objstore.New(ctx, a.cfg.Storage, a.logger.Component("objstore"))
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = store
	}
	if a.clog == nil {
		clog, err := capturelog.Open(ctx, a.cfg.Log)
		if err != nil {
			return fmt.Errorf("open capture log: %w", err)
		}
		a.clog = clog
	}
	return nil
}

func (a *app) openUploader(ctx context.Context) error {
	if a.uploader != nil {
		return nil
	}
	if err := a.openStorage(ctx); err != nil {
		return err
	}
	a.uploader = upload.New(a.store, a.clog, uploaderOptions(a.cfg), a.log)
	return nil
}

func uploaderOptions(cfg *config.Config) upload.Options {
	return upload.Options{
		Timeout:   cfg.Upload.Timeout(),
		URLTTL:    cfg.Storage.URLTTL(),
		Retention: cfg.Log.Retention,
	}
}

func extractorOptions(cfg *config.Config) frame.Options {
	return frame.Options{
		Format:      cfg.Capture.Format,
		JPEGQuality: cfg.Capture.JPEGQuality,
		Timeout:     cfg.Capture.ExtractTimeout(),
	}
}

// applySession hands a new session's settings to the extractor and the
// uploader. Storage backends and the capture log are fixed for the process.
func (a *app) applySession(cfg *config.Config) {
	a.extractor.SetOptions(extractorOptions(cfg))
	a.uploader.SetOptions(uploaderOptions(cfg))
}

func (a *app) openPlatform() error {
	if a.platform != nil {
		return nil
	}
	platform, err := media.NewPlatform(a.cfg.Capture, a.logger.Component("media"))
	if err != nil {
		return err
	}
	a.platform = platform
	return nil
}

// openPipeline wires the full capture chain plus the diagnostics collector.
func (a *app) openPipeline(ctx context.Context) error {
	if a.pipe != nil {
		return nil
	}
	if err := a.openUploader(ctx); err != nil {
		return err
	}
	if err := a.openPlatform(); err != nil {
		return err
	}
	broker := media.NewBroker(a.platform, a.log)
	a.extractor = frame.NewExtractor(extractorOptions(a.cfg), a.log)

	a.pipe = pipeline.New(pipeline.Deps{
		Broker:    broker,
		Extractor: a.extractor,
		Uploader:  a.uploader,
		Config:    a.cfgs,
		OnSession: a.applySession,
		Log:       a.log,
	})
	a.diag = diagnostics.New(a.pipe, a.logger.Ring, Version)
	return nil
}

// openAssistant builds the model provider. Storage is optional: without it
// prompts go out text-only.
func (a *app) openAssistant(ctx context.Context) error {
	if a.assistant != nil {
		return nil
	}
	if err := a.openStorage(ctx); err != nil {
		a.log.Warn().Err(err).Msg("captures unavailable to the assistant")
	}
	provider, err := assist.NewProvider(a.cfg.Assist, diagnostics.UserAgent(Version), a.logger.Component("assist"))
	if err != nil {
		return err
	}
	a.assistant = assist.New(provider, a.clog, a.store, assist.OptionsFrom(a.cfg.Assist), a.log)
	return nil
}

// agentOptions describe what runs alongside the pipeline.
type agentOptions struct {
	api   bool
	start bool
	// ui, when set, owns the foreground; the agent stops when it returns.
	ui func(ctx context.Context) error
}

// runAgent runs the pipeline with its housekeeping sweeper, config hot
// reload and, optionally, the API server and a foreground UI. It returns
// when ctx is cancelled or the UI exits.
func (a *app) runAgent(ctx context.Context, ao agentOptions) error {
	if err := a.openPipeline(ctx); err != nil {
		return err
	}

	sweeper, err := upload.NewSweeper(a.uploader, a.cfg.Log.SweepSchedule, a.log)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if _, statErr := os.Stat(a.cfgPath); statErr == nil {
		watcher, err := config.NewWatcher(a.cfgPath, a.cfgs, a.log)
		if err != nil {
			a.log.Warn().Err(err).Msg("config hot reload disabled")
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	if ao.api {
		if err := a.openAssistant(ctx); err != nil {
			a.log.Warn().Err(err).Msg("assistant endpoints disabled")
		}
		srv := server.New(server.Deps{
			Config:    a.cfg.Server,
			Pipeline:  a.pipe,
			Diag:      a.diag,
			Captures:  a.clog,
			Store:     a.store,
			Assistant: a.assistant,
			Ring:      a.logger.Ring,
			Logger:    a.log,
			Version:   Version,
		})
		defer srv.Close()
		g.Go(func() error { return srv.Run(gctx) })
	}

	if ao.start {
		g.Go(func() error {
			status, err := a.pipe.Toggle(gctx)
			if err != nil {
				// The API or the UI can retry; a refusal is not fatal.
				a.log.Error().Err(err).Msg("could not start capture")
				return nil
			}
			a.log.Info().Str("status", string(status)).Msg("capture started")
			return nil
		})
	}

	if ao.ui != nil {
		g.Go(func() error {
			defer cancel()
			return ao.ui(gctx)
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	err = g.Wait()
	a.pipe.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases everything that was opened, newest first.
func (a *app) Close() error {
	var errs []error
	if a.pipe != nil {
		errs = append(errs, a.pipe.Close())
		a.pipe.Wait()
	}
	if a.uploader != nil {
		a.uploader.Wait()
	}
	if a.clog != nil {
		errs = append(errs, a.clog.Close())
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

