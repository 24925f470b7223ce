// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// =============================================================================
// STORE
// =============================================================================

// Store holds the current configuration. Readers take a snapshot with Current;
// a capture session keeps its snapshot for its whole lifetime.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore returns a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Current returns a copy of the current configuration.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Set replaces the current configuration.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// =============================================================================
// FILE WATCHER
// =============================================================================

// Watcher reloads a config file into a Store whenever it changes on disk.
// Invalid files are logged and ignored; the store keeps the last good config.
type Watcher struct {
	path     string
	store    *Store
	log      zerolog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu       sync.Mutex
	onChange []func(*Config)
}

// NewWatcher creates a watcher for path. The parent directory is watched so
// editors that replace the file by rename are still seen.
func NewWatcher(path string, store *Store, log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     filepath.Clean(path),
		store:    store,
		log:      log.With().Str("component", "config").Logger(),
		debounce: 250 * time.Millisecond,
		watcher:  fw,
	}, nil
}

// OnChange registers fn to run after each successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("config reload rejected")
		return
	}
	w.store.Set(cfg)
	w.log.Info().Str("path", w.path).Msg("config reloaded; applies to the next capture session")

	w.mu.Lock()
	fns := append([]func(*Config){}, w.onChange...)
	w.mu.Unlock()
	for _, fn := range fns {
		fn(cfg)
	}
}
