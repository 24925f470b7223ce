// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package upload persists capture artifacts to object storage, records them
// in the capture log, and keeps only the most recent ones.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/frame"
	"github.com/jeranaias/screencap/internal/objstore"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultURLTTL    = time.Hour
	DefaultRetention = 3
	housekeepTimeout = time.Minute
)

// UploadError reports a failed upload. Retryable failures may succeed if
// the same artifact is uploaded again.
type UploadError struct {
	Op        string
	Retryable bool
	Cause     error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed: %v", e.Op, e.Cause)
}

func (e *UploadError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is an UploadError worth retrying.
func IsRetryable(err error) bool {
	var ue *UploadError
	return errors.As(err, &ue) && ue.Retryable
}

// Options configures an Uploader.
type Options struct {
	// Timeout bounds one Upload call end to end.
	Timeout time.Duration
	// URLTTL is the lifetime of the retrieval URL recorded in the log.
	URLTTL time.Duration
	// Retention is how many of the newest captures housekeeping keeps.
	Retention int
}

// Uploader stores artifacts and maintains the capture log.
type Uploader struct {
	store objstore.Store
	clog  capturelog.Log
	opts  atomic.Pointer[Options]
	log   zerolog.Logger
	now   func() time.Time

	housekeepMu sync.Mutex
	pending     sync.WaitGroup
}

// New creates an uploader.
func New(store objstore.Store, clog capturelog.Log, opts Options, log zerolog.Logger) *Uploader {
	u := &Uploader{
		store: store,
		clog:  clog,
		log:   log.With().Str("component", "upload").Logger(),
		now:   time.Now,
	}
	u.SetOptions(opts)
	return u
}

// SetOptions replaces the options used by later uploads and housekeeping.
func (u *Uploader) SetOptions(opts Options) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.URLTTL <= 0 {
		opts.URLTTL = DefaultURLTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	u.opts.Store(&opts)
}

// Options returns the current options.
func (u *Uploader) Options() Options {
	return *u.opts.Load()
}

// NewName returns a collision-resistant object name for a capture taken at t.
func NewName(t time.Time, ext string) string {
	return fmt.Sprintf("capture-%s-%s.%s", t.UTC().Format("20060102T150405Z"), xid.New().String(), strings.TrimPrefix(ext, "."))
}

// Upload stores art, records its retrieval URL, and schedules retention
// housekeeping. It does not retry; callers decide whether to.
func (u *Uploader) Upload(ctx context.Context, art *frame.Artifact) (capturelog.Record, error) {
	if art == nil || len(art.Data) == 0 {
		return capturelog.Record{}, &UploadError{Op: "validate", Cause: errors.New("empty artifact")}
	}

	opts := u.Options()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	createdAt := art.CapturedAt
	if createdAt.IsZero() {
		createdAt = u.now()
	}
	name := NewName(createdAt, art.Ext())

	if err := u.store.Put(ctx, name, art.Data, art.ContentType); err != nil {
		return capturelog.Record{}, u.fail(ctx, "put", err)
	}

	url, err := u.store.SignedURL(ctx, name, opts.URLTTL)
	if err != nil {
		u.removeOrphan(name)
		return capturelog.Record{}, u.fail(ctx, "sign", err)
	}

	rec, err := u.clog.Append(ctx, capturelog.Record{
		Name:        name,
		URL:         url,
		ContentType: art.ContentType,
		Size:        len(art.Data),
		Width:       art.Width,
		Height:      art.Height,
		CreatedAt:   createdAt,
	})
	if err != nil {
		u.removeOrphan(name)
		return capturelog.Record{}, u.fail(ctx, "record", err)
	}

	u.log.Info().Str("name", name).Int("bytes", len(art.Data)).Msg("capture uploaded")
	u.scheduleHousekeeping()
	return rec, nil
}

func (u *Uploader) fail(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return &UploadError{
		Op:        op,
		Retryable: !errors.Is(err, objstore.ErrInvalidName) && !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}

// removeOrphan deletes an object whose log entry could not be written.
func (u *Uploader) removeOrphan(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := u.store.Delete(ctx, name); err != nil {
		u.log.Warn().Err(err).Str("name", name).Msg("could not remove orphaned object")
	}
}

func (u *Uploader) scheduleHousekeeping() {
	u.pending.Add(1)
	go func() {
		defer u.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), housekeepTimeout)
		defer cancel()
		if _, err := u.EnforceRetention(ctx); err != nil {
			u.log.Warn().Err(err).Msg("retention housekeeping failed")
		}
	}()
}

// Wait blocks until scheduled housekeeping has finished.
func (u *Uploader) Wait() {
	u.pending.Wait()
}

// EnforceRetention deletes captures beyond the newest Retention entries,
// object first, then log row. Runs are serialized. It returns how many
// captures were removed.
func (u *Uploader) EnforceRetention(ctx context.Context) (int, error) {
	u.housekeepMu.Lock()
	defer u.housekeepMu.Unlock()

	keep := u.Options().Retention
	recs, err := u.clog.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	if len(recs) <= keep {
		return 0, nil
	}

	var ids []int64
	var errs []error
	for _, r := range recs[keep:] {
		if err := u.store.Delete(ctx, r.Name); err != nil && !errors.Is(err, objstore.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete object %s: %w", r.Name, err))
			continue
		}
		ids = append(ids, r.ID)
	}
	if err := u.clog.Delete(ctx, ids); err != nil {
		errs = append(errs, err)
		return 0, errors.Join(errs...)
	}
	if len(ids) > 0 {
		u.log.Debug().Int("removed", len(ids)).Int("kept", keep).Msg("old captures removed")
	}
	return len(ids), errors.Join(errs...)
}

// Retention returns how many captures are kept.
func (u *Uploader) Retention() int {
	return u.Options().Retention
}
