// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package objstore stores capture artifacts and issues time-limited
// retrieval URLs for them.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/screencap/internal/config"
)

// Sentinel errors.
var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidName = errors.New("invalid object name")
)

// Store is an object storage backend.
type Store interface {
	// Name identifies the backend ("local", "s3").
	Name() string
	Put(ctx context.Context, name string, data []byte, contentType string) error
	// Get returns the object bytes and content type.
	Get(ctx context.Context, name string) ([]byte, string, error)
	// SignedURL returns a URL that retrieves name until ttl elapses.
	SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, name string) error
}

// ValidateName rejects names that could escape a directory or bucket prefix.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocal(LocalOptions{
			Dir:        cfg.LocalDir,
			PublicURL:  cfg.PublicURL,
			SigningKey: cfg.SigningKey,
		})
	case "s3":
		return NewS3(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			PathStyle: cfg.S3PathStyle,
			Log:       log,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
