// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package objstore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/screencap/internal/util"
)

// ArtifactPath is the HTTP path prefix the API server serves local objects under.
const ArtifactPath = "/artifacts/"

// Signature errors.
var (
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrURLExpired       = errors.New("signed URL expired")
)

// LocalOptions configures a Local store.
type LocalOptions struct {
	Dir string
	// PublicURL is the base URL of the API server that serves ArtifactPath.
	PublicURL string
	// SigningKey signs URLs; when empty a key is generated and kept in Dir.
	SigningKey string
	Now        func() time.Time
}

// Local stores objects as files and signs URLs with HMAC-SHA256.
type Local struct {
	dir     string
	baseURL string
	key     []byte
	now     func() time.Time
}

// NewLocal creates the directory if needed and loads or creates the signing key.
func NewLocal(opts LocalOptions) (*Local, error) {
	if opts.Dir == "" {
		return nil, errors.New("local store directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	key := []byte(opts.SigningKey)
	if len(key) == 0 {
		var err error
		if key, err = loadOrCreateKey(filepath.Join(opts.Dir, ".signing-key")); err != nil {
			return nil, err
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Local{
		dir:     opts.Dir,
		baseURL: strings.TrimRight(opts.PublicURL, "/"),
		key:     key,
		now:     now,
	}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return data, nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	key := []byte(hex.EncodeToString(raw))
	if err := util.AtomicWriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}
	return key, nil
}

// Name implements Store.
func (l *Local) Name() string { return "local" }

// Dir returns the storage directory.
func (l *Local) Dir() string { return l.dir }

func (l *Local) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, name), nil
}

// Put implements Store.
func (l *Local) Put(ctx context.Context, name string, data []byte, contentType string) error {
	p, err := l.path(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return util.AtomicWriteFile(p, data, 0600)
}

// Get implements Store. The content type is derived from the extension.
func (l *Local) Get(ctx context.Context, name string) ([]byte, string, error) {
	p, err := l.path(name)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, "", err
	}
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return data, ct, nil
}

// Delete implements Store. Deleting a missing object is not an error.
func (l *Local) Delete(ctx context.Context, name string) error {
	p, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SignedURL implements Store.
func (l *Local) SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	exp := l.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", l.sign(name, exp))
	return l.baseURL + ArtifactPath + url.PathEscape(name) + "?" + q.Encode(), nil
}

// Verify checks a signature produced by SignedURL.
func (l *Local) Verify(name, exp, sig string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	want := l.sign(name, expiry)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrSignatureInvalid
	}
	if l.now().Unix() > expiry {
		return ErrURLExpired
	}
	return nil
}

func (l *Local) sign(name string, exp int64) string {
	mac := hmac.New(sha256.New, l.key)
	mac.Write([]byte(name))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
