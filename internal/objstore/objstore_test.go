// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package objstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/screencap/internal/config"
)

func TestValidateName(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "../x", "a/b", `a\b`, "x..y"} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidName, bad)
	}
	assert.NoError(t, ValidateName("capture-20250101T000000Z-abc.png"))
}

func TestLocal_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(LocalOptions{Dir: t.TempDir(), PublicURL: "http://localhost:8787/"})
	require.NoError(t, err)

	require.NoError(t, l.Put(ctx, "a.png", []byte("png-bytes"), "image/png"))
	data, ct, err := l.Get(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "image/png", ct)

	require.NoError(t, l.Delete(ctx, "a.png"))
	require.NoError(t, l.Delete(ctx, "a.png"))
	_, _, err = l.Get(ctx, "a.png")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, l.Put(ctx, "../escape", nil, ""), ErrInvalidName)
}

func TestLocal_SignedURL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l, err := NewLocal(LocalOptions{
		Dir:        t.TempDir(),
		PublicURL:  "http://localhost:8787/",
		SigningKey: "k",
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)

	raw, err := l.SignedURL(context.Background(), "a.png", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "http://localhost:8787/artifacts/a.png?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	exp, sig := u.Query().Get("exp"), u.Query().Get("sig")

	assert.NoError(t, l.Verify("a.png", exp, sig))
	assert.ErrorIs(t, l.Verify("b.png", exp, sig), ErrSignatureInvalid)
	assert.ErrorIs(t, l.Verify("a.png", exp, "00"), ErrSignatureInvalid)
	assert.ErrorIs(t, l.Verify("a.png", "soon", sig), ErrSignatureInvalid)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, l.Verify("a.png", exp, sig), ErrURLExpired)
}

func TestLocal_GeneratedKeyPersists(t *testing.T) {
	dir := t.TempDir()
	a, err := NewLocal(LocalOptions{Dir: dir})
	require.NoError(t, err)
	b, err := NewLocal(LocalOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, a.key, b.key)

	_, err = os.Stat(filepath.Join(dir, ".signing-key"))
	assert.NoError(t, err)
}

// fakeS3 is an in-memory S3 that checks requests are SigV4 signed.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	paths   []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKID/") && r.URL.Query().Get("X-Amz-Signature") == "" {
		http.Error(w, "unsigned", http.StatusForbidden)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
	case http.MethodGet:
		data, ok := f.objects[r.URL.Path]
		if !ok {
			http.Error(w, "NoSuchKey", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", f.types[r.URL.Path])
		w.Write(data)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}
}

func newFakeS3(t *testing.T) (*S3, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3(context.Background(), S3Options{
		Bucket:    "captures",
		Region:    "eu-west-1",
		Endpoint:  srv.URL,
		Prefix:    "/team-a/",
		PathStyle: true,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}, nil
		}),
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)
	return s, fake
}

func TestS3_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, fake := newFakeS3(t)

	require.NoError(t, s.Put(ctx, "x.png", []byte("data"), "image/png"))
	data, ct, err := s.Get(ctx, "x.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
	assert.Equal(t, "image/png", ct)

	require.NoError(t, s.Delete(ctx, "x.png"))
	_, _, err = s.Get(ctx, "x.png")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Contains(t, fake.paths, "PUT /captures/team-a/x.png")
}

func TestS3_SignedURL(t *testing.T) {
	ctx := context.Background()
	s, _ := newFakeS3(t)
	require.NoError(t, s.Put(ctx, "y.png", []byte("img"), "image/png"))

	raw, err := s.SignedURL(ctx, "y.png", 10*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "/captures/team-a/y.png", u.Path)

	resp, err := http.Get(raw)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "img", string(body))
}

func TestS3_VirtualHostedURL(t *testing.T) {
	s, err := NewS3(context.Background(), S3Options{
		Bucket: "b",
		Region: "us-west-2",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}, nil
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://b.s3.us-west-2.amazonaws.com/k.png", s.objectURL("k.png").String())
}

func TestNew_SelectsBackend(t *testing.T) {
	cfg := config.Default().Storage
	cfg.LocalDir = t.TempDir()
	st, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "local", st.Name())

	cfg.Backend = "ftp"
	_, err = New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
