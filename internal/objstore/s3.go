// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package objstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"
)

const (
	s3Service       = "s3"
	unsignedPayload = "UNSIGNED-PAYLOAD"
	maxPresignTTL   = 7 * 24 * time.Hour
)

// S3Options configures an S3 store.
type S3Options struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint for S3-compatible services.
	Endpoint string
	Prefix   string
	// PathStyle addresses objects as endpoint/bucket/key.
	PathStyle bool
	// Credentials defaults to the AWS default credential chain.
	Credentials aws.CredentialsProvider
	HTTPClient  *http.Client
	Log         zerolog.Logger
	Now         func() time.Time
}

// S3 talks to an S3-compatible bucket with SigV4-signed REST calls.
type S3 struct {
	bucket    string
	region    string
	endpoint  *url.URL
	prefix    string
	pathStyle bool
	creds     aws.CredentialsProvider
	signer    *v4.Signer
	client    *http.Client
	log       zerolog.Logger
	now       func() time.Time
}

// NewS3 creates an S3 store. Credentials come from opts or the default chain.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	creds := opts.Credentials
	if creds == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		creds = awsCfg.Credentials
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", opts.Region)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid s3 endpoint %q", endpoint)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &S3{
		bucket:    opts.Bucket,
		region:    opts.Region,
		endpoint:  u,
		prefix:    strings.Trim(opts.Prefix, "/"),
		pathStyle: opts.PathStyle,
		creds:     creds,
		signer:    v4.NewSigner(),
		client:    client,
		log:       opts.Log.With().Str("component", "s3").Logger(),
		now:       now,
	}, nil
}

// Name implements Store.
func (s *S3) Name() string { return "s3" }

func (s *S3) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3) objectURL(name string) *url.URL {
	u := *s.endpoint
	if s.pathStyle {
		u.Path = "/" + s.bucket + "/" + s.key(name)
	} else {
		u.Host = s.bucket + "." + u.Host
		u.Path = "/" + s.key(name)
	}
	return &u
}

func (s *S3) do(ctx context.Context, method, name string, body []byte, contentType string) (*http.Response, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve aws credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.objectURL(name).String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	req.ContentLength = int64(len(body))

	if err := s.signer.SignHTTP(ctx, creds, req, payloadHash, s3Service, s.region, s.now()); err != nil {
		return nil, fmt.Errorf("sign s3 request: %w", err)
	}
	return s.client.Do(req)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("s3 %s: HTTP %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
}

// Put implements Store.
func (s *S3) Put(ctx context.Context, name string, data []byte, contentType string) error {
	resp, err := s.do(ctx, http.MethodPut, name, data, contentType)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode/100 != 2 {
		return statusError("put", resp)
	}
	s.log.Debug().Str("key", s.key(name)).Int("bytes", len(data)).Msg("object stored")
	return nil
}

// Get implements Store.
func (s *S3) Get(ctx context.Context, name string) ([]byte, string, error) {
	resp, err := s.do(ctx, http.MethodGet, name, nil, "")
	if err != nil {
		return nil, "", err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if resp.StatusCode/100 != 2 {
		return nil, "", statusError("get", resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Delete implements Store. S3 treats missing keys as deleted.
func (s *S3) Delete(ctx context.Context, name string) error {
	resp, err := s.do(ctx, http.MethodDelete, name, nil, "")
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return statusError("delete", resp)
	}
	return nil
}

// SignedURL implements Store with a SigV4 presigned GET.
func (s *S3) SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if ttl <= 0 || ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}
	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve aws credentials: %w", err)
	}

	u := s.objectURL(name)
	q := u.Query()
	q.Set("X-Amz-Expires", strconv.Itoa(int(ttl.Seconds())))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	signed, _, err := s.signer.PresignHTTP(ctx, creds, req, unsignedPayload, s3Service, s.region, s.now())
	if err != nil {
		return "", fmt.Errorf("presign s3 url: %w", err)
	}
	return signed, nil
}
