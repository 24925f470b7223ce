// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for screencap.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.screencap/config.toml
//   - ~/.screencap/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/screencap/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete screencap configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Capture acquisition and countdown
	Capture CaptureConfig `toml:"capture" json:"capture"`

	// Upload request bounds and retry policy
	Upload UploadConfig `toml:"upload" json:"upload"`

	// Object storage for capture artifacts
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Append-only capture log
	Log LogConfig `toml:"log" json:"log"`

	// Assistant (LLM) settings
	Assist AssistConfig `toml:"assist" json:"assist"`

	// HTTP API server
	Server ServerConfig `toml:"server" json:"server"`

	// Process logging
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// CaptureConfig controls how the screen is acquired and how often it is captured.
type CaptureConfig struct {
	// Source selects the platform: "ffmpeg" or "synthetic".
	Source string `toml:"source" json:"source"`
	// Display is the platform-specific input (":0.0", "1:none", "desktop").
	Display string `toml:"display" json:"display"`
	// FFmpegPath is the ffmpeg binary used by the "ffmpeg" source.
	FFmpegPath string `toml:"ffmpeg_path" json:"ffmpeg_path"`
	// Resolution is "low" (1280 wide max) or "high" (1920 wide max).
	Resolution string `toml:"resolution" json:"resolution"`
	FrameRate  int    `toml:"frame_rate" json:"frame_rate"`
	// IncludeAudio requests system audio alongside video when the platform supports it.
	IncludeAudio bool `toml:"include_audio" json:"include_audio"`
	// BasicMode drops resolution and frame rate constraints.
	BasicMode bool `toml:"basic_mode" json:"basic_mode"`

	IntervalSecs     int    `toml:"interval_secs" json:"interval_secs"`
	Format           string `toml:"format" json:"format"`
	JPEGQuality      int    `toml:"jpeg_quality" json:"jpeg_quality"`
	ExtractTimeoutMs int    `toml:"extract_timeout_ms" json:"extract_timeout_ms"`
	// Overlap is "skip" (default) or "allow".
	Overlap string `toml:"overlap" json:"overlap"`
}

// UploadConfig bounds each upload request.
type UploadConfig struct {
	TimeoutSecs    int `toml:"timeout_secs" json:"timeout_secs"`
	Retries        int `toml:"retries" json:"retries"`
	RetryBackoffMs int `toml:"retry_backoff_ms" json:"retry_backoff_ms"`
}

// StorageConfig selects the object store.
type StorageConfig struct {
	// Backend is "local" or "s3".
	Backend    string `toml:"backend" json:"backend"`
	LocalDir   string `toml:"local_dir" json:"local_dir"`
	PublicURL  string `toml:"public_url" json:"public_url"`
	SigningKey string `toml:"signing_key" json:"signing_key"`
	URLTTLSecs int    `toml:"url_ttl_secs" json:"url_ttl_secs"`

	S3Bucket    string `toml:"s3_bucket" json:"s3_bucket"`
	S3Region    string `toml:"s3_region" json:"s3_region"`
	S3Endpoint  string `toml:"s3_endpoint" json:"s3_endpoint"`
	S3Prefix    string `toml:"s3_prefix" json:"s3_prefix"`
	S3PathStyle bool   `toml:"s3_path_style" json:"s3_path_style"`
}

// LogConfig selects the capture log database.
type LogConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver" json:"driver"`
	DSN    string `toml:"dsn" json:"dsn"`
	// Retention is how many of the most recent captures are kept.
	Retention     int    `toml:"retention" json:"retention"`
	SweepSchedule string `toml:"sweep_schedule" json:"sweep_schedule"`
}

// AssistConfig configures the chat model the latest capture is sent to.
type AssistConfig struct {
	// Provider is "ollama" or "openai".
	Provider      string `toml:"provider" json:"provider"`
	OllamaURL     string `toml:"ollama_url" json:"ollama_url"`
	OllamaModel   string `toml:"ollama_model" json:"ollama_model"`
	OpenAIKey     string `toml:"openai_key" json:"openai_key"`
	OpenAIBaseURL string `toml:"openai_base_url" json:"openai_base_url"`
	OpenAIModel   string `toml:"openai_model" json:"openai_model"`
	SystemPrompt  string `toml:"system_prompt" json:"system_prompt"`
	TimeoutSecs   int    `toml:"timeout_secs" json:"timeout_secs"`
	MaxRetries    int    `toml:"max_retries" json:"max_retries"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string   `toml:"addr" json:"addr"`
	AuthToken      string   `toml:"auth_token" json:"auth_token"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	// Format is "console" or "json".
	Format      string `toml:"format" json:"format"`
	BufferLines int    `toml:"buffer_lines" json:"buffer_lines"`
	File        string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a configuration with sensible defaults.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".screencap"
	}
	return &Config{
		Version: "1",
		Capture: CaptureConfig{
			Source:           "ffmpeg",
			FFmpegPath:       "ffmpeg",
			Resolution:       "low",
			FrameRate:        2,
			IntervalSecs:     5,
			Format:           "png",
			JPEGQuality:      85,
			ExtractTimeoutMs: 5000,
			Overlap:          "skip",
		},
		Upload: UploadConfig{
			TimeoutSecs:    30,
			Retries:        1,
			RetryBackoffMs: 2000,
		},
		Storage: StorageConfig{
			Backend:    "local",
			LocalDir:   filepath.Join(dir, "captures"),
			PublicURL:  "http://127.0.0.1:8787",
			URLTTLSecs: 3600,
			S3Region:   "us-east-1",
		},
		Log: LogConfig{
			Driver:        "sqlite",
			DSN:           filepath.Join(dir, "captures.db"),
			Retention:     3,
			SweepSchedule: "@every 10m",
		},
		Assist: AssistConfig{
			Provider:     "ollama",
			OllamaURL:    "http://127.0.0.1:11434",
			OllamaModel:  "llava:7b",
			OpenAIModel:  "gpt-4o-mini",
			SystemPrompt: "You are a helpful assistant. The user may attach a screenshot of their screen; use it to answer.",
			TimeoutSecs:  120,
			MaxRetries:   2,
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8787",
			RateLimit: 10,
			RateBurst: 20,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "console",
			BufferLines: 200,
		},
	}
}

// Interval returns the capture interval as a duration.
func (c CaptureConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// ExtractTimeout returns the frame extraction deadline.
func (c CaptureConfig) ExtractTimeout() time.Duration {
	return time.Duration(c.ExtractTimeoutMs) * time.Millisecond
}

// Timeout returns the per-request upload deadline.
func (c UploadConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RetryBackoff returns the fixed delay before the upload retry.
func (c UploadConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// URLTTL returns the lifetime of signed retrieval URLs.
func (c StorageConfig) URLTTL() time.Duration {
	return time.Duration(c.URLTTLSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the screencap configuration directory path.
// SCREENCAP_HOME overrides the default ~/.screencap.
func ConfigDir() (string, error) {
	if dir := os.Getenv("SCREENCAP_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".screencap"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions tightens config files to 0600 since they can hold keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	var loadErr error

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			cfg, err := LoadFromPath(tomlPath)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			cfg, err := LoadFromPath(jsonPath)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Defaults are usable even when a file failed to parse; the caller decides.
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
// Values absent from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# screencap configuration file\n")
	b.WriteString("# Generated by screencap - edit with care\n")
	b.WriteString("#\n")
	b.WriteString("# Changes are picked up by the next capture session.\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func oneOf(errs *ValidateErrors, field, value string, allowed ...string) {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return
		}
	}
	*errs = append(*errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf("invalid value '%s', must be one of: %s", value, strings.Join(allowed, ", ")),
	})
}

func positive(errs *ValidateErrors, field string, value int) {
	if value <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("must be positive, got %d", value)})
	}
}

func validURL(errs *ValidateErrors, field, value string) {
	if value == "" {
		return
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid URL '%s'", value)})
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Capture
	oneOf(&errs, "capture.source", c.Capture.Source, "ffmpeg", "synthetic")
	oneOf(&errs, "capture.resolution", c.Capture.Resolution, "low", "high")
	oneOf(&errs, "capture.format", c.Capture.Format, "png", "jpeg")
	oneOf(&errs, "capture.overlap", c.Capture.Overlap, "skip", "allow")
	positive(&errs, "capture.interval_secs", c.Capture.IntervalSecs)
	positive(&errs, "capture.frame_rate", c.Capture.FrameRate)
	positive(&errs, "capture.extract_timeout_ms", c.Capture.ExtractTimeoutMs)
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		errs = append(errs, ValidationError{
			Field:   "capture.jpeg_quality",
			Message: fmt.Sprintf("must be between 1 and 100, got %d", c.Capture.JPEGQuality),
		})
	}

	// Upload
	positive(&errs, "upload.timeout_secs", c.Upload.TimeoutSecs)
	if c.Upload.Retries < 0 {
		errs = append(errs, ValidationError{Field: "upload.retries", Message: "cannot be negative"})
	}
	if c.Upload.RetryBackoffMs < 0 {
		errs = append(errs, ValidationError{Field: "upload.retry_backoff_ms", Message: "cannot be negative"})
	}

	// Storage
	oneOf(&errs, "storage.backend", c.Storage.Backend, "local", "s3")
	positive(&errs, "storage.url_ttl_secs", c.Storage.URLTTLSecs)
	validURL(&errs, "storage.public_url", c.Storage.PublicURL)
	validURL(&errs, "storage.s3_endpoint", c.Storage.S3Endpoint)
	if strings.EqualFold(c.Storage.Backend, "s3") && c.Storage.S3Bucket == "" {
		errs = append(errs, ValidationError{Field: "storage.s3_bucket", Message: "required when backend is s3"})
	}
	if strings.EqualFold(c.Storage.Backend, "local") && c.Storage.LocalDir == "" {
		errs = append(errs, ValidationError{Field: "storage.local_dir", Message: "required when backend is local"})
	}

	// Capture log
	oneOf(&errs, "log.driver", c.Log.Driver, "sqlite", "postgres")
	positive(&errs, "log.retention", c.Log.Retention)
	if c.Log.DSN == "" {
		errs = append(errs, ValidationError{Field: "log.dsn", Message: "required"})
	}

	// Assist
	oneOf(&errs, "assist.provider", c.Assist.Provider, "ollama", "openai")
	validURL(&errs, "assist.ollama_url", c.Assist.OllamaURL)
	validURL(&errs, "assist.openai_base_url", c.Assist.OpenAIBaseURL)
	positive(&errs, "assist.timeout_secs", c.Assist.TimeoutSecs)
	if c.Assist.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "assist.max_retries", Message: "cannot be negative"})
	}

	// Server
	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "cannot be negative"})
	}

	// Logging
	oneOf(&errs, "logging.level", c.Logging.Level, "trace", "debug", "info", "warn", "error")
	oneOf(&errs, "logging.format", c.Logging.Format, "console", "json")

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values that would otherwise fail validation and
// normalizes enum casing.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Capture.Source == "" {
		c.Capture.Source = d.Capture.Source
	}
	if c.Capture.FFmpegPath == "" {
		c.Capture.FFmpegPath = d.Capture.FFmpegPath
	}
	if c.Capture.Resolution == "" {
		c.Capture.Resolution = d.Capture.Resolution
	}
	if c.Capture.FrameRate == 0 {
		c.Capture.FrameRate = d.Capture.FrameRate
	}
	if c.Capture.IntervalSecs == 0 {
		c.Capture.IntervalSecs = d.Capture.IntervalSecs
	}
	if c.Capture.Format == "" {
		c.Capture.Format = d.Capture.Format
	}
	if c.Capture.JPEGQuality == 0 {
		c.Capture.JPEGQuality = d.Capture.JPEGQuality
	}
	if c.Capture.ExtractTimeoutMs == 0 {
		c.Capture.ExtractTimeoutMs = d.Capture.ExtractTimeoutMs
	}
	if c.Capture.Overlap == "" {
		c.Capture.Overlap = d.Capture.Overlap
	}
	if c.Upload.TimeoutSecs == 0 {
		c.Upload.TimeoutSecs = d.Upload.TimeoutSecs
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.URLTTLSecs == 0 {
		c.Storage.URLTTLSecs = d.Storage.URLTTLSecs
	}
	if c.Log.Driver == "" {
		c.Log.Driver = d.Log.Driver
	}
	if c.Log.Retention == 0 {
		c.Log.Retention = d.Log.Retention
	}
	if c.Assist.Provider == "" {
		c.Assist.Provider = d.Assist.Provider
	}
	if c.Assist.TimeoutSecs == 0 {
		c.Assist.TimeoutSecs = d.Assist.TimeoutSecs
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.BufferLines <= 0 {
		c.Logging.BufferLines = d.Logging.BufferLines
	}

	c.Capture.Source = strings.ToLower(c.Capture.Source)
	c.Capture.Resolution = strings.ToLower(c.Capture.Resolution)
	c.Capture.Format = strings.ToLower(c.Capture.Format)
	c.Capture.Overlap = strings.ToLower(c.Capture.Overlap)
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	c.Log.Driver = strings.ToLower(c.Log.Driver)
	c.Assist.Provider = strings.ToLower(c.Assist.Provider)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - SCREENCAP_SOURCE: overrides capture.source
//   - SCREENCAP_DISPLAY: overrides capture.display
//   - SCREENCAP_INTERVAL: overrides capture.interval_secs
//   - SCREENCAP_STORAGE: overrides storage.backend
//   - SCREENCAP_S3_BUCKET: overrides storage.s3_bucket
//   - SCREENCAP_SIGNING_KEY: overrides storage.signing_key
//   - SCREENCAP_LOG_DSN: overrides log.dsn (DATABASE_URL is honoured too)
//   - SCREENCAP_PROVIDER: overrides assist.provider
//   - SCREENCAP_OLLAMA_URL: overrides assist.ollama_url
//   - SCREENCAP_MODEL: overrides the active provider's model
//   - OPENAI_API_KEY / SCREENCAP_OPENAI_KEY: overrides assist.openai_key
//   - SCREENCAP_ADDR: overrides server.addr
//   - SCREENCAP_TOKEN: overrides server.auth_token
//   - SCREENCAP_LOG_LEVEL: overrides logging.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SCREENCAP_SOURCE"); v != "" {
		c.Capture.Source = v
	}
	if v := os.Getenv("SCREENCAP_DISPLAY"); v != "" {
		c.Capture.Display = v
	}
	if v := os.Getenv("SCREENCAP_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Capture.IntervalSecs = n
		}
	}
	if v := os.Getenv("SCREENCAP_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("SCREENCAP_S3_BUCKET"); v != "" {
		c.Storage.S3Bucket = v
	}
	if v := os.Getenv("SCREENCAP_SIGNING_KEY"); v != "" {
		c.Storage.SigningKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Log.Driver = "postgres"
		c.Log.DSN = v
	}
	if v := os.Getenv("SCREENCAP_LOG_DSN"); v != "" {
		c.Log.DSN = v
	}
	if v := os.Getenv("SCREENCAP_PROVIDER"); v != "" {
		c.Assist.Provider = v
	}
	if v := os.Getenv("SCREENCAP_OLLAMA_URL"); v != "" {
		c.Assist.OllamaURL = v
	}
	if v := os.Getenv("SCREENCAP_MODEL"); v != "" {
		if strings.EqualFold(c.Assist.Provider, "openai") {
			c.Assist.OpenAIModel = v
		} else {
			c.Assist.OllamaModel = v
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Assist.OpenAIKey = v
	}
	if v := os.Getenv("SCREENCAP_OPENAI_KEY"); v != "" {
		c.Assist.OpenAIKey = v
	}
	if v := os.Getenv("SCREENCAP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SCREENCAP_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("SCREENCAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "capture.interval_secs").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "capture.interval_secs").
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
// Acronyms (URL, DSN, S3) still match because lookups compare case-insensitively.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// Redacted returns a copy with secrets masked, suitable for display and diagnostics.
func (c *Config) Redacted() *Config {
	r := c.Clone()
	r.Storage.SigningKey = mask(r.Storage.SigningKey)
	r.Assist.OpenAIKey = mask(r.Assist.OpenAIKey)
	r.Server.AuthToken = mask(r.Server.AuthToken)
	r.Log.DSN = redactDSN(r.Log.DSN)
	return r
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// redactDSN strips the password from URL-shaped DSNs.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// String returns the configuration as TOML with secrets masked.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c.Redacted()); err != nil {
		return fmt.Sprintf("config encode error: %v", err)
	}
	return b.String()
}
