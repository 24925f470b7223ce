// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diagnostics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/screencap/internal/capturelog"
	"github.com/jeranaias/screencap/internal/config"
	"github.com/jeranaias/screencap/internal/objstore"
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates the check passed with warnings.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// String returns the string representation of the check status.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "Pass"
	case CheckWarn:
		return "Warn"
	case CheckFail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// MarshalText renders the status by name in JSON output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthCheck is a single health check result.
type HealthCheck struct {
	Name    string        `json:"name"`
	Status  CheckStatus   `json:"status"`
	Message string        `json:"message"`
	Fix     string        `json:"fix,omitempty"` // Suggested fix command or instruction
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Check produces one HealthCheck.
type Check struct {
	Name string
	Run  func(ctx context.Context) HealthCheck
}

// RunChecks runs checks concurrently, each bounded by timeout, and returns
// results in the order given.
func RunChecks(ctx context.Context, timeout time.Duration, checks ...Check) []HealthCheck {
	results := make([]HealthCheck, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			r := c.Run(cctx)
			r.Name = c.Name
			r.Elapsed = time.Since(start)
			results[i] = r
		}(i, c)
	}
	wg.Wait()
	return results
}

// Failed reports whether any result failed.
func Failed(results []HealthCheck) bool {
	for _, r := range results {
		if r.Status == CheckFail {
			return true
		}
	}
	return false
}

// =============================================================================
// CHECKS
// =============================================================================

// ConfigCheck validates cfg.
func ConfigCheck(cfg *config.Config) Check {
	return Check{Name: "Config Valid", Run: func(context.Context) HealthCheck {
		if err := cfg.Validate(); err != nil {
			return HealthCheck{Status: CheckFail, Message: err.Error(), Fix: "screencap config init --force"}
		}
		return HealthCheck{Status: CheckPass, Message: "Configuration is valid"}
	}}
}

// InstallCheck runs probe, which reports a platform's version or why it is unusable.
func InstallCheck(name string, probe func(ctx context.Context) (string, error), fix string) Check {
	return Check{Name: name, Run: func(ctx context.Context) HealthCheck {
		version, err := probe(ctx)
		if err != nil {
			return HealthCheck{Status: CheckFail, Message: err.Error(), Fix: fix}
		}
		return HealthCheck{Status: CheckPass, Message: version}
	}}
}

// StorageCheck writes, signs and deletes a probe object.
func StorageCheck(store objstore.Store) Check {
	return Check{Name: "Storage Writable", Run: func(ctx context.Context) HealthCheck {
		name := fmt.Sprintf("doctor-probe-%d.txt", time.Now().UnixNano())
		if err := store.Put(ctx, name, []byte("ok"), "text/plain"); err != nil {
			return HealthCheck{Status: CheckFail, Message: fmt.Sprintf("%s store: %v", store.Name(), err), Fix: "check [storage] settings and credentials"}
		}
		defer func() { _ = store.Delete(context.Background(), name) }()
		if _, err := store.SignedURL(ctx, name, time.Minute); err != nil {
			return HealthCheck{Status: CheckWarn, Message: fmt.Sprintf("%s store cannot sign URLs: %v", store.Name(), err)}
		}
		return HealthCheck{Status: CheckPass, Message: fmt.Sprintf("%s store is writable", store.Name())}
	}}
}

// LogCheck pings the capture log and reports its size.
func LogCheck(l capturelog.Log) Check {
	return Check{Name: "Capture Log", Run: func(ctx context.Context) HealthCheck {
		if err := l.Ping(ctx); err != nil {
			return HealthCheck{Status: CheckFail, Message: fmt.Sprintf("%s: %v", l.Driver(), err), Fix: "check [log] dsn"}
		}
		n, err := l.Count(ctx)
		if err != nil {
			return HealthCheck{Status: CheckWarn, Message: err.Error()}
		}
		return HealthCheck{Status: CheckPass, Message: fmt.Sprintf("%s log holds %d captures", l.Driver(), n)}
	}}
}

// ProbeCheck turns a reachability probe into a warning-level check.
func ProbeCheck(name string, probe func(ctx context.Context) error, ok, fix string) Check {
	return Check{Name: name, Run: func(ctx context.Context) HealthCheck {
		if err := probe(ctx); err != nil {
			return HealthCheck{Status: CheckWarn, Message: err.Error(), Fix: fix}
		}
		return HealthCheck{Status: CheckPass, Message: ok}
	}}
}
