// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jeranaias/screencap/internal/assist"
	"github.com/jeranaias/screencap/internal/config"
	"github.com/jeranaias/screencap/internal/media"
	"github.com/jeranaias/screencap/internal/ollama"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitPermissionError indicates screen capture permission was refused
	ExitPermissionError = 4
	ExitNetworkError    = 5
	ExitTimeoutError    = 8
	// ExitInterrupted follows the shell convention for SIGINT.
	ExitInterrupted = 130
)

// UsageError marks errors caused by bad arguments.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func usageErrorf(format string, args ...interface{}) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var cfgErrs config.ValidateErrors
	var cfgErr config.ValidationError
	var perm *media.PermissionError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, context.DeadlineExceeded), ollama.IsTimeout(err):
		return ExitTimeoutError
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &cfgErrs), errors.As(err, &cfgErr), errors.Is(err, assist.ErrNoAPIKey),
		ollama.IsModelNotFound(err):
		return ExitConfigError
	case errors.As(err, &perm):
		return ExitPermissionError
	case errors.As(err, &netErr), ollama.IsNotRunning(err):
		return ExitNetworkError
	}
	return ExitGeneralError
}

// DisplayError prints err in the standard format.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}
