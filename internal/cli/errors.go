// Package cli provides shared configuration and utilities for the veil CLI.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/pthm/veil"
)

// Exit codes.
const (
	ExitSuccess       = 0
	ExitGeneral       = 1
	ExitConfig        = 2
	ExitLabelRejected = 3
	ExitDBConnect     = 4
	ExitRewrite       = 5
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit code for err. Engine errors that were not
// wrapped in an ExitError map to the code of their class.
func ExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	case veil.IsConfigurationErr(err):
		return ExitConfig
	case veil.IsLabelRejectedErr(err):
		return ExitLabelRejected
	case veil.IsRewriteFailureErr(err):
		return ExitRewrite
	default:
		return ExitGeneral
	}
}

// ExitWithError prints the error and exits with the appropriate code.
func ExitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(ExitCode(err))
}

// ConfigError creates an ExitError with ExitConfig code.
func ConfigError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Err: err}
}

// LabelRejectedError creates an ExitError with ExitLabelRejected code.
func LabelRejectedError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitLabelRejected, Message: msg, Err: err}
}

// DBConnectError creates an ExitError with ExitDBConnect code.
func DBConnectError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitDBConnect, Message: msg, Err: err}
}

// GeneralError creates an ExitError with ExitGeneral code.
func GeneralError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitGeneral, Message: msg, Err: err}
}
