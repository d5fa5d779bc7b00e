package fitter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// EngineError reports a nonzero engine exit. Output carries the combined
// stdout+stderr verbatim so the run log can preserve it; console surfaces
// truncate to the first line of Error().
type EngineError struct {
	Engine    string    // engine binary that ran
	Input     string    // spectrum path handed to it
	ExitCode  int       // process exit code
	Output    string    // combined stdout+stderr, verbatim
	Timestamp time.Time // when the engine exited
}

// NewEngineError creates a new EngineError with the current timestamp.
func NewEngineError(engine, input string, exitCode int, output string) *EngineError {
	return &EngineError{
		Engine:    engine,
		Input:     input,
		ExitCode:  exitCode,
		Output:    output,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for EngineError.
func (e *EngineError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s exited with code %d", filepath.Base(e.Engine), e.ExitCode))
	if out := strings.TrimSpace(e.Output); out != "" {
		sb.WriteString("\nengine output:\n")
		sb.WriteString(out)
	}
	return sb.String()
}

// TimeoutError reports an engine run that exceeded its wall-clock budget.
type TimeoutError struct {
	Input     string        // spectrum being fitted
	Timeout   time.Duration // budget that was exceeded
	Timestamp time.Time     // when the timeout fired
}

// NewTimeoutError creates a new TimeoutError with the current timestamp.
func NewTimeoutError(input string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{
		Input:     input,
		Timeout:   timeout,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fit %s: timeout after %v", filepath.Base(e.Input), e.Timeout)
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// ParseError reports engine output that held no decodable JSON document.
type ParseError struct {
	Input  string // spectrum being fitted
	Output string // combined stdout+stderr, verbatim
	Err    error  // underlying decode error
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("unusable engine output: %v", e.Err))
	if out := strings.TrimSpace(e.Output); out != "" {
		sb.WriteString("\nengine output:\n")
		sb.WriteString(out)
	}
	return sb.String()
}

// Unwrap returns the underlying decode error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsEngineError checks if the error is or wraps an EngineError.
func IsEngineError(err error) bool {
	if err == nil {
		return false
	}
	var ee *EngineError
	return errors.As(err, &ee)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or
// context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// IsParseError checks if the error is or wraps a ParseError.
func IsParseError(err error) bool {
	if err == nil {
		return false
	}
	var pe *ParseError
	return errors.As(err, &pe)
}
