package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is a fatal condition that aborts Coordinator.Run.
// Recoverable conditions (duplicates, unresolved completions, failed
// evaluations, oracle report failures) are logged and counted instead.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run.
	RunID string

	// Key identifies the affected unit of work, when there is one.
	Key CorrelationKey

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeSubmitFailed indicates the pool refused a submission.
	ErrCodeSubmitFailed RuntimeErrorCode = "SUBMIT_FAILED"

	// ErrCodeSinkFailed indicates the sink could not persist a result.
	ErrCodeSinkFailed RuntimeErrorCode = "SINK_FAILED"

	// ErrCodeOracleFailed indicates the oracle could not suggest; the run
	// drained what was in flight before returning it.
	ErrCodeOracleFailed RuntimeErrorCode = "ORACLE_FAILED"

	// ErrCodeSchemaMismatch indicates a suggestion with the wrong
	// parameter names.
	ErrCodeSchemaMismatch RuntimeErrorCode = "SCHEMA_MISMATCH"

	// ErrCodeRegistryDiverged indicates in-flight work the stream no
	// longer knows about, which would otherwise block forever.
	ErrCodeRegistryDiverged RuntimeErrorCode = "REGISTRY_DIVERGED"

	// ErrCodeInterrupted indicates the run's context ended before DONE.
	ErrCodeInterrupted RuntimeErrorCode = "INTERRUPTED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the code of a *RuntimeError anywhere in err's chain,
// or "" if there is none.
func ErrorCode(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsSubmitError reports whether err is a submission failure.
func IsSubmitError(err error) bool {
	return ErrorCode(err) == ErrCodeSubmitFailed
}

// IsSinkError reports whether err is a sink failure.
func IsSinkError(err error) bool {
	return ErrorCode(err) == ErrCodeSinkFailed
}

// IsOracleError reports whether err is an oracle failure.
func IsOracleError(err error) bool {
	return ErrorCode(err) == ErrCodeOracleFailed
}

func newRuntimeError(code RuntimeErrorCode, runID string, key CorrelationKey, msg string, err error) *RuntimeError {
	return &RuntimeError{Code: code, Message: msg, RunID: runID, Key: key, Err: err}
}
