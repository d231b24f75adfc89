package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// reporting logic.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a manifest or graph contract
	// violation detected before any remote call. Never retried.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassTransient indicates a temporary remote failure that may
	// succeed on retry. The only known member is the storage permission
	// race on provisioning parameter describe calls.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassStateConflict indicates live infrastructure in an
	// unexpected status when a mutation is required. Requires operator
	// attention and is never retried.
	ErrorClassStateConflict ErrorClass = "state_conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// TaskError represents a classified error with task and remote-call context.
type TaskError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Task is the identity key of the task that raised the error.
	Task string `json:"task,omitempty"`

	// Operation is the remote operation being performed, if applicable.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Task != "" && e.Operation != "" {
		msg += fmt.Sprintf(" (task=%s, operation=%s)", e.Task, e.Operation)
	} else if e.Task != "" {
		msg += fmt.Sprintf(" (task=%s)", e.Task)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *TaskError) Is(target error) bool {
	t, ok := target.(*TaskError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates an error for a build-time contract
// violation.
func NewConfigurationError(message string, err error) *TaskError {
	return &TaskError{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *TaskError {
	return &TaskError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewStateConflictError creates an error for live state that requires
// operator attention.
func NewStateConflictError(message string, err error) *TaskError {
	return &TaskError{Class: ErrorClassStateConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *TaskError {
	return &TaskError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithTask adds task context to an error.
func (e *TaskError) WithTask(identityKey string) *TaskError {
	e.Task = identityKey
	return e
}

// WithOperation adds remote operation context to an error.
func (e *TaskError) WithOperation(operation string) *TaskError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *TaskError) WithCode(code string) *TaskError {
	e.Code = code
	return e
}

// IsConfiguration returns true if the error is a build-time contract
// violation.
func IsConfiguration(err error) bool {
	var e *TaskError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *TaskError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsStateConflict returns true if the error is a live-state conflict.
func IsStateConflict(err error) bool {
	var e *TaskError
	if errors.As(err, &e) {
		return e.Class == ErrorClassStateConflict
	}
	return false
}

// IsRetryable returns true if the error can be retried. Only transient
// errors are retryable; configuration and state-conflict errors require
// human intervention.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// HasCode returns true if the error chain contains a TaskError with the
// given code.
func HasCode(err error, code string) bool {
	var e *TaskError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Common error codes.
const (
	ErrCodeAffinityMismatch     = "AFFINITY_MISMATCH"
	ErrCodeUnknownStatus        = "UNKNOWN_STATUS"
	ErrCodeUnresolvedDependency = "UNRESOLVED_DEPENDENCY"
	ErrCodeDuplicateTask        = "DUPLICATE_TASK"
	ErrCodeCycle                = "DEPENDENCY_CYCLE"
	ErrCodeStoragePermission    = "STORAGE_PERMISSION_DENIED"
	ErrCodeMissingOutputBinding = "MISSING_OUTPUT_BINDING"
	ErrCodeParameterNotFound    = "PARAMETER_NOT_FOUND"
	ErrCodeRecordNotFound       = "RECORD_NOT_FOUND"
	ErrCodeStackUnhealthy       = "STACK_UNHEALTHY"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeDependencyFailed     = "DEPENDENCY_FAILED"
	ErrCodeRemoteFailed         = "REMOTE_FAILED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)
