package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for recovery and reporting decisions.
type ErrorClass string

const (
	// ErrorClassConfig indicates an unresolvable goal or an invalid plan.
	// Config errors surface before any task executes.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassConnection indicates a session to a host could not be
	// established or maintained. Captured per host; other hosts in the
	// same step keep running.
	ErrorClassConnection ErrorClass = "connection"

	// ErrorClassExecution indicates a task body signalled an unexpected
	// condition. Always contained into a FAILED result.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassTimeout indicates a task exceeded its configured bound.
	ErrorClassTimeout ErrorClass = "timeout"
)

// Error codes attached to classified errors and FAILED task results.
const (
	ErrCodeUnknownGoal = "UNKNOWN_GOAL"
	ErrCodeEmptyPlan   = "EMPTY_PLAN"
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeDial        = "DIAL_FAILED"
	ErrCodeAuth        = "AUTH_FAILED"
	ErrCodeTaskFailed  = "TASK_FAILED"
	ErrCodeTaskPanic   = "TASK_PANIC"
	ErrCodeTimeout     = "TIMEOUT"
	ErrCodeCancelled   = "CANCELLED"
)

// EngineError is a classified error with host and task context.
//
//nolint:revive // named to distinguish from plain errors at call sites
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	Code    string     `json:"code,omitempty"`
	Host    string     `json:"host,omitempty"`
	Task    string     `json:"task,omitempty"`
	Err     error      `json:"-"`
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Host != "" {
		msg += fmt.Sprintf(" (host=%s)", e.Host)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches on class and code so callers can compare against sentinels.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewConfigError creates a stop-before-start configuration error.
func NewConfigError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConfig, Message: message, Err: err}
}

// NewConnectionError creates a per-host connection error.
func NewConnectionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConnection, Message: message, Err: err, Code: ErrCodeDial}
}

// NewExecutionError creates a contained task execution error.
func NewExecutionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassExecution, Message: message, Err: err, Code: ErrCodeTaskFailed}
}

// NewTimeoutError creates a timeout error with a distinguishable code.
func NewTimeoutError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTimeout, Message: message, Err: err, Code: ErrCodeTimeout}
}

// WithCode overrides the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithHost attaches the originating host id.
func (e *EngineError) WithHost(host string) *EngineError {
	e.Host = host
	return e
}

// WithTask attaches the task name.
func (e *EngineError) WithTask(task string) *EngineError {
	e.Task = task
	return e
}

// IsConfig reports whether err is classified as a configuration error.
func IsConfig(err error) bool { return classOf(err) == ErrorClassConfig }

// IsConnection reports whether err is classified as a connection error.
func IsConnection(err error) bool { return classOf(err) == ErrorClassConnection }

// IsExecution reports whether err is classified as a task execution error.
func IsExecution(err error) bool { return classOf(err) == ErrorClassExecution }

// IsTimeout reports whether err is classified as a timeout.
func IsTimeout(err error) bool { return classOf(err) == ErrorClassTimeout }

func classOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// codeOf extracts the error code for result records; plain errors map to
// a generic task failure.
func codeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return ErrCodeTaskFailed
}
