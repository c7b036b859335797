package deployment

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for propagation and retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure of a collaborator.
	// The caller may resubmit; nothing retries automatically.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates the request collides with the current job state.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error such as invalid input
	// or a missing record.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassFatal indicates the durable store itself failed.
	ErrorClassFatal ErrorClass = "fatal"
)

// Error codes surfaced to callers.
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeConflictInProgress     = "CONFLICT_IN_PROGRESS"
	ErrCodeConflictDeployed       = "CONFLICT_ALREADY_DEPLOYED"
	ErrCodeConflictNotDestroyable = "CONFLICT_NOT_DESTROYABLE"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeAlreadyExists          = "ALREADY_EXISTS"
	ErrCodeRemoteUnavailable      = "REMOTE_UNAVAILABLE"
	ErrCodeRemoteConflict         = "REMOTE_CONFLICT"
	ErrCodePersistence            = "PERSISTENCE_ERROR"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
)

// Error is a classified error carrying a machine-readable code.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code is the machine-readable error code.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// JobKey is the job the error relates to, if any.
	JobKey string `json:"job_key,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.JobKey != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (job=%s, operation=%s)", msg, e.JobKey, e.Operation)
	} else if e.JobKey != "" {
		msg = fmt.Sprintf("%s (job=%s)", msg, e.JobKey)
	} else if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithJob adds job context to an error.
func (e *Error) WithJob(key string) *Error {
	e.JobKey = key
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

func newError(class ErrorClass, code, message string, err error) *Error {
	return &Error{Class: class, Code: code, Message: message, Err: err}
}

// NewValidationError creates a VALIDATION_ERROR.
func NewValidationError(message string, err error) *Error {
	return newError(ErrorClassPermanent, ErrCodeValidation, message, err)
}

// NewNotFoundError creates a NOT_FOUND error.
func NewNotFoundError(message string) *Error {
	return newError(ErrorClassPermanent, ErrCodeNotFound, message, nil)
}

// NewAlreadyExistsError creates an ALREADY_EXISTS error.
func NewAlreadyExistsError(message string, err error) *Error {
	return newError(ErrorClassConflict, ErrCodeAlreadyExists, message, err)
}

// NewConflictError creates a conflict error with the given conflict code.
func NewConflictError(code, message string) *Error {
	return newError(ErrorClassConflict, code, message, nil)
}

// NewInvalidTransitionError creates an INVALID_TRANSITION error.
func NewInvalidTransitionError(from, to Status) *Error {
	return newError(ErrorClassConflict, ErrCodeInvalidTransition,
		fmt.Sprintf("job cannot move from %s to %s", from, to), nil)
}

// NewRemoteUnavailableError creates a REMOTE_UNAVAILABLE error.
func NewRemoteUnavailableError(message string, err error) *Error {
	return newError(ErrorClassTransient, ErrCodeRemoteUnavailable, message, err)
}

// NewRemoteConflictError creates a REMOTE_CONFLICT error.
func NewRemoteConflictError(message string, err error) *Error {
	return newError(ErrorClassPermanent, ErrCodeRemoteConflict, message, err)
}

// NewPersistenceError creates a PERSISTENCE_ERROR.
func NewPersistenceError(message string, err error) *Error {
	return newError(ErrorClassFatal, ErrCodePersistence, message, err)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode returns true if err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound returns true if err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeNotFound)
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// ErrorClass returns the class as a string for telemetry.
func (e *Error) ErrorClass() string {
	return string(e.Class)
}

// ErrorCode returns the code for telemetry.
func (e *Error) ErrorCode() string {
	return e.Code
}
