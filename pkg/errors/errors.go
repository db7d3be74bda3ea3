// Package errors defines custom error types for PulseWatch
package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"syscall"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// FileSystemError indicates file system related issues
	FileSystemError ErrorType = "filesystem"
	// PermissionError indicates access to a path was denied
	PermissionError ErrorType = "permission"
	// BackendError indicates a notification backend failure
	BackendError ErrorType = "backend"
	// ValidationError indicates input validation issues
	ValidationError ErrorType = "validation"
	// ConfigError indicates configuration issues
	ConfigError ErrorType = "config"
	// ClosedError indicates an operation on a closed session
	ClosedError ErrorType = "closed"
)

// PulseError is the base error type for all PulseWatch errors
type PulseError struct {
	Type    ErrorType
	Message string
	Path    string
	Err     error
	Fatal   bool
	Context map[string]interface{}
}

// Error implements the error interface
func (e *PulseError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, msg)
}

// Unwrap returns the underlying error
func (e *PulseError) Unwrap() error {
	return e.Err
}

// WithContext adds context to the error
func (e *PulseError) WithContext(key string, value interface{}) *PulseError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithPath attaches the affected path
func (e *PulseError) WithPath(path string) *PulseError {
	e.Path = path
	return e
}

// New creates a new PulseError
func New(errType ErrorType, message string, err error) *PulseError {
	return &PulseError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// NewFatal creates a new PulseError that stops a backend from serving its paths
func NewFatal(errType ErrorType, message string, err error) *PulseError {
	return &PulseError{
		Type:    errType,
		Message: message,
		Err:     err,
		Fatal:   true,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, err error) *PulseError {
	return New(FileSystemError, message, err)
}

// NewPermissionError creates a new permission error
func NewPermissionError(message string, err error) *PulseError {
	return New(PermissionError, message, err)
}

// NewBackendError creates a new non-fatal backend error
func NewBackendError(message string, err error) *PulseError {
	return New(BackendError, message, err)
}

// NewFatalBackendError creates a backend error that requires a fallback
func NewFatalBackendError(message string, err error) *PulseError {
	return NewFatal(BackendError, message, err)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, err error) *PulseError {
	return New(ValidationError, message, err)
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, err error) *PulseError {
	return New(ConfigError, message, err)
}

// NewClosedError creates an error for operations on a closed session
func NewClosedError(message string) *PulseError {
	return New(ClosedError, message, nil)
}

func typeOf(err error) (ErrorType, bool) {
	var pe *PulseError
	if stderrors.As(err, &pe) {
		return pe.Type, true
	}
	return "", false
}

// IsFileSystemError checks if the error is a file system error
func IsFileSystemError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == FileSystemError
}

// IsPermissionError checks if the error is a permission error
func IsPermissionError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == PermissionError
}

// IsBackendError checks if the error is a backend error
func IsBackendError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == BackendError
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ValidationError
}

// IsConfigError checks if the error is a configuration error
func IsConfigError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ConfigError
}

// IsClosedError checks if the error reports a closed session
func IsClosedError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ClosedError
}

// IsFatal checks if the error is flagged fatal
func IsFatal(err error) bool {
	var pe *PulseError
	if stderrors.As(err, &pe) {
		return pe.Fatal
	}
	return false
}

// IsNotExist reports whether err means the path is gone
func IsNotExist(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, syscall.ENOTDIR)
}

// IsPermission reports whether err means access was denied
func IsPermission(err error) bool {
	return stderrors.Is(err, fs.ErrPermission) || stderrors.Is(err, syscall.EACCES) || stderrors.Is(err, syscall.EPERM)
}

// IsResourceExhausted reports whether err means the OS ran out of watch handles
func IsResourceExhausted(err error) bool {
	return stderrors.Is(err, syscall.ENOSPC) || stderrors.Is(err, syscall.EMFILE) || stderrors.Is(err, syscall.ENFILE)
}

// IsTransient reports whether retrying the failed call may succeed
func IsTransient(err error) bool {
	return stderrors.Is(err, syscall.EINTR) || stderrors.Is(err, syscall.EAGAIN)
}

// Classify maps a raw filesystem or backend error into the PulseWatch taxonomy
func Classify(path string, err error) *PulseError {
	if err == nil {
		return nil
	}
	var pe *PulseError
	if stderrors.As(err, &pe) {
		return pe
	}
	switch {
	case IsNotExist(err):
		return NewFileSystemError("path does not exist", err).WithPath(path)
	case IsPermission(err):
		return NewPermissionError("permission denied", err).WithPath(path)
	case IsResourceExhausted(err):
		return NewFatalBackendError("watch resources exhausted", err).WithPath(path)
	default:
		return NewBackendError("failed to watch", err).WithPath(path)
	}
}
