package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// BackendError indicates a backend answered a request with an explicit error
	BackendError ErrorCode = "BACKEND_ERROR"
	// BackendUnavailable indicates a backend is not running or reachable
	BackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// UnreadableSource indicates file or buffer content could not be read
	UnreadableSource ErrorCode = "UNREADABLE_SOURCE"
	// UnknownFoldTarget indicates a fold was requested on an item that cannot fold
	UnknownFoldTarget ErrorCode = "UNKNOWN_FOLD_TARGET"
	// UnknownKind indicates an unregistered request kind
	UnknownKind ErrorCode = "UNKNOWN_KIND"
	// InvalidParams indicates malformed request parameters
	InvalidParams ErrorCode = "INVALID_PARAMS"
	// IndexMissing indicates the SCIP index file was not found
	IndexMissing ErrorCode = "INDEX_MISSING"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Error is a peek error with a stable code, a message and an optional cause.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Backend string      `json:"backend,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new Error
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Newf creates a new Error with a formatted message and no cause
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Backend != "" {
		prefix = fmt.Sprintf("[%s %s]", e.Code, e.Backend)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error with the same code, so sentinel-style checks work:
// errors.Is(err, &Error{Code: BackendError})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// WithBackend attributes the error to a backend
func (e *Error) WithBackend(id string) *Error {
	e.Backend = id
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or
// InternalError when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// HasCode reports whether err's chain holds an *Error with code.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Code == code {
				return true
			}
			err = e.cause
			continue
		}
		return false
	}
	return false
}
