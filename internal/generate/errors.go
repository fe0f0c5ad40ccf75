package generate

import (
	"errors"
	"fmt"
)

// ErrCode identifies the class of a generation failure.
type ErrCode string

const (
	CodeTimeout      ErrCode = "TIMEOUT"
	CodeHTTPStatus   ErrCode = "HTTP_STATUS"
	CodeMalformed    ErrCode = "MALFORMED_RESPONSE"
	CodeTransport    ErrCode = "TRANSPORT"
	CodeCanceled     ErrCode = "CANCELED"
	CodeInvalidInput ErrCode = "INVALID_INPUT"
)

// Error is a generation failure. It is recoverable: the paragraph is marked
// failed and may be retried on request.
type Error struct {
	Code    ErrCode
	Message string
	Status  int // HTTP status for CodeHTTPStatus
	Cause   error
}

// NewError creates a generation error.
func NewError(code ErrCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether an explicit retry might succeed.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeTimeout, CodeTransport:
		return true
	case CodeHTTPStatus:
		return e.Status == 429 || e.Status >= 500
	default:
		return false
	}
}

// CodeOf returns the code of err if it is an *Error, or "" otherwise.
func CodeOf(err error) ErrCode {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}
