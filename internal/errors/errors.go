package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies the kind of failure.
type Code string

const (
	CodeDuplicateContent    Code = "DUPLICATE_CONTENT"
	CodeNotFound            Code = "NOT_FOUND"
	CodeStorageFailure      Code = "STORAGE_FAILURE"
	CodeProtocolDecode      Code = "PROTOCOL_DECODE_ERROR"
	CodeCaptureRead         Code = "CAPTURE_READ_FAILURE"
	CodeListenerUnavailable Code = "LISTENER_UNAVAILABLE"
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodePayloadTooLarge     Code = "PAYLOAD_TOO_LARGE"
	CodeInternal            Code = "INTERNAL"
)

// Error is a typed failure. Message is safe to show to clients; Err carries
// the underlying cause for logs.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewDuplicateContent reports that an entry with the same content hash exists.
// It is an admission outcome rather than a failure.
func NewDuplicateContent(hash string) *Error {
	return &Error{
		Code:    CodeDuplicateContent,
		Op:      "append",
		Message: fmt.Sprintf("entry with content hash %s already exists", hash),
	}
}

// NewNotFound creates an error for a reference to a nonexistent entry.
func NewNotFound(id int64) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("entry not found: %d", id),
	}
}

// NewStorageFailure wraps a durable read or write failure. The cause is kept
// out of Message so driver details never reach clients.
func NewStorageFailure(op string, err error) *Error {
	return &Error{
		Code:    CodeStorageFailure,
		Op:      op,
		Message: "storage failure",
		Err:     err,
	}
}

func NewProtocolDecode(msg string, err error) *Error {
	return &Error{
		Code:    CodeProtocolDecode,
		Message: msg,
		Err:     err,
	}
}

func NewCaptureRead(err error) *Error {
	return &Error{
		Code:    CodeCaptureRead,
		Op:      "capture",
		Message: "failed to read clipboard",
		Err:     err,
	}
}

func NewListenerUnavailable(err error) *Error {
	return &Error{
		Code:    CodeListenerUnavailable,
		Op:      "register",
		Message: "clipboard change notifications unavailable",
		Err:     err,
	}
}

func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    CodeInvalidRequest,
		Message: msg,
	}
}

func NewPayloadTooLarge(max, actual int) *Error {
	return &Error{
		Code:    CodePayloadTooLarge,
		Message: fmt.Sprintf("payload exceeds maximum size: %d bytes (max %d)", actual, max),
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// Is reports whether err, or any error it wraps, is an *Error with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// As is a convenience around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := stderrors.As(err, &e)
	return e, ok
}
