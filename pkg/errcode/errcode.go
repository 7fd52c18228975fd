// Package errcode defines the error taxonomy shared by every subsystem.
//
// Errors that cross a subsystem boundary carry a stable Code; the HTTP
// layer maps the code into the response envelope while the message stays
// short and sanitized. Internal causes are wrapped so operators can still
// unwrap them in logs.
package errcode

import (
	"errors"
	"fmt"
)

// Code identifies an error class in API responses.
type Code string

const (
	InvalidInput       Code = "INVALID_INPUT"
	InvalidJSON        Code = "INVALID_JSON"
	NotFound           Code = "NOT_FOUND"
	Forbidden          Code = "FORBIDDEN"
	CSRF               Code = "CSRF"
	AuthRequired       Code = "AUTH_REQUIRED"
	RateLimited        Code = "RATE_LIMITED"
	Conflict           Code = "CONFLICT"
	Timeout            Code = "TIMEOUT"
	DBError            Code = "DB_ERROR"
	ServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	DBMaintenance      Code = "DB_MAINTENANCE"
	DeleteFailed       Code = "DELETE_FAILED"
	RenameFailed       Code = "RENAME_FAILED"
	UpdateFailed       Code = "UPDATE_FAILED"
	MetadataFailed     Code = "METADATA_FAILED"
	Degraded           Code = "DEGRADED"
	Unsupported        Code = "UNSUPPORTED"
	ToolMissing        Code = "TOOL_MISSING"
	ExiftoolError      Code = "EXIFTOOL_ERROR"
	FFprobeError       Code = "FFPROBE_ERROR"
	ParseError         Code = "PARSE_ERROR"
)

// E is an error with a stable code, a user-facing message, and optional
// response metadata (for example retry_after on rate-limit errors).
type E struct {
	Code    Code
	Message string
	Meta    map[string]any
	cause   error
}

// New creates an error with the given code and message.
func New(code Code, message string) *E {
	return &E{Code: code, Message: message}
}

// Newf creates an error with the given code and a formatted message.
func Newf(code Code, format string, args ...any) *E {
	return &E{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) *E {
	return &E{Code: code, Message: message, cause: cause}
}

// WithMeta returns a copy of e with the given metadata key set.
func (e *E) WithMeta(key string, value any) *E {
	clone := *e
	clone.Meta = make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		clone.Meta[k] = v
	}
	clone.Meta[key] = value
	return &clone
}

func (e *E) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the Code from an error chain. Unclassified errors are
// reported as DB_ERROR only when they originate in storage; everything
// else falls back to SERVICE_UNAVAILABLE.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ServiceUnavailable
}

// MessageOf extracts the sanitized user-facing message from an error
// chain, falling back to a generic message for unclassified errors.
func MessageOf(err error) string {
	var e *E
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// MetaOf extracts response metadata from an error chain, or nil.
func MetaOf(err error) map[string]any {
	var e *E
	if errors.As(err, &e) {
		return e.Meta
	}
	return nil
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *E
	return errors.As(err, &e) && e.Code == code
}
