// Package railerr implements the engine's public error surface: every
// public operation returns one of a fixed set of status codes plus a
// human-readable message, instead of raw Go errors escaping the engine
// boundary.
package railerr

import "fmt"

// Code classifies every failure the engine's public operations report.
type Code int

const (
	OK Code = iota
	Invalid
	IOError
	NoSpace
	PermissionDenied
	NotFound
	Exists
	OperationExpired
	NotMutable
	UnsupportedLayout
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Invalid:
		return "Invalid"
	case IOError:
		return "IOError"
	case NoSpace:
		return "NoSpace"
	case PermissionDenied:
		return "PermissionDenied"
	case NotFound:
		return "NotFound"
	case Exists:
		return "Exists"
	case OperationExpired:
		return "OperationExpired"
	case NotMutable:
		return "NotMutable"
	case UnsupportedLayout:
		return "UnsupportedLayout"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Status is the error type returned at the engine's public boundary.
// It wraps an optional underlying error for %w-based inspection while
// still carrying a stable Code for callers that only care about the
// taxonomy (the wire-protocol adaptor, for instance).
type Status struct {
	Code    Code
	Message string
	Cause   error
}

func New(code Code, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, cause error, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (s *Status) Error() string {
	if s.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", s.Code, s.Message, s.Cause)
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

func (s *Status) Unwrap() error { return s.Cause }

// IsOK reports whether err is nil (the OK status is never materialized
// as a non-nil *Status; callers test err == nil instead).
func IsOK(err error) bool { return err == nil }
