// Package apperr defines the error kinds shared by the storage, station,
// encoder and stream packages. The HTTP layer inspects the kind to decide
// what to log; clients only ever see a generic not-found response.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound covers missing recordings, user directories and slots.
	KindNotFound
	// KindInvalidRequest covers malformed paths, query strings and identities.
	KindInvalidRequest
	// KindStorageUnavailable is returned when a directory cannot be created.
	KindStorageUnavailable
	// KindSlotsExhausted is returned when an identity has no free slot left.
	KindSlotsExhausted
	// KindFileTooLarge is returned when a file cannot be served in one response.
	KindFileTooLarge
	// KindExternalTool is only produced by the conversion pipeline.
	KindExternalTool
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindSlotsExhausted:
		return "slots_exhausted"
	case KindFileTooLarge:
		return "file_too_large"
	case KindExternalTool:
		return "external_tool_failure"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new classified error with a formatted message.
func E(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
