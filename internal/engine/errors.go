package engine

import (
	"errors"
	"fmt"

	"github.com/netrunner/regfeed/internal/ir"
)

// RuntimeError represents an error detected while probing feeds or
// authoring entries.
//
// Runtime errors include:
//   - Probe failure: a feed's Ready call failed and the engine throws
//   - No writable feed: authoring was requested but no feed is writable
//   - Append failure: the writer feed rejected an entry
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Feed identifies the affected feed, if any.
	Feed ir.FeedID

	// Name is the registry name being authored, if any.
	Name string

	// Cause is the underlying error, if any.
	Cause error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeProbeFailed indicates a feed failed to become ready.
	ErrCodeProbeFailed RuntimeErrorCode = "PROBE_FAILED"

	// ErrCodeNoWritableFeed indicates no tracked feed accepted the writer role.
	ErrCodeNoWritableFeed RuntimeErrorCode = "NO_WRITABLE_FEED"

	// ErrCodeAppendFailed indicates the writer feed rejected an append.
	ErrCodeAppendFailed RuntimeErrorCode = "APPEND_FAILED"
)

// Sentinels for errors.Is. A RuntimeError matches the sentinel with the
// same code.
var (
	ErrProbeFailed    = &RuntimeError{Code: ErrCodeProbeFailed, Message: "feed probe failed"}
	ErrNoWritableFeed = &RuntimeError{Code: ErrCodeNoWritableFeed, Message: "no writable feed"}
	ErrAppendFailed   = &RuntimeError{Code: ErrCodeAppendFailed, Message: "append failed"}
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Feed != "" && e.Name != "" {
		msg = fmt.Sprintf("%s (feed=%s, name=%s)", msg, e.Feed, e.Name)
	} else if e.Feed != "" {
		msg = fmt.Sprintf("%s (feed=%s)", msg, e.Feed)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a RuntimeError with the same code.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	return ok && t.Code == e.Code
}

// IsProbeError returns true if the error is a probe failure.
// Uses errors.As to handle wrapped errors.
func IsProbeError(err error) bool {
	return hasCode(err, ErrCodeProbeFailed)
}

// IsNoWritableFeed returns true if the error reports a missing writer.
func IsNoWritableFeed(err error) bool {
	return hasCode(err, ErrCodeNoWritableFeed)
}

// IsAppendError returns true if the error is an append failure.
func IsAppendError(err error) bool {
	return hasCode(err, ErrCodeAppendFailed)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewProbeError creates a RuntimeError for a failed feed probe.
func NewProbeError(feed ir.FeedID, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeProbeFailed,
		Message: "feed probe failed",
		Feed:    feed,
		Cause:   cause,
	}
}

// NewAppendError creates a RuntimeError for a rejected append.
func NewAppendError(feed ir.FeedID, name string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeAppendFailed,
		Message: "append failed",
		Feed:    feed,
		Name:    name,
		Cause:   cause,
	}
}
