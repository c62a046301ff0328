// Package errz defines the diagnostics produced while decompiling a method:
// non-fatal warnings for recoverable anomalies, and the typed errors used
// for internal failures of a single method.
package errz

import (
	"context"
	"errors"
	"fmt"
)

// NoOffset marks a warning that is not tied to an IL offset.
const NoOffset = -1

// Warning is a recoverable anomaly found while reading or transforming a
// method. Warnings never abort processing.
type Warning struct {
	Code    Code
	Offset  int
	Message string
}

// NewWarning creates a warning with a formatted message.
func NewWarning(code Code, offset int, format string, args ...any) Warning {
	return Warning{Code: code, Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// String renders the warning as "IL_0004: W1001 invalid branch target: ...".
func (w Warning) String() string {
	if w.Offset == NoOffset {
		return fmt.Sprintf("%s %s: %s", w.Code, w.Code.Description(), w.Message)
	}
	return fmt.Sprintf("IL_%04x: %s %s: %s", w.Offset, w.Code, w.Code.Description(), w.Message)
}

// InvariantError reports that the instruction tree was left malformed. Pass
// names the transform that ran last, or "reader" when reading produced the
// malformed tree.
type InvariantError struct {
	Pass string
	Err  error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s %s after %s: %v", E3001, E3001.Description(), e.Pass, e.Err)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic recovered at the method boundary.
type PanicError struct {
	Pass  string
	Value any
}

func (e *PanicError) Error() string {
	if e.Pass == "" {
		return fmt.Sprintf("%s %s: %v", E3002, E3002.Description(), e.Value)
	}
	return fmt.Sprintf("%s %s in %s: %v", E3002, E3002.Description(), e.Pass, e.Value)
}

// MethodError is the single wrapped failure reported for one method whose
// decompilation was aborted. Sibling methods are unaffected.
type MethodError struct {
	Method string
	Err    error
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("decompiling %s: %v", e.Method, e.Err)
}

func (e *MethodError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err stems from context cancellation or an
// expired deadline. Cancellation is never converted into a warning.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsInvariant reports whether err wraps an InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}
