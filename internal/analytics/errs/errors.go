// Package errs defines the error taxonomy shared by the analytics engine.
package errs

import (
	"errors"
	"fmt"
	"math"
)

// Kind classifies an engine failure.
type Kind string

const (
	KindEmptyInput       Kind = "empty_input"
	KindInsufficientData Kind = "insufficient_data"
	KindInvalidParameter Kind = "invalid_parameter"
	KindComputation      Kind = "computation"
)

// Sentinels usable with errors.Is.
var (
	ErrEmptyInput       = &Error{Kind: KindEmptyInput}
	ErrInsufficientData = &Error{Kind: KindInsufficientData}
	ErrInvalidParameter = &Error{Kind: KindInvalidParameter}
	ErrComputation      = &Error{Kind: KindComputation}
)

// Error is an engine failure with a kind, the operation that raised it and a
// message naming the missing precondition.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
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

// Is matches any *Error of the same kind, so errors.Is(err, ErrEmptyInput) works
// for every empty-input error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// EmptyInput reports that there was nothing to analyze.
func EmptyInput(op string) error {
	return &Error{Kind: KindEmptyInput, Op: op, Msg: "no transactions to analyze"}
}

// InsufficientData reports a history shorter than the operation needs.
func InsufficientData(op, format string, args ...any) error {
	return &Error{Kind: KindInsufficientData, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InvalidParameter reports a parameter outside its allowed range.
func InvalidParameter(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidParameter, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Computation wraps a numeric failure.
func Computation(op string, err error) error {
	return &Error{Kind: KindComputation, Op: op, Msg: "numeric failure", Err: err}
}

// KindOf returns the kind of err, or KindComputation when err is not an
// engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindComputation
}

// Message returns the user-facing text of err without the operation prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		if e.Err != nil {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Msg
	}
	return err.Error()
}

// CheckFinite returns a computation error if any value is NaN or infinite.
func CheckFinite(op string, values ...float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Computation(op, fmt.Errorf("non-finite value %v at index %d", v, i))
		}
	}
	return nil
}
