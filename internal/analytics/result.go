package analytics

import (
	"github.com/dvloznov/finance-analytics/internal/analytics/errs"
)

// NoAnomaliesMessage is the success message for an empty finding set.
const NoAnomaliesMessage = "no anomalies detected"

// Result is the outcome of one engine operation. A failed result carries the
// error kind and a message naming the unmet precondition; Data is then the
// zero value.
type Result[T any] struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	ErrorKind errs.Kind `json:"error_kind,omitempty"`
	Data      T         `json:"data"`

	cause error
}

// Ok wraps a successful payload.
func Ok[T any](data T, message string) Result[T] {
	return Result[T]{Success: true, Message: message, Data: data}
}

// Fail converts err into a failed result.
func Fail[T any](err error) Result[T] {
	return Result[T]{
		Success:   false,
		Message:   errs.Message(err),
		ErrorKind: errs.KindOf(err),
		cause:     err,
	}
}

// Err returns the failure as an error, or nil for a successful result. The
// original error is returned when the result was built by Fail.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	if r.cause != nil {
		return r.cause
	}
	return &errs.Error{Kind: r.ErrorKind, Msg: r.Message}
}
