// Package apperror defines the engine's error taxonomy.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	KindInternal              Kind = "internal"
	KindInvalidArgument       Kind = "invalid_argument"
	KindNotFound              Kind = "not_found"
	KindInvalidCoupon         Kind = "invalid_coupon"
	KindSchedulingConflict    Kind = "scheduling_conflict"
	KindInvalidRecurrenceRule Kind = "invalid_recurrence_rule"
	KindExcessiveRefund       Kind = "excessive_refund"
	KindConcurrencyConflict   Kind = "concurrency_conflict"
	KindInvalidState          Kind = "invalid_state"
	KindPaymentDeclined       Kind = "payment_declined"
)

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrInternal              = &Error{Kind: KindInternal}
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInvalidCoupon         = &Error{Kind: KindInvalidCoupon}
	ErrSchedulingConflict    = &Error{Kind: KindSchedulingConflict}
	ErrInvalidRecurrenceRule = &Error{Kind: KindInvalidRecurrenceRule}
	ErrExcessiveRefund       = &Error{Kind: KindExcessiveRefund}
	ErrConcurrencyConflict   = &Error{Kind: KindConcurrencyConflict}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrPaymentDeclined       = &Error{Kind: KindPaymentDeclined}
)

// Error is a classified engine error.
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
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. An err that is already an *Error keeps its kind.
func Wrap(kind Kind, op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Internal wraps an unexpected failure (persistence down, encoding, ...).
func Internal(op string, err error) error {
	return Wrap(KindInternal, op, err, "internal error")
}

// KindOf returns the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Msg != "" {
			return ae.Msg
		}
		return string(ae.Kind)
	}
	return "internal error"
}
