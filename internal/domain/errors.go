package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies failures surfaced to callers of the engine.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindValidation       Kind = "validation"
	KindCapacity         Kind = "capacity"
	KindRiskRejected     Kind = "risk_rejected"
	KindTimeout          Kind = "timeout"
	KindExecutionFailure Kind = "execution_failure"
)

// Error is a classified failure with a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

// Sentinels for errors.Is checks; they match any Error of the same kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrCapacity         = &Error{Kind: KindCapacity}
	ErrRiskRejected     = &Error{Kind: KindRiskRejected}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrExecutionFailure = &Error{Kind: KindExecutionFailure}
)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.cause)
	}
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality so that wrapped errors match the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown wallet, farm, session, order or coordination id.
func NotFound(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

// Validation reports malformed input.
func Validation(format string, args ...any) error {
	return newError(KindValidation, format, args...)
}

// Capacity reports an exceeded child or participant limit.
func Capacity(format string, args ...any) error {
	return newError(KindCapacity, format, args...)
}

// RiskRejected reports an order refused by risk limits.
func RiskRejected(format string, args ...any) error {
	return newError(KindRiskRejected, format, args...)
}

// Timeout reports an exceeded deadline.
func Timeout(format string, args ...any) error {
	return newError(KindTimeout, format, args...)
}

// ExecutionFailure wraps a matching or fill failure.
func ExecutionFailure(cause error, format string, args ...any) error {
	e := newError(KindExecutionFailure, format, args...)
	e.cause = cause
	return e
}

// KindOf returns the classification of err, or an empty Kind for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the human-readable reason carried by err.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return err.Error()
}
