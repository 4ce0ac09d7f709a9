package domain

import (
	"errors"
	"fmt"
)

// Sentinels for the error taxonomy. Components wrap storage or transport
// failures into these at their boundary; callers never see driver errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("actor not allowed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("invalid input")
	ErrServiceNotOffered = errors.New("service not offered by provider")
)

// TransitionError reports an illegal edge and carries the current status so
// clients can reconcile their view.
type TransitionError struct {
	Current   BookingStatus
	Requested BookingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition %s -> %s", e.Current, e.Requested)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type ConflictReason string

const (
	ReasonServiceNotOffered ConflictReason = "service_not_offered"
	ReasonDateBlocked       ConflictReason = "date_blocked"
	ReasonScheduleConflict  ConflictReason = "schedule_conflict"
	ReasonStatusChanged     ConflictReason = "status_changed"
)

// ConflictError disambiguates schedule/date conflicts from optimistic
// precondition failures. Current is set only for status_changed.
type ConflictError struct {
	Reason  ConflictReason
	Current BookingStatus
	Detail  string
}

func (e *ConflictError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return string(e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
