package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinels for errors.Is. The concrete error types below carry the detail a
// caller needs to render a message and match the sentinel of their class.
var (
	ErrValidation        = errors.New("validation error")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrGuardFailed       = errors.New("transition guard failed")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")

	// ErrStoreUnavailable is returned once transient store failures exhaust
	// their retry budget.
	ErrStoreUnavailable = errors.New("appointment store unavailable")
)

// Store-level outcomes reported by Repository implementations.
var (
	ErrSlotTaken   = errors.New("slot already occupied")
	ErrStaleStatus = errors.New("appointment status changed concurrently")
	ErrTransient   = errors.New("transient store failure")
)

var (
	ErrAppointmentNotFound = &NotFoundError{Resource: "appointment"}
	ErrDoctorNotFound      = &NotFoundError{Resource: "doctor"}
)

const (
	GuardCancellationWindow = "cancellation_window"
	GuardSameDayCheckIn     = "same_day_check_in"
	GuardDiagnosisRequired  = "diagnosis_required"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type SlotUnavailableError struct {
	DoctorID uuid.UUID
	Date     time.Time
	TimeSlot string
	Reason   string
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot %s on %s for doctor %s is unavailable: %s",
		e.TimeSlot, FormatDate(e.Date), e.DoctorID, e.Reason)
}

func (e *SlotUnavailableError) Is(target error) bool { return target == ErrSlotUnavailable }

type TransitionError struct {
	From   Status
	To     Status
	Action Action
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s: transition %s -> %s is not allowed", e.Action, e.From, e.To)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type GuardError struct {
	From   Status
	To     Status
	Guard  string
	Detail string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("transition %s -> %s rejected by %s: %s", e.From, e.To, e.Guard, e.Detail)
}

func (e *GuardError) Is(target error) bool { return target == ErrGuardFailed }

type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound || target == e }

type ForbiddenError struct {
	Actor  Actor
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s %s may not %s this appointment", e.Actor.Role, e.Actor.ID, e.Action)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }
