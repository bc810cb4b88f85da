package appointment

import (
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionCheckIn  Action = "check_in"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionNoShow   Action = "no_show"
)

var AllActions = []Action{
	ActionAccept,
	ActionReject,
	ActionCheckIn,
	ActionStart,
	ActionComplete,
	ActionCancel,
	ActionNoShow,
}

// Target is the status an action moves an appointment to.
func (a Action) Target() (Status, bool) {
	switch a {
	case ActionAccept:
		return StatusConfirmed, true
	case ActionReject, ActionCancel:
		return StatusCancelled, true
	case ActionCheckIn:
		return StatusCheckedIn, true
	case ActionStart:
		return StatusInProgress, true
	case ActionComplete:
		return StatusCompleted, true
	case ActionNoShow:
		return StatusNoShow, true
	}
	return "", false
}

// transitions is the complete lifecycle graph. Anything absent is rejected.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusCheckedIn, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Completion is the clinical payload recorded when a consultation ends.
type Completion struct {
	Diagnosis    string
	Notes        string
	FollowUp     bool
	FollowUpDate *time.Time
}

type Command struct {
	Action     Action
	Actor      Actor
	Completion *Completion
	Reason     string
}

// Machine applies commands to appointments. It is pure: it never touches the
// store, it only computes the next state or explains why there is none.
type Machine struct {
	loc                *time.Location
	cancellationWindow time.Duration
	now                func() time.Time
}

func NewMachine(loc *time.Location, cancellationWindow time.Duration, now func() time.Time) *Machine {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{loc: loc, cancellationWindow: cancellationWindow, now: now}
}

// Apply returns the appointment as it would be after cmd, leaving appt
// untouched.
func (m *Machine) Apply(appt Appointment, cmd Command) (Appointment, error) {
	to, ok := cmd.Action.Target()
	if !ok {
		return appt, &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", cmd.Action)}
	}

	if err := authorize(appt, cmd); err != nil {
		return appt, err
	}

	from := appt.Status
	if cmd.Action == ActionReject && from != StatusScheduled {
		return appt, &TransitionError{From: from, To: to, Action: cmd.Action, Reason: "only scheduled appointments can be rejected"}
	}
	if !CanTransition(from, to) {
		return appt, &TransitionError{From: from, To: to, Action: cmd.Action}
	}

	now := m.now()
	if err := m.checkGuards(appt, cmd, to, now); err != nil {
		return appt, err
	}

	next := appt
	next.Status = to
	next.UpdatedAt = now

	switch cmd.Action {
	case ActionStart:
		started := now
		next.ConsultationStartedAt = &started
	case ActionComplete:
		c := cmd.Completion
		next.Diagnosis = c.Diagnosis
		next.Notes = c.Notes
		next.FollowUp = c.FollowUp || c.FollowUpDate != nil
		if c.FollowUpDate != nil {
			d := CalendarDay(*c.FollowUpDate)
			next.FollowUpDate = &d
		} else {
			next.FollowUpDate = nil
		}
	case ActionReject, ActionCancel:
		next.CancelledBy = cmd.Actor.Role
		next.CancellationReason = cmd.Reason
	}

	return next, nil
}

func (m *Machine) checkGuards(appt Appointment, cmd Command, to Status, now time.Time) error {
	switch cmd.Action {
	case ActionCheckIn:
		today := now.In(m.loc)
		if !sameDay(today, appt.Date) {
			return &GuardError{
				From:   appt.Status,
				To:     to,
				Guard:  GuardSameDayCheckIn,
				Detail: fmt.Sprintf("check-in is only possible on %s", FormatDate(appt.Date)),
			}
		}

	case ActionCancel:
		if cmd.Actor.Role != RolePatient {
			return nil
		}
		remaining := appt.StartsAt(m.loc).Sub(now)
		if remaining < m.cancellationWindow {
			return &GuardError{
				From:  appt.Status,
				To:    to,
				Guard: GuardCancellationWindow,
				Detail: fmt.Sprintf("cancellation requires at least %s notice, %s remaining",
					m.cancellationWindow, remaining.Truncate(time.Minute)),
			}
		}

	case ActionComplete:
		if cmd.Completion == nil || strings.TrimSpace(cmd.Completion.Diagnosis) == "" {
			return &GuardError{
				From:   appt.Status,
				To:     to,
				Guard:  GuardDiagnosisRequired,
				Detail: "diagnosis must not be empty",
			}
		}
		if d := cmd.Completion.FollowUpDate; d != nil && !CalendarDay(*d).After(appt.Date) {
			return &ValidationError{Field: "follow_up_date", Reason: "must be after the appointment date"}
		}
	}
	return nil
}

// authorize checks the caller takes part in the appointment in the role the
// action requires. Admins may act for either side.
func authorize(appt Appointment, cmd Command) error {
	actor := cmd.Actor
	if actor.Role == RoleAdmin {
		return nil
	}

	isPatient := actor.Role == RolePatient && actor.ID == appt.PatientID
	isDoctor := actor.Role == RoleDoctor && actor.ID == appt.DoctorID

	var allowed bool
	switch cmd.Action {
	case ActionCheckIn:
		allowed = isPatient
	case ActionCancel:
		allowed = isPatient || isDoctor
	default:
		allowed = isDoctor
	}

	if !allowed {
		return &ForbiddenError{Actor: actor, Action: string(cmd.Action)}
	}
	return nil
}
