package appointment

import (
	"time"
)

const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentRejected  = "appointment.rejected"
	EventAppointmentCheckedIn = "appointment.checked_in"
	EventAppointmentStarted   = "appointment.started"
	EventAppointmentCompleted = "appointment.completed"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentNoShow    = "appointment.no_show"
)

func eventTypeFor(a Action) string {
	switch a {
	case ActionAccept:
		return EventAppointmentConfirmed
	case ActionReject:
		return EventAppointmentRejected
	case ActionCheckIn:
		return EventAppointmentCheckedIn
	case ActionStart:
		return EventAppointmentStarted
	case ActionComplete:
		return EventAppointmentCompleted
	case ActionCancel:
		return EventAppointmentCancelled
	case ActionNoShow:
		return EventAppointmentNoShow
	}
	return "appointment." + string(a)
}

// Event describes a committed change. Appointment is the snapshot after the
// change.
type Event struct {
	Type        string
	Appointment Appointment
	Actor       Actor
	OccurredAt  time.Time
}

// Publisher observes committed changes. Publish must not block on delivery
// and must not fail the operation that produced the event.
type Publisher interface {
	Publish(ev Event)
}

type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
