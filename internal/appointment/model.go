package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusCheckedIn  Status = "checked-in"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"
)

var AllStatuses = []Status{
	StatusScheduled,
	StatusConfirmed,
	StatusCheckedIn,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// OccupiesSlot reports whether an appointment in this status blocks its
// (doctor, date, slot) tuple.
func (s Status) OccupiesSlot() bool {
	return s != StatusCancelled && s != StatusNoShow
}

type ConsultationType string

const (
	ConsultationInPerson ConsultationType = "in-person"
	ConsultationVideo    ConsultationType = "video"
)

func (c ConsultationType) Valid() bool {
	return c == ConsultationInPerson || c == ConsultationVideo
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor is the verified caller a core operation runs on behalf of.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

type Appointment struct {
	ID                    uuid.UUID
	PatientID             uuid.UUID
	DoctorID              uuid.UUID
	Date                  time.Time // calendar day, see CalendarDay
	Slot                  TimeOfDay
	ConsultationType      ConsultationType
	Status                Status
	Symptoms              string
	Diagnosis             string
	Notes                 string
	FollowUp              bool
	FollowUpDate          *time.Time
	CancelledBy           Role
	CancellationReason    string
	CreatedAt             time.Time
	ConsultationStartedAt *time.Time
	UpdatedAt             time.Time
}

// TimeSlot is the display label of the slot.
func (a Appointment) TimeSlot() string { return a.Slot.Label() }

// StartsAt is the scheduled start instant in the clinic time zone.
func (a Appointment) StartsAt(loc *time.Location) time.Time {
	return a.Slot.On(a.Date, loc)
}

// AvailabilityProfile is a doctor's recurring working week. One start/end pair
// applies to every working day.
type AvailabilityProfile struct {
	DoctorID    uuid.UUID
	WorkingDays []time.Weekday
	Start       TimeOfDay
	End         TimeOfDay
}

func (p AvailabilityProfile) WorksOn(day time.Weekday) bool {
	for _, d := range p.WorkingDays {
		if d == day {
			return true
		}
	}
	return false
}

type Slot struct {
	TimeSlot  string    `json:"time_slot"`
	Minutes   TimeOfDay `json:"minutes"`
	Available bool      `json:"available"`
}

type QueueEntry struct {
	Position              int              `json:"position"`
	AppointmentID         uuid.UUID        `json:"appointment_id"`
	PatientID             uuid.UUID        `json:"patient_id"`
	TimeSlot              string           `json:"time_slot"`
	Status                Status           `json:"status"`
	ConsultationType      ConsultationType `json:"consultation_type"`
	Symptoms              string           `json:"symptoms,omitempty"`
	ConsultationStartedAt *time.Time       `json:"consultation_started_at,omitempty"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// View is the wire form of an Appointment shared by the REST responses and
// the real-time snapshots.
type View struct {
	ID                    uuid.UUID        `json:"id"`
	PatientID             uuid.UUID        `json:"patient_id"`
	DoctorID              uuid.UUID        `json:"doctor_id"`
	Date                  string           `json:"date"`
	TimeSlot              string           `json:"time_slot"`
	ConsultationType      ConsultationType `json:"consultation_type"`
	Status                Status           `json:"status"`
	Symptoms              string           `json:"symptoms,omitempty"`
	Diagnosis             string           `json:"diagnosis,omitempty"`
	Notes                 string           `json:"notes,omitempty"`
	FollowUp              bool             `json:"follow_up"`
	FollowUpDate          string           `json:"follow_up_date,omitempty"`
	CancelledBy           Role             `json:"cancelled_by,omitempty"`
	CancellationReason    string           `json:"cancellation_reason,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	ConsultationStartedAt *time.Time       `json:"consultation_started_at,omitempty"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

func (a Appointment) View() View {
	v := View{
		ID:                    a.ID,
		PatientID:             a.PatientID,
		DoctorID:              a.DoctorID,
		Date:                  FormatDate(a.Date),
		TimeSlot:              a.TimeSlot(),
		ConsultationType:      a.ConsultationType,
		Status:                a.Status,
		Symptoms:              a.Symptoms,
		Diagnosis:             a.Diagnosis,
		Notes:                 a.Notes,
		FollowUp:              a.FollowUp,
		CancelledBy:           a.CancelledBy,
		CancellationReason:    a.CancellationReason,
		CreatedAt:             a.CreatedAt,
		ConsultationStartedAt: a.ConsultationStartedAt,
		UpdatedAt:             a.UpdatedAt,
	}
	if a.FollowUpDate != nil {
		v.FollowUpDate = FormatDate(*a.FollowUpDate)
	}
	return v
}
