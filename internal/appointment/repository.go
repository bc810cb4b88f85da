package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all store interactions needed by the service.
// Implementations must enforce the active-slot uniqueness rule atomically:
// Insert reports ErrSlotTaken when another appointment in a slot-occupying
// status already holds (doctor, date, slot).
type Repository interface {
	// Creation; ev is written in the same unit of work
	Insert(ctx context.Context, appt *Appointment, ev EventLog) (*Appointment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)

	// UpdateTransition persists next only if the stored status still equals
	// from, otherwise ErrStaleStatus. ev is written in the same unit of work.
	UpdateTransition(ctx context.Context, next *Appointment, from Status, ev EventLog) (*Appointment, error)

	ListEvents(ctx context.Context, appointmentID uuid.UUID) ([]EventLog, error)
}

// ProfileStore gives read access to doctors' availability profiles, which are
// owned elsewhere. Missing doctors yield ErrDoctorNotFound.
type ProfileStore interface {
	GetProfile(ctx context.Context, doctorID uuid.UUID) (*AvailabilityProfile, error)
	UpsertProfile(ctx context.Context, p AvailabilityProfile) error
}
