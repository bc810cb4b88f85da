package api

import (
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID        string `json:"patient_id" validate:"omitempty,uuid"`
	DoctorID         string `json:"doctor_id" validate:"required,uuid"`
	Date             string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeSlot         string `json:"time_slot" validate:"required,max=32"`
	ConsultationType string `json:"consultation_type" validate:"required,oneof=in-person video"`
	Symptoms         string `json:"symptoms" validate:"max=2000"`
}

// normalize lowercases ids so they validate the same way path ids parse.
func (r *BookAppointmentRequest) normalize() {
	r.PatientID = strings.ToLower(strings.TrimSpace(r.PatientID))
	r.DoctorID = strings.ToLower(strings.TrimSpace(r.DoctorID))
}

// ReasonRequest is the optional body of reject and cancel.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// CompleteRequest leaves an empty diagnosis to the state machine, which
// reports it as a failed guard rather than malformed input.
type CompleteRequest struct {
	Diagnosis    string `json:"diagnosis" validate:"max=4000"`
	Notes        string `json:"notes" validate:"max=4000"`
	FollowUp     bool   `json:"follow_up"`
	FollowUpDate string `json:"follow_up_date" validate:"omitempty,datetime=2006-01-02"`
}

type AppointmentListResponse struct {
	Appointments []appointment.View `json:"appointments"`
	Count        int                `json:"count"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID          `json:"doctor_id"`
	Date     string             `json:"date"`
	Slots    []appointment.Slot `json:"slots"`
}

type QueueResponse struct {
	DoctorID uuid.UUID                `json:"doctor_id"`
	Date     string                   `json:"date"`
	Entries  []appointment.QueueEntry `json:"entries"`
}

type EventResponse struct {
	ID        int64       `json:"id"`
	EventType string      `json:"event_type"`
	Payload   interface{} `json:"payload,omitempty"`
	CreatedAt string      `json:"created_at"`
}

type ErrorResponse struct {
	Error           string             `json:"error"`
	Details         string             `json:"details,omitempty"`
	Fields          map[string]string  `json:"fields,omitempty"`
	CurrentStatus   appointment.Status `json:"current_status,omitempty"`
	AttemptedStatus appointment.Status `json:"attempted_status,omitempty"`
	Guard           string             `json:"guard,omitempty"`
}

func toViews(appts []appointment.Appointment) []appointment.View {
	out := make([]appointment.View, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.View())
	}
	return out
}
