package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
)

type handlers struct {
	svc      *appointment.Service
	validate *Validator
	log      *logrus.Logger
}

func actorFrom(r *http.Request) (appointment.Actor, bool) {
	s, ok := auth.FromContext(r.Context())
	if !ok {
		return appointment.Actor{}, false
	}
	return appointment.Actor{ID: s.UserID, Role: appointment.Role(s.Role)}, true
}

func parseID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decode reads an optional JSON body into dst and validates it.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if n, ok := dst.(interface{ normalize() }); ok {
		n.normalize()
	}
	if err := h.validate.Validate(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation_error",
			Fields: h.validate.FormatValidationErrors(err),
		})
		return false
	}
	return true
}

// dateParam reads ?date=YYYY-MM-DD. A missing date yields the zero time.
func dateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return time.Time{}, true
	}
	d, err := appointment.ParseDate(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation_error",
			Fields: map[string]string{"date": "date must be a date in YYYY-MM-DD format"},
		})
		return time.Time{}, false
	}
	return d, true
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)

	var req BookAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	var patientID uuid.UUID
	if req.PatientID != "" {
		patientID = uuid.MustParse(req.PatientID)
	}
	date, err := appointment.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "date must be a date in YYYY-MM-DD format")
		return
	}

	appt, err := h.svc.Book(r.Context(), actor, appointment.BookRequest{
		PatientID:        patientID,
		DoctorID:         uuid.MustParse(req.DoctorID),
		Date:             date,
		TimeSlot:         req.TimeSlot,
		ConsultationType: appointment.ConsultationType(req.ConsultationType),
		Symptoms:         req.Symptoms,
	})
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, appt.View())
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	id, ok := parseID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, appt.View())
}

func (h *handlers) listAppointmentEvents(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	id, ok := parseID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	evs, err := h.svc.Events(r.Context(), actor, id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	resp := make([]EventResponse, 0, len(evs))
	for _, ev := range evs {
		item := EventResponse{
			ID:        ev.ID,
			EventType: ev.EventType,
			CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339),
		}
		if len(ev.Payload) > 0 {
			item.Payload = json.RawMessage(ev.Payload)
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listPatientAppointments(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	patientID, ok := parseID(w, r, "id", "invalid_patient_id")
	if !ok {
		return
	}

	appts, err := h.svc.ListForPatient(r.Context(), actor, patientID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, AppointmentListResponse{Appointments: toViews(appts), Count: len(appts)})
}

func (h *handlers) listDoctorAppointments(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	doctorID, ok := parseID(w, r, "id", "invalid_doctor_id")
	if !ok {
		return
	}
	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	var day *time.Time
	if !date.IsZero() {
		day = &date
	}

	appts, err := h.svc.ListForDoctor(r.Context(), actor, doctorID, day)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, AppointmentListResponse{Appointments: toViews(appts), Count: len(appts)})
}

func (h *handlers) doctorAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := parseID(w, r, "id", "invalid_doctor_id")
	if !ok {
		return
	}
	date, ok := dateParam(w, r)
	if !ok {
		return
	}
	if date.IsZero() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation_error",
			Fields: map[string]string{"date": "date is required"},
		})
		return
	}

	slots, err := h.svc.Availability(r.Context(), doctorID, date)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{
		DoctorID: doctorID,
		Date:     appointment.FormatDate(date),
		Slots:    slots,
	})
}

func (h *handlers) doctorQueue(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	doctorID, ok := parseID(w, r, "id", "invalid_doctor_id")
	if !ok {
		return
	}
	date, ok := dateParam(w, r)
	if !ok {
		return
	}
	if date.IsZero() {
		date = h.svc.Today()
	}

	entries, err := h.svc.Queue(r.Context(), actor, doctorID, date)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueResponse{
		DoctorID: doctorID,
		Date:     appointment.FormatDate(date),
		Entries:  entries,
	})
}

type plainTransition func(*appointment.Service, context.Context, appointment.Actor, uuid.UUID) (*appointment.Appointment, error)

type reasonedTransition func(*appointment.Service, context.Context, appointment.Actor, uuid.UUID, string) (*appointment.Appointment, error)

// transition serves the lifecycle endpoints that take no body.
func (h *handlers) transition(apply plainTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := actorFrom(r)
		id, ok := parseID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := apply(h.svc, r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, r, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, appt.View())
	}
}

func (h *handlers) rejectAppointment(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, (*appointment.Service).Reject)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, (*appointment.Service).Cancel)
}

func (h *handlers) withReason(w http.ResponseWriter, r *http.Request, apply reasonedTransition) {
	actor, _ := actorFrom(r)
	id, ok := parseID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	var req ReasonRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := apply(h.svc, r.Context(), actor, id, req.Reason)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, appt.View())
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	id, ok := parseID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	var req CompleteRequest
	if !h.decode(w, r, &req) {
		return
	}

	c := appointment.Completion{
		Diagnosis: req.Diagnosis,
		Notes:     req.Notes,
		FollowUp:  req.FollowUp,
	}
	if req.FollowUpDate != "" {
		d, err := appointment.ParseDate(req.FollowUpDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "follow_up_date must be a date in YYYY-MM-DD format")
			return
		}
		c.FollowUpDate = &d
	}

	appt, err := h.svc.Complete(r.Context(), actor, id, c)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, appt.View())
}
