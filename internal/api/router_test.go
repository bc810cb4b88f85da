package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
)

type testServer struct {
	t        *testing.T
	handler  http.Handler
	verifier *auth.Verifier
	doctorID uuid.UUID
	date     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	doctorID := uuid.New()
	profiles := appointment.NewMemoryProfileStore(appointment.AvailabilityProfile{
		DoctorID: doctorID,
		WorkingDays: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
		Start: 9 * 60,
		End:   17 * 60,
	})

	cfg := config.Config{
		ClinicTimezone:     "UTC",
		SlotDuration:       30 * time.Minute,
		LunchStart:         "13:00",
		LunchEnd:           "14:00",
		CancellationWindow: 3 * time.Hour,
		StoreRetryAttempts: 2,
		StoreRetryBackoff:  time.Millisecond,
	}
	svc, err := appointment.NewService(appointment.NewMemoryRepository(), profiles, nil, nil, logging.Discard(), cfg)
	require.NoError(t, err)

	verifier := auth.NewVerifier("test-secret", "telehealth")
	handler := NewRouter(RouterConfig{
		Service:  svc,
		Verifier: verifier,
		Logger:   logging.Discard(),
		Env:      "test",
		Version:  "test",
	})

	return &testServer{
		t:        t,
		handler:  handler,
		verifier: verifier,
		doctorID: doctorID,
		// two weeks out keeps every slot bookable and outside the cancellation window
		date: appointment.FormatDate(time.Now().UTC().AddDate(0, 0, 14)),
	}
}

func (s *testServer) token(id uuid.UUID, role auth.Role) string {
	s.t.Helper()
	tok, err := s.verifier.Issue(auth.Session{UserID: id, Role: role}, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) book(patientToken, slot string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/appointments", patientToken, map[string]string{
		"doctor_id":         s.doctorID.String(),
		"date":              s.date,
		"time_slot":         slot,
		"consultation_type": "video",
		"symptoms":          "headache",
	})
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestBookAppointment_CreatedThenConflict(t *testing.T) {
	s := newTestServer(t)
	patient := uuid.New()
	tok := s.token(patient, auth.RolePatient)

	rec := s.book(tok, "10:00 AM")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	view := decodeBody[appointment.View](t, rec)
	assert.Equal(t, patient, view.PatientID)
	assert.Equal(t, s.doctorID, view.DoctorID)
	assert.Equal(t, appointment.StatusScheduled, view.Status)
	assert.Equal(t, "10:00 AM", view.TimeSlot)

	other := s.token(uuid.New(), auth.RolePatient)
	rec = s.book(other, "10:00")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeBody[ErrorResponse](t, rec).Error)
}

func TestBookAppointment_UppercaseIDs(t *testing.T) {
	s := newTestServer(t)
	patient := uuid.New()
	tok := s.token(patient, auth.RolePatient)

	rec := s.do(http.MethodPost, "/appointments", tok, map[string]string{
		"patient_id":        strings.ToUpper(patient.String()),
		"doctor_id":         strings.ToUpper(s.doctorID.String()),
		"date":              s.date,
		"time_slot":         "11:00 AM",
		"consultation_type": "video",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	view := decodeBody[appointment.View](t, rec)
	assert.Equal(t, patient, view.PatientID)
	assert.Equal(t, s.doctorID, view.DoctorID)

	rec = s.do(http.MethodGet, "/appointments/"+strings.ToUpper(view.ID.String()), tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestBookAppointment_Validation(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(uuid.New(), auth.RolePatient)

	rec := s.do(http.MethodPost, "/appointments", tok, map[string]string{
		"doctor_id":         "not-a-uuid",
		"date":              "tomorrow",
		"time_slot":         "10:00 AM",
		"consultation_type": "phone",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", resp.Error)
	assert.Contains(t, resp.Fields, "doctor_id")
	assert.Contains(t, resp.Fields, "date")
	assert.Contains(t, resp.Fields, "consultation_type")
}

func TestBookAppointment_SlotNotOffered(t *testing.T) {
	s := newTestServer(t)
	rec := s.book(s.token(uuid.New(), auth.RolePatient), "01:00 PM")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBookAppointment_DoctorCannotBook(t *testing.T) {
	s := newTestServer(t)
	rec := s.book(s.token(s.doctorID, auth.RoleDoctor), "10:00 AM")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/doctors/"+s.doctorID.String()+"/availability?date="+s.date, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/doctors/"+s.doctorID.String()+"/availability?date="+s.date, "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLifecycle_OverHTTP(t *testing.T) {
	s := newTestServer(t)
	patient := uuid.New()
	patientTok := s.token(patient, auth.RolePatient)
	doctorTok := s.token(s.doctorID, auth.RoleDoctor)

	rec := s.book(patientTok, "11:30 AM")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[appointment.View](t, rec).ID.String()

	// the patient cannot accept their own appointment
	rec = s.do(http.MethodPost, "/appointments/"+id+"/accept", patientTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/appointments/"+id+"/accept", doctorTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, appointment.StatusConfirmed, decodeBody[appointment.View](t, rec).Status)

	rec = s.do(http.MethodPost, "/appointments/"+id+"/reject", doctorTok, map[string]string{"reason": "too late"})
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_transition", conflict.Error)
	assert.Equal(t, appointment.StatusConfirmed, conflict.CurrentStatus)

	rec = s.do(http.MethodGet, "/doctors/"+s.doctorID.String()+"/queue?date="+s.date, doctorTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decodeBody[QueueResponse](t, rec)
	require.Len(t, queue.Entries, 1)
	assert.Equal(t, 1, queue.Entries[0].Position)
	assert.Equal(t, patient, queue.Entries[0].PatientID)

	rec = s.do(http.MethodPost, "/appointments/"+id+"/start", doctorTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decodeBody[appointment.View](t, rec)
	assert.Equal(t, appointment.StatusInProgress, started.Status)
	assert.NotNil(t, started.ConsultationStartedAt)

	rec = s.do(http.MethodPost, "/appointments/"+id+"/complete", doctorTok, map[string]string{"diagnosis": "  "})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, appointment.GuardDiagnosisRequired, decodeBody[ErrorResponse](t, rec).Guard)

	rec = s.do(http.MethodPost, "/appointments/"+id+"/complete", doctorTok, map[string]interface{}{
		"diagnosis": "tension headache",
		"notes":     "hydrate",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[appointment.View](t, rec)
	assert.Equal(t, appointment.StatusCompleted, done.Status)
	assert.Equal(t, "tension headache", done.Diagnosis)

	rec = s.do(http.MethodGet, "/appointments/"+id+"/events", patientTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody[[]EventResponse](t, rec)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{
		appointment.EventAppointmentCreated,
		appointment.EventAppointmentConfirmed,
		appointment.EventAppointmentStarted,
		appointment.EventAppointmentCompleted,
	}, types)
}

func TestCancel_FreesSlot(t *testing.T) {
	s := newTestServer(t)
	patientTok := s.token(uuid.New(), auth.RolePatient)

	rec := s.book(patientTok, "09:00 AM")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[appointment.View](t, rec).ID.String()

	rec = s.do(http.MethodPost, "/appointments/"+id+"/cancel", patientTok, map[string]string{"reason": "travel"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decodeBody[appointment.View](t, rec)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)
	assert.Equal(t, appointment.RolePatient, cancelled.CancelledBy)
	assert.Equal(t, "travel", cancelled.CancellationReason)

	rec = s.do(http.MethodGet, "/doctors/"+s.doctorID.String()+"/availability?date="+s.date, patientTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decodeBody[AvailabilityResponse](t, rec)
	require.Len(t, avail.Slots, 14)
	for _, slot := range avail.Slots {
		assert.True(t, slot.Available, slot.TimeSlot)
	}

	rec = s.book(s.token(uuid.New(), auth.RolePatient), "09:00 AM")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAvailability_MarksBookedSlot(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(uuid.New(), auth.RolePatient)
	require.Equal(t, http.StatusCreated, s.book(tok, "02:00 PM").Code)

	rec := s.do(http.MethodGet, "/doctors/"+s.doctorID.String()+"/availability?date="+s.date, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decodeBody[AvailabilityResponse](t, rec)
	assert.Equal(t, s.date, avail.Date)

	for _, slot := range avail.Slots {
		assert.Equal(t, slot.TimeSlot != "02:00 PM", slot.Available, slot.TimeSlot)
	}

	rec = s.do(http.MethodGet, "/doctors/"+s.doctorID.String()+"/availability", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/doctors/"+s.doctorID.String()+"/availability?date=06/10/2025", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailability_UnknownDoctor(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(uuid.New(), auth.RolePatient)

	rec := s.do(http.MethodGet, "/doctors/"+uuid.NewString()+"/availability?date="+s.date, tok, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "doctor_not_found", decodeBody[ErrorResponse](t, rec).Error)
}

func TestGetAppointment_VisibilityAndNotFound(t *testing.T) {
	s := newTestServer(t)
	patientTok := s.token(uuid.New(), auth.RolePatient)

	rec := s.book(patientTok, "03:00 PM")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[appointment.View](t, rec).ID.String()

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/appointments/"+id, patientTok, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/appointments/"+id, s.token(s.doctorID, auth.RoleDoctor), nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/appointments/"+id, s.token(uuid.New(), auth.RoleAdmin), nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/appointments/"+id, s.token(uuid.New(), auth.RolePatient), nil).Code)

	rec = s.do(http.MethodGet, "/appointments/"+uuid.NewString(), patientTok, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/appointments/nope", patientTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAppointments(t *testing.T) {
	s := newTestServer(t)
	patient := uuid.New()
	patientTok := s.token(patient, auth.RolePatient)
	doctorTok := s.token(s.doctorID, auth.RoleDoctor)

	require.Equal(t, http.StatusCreated, s.book(patientTok, "09:30 AM").Code)
	require.Equal(t, http.StatusCreated, s.book(patientTok, "10:30 AM").Code)

	rec := s.do(http.MethodGet, "/patients/"+patient.String()+"/appointments", patientTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[AppointmentListResponse](t, rec).Count)

	rec = s.do(http.MethodGet, "/patients/"+uuid.NewString()+"/appointments", patientTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/doctors/"+s.doctorID.String()+"/appointments?date="+s.date, doctorTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[AppointmentListResponse](t, rec).Count)

	rec = s.do(http.MethodGet, "/doctors/"+s.doctorID.String()+"/appointments", patientTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[LivenessResponse](t, rec).Status)

	rec = s.do(http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decodeBody[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["postgres"])
	assert.Equal(t, "disabled", ready.Dependencies["redis"])

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
