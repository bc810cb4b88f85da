package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleServiceError maps the appointment error taxonomy onto HTTP. Anything
// unrecognised is logged and reported as a 500 without internals.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *logrus.Logger, err error) {
	var (
		transitionErr *appointment.TransitionError
		guardErr      *appointment.GuardError
		validationErr *appointment.ValidationError
		notFoundErr   *appointment.NotFoundError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Details: err.Error(),
			Fields:  map[string]string{validationErr.Field: validationErr.Reason},
		})
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.As(err, &transitionErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:           "invalid_transition",
			Details:         err.Error(),
			CurrentStatus:   transitionErr.From,
			AttemptedStatus: transitionErr.To,
		})
	case errors.As(err, &guardErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:           "guard_failed",
			Details:         guardErr.Detail,
			CurrentStatus:   guardErr.From,
			AttemptedStatus: guardErr.To,
			Guard:           guardErr.Guard,
		})
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, notFoundErr.Resource+"_not_found", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrStoreUnavailable):
		log.WithError(err).WithField("request_id", GetRequestID(r.Context())).Error("appointment store unavailable")
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "please retry later")
	default:
		log.WithError(err).WithFields(logrus.Fields{
			"request_id": GetRequestID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Error("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
