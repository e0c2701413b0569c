package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeValidationError(w http.ResponseWriter, fields []appointment.FieldError) {
	writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Error:            "validation_failed",
		Details:          "request failed validation",
		ValidationErrors: fields,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// handleServiceError maps the scheduling core's error kinds onto HTTP.
// Unexpected errors are logged and reported without internals.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *appointment.ValidationError
		cerr *appointment.ConflictError
		terr *appointment.TransitionError
	)

	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr.Fields)
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusConflict, ConflictResponse{
			Error:     "scheduling_conflict",
			Details:   "the requested interval overlaps existing appointments",
			Conflicts: toAppointmentResponses(cerr.Conflicts),
		})
	case errors.Is(err, appointment.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:      "not_found",
			Details:    err.Error(),
			MissingRef: missingRef(err),
		})
	case errors.As(err, &terr):
		writeError(w, http.StatusBadRequest, "invalid_transition", terr.Error())
	case errors.Is(err, appointment.ErrBusy):
		w.Header().Set("Retry-After", strconv.Itoa(1))
		writeError(w, http.StatusServiceUnavailable, "busy", "the doctor's calendar is being modified, please retry")
	case errors.Is(err, appointment.ErrRepositoryUnavailable):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("repository unavailable")
		w.Header().Set("Retry-After", strconv.Itoa(5))
		writeError(w, http.StatusServiceUnavailable, "repository_unavailable", "storage is temporarily unavailable")
	case errors.Is(err, appointment.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate", err.Error())
	case errors.Is(err, appointment.ErrInUse):
		writeError(w, http.StatusConflict, "in_use", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func missingRef(err error) string {
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		return "patient"
	case errors.Is(err, appointment.ErrDoctorNotFound):
		return "doctor"
	case errors.Is(err, appointment.ErrDepartmentNotFound):
		return "department"
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		return "appointment"
	default:
		return ""
	}
}
