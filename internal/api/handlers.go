package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

func bookAppointmentHandler(svc AppointmentService, alternatives int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		var fields fieldErrors
		patientID := fields.parseUUID("patient_id", req.PatientID)
		doctorID := fields.parseUUID("doctor_id", req.DoctorID)
		date := fields.parseDate("date", req.Date)
		start := fields.parseTime("time", req.Time)
		if len(fields) > 0 {
			writeValidationError(w, fields)
			return
		}

		detail, err := svc.Book(r.Context(), appointment.BookingRequest{
			PatientID: patientID,
			DoctorID:  doctorID,
			Date:      date,
			Start:     start,
			Duration:  req.DurationMinutes,
			Notes:     req.Notes,
		})
		if err != nil {
			var cerr *appointment.ConflictError
			if errors.As(err, &cerr) {
				writeConflict(w, r, svc, cerr, alternatives)
				return
			}
			handleServiceError(w, r, err)
			return
		}

		w.Header().Set("Location", "/appointments/"+detail.ID.String())
		writeJSON(w, http.StatusCreated, toAppointmentDetailResponse(*detail))
	}
}

func rescheduleAppointmentHandler(svc AppointmentService, alternatives int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		var fields fieldErrors
		date := fields.parseDate("date", req.Date)
		start := fields.parseTime("time", req.Time)
		if len(fields) > 0 {
			writeValidationError(w, fields)
			return
		}

		detail, err := svc.Reschedule(r.Context(), appointment.RescheduleRequest{
			AppointmentID: id,
			Date:          date,
			Start:         start,
			Duration:      req.DurationMinutes,
		})
		if err != nil {
			var cerr *appointment.ConflictError
			if errors.As(err, &cerr) {
				writeConflict(w, r, svc, cerr, alternatives)
				return
			}
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentDetailResponse(*detail))
	}
}

// writeConflict answers 409 with the colliding appointments and, best effort,
// the free starts of the same doctor-day for the rejected candidate's
// duration.
func writeConflict(w http.ResponseWriter, r *http.Request, svc AppointmentService, cerr *appointment.ConflictError, limit int) {
	resp := ConflictResponse{
		Error:     "scheduling_conflict",
		Details:   "the requested interval overlaps existing appointments",
		Conflicts: toAppointmentResponses(cerr.Conflicts),
	}
	if cerr.DoctorID != uuid.Nil {
		alts, err := svc.SuggestAlternatives(r.Context(), cerr.DoctorID, cerr.Date, cerr.Candidate.Duration, cerr.ExcludeID, limit)
		if err == nil {
			resp.Alternatives = alts
		}
	}
	writeJSON(w, http.StatusConflict, resp)
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentDetailResponse(*detail))
	}
}

func deleteAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		if err := svc.DeleteAppointment(r.Context(), id); err != nil {
			handleServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func changeStatusHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req ChangeStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		status, err := appointment.ParseStatus(strings.TrimSpace(req.Status))
		if err != nil {
			writeValidationError(w, []appointment.FieldError{{Field: "status", Rule: "oneof", Message: err.Error()}})
			return
		}

		appt, err := svc.ChangeStatus(r.Context(), id, status)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func listSlotsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var fields fieldErrors
		q := r.URL.Query()
		date := fields.parseDate("date", q.Get("date"))
		duration := fields.parseOptionalInt("duration", q.Get("duration"))
		if len(fields) > 0 {
			writeValidationError(w, fields)
			return
		}

		slots, err := svc.GenerateSlots(r.Context(), doctorID, date, duration)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := SlotsResponse{
			DoctorID:        doctorID,
			Date:            date.Format(appointment.DateLayout),
			DurationMinutes: duration,
			Slots:           make([]SlotResponse, 0, len(slots)),
		}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, SlotResponse{Time: s.Start, Available: s.Available})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listDoctorDayHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var fields fieldErrors
		date := fields.parseDate("date", r.URL.Query().Get("date"))
		if len(fields) > 0 {
			writeValidationError(w, fields)
			return
		}

		list, err := svc.ListDoctorDay(r.Context(), doctorID, date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, ListResponse[AppointmentResponse]{Items: toAppointmentResponses(list)})
	}
}

func listPatientAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var fields fieldErrors
		q := r.URL.Query()
		limit := fields.parseOptionalInt("limit", q.Get("limit"))
		offset := fields.parseOptionalInt("offset", q.Get("offset"))
		if len(fields) > 0 {
			writeValidationError(w, fields)
			return
		}

		list, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, ListResponse[AppointmentResponse]{
			Items:  toAppointmentResponses(list),
			Limit:  limit,
			Offset: offset,
		})
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// fieldErrors collects wire-format problems before a request reaches the
// service.
type fieldErrors []appointment.FieldError

func (f *fieldErrors) add(field, rule, msg string) {
	*f = append(*f, appointment.FieldError{Field: field, Rule: rule, Message: msg})
}

func (f *fieldErrors) parseUUID(field, raw string) uuid.UUID {
	if raw == "" {
		f.add(field, "required", "is required")
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		f.add(field, "uuid", "must be a valid UUID")
		return uuid.Nil
	}
	return id
}

func (f *fieldErrors) parseDate(field, raw string) time.Time {
	if raw == "" {
		f.add(field, "required", "is required")
		return time.Time{}
	}
	d, err := appointment.ParseDate(raw)
	if err != nil {
		f.add(field, "date", "must be a date in YYYY-MM-DD format")
		return time.Time{}
	}
	return d
}

func (f *fieldErrors) parseTime(field, raw string) appointment.TimeOfDay {
	if raw == "" {
		f.add(field, "required", "is required")
		return 0
	}
	t, err := appointment.ParseTimeOfDay(raw)
	if err != nil {
		f.add(field, "time", "must be a time in HH:MM format")
		return 0
	}
	return t
}

func (f *fieldErrors) parseOptionalInt(field, raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		f.add(field, "integer", "must be a non-negative integer")
		return 0
	}
	return n
}
