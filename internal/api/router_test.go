package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

// fakeService stubs the handful of calls a test exercises. Calling anything
// else panics on the nil embedded interface.
type fakeService struct {
	AppointmentService

	book         func(appointment.BookingRequest) (*appointment.AppointmentDetail, error)
	reschedule   func(appointment.RescheduleRequest) (*appointment.AppointmentDetail, error)
	changeStatus func(uuid.UUID, appointment.Status) (*appointment.Appointment, error)
	slots        func(uuid.UUID, time.Time, int) ([]appointment.Slot, error)
	alternatives func(uuid.UUID, time.Time, int, *uuid.UUID, int) ([]appointment.TimeOfDay, error)
	getAppt      func(uuid.UUID) (*appointment.AppointmentDetail, error)
	listPatient  func(uuid.UUID, int, int) ([]appointment.Appointment, error)
	findPatient  func(string) (*appointment.Patient, error)
	deleteDoctor func(uuid.UUID) error
}

func (f *fakeService) Book(_ context.Context, req appointment.BookingRequest) (*appointment.AppointmentDetail, error) {
	return f.book(req)
}

func (f *fakeService) Reschedule(_ context.Context, req appointment.RescheduleRequest) (*appointment.AppointmentDetail, error) {
	return f.reschedule(req)
}

func (f *fakeService) ChangeStatus(_ context.Context, id uuid.UUID, s appointment.Status) (*appointment.Appointment, error) {
	return f.changeStatus(id, s)
}

func (f *fakeService) GenerateSlots(_ context.Context, doctorID uuid.UUID, date time.Time, duration int) ([]appointment.Slot, error) {
	return f.slots(doctorID, date, duration)
}

func (f *fakeService) SuggestAlternatives(_ context.Context, doctorID uuid.UUID, date time.Time, duration int, excludeID *uuid.UUID, limit int) ([]appointment.TimeOfDay, error) {
	if f.alternatives == nil {
		return nil, errors.New("not stubbed")
	}
	return f.alternatives(doctorID, date, duration, excludeID, limit)
}

func (f *fakeService) GetAppointment(_ context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error) {
	return f.getAppt(id)
}

func (f *fakeService) ListAppointmentsByPatient(_ context.Context, id uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	return f.listPatient(id, limit, offset)
}

func (f *fakeService) FindPatientByPhone(_ context.Context, phone string) (*appointment.Patient, error) {
	return f.findPatient(phone)
}

func (f *fakeService) DeleteDoctor(_ context.Context, id uuid.UUID) error {
	return f.deleteDoctor(id)
}

var okPing = PingFunc(func(context.Context) error { return nil })

func newTestServer(t *testing.T, svc AppointmentService) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Service:      svc,
		Postgres:     okPing,
		Redis:        okPing,
		Logger:       zerolog.Nop(),
		Env:          "test",
		Version:      "test",
		Alternatives: 3,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

var (
	doctorID  = uuid.MustParse("7b7c7c64-2f4f-4d47-9d5e-2a1d8f0b3c11")
	patientID = uuid.MustParse("0e6f3e1c-4c55-4a8e-9a39-5b6b1b1f2d22")
)

func bookBody(date, at string, duration int) string {
	return fmt.Sprintf(`{"patient_id":%q,"doctor_id":%q,"date":%q,"time":%q,"duration_minutes":%d}`,
		patientID, doctorID, date, at, duration)
}

func TestBookAppointment_Created(t *testing.T) {
	apptID := uuid.New()
	var got appointment.BookingRequest
	svc := &fakeService{book: func(req appointment.BookingRequest) (*appointment.AppointmentDetail, error) {
		got = req
		return &appointment.AppointmentDetail{
			Appointment: appointment.Appointment{
				ID: apptID, DoctorID: req.DoctorID, PatientID: req.PatientID,
				Date: req.Date, Start: req.Start, Duration: req.Duration, Status: appointment.StatusScheduled,
			},
			PatientName: "Ada Lovelace",
			DoctorName:  "Dr. Grey",
		}, nil
	}}
	srv := newTestServer(t, svc)

	resp := do(t, srv, http.MethodPost, "/appointments", bookBody("2030-03-11", "10:30", 45))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/appointments/"+apptID.String(), resp.Header.Get("Location"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	assert.Equal(t, doctorID, got.DoctorID)
	assert.Equal(t, appointment.TimeOfDay(10*60+30), got.Start)
	assert.Equal(t, 45, got.Duration)
	assert.Equal(t, "2030-03-11", got.Date.Format(appointment.DateLayout))

	body := decode[AppointmentResponse](t, resp)
	assert.Equal(t, apptID, body.ID)
	assert.Equal(t, "2030-03-11", body.Date)
	assert.Equal(t, "10:30", body.Time.String())
	assert.Equal(t, "11:15", body.EndTime.String())
	assert.Equal(t, "scheduled", body.Status)
	assert.Equal(t, "Dr. Grey", body.DoctorName)
}

func TestBookAppointment_WireErrors(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	resp := do(t, srv, http.MethodPost, "/appointments", `{"patient_id":"nope","date":"11/03/2030","time":"9am"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[ValidationErrorResponse](t, resp)
	assert.Equal(t, "validation_failed", body.Error)

	fields := map[string]string{}
	for _, f := range body.ValidationErrors {
		fields[f.Field] = f.Rule
	}
	assert.Equal(t, "uuid", fields["patient_id"])
	assert.Equal(t, "required", fields["doctor_id"])
	assert.Contains(t, fields, "date")
	assert.Contains(t, fields, "time")

	resp = do(t, srv, http.MethodPost, "/appointments", `{not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request_body", decode[ErrorResponse](t, resp).Error)
}

func TestBookAppointment_ConflictWithAlternatives(t *testing.T) {
	existing := appointment.Appointment{
		ID: uuid.New(), DoctorID: doctorID, PatientID: uuid.New(),
		Date: time.Date(2030, 3, 11, 0, 0, 0, 0, time.UTC), Start: 600, Duration: 30, Status: appointment.StatusScheduled,
	}
	var (
		altLimit, altDuration int
		altExclude            *uuid.UUID
	)
	svc := &fakeService{
		book: func(req appointment.BookingRequest) (*appointment.AppointmentDetail, error) {
			return nil, &appointment.ConflictError{
				Conflicts: []appointment.Appointment{existing},
				DoctorID:  req.DoctorID,
				Date:      req.Date,
				Candidate: appointment.Interval{Start: req.Start, Duration: req.Duration},
			}
		},
		alternatives: func(_ uuid.UUID, _ time.Time, duration int, excludeID *uuid.UUID, limit int) ([]appointment.TimeOfDay, error) {
			altDuration, altExclude, altLimit = duration, excludeID, limit
			return []appointment.TimeOfDay{630, 660}, nil
		},
	}
	srv := newTestServer(t, svc)

	resp := do(t, srv, http.MethodPost, "/appointments", bookBody("2030-03-11", "10:00", 30))
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[ConflictResponse](t, resp)
	assert.Equal(t, "scheduling_conflict", body.Error)
	require.Len(t, body.Conflicts, 1)
	assert.Equal(t, existing.ID, body.Conflicts[0].ID)
	assert.Equal(t, []appointment.TimeOfDay{630, 660}, body.Alternatives)
	assert.Equal(t, 3, altLimit)
	assert.Equal(t, 30, altDuration)
	assert.Nil(t, altExclude)
}

func TestRescheduleAppointment_ConflictAlternativesUseResolvedDuration(t *testing.T) {
	apptID := uuid.New()
	day := time.Date(2030, 3, 11, 0, 0, 0, 0, time.UTC)
	blocking := appointment.Appointment{
		ID: uuid.New(), DoctorID: doctorID, PatientID: uuid.New(),
		Date: day, Start: 600, Duration: 60, Status: appointment.StatusScheduled,
	}
	var (
		gotReq      appointment.RescheduleRequest
		altDoctor   uuid.UUID
		altDuration int
		altExclude  *uuid.UUID
	)
	svc := &fakeService{
		reschedule: func(req appointment.RescheduleRequest) (*appointment.AppointmentDetail, error) {
			gotReq = req
			// The service fills the omitted duration from the stored appointment.
			return nil, &appointment.ConflictError{
				Conflicts: []appointment.Appointment{blocking},
				DoctorID:  doctorID,
				Date:      day,
				Candidate: appointment.Interval{Start: req.Start, Duration: 60},
				ExcludeID: &req.AppointmentID,
			}
		},
		alternatives: func(doctor uuid.UUID, _ time.Time, duration int, excludeID *uuid.UUID, _ int) ([]appointment.TimeOfDay, error) {
			altDoctor, altDuration, altExclude = doctor, duration, excludeID
			return []appointment.TimeOfDay{540, 660}, nil
		},
	}
	srv := newTestServer(t, svc)

	resp := do(t, srv, http.MethodPut, "/appointments/"+apptID.String()+"/schedule", `{"date":"2030-03-11","time":"10:30"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[ConflictResponse](t, resp)
	assert.Equal(t, []appointment.TimeOfDay{540, 660}, body.Alternatives)
	assert.Equal(t, 0, gotReq.Duration, "omitted duration reaches the service unset")
	assert.Equal(t, doctorID, altDoctor)
	assert.Equal(t, 60, altDuration)
	require.NotNil(t, altExclude)
	assert.Equal(t, apptID, *altExclude)
}

func TestRescheduleAppointment_ConflictWithoutDetailsStill409(t *testing.T) {
	svc := &fakeService{reschedule: func(appointment.RescheduleRequest) (*appointment.AppointmentDetail, error) {
		return nil, &appointment.ConflictError{}
	}}
	srv := newTestServer(t, svc)

	resp := do(t, srv, http.MethodPut, "/appointments/"+uuid.NewString()+"/schedule", `{"date":"2030-03-11","time":"10:30"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[ConflictResponse](t, resp)
	assert.Empty(t, body.Alternatives)
}

func TestBookAppointment_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		missingRef string
		retryAfter string
	}{
		{"patient missing", fmt.Errorf("book: %w", appointment.ErrPatientNotFound), http.StatusNotFound, "not_found", "patient", ""},
		{"doctor missing", appointment.ErrDoctorNotFound, http.StatusNotFound, "not_found", "doctor", ""},
		{"busy", fmt.Errorf("doctor x: %w", appointment.ErrBusy), http.StatusServiceUnavailable, "busy", "", "1"},
		{"store down", fmt.Errorf("get doctor: %w", appointment.ErrRepositoryUnavailable), http.StatusServiceUnavailable, "repository_unavailable", "", "5"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeService{book: func(appointment.BookingRequest) (*appointment.AppointmentDetail, error) {
				return nil, tt.err
			}})

			resp := do(t, srv, http.MethodPost, "/appointments", bookBody("2030-03-11", "10:00", 30))
			require.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.retryAfter, resp.Header.Get("Retry-After"))

			body := decode[ErrorResponse](t, resp)
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, tt.missingRef, body.MissingRef)
			if tt.code == "internal_error" {
				assert.NotContains(t, body.Details, "boom")
			}
		})
	}
}

func TestBookAppointment_ServiceValidation(t *testing.T) {
	srv := newTestServer(t, &fakeService{book: func(appointment.BookingRequest) (*appointment.AppointmentDetail, error) {
		return nil, &appointment.ValidationError{Fields: []appointment.FieldError{{Field: "date", Rule: "not_past", Message: "must be today or later"}}}
	}})

	resp := do(t, srv, http.MethodPost, "/appointments", bookBody("2020-01-01", "10:00", 30))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[ValidationErrorResponse](t, resp)
	require.Len(t, body.ValidationErrors, 1)
	assert.Equal(t, "not_past", body.ValidationErrors[0].Rule)
}

func TestReschedule(t *testing.T) {
	apptID := uuid.New()
	svc := &fakeService{reschedule: func(req appointment.RescheduleRequest) (*appointment.AppointmentDetail, error) {
		assert.Equal(t, apptID, req.AppointmentID)
		assert.Equal(t, 0, req.Duration)
		return &appointment.AppointmentDetail{Appointment: appointment.Appointment{
			ID: apptID, Date: req.Date, Start: req.Start, Duration: 30, Status: appointment.StatusScheduled,
		}}, nil
	}}
	srv := newTestServer(t, svc)

	resp := do(t, srv, http.MethodPut, "/appointments/"+apptID.String()+"/schedule", `{"date":"2030-03-12","time":"15:00"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[AppointmentResponse](t, resp)
	assert.Equal(t, "2030-03-12", body.Date)
	assert.Equal(t, "15:00", body.Time.String())
}

func TestChangeStatus(t *testing.T) {
	apptID := uuid.New()
	svc := &fakeService{changeStatus: func(id uuid.UUID, s appointment.Status) (*appointment.Appointment, error) {
		if s == appointment.StatusScheduled {
			return nil, &appointment.TransitionError{From: appointment.StatusCancelled, To: s}
		}
		return &appointment.Appointment{ID: id, Status: s, Start: 540, Duration: 30}, nil
	}}
	srv := newTestServer(t, svc)
	path := "/appointments/" + apptID.String() + "/status"

	resp := do(t, srv, http.MethodPatch, path, `{"status":"checked_in"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "checked_in", decode[AppointmentResponse](t, resp).Status)

	resp = do(t, srv, http.MethodPatch, path, `{"status":"scheduled"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, resp).Error)

	resp = do(t, srv, http.MethodPatch, path, `{"status":"no_show"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_failed", decode[ValidationErrorResponse](t, resp).Error)

	resp = do(t, srv, http.MethodPatch, "/appointments/not-a-uuid/status", `{"status":"checked_in"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_id", decode[ErrorResponse](t, resp).Error)
}

func TestGetAppointment_NotFound(t *testing.T) {
	srv := newTestServer(t, &fakeService{getAppt: func(uuid.UUID) (*appointment.AppointmentDetail, error) {
		return nil, fmt.Errorf("get appointment: %w", appointment.ErrAppointmentNotFound)
	}})

	resp := do(t, srv, http.MethodGet, "/appointments/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "appointment", decode[ErrorResponse](t, resp).MissingRef)
}

func TestListSlots(t *testing.T) {
	svc := &fakeService{slots: func(id uuid.UUID, date time.Time, duration int) ([]appointment.Slot, error) {
		assert.Equal(t, doctorID, id)
		assert.Equal(t, 60, duration)
		return []appointment.Slot{{Start: 540, Available: false}, {Start: 570, Available: true}}, nil
	}}
	srv := newTestServer(t, svc)

	resp := do(t, srv, http.MethodGet, "/doctors/"+doctorID.String()+"/slots?date=2030-03-11&duration=60", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "2030-03-11", raw["date"])
	slots := raw["slots"].([]any)
	require.Len(t, slots, 2)
	assert.Equal(t, map[string]any{"time": "09:00", "available": false}, slots[0])
	assert.Equal(t, map[string]any{"time": "09:30", "available": true}, slots[1])

	resp = do(t, srv, http.MethodGet, "/doctors/"+doctorID.String()+"/slots", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/doctors/"+doctorID.String()+"/slots?date=2030-03-11&duration=abc", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListPatientAppointments(t *testing.T) {
	svc := &fakeService{listPatient: func(id uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
		assert.Equal(t, patientID, id)
		return []appointment.Appointment{{ID: uuid.New(), PatientID: id, Start: 540, Duration: 30, Status: appointment.StatusCompleted}}, nil
	}}
	srv := newTestServer(t, svc)

	resp := do(t, srv, http.MethodGet, "/patients/"+patientID.String()+"/appointments?limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[ListResponse[AppointmentResponse]](t, resp)
	assert.Len(t, body.Items, 1)
	assert.Equal(t, 10, body.Limit)
	assert.Equal(t, 20, body.Offset)
}

func TestFindPatientByPhone(t *testing.T) {
	svc := &fakeService{findPatient: func(phone string) (*appointment.Patient, error) {
		if phone != "+15550001111" {
			return nil, appointment.ErrPatientNotFound
		}
		return &appointment.Patient{ID: patientID, Name: "Ada", Phone: phone}, nil
	}}
	srv := newTestServer(t, svc)

	resp := do(t, srv, http.MethodGet, "/patients?phone=%2B15550001111", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, patientID, decode[PatientResponse](t, resp).ID)

	resp = do(t, srv, http.MethodGet, "/patients?phone=123", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/patients", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteDoctor_InUse(t *testing.T) {
	srv := newTestServer(t, &fakeService{deleteDoctor: func(uuid.UUID) error {
		return fmt.Errorf("delete doctor: %w", appointment.ErrInUse)
	}})

	resp := do(t, srv, http.MethodDelete, "/doctors/"+doctorID.String(), "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "in_use", decode[ErrorResponse](t, resp).Error)
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := newTestServer(t, &fakeService{getAppt: func(uuid.UUID) (*appointment.AppointmentDetail, error) {
		panic("nil map")
	}})

	resp := do(t, srv, http.MethodGet, "/appointments/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
