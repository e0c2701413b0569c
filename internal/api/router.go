package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/metrics"
)

// AppointmentService is the part of *appointment.Service the handlers use.
type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.AppointmentDetail, error)
	Reschedule(ctx context.Context, req appointment.RescheduleRequest) (*appointment.AppointmentDetail, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, requested appointment.Status) (*appointment.Appointment, error)
	GenerateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, duration int) ([]appointment.Slot, error)
	SuggestAlternatives(ctx context.Context, doctorID uuid.UUID, date time.Time, duration int, excludeID *uuid.UUID, limit int) ([]appointment.TimeOfDay, error)
	ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	CreateDepartment(ctx context.Context, req appointment.CreateDepartmentRequest) (*appointment.Department, error)
	GetDepartment(ctx context.Context, id uuid.UUID) (*appointment.Department, error)
	ListDepartments(ctx context.Context) ([]appointment.Department, error)
	DeleteDepartment(ctx context.Context, id uuid.UUID) error

	CreateDoctor(ctx context.Context, req appointment.CreateDoctorRequest) (*appointment.Doctor, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*appointment.Doctor, error)
	ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]appointment.Doctor, error)
	DeleteDoctor(ctx context.Context, id uuid.UUID) error

	RegisterPatient(ctx context.Context, req appointment.RegisterPatientRequest) (*appointment.Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*appointment.Patient, error)
	FindPatientByPhone(ctx context.Context, phone string) (*appointment.Patient, error)
	DeletePatient(ctx context.Context, id uuid.UUID) error
}

type RouterConfig struct {
	Service  AppointmentService
	Postgres Pinger
	Redis    Pinger
	Logger   zerolog.Logger
	Env      string
	Version  string
	// Alternatives caps the free starts offered with a booking conflict.
	Alternatives int
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Alternatives <= 0 {
		cfg.Alternatives = 5
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware)
	r.Use(metrics.HTTPMiddleware)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler())

	svc := cfg.Service

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(svc, cfg.Alternatives))
		r.Get("/{id}", getAppointmentHandler(svc))
		r.Delete("/{id}", deleteAppointmentHandler(svc))
		r.Patch("/{id}/status", changeStatusHandler(svc))
		r.Put("/{id}/schedule", rescheduleAppointmentHandler(svc, cfg.Alternatives))
	})

	r.Route("/departments", func(r chi.Router) {
		r.Post("/", createDepartmentHandler(svc))
		r.Get("/", listDepartmentsHandler(svc))
		r.Get("/{id}", getDepartmentHandler(svc))
		r.Delete("/{id}", deleteDepartmentHandler(svc))
	})

	r.Route("/doctors", func(r chi.Router) {
		r.Post("/", createDoctorHandler(svc))
		r.Get("/", listDoctorsHandler(svc))
		r.Get("/{id}", getDoctorHandler(svc))
		r.Delete("/{id}", deleteDoctorHandler(svc))
		r.Get("/{id}/slots", listSlotsHandler(svc))
		r.Get("/{id}/appointments", listDoctorDayHandler(svc))
	})

	r.Route("/patients", func(r chi.Router) {
		r.Post("/", registerPatientHandler(svc))
		r.Get("/", findPatientHandler(svc))
		r.Get("/{id}", getPatientHandler(svc))
		r.Delete("/{id}", deletePatientHandler(svc))
		r.Get("/{id}/appointments", listPatientAppointmentsHandler(svc))
	})

	return r
}
