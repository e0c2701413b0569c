package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Directory
	CreateDepartment(ctx context.Context, name string) (*Department, error)
	GetDepartmentByID(ctx context.Context, id uuid.UUID) (*Department, error)
	ListDepartments(ctx context.Context) ([]Department, error)
	DeleteDepartment(ctx context.Context, id uuid.UUID) error

	CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]Doctor, error)
	DeleteDoctor(ctx context.Context, id uuid.UUID) error

	CreatePatient(ctx context.Context, p Patient) (*Patient, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByPhone(ctx context.Context, phone string) (*Patient, error)
	// DeletePatient removes the patient and returns the appointments deleted
	// with it.
	DeletePatient(ctx context.Context, id uuid.UUID) ([]Appointment, error)

	// Reads
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// LoadSchedule returns the non-cancelled appointments of one doctor on one
	// date, ordered by start time.
	LoadSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)

	// WithScheduleTx runs fn inside one atomic unit that holds the
	// (doctorID, date) serialization lock. A lock that cannot be taken within
	// the store's bounded wait yields ErrBusy.
	WithScheduleTx(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context, tx ScheduleTx) error) error

	// Status machine commit, guarded by the expected current status. The
	// event built from the updated row is written in the same transaction.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, event func(Appointment) EventLog) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID, event func(Appointment) EventLog) (*Appointment, error)
}

// ScheduleTx is the write side of one doctor-day, valid only inside
// Repository.WithScheduleTx.
type ScheduleTx interface {
	LoadSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	MoveAppointment(ctx context.Context, id uuid.UUID, date time.Time, start TimeOfDay, duration int) (*Appointment, error)
	InsertEvent(ctx context.Context, ev EventLog) error
}
