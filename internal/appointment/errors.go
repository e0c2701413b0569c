package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrNotFound              = errors.New("not found")
	ErrSchedulingConflict    = errors.New("scheduling conflict")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrBusy                  = errors.New("doctor calendar is busy, please retry")
	ErrRepositoryUnavailable = errors.New("repository unavailable")
	ErrDuplicate             = errors.New("duplicate record")
	ErrInUse                 = errors.New("record is still referenced")
)

var (
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrDepartmentNotFound  = fmt.Errorf("department %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)

	// ErrOverlapConstraint is raised by the store when its exclusion
	// constraint rejects a write. The service turns it into a ConflictError.
	ErrOverlapConstraint = errors.New("overlap constraint violated")
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(msgs, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError carries the appointments a candidate interval collided with,
// along with the doctor-day and candidate that were rejected. ExcludeID is set
// when the candidate is an existing appointment being moved.
type ConflictError struct {
	Conflicts []Appointment
	DoctorID  uuid.UUID
	Date      time.Time
	Candidate Interval
	ExcludeID *uuid.UUID
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, c.ID.String())
	}
	return fmt.Sprintf("%s with %d appointment(s): %s", ErrSchedulingConflict, len(e.Conflicts), strings.Join(ids, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrSchedulingConflict }

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrRepositoryUnavailable, err)
}
