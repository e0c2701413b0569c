package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (s *Service) CreateDepartment(ctx context.Context, req CreateDepartmentRequest) (*Department, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := asValidationError(validateStruct(req)); err != nil {
		return nil, err
	}
	return s.repo.CreateDepartment(ctx, req.Name)
}

func (s *Service) GetDepartment(ctx context.Context, id uuid.UUID) (*Department, error) {
	return s.repo.GetDepartmentByID(ctx, id)
}

func (s *Service) ListDepartments(ctx context.Context) ([]Department, error) {
	return s.repo.ListDepartments(ctx)
}

// DeleteDepartment leaves the department's doctors in place, unassigned.
func (s *Service) DeleteDepartment(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteDepartment(ctx, id)
}

func (s *Service) CreateDoctor(ctx context.Context, req CreateDoctorRequest) (*Doctor, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := asValidationError(validateStruct(req)); err != nil {
		return nil, err
	}
	if req.DepartmentID != nil {
		if _, err := s.repo.GetDepartmentByID(ctx, *req.DepartmentID); err != nil {
			return nil, err
		}
	}

	doctor, err := s.repo.CreateDoctor(ctx, Doctor{
		Name:         req.Name,
		DepartmentID: req.DepartmentID,
		Email:        req.Email,
		Phone:        req.Phone,
	})
	if err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}
	s.logger.Info().Str("doctor_id", doctor.ID.String()).Msg("doctor created")
	return doctor, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetDoctorByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]Doctor, error) {
	return s.repo.ListDoctors(ctx, departmentID)
}

// DeleteDoctor fails with ErrInUse while any appointment references the doctor.
func (s *Service) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteDoctor(ctx, id)
}

// RegisterPatient creates a patient. The phone number is the natural key; a
// second registration with the same phone fails with ErrDuplicate.
func (s *Service) RegisterPatient(ctx context.Context, req RegisterPatientRequest) (*Patient, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := asValidationError(validateStruct(req)); err != nil {
		return nil, err
	}

	patient, err := s.repo.CreatePatient(ctx, Patient{
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("register patient: %w", err)
	}
	s.logger.Info().Str("patient_id", patient.ID.String()).Msg("patient registered")
	return patient, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetPatientByID(ctx, id)
}

func (s *Service) FindPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	return s.repo.GetPatientByPhone(ctx, strings.TrimSpace(phone))
}

// DeletePatient removes the patient together with all their appointments.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	removed, err := s.repo.DeletePatient(ctx, id)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(removed))
	for _, a := range removed {
		keys = append(keys, scheduleKey(a.DoctorID, a.Date))
	}
	s.invalidate(ctx, keys...)

	s.logger.Info().
		Str("patient_id", id.String()).
		Int("appointments_removed", len(removed)).
		Msg("patient deleted")
	return nil
}
