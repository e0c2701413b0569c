package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	Date            string `json:"date"` // YYYY-MM-DD
	Time            string `json:"time"` // HH:MM
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
}

// RescheduleAppointmentRequest keeps the current duration when
// duration_minutes is omitted.
type RescheduleAppointmentRequest struct {
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type ChangeStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID              uuid.UUID             `json:"id"`
	DoctorID        uuid.UUID             `json:"doctor_id"`
	PatientID       uuid.UUID             `json:"patient_id"`
	Date            string                `json:"date"`
	Time            appointment.TimeOfDay `json:"time"`
	EndTime         appointment.TimeOfDay `json:"end_time"`
	DurationMinutes int                   `json:"duration_minutes"`
	Status          string                `json:"status"`
	Notes           string                `json:"notes,omitempty"`
	PatientName     string                `json:"patient_name,omitempty"`
	DoctorName      string                `json:"doctor_name,omitempty"`
	DepartmentName  *string               `json:"department_name,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

type SlotResponse struct {
	Time      appointment.TimeOfDay `json:"time"`
	Available bool                  `json:"available"`
}

type SlotsResponse struct {
	DoctorID        uuid.UUID      `json:"doctor_id"`
	Date            string         `json:"date"`
	DurationMinutes int            `json:"duration_minutes"`
	Slots           []SlotResponse `json:"slots"`
}

type DepartmentRequest struct {
	Name string `json:"name"`
}

type DepartmentResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type DoctorRequest struct {
	Name         string  `json:"name"`
	DepartmentID *string `json:"department_id"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
}

type DoctorResponse struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	DepartmentID *uuid.UUID `json:"department_id,omitempty"`
	Email        *string    `json:"email,omitempty"`
	Phone        *string    `json:"phone,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type PatientRequest struct {
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Email *string `json:"email"`
}

type PatientResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type ErrorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	MissingRef string `json:"missing_ref,omitempty"`
}

type ValidationErrorResponse struct {
	Error            string                   `json:"error"`
	Details          string                   `json:"details,omitempty"`
	ValidationErrors []appointment.FieldError `json:"validation_errors"`
}

type ConflictResponse struct {
	Error        string                  `json:"error"`
	Details      string                  `json:"details,omitempty"`
	Conflicts    []AppointmentResponse   `json:"conflicts"`
	Alternatives []appointment.TimeOfDay `json:"alternatives,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		Date:            a.Date.Format(appointment.DateLayout),
		Time:            a.Start,
		EndTime:         appointment.TimeOfDay(a.Interval().End()),
		DurationMinutes: a.Duration,
		Status:          string(a.Status),
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toAppointmentDetailResponse(d appointment.AppointmentDetail) AppointmentResponse {
	resp := toAppointmentResponse(d.Appointment)
	resp.PatientName = d.PatientName
	resp.DoctorName = d.DoctorName
	resp.DepartmentName = d.DepartmentName
	return resp
}

func toAppointmentResponses(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

func toDepartmentResponse(d appointment.Department) DepartmentResponse {
	return DepartmentResponse{ID: d.ID, Name: d.Name, CreatedAt: d.CreatedAt}
}

func toDoctorResponse(d appointment.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:           d.ID,
		Name:         d.Name,
		DepartmentID: d.DepartmentID,
		Email:        d.Email,
		Phone:        d.Phone,
		CreatedAt:    d.CreatedAt,
	}
}

func toPatientResponse(p appointment.Patient) PatientResponse {
	return PatientResponse{ID: p.ID, Name: p.Name, Phone: p.Phone, Email: p.Email, CreatedAt: p.CreatedAt}
}
