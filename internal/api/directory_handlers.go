package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

func createDepartmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DepartmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		dep, err := svc.CreateDepartment(r.Context(), appointment.CreateDepartmentRequest{Name: req.Name})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toDepartmentResponse(*dep))
	}
}

func listDepartmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListDepartments(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		items := make([]DepartmentResponse, 0, len(list))
		for _, d := range list {
			items = append(items, toDepartmentResponse(d))
		}
		writeJSON(w, http.StatusOK, ListResponse[DepartmentResponse]{Items: items})
	}
}

func getDepartmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		dep, err := svc.GetDepartment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toDepartmentResponse(*dep))
	}
}

func deleteDepartmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		if err := svc.DeleteDepartment(r.Context(), id); err != nil {
			handleServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func createDoctorHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DoctorRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		var departmentID *uuid.UUID
		if req.DepartmentID != nil && *req.DepartmentID != "" {
			var fields fieldErrors
			id := fields.parseUUID("department_id", *req.DepartmentID)
			if len(fields) > 0 {
				writeValidationError(w, fields)
				return
			}
			departmentID = &id
		}

		doc, err := svc.CreateDoctor(r.Context(), appointment.CreateDoctorRequest{
			Name:         req.Name,
			DepartmentID: departmentID,
			Email:        req.Email,
			Phone:        req.Phone,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toDoctorResponse(*doc))
	}
}

func listDoctorsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var departmentID *uuid.UUID
		if raw := r.URL.Query().Get("department_id"); raw != "" {
			var fields fieldErrors
			id := fields.parseUUID("department_id", raw)
			if len(fields) > 0 {
				writeValidationError(w, fields)
				return
			}
			departmentID = &id
		}

		list, err := svc.ListDoctors(r.Context(), departmentID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		items := make([]DoctorResponse, 0, len(list))
		for _, d := range list {
			items = append(items, toDoctorResponse(d))
		}
		writeJSON(w, http.StatusOK, ListResponse[DoctorResponse]{Items: items})
	}
}

func getDoctorHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		doc, err := svc.GetDoctor(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoctorResponse(*doc))
	}
}

func deleteDoctorHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		if err := svc.DeleteDoctor(r.Context(), id); err != nil {
			handleServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func registerPatientHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatientRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		p, err := svc.RegisterPatient(r.Context(), appointment.RegisterPatientRequest{
			Name:  req.Name,
			Phone: req.Phone,
			Email: req.Email,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toPatientResponse(*p))
	}
}

// findPatientHandler looks a patient up by phone, the natural key.
func findPatientHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := r.URL.Query().Get("phone")
		if phone == "" {
			writeValidationError(w, []appointment.FieldError{{Field: "phone", Rule: "required", Message: "is required"}})
			return
		}

		p, err := svc.FindPatientByPhone(r.Context(), phone)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponse(*p))
	}
}

func getPatientHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		p, err := svc.GetPatient(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponse(*p))
	}
}

func deletePatientHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		if err := svc.DeletePatient(r.Context(), id); err != nil {
			handleServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
