package appointment

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	MinDuration    = 15
	MaxDuration    = 240
	MaxNotesLength = 1000
)

// Field constraints are declared as struct tags on the request types below and
// evaluated by validateStruct; rules that need context (the clock, the day
// boundary) are checked next to it.

type BookingRequest struct {
	PatientID uuid.UUID `json:"patient_id" validate:"required"`
	DoctorID  uuid.UUID `json:"doctor_id" validate:"required"`
	Date      time.Time `json:"date" validate:"required"`
	Start     TimeOfDay `json:"time" validate:"min=0,max=1439"`
	Duration  int       `json:"duration_minutes" validate:"min=15,max=240"`
	Notes     string    `json:"notes" validate:"max=1000"`
}

type RescheduleRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id" validate:"required"`
	Date          time.Time `json:"date" validate:"required"`
	Start         TimeOfDay `json:"time" validate:"min=0,max=1439"`
	Duration      int       `json:"duration_minutes" validate:"min=15,max=240"`
}

type CreateDepartmentRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type CreateDoctorRequest struct {
	Name         string     `json:"name" validate:"required,max=200"`
	DepartmentID *uuid.UUID `json:"department_id"`
	Email        *string    `json:"email" validate:"omitempty,email,max=254"`
	Phone        *string    `json:"phone" validate:"omitempty,phone"`
}

type RegisterPatientRequest struct {
	Name  string  `json:"name" validate:"required,max=200"`
	Phone string  `json:"phone" validate:"required,phone"`
	Email *string `json:"email" validate:"omitempty,email,max=254"`
}

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,19}$`)

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// validateStruct runs the tag rules of v and returns one FieldError per
// failed rule.
func validateStruct(v any) []FieldError {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "request", Rule: "invalid", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Rule: fe.Tag(), Message: ruleMessage(fe)})
	}
	return out
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	default:
		return "failed " + fe.Tag() + " rule"
	}
}

func asValidationError(fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// validateSlot checks the rules shared by booking and rescheduling: the day
// must not be in the past and the interval must end by midnight.
func validateSlot(date time.Time, start TimeOfDay, duration int, today time.Time) []FieldError {
	var out []FieldError
	if !date.IsZero() && date.Before(today) {
		out = append(out, FieldError{Field: "date", Rule: "not_past", Message: "must be today or later"})
	}
	if start >= 0 && int(start) < minutesPerDay && duration > 0 {
		iv := Interval{Start: start, Duration: duration}
		if iv.End() > minutesPerDay {
			out = append(out, FieldError{Field: "duration_minutes", Rule: "same_day", Message: "appointment must end by 24:00"})
		}
	}
	return out
}

func (r BookingRequest) validate(today time.Time) error {
	fields := validateStruct(r)
	fields = append(fields, validateSlot(r.Date, r.Start, r.Duration, today)...)
	return asValidationError(fields)
}

func (r RescheduleRequest) validate(today time.Time) error {
	fields := validateStruct(r)
	fields = append(fields, validateSlot(r.Date, r.Start, r.Duration, today)...)
	return asValidationError(fields)
}
