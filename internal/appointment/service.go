package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/metrics"
	redisclient "github.com/hackgods/hospital-appointment-scheduling/internal/redis"
)

const (
	EventAppointmentBooked        = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled   = "APPOINTMENT_RESCHEDULED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cache  redisclient.Cache
	grid   SlotGrid
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

type Option func(*Service)

// WithCache enables the read-path schedule cache.
func WithCache(c redisclient.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the scheduling core. locker may be nil, in which case
// writes are serialized by the store's transaction lock alone.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger zerolog.Logger, opts ...Option) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		repo:   repo,
		locker: locker,
		grid: SlotGrid{
			DayStart: TimeOfDay(cfg.DayStart),
			DayEnd:   TimeOfDay(cfg.DayEnd),
			Step:     cfg.SlotMinutes,
		},
		loc:    loc,
		now:    time.Now,
		logger: logger.With().Str("component", "appointment").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Grid() SlotGrid {
	return s.grid
}

// today is the current calendar day in the facility timezone.
func (s *Service) today() time.Time {
	return DateOf(s.now().In(s.loc))
}

// Book reserves an interval on a doctor's calendar. Existence of the patient
// and doctor is checked first, then the request is validated, then the
// doctor-day is locked and the schedule re-read before the insert.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*AppointmentDetail, error) {
	patient, err := s.repo.GetPatientByID(ctx, req.PatientID)
	if err != nil {
		return nil, s.writeFailed("book", err)
	}
	doctor, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		return nil, s.writeFailed("book", err)
	}

	if err := req.validate(s.today()); err != nil {
		return nil, s.writeFailed("book", err)
	}

	date := DateOf(req.Date)
	candidate := Interval{Start: req.Start, Duration: req.Duration}

	var created *Appointment
	err = s.serialize(ctx, req.DoctorID, date, func(ctx context.Context, tx ScheduleTx) error {
		schedule, err := tx.LoadSchedule(ctx, req.DoctorID, date)
		if err != nil {
			return err
		}
		if conflicts := FindConflicting(schedule, candidate, nil); len(conflicts) > 0 {
			return newConflict(req.DoctorID, date, candidate, nil, conflicts)
		}

		appt, err := tx.InsertAppointment(ctx, Appointment{
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			Date:      date,
			Start:     req.Start,
			Duration:  req.Duration,
			Status:    StatusScheduled,
			Notes:     req.Notes,
		})
		if err != nil {
			return err
		}

		ev := s.newEvent(appt.ID, EventAppointmentBooked, map[string]any{
			"doctor_id":        appt.DoctorID.String(),
			"patient_id":       appt.PatientID.String(),
			"date":             appt.Date.Format(DateLayout),
			"time":             appt.Start.String(),
			"duration_minutes": appt.Duration,
		})
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		err = s.resolveOverlap(ctx, err, req.DoctorID, date, candidate, nil)
		return nil, s.writeFailed("book", err)
	}

	s.invalidate(ctx, scheduleKey(created.DoctorID, created.Date))
	metrics.RecordWrite("book", "ok")
	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Str("date", created.Date.Format(DateLayout)).
		Str("interval", created.Interval().String()).
		Msg("appointment booked")

	return s.detail(ctx, *created, patient.Name, doctor), nil
}

// Reschedule moves a scheduled appointment to a new date and time, keeping
// its duration unless the request sets one. The appointment never conflicts
// with itself.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (*AppointmentDetail, error) {
	current, err := s.repo.GetAppointmentDetail(ctx, req.AppointmentID)
	if err != nil {
		return nil, s.writeFailed("reschedule", err)
	}

	if req.Duration == 0 {
		req.Duration = current.Duration
	}
	if err := req.validate(s.today()); err != nil {
		return nil, s.writeFailed("reschedule", err)
	}
	if current.Status != StatusScheduled {
		return nil, s.writeFailed("reschedule", &ValidationError{Fields: []FieldError{{
			Field:   "status",
			Rule:    "reschedulable",
			Message: fmt.Sprintf("only scheduled appointments can be rescheduled, this one is %s", current.Status),
		}}})
	}

	doctorID := current.DoctorID
	date := DateOf(req.Date)
	candidate := Interval{Start: req.Start, Duration: req.Duration}
	self := current.ID

	var moved *Appointment
	err = s.serialize(ctx, doctorID, date, func(ctx context.Context, tx ScheduleTx) error {
		schedule, err := tx.LoadSchedule(ctx, doctorID, date)
		if err != nil {
			return err
		}
		if conflicts := FindConflicting(schedule, candidate, &self); len(conflicts) > 0 {
			return newConflict(doctorID, date, candidate, &self, conflicts)
		}

		appt, err := tx.MoveAppointment(ctx, self, date, req.Start, req.Duration)
		if err != nil {
			return err
		}

		ev := s.newEvent(appt.ID, EventAppointmentRescheduled, map[string]any{
			"doctor_id":     doctorID.String(),
			"from_date":     current.Date.Format(DateLayout),
			"from_time":     current.Start.String(),
			"from_duration": current.Duration,
			"to_date":       appt.Date.Format(DateLayout),
			"to_time":       appt.Start.String(),
			"to_duration":   appt.Duration,
		})
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return err
		}

		moved = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			err = s.changedConcurrently(ctx, self)
		}
		err = s.resolveOverlap(ctx, err, doctorID, date, candidate, &self)
		return nil, s.writeFailed("reschedule", err)
	}

	s.invalidate(ctx, scheduleKey(doctorID, current.Date), scheduleKey(doctorID, moved.Date))
	metrics.RecordWrite("reschedule", "ok")
	s.logger.Info().
		Str("appointment_id", moved.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("date", moved.Date.Format(DateLayout)).
		Str("interval", moved.Interval().String()).
		Msg("appointment rescheduled")

	detail := *current
	detail.Appointment = *moved
	return &detail, nil
}

// ChangeStatus applies one lifecycle transition. The write is conditional on
// the status read just before it; losing that race reports ErrBusy.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, requested Status) (*Appointment, error) {
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	next, err := Transition(current.Status, requested)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, current.Status, next, func(a Appointment) EventLog {
		return s.newEvent(a.ID, EventAppointmentStatusChanged, map[string]any{
			"doctor_id": a.DoctorID.String(),
			"date":      a.Date.Format(DateLayout),
			"from":      string(current.Status),
			"to":        string(next),
		})
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, s.changedConcurrently(ctx, id)
		}
		return nil, fmt.Errorf("change appointment status: %w", err)
	}

	s.invalidate(ctx, scheduleKey(updated.DoctorID, updated.Date))
	metrics.RecordStatusChange(string(next))

	return updated, nil
}

// GenerateSlots reports the availability of every grid cell of one doctor-day
// for a candidate of duration minutes (the grid step when duration is 0).
func (s *Service) GenerateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, duration int) ([]Slot, error) {
	if err := validateQueryDuration(duration); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	schedule, err := s.readSchedule(ctx, doctorID, DateOf(date))
	if err != nil {
		return nil, err
	}
	return GenerateSlots(schedule, s.grid, duration), nil
}

// SuggestAlternatives lists up to limit bookable starts for duration on the
// doctor-day. It backs the alternatives offered with a scheduling conflict.
// excludeID names an appointment being moved, whose current interval counts
// as free.
func (s *Service) SuggestAlternatives(ctx context.Context, doctorID uuid.UUID, date time.Time, duration int, excludeID *uuid.UUID, limit int) ([]TimeOfDay, error) {
	if err := validateQueryDuration(duration); err != nil {
		return nil, err
	}
	schedule, err := s.readSchedule(ctx, doctorID, DateOf(date))
	if err != nil {
		return nil, err
	}
	return AvailableStarts(schedule, s.grid, duration, excludeID, limit), nil
}

// ListDoctorDay returns the doctor's non-cancelled appointments on date.
func (s *Service) ListDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.readSchedule(ctx, doctorID, DateOf(date))
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// DeleteAppointment hard-deletes an appointment in any status.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.repo.DeleteAppointment(ctx, id, func(a Appointment) EventLog {
		return s.newEvent(a.ID, EventAppointmentDeleted, map[string]any{
			"doctor_id":  a.DoctorID.String(),
			"patient_id": a.PatientID.String(),
			"date":       a.Date.Format(DateLayout),
			"time":       a.Start.String(),
			"status":     string(a.Status),
		})
	})
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.invalidate(ctx, scheduleKey(deleted.DoctorID, deleted.Date))
	return nil
}

// serialize runs fn in the store's doctor-day transaction, under the Redis
// doctor-day lock when one is configured and reachable.
func (s *Service) serialize(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context, tx ScheduleTx) error) error {
	if s.locker == nil {
		return s.repo.WithScheduleTx(ctx, doctorID, date, fn)
	}

	waitStart := time.Now()
	entered := false
	err := s.locker.WithLock(ctx, scheduleKey(doctorID, date), func(lockCtx context.Context) error {
		entered = true
		metrics.ObserveLockWait(time.Since(waitStart))
		return s.repo.WithScheduleTx(lockCtx, doctorID, date, fn)
	})
	if err == nil || entered {
		return err
	}

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return fmt.Errorf("doctor %s on %s: %w", doctorID, date.Format(DateLayout), ErrBusy)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		// The database lock and exclusion constraint still hold without Redis.
		s.logger.Warn().Err(err).Msg("redis lock unavailable, using database lock only")
		return s.repo.WithScheduleTx(ctx, doctorID, date, fn)
	}
}

// resolveOverlap turns a storage-level overlap rejection into the same
// ConflictError the in-transaction check produces.
func (s *Service) resolveOverlap(ctx context.Context, err error, doctorID uuid.UUID, date time.Time, candidate Interval, excludeID *uuid.UUID) error {
	if !errors.Is(err, ErrOverlapConstraint) {
		return err
	}
	s.logger.Warn().
		Str("doctor_id", doctorID.String()).
		Str("date", date.Format(DateLayout)).
		Msg("overlap rejected by storage constraint")

	schedule, loadErr := s.repo.LoadSchedule(ctx, doctorID, date)
	if loadErr != nil {
		return newConflict(doctorID, date, candidate, excludeID, nil)
	}
	return newConflict(doctorID, date, candidate, excludeID, FindConflicting(schedule, candidate, excludeID))
}

func newConflict(doctorID uuid.UUID, date time.Time, candidate Interval, excludeID *uuid.UUID, conflicts []Appointment) *ConflictError {
	return &ConflictError{
		Conflicts: conflicts,
		DoctorID:  doctorID,
		Date:      date,
		Candidate: candidate,
		ExcludeID: excludeID,
	}
}

// changedConcurrently explains a conditional write that matched no row.
func (s *Service) changedConcurrently(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetAppointmentByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("appointment %s changed concurrently: %w", id, ErrBusy)
}

func (s *Service) writeFailed(op string, err error) error {
	metrics.RecordWrite(op, outcomeOf(err))
	return err
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSchedulingConflict):
		return "conflict"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrRepositoryUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func validateQueryDuration(duration int) error {
	if duration == 0 || (duration >= MinDuration && duration <= MaxDuration) {
		return nil
	}
	return &ValidationError{Fields: []FieldError{{
		Field:   "duration",
		Rule:    "range",
		Message: fmt.Sprintf("must be between %d and %d", MinDuration, MaxDuration),
	}}}
}

func (s *Service) detail(ctx context.Context, a Appointment, patientName string, doctor *Doctor) *AppointmentDetail {
	d := &AppointmentDetail{
		Appointment: a,
		PatientName: patientName,
		DoctorName:  doctor.Name,
	}
	if doctor.DepartmentID != nil {
		dep, err := s.repo.GetDepartmentByID(ctx, *doctor.DepartmentID)
		if err != nil {
			s.logger.Warn().Err(err).Str("doctor_id", doctor.ID.String()).Msg("department lookup failed")
		} else {
			d.DepartmentName = &dep.Name
		}
	}
	return d
}

// Schedule cache

// readSchedule serves a doctor-day from the cache when it can. A miss is
// written back under the generation observed before the store read, so a
// commit that invalidates in between leaves the copy unreachable.
func (s *Service) readSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	if s.cache == nil {
		metrics.RecordScheduleRead("off")
		return s.repo.LoadSchedule(ctx, doctorID, date)
	}

	key := scheduleKey(doctorID, date)
	data, gen, err := s.cache.Get(ctx, key)
	writeBack := true
	switch {
	case err == nil:
		var schedule []Appointment
		if err := json.Unmarshal(data, &schedule); err == nil {
			metrics.RecordScheduleRead("hit")
			return schedule, nil
		}
		s.logger.Warn().Str("key", key).Msg("discarding undecodable schedule cache entry")
	case !errors.Is(err, redisclient.ErrCacheMiss):
		writeBack = false
		s.logger.Warn().Err(err).Str("key", key).Msg("schedule cache read failed")
	}

	metrics.RecordScheduleRead("miss")
	schedule, err := s.repo.LoadSchedule(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	if !writeBack {
		return schedule, nil
	}
	if data, err := json.Marshal(schedule); err == nil {
		if err := s.cache.Set(ctx, key, gen, data); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("schedule cache write failed")
		}
	}
	return schedule, nil
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), keys...); err != nil {
		s.logger.Error().Err(err).Strs("keys", keys).Msg("schedule cache invalidation failed")
	}
}

// Events

func (s *Service) newEvent(appointmentID uuid.UUID, eventType string, payload map[string]any) EventLog {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID
	return EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
}
