package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// queryable is satisfied by *pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStarter interface {
	queryable
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes the repository translates.
const (
	pgExclusionViolation  = "23P01"
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgLockNotAvailable    = "55P03"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
)

type PgRepository struct {
	pool        txStarter
	lockTimeout time.Duration
}

// NewPgRepository builds a repository over a pgx pool. lockTimeout bounds how
// long a booking waits for the doctor-day lock before failing with ErrBusy.
func NewPgRepository(pool txStarter, lockTimeout time.Duration) *PgRepository {
	return &PgRepository{pool: pool, lockTimeout: lockTimeout}
}

// Helpers

const appointmentCols = `id, doctor_id, patient_id, appointment_date, start_minute, duration_minutes, status, notes, created_at, updated_at`

func scanDepartment(row pgx.Row) (*Department, error) {
	var d Department
	if err := row.Scan(&d.ID, &d.Name, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDepartmentNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.DepartmentID,
		&d.Email,
		&d.Phone,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Phone,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a        Appointment
		start    int
		duration int
		status   string
	)
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Date,
		&start,
		&duration,
		&status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Start = TimeOfDay(start)
	a.Duration = duration
	a.Status = Status(status)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// classify maps driver errors onto the package's error kinds. Anything that
// is not a server-side error (refused connection, closed pool, timeouts) is
// reported as ErrRepositoryUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			return ErrOverlapConstraint
		case pgLockNotAvailable, pgSerializationFail, pgDeadlockDetected:
			return fmt.Errorf("%s: %w", op, ErrBusy)
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrDuplicate, pgErr.ConstraintName)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return unavailable(op, err)
}

// Directory

func (r *PgRepository) CreateDepartment(ctx context.Context, name string) (*Department, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO departments (id, name, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		RETURNING id, name, created_at, updated_at
	`, uuid.New(), name)
	d, err := scanDepartment(row)
	return d, classify("create department", err)
}

func (r *PgRepository) GetDepartmentByID(ctx context.Context, id uuid.UUID) (*Department, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at
		FROM departments
		WHERE id = $1
	`, id)
	d, err := scanDepartment(row)
	return d, classify("get department", err)
}

func (r *PgRepository) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, created_at, updated_at
		FROM departments
		ORDER BY name
	`)
	if err != nil {
		return nil, classify("list departments", err)
	}
	defer rows.Close()

	var result []Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, classify("list departments", err)
		}
		result = append(result, *d)
	}
	return result, classify("list departments", rows.Err())
}

// DeleteDepartment removes the department; doctors keep existing with a null
// department (ON DELETE SET NULL).
func (r *PgRepository) DeleteDepartment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM departments WHERE id = $1`, id)
	if err != nil {
		return classify("delete department", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDepartmentNotFound
	}
	return nil
}

const doctorCols = `id, name, department_id, email, phone, created_at, updated_at`

func (r *PgRepository) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctors (id, name, department_id, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+doctorCols, uuid.New(), d.Name, d.DepartmentID, d.Email, d.Phone)
	created, err := scanDoctor(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, ErrDepartmentNotFound
		}
		return nil, classify("create doctor", err)
	}
	return created, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id)
	d, err := scanDoctor(row)
	return d, classify("get doctor", err)
}

func (r *PgRepository) ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorCols+`
		FROM doctors
		WHERE $1::uuid IS NULL OR department_id = $1
		ORDER BY name
	`, departmentID)
	if err != nil {
		return nil, classify("list doctors", err)
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, classify("list doctors", err)
		}
		result = append(result, *d)
	}
	return result, classify("list doctors", rows.Err())
}

// DeleteDoctor refuses while appointments still reference the doctor.
func (r *PgRepository) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM doctors WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("delete doctor: %w", ErrInUse)
		}
		return classify("delete doctor", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

const patientCols = `id, name, phone, email, created_at, updated_at`

func (r *PgRepository) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, name, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING `+patientCols, uuid.New(), p.Name, p.Phone, p.Email)
	created, err := scanPatient(row)
	return created, classify("create patient", err)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	return p, classify("get patient", err)
}

func (r *PgRepository) GetPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE phone = $1`, phone)
	p, err := scanPatient(row)
	return p, classify("get patient by phone", err)
}

// DeletePatient removes the patient's appointments explicitly before the
// patient row so the caller learns which doctor-days changed.
func (r *PgRepository) DeletePatient(ctx context.Context, id uuid.UUID) ([]Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classify("begin delete patient", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `DELETE FROM appointments WHERE patient_id = $1 RETURNING `+appointmentCols, id)
	if err != nil {
		return nil, classify("delete patient appointments", err)
	}
	removed, err := collectAppointments(rows)
	if err != nil {
		return nil, classify("delete patient appointments", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return nil, classify("delete patient", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrPatientNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify("commit delete patient", err)
	}
	return removed, nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	return a, classify("get appointment", err)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT a.id, a.doctor_id, a.patient_id, a.appointment_date, a.start_minute, a.duration_minutes,
		       a.status, a.notes, a.created_at, a.updated_at,
		       p.name, d.name, dep.name
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN doctors d ON d.id = a.doctor_id
		LEFT JOIN departments dep ON dep.id = d.department_id
		WHERE a.id = $1
	`, id)

	var (
		detail   AppointmentDetail
		start    int
		duration int
		status   string
	)
	err := row.Scan(
		&detail.ID,
		&detail.DoctorID,
		&detail.PatientID,
		&detail.Date,
		&start,
		&duration,
		&status,
		&detail.Notes,
		&detail.CreatedAt,
		&detail.UpdatedAt,
		&detail.PatientName,
		&detail.DoctorName,
		&detail.DepartmentName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, classify("get appointment detail", err)
	}
	detail.Start = TimeOfDay(start)
	detail.Duration = duration
	detail.Status = Status(status)
	return &detail, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, start_minute DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, classify("list appointments by patient", err)
	}
	result, err := collectAppointments(rows)
	return result, classify("list appointments by patient", err)
}

func loadSchedule(ctx context.Context, q queryable, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status <> 'cancelled'
		ORDER BY start_minute
	`, doctorID, date)
	if err != nil {
		return nil, classify("load schedule", err)
	}
	result, err := collectAppointments(rows)
	return result, classify("load schedule", err)
}

func (r *PgRepository) LoadSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	return loadSchedule(ctx, r.pool, doctorID, date)
}

func (r *PgRepository) WithScheduleTx(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context, tx ScheduleTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify("begin schedule tx", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if r.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
			return classify("set lock timeout", err)
		}
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, scheduleKey(doctorID, date)); err != nil {
		return classify("lock doctor day", err)
	}

	if err := fn(ctx, &pgScheduleTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("commit schedule tx", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, event func(Appointment) EventLog) (*Appointment, error) {
	return r.writeWithEvent(ctx, "update appointment status", event, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentCols, id, string(to), string(from))
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID, event func(Appointment) EventLog) (*Appointment, error) {
	return r.writeWithEvent(ctx, "delete appointment", event,
		`DELETE FROM appointments WHERE id = $1 RETURNING `+appointmentCols, id)
}

// writeWithEvent runs a single-row write returning the appointment and records
// the outbox event for it in the same transaction.
func (r *PgRepository) writeWithEvent(ctx context.Context, op string, event func(Appointment) EventLog, sql string, args ...any) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classify("begin "+op, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	a, err := scanAppointment(tx.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, classify(op, err)
	}
	if err := insertEvent(ctx, tx, event(*a)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify("commit "+op, err)
	}
	return a, nil
}

func insertEvent(ctx context.Context, q queryable, ev EventLog) error {
	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return classify("insert event log", err)
	}
	return nil
}

// WithUnpublishedEvents locks up to limit unpublished events (skipping rows
// another relay holds), hands them to fn and marks the ids fn returns as
// published, all in one transaction.
func (r *PgRepository) WithUnpublishedEvents(ctx context.Context, limit int, fn func(ctx context.Context, events []EventLog) ([]int64, error)) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify("begin relay tx", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at, published_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return classify("fetch unpublished events", err)
	}
	var events []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt, &ev.PublishedAt); err != nil {
			rows.Close()
			return classify("scan event", err)
		}
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify("fetch unpublished events", err)
	}
	if len(events) == 0 {
		return nil
	}

	published, err := fn(ctx, events)
	if len(published) > 0 {
		if _, execErr := tx.Exec(ctx, `
			UPDATE event_logs SET published_at = now() WHERE id = ANY($1)
		`, published); execErr != nil {
			return classify("mark events published", execErr)
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return classify("commit relay tx", commitErr)
		}
	}
	return err
}

// pgScheduleTx is the ScheduleTx bound to one open transaction.
type pgScheduleTx struct {
	tx pgx.Tx
}

func (t *pgScheduleTx) LoadSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	return loadSchedule(ctx, t.tx, doctorID, date)
}

func (t *pgScheduleTx) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appointment_date, start_minute, duration_minutes,
		                          status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+appointmentCols,
		a.ID, a.DoctorID, a.PatientID, a.Date, int(a.Start), a.Duration, string(a.Status), a.Notes)
	created, err := scanAppointment(row)
	return created, classify("insert appointment", err)
}

// MoveAppointment only moves appointments that are still scheduled.
func (t *pgScheduleTx) MoveAppointment(ctx context.Context, id uuid.UUID, date time.Time, start TimeOfDay, duration int) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
		    start_minute = $3,
		    duration_minutes = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+appointmentCols, id, date, int(start), duration)
	moved, err := scanAppointment(row)
	return moved, classify("move appointment", err)
}

func (t *pgScheduleTx) InsertEvent(ctx context.Context, ev EventLog) error {
	return insertEvent(ctx, t.tx, ev)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
