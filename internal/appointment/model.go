package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Department struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID           uuid.UUID
	Name         string
	DepartmentID *uuid.UUID
	Email        *string
	Phone        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Phone     string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is one booked interval on a doctor's calendar. Date carries no
// time component; Start is the time of day within the facility timezone.
type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Start     TimeOfDay
	Duration  int
	Status    Status
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.Start, Duration: a.Duration}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// AppointmentDetail is an appointment with the display fields of the people
// it references resolved.
type AppointmentDetail struct {
	Appointment
	PatientName    string
	DoctorName     string
	DepartmentName *string
}

// Slot is one cell of the facility's daily grid.
type Slot struct {
	Start     TimeOfDay
	Available bool
}

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a calendar day and normalizes it to midnight UTC, which is
// how pgx hands back DATE columns.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// DateOf truncates t to its calendar day in t's location, returned as
// midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// scheduleKey names one doctor-day. It keys the Redis lock, the schedule cache
// and the database advisory lock.
func scheduleKey(doctorID uuid.UUID, date time.Time) string {
	return "schedule:" + doctorID.String() + ":" + date.Format(DateLayout)
}
