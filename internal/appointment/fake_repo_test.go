package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository. Schedule transactions hold a mutex per
// doctor-day, mirroring the advisory lock, and InsertAppointment and
// MoveAppointment enforce the same no-overlap rule as the database exclusion
// constraint.
type memRepo struct {
	mu      sync.Mutex
	dayMu   sync.Map // scheduleKey -> *sync.Mutex
	deps    map[uuid.UUID]Department
	doctors map[uuid.UUID]Doctor
	pats    map[uuid.UUID]Patient
	appts   map[uuid.UUID]Appointment
	events  []EventLog

	scheduleLoads int
	lastLimit     int
	lastOffset    int

	// hideSchedule makes transactional schedule reads come back empty, so
	// only the storage constraint can catch an overlap.
	hideSchedule bool
	// beforeStatusUpdate runs just before the conditional status write.
	beforeStatusUpdate func()
	// inScheduleTx runs inside every schedule transaction, lock held.
	inScheduleTx func(doctorID uuid.UUID)
	txErr        error
	// eventErr fails outbox writes, rolling back the change they belong to.
	eventErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		deps:    map[uuid.UUID]Department{},
		doctors: map[uuid.UUID]Doctor{},
		pats:    map[uuid.UUID]Patient{},
		appts:   map[uuid.UUID]Appointment{},
	}
}

func (m *memRepo) addDepartment(name string) Department {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := Department{ID: uuid.New(), Name: name}
	m.deps[d.ID] = d
	return d
}

func (m *memRepo) addDoctor(name string, departmentID *uuid.UUID) Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := Doctor{ID: uuid.New(), Name: name, DepartmentID: departmentID}
	m.doctors[d.ID] = d
	return d
}

func (m *memRepo) addPatient(name string) Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Patient{ID: uuid.New(), Name: name, Phone: "+1555" + uuid.NewString()[:7]}
	m.pats[p.ID] = p
	return p
}

func (m *memRepo) addAppointment(a Appointment) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	m.appts[a.ID] = a
	return a
}

func (m *memRepo) appointment(id uuid.UUID) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appts[id]
}

func (m *memRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (m *memRepo) loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduleLoads
}

func (m *memRepo) CreateDepartment(_ context.Context, name string) (*Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deps {
		if d.Name == name {
			return nil, ErrDuplicate
		}
	}
	d := Department{ID: uuid.New(), Name: name}
	m.deps[d.ID] = d
	return &d, nil
}

func (m *memRepo) GetDepartmentByID(_ context.Context, id uuid.UUID) (*Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deps[id]
	if !ok {
		return nil, ErrDepartmentNotFound
	}
	return &d, nil
}

func (m *memRepo) ListDepartments(context.Context) ([]Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Department
	for _, d := range m.deps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) DeleteDepartment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deps[id]; !ok {
		return ErrDepartmentNotFound
	}
	delete(m.deps, id)
	for did, d := range m.doctors {
		if d.DepartmentID != nil && *d.DepartmentID == id {
			d.DepartmentID = nil
			m.doctors[did] = d
		}
	}
	return nil
}

func (m *memRepo) CreateDoctor(_ context.Context, d Doctor) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	m.doctors[d.ID] = d
	return &d, nil
}

func (m *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *memRepo) ListDoctors(_ context.Context, departmentID *uuid.UUID) ([]Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Doctor
	for _, d := range m.doctors {
		if departmentID == nil || (d.DepartmentID != nil && *d.DepartmentID == *departmentID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRepo) DeleteDoctor(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.doctors[id]; !ok {
		return ErrDoctorNotFound
	}
	for _, a := range m.appts {
		if a.DoctorID == id {
			return ErrInUse
		}
	}
	delete(m.doctors, id)
	return nil
}

func (m *memRepo) CreatePatient(_ context.Context, p Patient) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.pats {
		if existing.Phone == p.Phone {
			return nil, ErrDuplicate
		}
	}
	p.ID = uuid.New()
	m.pats[p.ID] = p
	return &p, nil
}

func (m *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pats[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *memRepo) GetPatientByPhone(_ context.Context, phone string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pats {
		if p.Phone == phone {
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (m *memRepo) DeletePatient(_ context.Context, id uuid.UUID) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pats[id]; !ok {
		return nil, ErrPatientNotFound
	}
	var removed []Appointment
	for aid, a := range m.appts {
		if a.PatientID == id {
			removed = append(removed, a)
			delete(m.appts, aid)
		}
	}
	delete(m.pats, id)
	return removed, nil
}

func (m *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memRepo) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	d := &AppointmentDetail{
		Appointment: a,
		PatientName: m.pats[a.PatientID].Name,
		DoctorName:  m.doctors[a.DoctorID].Name,
	}
	if depID := m.doctors[a.DoctorID].DepartmentID; depID != nil {
		name := m.deps[*depID].Name
		d.DepartmentName = &name
	}
	return d, nil
}

func (m *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit, m.lastOffset = limit, offset
	var out []Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Start > out[j].Start
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) scheduleLocked(doctorID uuid.UUID, date time.Time) []Appointment {
	var out []Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Status != StatusCancelled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (m *memRepo) LoadSchedule(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleLoads++
	return m.scheduleLocked(doctorID, date), nil
}

func (m *memRepo) WithScheduleTx(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context, tx ScheduleTx) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	lock, _ := m.dayMu.LoadOrStore(scheduleKey(doctorID, date), &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	if m.inScheduleTx != nil {
		m.inScheduleTx(doctorID)
	}
	tx := &memTx{repo: m, staged: map[uuid.UUID]Appointment{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.eventErr != nil && len(tx.events) > 0 {
		return m.eventErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range tx.staged {
		m.appts[id] = a
	}
	m.events = append(m.events, tx.events...)
	return nil
}

func (m *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status, event func(Appointment) EventLog) (*Appointment, error) {
	if m.beforeStatusUpdate != nil {
		m.beforeStatusUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if m.eventErr != nil {
		return nil, m.eventErr
	}
	m.appts[id] = a
	m.events = append(m.events, event(a))
	return &a, nil
}

func (m *memRepo) DeleteAppointment(_ context.Context, id uuid.UUID, event func(Appointment) EventLog) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if m.eventErr != nil {
		return nil, m.eventErr
	}
	delete(m.appts, id)
	m.events = append(m.events, event(a))
	return &a, nil
}

func (m *memRepo) lastEvent() EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[len(m.events)-1]
}

type memTx struct {
	repo   *memRepo
	staged map[uuid.UUID]Appointment
	events []EventLog
}

func (t *memTx) LoadSchedule(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if t.repo.hideSchedule {
		return nil, nil
	}
	return t.repo.scheduleLocked(doctorID, date), nil
}

func (t *memTx) checkOverlap(a Appointment) error {
	for _, other := range t.repo.scheduleLocked(a.DoctorID, a.Date) {
		if other.ID != a.ID && Overlaps(other.Interval(), a.Interval()) {
			return ErrOverlapConstraint
		}
	}
	return nil
}

func (t *memTx) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if err := t.checkOverlap(a); err != nil {
		return nil, err
	}
	t.staged[a.ID] = a
	return &a, nil
}

func (t *memTx) MoveAppointment(_ context.Context, id uuid.UUID, date time.Time, start TimeOfDay, duration int) (*Appointment, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	a, ok := t.repo.appts[id]
	if !ok || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	a.Date, a.Start, a.Duration = date, start, duration
	if err := t.checkOverlap(a); err != nil {
		return nil, err
	}
	t.staged[a.ID] = a
	return &a, nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	t.events = append(t.events, ev)
	return nil
}
