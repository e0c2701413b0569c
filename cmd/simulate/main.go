package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/db"
	"github.com/hackgods/hospital-appointment-scheduling/internal/logging"
)

// SimConfig drives a load run against a live api-server. A small HotDoctors
// set concentrates bookings on few calendars so the doctor-day lock is
// actually contended.
type SimConfig struct {
	APIBaseURL      string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	Duration        time.Duration `envconfig:"DURATION" default:"30s"`
	Workers         int           `envconfig:"WORKERS" default:"10"`
	BookingRatio    float64       `envconfig:"BOOKING_RATIO" default:"0.5"`
	RescheduleRatio float64       `envconfig:"RESCHEDULE_RATIO" default:"0.1"`
	StatusRatio     float64       `envconfig:"STATUS_RATIO" default:"0.1"`
	ReadRatio       float64       `envconfig:"READ_RATIO" default:"0.3"`
	PatientLimit    int           `envconfig:"PATIENT_LIMIT" default:"4000"`
	HotDoctors      int           `envconfig:"HOT_DOCTORS" default:"5"`
	DaysAhead       int           `envconfig:"DAYS_AHEAD" default:"1"`
	Days            int           `envconfig:"DAYS" default:"3"`

	PostgresDSN string               `ignored:"true"`
	Grid        appointment.SlotGrid `ignored:"true"`
	Location    *time.Location       `ignored:"true"`
}

type DataPool struct {
	Patients     []uuid.UUID
	Doctors      []uuid.UUID
	Dates        []string
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeBusy
	outcomeRejected
	outcomeError
)

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Busy      int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeBusy:
		atomic.AddInt64(&om.Busy, 1)
	case outcomeRejected:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking       OperationMetrics
	Reschedule    OperationMetrics
	StatusChange  OperationMetrics
	Slots         OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logging.New("prod", "info").Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New(baseCfg.Env, baseCfg.LogLevel)

	cfg, err := loadConfig(baseCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid simulator config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("status", cfg.StatusRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, AppName: "simulate"})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("patients", len(dataPool.Patients)).
		Int("doctors", len(dataPool.Doctors)).
		Strs("dates", dataPool.Dates).
		Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	overlaps, err := countOverlaps(verifyCtx, pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("verify overlaps")
	}
	if overlaps > 0 {
		fmt.Printf("FAIL: %d overlapping appointment pair(s) found\n", overlaps)
		os.Exit(1)
	}
	fmt.Println("OK: no overlapping appointments")
}

func loadConfig(base config.Config) (SimConfig, error) {
	var cfg SimConfig
	if err := envconfig.Process("SIM", &cfg); err != nil {
		return SimConfig{}, err
	}
	cfg.PostgresDSN = base.PostgresDSN
	cfg.Location = base.Location
	cfg.Grid = appointment.SlotGrid{
		DayStart: appointment.TimeOfDay(base.DayStart),
		DayEnd:   appointment.TimeOfDay(base.DayEnd),
		Step:     base.SlotMinutes,
	}

	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 || cfg.DaysAhead < 0 {
		return SimConfig{}, fmt.Errorf("SIM_DAYS must be > 0 and SIM_DAYS_AHEAD >= 0")
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.StatusRatio + cfg.ReadRatio
	if total <= 0 {
		return SimConfig{}, fmt.Errorf("operation ratios must sum to a positive value")
	}
	cfg.BookingRatio /= total
	cfg.RescheduleRatio /= total
	cfg.StatusRatio /= total
	cfg.ReadRatio /= total

	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	doctors, err := loadIDs(ctx, pool, `SELECT id FROM doctors ORDER BY created_at LIMIT $1`, cfg.HotDoctors)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run seed first")
	}
	if len(doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run seed first")
	}
	dataPool.Patients = patients
	dataPool.Doctors = doctors

	today := appointment.DateOf(time.Now().In(cfg.Location))
	for i := 0; i < cfg.Days; i++ {
		dataPool.Dates = append(dataPool.Dates, today.AddDate(0, 0, cfg.DaysAhead+i).Format(appointment.DateLayout))
	}

	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// countOverlaps is the end-to-end check: any pair of live appointments of
// one doctor-day whose intervals intersect.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.doctor_id = b.doctor_id
		 AND a.appointment_date = b.appointment_date
		 AND a.id < b.id
		WHERE a.status <> 'cancelled'
		  AND b.status <> 'cancelled'
		  AND a.start_minute < b.start_minute + b.duration_minutes
		  AND b.start_minute < a.start_minute + a.duration_minutes
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(0)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng, faker)
		case r < s.config.BookingRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.StatusRatio:
			s.doStatusChange(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doSlots(ctx, rng)
			case 1:
				s.doReadByID(ctx, rng)
			case 2:
				s.doListByPatient(ctx, rng)
			}
		}
	}
}

var durations = []int{15, 30, 30, 45, 60}

func (s *Simulator) randomStart(rng *rand.Rand) appointment.TimeOfDay {
	starts := s.config.Grid.Starts()
	return starts[rng.Intn(len(starts))]
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	body := map[string]any{
		"patient_id":       s.pool.Patients[rng.Intn(len(s.pool.Patients))].String(),
		"doctor_id":        s.pool.Doctors[rng.Intn(len(s.pool.Doctors))].String(),
		"date":             s.pool.Dates[rng.Intn(len(s.pool.Dates))],
		"time":             s.randomStart(rng).String(),
		"duration_minutes": durations[rng.Intn(len(durations))],
	}
	if rng.Intn(4) == 0 {
		body["notes"] = faker.Sentence(8)
	}

	start := time.Now()
	status, respBody, err := s.send(ctx, http.MethodPost, "/appointments", body)
	latency := time.Since(start)

	if err == nil && status == http.StatusCreated {
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(respBody, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(appt.ID)
		}
	}
	s.metrics.Booking.Record(latency, classify(status, http.StatusCreated, err))
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	body := map[string]any{
		"date": s.pool.Dates[rng.Intn(len(s.pool.Dates))],
		"time": s.randomStart(rng).String(),
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodPut, "/appointments/"+apptID.String()+"/schedule", body)
	s.metrics.Reschedule.Record(time.Since(start), classify(status, http.StatusOK, err))
}

var nextStatuses = []string{"checked_in", "completed", "cancelled"}

func (s *Simulator) doStatusChange(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	body := map[string]any{"status": nextStatuses[rng.Intn(len(nextStatuses))]}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodPatch, "/appointments/"+apptID.String()+"/status", body)
	s.metrics.StatusChange.Record(time.Since(start), classify(status, http.StatusOK, err))
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, fmt.Sprintf("/doctors/%s/slots?date=%s", doctorID, date), nil)
	s.metrics.Slots.Record(time.Since(start), classify(status, http.StatusOK, err))
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/appointments/"+apptID.String(), nil)
	s.metrics.ReadByID.Record(time.Since(start), classify(status, http.StatusOK, err))
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/patients/"+patientID.String()+"/appointments?limit=20", nil)
	s.metrics.ListByPatient.Record(time.Since(start), classify(status, http.StatusOK, err))
}

func (s *Simulator) send(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

func classify(status, want int, err error) outcome {
	switch {
	case err != nil:
		return outcomeError
	case status == want:
		return outcomeSuccess
	case status == http.StatusConflict:
		return outcomeConflict
	case status == http.StatusServiceUnavailable:
		return outcomeBusy
	case status >= 400 && status < 500:
		return outcomeRejected
	default:
		return outcomeError
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Doctors: %d  Dates: %s\n", len(s.pool.Doctors), strings.Join(s.pool.Dates, ", "))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Status change", &s.metrics.StatusChange)
	printOperationReport("Slots", &s.metrics.Slots)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", om.Success, pct(om.Success))
	for _, row := range []struct {
		label string
		n     int64
	}{
		{"Conflicts", atomic.LoadInt64(&om.Conflict)},
		{"Busy", atomic.LoadInt64(&om.Busy)},
		{"Rejected", atomic.LoadInt64(&om.Rejected)},
		{"Errors", atomic.LoadInt64(&om.Error)},
	} {
		if row.n > 0 {
			fmt.Printf("  %s: %d (%.1f%%)\n", row.label, row.n, pct(row.n))
		}
	}

	avg, min, max, p50, p95 := om.Stats()
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
