package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/logger"
)

var visitReasons = []string{
	"Follow-up on lab results",
	"Persistent headache",
	"Skin rash",
	"Prescription renewal",
	"Annual checkup",
	"Back pain",
}

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	PatientLimit int
	// HotSlots concentrates bookings on this many slots to force collisions.
	HotSlots int
}

type slotRef struct {
	DoctorID uuid.UUID
	Date     string
	Time     string
}

type patientRef struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Patients []patientRef
	Slots    []slotRef
	Doctors  []uuid.UUID
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95, p99 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95), pct(99)
}

type Metrics struct {
	Booking   OperationMetrics
	ReadSlots OperationMetrics
	List      OperationMetrics

	// per slot key: how many bookings the API accepted
	mu      sync.Mutex
	winners map[string]int
}

func (m *Metrics) win(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.winners == nil {
		m.winners = make(map[string]int)
	}
	m.winners[key]++
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	var cfg SimConfig

	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Drive concurrent, colliding bookings against a running api-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "Base URL of the api-server")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "How long to run")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 10, "Concurrent workers")
	cmd.Flags().Float64Var(&cfg.BookingRatio, "booking-ratio", 0.6, "Share of operations that are bookings; the rest are reads")
	cmd.Flags().IntVar(&cfg.PatientLimit, "patients", 200, "Patients to book as")
	cmd.Flags().IntVar(&cfg.HotSlots, "hot-slots", 20, "Number of slots the bookings compete for")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, simCfg SimConfig) error {
	if err := validateConfig(simCfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	baseCfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New("simulate", baseCfg.Env, baseCfg.LogLevel)

	log.Info().
		Dur("duration", simCfg.Duration).
		Int("workers", simCfg.Workers).
		Float64("booking_ratio", simCfg.BookingRatio).
		Int("hot_slots", simCfg.HotSlots).
		Msg("simulator starting")

	// Load data from Postgres
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(loadCtx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(loadCtx, pgPool, simCfg, baseCfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("load data pool: %w", err)
	}

	log.Info().
		Int("patients", len(dataPool.Patients)).
		Int("slots", len(dataPool.Slots)).
		Msg("data loaded")

	gofakeit.Seed(time.Now().UnixNano())

	sim := &Simulator{
		config: simCfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run(ctx)
	sim.PrintReport()
	return nil
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if cfg.BookingRatio < 0 || cfg.BookingRatio > 1 {
		return fmt.Errorf("--booking-ratio must be within [0, 1]")
	}
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("--hot-slots must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, secret string) (*DataPool, error) {
	dataPool := &DataPool{}
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(cfg.Duration + time.Hour))}

	rows, err := pool.Query(ctx, `SELECT id, email FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var (
			id    uuid.UUID
			email string
		)
		if err := rows.Scan(&id, &email); err != nil {
			rows.Close()
			return nil, err
		}
		tok, err := auth.Sign(secret, auth.Identity{ID: id, Email: email, Role: auth.RolePatient}, claims)
		if err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, patientRef{ID: id, Token: tok})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// start_time is stored as wall-clock time, so its fields are already
	// the local date and time the booking API expects
	rows, err = pool.Query(ctx, `
		SELECT a.doctor_id, a.start_time
		FROM doctor_availability a
		WHERE a.start_time > localtimestamp
		  AND NOT EXISTS (
			SELECT 1 FROM appointments ap
			WHERE ap.doctor_id = a.doctor_id
			  AND ap.status = 'scheduled'
			  AND ap.appointment_date = a.start_time::date
			  AND ap.appointment_time = to_char(a.start_time, 'HH24:MI:SS')
		  )
		ORDER BY random()
		LIMIT $1
	`, cfg.HotSlots)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	seen := make(map[uuid.UUID]bool)
	for rows.Next() {
		var (
			doctorID uuid.UUID
			start    time.Time
		)
		if err := rows.Scan(&doctorID, &start); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, slotRef{
			DoctorID: doctorID,
			Date:     start.Format(time.DateOnly),
			Time:     start.Format("15:04"),
		})
		if !seen[doctorID] {
			seen[doctorID] = true
			dataPool.Doctors = append(dataPool.Doctors, doctorID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no open future slots loaded")
	}

	return dataPool, nil
}

func (s *Simulator) Run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if rng.Float64() < s.config.BookingRatio {
				s.doBooking(ctx, rng)
				continue
			}
			if rng.Intn(2) == 0 {
				s.doReadSlots(ctx, rng)
			} else {
				s.doList(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	apptType := "video"
	if rng.Intn(3) == 0 {
		apptType = "in-person"
	}
	body, _ := json.Marshal(map[string]string{
		"doctorId":        slot.DoctorID.String(),
		"appointmentDate": slot.Date,
		"appointmentTime": slot.Time,
		"appointmentType": apptType,
		"reason":          gofakeit.RandomString(visitReasons),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/api/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+patient.Token)

	status, latency, ok := s.send(req)
	if !ok {
		return
	}

	switch status {
	case http.StatusCreated:
		s.metrics.win(slot.DoctorID.String() + " " + slot.Date + " " + slot.Time)
		s.metrics.Booking.Record(latency, true, false)
	case http.StatusConflict, http.StatusTooManyRequests:
		s.metrics.Booking.Record(latency, false, true)
	default:
		s.metrics.Booking.Record(latency, false, false)
	}
}

func (s *Simulator) doReadSlots(ctx context.Context, rng *rand.Rand) {
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	today := time.Now().Format(time.DateOnly)
	until := time.Now().AddDate(0, 0, 14).Format(time.DateOnly)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/availability/%s?startDate=%s&endDate=%s", s.config.APIBaseURL, doctor, today, until), nil)
	if err != nil {
		return
	}

	status, latency, ok := s.send(req)
	if ok {
		s.metrics.ReadSlots.Record(latency, status == http.StatusOK, false)
	}
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/api/appointments?status=scheduled", nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+patient.Token)

	status, latency, ok := s.send(req)
	if ok {
		s.metrics.List.Record(latency, status == http.StatusOK, false)
	}
}

// send reports ok=false for requests cut short by the end of the run so
// they do not count as failures.
func (s *Simulator) send(req *http.Request) (int, time.Duration, bool) {
	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if req.Context().Err() != nil {
			return 0, latency, false
		}
		return 0, latency, true
	}
	resp.Body.Close()
	return resp.StatusCode, latency, true
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Read availability", &s.metrics.ReadSlots)
	printOperationReport("List appointments", &s.metrics.List)

	s.metrics.mu.Lock()
	defer s.metrics.mu.Unlock()
	doubles := 0
	for key, n := range s.metrics.winners {
		if n > 1 {
			doubles++
			fmt.Printf("  DOUBLE BOOKED: %s accepted %d times\n", key, n)
		}
	}
	fmt.Printf("Slots won: %d, double bookings: %d\n", len(s.metrics.winners), doubles)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), p99.Round(time.Millisecond))
	fmt.Println()
}
