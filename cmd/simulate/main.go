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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/timezone"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Contenders   int // patients racing for the same slot each round
	DaysAhead    int
	PatientLimit int
	PostgresDSN  string
	ClinicOffset time.Duration
}

// DataPool holds ids loaded from a seeded database.
type DataPool struct {
	Patients  []uuid.UUID
	Providers []uuid.UUID
	Staff     []uuid.UUID
	Types     []uuid.UUID
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

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Request OperationMetrics
	Slots   OperationMetrics
	Confirm OperationMetrics
	Cancel  OperationMetrics

	Rounds         int64
	DoubleBookings int64 // rounds where more than one confirm won
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	tz      *timezone.Normalizer
	client  *http.Client
	logger  zerolog.Logger
	metrics Metrics
}

func main() {
	logger := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("APP_ENV", "dev"), "simulate")

	cfg := loadConfig(logger)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("contenders", cfg.Contenders).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
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
		Int("providers", len(dataPool.Providers)).
		Int("types", len(dataPool.Types)).
		Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		tz:     timezone.NewNormalizer(cfg.ClinicOffset),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	if atomic.LoadInt64(&sim.metrics.DoubleBookings) > 0 {
		os.Exit(1)
	}
}

func loadConfig(logger zerolog.Logger) SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load base config")
	}

	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 4),
		Contenders:   getInt("SIM_CONTENDERS", 8),
		DaysAhead:    getInt("SIM_DAYS_AHEAD", 14),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		PostgresDSN:  baseCfg.PostgresDSN,
		ClinicOffset: baseCfg.ClinicOffset,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	if dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM users WHERE role = 'patient' LIMIT $1`, cfg.PatientLimit); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if dataPool.Providers, err = loadIDs(ctx, pool, `SELECT DISTINCT provider_id FROM availability_blocks LIMIT $1`, 1000); err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	if dataPool.Staff, err = loadIDs(ctx, pool, `SELECT id FROM users WHERE role IN ('staff', 'admin') LIMIT $1`, 100); err != nil {
		return nil, fmt.Errorf("load staff: %w", err)
	}
	if dataPool.Types, err = loadIDs(ctx, pool, `SELECT id FROM appointment_types WHERE is_active LIMIT $1`, 100); err != nil {
		return nil, fmt.Errorf("load appointment types: %w", err)
	}

	switch {
	case len(dataPool.Patients) < cfg.Contenders:
		return nil, fmt.Errorf("need at least %d patients, found %d", cfg.Contenders, len(dataPool.Patients))
	case len(dataPool.Providers) == 0:
		return nil, fmt.Errorf("no providers with availability loaded")
	case len(dataPool.Staff) == 0:
		return nil, fmt.Errorf("no staff loaded")
	case len(dataPool.Types) == 0:
		return nil, fmt.Errorf("no appointment types loaded")
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

	for ctx.Err() == nil {
		if err := s.round(ctx, rng); err != nil && ctx.Err() == nil {
			s.logger.Debug().Err(err).Int("worker", workerID).Msg("round skipped")
		}
	}
}

// round has several patients request the same visit type, then confirms all
// of them into one slot at once. Exactly one confirm may win.
func (s *Simulator) round(ctx context.Context, rng *rand.Rand) error {
	staff := s.pool.Staff[rng.Intn(len(s.pool.Staff))]
	provider := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	typeID := s.pool.Types[rng.Intn(len(s.pool.Types))]
	date := s.tz.Today(time.Now()).AddDays(1 + rng.Intn(s.config.DaysAhead))

	slots, err := s.listSlots(ctx, staff, provider, typeID, date)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return fmt.Errorf("provider %s has no free slots on %s", provider, date)
	}
	slot := slots[rng.Intn(len(slots))]

	ids := make([]uuid.UUID, 0, s.config.Contenders)
	for _, i := range rng.Perm(len(s.pool.Patients))[:s.config.Contenders] {
		id, err := s.request(ctx, s.pool.Patients[i], typeID, date)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	var won int64
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			ok, err := s.confirm(gctx, staff, id, provider, slot.Start)
			if ok {
				atomic.AddInt64(&won, 1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	atomic.AddInt64(&s.metrics.Rounds, 1)
	if won > 1 {
		atomic.AddInt64(&s.metrics.DoubleBookings, 1)
		s.logger.Error().
			Str("provider_id", provider.String()).
			Time("start", slot.Start).
			Int64("winners", won).
			Msg("slot confirmed more than once")
	}

	// Cancel every contender so the slot is free for later rounds.
	for _, id := range ids {
		s.cancel(ctx, staff, id)
	}
	return nil
}

type slotResponse struct {
	Start time.Time `json:"start"`
}

func (s *Simulator) listSlots(ctx context.Context, actor, provider, typeID uuid.UUID, date timezone.Date) ([]slotResponse, error) {
	url := fmt.Sprintf("%s/providers/%s/slots?date=%s&type_id=%s", s.config.APIBaseURL, provider, date, typeID)
	start := time.Now()
	var out struct {
		Slots []slotResponse `json:"slots"`
	}
	status, err := s.do(ctx, http.MethodGet, url, actor, nil, &out)
	s.metrics.Slots.Record(time.Since(start), status == http.StatusOK, false)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list slots: status %d", status)
	}
	return out.Slots, nil
}

func (s *Simulator) request(ctx context.Context, patient, typeID uuid.UUID, date timezone.Date) (uuid.UUID, error) {
	start := time.Now()
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.do(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", patient, map[string]string{
		"appointment_type_id": typeID.String(),
		"requested_date":      date.String(),
	}, &out)
	s.metrics.Request.Record(time.Since(start), status == http.StatusCreated, false)
	if err != nil {
		return uuid.Nil, err
	}
	if status != http.StatusCreated {
		return uuid.Nil, fmt.Errorf("request appointment: status %d", status)
	}
	return out.ID, nil
}

func (s *Simulator) confirm(ctx context.Context, actor, id, provider uuid.UUID, at time.Time) (bool, error) {
	url := fmt.Sprintf("%s/appointments/%s/confirm", s.config.APIBaseURL, id)
	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, url, actor, map[string]string{
		"provider_id": provider.String(),
		"start_time":  at.Format(time.RFC3339),
	}, nil)
	s.metrics.Confirm.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

func (s *Simulator) cancel(ctx context.Context, actor, id uuid.UUID) {
	url := fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, id)
	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, url, actor, map[string]string{"reason": "simulation cleanup"}, nil)
	s.metrics.Cancel.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) do(ctx context.Context, method, url string, actor uuid.UUID, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", actor.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contenders per slot: %d\n", s.config.Contenders)
	fmt.Printf("Contention rounds: %d\n", atomic.LoadInt64(&s.metrics.Rounds))
	fmt.Printf("Double bookings: %d\n", atomic.LoadInt64(&s.metrics.DoubleBookings))
	fmt.Println()

	printOperationReport("Request", &s.metrics.Request)
	printOperationReport("List slots", &s.metrics.Slots)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
