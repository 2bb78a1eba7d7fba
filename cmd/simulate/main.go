package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medassist/appointment-negotiation/internal/config"
	"github.com/medassist/appointment-negotiation/internal/db"
)

// The simulator hammers POST /negotiations with deliberately colliding
// reserve requests: many patients asking for the same handful of slots,
// which is exactly the contention the lease protocol exists for.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	ReserveRatio float64
	QueryRatio   float64
	CancelRatio  float64
	PatientLimit int
	HotSlots     int
	PostgresDSN  string
}

type DataPool struct {
	Patients []string
	Dates    []string
	Times    []string
}

type OperationMetrics struct {
	Total     int64
	Booked    int64
	Contested int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, booked, contested bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case booked:
		atomic.AddInt64(&om.Booked, 1)
	case contested:
		atomic.AddInt64(&om.Contested, 1)
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

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Reserve      OperationMetrics
	QueryDay     OperationMetrics
	QueryCurrent OperationMetrics
	Cancel       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d reserve=%.2f query=%.2f cancel=%.2f hot_slots=%d",
		cfg.Duration, cfg.Workers, cfg.ReserveRatio, cfg.QueryRatio, cfg.CancelRatio, cfg.HotSlots)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d patients, %d hot slots", len(dataPool.Patients), len(dataPool.Times)*len(dataPool.Dates))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getSimDuration("SIM_DURATION", 30*time.Second),
		Workers:      getSimInt("SIM_WORKERS", 10),
		ReserveRatio: getFloat("SIM_RESERVE_RATIO", 0.6),
		QueryRatio:   getFloat("SIM_QUERY_RATIO", 0.3),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		PatientLimit: getSimInt("SIM_PATIENT_LIMIT", 2000),
		HotSlots:     getSimInt("SIM_HOT_SLOTS", 8),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.ReserveRatio + cfg.QueryRatio + cfg.CancelRatio
	if total > 0 {
		cfg.ReserveRatio /= total
		cfg.QueryRatio /= total
		cfg.CancelRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT code FROM patients LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, code)
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}

	// A narrow set of dates and times, so most reserve requests collide.
	today := time.Now()
	for d := 1; d <= 2; d++ {
		dataPool.Dates = append(dataPool.Dates, today.AddDate(0, 0, d).Format("2006-01-02"))
	}
	for i := 0; i < cfg.HotSlots; i++ {
		minutes := 9*60 + i*30
		dataPool.Times = append(dataPool.Times, fmt.Sprintf("%02d:%02d", minutes/60, minutes%60))
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.ReserveRatio:
				s.doReserve(ctx, rng)
			case r < s.config.ReserveRatio+s.config.QueryRatio:
				if rng.Intn(2) == 0 {
					s.doQueryDay(ctx, rng)
				} else {
					s.doQueryCurrent(ctx, rng)
				}
			default:
				s.doCancel(ctx, rng)
			}
		}
	}
}

func (s *Simulator) negotiate(ctx context.Context, body map[string]string) (statusCode string, httpStatus int, err error) {
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/negotiations", bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	var out struct {
		StatusCode string `json:"status_code"`
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return out.StatusCode, resp.StatusCode, nil
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	slot := s.pool.Times[rng.Intn(len(s.pool.Times))]

	start := time.Now()
	status, httpStatus, err := s.negotiate(ctx, map[string]string{
		"patient_id":     patient,
		"operation":      "reserve",
		"requested_date": date,
		"requested_time": slot,
	})
	latency := time.Since(start)

	booked := err == nil && httpStatus == http.StatusOK && strings.HasPrefix(status, "booked-")
	contested := err == nil && httpStatus == http.StatusOK && !booked
	s.metrics.Reserve.Record(latency, booked, contested)
}

func (s *Simulator) doQueryDay(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	start := time.Now()
	_, httpStatus, err := s.negotiate(ctx, map[string]string{
		"patient_id":     patient,
		"operation":      "query_day",
		"requested_date": date,
	})
	latency := time.Since(start)

	s.metrics.QueryDay.Record(latency, err == nil && httpStatus == http.StatusOK, false)
}

func (s *Simulator) doQueryCurrent(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	_, httpStatus, err := s.negotiate(ctx, map[string]string{
		"patient_id": patient,
		"operation":  "query_current",
	})
	latency := time.Since(start)

	s.metrics.QueryCurrent.Record(latency, err == nil && httpStatus == http.StatusOK, false)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, httpStatus, err := s.negotiate(ctx, map[string]string{
		"patient_id": patient,
		"operation":  "cancel",
	})
	latency := time.Since(start)

	cancelled := err == nil && httpStatus == http.StatusOK && status == "cancellation-succeeded"
	nothing := err == nil && httpStatus == http.StatusOK && status == "cancellation-failed"
	s.metrics.Cancel.Record(latency, cancelled, nothing)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Query Day", &s.metrics.QueryDay)
	printOperationReport("Query Current", &s.metrics.QueryCurrent)
	printOperationReport("Cancel", &s.metrics.Cancel)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	booked := atomic.LoadInt64(&om.Booked)
	contested := atomic.LoadInt64(&om.Contested)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Confirmed: %d (%.1f%%)\n", booked, float64(booked)/float64(total)*100)
	if contested > 0 {
		fmt.Printf("  Contested: %d (%.1f%%)\n", contested, float64(contested)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getSimDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSimInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
