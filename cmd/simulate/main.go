package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/logging"
)

// SimConfig drives a contention run: every round, Contenders patients race
// for one free slot of the doctor and exactly one of them must win.
type SimConfig struct {
	APIBaseURL string
	JWTSecret  string
	DoctorID   uuid.UUID
	Date       string
	Rounds     int
	Contenders int
	Accept     bool
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

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
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
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking OperationMetrics
	Accept  OperationMetrics
	Queue   OperationMetrics
}

type Simulator struct {
	config   SimConfig
	log      *logrus.Logger
	client   *http.Client
	verifier *auth.Verifier
	metrics  Metrics

	doctorToken string
	// rounds in which more than one booking succeeded
	doubleBooked int64
	winners      []uuid.UUID
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load base config: %v", err)
	}
	log := logging.New(baseCfg.LogLevel)

	cfg, err := loadConfig(baseCfg)
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.WithFields(logrus.Fields{
		"doctor_id":  cfg.DoctorID,
		"date":       cfg.Date,
		"rounds":     cfg.Rounds,
		"contenders": cfg.Contenders,
	}).Info("simulator starting")

	verifier := auth.NewVerifier(cfg.JWTSecret, "telehealth")
	doctorToken, err := verifier.Issue(auth.Session{UserID: cfg.DoctorID, Role: auth.RoleDoctor}, time.Hour)
	if err != nil {
		log.WithError(err).Fatal("issue doctor token")
	}

	sim := &Simulator{
		config:      cfg,
		log:         log,
		client:      &http.Client{Timeout: 10 * time.Second},
		verifier:    verifier,
		doctorToken: doctorToken,
	}

	ctx := context.Background()
	if err := sim.Run(ctx); err != nil {
		log.WithError(err).Fatal("simulation failed")
	}
	sim.PrintReport()

	if atomic.LoadInt64(&sim.doubleBooked) > 0 {
		os.Exit(1)
	}
}

func loadConfig(base config.Config) (SimConfig, error) {
	rawDoctor := os.Getenv("SIM_DOCTOR_ID")
	if rawDoctor == "" {
		return SimConfig{}, fmt.Errorf("SIM_DOCTOR_ID is required (run cmd/seed for one)")
	}
	doctorID, err := uuid.Parse(rawDoctor)
	if err != nil {
		return SimConfig{}, fmt.Errorf("SIM_DOCTOR_ID: %w", err)
	}

	cfg := SimConfig{
		APIBaseURL: strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		JWTSecret:  base.JWTSecret,
		DoctorID:   doctorID,
		Date:       getEnv("SIM_DATE", appointment.FormatDate(time.Now().In(base.Location()).AddDate(0, 0, 1))),
		Rounds:     getInt("SIM_ROUNDS", 5),
		Contenders: getInt("SIM_CONTENDERS", 20),
		Accept:     getEnv("SIM_ACCEPT", "true") == "true",
	}
	if _, err := appointment.ParseDate(cfg.Date); err != nil {
		return SimConfig{}, fmt.Errorf("SIM_DATE: %w", err)
	}
	if cfg.Rounds <= 0 || cfg.Contenders <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_ROUNDS and SIM_CONTENDERS must be > 0")
	}
	return cfg, nil
}

func (s *Simulator) Run(ctx context.Context) error {
	slots, err := s.freeSlots(ctx)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return fmt.Errorf("doctor %s has no free slots on %s", s.config.DoctorID, s.config.Date)
	}

	rounds := s.config.Rounds
	if rounds > len(slots) {
		s.log.Warnf("only %d free slots, limiting rounds", len(slots))
		rounds = len(slots)
	}

	for i := 0; i < rounds; i++ {
		if err := s.contend(ctx, slots[i]); err != nil {
			return err
		}
	}

	if s.config.Accept {
		for _, id := range s.winners {
			s.accept(ctx, id)
		}
	}
	s.readQueue(ctx)
	return nil
}

// contend fires one booking per contender at the same slot at once.
func (s *Simulator) contend(ctx context.Context, slot string) error {
	var (
		wins   int64
		mu     sync.Mutex
		winner uuid.UUID
	)
	start := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Contenders; i++ {
		g.Go(func() error {
			token, err := s.verifier.Issue(auth.Session{UserID: uuid.New(), Role: auth.RolePatient}, time.Hour)
			if err != nil {
				return err
			}
			<-start

			id, ok := s.book(gctx, token, slot)
			if ok {
				atomic.AddInt64(&wins, 1)
				mu.Lock()
				winner = id
				mu.Unlock()
			}
			return nil
		})
	}
	close(start)
	if err := g.Wait(); err != nil {
		return err
	}

	entry := s.log.WithFields(logrus.Fields{"slot": slot, "winners": wins})
	switch {
	case wins == 1:
		entry.Info("round complete")
		s.winners = append(s.winners, winner)
	case wins > 1:
		atomic.AddInt64(&s.doubleBooked, 1)
		entry.Error("slot double booked")
	default:
		entry.Warn("no booking succeeded")
	}
	return nil
}

func (s *Simulator) book(ctx context.Context, token, slot string) (uuid.UUID, bool) {
	body, _ := json.Marshal(map[string]string{
		"doctor_id":         s.config.DoctorID.String(),
		"date":              s.config.Date,
		"time_slot":         slot,
		"consultation_type": "video",
		"symptoms":          "load test",
	})

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, "/appointments", token, body)
	latency := time.Since(start)

	if err != nil {
		s.metrics.Booking.Record(latency, false, false)
		return uuid.Nil, false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&appt)
		s.metrics.Booking.Record(latency, true, false)
		return appt.ID, true
	case http.StatusConflict:
		s.metrics.Booking.Record(latency, false, true)
	default:
		s.metrics.Booking.Record(latency, false, false)
	}
	return uuid.Nil, false
}

func (s *Simulator) accept(ctx context.Context, id uuid.UUID) {
	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, "/appointments/"+id.String()+"/accept", s.doctorToken, nil)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Accept.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	s.metrics.Accept.Record(latency, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusConflict)
}

func (s *Simulator) readQueue(ctx context.Context) {
	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/doctors/%s/queue?date=%s", s.config.DoctorID, s.config.Date), s.doctorToken, nil)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Queue.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	var queue struct {
		Entries []appointment.QueueEntry `json:"entries"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&queue)
	s.metrics.Queue.Record(latency, resp.StatusCode == http.StatusOK, false)
	s.log.WithField("entries", len(queue.Entries)).Info("queue read")
}

func (s *Simulator) freeSlots(ctx context.Context) ([]string, error) {
	resp, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/doctors/%s/availability?date=%s", s.config.DoctorID, s.config.Date), s.doctorToken, nil)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("load availability: status %d: %s", resp.StatusCode, b)
	}

	var avail struct {
		Slots []appointment.Slot `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&avail); err != nil {
		return nil, fmt.Errorf("decode availability: %w", err)
	}

	var free []string
	for _, slot := range avail.Slots {
		if slot.Available {
			free = append(free, slot.TimeSlot)
		}
	}
	return free, nil
}

func (s *Simulator) do(ctx context.Context, method, path, token string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return s.client.Do(req)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Doctor: %s  Date: %s\n", s.config.DoctorID, s.config.Date)
	fmt.Printf("Contenders per slot: %d\n", s.config.Contenders)
	fmt.Printf("Double-booked slots: %d\n", atomic.LoadInt64(&s.doubleBooked))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Accept", &s.metrics.Accept)
	printOperationReport("Queue", &s.metrics.Queue)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

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
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
