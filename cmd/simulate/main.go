package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// Drives the HTTP API with a population of fake users: creates regimens,
// then has workers take/skip pending doses and read adherence until the
// duration elapses. Useful for eyeballing latency and conflict behavior
// under concurrent lifecycle traffic.

type SimConfig struct {
	APIBaseURL string
	Duration   time.Duration
	Workers    int
	Owners     int
	SkipRatio  float64
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)/2]
	p95 = latencies[len(latencies)*95/100]
	return avg, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := SimConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://127.0.0.1:8080"),
		Duration:   getDuration("SIM_DURATION", 30*time.Second),
		Workers:    getInt("SIM_WORKERS", 8),
		Owners:     getInt("SIM_OWNERS", 25),
		SkipRatio:  0.2,
	}

	log.Printf("simulate: base_url=%s duration=%s workers=%d owners=%d",
		cfg.APIBaseURL, cfg.Duration, cfg.Workers, cfg.Owners)

	gofakeit.Seed(time.Now().UnixNano())
	client := &http.Client{Timeout: 10 * time.Second}

	owners := setupOwners(client, cfg)
	if len(owners) == 0 {
		log.Fatal("no regimens could be created, is the api-server running?")
	}
	log.Printf("created regimens for %d owners", len(owners))

	takeMetrics := &OperationMetrics{}
	readMetrics := &OperationMetrics{}

	deadline := time.Now().Add(cfg.Duration)
	var wg sync.WaitGroup

	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))

			for time.Now().Before(deadline) {
				owner := owners[rng.Intn(len(owners))]

				if rng.Float64() < 0.5 {
					resolveOneDose(client, cfg, owner, rng, takeMetrics)
				} else {
					readAdherence(client, cfg, owner, readMetrics)
				}
			}
		}(time.Now().UnixNano() + int64(w))
	}

	wg.Wait()

	printMetrics("take/skip", takeMetrics)
	printMetrics("adherence", readMetrics)
}

func setupOwners(client *http.Client, cfg SimConfig) []uuid.UUID {
	slotSets := [][]string{
		{"08:00", "20:00"},
		{"morning", "evening"},
		{"08:00", "14:00", "20:00"},
	}
	freqs := []string{"twice_daily", "twice_daily", "three_times_daily"}

	owners := make([]uuid.UUID, 0, cfg.Owners)
	for i := 0; i < cfg.Owners; i++ {
		ownerID := uuid.New()
		pick := i % len(slotSets)

		body, _ := json.Marshal(map[string]any{
			"owner_id":        ownerID.String(),
			"medication_name": gofakeit.Word(),
			"dosage":          fmt.Sprintf("%d mg", gofakeit.Number(1, 10)*100),
			"frequency":       freqs[pick],
			"time_slots":      slotSets[pick],
			"active_from":     time.Now().Format("2006-01-02"),
		})

		resp, err := client.Post(cfg.APIBaseURL+"/regimens", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("create regimen: %v", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusCreated {
			owners = append(owners, ownerID)
		}
	}

	return owners
}

func resolveOneDose(client *http.Client, cfg SimConfig, owner uuid.UUID, rng *rand.Rand, metrics *OperationMetrics) {
	resp, err := client.Get(cfg.APIBaseURL + "/dose-events/pending?owner_id=" + owner.String())
	if err != nil {
		return
	}

	var pending []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		resp.Body.Close()
		return
	}
	resp.Body.Close()

	if len(pending) == 0 {
		return
	}

	target := pending[rng.Intn(len(pending))]
	action := "take"
	if rng.Float64() < cfg.SkipRatio {
		action = "skip"
	}

	start := time.Now()
	postResp, err := client.Post(
		fmt.Sprintf("%s/dose-events/%s/%s", cfg.APIBaseURL, target.ID, action),
		"application/json",
		bytes.NewReader([]byte("{}")),
	)
	if err != nil {
		metrics.Record(time.Since(start), http.StatusInternalServerError)
		return
	}
	postResp.Body.Close()

	metrics.Record(time.Since(start), postResp.StatusCode)
}

func readAdherence(client *http.Client, cfg SimConfig, owner uuid.UUID, metrics *OperationMetrics) {
	start := time.Now()
	resp, err := client.Get(cfg.APIBaseURL + "/adherence?owner_id=" + owner.String())
	if err != nil {
		metrics.Record(time.Since(start), http.StatusInternalServerError)
		return
	}
	resp.Body.Close()

	metrics.Record(time.Since(start), resp.StatusCode)
}

func printMetrics(name string, m *OperationMetrics) {
	avg, p50, p95 := m.Stats()
	fmt.Printf("%-10s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s\n",
		name, m.Total, m.Success, m.Conflict, m.Error, avg, p50, p95)
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

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
