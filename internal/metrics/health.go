package metrics

import (
	"context"
	"sync"
	"time"
)

// Probe is a named dependency check.
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

// ProbeResult is the outcome of the latest check of one probe.
type ProbeResult struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	probes      []Probe
	results     map[string]ProbeResult
	lastRun     map[string]time.Time // strategy -> last completed run
	lastSweep   time.Time
	lastCheckAt time.Time
	startedAt   time.Time
}

// Report is the JSON body of the health endpoint.
type Report struct {
	Status      string                 `json:"status"`
	Uptime      string                 `json:"uptime"`
	Probes      map[string]ProbeResult `json:"probes"`
	LastRuns    map[string]time.Time   `json:"last_runs"`
	LastSweep   time.Time              `json:"last_sweep,omitempty"`
	LastCheckAt time.Time              `json:"last_check_at,omitempty"`
}

// NewHealthStatus returns a health status tracking the given probes.
func NewHealthStatus(probes ...Probe) *HealthStatus {
	return &HealthStatus{
		probes:    probes,
		results:   make(map[string]ProbeResult, len(probes)),
		lastRun:   make(map[string]time.Time),
		startedAt: time.Now(),
	}
}

// RecordRun marks a completed screening run.
func (h *HealthStatus) RecordRun(strategy string, at time.Time) {
	h.mu.Lock()
	h.lastRun[strategy] = at
	h.mu.Unlock()
}

// RecordSweep marks a completed monitor sweep.
func (h *HealthStatus) RecordSweep(at time.Time) {
	h.mu.Lock()
	h.lastSweep = at
	h.mu.Unlock()
}

// Check runs every probe once and records latency and connectivity.
func (h *HealthStatus) Check(ctx context.Context) {
	results := make(map[string]ProbeResult, len(h.probes))
	for _, p := range h.probes {
		start := time.Now()
		err := p.Ping(ctx)
		r := ProbeResult{OK: err == nil, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
		if err != nil {
			r.Error = err.Error()
		}
		results[p.Name] = r
	}

	h.mu.Lock()
	h.results = results
	h.lastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.Check(probeCtx)
				cancel()
			}
		}
	}()
}

// Snapshot returns the current report. Status is "healthy" when every
// probe passed, "degraded" when some failed and "unhealthy" when all did.
func (h *HealthStatus) Snapshot() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	failed := 0
	probes := make(map[string]ProbeResult, len(h.results))
	for name, r := range h.results {
		probes[name] = r
		if !r.OK {
			failed++
		}
	}
	status := "healthy"
	switch {
	case failed > 0 && failed == len(h.results):
		status = "unhealthy"
	case failed > 0:
		status = "degraded"
	}
	runs := make(map[string]time.Time, len(h.lastRun))
	for k, v := range h.lastRun {
		runs[k] = v
	}
	return Report{
		Status:      status,
		Uptime:      time.Since(h.startedAt).Round(time.Second).String(),
		Probes:      probes,
		LastRuns:    runs,
		LastSweep:   h.lastSweep,
		LastCheckAt: h.lastCheckAt,
	}
}
