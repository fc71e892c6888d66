package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Candidate("bsjp", "passed")
	m.Candidate("bsjp", "passed")
	m.Notification("signal", false)
	m.ObserveFetch("yahoo", "history", time.Now(), "transient")

	if got := testutil.ToFloat64(m.CandidatesTotal.WithLabelValues("bsjp", "passed")); got != 2 {
		t.Errorf("candidates=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("signal", "failed")); got != 1 {
		t.Errorf("failed notifications=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FetchErrors.WithLabelValues("yahoo", "transient")); got != 1 {
		t.Errorf("fetch errors=%v, want 1", got)
	}

	// A second registry accepts a second set.
	NewMetrics(prometheus.NewRegistry())
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Candidate("x", "passed")
	m.Notification("x", true)
	m.ObserveFetch("p", "c", time.Now(), "")
	m.Transition("x", "STOPPED")
}

func TestHealthStatus(t *testing.T) {
	ok := Probe{Name: "sqlite", Ping: func(context.Context) error { return nil }}
	bad := Probe{Name: "redis", Ping: func(context.Context) error { return errors.New("refused") }}

	h := NewHealthStatus(ok, bad)
	h.Check(context.Background())
	r := h.Snapshot()
	if r.Status != "degraded" {
		t.Errorf("status=%s, want degraded", r.Status)
	}
	if r.Probes["redis"].Error != "refused" || !r.Probes["sqlite"].OK {
		t.Errorf("probes=%+v", r.Probes)
	}

	h2 := NewHealthStatus(bad)
	h2.Check(context.Background())
	if s := h2.Snapshot().Status; s != "unhealthy" {
		t.Errorf("status=%s, want unhealthy", s)
	}

	h3 := NewHealthStatus(ok)
	h3.Check(context.Background())
	now := time.Now()
	h3.RecordRun("bsjp", now)
	h3.RecordSweep(now)
	r3 := h3.Snapshot()
	if r3.Status != "healthy" || !r3.LastRuns["bsjp"].Equal(now) || !r3.LastSweep.Equal(now) {
		t.Errorf("report=%+v", r3)
	}
}
