// Package scheduler fires jobs at wall-clock times on trading days.
//
// Every (job, date, HH:MM) triple is a slot. A slot runs at most once: the
// scheduler remembers slots it has handled and asks a SlotGuard before
// running, so several processes sharing a guard never double-fire.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"trading-screener/internal/metrics"
)

// SlotGuard grants a slot to exactly one claimant within ttl.
type SlotGuard interface {
	Claim(ctx context.Context, slot string, ttl time.Duration) (bool, error)
}

// Calendar is the subset of markethours.Calendar the scheduler needs.
type Calendar interface {
	Location() *time.Location
	IsTradingDay(t time.Time) bool
}

// Job is a unit of scheduled work.
type Job struct {
	ID    string
	Times []string // HH:MM in the calendar location
	// AnyDay runs the job on non-trading days too.
	AnyDay bool
	Run    func(ctx context.Context) error
}

// Config holds scheduler settings.
type Config struct {
	Tick    time.Duration // how often due slots are checked
	Grace   time.Duration // how late a slot may still fire
	SlotTTL time.Duration // how long a claimed slot stays claimed
}

type entry struct {
	job   Job
	times []int // minutes after midnight, ascending
}

// Scheduler runs registered jobs until its context is canceled.
type Scheduler struct {
	cal     Calendar
	guard   SlotGuard
	metrics *metrics.Metrics
	cfg     Config
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	jobs    []entry
	handled map[string]time.Time // slot key -> slot time
	running map[string]bool
	wg      sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option      { return func(s *Scheduler) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New creates a scheduler. A nil guard keeps slot claims in memory.
func New(cal Calendar, guard SlotGuard, cfg Config, opts ...Option) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 15 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	if cfg.SlotTTL <= 0 {
		cfg.SlotTTL = 36 * time.Hour
	}
	if guard == nil {
		guard = NewMemoryGuard()
	}
	s := &Scheduler{
		cal:     cal,
		guard:   guard,
		cfg:     cfg,
		log:     slog.Default(),
		now:     time.Now,
		handled: make(map[string]time.Time),
		running: make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "scheduler"))
	return s
}

// Add registers a job. Times must be valid HH:MM values.
func (s *Scheduler) Add(j Job) error {
	if j.ID == "" || j.Run == nil {
		return errors.New("scheduler: job needs an id and a run func")
	}
	if len(j.Times) == 0 {
		return fmt.Errorf("scheduler: job %s has no times", j.ID)
	}
	e := entry{job: j}
	for _, hm := range j.Times {
		t, err := time.Parse("15:04", hm)
		if err != nil {
			return fmt.Errorf("scheduler: job %s: time %q: %w", j.ID, hm, err)
		}
		e.times = append(e.times, t.Hour()*60+t.Minute())
	}
	sort.Ints(e.times)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.jobs {
		if x.job.ID == j.ID {
			return fmt.Errorf("scheduler: job %s registered twice", j.ID)
		}
	}
	s.jobs = append(s.jobs, e)
	return nil
}

// Jobs returns the registered job IDs in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.jobs))
	for i, e := range s.jobs {
		ids[i] = e.job.ID
	}
	return ids
}

// Every expands an interval into HH:MM times between from and to inclusive.
func Every(from, to string, step time.Duration) ([]string, error) {
	a, err := time.Parse("15:04", from)
	if err != nil {
		return nil, err
	}
	b, err := time.Parse("15:04", to)
	if err != nil {
		return nil, err
	}
	if step < time.Minute || b.Before(a) {
		return nil, fmt.Errorf("scheduler: bad interval %s-%s every %s", from, to, step)
	}
	var out []string
	for t := a; !t.After(b); t = t.Add(step) {
		out = append(out, t.Format("15:04"))
	}
	return out, nil
}

// SlotKey identifies one firing of a job.
func SlotKey(jobID string, at time.Time) string {
	return jobID + "@" + at.Format("2006-01-02T15:04")
}

// Start checks due slots every tick until ctx is done, then waits for
// running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("scheduler started", slog.Int("jobs", len(s.jobs)), slog.Duration("tick", s.cfg.Tick))
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due slot once. Exposed for tests and one-shot callers.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().In(s.cal.Location())
	s.mu.Lock()
	jobs := append([]entry(nil), s.jobs...)
	s.mu.Unlock()

	for _, e := range jobs {
		slot, ok := s.due(e, now)
		if !ok {
			continue
		}
		s.fire(ctx, e.job, slot)
	}
	s.prune(now)
}

// due returns the latest unhandled slot of e within the grace window.
// Older unhandled slots in the window are coalesced into it.
func (s *Scheduler) due(e entry, now time.Time) (time.Time, bool) {
	if !e.job.AnyDay && !s.cal.IsTradingDay(now) {
		return time.Time{}, false
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	var missed []string
	for _, m := range e.times {
		at := day.Add(time.Duration(m) * time.Minute)
		if at.After(now) || now.Sub(at) > s.cfg.Grace {
			continue
		}
		key := SlotKey(e.job.ID, at)
		if _, done := s.handled[key]; done {
			continue
		}
		if !latest.IsZero() {
			missed = append(missed, SlotKey(e.job.ID, latest))
		}
		latest = at
	}
	for _, k := range missed {
		s.handled[k] = now
		s.skip(e.job.ID, "coalesced")
		s.log.Info("slot coalesced", slog.String("slot", k))
	}
	return latest, !latest.IsZero()
}

func (s *Scheduler) fire(ctx context.Context, j Job, at time.Time) {
	key := SlotKey(j.ID, at)

	s.mu.Lock()
	if s.running[j.ID] {
		s.mu.Unlock()
		// Leave the slot unhandled; it fires on a later tick inside the grace window.
		s.log.Debug("job still running", slog.String("slot", key))
		return
	}
	s.handled[key] = at
	s.mu.Unlock()

	ok, err := s.guard.Claim(ctx, key, s.cfg.SlotTTL)
	if err != nil {
		// Without the guard we cannot prove no other process ran it.
		s.skip(j.ID, "guard_error")
		s.log.Warn("slot claim failed", slog.String("slot", key), slog.String("error", err.Error()))
		return
	}
	if !ok {
		s.skip(j.ID, "claimed")
		s.log.Info("slot already claimed", slog.String("slot", key))
		return
	}

	s.mu.Lock()
	s.running[j.ID] = true
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.JobsFired.WithLabelValues(j.ID).Inc()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, j.ID)
			s.mu.Unlock()
		}()
		start := time.Now()
		s.log.Info("job started", slog.String("slot", key))
		if err := j.Run(ctx); err != nil {
			s.log.Error("job failed", slog.String("slot", key), slog.String("error", err.Error()),
				slog.Duration("elapsed", time.Since(start)))
			return
		}
		s.log.Info("job done", slog.String("slot", key), slog.Duration("elapsed", time.Since(start)))
	}()
}

func (s *Scheduler) skip(job, reason string) {
	if s.metrics != nil {
		s.metrics.JobsSkipped.WithLabelValues(job, reason).Inc()
	}
}

// prune forgets slots older than two days.
func (s *Scheduler) prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.handled {
		if now.Sub(at) > 48*time.Hour {
			delete(s.handled, k)
		}
	}
}

// Wait blocks until jobs started by Tick have returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// MemoryGuard is a process-local SlotGuard. Expired slots are dropped
// whenever a new slot is claimed.
type MemoryGuard struct {
	mu    sync.Mutex
	slots map[string]time.Time // slot -> expiry
	now   func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{slots: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) Claim(_ context.Context, slot string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if exp, ok := g.slots[slot]; ok && now.Before(exp) {
		return false, nil
	}
	for k, exp := range g.slots {
		if !now.Before(exp) {
			delete(g.slots, k)
		}
	}
	g.slots[slot] = now.Add(ttl)
	return true, nil
}
