// Package scheduler fires periodic checks, one cron entry per active group.
package scheduler

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"groupwatch/internal/checker"
	"groupwatch/internal/model"
)

// Defaults.
const (
	DefaultInitialDelay = 6 * time.Second
	DefaultCheckTimeout = 2 * time.Minute
	entryPrefix         = "check_"
)

// Checker runs one group check.
type Checker interface {
	Check(ctx context.Context, id string, trigger checker.Trigger) (checker.Report, error)
}

// Scheduler owns the cron entries for all monitored groups.
type Scheduler struct {
	cron    *cron.Cron
	checker Checker
	log     *slog.Logger

	// InitialDelay is how long after registration an entry first fires.
	InitialDelay time.Duration
	// CheckTimeout bounds a single scheduled check.
	CheckTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a stopped Scheduler.
func New(c Checker, log *slog.Logger) *Scheduler {
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		checker:      c,
		log:          log,
		InitialDelay: DefaultInitialDelay,
		CheckTimeout: DefaultCheckTimeout,
		ctx:          ctx,
		cancel:       cancel,
		entries:      make(map[string]cron.EntryID),
	}
}

// EntryName is the name of the entry that checks group id.
func EntryName(id string) string {
	return entryPrefix + id
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop, cancels running checks and waits for them to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

// Sync clears every entry and registers one for each active group.
func (s *Scheduler) Sync(groups []model.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	now := time.Now()
	for _, g := range groups {
		if !g.Active {
			continue
		}
		id := g.ID
		sched := delayedEvery{first: now.Add(s.InitialDelay), every: g.IntervalDuration()}
		s.entries[EntryName(id)] = s.cron.Schedule(sched, cron.FuncJob(func() { s.run(id) }))
		s.log.Debug("scheduled group", "group_id", id, "name", g.Name, "interval", g.IntervalDuration())
	}
	s.log.Info("monitoring scheduled", "groups", len(s.entries))
}

// ClearAll removes every entry. Calling it with nothing scheduled is a no-op.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Scheduler) clearLocked() {
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Entries lists the registered entry names in sorted order.
func (s *Scheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Scheduler) run(id string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.CheckTimeout)
	defer cancel()

	report, err := s.checker.Check(ctx, id, checker.Scheduled)
	if err != nil {
		s.log.Error("scheduled check failed", "group_id", id, "error", err)
		return
	}
	if report.Skipped {
		return
	}
	s.log.Debug("scheduled check done",
		"group_id", id, "scraped", report.Scraped, "new", report.New, "delivered", report.Delivered)
}

// delayedEvery fires once at first and then every period after each run.
type delayedEvery struct {
	first time.Time
	every time.Duration
}

func (d delayedEvery) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return t.Add(d.every)
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
