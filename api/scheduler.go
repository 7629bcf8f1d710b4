/*
scheduler.go - Background schedule runner and expiry sweeper

PURPOSE:
  Periodically runs enabled schedule-triggered rules and sweeps expired
  lots, so deployments without an external cron still get daily grants
  and expirations.

DESIGN:
  - One background goroutine with two tickers (schedule checks, reaper)
  - A SchedulePlanner decides whether a rule is due; the default runs
    each rule at most once per calendar day (UTC)
  - Grants are idempotent per (rule, member, day), so an extra run after
    a restart is harmless

USAGE:
  scheduler := NewScheduler(engine, rules)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSchedule endpoint (manual runs)
  - loyalty/engine.go: RunSchedule, RunExpiryReaper
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/meridian/loyalty-engine/loyalty"
)

// SchedulePlanner decides whether a schedule rule is due for a run.
type SchedulePlanner interface {
	Due(rule loyalty.Rule, lastRun time.Time, now time.Time) bool
}

// DailyPlanner runs each rule at most once per calendar day (UTC).
// Rule schedule specs finer than daily belong to an external cron
// hitting POST /api/rules/{id}/run.
type DailyPlanner struct{}

func (DailyPlanner) Due(_ loyalty.Rule, lastRun time.Time, now time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	ly, lm, ld := lastRun.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return ly != ny || lm != nm || ld != nd
}

// Scheduler drives schedule rules and the expiry reaper in the
// background.
type Scheduler struct {
	Engine           *loyalty.Engine
	Rules            loyalty.RuleStore
	Planner          SchedulePlanner
	ScheduleInterval time.Duration
	ReaperInterval   time.Duration
	Enabled          bool

	lastRun map[loyalty.RuleID]time.Time
	runMu   sync.Mutex // Guards lastRun
	stop    chan bool
	wg      sync.WaitGroup
	mu      sync.Mutex // Guards Start/Stop
}

// NewScheduler creates a scheduler with hourly check intervals.
func NewScheduler(engine *loyalty.Engine, rules loyalty.RuleStore) *Scheduler {
	return &Scheduler{
		Engine:           engine,
		Rules:            rules,
		Planner:          DailyPlanner{},
		ScheduleInterval: 1 * time.Hour,
		ReaperInterval:   1 * time.Hour,
		Enabled:          true,
		lastRun:          make(map[loyalty.RuleID]time.Time),
		stop:             make(chan bool),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	s.wg.Add(1)
	go s.run()

	log.Printf("[Scheduler] Started: schedule checks every %v, reaper every %v", s.ScheduleInterval, s.ReaperInterval)
}

// Stop stops the scheduler and waits for in-flight work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stop:
		return // Already stopped
	default:
	}
	close(s.stop)
	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	scheduleTicker := time.NewTicker(s.ScheduleInterval)
	defer scheduleTicker.Stop()
	reaperTicker := time.NewTicker(s.ReaperInterval)
	defer reaperTicker.Stop()

	// Run immediately on start
	s.checkSchedules()
	s.sweepExpired()

	for {
		select {
		case <-scheduleTicker.C:
			s.checkSchedules()
		case <-reaperTicker.C:
			s.sweepExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) checkSchedules() {
	ctx := context.Background()
	now := time.Now().UTC()

	rules, err := s.Rules.RulesByTrigger(ctx, loyalty.TriggerSchedule)
	if err != nil {
		log.Printf("[Scheduler] Error listing schedule rules: %v", err)
		return
	}

	ranCount := 0
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !s.Planner.Due(rule, s.lastRunFor(rule.ID), now) {
			continue
		}

		granted, err := s.Engine.RunSchedule(ctx, rule.ID)
		if err != nil {
			log.Printf("[Scheduler] Error running rule %d (%s): %v", rule.ID, rule.Name, err)
			continue
		}
		s.markRun(rule.ID, now)
		ranCount++
		log.Printf("[Scheduler] Ran rule %d (%s): %d grants", rule.ID, rule.Name, granted)
	}

	if ranCount > 0 {
		log.Printf("[Scheduler] Schedule check completed: %d rules ran", ranCount)
	}
}

func (s *Scheduler) sweepExpired() {
	ctx := context.Background()
	if _, err := s.Engine.RunExpiryReaper(ctx); err != nil {
		log.Printf("[Scheduler] Error running reaper: %v", err)
	}
}

func (s *Scheduler) lastRunFor(id loyalty.RuleID) time.Time {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.lastRun[id]
}

func (s *Scheduler) markRun(id loyalty.RuleID, t time.Time) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.lastRun[id] = t
}

// RunNow triggers an immediate check (for testing/admin).
func (s *Scheduler) RunNow() {
	s.checkSchedules()
	s.sweepExpired()
}
