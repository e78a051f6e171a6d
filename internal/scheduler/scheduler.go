// Package scheduler runs periodic checks for monitored targets. Each
// target gets its own loop, but a target never has two checks in flight
// at once, and requests to the same host are spaced out.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"stockwatch/internal/model"
	"stockwatch/internal/urlutil"
)

// ErrCheckInProgress is returned when a manual check is requested while
// a check for the same target is already running.
var ErrCheckInProgress = errors.New("check already in progress")

// CheckFunc executes one check cycle for a target.
type CheckFunc func(ctx context.Context, target model.Target) (*model.CheckSummary, error)

type job struct {
	target model.Target
	cancel context.CancelFunc
}

// Scheduler owns the per-target check loops.
type Scheduler struct {
	check CheckFunc
	pace  time.Duration
	log   *slog.Logger

	mu          sync.Mutex
	jobs        map[int64]*job
	running     map[int64]bool
	lastRequest map[string]time.Time

	wg      sync.WaitGroup
	stopped bool
}

// New creates a Scheduler. pace is the minimum spacing between requests
// to the same host.
func New(check CheckFunc, pace time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		check:       check,
		pace:        pace,
		log:         log,
		jobs:        make(map[int64]*job),
		running:     make(map[int64]bool),
		lastRequest: make(map[string]time.Time),
	}
}

// Schedule starts (or restarts) the periodic loop for a target.
func (s *Scheduler) Schedule(target model.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.jobs[target.ID]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{target: target, cancel: cancel}
	s.jobs[target.ID] = j

	s.wg.Add(1)
	go s.loop(ctx, j)
	s.log.Info("scheduled target", "target_id", target.ID, "interval", target.Interval())
}

// Unschedule stops the periodic loop for a target. An in-flight check
// is allowed to finish.
func (s *Scheduler) Unschedule(targetID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[targetID]; ok {
		j.cancel()
		delete(s.jobs, targetID)
		s.log.Info("unscheduled target", "target_id", targetID)
	}
}

// TriggerNow runs a check for a target immediately and returns its
// result. It shares the overlap guard with the periodic loop.
func (s *Scheduler) TriggerNow(ctx context.Context, target model.Target) (*model.CheckSummary, error) {
	if !s.acquire(target.ID) {
		return nil, ErrCheckInProgress
	}
	defer s.release(target.ID)

	s.pauseForHost(target.URL)
	return s.check(ctx, target)
}

// Stop cancels all loops and waits for in-flight checks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, j := range s.jobs {
		j.cancel()
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	interval := j.target.Interval()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(j.target)
		}
	}
}

// runOnce executes one periodic check. The check runs detached from the
// loop context so that Stop lets it complete instead of aborting it
// mid-write.
func (s *Scheduler) runOnce(target model.Target) {
	if !s.acquire(target.ID) {
		s.log.Warn("skipping check, previous still running", "target_id", target.ID)
		return
	}
	defer s.release(target.ID)

	s.pauseForHost(target.URL)

	ctx := context.WithoutCancel(context.Background())
	if _, err := s.check(ctx, target); err != nil {
		s.log.Error("check failed", "target_id", target.ID, "error", err)
	}
}

func (s *Scheduler) acquire(targetID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[targetID] {
		return false
	}
	s.running[targetID] = true
	return true
}

func (s *Scheduler) release(targetID int64) {
	s.mu.Lock()
	delete(s.running, targetID)
	s.mu.Unlock()
}

// pauseForHost reserves the next request slot for the target's host and
// sleeps until it arrives. The reservation is taken under the lock, so
// concurrent checks against one host serialize without holding the lock
// while sleeping.
func (s *Scheduler) pauseForHost(url string) {
	if s.pace <= 0 {
		return
	}
	host := urlutil.Host(url)
	if host == "" {
		return
	}

	s.mu.Lock()
	now := time.Now()
	slot := s.lastRequest[host].Add(s.pace)
	if slot.Before(now) {
		slot = now
	}
	s.lastRequest[host] = slot
	s.mu.Unlock()

	if wait := time.Until(slot); wait > 0 {
		time.Sleep(wait)
	}
}
