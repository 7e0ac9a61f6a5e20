// Package scheduler triggers batch analysis runs on a per-owner interval.
// Each owner has at most one ticker and at most one in-flight run; triggers
// that arrive while a run is active are dropped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cliplens/backend/internal/batch"
)

// Job runs one batch pass for an owner.
type Job interface {
	Run(ctx context.Context, ownerID int64, progress batch.ProgressFunc) batch.Summary
}

// OwnerStatus describes one owner's schedule.
type OwnerStatus struct {
	OwnerID         int64         `json:"owner_id"`
	Interval        time.Duration `json:"interval"`
	Running         bool          `json:"running"`
	LastRunAt       time.Time     `json:"last_run_at,omitzero"`
	LastRunAnalyzed int           `json:"last_run_analyzed"`
	LastRunFailed   int           `json:"last_run_failed"`
	LastRunError    string        `json:"last_run_error,omitempty"`
	RunsCompleted   int           `json:"runs_completed"`
	DroppedTriggers int           `json:"dropped_triggers"`
}

type ownerSchedule struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status OwnerStatus
	// inFlight is the max-instances=1 lock; TryLock failure means a run is
	// already active and the trigger is dropped.
	inFlight sync.Mutex
}

// Scheduler owns the per-owner tickers.
type Scheduler struct {
	job    Job
	logger *slog.Logger

	mu     sync.Mutex
	owners map[int64]*ownerSchedule
}

// New returns an empty scheduler.
func New(job Job, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{job: job, logger: logger, owners: make(map[int64]*ownerSchedule)}
}

// Start begins periodic runs for the owner: one immediately, then one per
// interval. Starting an owner that is already scheduled is a no-op.
func (s *Scheduler) Start(ctx context.Context, ownerID int64, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval %s must be positive", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owners[ownerID]; ok {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	sched := &ownerSchedule{
		cancel: cancel,
		done:   make(chan struct{}),
		status: OwnerStatus{OwnerID: ownerID, Interval: interval},
	}
	s.owners[ownerID] = sched

	go s.loop(runCtx, sched, ownerID, interval)
	s.logger.InfoContext(ctx, "schedule started", "owner_id", ownerID, "interval", interval)
	return nil
}

// Stop cancels the owner's schedule. An in-flight run finishes; only future
// triggers are cancelled. Stopping an unscheduled owner is a no-op.
func (s *Scheduler) Stop(ownerID int64) {
	s.mu.Lock()
	sched, ok := s.owners[ownerID]
	if ok {
		delete(s.owners, ownerID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	sched.cancel()
	<-sched.done
	s.logger.Info("schedule stopped", "owner_id", ownerID)
}

// StopAll stops every schedule and waits for in-flight runs.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.owners))
	for id := range s.owners {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(id)
	}
}

// Status reports the owner's schedule, or ok=false when none exists.
func (s *Scheduler) Status(ownerID int64) (OwnerStatus, bool) {
	s.mu.Lock()
	sched, ok := s.owners[ownerID]
	s.mu.Unlock()
	if !ok {
		return OwnerStatus{}, false
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	return sched.status, true
}

// loop launches each trigger on its own goroutine so the ticker keeps firing
// while a run is active; an overlapping trigger then loses the in-flight lock
// and is dropped instead of waiting its turn.
func (s *Scheduler) loop(ctx context.Context, sched *ownerSchedule, ownerID int64, interval time.Duration) {
	var runs sync.WaitGroup
	defer func() {
		runs.Wait()
		close(sched.done)
	}()

	fire := func() {
		runs.Add(1)
		go func() {
			defer runs.Done()
			s.trigger(ctx, sched, ownerID)
		}()
	}
	fire()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire()
		}
	}
}

// trigger runs one batch pass unless a run is already in flight, in which
// case the trigger is dropped.
func (s *Scheduler) trigger(ctx context.Context, sched *ownerSchedule, ownerID int64) {
	if !sched.inFlight.TryLock() {
		sched.mu.Lock()
		sched.status.DroppedTriggers++
		sched.mu.Unlock()
		s.logger.WarnContext(ctx, "overlapping trigger dropped", "owner_id", ownerID)
		return
	}
	defer sched.inFlight.Unlock()

	sched.mu.Lock()
	sched.status.Running = true
	sched.mu.Unlock()

	summary := s.job.Run(ctx, ownerID, nil)
	if summary.Error != "" {
		// Job errors are logged; the schedule keeps going.
		s.logger.ErrorContext(ctx, "scheduled run failed", "owner_id", ownerID, "error", summary.Error)
	}

	sched.mu.Lock()
	sched.status.Running = false
	sched.status.LastRunAt = time.Now()
	sched.status.LastRunAnalyzed = summary.Analyzed
	sched.status.LastRunFailed = summary.Failed
	sched.status.LastRunError = summary.Error
	sched.status.RunsCompleted++
	sched.mu.Unlock()
}
