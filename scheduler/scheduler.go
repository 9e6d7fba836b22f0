// Package scheduler turns recurring schedule entries into queued
// generation jobs.
package scheduler

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shorts-pipeline/logger"
	"shorts-pipeline/queue"
	"shorts-pipeline/store"
	"shorts-pipeline/types"
)

// Enqueuer accepts jobs; queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *types.GenerationJob) error
}

// Scheduler polls for due entries and enqueues one job per entry.
type Scheduler struct {
	store    store.Store
	queue    Enqueuer
	interval time.Duration
	now      func() time.Time
	log      *zap.SugaredLogger
}

// New creates a Scheduler polling every interval.
func New(st store.Store, q Enqueuer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{store: st, queue: q, interval: interval, now: time.Now, log: logger.Named("scheduler")}
}

// WithClock replaces time.Now.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Create validates entry, fills its id and first NextRun and saves it.
func (s *Scheduler) Create(ctx context.Context, entry *types.ScheduleEntry) error {
	now := s.now()
	if err := PinStart(entry, now); err != nil {
		return err
	}
	next, err := ComputeNextRun(entry, now)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.NextRun = next
	entry.Active = true
	if err := s.store.SaveSchedule(ctx, entry); err != nil {
		return err
	}
	s.log.Infow("schedule created", "schedule_id", entry.ID, "recurrence", entry.Recurrence, "next_run", next)
	return nil
}

// Tick enqueues a job for every due entry and returns how many were
// enqueued. Entries already in flight are skipped.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "load due schedules")
	}
	enqueued := 0
	for _, entry := range due {
		job := entry.NewJob(now)
		record := *job
		if err := s.store.SaveJob(ctx, &record); err != nil {
			s.log.Errorw("save scheduled job failed", "schedule_id", entry.ID, "job_id", job.ID, "error", err)
			continue
		}
		err := s.queue.Enqueue(ctx, job)
		if err != nil {
			if derr := s.store.DeleteJob(ctx, record.ID); derr != nil {
				s.log.Warnw("delete unqueued job failed", "job_id", record.ID, "error", derr)
			}
		}
		switch {
		case errors.Is(err, queue.ErrAlreadyQueued):
			s.log.Debugw("schedule already in flight", "schedule_id", entry.ID)
			continue
		case err != nil:
			s.log.Errorw("enqueue scheduled job failed", "schedule_id", entry.ID, "error", err)
			continue
		}
		enqueued++
		s.log.Infow("scheduled job enqueued", "schedule_id", entry.ID, "job_id", job.ID, "due", entry.NextRun)
	}
	return enqueued, nil
}

// Run ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx, s.now()); err != nil {
			s.log.Errorw("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// OnJobFinished records the outcome of a scheduled run and advances the
// entry by one period. A failed run never deactivates the entry.
func (s *Scheduler) OnJobFinished(ctx context.Context, job *types.GenerationJob, runErr error) error {
	if job.ScheduleID == "" {
		return nil
	}
	entry, err := s.store.GetSchedule(ctx, job.ScheduleID)
	if err != nil {
		return err
	}
	now := s.now()
	entry.LastRunAt = &now
	if runErr != nil {
		entry.FailCount++
		entry.LastFailReason = truncate(runErr.Error(), 500)
	}
	if err := Advance(entry, now); err != nil {
		return errors.Wrapf(err, "advance schedule %s", entry.ID)
	}
	if err := s.store.SaveSchedule(ctx, entry); err != nil {
		return err
	}
	s.log.Infow("schedule advanced",
		"schedule_id", entry.ID,
		"next_run", entry.NextRun,
		"active", entry.Active,
		"fail_count", entry.FailCount,
	)
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
