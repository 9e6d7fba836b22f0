// Package queue runs whole generation jobs one at a time. Enqueue is
// idempotent per job dedupe key; a processing flag keeps drains from
// overlapping.
package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"shorts-pipeline/logger"
	"shorts-pipeline/types"
)

// ErrAlreadyQueued is returned when a job with the same dedupe key is
// waiting or running.
var ErrAlreadyQueued = errors.New("job already queued")

// Backend stores pending jobs and the in-flight key set.
type Backend interface {
	Push(ctx context.Context, job *types.GenerationJob) error
	// Pop returns nil when the queue is empty.
	Pop(ctx context.Context) (*types.GenerationJob, error)
	// Ack marks a popped job as finished.
	Ack(ctx context.Context, job *types.GenerationJob) error
	// Claim adds key to the in-flight set and reports whether it was new.
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
}

// Recoverer is implemented by backends that can requeue jobs a previous
// worker popped but never acked.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Handler runs one job. Its error is logged and never stops the worker.
type Handler func(ctx context.Context, job *types.GenerationJob) error

// Queue is a single-worker job queue.
type Queue struct {
	backend    Backend
	handler    Handler
	processing atomic.Bool
	wake       chan struct{}
	log        *zap.SugaredLogger
}

// New creates a queue draining into handler.
func New(backend Backend, handler Handler) *Queue {
	return &Queue{
		backend: backend,
		handler: handler,
		wake:    make(chan struct{}, 1),
		log:     logger.Named("queue"),
	}
}

// Enqueue adds job unless its dedupe key is already in flight.
func (q *Queue) Enqueue(ctx context.Context, job *types.GenerationJob) error {
	key := job.DedupeKey()
	added, err := q.backend.Claim(ctx, key)
	if err != nil {
		return errors.Wrap(err, "claim job")
	}
	if !added {
		return errors.Wrapf(ErrAlreadyQueued, "%s", key)
	}
	if err := q.backend.Push(ctx, job); err != nil {
		_ = q.backend.Release(ctx, key)
		return errors.Wrap(err, "push job")
	}
	q.log.Infow("job enqueued", "job_id", job.ID, "key", key)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Processing reports whether a drain is running.
func (q *Queue) Processing() bool { return q.processing.Load() }

// Len returns the number of waiting jobs.
func (q *Queue) Len(ctx context.Context) (int, error) { return q.backend.Len(ctx) }

// Drain runs queued jobs until the queue is empty and returns how many ran.
// A call made while another drain is active returns 0 immediately.
func (q *Queue) Drain(ctx context.Context) int {
	if !q.processing.CompareAndSwap(false, true) {
		return 0
	}
	defer q.processing.Store(false)

	ran := 0
	for ctx.Err() == nil {
		job, err := q.backend.Pop(ctx)
		if err != nil {
			q.log.Errorw("pop job failed", "error", err)
			return ran
		}
		if job == nil {
			return ran
		}
		q.run(ctx, job)
		ran++
	}
	return ran
}

func (q *Queue) run(ctx context.Context, job *types.GenerationJob) {
	key := job.DedupeKey()
	defer func() {
		bg := context.WithoutCancel(ctx)
		if err := q.backend.Ack(bg, job); err != nil {
			q.log.Warnw("ack job failed", "job_id", job.ID, "error", err)
		}
		if err := q.backend.Release(bg, key); err != nil {
			q.log.Warnw("release job failed", "job_id", job.ID, "error", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("job panicked", "job_id", job.ID, "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	if err := q.handler(ctx, job); err != nil {
		q.log.Errorw("job failed", "job_id", job.ID, "error", err, "elapsed", time.Since(start))
		return
	}
	q.log.Infow("job finished", "job_id", job.ID, "elapsed", time.Since(start))
}

// Start requeues jobs a dead worker left behind, then drains whenever a
// job is enqueued and every poll interval, until ctx is done.
func (q *Queue) Start(ctx context.Context, poll time.Duration) {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	if rec, ok := q.backend.(Recoverer); ok {
		n, err := rec.Recover(ctx)
		if err != nil {
			q.log.Errorw("recover jobs failed", "error", err)
		}
		if n > 0 {
			q.log.Warnw("requeued jobs from a previous worker", "count", n)
			q.Drain(ctx)
		}
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
		q.Drain(ctx)
	}
}
