// Package queue schedules pipeline runs on a fixed set of workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"meeting-insights-go/internal/logger"
)

var (
	ErrFull      = errors.New("job queue is full")
	ErrClosed    = errors.New("job queue is closed")
	ErrDuplicate = errors.New("job is already queued or running")
)

// Task is one unit of pipeline work.
type Task struct {
	JobID      string
	SourcePath string
	Filename   string
	Title      string
}

// Handler processes a task. It is expected to record its own failures.
type Handler func(ctx context.Context, t Task)

// Queue is a bounded in-memory queue. A job id is accepted at most once while
// queued or running, so no two workers ever hold the same job.
type Queue struct {
	ch  chan Task
	log *logger.Logger

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}

	wg sync.WaitGroup
}

func New(size int, log *logger.Logger) *Queue {
	return &Queue{
		ch:       make(chan Task, size),
		log:      log.Component("queue"),
		inflight: make(map[string]struct{}),
	}
}

// Enqueue never blocks.
func (q *Queue) Enqueue(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, ok := q.inflight[t.JobID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, t.JobID)
	}
	select {
	case q.ch <- t:
		q.inflight[t.JobID] = struct{}{}
		q.log.WithField("job_id", t.JobID).Debug("job queued")
		return nil
	default:
		return ErrFull
	}
}

// Start launches workers that drain the queue until Shutdown. Handlers get a
// context detached from ctx's cancellation; a started job always runs to the
// end.
func (q *Queue) Start(ctx context.Context, workers int, h Handler) {
	if workers <= 0 {
		workers = 1
	}
	base := context.WithoutCancel(ctx)
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work(base, i, h)
	}
	q.log.WithField("workers", workers).Info("job workers started")
}

func (q *Queue) work(ctx context.Context, id int, h Handler) {
	defer q.wg.Done()
	for t := range q.ch {
		q.run(ctx, id, h, t)
	}
}

func (q *Queue) run(ctx context.Context, id int, h Handler, t Task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.WithField("job_id", t.JobID).WithField("panic", fmt.Sprint(r)).Error("job handler panicked")
		}
		q.mu.Lock()
		delete(q.inflight, t.JobID)
		q.mu.Unlock()
	}()
	q.log.WithField("job_id", t.JobID).WithField("worker", id).Debug("job picked up")
	h(ctx, t)
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish, or for ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("job queue drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining job queue: %w", ctx.Err())
	}
}

// Pending returns the number of tasks waiting for a worker.
func (q *Queue) Pending() int { return len(q.ch) }

// Active reports whether a job id is queued or running.
func (q *Queue) Active(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inflight[jobID]
	return ok
}
