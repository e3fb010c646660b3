// Package store persists meeting jobs. Every variant enforces the same
// transition rules: terminal jobs are never modified, results are written in
// one step together with the completed status, and updated_at never moves
// backwards.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meeting-insights-go/internal/types"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrExists            = errors.New("job already exists")
	ErrTerminal          = errors.New("job already reached a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Store is the record store used by the intake façade and the pipeline.
type Store interface {
	Create(ctx context.Context, job types.Job) error
	Get(ctx context.Context, id string) (types.Job, error)
	// UpdateStatus moves a non-terminal job to processing or failed. errMsg is
	// recorded only for failed.
	UpdateStatus(ctx context.Context, id string, status types.JobStatus, errMsg string) (types.Job, error)
	// UpdateResults writes transcript and analysis together with status, which
	// must be completed.
	UpdateResults(ctx context.Context, id string, result types.Result, status types.JobStatus) (types.Job, error)
	// List returns jobs newest first.
	List(ctx context.Context, limit, offset int) ([]types.Job, error)
	Count(ctx context.Context) (int, error)
	// ListByStatus returns every job in status, oldest first.
	ListByStatus(ctx context.Context, status types.JobStatus) ([]types.Job, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Error wraps a backend failure with the operation that hit it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExists) ||
		errors.Is(err, ErrTerminal) || errors.Is(err, ErrInvalidTransition) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// NormalizePage clamps a caller supplied window.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func checkStatusTarget(status types.JobStatus) error {
	if status != types.StatusProcessing && status != types.StatusFailed {
		return fmt.Errorf("%w: status update to %q", ErrInvalidTransition, status)
	}
	return nil
}

func checkResultsTarget(status types.JobStatus) error {
	if status != types.StatusCompleted {
		return fmt.Errorf("%w: results written with status %q", ErrInvalidTransition, status)
	}
	return nil
}

func nextUpdatedAt(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}

// applyStatus mutates j in place following the transition rules.
func applyStatus(j *types.Job, status types.JobStatus, errMsg string, now time.Time) error {
	if err := checkStatusTarget(status); err != nil {
		return err
	}
	if j.Status.Terminal() {
		return ErrTerminal
	}
	j.Status = status
	if status == types.StatusFailed {
		j.ErrorMessage = errMsg
	}
	j.UpdatedAt = nextUpdatedAt(j.UpdatedAt, now)
	return nil
}

func applyResults(j *types.Job, res types.Result, status types.JobStatus, now time.Time) error {
	if err := checkResultsTarget(status); err != nil {
		return err
	}
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if res.ActionItems == nil {
		res.ActionItems = []string{}
	}
	if res.KeyDecisions == nil {
		res.KeyDecisions = []string{}
	}
	j.Result = &res
	j.Status = status
	j.ErrorMessage = ""
	j.UpdatedAt = nextUpdatedAt(j.UpdatedAt, now)
	return nil
}

func validateNew(job types.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if !job.Status.Valid() {
		return fmt.Errorf("%w: initial status %q", ErrInvalidTransition, job.Status)
	}
	return nil
}
