// Package workerpool bounds how many local inference calls run at once.
package workerpool

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool admits at most size concurrent functions.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Do waits for a free slot and runs fn on its own goroutine. A positive
// timeout bounds fn alone and starts once the slot is granted, so time spent
// queued for a slot is never charged to the call. Do returns when fn returns
// or its context is done, whichever comes first; in the latter case the slot
// is held until fn finishes.
func (p *Pool) Do(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for inference slot: %w", err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("inference worker panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Size returns the configured concurrency.
func (p *Pool) Size() int { return int(p.size) }
