// Package parallel provides fail-fast parallel execution utilities.
package parallel

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Pool Configuration
// ============================================================================

// PoolConfig configures the executor behavior.
type PoolConfig struct {
	// MaxWorkers is the maximum number of concurrent tasks.
	// Default: min(runtime.NumCPU(), 8)
	MaxWorkers int
}

// DefaultPoolConfig returns a default pool configuration.
func DefaultPoolConfig() PoolConfig {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8 // Cap at 8 to avoid excessive overhead
	}
	if workers < 2 {
		workers = 2
	}
	return PoolConfig{MaxWorkers: workers}
}

// WithWorkers returns a new config with the specified number of workers.
// Non-positive values keep the current setting.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	if n > 0 {
		c.MaxWorkers = n
	}
	return c
}

// ============================================================================
// Executor
// ============================================================================

// Executor runs fire-and-forget tasks on a bounded set of goroutines and
// acts as a barrier: Wait blocks until every submitted task has finished and
// returns the first error. The first failure cancels the executor context, so
// tasks that have not started yet are skipped.
//
// Tasks must not submit further tasks to the same executor.
type Executor struct {
	g      *errgroup.Group
	ctx    context.Context
	parent context.Context
	done   atomic.Int64
}

// NewExecutor creates an executor bound to ctx.
func NewExecutor(ctx context.Context, cfg PoolConfig) *Executor {
	g, gctx := errgroup.WithContext(ctx)
	if cfg.MaxWorkers > 0 {
		g.SetLimit(cfg.MaxWorkers)
	}
	return &Executor{g: g, ctx: gctx, parent: ctx}
}

// Context returns the context tasks run under. It is canceled after the
// first task failure.
func (e *Executor) Context() context.Context {
	return e.ctx
}

// Go submits a task. It blocks while MaxWorkers tasks are running.
func (e *Executor) Go(fn func(ctx context.Context) error) {
	e.g.Go(func() (err error) {
		if e.ctx.Err() != nil {
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
			}
			e.done.Add(1)
		}()
		return fn(e.ctx)
	})
}

// Wait blocks until all submitted tasks complete. It returns the first task
// error, or the parent context error when the parent was canceled.
func (e *Executor) Wait() error {
	if err := e.g.Wait(); err != nil {
		return err
	}
	return e.parent.Err()
}

// Completed returns the number of tasks that ran to completion or failure.
func (e *Executor) Completed() int64 {
	return e.done.Load()
}

// ForEach runs fn over items in parallel and returns the first error.
func ForEach[T any](ctx context.Context, items []T, config PoolConfig, fn func(ctx context.Context, item T) error) error {
	exec := NewExecutor(ctx, config)
	for _, item := range items {
		item := item
		exec.Go(func(ctx context.Context) error {
			return fn(ctx, item)
		})
	}
	return exec.Wait()
}

// ============================================================================
// Progress Tracking
// ============================================================================

// ProgressTracker tracks progress of parallel operations.
type ProgressTracker struct {
	total     int64
	completed atomic.Int64
	callback  func(completed, total int64)
	interval  time.Duration
	stopCh    chan struct{}
	stopped   atomic.Bool
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker(total int64, callback func(completed, total int64), interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &ProgressTracker{
		total:    total,
		callback: callback,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins progress reporting in a background goroutine.
func (pt *ProgressTracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(pt.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pt.stopCh:
				return
			case <-ticker.C:
				if pt.callback != nil {
					pt.callback(pt.completed.Load(), pt.total)
				}
			}
		}
	}()
}

// Increment increments the completed count.
func (pt *ProgressTracker) Increment() {
	pt.completed.Add(1)
}

// Stop stops progress reporting and emits a final callback.
func (pt *ProgressTracker) Stop() {
	if pt.stopped.CompareAndSwap(false, true) {
		close(pt.stopCh)
		if pt.callback != nil {
			pt.callback(pt.completed.Load(), pt.total)
		}
	}
}

// Completed returns the current completed count.
func (pt *ProgressTracker) Completed() int64 {
	return pt.completed.Load()
}
