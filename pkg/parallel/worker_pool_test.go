package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutor_Barrier(t *testing.T) {
	exec := NewExecutor(context.Background(), DefaultPoolConfig().WithWorkers(3))

	var sum atomic.Int64
	for i := 1; i <= 100; i++ {
		i := i
		exec.Go(func(ctx context.Context) error {
			sum.Add(int64(i))
			return nil
		})
	}

	if err := exec.Wait(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sum.Load() != 5050 {
		t.Errorf("Expected 5050, got %d", sum.Load())
	}
	if exec.Completed() != 100 {
		t.Errorf("Expected 100 completed, got %d", exec.Completed())
	}
}

func TestExecutor_FailFast(t *testing.T) {
	boom := errors.New("boom")
	exec := NewExecutor(context.Background(), PoolConfig{MaxWorkers: 1})

	var ran atomic.Int64
	exec.Go(func(ctx context.Context) error {
		ran.Add(1)
		return boom
	})
	for i := 0; i < 10; i++ {
		exec.Go(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	err := exec.Wait()
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if ran.Load() != 1 {
		t.Errorf("Expected tasks after the failure to be skipped, %d ran", ran.Load())
	}
}

func TestExecutor_Panic(t *testing.T) {
	exec := NewExecutor(context.Background(), DefaultPoolConfig())
	exec.Go(func(ctx context.Context) error {
		panic("bad class")
	})

	if err := exec.Wait(); err == nil {
		t.Fatal("Expected panic to surface as an error")
	}
}

func TestExecutor_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewExecutor(ctx, DefaultPoolConfig())
	exec.Go(func(ctx context.Context) error { return nil })

	if err := exec.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestForEach(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	var sum atomic.Int64

	err := ForEach(context.Background(), items, DefaultPoolConfig(), func(ctx context.Context, item int) error {
		sum.Add(int64(item))
		return nil
	})

	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if sum.Load() != 15 {
		t.Errorf("Expected sum 15, got %d", sum.Load())
	}
}

func TestProgressTracker(t *testing.T) {
	var mu sync.Mutex
	var lastCompleted, lastTotal int64

	tracker := NewProgressTracker(100, func(completed, total int64) {
		mu.Lock()
		defer mu.Unlock()
		lastCompleted = completed
		lastTotal = total
	}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker.Start(ctx)

	for i := 0; i < 50; i++ {
		tracker.Increment()
	}
	tracker.Stop()
	tracker.Stop()

	mu.Lock()
	defer mu.Unlock()
	if lastCompleted != 50 {
		t.Errorf("Expected lastCompleted=50, got %d", lastCompleted)
	}
	if lastTotal != 100 {
		t.Errorf("Expected lastTotal=100, got %d", lastTotal)
	}
}
