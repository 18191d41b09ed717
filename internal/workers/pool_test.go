package workers

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestPool(t *testing.T, numWorkers int) *Pool {
	t.Helper()
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = numWorkers
	cfg.QueueSize = 64
	cfg.TaskTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	p := NewPool(zap.NewNop(), cfg)
	p.Start()
	t.Cleanup(func() { p.Stop() })
	return p
}

func TestSubmitWaitRunsTaskToCompletion(t *testing.T) {
	p := newTestPool(t, 2)

	var ran atomic.Bool
	err := p.SubmitWait(TaskFunc(func() error {
		ran.Store(true)
		return nil
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran.Load() {
		t.Fatal("expected the task to have run")
	}
}

func TestSubmitWaitPropagatesTaskError(t *testing.T) {
	p := newTestPool(t, 1)

	sentinel := errors.New("run failed")
	err := p.SubmitWait(TaskFunc(func() error { return sentinel }))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the task's error to propagate, got %v", err)
	}
}

func TestSubmitBatchFansOutConcurrently(t *testing.T) {
	p := newTestPool(t, 4)

	var count int64
	const n = 20
	tasks := make([]Task, n)
	for i := 0; i < n; i++ {
		tasks[i] = TaskFunc(func() error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	}

	submitted, err := p.SubmitBatch(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if submitted != n {
		t.Fatalf("expected %d tasks submitted, got %d", n, submitted)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt64(&count) < n {
		time.Sleep(5 * time.Millisecond)
	}
	if got := atomic.LoadInt64(&count); got != n {
		t.Fatalf("expected all %d tasks to run, got %d", n, got)
	}
}

func TestSubmitAfterStopReturnsPoolStopped(t *testing.T) {
	cfg := DefaultPoolConfig("test")
	cfg.NumWorkers = 1
	p := NewPool(zap.NewNop(), cfg)
	p.Start()
	p.Stop()

	if err := p.Submit(TaskFunc(func() error { return nil })); err != ErrPoolStopped {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
}

func TestPanicRecoveryCountsAsFailure(t *testing.T) {
	p := newTestPool(t, 1)

	if err := p.Submit(TaskFunc(func() error {
		panic("boom")
	})); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.Stats().PanicRecovered == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Stats().PanicRecovered != 1 {
		t.Fatalf("expected the panic to be recorded, got stats %+v", p.Stats())
	}
}

func TestBatchProcessorRunsFixedSizeBatches(t *testing.T) {
	p := newTestPool(t, 4)
	bp := NewBatchProcessor(p, 3)

	items := make([]interface{}, 10)
	for i := range items {
		items[i] = i
	}

	var processed int64
	err := bp.ProcessBatch(items, func(item interface{}) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != int64(len(items)) {
		t.Fatalf("expected all %d items processed, got %d", len(items), processed)
	}
}

func TestBatchProcessorCollectsErrors(t *testing.T) {
	p := newTestPool(t, 2)
	bp := NewBatchProcessor(p, 2)

	items := []interface{}{1, 2, 3}
	err := bp.ProcessBatch(items, func(item interface{}) error {
		if item.(int) == 2 {
			return errors.New("item 2 failed")
		}
		return nil
	})
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected a BatchError, got %v", err)
	}
	if len(batchErr.Errors) != 1 {
		t.Fatalf("expected exactly one collected error, got %d", len(batchErr.Errors))
	}
}
