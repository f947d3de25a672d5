package taskpool_test

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	taskpool "github.com/Swind/go-taskpool"
	"github.com/Swind/go-taskpool/core"
)

func collect(done *atomic.Bool) {
	for i := 0; i < 10 && !done.Load(); i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
}

// TestThreadPool_GC_AfterStop tests a stopped pool is garbage collected
// Given: a ThreadPool that has executed tasks through a TaskGroup
// When: the pool is stopped and references are dropped
// Then: the pool is garbage collected (no worker goroutine pins it)
func TestThreadPool_GC_AfterStop(t *testing.T) {
	// Arrange
	var poolFinalized atomic.Bool

	pool := taskpool.NewGoroutineThreadPoolWithConfig("gc-pool", 2, &core.TaskSchedulerConfig{Logger: core.NewNoOpLogger()})
	pool.Start(context.Background())
	runtime.SetFinalizer(pool, func(p *taskpool.GoroutineThreadPool) {
		poolFinalized.Store(true)
	})

	// Act - Execute tasks and shutdown
	group := taskpool.NewTaskGroup(nil)
	for i := 0; i < 10; i++ {
		group.Go(pool, func(ctx context.Context) {
			time.Sleep(time.Millisecond)
		})
	}
	if err := group.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	pool.Stop()
	pool = nil

	collect(&poolFinalized)

	// Assert
	if !poolFinalized.Load() {
		t.Error("ThreadPool GC'd: got = false, want = true")
	}
}

// TestThreadPool_GC_QueuedTasksDrainedOnStop tests queued closures do not pin a stopped pool
// Given: a pool that was never started, with 100 queued tasks capturing a payload
// When: the pool is stopped (which drains the queue inline) and dropped
// Then: both the pool and the payload are garbage collected
func TestThreadPool_GC_QueuedTasksDrainedOnStop(t *testing.T) {
	// Arrange
	var poolFinalized, payloadFinalized atomic.Bool

	pool := taskpool.NewGoroutineThreadPoolWithConfig("gc-queued", 2, &core.TaskSchedulerConfig{Logger: core.NewNoOpLogger()})
	runtime.SetFinalizer(pool, func(p *taskpool.GoroutineThreadPool) {
		poolFinalized.Store(true)
	})

	payload := &struct{ buf [1024]byte }{}
	runtime.SetFinalizer(payload, func(p *struct{ buf [1024]byte }) {
		payloadFinalized.Store(true)
	})

	var executed atomic.Int32
	for i := 0; i < 100; i++ {
		pool.PostTask(func(ctx context.Context) {
			_ = payload.buf[0]
			executed.Add(1)
		})
	}
	payload = nil

	// Act
	pool.Stop()
	pool = nil

	collect(&payloadFinalized)
	collect(&poolFinalized)

	// Assert
	if executed.Load() != 100 {
		t.Errorf("executed = %d, want 100", executed.Load())
	}
	if !poolFinalized.Load() {
		t.Error("ThreadPool GC'd: got = false, want = true")
	}
	if !payloadFinalized.Load() {
		t.Error("payload GC'd: got = false, want = true (queue still holds the closures)")
	}
}
