package taskpool

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Swind/go-taskpool/chrometrace"
	"github.com/Swind/go-taskpool/core"
)

func quietConfig() *core.TaskSchedulerConfig {
	return &core.TaskSchedulerConfig{Logger: core.NewNoOpLogger()}
}

func newQuietPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, quietConfig())
}

func TestGoroutineThreadPool_Lifecycle(t *testing.T) {
	pool := newQuietPool("test-pool", 2)

	if pool.ID() != "test-pool" {
		t.Errorf("ID() = %q, want test-pool", pool.ID())
	}
	if pool.IsRunning() {
		t.Error("pool should not be running initially")
	}

	pool.Start(context.Background())
	if !pool.IsRunning() {
		t.Error("pool should be running after Start()")
	}
	if pool.WorkerCount() != 2 {
		t.Errorf("WorkerCount() = %d, want 2", pool.WorkerCount())
	}

	pool.Stop()
	if pool.IsRunning() {
		t.Error("pool should not be running after Stop()")
	}

	// Stop is idempotent and a stopped pool cannot be restarted.
	pool.Stop()
	pool.Start(context.Background())
	if pool.IsRunning() {
		t.Error("Start() after Stop() should be a no-op")
	}
}

func TestGoroutineThreadPool_InvalidWorkerCountPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewGoroutineThreadPool with 0 workers did not panic")
		}
	}()
	NewGoroutineThreadPool("bad", 0)
}

func TestGoroutineThreadPool_GeneratedID(t *testing.T) {
	a := newQuietPool("", 1)
	b := newQuietPool("", 1)

	if !strings.HasPrefix(a.ID(), "pool-") {
		t.Errorf("generated ID = %q, want prefix pool-", a.ID())
	}
	if a.ID() == b.ID() {
		t.Errorf("generated IDs collide: %q", a.ID())
	}
}

func TestGoroutineThreadPool_TaskExecution(t *testing.T) {
	pool := newQuietPool("exec-pool", 4)
	pool.Start(context.Background())
	defer pool.Stop()

	var counter atomic.Int32
	var wg sync.WaitGroup
	taskCount := 10
	wg.Add(taskCount)

	for i := 0; i < taskCount; i++ {
		pool.PostTask(func(ctx context.Context) {
			defer wg.Done()
			counter.Add(1)
			time.Sleep(10 * time.Millisecond)
		})
	}

	wg.Wait()
	if got := counter.Load(); got != int32(taskCount) {
		t.Errorf("executed = %d, want %d", got, taskCount)
	}
}

func TestGoroutineThreadPool_Metrics(t *testing.T) {
	pool := newQuietPool("metrics-pool", 1) // Single worker to force queuing
	pool.Start(context.Background())
	defer pool.Stop()

	// 1. Block the worker
	blockCh := make(chan struct{})
	started := make(chan struct{})
	pool.PostTask(func(ctx context.Context) {
		close(started)
		<-blockCh
	})
	<-started

	if active := pool.ActiveTaskCount(); active != 1 {
		t.Errorf("ActiveTaskCount() = %d, want 1", active)
	}

	// 2. Queue more tasks
	pool.PostTask(func(ctx context.Context) {})
	pool.PostTask(func(ctx context.Context) {})

	if queued := pool.QueuedTaskCount(); queued != 2 {
		t.Errorf("QueuedTaskCount() = %d, want 2", queued)
	}

	// 3. Unblock and let it drain
	close(blockCh)
	deadline := time.Now().Add(time.Second)
	for pool.Stats().Executed < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	stats := pool.Stats()
	if stats.Executed != 3 || stats.Queued != 0 || stats.Active != 0 {
		t.Errorf("Stats() = %+v, want 3 executed, nothing queued or active", stats)
	}
	if !stats.Running || stats.Workers != 1 || stats.ID != "metrics-pool" {
		t.Errorf("Stats() identity = %+v", stats)
	}
}

// TestGoroutineThreadPool_StopDrainsQueue verifies drain-before-destroy
// Given: a 1-worker pool with 200 queued tasks and no explicit wait
// When: Stop is called
// Then: every task has executed by the time Stop returns
func TestGoroutineThreadPool_StopDrainsQueue(t *testing.T) {
	// Arrange
	pool := newQuietPool("drain-pool", 1)
	pool.Start(context.Background())

	var executed atomic.Int32
	const m = 200
	for i := 0; i < m; i++ {
		pool.PostTask(func(ctx context.Context) {
			executed.Add(1)
		})
	}

	// Act
	pool.Stop()

	// Assert
	if got := executed.Load(); got != m {
		t.Errorf("executed = %d, want %d", got, m)
	}
	if pool.QueuedTaskCount() != 0 {
		t.Errorf("QueuedTaskCount() = %d, want 0", pool.QueuedTaskCount())
	}
}

// TestGoroutineThreadPool_StopRunsTasksPostedWhileDraining verifies chained posts survive Stop
func TestGoroutineThreadPool_StopRunsTasksPostedWhileDraining(t *testing.T) {
	pool := newQuietPool("chain-pool", 2)
	pool.Start(context.Background())

	var executed atomic.Int32
	var chain func(n int) Task
	chain = func(n int) Task {
		return func(ctx context.Context) {
			executed.Add(1)
			if n > 0 {
				GetCurrentThreadPool(ctx).PostTask(chain(n - 1))
			}
		}
	}
	pool.PostTask(chain(20))

	pool.Stop()

	if got := executed.Load(); got != 21 {
		t.Errorf("executed = %d, want 21", got)
	}
}

// TestGoroutineThreadPool_StopWithoutStart verifies queued tasks of a never-started pool still run
func TestGoroutineThreadPool_StopWithoutStart(t *testing.T) {
	pool := newQuietPool("idle-pool", 2)

	var executed atomic.Int32
	for i := 0; i < 5; i++ {
		pool.PostTask(func(ctx context.Context) { executed.Add(1) })
	}

	pool.Stop()

	if got := executed.Load(); got != 5 {
		t.Errorf("executed = %d, want 5", got)
	}
}

func TestGoroutineThreadPool_PostAfterStopRejected(t *testing.T) {
	pool := newQuietPool("rejecting-pool", 1)
	pool.Start(context.Background())
	pool.Stop()

	var ran atomic.Bool
	if pool.TryPostTask(func(ctx context.Context) { ran.Store(true) }) {
		t.Error("TryPostTask after Stop = true, want false")
	}
	pool.PostTask(func(ctx context.Context) { ran.Store(true) })

	if ran.Load() {
		t.Error("task posted after Stop was executed")
	}
	if got := pool.Stats().Rejected; got != 2 {
		t.Errorf("Rejected = %d, want 2", got)
	}
}

// TestGoroutineThreadPool_PanicDoesNotKillWorker verifies fault containment on workers
func TestGoroutineThreadPool_PanicDoesNotKillWorker(t *testing.T) {
	var panics atomic.Int32
	cfg := quietConfig()
	cfg.PanicHandler = panicCounter{&panics}
	pool := NewGoroutineThreadPoolWithConfig("panic-pool", 1, cfg)
	pool.Start(context.Background())
	defer pool.Stop()

	done := make(chan struct{})
	pool.PostTask(func(ctx context.Context) { panic("boom") })
	pool.PostTask(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
	if got := panics.Load(); got != 1 {
		t.Errorf("panics = %d, want 1", got)
	}
}

type panicCounter struct{ n *atomic.Int32 }

func (p panicCounter) HandlePanic(ctx context.Context, poolID string, workerID int, panicInfo any, stackTrace []byte) {
	p.n.Add(1)
}

func TestGoroutineThreadPool_TaskContext(t *testing.T) {
	pool := newQuietPool("ctx-pool", 3)
	pool.Start(context.Background())
	defer pool.Stop()

	type seen struct {
		pool   ThreadPool
		worker int
	}
	ch := make(chan seen, 1)
	pool.PostTask(func(ctx context.Context) {
		ch <- seen{GetCurrentThreadPool(ctx), WorkerID(ctx)}
	})

	got := <-ch
	if got.pool != ThreadPool(pool) {
		t.Errorf("GetCurrentThreadPool = %v, want the executing pool", got.pool)
	}
	if got.worker < 0 || got.worker >= 3 {
		t.Errorf("WorkerID = %d, want within [0, 3)", got.worker)
	}
}

// TestGoroutineThreadPool_ProcessTaskFromOutside verifies non-worker goroutines can help
func TestGoroutineThreadPool_ProcessTaskFromOutside(t *testing.T) {
	pool := newQuietPool("outside-pool", 1) // never started

	if pool.ProcessTask(context.Background()) {
		t.Fatal("ProcessTask() on empty queue = true, want false")
	}

	ch := make(chan seen2, 1)
	pool.PostTask(func(ctx context.Context) {
		ch <- seen2{GetCurrentThreadPool(ctx) != nil, WorkerID(ctx)}
	})
	if !pool.ProcessTask(context.Background()) {
		t.Fatal("ProcessTask() = false, want true")
	}

	got := <-ch
	if !got.hasPool || got.worker != -1 {
		t.Errorf("inline task context = %+v, want pool set and worker -1", got)
	}
	if pool.Stats().Inline != 1 {
		t.Errorf("Inline = %d, want 1", pool.Stats().Inline)
	}
	pool.Stop()
}

type seen2 struct {
	hasPool bool
	worker  int
}

// TestGoroutineThreadPool_NestedSpin reproduces the two-worker scenario
// Given: pool size 2, group G with Add(1)
// When: task A posts 4 tasks B, loops on ProcessTask until all 4 signalled, then calls Done(1)
// Then: Wait(G) returns and exactly 5 task bodies ran
func TestGoroutineThreadPool_NestedSpin(t *testing.T) {
	pool := newQuietPool("spin-pool", 2)
	pool.Start(context.Background())
	defer pool.Stop()

	var bodies atomic.Int32
	g := NewTaskGroup(nil)
	g.Add(1)

	pool.PostTask(func(ctx context.Context) {
		bodies.Add(1)
		var counter atomic.Int32
		for i := 0; i < 4; i++ {
			pool.PostTask(func(ctx context.Context) {
				bodies.Add(1)
				counter.Add(1)
			})
		}
		for counter.Load() != 4 {
			if !pool.ProcessTask(ctx) {
				runtime.Gosched()
			}
		}
		g.Done(1)
	})

	waitOrFail(t, 5*time.Second, g)
	if got := bodies.Load(); got != 5 {
		t.Errorf("task bodies = %d, want 5", got)
	}
}

// TestGoroutineThreadPool_GroupHelpsContextPool verifies a helper-less group helps the pool in ctx
// Given: a 1-worker pool whose only worker waits on sub-tasks posted to the same pool
// When: the group has no bound helper
// Then: Wait still completes by running the sub-tasks inline
func TestGoroutineThreadPool_GroupHelpsContextPool(t *testing.T) {
	pool := newQuietPool("ctx-help-pool", 1)
	pool.Start(context.Background())
	defer pool.Stop()

	var leaves atomic.Int32
	outer := pool.NewTaskGroup()
	outer.Go(pool, func(ctx context.Context) {
		inner := NewTaskGroup(nil)
		for i := 0; i < 6; i++ {
			inner.Go(GetCurrentThreadPool(ctx), func(ctx context.Context) {
				leaves.Add(1)
			})
		}
		if err := inner.Wait(ctx); err != nil {
			t.Errorf("inner Wait = %v", err)
		}
	})

	waitOrFail(t, 5*time.Second, outer)
	if got := leaves.Load(); got != 6 {
		t.Errorf("leaves = %d, want 6", got)
	}
}

// TestGoroutineThreadPool_TwoGroups verifies groups on one pool complete independently
func TestGoroutineThreadPool_TwoGroups(t *testing.T) {
	pool := newQuietPool("two-groups", 4)
	pool.Start(context.Background())
	defer pool.Stop()

	var a, b atomic.Int32
	groupA := pool.NewTaskGroup()
	groupB := pool.NewTaskGroup()

	for i := 0; i < 50; i++ {
		groupA.Go(pool, func(ctx context.Context) { a.Add(1) })
		groupB.Go(pool, func(ctx context.Context) {
			time.Sleep(100 * time.Microsecond)
			b.Add(1)
		})
	}

	waitOrFail(t, 5*time.Second, groupA)
	if a.Load() != 50 {
		t.Errorf("group A executed = %d, want 50", a.Load())
	}
	waitOrFail(t, 5*time.Second, groupB)
	if b.Load() != 50 {
		t.Errorf("group B executed = %d, want 50", b.Load())
	}
}

// TestGoroutineThreadPool_TracedTasks verifies per-worker tracks and per-task intervals
// Given: a traced 2-worker pool recording every task
// When: 20 named tasks each open a nested scope, then the pool is stopped
// Then: the export has 40 complete events on worker tracks, each nested scope within its task
func TestGoroutineThreadPool_TracedTasks(t *testing.T) {
	// Arrange
	tracer := chrometrace.New(chrometrace.WithPID(1))
	cfg := quietConfig()
	cfg.Tracer = tracer
	cfg.TraceTasks = true
	pool := NewGoroutineThreadPoolWithConfig("traced", 2, cfg)
	pool.Start(context.Background())

	// Act - the waiter does not help, so every task runs on a worker
	group := NewTaskGroup(nil)
	for i := 0; i < 20; i++ {
		group.Add(1)
		pool.PostNamedTask("estimate", func(ctx context.Context) {
			defer group.Done(1)
			s := chrometrace.Begin(ctx, chrometrace.ModeAuto)
			s.Labelf("sample %d", 100)
			s.End()
		})
	}
	waitOrFail(t, 5*time.Second, group)
	pool.Stop()

	data, err := tracer.Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	// Assert
	var doc struct {
		TraceEvents []struct {
			Name string `json:"name"`
			Ph   string `json:"ph"`
			Tid  int    `json:"tid"`
		} `json:"traceEvents"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	workerTids := map[int]bool{}
	for _, tr := range tracer.Tracks() {
		if strings.HasPrefix(tr.Name(), "traced/worker-") {
			workerTids[tr.ID()] = true
		}
	}
	if len(workerTids) != 2 {
		t.Fatalf("worker tracks = %d, want 2", len(workerTids))
	}

	var tasks, samples int
	for _, ev := range doc.TraceEvents {
		if ev.Ph != "X" {
			continue
		}
		if !workerTids[ev.Tid] {
			t.Errorf("event %q on tid %d, want a worker track", ev.Name, ev.Tid)
		}
		switch ev.Name {
		case "estimate":
			tasks++
		case "sample 100":
			samples++
		}
	}
	if tasks != 20 || samples != 20 {
		t.Errorf("tasks/samples = %d/%d, want 20/20", tasks, samples)
	}
}

func TestGlobalThreadPool(t *testing.T) {
	InitGlobalThreadPool(2)
	InitGlobalThreadPool(8) // second call is ignored
	defer ShutdownGlobalThreadPool()

	gp := GetGlobalThreadPool()
	if gp.WorkerCount() != 2 {
		t.Errorf("WorkerCount() = %d, want 2", gp.WorkerCount())
	}
	if !gp.IsRunning() {
		t.Error("global pool should be running")
	}

	g := gp.NewTaskGroup()
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		g.Go(gp, func(ctx context.Context) { ran.Add(1) })
	}
	waitOrFail(t, 2*time.Second, g)
	if ran.Load() != 10 {
		t.Errorf("ran = %d, want 10", ran.Load())
	}
}

func TestGetGlobalThreadPool_PanicsWhenUninitialized(t *testing.T) {
	ShutdownGlobalThreadPool()
	defer func() {
		if recover() == nil {
			t.Error("GetGlobalThreadPool() before Init did not panic")
		}
	}()
	GetGlobalThreadPool()
}

func waitOrFail(t *testing.T, d time.Duration, g *TaskGroup) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v, want nil within %v", err, d)
	}
}

// TestGoroutineThreadPool_HistorySummary verifies worker and inline runs are counted apart
func TestGoroutineThreadPool_HistorySummary(t *testing.T) {
	pool := newQuietPool("history", 1)

	// Not started: only the caller can run these.
	for i := 0; i < 3; i++ {
		pool.PostTask(func(ctx context.Context) {})
	}
	for pool.ProcessTask(context.Background()) {
	}

	pool.Start(context.Background())
	group := pool.NewTaskGroup()
	release := make(chan struct{})
	group.Go(pool, func(ctx context.Context) { <-release })
	for pool.ActiveTaskCount() != 1 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	pool.Stop()

	sum := pool.HistorySummary()
	if sum.Inline != 3 || sum.Worker != 1 {
		t.Errorf("inline/worker = %d/%d, want 3/1", sum.Inline, sum.Worker)
	}
}

// TestGoroutineThreadPool_TracedTaskExportAfterStop verifies per-task intervals block export until they close
// Given: a traced pool recording every task, with one task that calls Done and then keeps running
// When: Export is called after Wait returns but while the task is still inside its interval
// Then: Export reports ErrRecordingActive, and succeeds with the task's interval after Stop
func TestGoroutineThreadPool_TracedTaskExportAfterStop(t *testing.T) {
	// Arrange
	tracer := chrometrace.New()
	cfg := quietConfig()
	cfg.Tracer = tracer
	cfg.TraceTasks = true
	pool := NewGoroutineThreadPoolWithConfig("export", 1, cfg)
	pool.Start(context.Background())

	group := NewTaskGroup(nil)
	release := make(chan struct{})
	group.Add(1)
	pool.PostNamedTask("tail", func(ctx context.Context) {
		group.Done(1)
		<-release
	})

	// Act
	waitOrFail(t, 2*time.Second, group)
	_, errDuring := tracer.Export()
	close(release)
	pool.Stop()
	data, errAfter := tracer.Export()

	// Assert
	if !errors.Is(errDuring, chrometrace.ErrRecordingActive) {
		t.Errorf("Export while the task runs = %v, want ErrRecordingActive", errDuring)
	}
	if errAfter != nil {
		t.Fatalf("Export after Stop = %v, want nil", errAfter)
	}
	if !strings.Contains(string(data), `"name":"tail"`) {
		t.Errorf("export missing the task interval: %s", data)
	}
}
