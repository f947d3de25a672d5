package taskpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/Swind/go-taskpool/chrometrace"
	"github.com/Swind/go-taskpool/core"
	"github.com/google/uuid"
)

// GoroutineThreadPool manages a fixed set of worker goroutines that pull tasks
// from one shared FIFO queue.
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *core.TaskScheduler
	tracer    *chrometrace.Tracer
	wg        sync.WaitGroup
	ctx       context.Context
	running   bool
	stopped   bool
	runningMu sync.RWMutex
	stopOnce  sync.Once
	tracks    []*chrometrace.Track
}

var _ core.ThreadPool = (*GoroutineThreadPool)(nil)

// NewGoroutineThreadPool creates a pool with default handlers. Workers are
// spawned by Start.
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, core.DefaultTaskSchedulerConfig())
}

// NewGoroutineThreadPoolWithConfig creates a pool with custom handlers, metrics
// and tracing. An empty id is replaced with a generated one.
// Panics if workers is less than 1.
func NewGoroutineThreadPoolWithConfig(id string, workers int, config *core.TaskSchedulerConfig) *GoroutineThreadPool {
	if workers < 1 {
		panic(fmt.Sprintf("GoroutineThreadPool: workers must be at least 1, got %d", workers))
	}
	if id == "" {
		id = "pool-" + uuid.NewString()
	}
	if config == nil {
		config = core.DefaultTaskSchedulerConfig()
	}
	return &GoroutineThreadPool{
		id:        id,
		workers:   workers,
		scheduler: core.NewTaskScheduler(id, workers, config),
		tracer:    config.Tracer,
		ctx:       context.Background(),
	}
}

// NewThreadPool creates a pool and starts its workers immediately.
func NewThreadPool(workers int) *GoroutineThreadPool {
	pool := NewGoroutineThreadPool("", workers)
	pool.Start(context.Background())
	return pool
}

// Start starts all worker goroutines. Values of ctx are visible to every task;
// its cancellation is not observed, use Stop to shut the pool down.
// Starting a running or stopped pool is a no-op.
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running || tg.stopped {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tg.ctx = core.WithThreadPool(context.WithoutCancel(ctx), tg)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		workerCtx := core.WithWorkerID(tg.ctx, i)
		if tg.tracer != nil {
			track := tg.tracer.NewTrack(fmt.Sprintf("%s/worker-%d", tg.id, i))
			tg.tracks = append(tg.tracks, track)
			workerCtx = chrometrace.WithTrack(workerCtx, track)
		}
		tg.wg.Add(1)
		go tg.workerLoop(i, workerCtx)
	}
}

// Stop drains the pool: workers keep executing until the queue is empty,
// including tasks posted by draining tasks, then exit. Anything posted after
// the last worker exited runs on the calling goroutine. Once Stop returns no
// task is left in the queue and further posts are rejected.
//
// Stop must not be called from a task running on this pool.
func (tg *GoroutineThreadPool) Stop() {
	tg.stopOnce.Do(tg.stop)
}

func (tg *GoroutineThreadPool) stop() {
	tg.runningMu.Lock()
	tg.stopped = true
	base := tg.ctx
	tg.runningMu.Unlock()

	tg.scheduler.BeginDrain()
	tg.Join()
	inline := tg.scheduler.Finish(core.TaskContext(base, tg))

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()

	tg.scheduler.GetLogger().Info("thread pool stopped",
		core.F("pool", tg.id),
		core.F("executed", tg.scheduler.ExecutedTaskCount()),
		core.F("drainedInline", inline),
	)
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning returns whether the thread pool is running
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

// workerLoop is the main loop for each worker
func (tg *GoroutineThreadPool) workerLoop(id int, ctx context.Context) {
	defer tg.wg.Done()

	for {
		item, ok := tg.scheduler.GetWork()
		if !ok {
			// Draining and the queue is empty
			return
		}
		tg.scheduler.RunTask(ctx, item, id)
	}
}

// Join waits for all worker goroutines to finish
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

// PostTask appends task to the shared queue. It never blocks.
func (tg *GoroutineThreadPool) PostTask(task core.Task) {
	tg.scheduler.PostInternal(task, "")
}

// PostNamedTask is PostTask with an explicit name for history and traces.
func (tg *GoroutineThreadPool) PostNamedTask(name string, task core.Task) {
	tg.scheduler.PostInternal(task, name)
}

// TryPostTask is PostTask that reports whether the task was accepted.
func (tg *GoroutineThreadPool) TryPostTask(task core.Task) bool {
	return tg.scheduler.PostInternal(task, "")
}

// ProcessTask runs at most one queued task on the calling goroutine and
// reports whether one ran. It never blocks. ctx values (a recording track,
// for example) are passed on to the task.
func (tg *GoroutineThreadPool) ProcessTask(ctx context.Context) bool {
	return tg.scheduler.ProcessTask(core.TaskContext(ctx, tg))
}

// NewTaskGroup creates a task group whose Wait helps drain this pool.
func (tg *GoroutineThreadPool) NewTaskGroup() *core.TaskGroup {
	return core.NewTaskGroup(tg)
}

// WorkerCount returns the number of workers
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.scheduler.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.scheduler.ActiveTaskCount()
}

// Stats returns current observability data for this pool.
func (tg *GoroutineThreadPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:       tg.id,
		Workers:  tg.workers,
		Queued:   tg.scheduler.QueuedTaskCount(),
		Active:   tg.scheduler.ActiveTaskCount(),
		Executed: tg.scheduler.ExecutedTaskCount(),
		Inline:   tg.scheduler.InlineTaskCount(),
		Panicked: tg.scheduler.PanickedTaskCount(),
		Rejected: tg.scheduler.RejectedTaskCount(),
		Running:  tg.IsRunning(),
	}
}

// RecentTasks returns completed task execution records in newest-first order.
func (tg *GoroutineThreadPool) RecentTasks(limit int) []core.TaskExecutionRecord {
	return tg.scheduler.RecentTasks(limit)
}

// HistorySummary aggregates the remembered executions, split by worker and
// inline runs.
func (tg *GoroutineThreadPool) HistorySummary() core.HistorySummary {
	return tg.scheduler.HistorySummary()
}

// Tracer returns the tracer the workers record onto, or nil.
func (tg *GoroutineThreadPool) Tracer() *chrometrace.Tracer {
	return tg.tracer
}

// GetScheduler exposes the underlying scheduler.
func (tg *GoroutineThreadPool) GetScheduler() *core.TaskScheduler {
	return tg.scheduler
}

// =============================================================================
// Global Thread Pool Helper (Singleton)
// =============================================================================

var (
	globalThreadPool *GoroutineThreadPool
	globalMu         sync.Mutex
)

// InitGlobalThreadPool initializes the global thread pool with specified number of workers.
// It starts the pool immediately.
func InitGlobalThreadPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		return // Already initialized
	}

	globalThreadPool = NewGoroutineThreadPool("global-pool", workers)
	globalThreadPool.Start(context.Background())
}

// GetGlobalThreadPool returns the global thread pool instance.
// It panics if InitGlobalThreadPool has not been called.
func GetGlobalThreadPool() *GoroutineThreadPool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool == nil {
		panic("GlobalThreadPool not initialized. Call InitGlobalThreadPool() first.")
	}
	return globalThreadPool
}

// ShutdownGlobalThreadPool drains and stops the global thread pool.
func ShutdownGlobalThreadPool() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThreadPool != nil {
		globalThreadPool.Stop()
		globalThreadPool = nil
	}
}
