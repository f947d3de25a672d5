package core

import "context"

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// TaskProcessor / TaskPoster: the two halves of a thread pool
// =============================================================================

// TaskPoster accepts tasks for asynchronous execution.
type TaskPoster interface {
	PostTask(task Task)
}

// TaskProcessor runs at most one pending task on the calling goroutine.
// ProcessTask never blocks; it reports whether a task was executed.
type TaskProcessor interface {
	ProcessTask(ctx context.Context) bool
}

// ThreadPool is the contract implemented by GoroutineThreadPool.
type ThreadPool interface {
	TaskPoster
	TaskProcessor

	PostNamedTask(name string, task Task)

	ID() string
	IsRunning() bool
	WorkerCount() int
	QueuedTaskCount() int
	ActiveTaskCount() int
}

// =============================================================================
// Context Helper
// =============================================================================

type threadPoolKeyType struct{}
type workerIDKeyType struct{}

var (
	threadPoolKey threadPoolKeyType
	workerIDKey   workerIDKeyType
)

// WithThreadPool returns a context that carries pool.
func WithThreadPool(ctx context.Context, pool ThreadPool) context.Context {
	return context.WithValue(ctx, threadPoolKey, pool)
}

// GetCurrentThreadPool returns the pool executing the current task, or nil.
func GetCurrentThreadPool(ctx context.Context) ThreadPool {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(threadPoolKey); v != nil {
		return v.(ThreadPool)
	}
	return nil
}

// WithWorkerID returns a context that records the executing worker index.
func WithWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerIDKey, id)
}

// WorkerID returns the index of the worker running the current task.
// Tasks executed inline through ProcessTask on a non-worker goroutine get -1.
func WorkerID(ctx context.Context) int {
	if ctx == nil {
		return -1
	}
	if v, ok := ctx.Value(workerIDKey).(int); ok {
		return v
	}
	return -1
}

// TaskContext derives the context a task runs with. Values already present on
// parent (an inline caller's track, for example) win over the pool defaults.
func TaskContext(parent context.Context, pool ThreadPool) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if pool != nil && GetCurrentThreadPool(ctx) != pool {
		// A worker of another pool is not a worker of this one.
		ctx = WithWorkerID(WithThreadPool(ctx, pool), -1)
	}
	if _, ok := ctx.Value(workerIDKey).(int); !ok {
		ctx = WithWorkerID(ctx, -1)
	}
	return ctx
}
