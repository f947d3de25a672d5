package taskpool

import "github.com/Swind/go-taskpool/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the taskpool package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// ThreadPool is the interface implemented by GoroutineThreadPool
type ThreadPool = core.ThreadPool

// TaskGroup is a reusable, cooperative completion barrier
type TaskGroup = core.TaskGroup

// TaskSchedulerConfig configures handlers, metrics and tracing of a pool
type TaskSchedulerConfig = core.TaskSchedulerConfig

// PoolStats is a point-in-time snapshot of a pool
type PoolStats = core.PoolStats

// NewTaskGroup creates a task group. A nil helper makes Wait help the pool
// found in its context, if any.
func NewTaskGroup(helper core.TaskProcessor) *TaskGroup {
	return core.NewTaskGroup(helper)
}

// DefaultTaskSchedulerConfig returns a config with default handlers.
var DefaultTaskSchedulerConfig = core.DefaultTaskSchedulerConfig

// GetCurrentThreadPool retrieves the pool executing the current task from context
var GetCurrentThreadPool = core.GetCurrentThreadPool

// WorkerID retrieves the worker index of the current task from context
var WorkerID = core.WorkerID
