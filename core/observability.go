package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	Name       string
	PoolID     string
	WorkerID   int
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool

	// Inline is set when the task ran through ProcessTask on a caller's
	// goroutine instead of on a worker.
	Inline bool
}

// QueueDelay is the time the task spent in the queue before it started.
func (r TaskExecutionRecord) QueueDelay() time.Duration {
	if r.EnqueuedAt.IsZero() {
		return 0
	}
	return r.StartedAt.Sub(r.EnqueuedAt)
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID       string
	Workers  int
	Queued   int
	Active   int
	Executed int64
	Inline   int64
	Panicked int64
	Rejected int64
	Running  bool
}

// GroupStats represents runtime observability state for a task group.
type GroupStats struct {
	Pending int64
	Waiters int
	Cycles  int64
	Helped  int64
}

// HistorySummary aggregates the records currently held in a pool's history.
type HistorySummary struct {
	Records       int
	Worker        int
	Inline        int
	Panicked      int
	MaxQueueDelay time.Duration
	MeanDuration  time.Duration
}
