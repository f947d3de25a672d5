package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-taskpool/chrometrace"
)

type schedulerState int32

const (
	stateRunning schedulerState = iota
	stateDraining
	stateStopped
)

func (s schedulerState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateDraining:
		return "draining"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TaskScheduler owns the shared queue and the task invocation boundary.
// Workers and inline callers both pull from it.
type TaskScheduler struct {
	id          string
	queue       TaskQueue
	signal      chan struct{}
	workerCount int

	metricQueued atomic.Int32 // Waiting in queue
	metricActive atomic.Int32 // Executing
	executed     atomic.Int64
	inline       atomic.Int64
	panicked     atomic.Int64
	rejected     atomic.Int64

	// Handlers and Metrics
	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler
	logger              Logger
	tracer              *chrometrace.Tracer
	traceTasks          bool
	history             *executionHistory

	// Lifecycle. Posts hold lifecycleMu for reading while they push so that
	// Finish can observe an empty queue and flip to stopped atomically.
	lifecycleMu sync.RWMutex
	state       atomic.Int32
	drainCh     chan struct{}
	drainOnce   sync.Once
}

// NewTaskScheduler creates a FIFO scheduler. A nil config uses defaults.
func NewTaskScheduler(id string, workerCount int, config *TaskSchedulerConfig) *TaskScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	s := &TaskScheduler{
		id:          id,
		queue:       NewFIFOTaskQueue(),
		signal:      make(chan struct{}, workerCount*2),
		workerCount: workerCount,
		drainCh:     make(chan struct{}),
	}

	if config == nil {
		config = DefaultTaskSchedulerConfig()
	}
	s.logger = config.Logger
	if s.logger == nil {
		s.logger = NewDefaultLogger()
	}
	s.panicHandler = config.PanicHandler
	if s.panicHandler == nil {
		s.panicHandler = &DefaultPanicHandler{Logger: s.logger}
	}
	s.metrics = config.Metrics
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	s.rejectedTaskHandler = config.RejectedTaskHandler
	if s.rejectedTaskHandler == nil {
		s.rejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: s.logger}
	}
	s.tracer = config.Tracer
	s.traceTasks = config.TraceTasks && config.Tracer != nil
	s.history = newExecutionHistory(config.HistoryCapacity)

	return s
}

// PostInternal appends task to the queue and wakes one idle worker.
// It never blocks. It returns false only when the scheduler has stopped.
func (s *TaskScheduler) PostInternal(task Task, name string) bool {
	name = ResolveTaskName(task, name)

	s.lifecycleMu.RLock()
	if schedulerState(s.state.Load()) == stateStopped {
		s.lifecycleMu.RUnlock()
		s.rejected.Add(1)
		s.rejectedTaskHandler.HandleRejectedTask(s.id, name, "pool stopped")
		s.metrics.RecordTaskRejected(s.id, "stopped")
		return false
	}
	s.queue.Push(TaskItem{Task: task, Name: name, EnqueuedAt: time.Now()})
	depth := s.metricQueued.Add(1)
	s.lifecycleMu.RUnlock()

	s.metrics.RecordQueueDepth(s.id, int(depth))

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but task is already queued
		// Pending tokens guarantee a worker will look again
	}
	return true
}

// TryGetWork pops one task without blocking.
func (s *TaskScheduler) TryGetWork() (TaskItem, bool) {
	item, ok := s.queue.Pop()
	if ok {
		s.metricQueued.Add(-1)
	}
	return item, ok
}

// GetWork (Called by Worker) blocks until a task is available. After
// BeginDrain it keeps handing out tasks until the queue is empty, then
// returns false.
func (s *TaskScheduler) GetWork() (TaskItem, bool) {
	for {
		if item, ok := s.TryGetWork(); ok {
			return item, true
		}

		select {
		case <-s.signal:
			continue
		case <-s.drainCh:
			return s.TryGetWork()
		}
	}
}

// ProcessTask pops one task and runs it on the calling goroutine. It never
// blocks and reports whether a task ran.
func (s *TaskScheduler) ProcessTask(ctx context.Context) bool {
	item, ok := s.TryGetWork()
	if !ok {
		return false
	}
	s.runTask(ctx, item, WorkerID(ctx), true)
	return true
}

// RunTask executes item on a worker goroutine. Panics are recovered here and
// never reach the caller.
func (s *TaskScheduler) RunTask(ctx context.Context, item TaskItem, workerID int) {
	s.runTask(ctx, item, workerID, false)
}

func (s *TaskScheduler) runTask(ctx context.Context, item TaskItem, workerID int, inline bool) {
	s.metricActive.Add(1)
	if inline {
		s.inline.Add(1)
	}

	var scope *chrometrace.Scope
	if s.traceTasks {
		scope = s.tracer.Begin(ctx, chrometrace.ModeAuto).Label(item.Name)
	}

	startedAt := time.Now()
	panicked := false

	defer func() {
		if r := recover(); r != nil {
			panicked = true
			s.panicked.Add(1)
			s.panicHandler.HandlePanic(ctx, s.id, workerID, r, debug.Stack())
			s.metrics.RecordTaskPanic(s.id, r)
		}
		scope.End()

		finishedAt := time.Now()
		duration := finishedAt.Sub(startedAt)
		s.history.Add(TaskExecutionRecord{
			Name:       item.Name,
			PoolID:     s.id,
			WorkerID:   workerID,
			EnqueuedAt: item.EnqueuedAt,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
			Duration:   duration,
			Panicked:   panicked,
			Inline:     inline,
		})
		s.metrics.RecordTaskDuration(s.id, inline, duration)
		s.executed.Add(1)
		s.metricActive.Add(-1)
	}()

	if item.Task == nil {
		panic(fmt.Sprintf("task %s is nil", item.Name))
	}
	item.Task(ctx)
}

// BeginDrain releases blocked workers once the queue is empty. New tasks are
// still accepted so that tasks posted by draining tasks are not lost.
func (s *TaskScheduler) BeginDrain() {
	s.drainOnce.Do(func() {
		s.state.CompareAndSwap(int32(stateRunning), int32(stateDraining))
		close(s.drainCh)
		s.logger.Debug("scheduler draining", F("pool", s.id), F("queued", s.QueuedTaskCount()))
	})
}

// Finish runs every remaining task on the calling goroutine and then marks
// the scheduler stopped. Must be called after all workers have exited.
func (s *TaskScheduler) Finish(ctx context.Context) int {
	s.BeginDrain()

	ran := 0
	for {
		for {
			item, ok := s.TryGetWork()
			if !ok {
				break
			}
			s.runTask(ctx, item, -1, true)
			ran++
		}

		s.lifecycleMu.Lock()
		if s.queue.IsEmpty() {
			s.state.Store(int32(stateStopped))
			s.lifecycleMu.Unlock()
			break
		}
		s.lifecycleMu.Unlock()
	}

	s.queue.MaybeCompact()
	s.logger.Debug("scheduler stopped", F("pool", s.id), F("ranInline", ran))
	return ran
}

// IsStopped reports whether further posts are rejected.
func (s *TaskScheduler) IsStopped() bool {
	return schedulerState(s.state.Load()) == stateStopped
}

// State returns the lifecycle state name.
func (s *TaskScheduler) State() string {
	return schedulerState(s.state.Load()).String()
}

// Metrics
func (s *TaskScheduler) ID() string               { return s.id }
func (s *TaskScheduler) WorkerCount() int         { return s.workerCount }
func (s *TaskScheduler) QueuedTaskCount() int     { return int(s.metricQueued.Load()) }
func (s *TaskScheduler) ActiveTaskCount() int     { return int(s.metricActive.Load()) }
func (s *TaskScheduler) ExecutedTaskCount() int64 { return s.executed.Load() }
func (s *TaskScheduler) InlineTaskCount() int64   { return s.inline.Load() }
func (s *TaskScheduler) PanickedTaskCount() int64 { return s.panicked.Load() }
func (s *TaskScheduler) RejectedTaskCount() int64 { return s.rejected.Load() }

// RecentTasks returns completed task execution records in newest-first order.
func (s *TaskScheduler) RecentTasks(limit int) []TaskExecutionRecord {
	return s.history.Recent(limit)
}

// HistorySummary aggregates the remembered executions.
func (s *TaskScheduler) HistorySummary() HistorySummary {
	return s.history.Summary()
}

// RecentInlineTasks returns remembered executions that ran through
// ProcessTask, newest first.
func (s *TaskScheduler) RecentInlineTasks(limit int) []TaskExecutionRecord {
	return s.history.RecentInline(limit)
}

// LastTask returns the most recently completed task record.
func (s *TaskScheduler) LastTask() (TaskExecutionRecord, bool) {
	return s.history.Last()
}

// GetPanicHandler returns the panic handler for this scheduler
func (s *TaskScheduler) GetPanicHandler() PanicHandler {
	return s.panicHandler
}

// GetMetrics returns the metrics collector for this scheduler
func (s *TaskScheduler) GetMetrics() Metrics {
	return s.metrics
}

// GetLogger returns the logger for this scheduler
func (s *TaskScheduler) GetLogger() Logger {
	return s.logger
}

// Tracer returns the configured tracer, or nil.
func (s *TaskScheduler) Tracer() *chrometrace.Tracer {
	return s.tracer
}
