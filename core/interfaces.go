package core

import (
	"context"
	"fmt"
	"time"

	"github.com/Swind/go-taskpool/chrometrace"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// This allows custom panic handling, logging, and recovery strategies.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task
	// - poolID: The ID of the pool that owned the task
	// - workerID: The ID of the worker (-1 when the task ran inline via ProcessTask)
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, poolID string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler reports panics through a Logger.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, poolID string, workerID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("pool", poolID),
		F("worker", workerID),
		F("panic", fmt.Sprint(panicInfo)),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Implementations can send metrics to monitoring systems (Prometheus, OpenTelemetry, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	// inline is true when the task ran through ProcessTask instead of a worker.
	RecordTaskDuration(poolID string, inline bool, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(poolID string, panicInfo any)

	// RecordQueueDepth records the current queue depth.
	RecordQueueDepth(poolID string, depth int)

	// RecordTaskRejected records that a task was rejected (after shutdown).
	RecordTaskRejected(poolID string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordTaskDuration is a no-op.
func (m *NilMetrics) RecordTaskDuration(poolID string, inline bool, duration time.Duration) {}

// RecordTaskPanic is a no-op.
func (m *NilMetrics) RecordTaskPanic(poolID string, panicInfo any) {}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(poolID string, depth int) {}

// RecordTaskRejected is a no-op.
func (m *NilMetrics) RecordTaskRejected(poolID string, reason string) {}

// MultiMetrics forwards every observation to each of its collectors in order.
type MultiMetrics []Metrics

// NewMultiMetrics drops nil collectors. With a single collector left it is
// returned as is.
func NewMultiMetrics(collectors ...Metrics) Metrics {
	var m MultiMetrics
	for _, c := range collectors {
		if c != nil {
			m = append(m, c)
		}
	}
	switch len(m) {
	case 0:
		return &NilMetrics{}
	case 1:
		return m[0]
	}
	return m
}

func (m MultiMetrics) RecordTaskDuration(poolID string, inline bool, duration time.Duration) {
	for _, c := range m {
		c.RecordTaskDuration(poolID, inline, duration)
	}
}

func (m MultiMetrics) RecordTaskPanic(poolID string, panicInfo any) {
	for _, c := range m {
		c.RecordTaskPanic(poolID, panicInfo)
	}
}

func (m MultiMetrics) RecordQueueDepth(poolID string, depth int) {
	for _, c := range m {
		c.RecordQueueDepth(poolID, depth)
	}
}

func (m MultiMetrics) RecordTaskRejected(poolID string, reason string) {
	for _, c := range m {
		c.RecordTaskRejected(poolID, reason)
	}
}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a task is posted to a stopped pool.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(poolID string, taskName string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(poolID string, taskName string, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("task rejected", F("pool", poolID), F("task", taskName), F("reason", reason))
}

// =============================================================================
// TaskSchedulerConfig: Configuration for TaskScheduler
// =============================================================================

// TaskSchedulerConfig holds configuration options for TaskScheduler.
// All fields are optional; zero values fall back to defaults.
type TaskSchedulerConfig struct {
	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// Logger receives lifecycle and fault messages. Defaults to DefaultLogger.
	Logger Logger

	// Tracer, when set, gives every worker its own recording track.
	Tracer *chrometrace.Tracer

	// TraceTasks records one interval per executed task, labelled with the task name.
	// Requires Tracer.
	//
	// The interval closes after the task returns, which is after any Done the
	// task calls. A TaskGroup.Wait returning does not make the tracer
	// exportable; stop the pool first. Export reports ErrRecordingActive
	// while an interval is open.
	TraceTasks bool

	// HistoryCapacity bounds the number of remembered TaskExecutionRecords.
	HistoryCapacity int
}

// DefaultTaskSchedulerConfig returns a config with default handlers.
func DefaultTaskSchedulerConfig() *TaskSchedulerConfig {
	logger := NewDefaultLogger()
	return &TaskSchedulerConfig{
		PanicHandler:        &DefaultPanicHandler{Logger: logger},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{Logger: logger},
		Logger:              logger,
		HistoryCapacity:     defaultTaskHistoryCapacity,
	}
}
