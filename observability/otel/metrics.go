package otel

import (
	"context"
	"time"

	"github.com/Swind/go-taskpool/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Swind/go-taskpool"

// Metrics adapts core.Metrics to OpenTelemetry instruments.
type Metrics struct {
	taskDuration metric.Float64Histogram
	taskPanics   metric.Int64Counter
	taskRejected metric.Int64Counter
	queueDepth   metric.Int64Gauge
}

var _ core.Metrics = (*Metrics)(nil)

// NewMetrics creates the instruments on meter. A nil meter uses the global
// MeterProvider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	duration, err := meter.Float64Histogram("taskpool.task.duration",
		metric.WithDescription("Task execution duration."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	panics, err := meter.Int64Counter("taskpool.task.panics",
		metric.WithDescription("Tasks that panicked."),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("taskpool.task.rejected",
		metric.WithDescription("Tasks posted to a stopped pool."),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}
	depth, err := meter.Int64Gauge("taskpool.queue.depth",
		metric.WithDescription("Queue depth observed at the last post."),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		taskDuration: duration,
		taskPanics:   panics,
		taskRejected: rejected,
		queueDepth:   depth,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *Metrics) RecordTaskDuration(poolID string, inline bool, duration time.Duration) {
	if m == nil {
		return
	}
	mode := "worker"
	if inline {
		mode = "inline"
	}
	m.taskDuration.Record(context.Background(), duration.Seconds(),
		metric.WithAttributes(attribute.String("pool", poolID), attribute.String("mode", mode)))
}

// RecordTaskPanic records task panic events.
func (m *Metrics) RecordTaskPanic(poolID string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanics.Add(context.Background(), 1, metric.WithAttributes(attribute.String("pool", poolID)))
}

// RecordQueueDepth records queue depth.
func (m *Metrics) RecordQueueDepth(poolID string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Record(context.Background(), int64(depth), metric.WithAttributes(attribute.String("pool", poolID)))
}

// RecordTaskRejected records task rejection events.
func (m *Metrics) RecordTaskRejected(poolID string, reason string) {
	if m == nil {
		return
	}
	m.taskRejected.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("pool", poolID), attribute.String("reason", reason)))
}
