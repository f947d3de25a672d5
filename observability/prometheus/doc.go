// Package prometheus exposes pools and task groups as Prometheus collectors.
//
// MetricsExporter implements core.Metrics. Its primary dimension is where a
// task ran:
//
//	taskpool_task_duration_seconds{pool, mode}
//
// mode is "worker" for tasks picked up by a pool worker and "inline" for
// tasks run through ProcessTask, which includes every task executed by a
// TaskGroup waiter while it helps. A high inline share means waiters, not
// workers, are draining the queue. The remaining series are
// taskpool_task_panic_total{pool}, taskpool_task_rejected_total{pool, reason}
// and taskpool_queue_depth{pool}.
//
// SnapshotPoller publishes point-in-time gauges from PoolStats and
// GroupStats: queued, active, executed and inline counts per pool, and
// pending, waiters, cycles and helped counts per group.
package prometheus
