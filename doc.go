// Package taskpool provides a fixed-size goroutine thread pool, a cooperative
// completion barrier (TaskGroup) and, through the chrometrace package, per-worker
// interval tracing exported in the Chrome trace event format.
//
// # Quick Start
//
//	pool := taskpool.NewThreadPool(8)
//	defer pool.Stop()
//
//	group := pool.NewTaskGroup()
//	for i := 0; i < 8; i++ {
//		seed := i
//		group.Add(1)
//		pool.PostTask(func(ctx context.Context) {
//			defer group.Done(1)
//			estimate(seed)
//		})
//	}
//	_ = group.Wait(context.Background())
//
// # Key Concepts
//
// GoroutineThreadPool: N workers pulling from one FIFO queue. PostTask never
// blocks. ProcessTask runs one queued task on the calling goroutine, which is
// how any goroutine, including a worker blocked on a group, helps with the
// backlog.
//
// TaskGroup: a pending counter. Wait returns once Done has brought the count
// back to zero. While waiting it runs queued tasks instead of idling, so a task
// may post sub-tasks to its own pool and wait for them even when every worker
// is busy doing the same.
//
// Stop: drain-before-destroy. Every task posted before Stop returns is executed;
// nothing already queued is discarded.
//
// # Fault containment
//
// A panic inside a task is recovered at the invocation boundary, reported to
// the configured PanicHandler and Metrics, and never stops a worker. A task
// that panics before calling Done leaves its group active; TaskGroup.Go defers
// the Done for you.
//
// # Tracing
//
// Configure TaskSchedulerConfig.Tracer to give every worker its own
// chrometrace.Track. Scopes opened with chrometrace.Begin(ctx, ...) inside a
// task then record without locking. Export once all work has completed.
package taskpool
