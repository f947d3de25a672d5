package taskpool_test

import (
	"context"
	"fmt"
	"sync/atomic"

	taskpool "github.com/Swind/go-taskpool"
)

// ExampleGoroutineThreadPool_NewTaskGroup demonstrates fan-out and wait with one import.
func ExampleGoroutineThreadPool_NewTaskGroup() {
	pool := taskpool.NewThreadPool(4)
	defer pool.Stop()

	var sum atomic.Int64
	group := pool.NewTaskGroup()
	for i := 1; i <= 10; i++ {
		group.Add(1)
		pool.PostTask(func(ctx context.Context) {
			defer group.Done(1)
			sum.Add(int64(i))
		})
	}

	if err := group.Wait(context.Background()); err != nil {
		fmt.Println("wait:", err)
		return
	}
	fmt.Println(sum.Load())

	// Output:
	// 55
}

// ExampleTaskGroup_Go demonstrates a task waiting on its own sub-tasks on a single worker.
func ExampleTaskGroup_Go() {
	taskpool.InitGlobalThreadPool(1)
	defer taskpool.ShutdownGlobalThreadPool()
	pool := taskpool.GetGlobalThreadPool()

	var leaves atomic.Int32
	outer := pool.NewTaskGroup()
	outer.Go(pool, func(ctx context.Context) {
		inner := pool.NewTaskGroup()
		for i := 0; i < 3; i++ {
			inner.Go(pool, func(ctx context.Context) { leaves.Add(1) })
		}
		// The only worker is busy here; Wait runs the sub-tasks itself.
		_ = inner.Wait(ctx)
	})

	_ = outer.Wait(context.Background())
	fmt.Println("leaves:", leaves.Load())

	// Output:
	// leaves: 3
}
