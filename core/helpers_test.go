package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testThreadPool drives a TaskScheduler with plain goroutines so that core
// tests do not depend on the root package.
type testThreadPool struct {
	s  *TaskScheduler
	wg sync.WaitGroup
	n  int
}

func newTestThreadPool(workers int) *testThreadPool {
	cfg := DefaultTaskSchedulerConfig()
	cfg.Logger = NewNoOpLogger()
	cfg.PanicHandler = &DefaultPanicHandler{Logger: cfg.Logger}
	cfg.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: cfg.Logger}
	return &testThreadPool{s: NewTaskScheduler("test-pool", workers, cfg), n: workers}
}

func (p *testThreadPool) start() {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			ctx := WithWorkerID(context.Background(), id)
			for {
				item, ok := p.s.GetWork()
				if !ok {
					return
				}
				p.s.RunTask(ctx, item, id)
			}
		}(i)
	}
}

func (p *testThreadPool) stop() {
	p.s.BeginDrain()
	p.wg.Wait()
	p.s.Finish(context.Background())
}

func (p *testThreadPool) PostTask(task Task) {
	p.s.PostInternal(task, "")
}

func (p *testThreadPool) ProcessTask(ctx context.Context) bool {
	return p.s.ProcessTask(ctx)
}

// waitOrFail fails the test if wait does not return within d.
func waitOrFail(t *testing.T, d time.Duration, wait func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait returned error: %v", err)
		}
	case <-time.After(d):
		t.Fatalf("wait did not return within %v", d)
	}
}
