package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNegativeCount reports a Done without a matching Add.
var ErrNegativeCount = errors.New("TaskGroup: pending count below zero")

const (
	defaultHelpPollInterval = time.Millisecond
	maxHelpPollInterval     = 10 * time.Millisecond
)

// TaskGroup is a reusable completion barrier over a pending count.
//
// The group moves from idle (count == 0) to active on Add and back to idle
// when Done brings the count to exactly zero, which releases every waiter.
// A group may cycle any number of times. Groups are independent of each other.
//
// Wait is cooperative: while the count is non-zero the waiter runs queued
// tasks of its helper pool on its own goroutine, and only blocks when the
// queue is empty. This keeps a task that waits on its own sub-tasks live on a
// pool with fewer workers than outstanding waits.
//
// Pairing Add with Done is the caller's obligation. A task that panics before
// calling Done leaves the group active forever; use Go to get the Done
// deferred for you.
//
// The zero value is an idle group with no helper.
type TaskGroup struct {
	count  atomic.Int64
	helper TaskProcessor

	// idle is closed exactly while the group is idle. Only transitions of
	// count across zero reconcile it, under mu.
	mu         sync.Mutex
	idle       chan struct{}
	idleClosed bool

	waiters atomic.Int32
	cycles  atomic.Int64
	helped  atomic.Int64
}

// NewTaskGroup creates an idle group. helper, when non-nil, is drained by
// Wait; a nil helper falls back to the pool found in Wait's context.
func NewTaskGroup(helper TaskProcessor) *TaskGroup {
	return &TaskGroup{helper: helper}
}

// Add increases the pending count by n. n must not be negative.
func (g *TaskGroup) Add(n int) {
	if n < 0 {
		panic(fmt.Sprintf("TaskGroup: Add(%d) with negative count", n))
	}
	if n == 0 {
		return
	}
	if v := g.count.Add(int64(n)); v == int64(n) {
		g.cycles.Add(1)
		g.reconcile()
	}
}

// Done decreases the pending count by n and releases all waiters when it
// reaches zero. Driving the count below zero panics with ErrNegativeCount and
// leaves the count unchanged.
func (g *TaskGroup) Done(n int) {
	if n < 0 {
		panic(fmt.Sprintf("TaskGroup: Done(%d) with negative count", n))
	}
	if n == 0 {
		return
	}
	for {
		cur := g.count.Load()
		v := cur - int64(n)
		if v < 0 {
			// count never goes below zero.
			panic(fmt.Errorf("%w: Done(%d) with count %d", ErrNegativeCount, n, cur))
		}
		if !g.count.CompareAndSwap(cur, v) {
			continue
		}
		if v == 0 {
			g.reconcile()
		}
		return
	}
}

// Go adds one pending element, posts task and marks the element done when the
// task returns or panics. If poster rejects the task the element is released
// immediately.
func (g *TaskGroup) Go(poster TaskPoster, task Task) {
	g.Add(1)
	wrapped := func(ctx context.Context) {
		defer g.Done(1)
		task(ctx)
	}

	if tp, ok := poster.(interface{ TryPostTask(Task) bool }); ok {
		if !tp.TryPostTask(wrapped) {
			g.Done(1)
		}
		return
	}
	poster.PostTask(wrapped)
}

// Wait blocks until the pending count is zero or ctx is done.
//
// While waiting it runs queued tasks of the helper pool on the calling
// goroutine. When no task is available it blocks until the group goes idle,
// or for a short bounded interval after which it tries to help again.
func (g *TaskGroup) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if g.count.Load() == 0 {
		return nil
	}

	helper := g.helper
	if helper == nil {
		if pool := GetCurrentThreadPool(ctx); pool != nil {
			helper = pool
		}
	}

	g.waiters.Add(1)
	defer g.waiters.Add(-1)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	backoff := defaultHelpPollInterval

	for {
		if g.count.Load() == 0 {
			return nil
		}

		if helper != nil && helper.ProcessTask(ctx) {
			g.helped.Add(1)
			backoff = defaultHelpPollInterval
			continue
		}

		idle := g.idleChan()
		if helper == nil {
			select {
			case <-idle:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			timer.Reset(backoff)
		}
		select {
		case <-idle:
		case <-timer.C:
			backoff = min(backoff*2, maxHelpPollInterval)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Count returns the current pending count.
func (g *TaskGroup) Count() int64 {
	return g.count.Load()
}

// Stats returns current observability data for this group.
func (g *TaskGroup) Stats() GroupStats {
	return GroupStats{
		Pending: g.count.Load(),
		Waiters: int(g.waiters.Load()),
		Cycles:  g.cycles.Load(),
		Helped:  g.helped.Load(),
	}
}

func (g *TaskGroup) idleChan() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reconcileLocked()
	return g.idle
}

func (g *TaskGroup) reconcile() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reconcileLocked()
}

// reconcileLocked makes the idle channel agree with the current count. Every
// zero crossing is followed by a reconcile, so the last one always observes
// the final count.
func (g *TaskGroup) reconcileLocked() {
	if g.idle == nil {
		g.idle = make(chan struct{})
		g.idleClosed = false
	}
	zero := g.count.Load() == 0
	switch {
	case zero && !g.idleClosed:
		close(g.idle)
		g.idleClosed = true
	case !zero && g.idleClosed:
		g.idle = make(chan struct{})
		g.idleClosed = false
	}
}
