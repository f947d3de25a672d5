package main

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	taskpool "github.com/Swind/go-taskpool"
	"github.com/Swind/go-taskpool/chrometrace"
)

// mode is one demonstration scenario. run must leave no task pending that it
// depends on; basic relies on Stop to drain instead.
type mode struct {
	name    string
	usage   string
	workers int
	run     func(ctx context.Context, env *runEnv) error
}

// runEnv is what a mode runs against.
type runEnv struct {
	pool    *taskpool.GoroutineThreadPool
	samples int
	out     *lockedWriter

	// watch, when set, publishes a group's counters while the mode runs.
	watch func(name string, group *taskpool.TaskGroup)
}

func newRunEnv(pool *taskpool.GoroutineThreadPool, samples int, out io.Writer) *runEnv {
	return &runEnv{pool: pool, samples: samples, out: &lockedWriter{w: out}}
}

func (e *runEnv) newGroup(name string, bound bool) *taskpool.TaskGroup {
	var group *taskpool.TaskGroup
	if bound {
		group = e.pool.NewTaskGroup()
	} else {
		group = taskpool.NewTaskGroup(nil)
	}
	if e.watch != nil {
		e.watch(name, group)
	}
	return group
}

var modes = []mode{
	{
		name:    "basic",
		usage:   "post 8 estimations and let Stop drain them",
		workers: 8,
		run:     runBasic,
	},
	{
		name:    "group",
		usage:   "post 8 estimations and wait on a task group",
		workers: 8,
		run:     runGroup,
	},
	{
		name:    "two-groups",
		usage:   "wait on a short group while a long group keeps running",
		workers: 8,
		run:     runTwoGroups,
	},
	{
		name:    "nested",
		usage:   "a task fans out 4 sub-tasks and helps run them with ProcessTask",
		workers: 2,
		run:     runNested,
	},
	{
		name:    "traced",
		usage:   "4 short and 4 long labelled estimations on 3 workers, recorded for chrome://tracing",
		workers: 3,
		run:     runTraced,
	},
}

// lockedWriter serialises result lines written from several workers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

func runBasic(ctx context.Context, env *runEnv) error {
	pool, samples, w := env.pool, env.samples, env.out
	for i := 0; i < 8; i++ {
		seed := i
		pool.PostNamedTask(fmt.Sprintf("estimate-%d", seed), func(ctx context.Context) {
			w.printf("pi = %f\n", estimatePi(seed, samples))
		})
	}
	return nil
}

func runGroup(ctx context.Context, env *runEnv) error {
	pool, samples, w := env.pool, env.samples, env.out
	group := env.newGroup("group", true)
	for i := 0; i < 8; i++ {
		seed := i
		group.Add(1)
		pool.PostNamedTask(fmt.Sprintf("estimate-%d", seed), func(ctx context.Context) {
			defer group.Done(1)
			w.printf("pi = %f\n", estimatePi(seed, samples))
		})
	}
	return group.Wait(ctx)
}

func runTwoGroups(ctx context.Context, env *runEnv) error {
	pool, samples, w := env.pool, env.samples, env.out
	groupA := env.newGroup("a", true)
	groupB := env.newGroup("b", true)

	for i := 0; i < 4; i++ {
		seed := i
		groupA.Go(pool, func(ctx context.Context) {
			w.printf("task a, pi = %f\n", estimatePi(seed, samples))
		})
	}
	for i := 0; i < 4; i++ {
		seed := i
		groupB.Go(pool, func(ctx context.Context) {
			w.printf("task b, pi = %f\n", estimatePi(seed, samples*4))
		})
	}

	if err := groupA.Wait(ctx); err != nil {
		return err
	}
	w.printf("done A\n")
	if err := groupB.Wait(ctx); err != nil {
		return err
	}
	w.printf("done B\n")
	return nil
}

func runNested(ctx context.Context, env *runEnv) error {
	pool, samples, w := env.pool, env.samples, env.out
	group := env.newGroup("nested", false)

	group.Add(1)
	pool.PostNamedTask("fan-out", func(ctx context.Context) {
		defer group.Done(1)
		var dones atomic.Int32

		for i := 0; i < 4; i++ {
			seed := i
			pool.PostNamedTask(fmt.Sprintf("estimate-%d", seed), func(ctx context.Context) {
				w.printf("task a, pi = %f\n", estimatePi(seed, samples))
				dones.Add(1)
			})
		}

		for dones.Load() != 4 {
			if !pool.ProcessTask(ctx) {
				runtime.Gosched()
			}
		}
		w.printf("finished\n")
	})

	return group.Wait(ctx)
}

func runTraced(ctx context.Context, env *runEnv) error {
	pool, samples, w := env.pool, env.samples, env.out
	group := env.newGroup("traced", true)

	post := func(kind string, seed, n int) {
		group.Go(pool, func(ctx context.Context) {
			s := chrometrace.Begin(ctx, chrometrace.ModeAuto)
			defer s.End()
			s.Labelf("task %s [%d]", kind, seed)

			w.printf("task %s, pi = %f\n", strings.ToLower(kind), estimatePi(seed, n))
		})
	}
	for i := 0; i < 4; i++ {
		post("A", i, samples)
	}
	for i := 0; i < 4; i++ {
		post("B", i, samples*4)
	}

	// The waiter records too when it helps, onto its own track.
	if tracer := pool.Tracer(); tracer != nil {
		ctx = chrometrace.WithTrack(ctx, tracer.NewTrack("main"))
	}
	return group.Wait(ctx)
}

func findMode(name string) (mode, bool) {
	for _, m := range modes {
		if m.name == name {
			return m, true
		}
	}
	return mode{}, false
}
