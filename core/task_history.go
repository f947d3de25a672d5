package core

import (
	"reflect"
	"runtime"
	"sync"
	"time"
)

const defaultTaskHistoryCapacity = 100

// executionHistory is a fixed-size ring of the most recent executions of one
// pool, worker and inline runs alike.
type executionHistory struct {
	mu    sync.Mutex
	items []TaskExecutionRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{items: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskExecutionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

// Summary aggregates the records in the ring.
func (h *executionHistory) Summary() HistorySummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sum HistorySummary
	var total time.Duration
	for i := range h.count {
		rec := h.items[(h.head-1-i+len(h.items))%len(h.items)]
		sum.Records++
		if rec.Inline {
			sum.Inline++
		} else {
			sum.Worker++
		}
		if rec.Panicked {
			sum.Panicked++
		}
		sum.MaxQueueDelay = max(sum.MaxQueueDelay, rec.QueueDelay())
		total += rec.Duration
	}
	if sum.Records > 0 {
		sum.MeanDuration = total / time.Duration(sum.Records)
	}
	return sum
}

// RecentInline returns up to limit records of tasks run through ProcessTask,
// newest first.
func (h *executionHistory) RecentInline(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []TaskExecutionRecord
	for i := range h.count {
		if limit > 0 && len(out) == limit {
			break
		}
		rec := h.items[(h.head-1-i+len(h.items))%len(h.items)]
		if rec.Inline {
			out = append(out, rec)
		}
	}
	return out
}

func (h *executionHistory) Last() (TaskExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return TaskExecutionRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

// ResolveTaskName returns explicit if set, otherwise the function name of task.
func ResolveTaskName(task Task, explicit string) string {
	if explicit != "" {
		return explicit
	}

	if task == nil {
		return "anonymous"
	}

	v := reflect.ValueOf(task)
	if v.Kind() != reflect.Func {
		return "anonymous"
	}

	pc := v.Pointer()
	if pc == 0 {
		return "anonymous"
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "anonymous"
	}

	name := fn.Name()
	if name == "" {
		return "anonymous"
	}
	return name
}
