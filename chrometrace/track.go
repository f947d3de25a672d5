package chrometrace

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one closed interval. Immutable once appended to a track.
type Event struct {
	Name     string
	Category string
	Start    time.Time
	End      time.Time
	TrackID  int
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Track is the private event log of one recording goroutine.
type Track struct {
	id     int
	name   string
	tracer *Tracer

	// shared tracks accept appends from any goroutine and serialise on mu.
	shared bool
	mu     sync.Mutex

	events []Event

	// open is only incremented and decremented by the owner; export reads it.
	open atomic.Int32
}

// ID is the tid written to the trace document. Stable for the track's lifetime.
func (t *Track) ID() int { return t.id }

// Name is written as the thread_name metadata of the track.
func (t *Track) Name() string { return t.name }

// Tracer returns the tracer the track is registered with.
func (t *Track) Tracer() *Tracer { return t.tracer }

// OpenScopes reports how many scopes have begun on this track but not ended.
func (t *Track) OpenScopes() int { return int(t.open.Load()) }

// Context returns a child of ctx that records onto t.
func (t *Track) Context(ctx context.Context) context.Context {
	return WithTrack(ctx, t)
}

func (t *Track) close(s *Scope) {
	if t.shared {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	end := t.tracer.clock.Now()
	if end.Before(s.start) {
		end = s.start
	}
	if n := len(t.events); n > 0 && end.Before(t.events[n-1].End) {
		end = t.events[n-1].End
	}
	t.events = append(t.events, Event{
		Name:     s.name,
		Category: s.category,
		Start:    s.start,
		End:      end,
		TrackID:  t.id,
	})
	t.open.Add(-1)
}

// snapshot copies the recorded events. Only valid while the owner is quiescent.
func (t *Track) snapshot() []Event {
	if t.shared {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

func (t *Track) reset() {
	if t.shared {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	t.events = nil
}
