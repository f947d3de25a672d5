package chrometrace

import (
	"fmt"
	"time"
)

// Mode selects when a scope's interval begins.
type Mode int

const (
	// ModeAuto begins the interval when the scope is created. Pair with
	// defer s.End() so the interval closes on every exit path.
	ModeAuto Mode = iota

	// ModeManual begins the interval on an explicit Start call.
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Scope is a recording handle for one interval. A scope belongs to the
// goroutine that created it and must not be shared.
type Scope struct {
	track    *Track
	name     string
	category string
	start    time.Time
	started  bool
	ended    bool
}

// Start begins the interval. Repeated calls are no-ops.
func (s *Scope) Start() *Scope {
	if s == nil || s.started {
		return s
	}
	s.started = true
	s.track.open.Add(1)
	s.start = s.track.tracer.clock.Now()
	return s
}

// Labelf names the interval from a printf-style template.
func (s *Scope) Labelf(format string, args ...any) *Scope {
	if s == nil {
		return s
	}
	s.name = fmt.Sprintf(format, args...)
	return s
}

// Label names the interval.
func (s *Scope) Label(name string) *Scope {
	if s == nil {
		return s
	}
	s.name = name
	return s
}

// SetCategory overrides the "cat" field of the exported event.
func (s *Scope) SetCategory(category string) *Scope {
	if s == nil || category == "" {
		return s
	}
	s.category = category
	return s
}

// End closes the interval and appends exactly one event to the track.
// It is a no-op when the scope never started or has already ended.
func (s *Scope) End() {
	if s == nil || !s.started || s.ended {
		return
	}
	s.ended = true
	s.track.close(s)
}

// Name returns the current label.
func (s *Scope) Name() string { return s.name }

// Track returns the track the scope records onto.
func (s *Scope) Track() *Track { return s.track }

// Started reports whether the interval has begun.
func (s *Scope) Started() bool { return s.started }
