package chrometrace

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

const (
	// DefaultCategory is used for scopes that do not set one.
	DefaultCategory = "task"

	externalTrackName = "external"
)

// Tracer owns the set of tracks that make up one trace document.
// Track registration and export are safe for concurrent use; recording is
// lock-free per track.
//
//nolint:govet // Field order follows lifecycle, not alignment
type Tracer struct {
	clock       clockz.Clock
	epoch       time.Time
	pid         int
	processName string
	category    string

	mu       sync.Mutex
	tracks   []*Track
	external *Track
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock sets the time source. Tests use clockz.NewFakeClock for
// deterministic timestamps.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithPID overrides the process id written to every event.
func WithPID(pid int) Option {
	return func(t *Tracer) { t.pid = pid }
}

// WithProcessName emits a process_name metadata record on export.
func WithProcessName(name string) Option {
	return func(t *Tracer) { t.processName = name }
}

// WithCategory changes the default category of new scopes.
func WithCategory(category string) Option {
	return func(t *Tracer) {
		if category != "" {
			t.category = category
		}
	}
}

// New creates an isolated tracer. The trace epoch (ts = 0) is the creation time.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		clock:    clockz.RealClock,
		pid:      os.Getpid(),
		category: DefaultCategory,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.epoch = t.clock.Now()
	return t
}

// =============================================================================
// Process-wide tracer
// =============================================================================

var (
	defaultTracer *Tracer
	defaultOnce   sync.Once
)

// Default returns the process-wide tracer, creating it on first use.
func Default() *Tracer {
	defaultOnce.Do(func() {
		defaultTracer = New()
	})
	return defaultTracer
}

// Begin opens a scope on the track carried by ctx. Without a track in ctx the
// scope lands on the external track of the default tracer.
func Begin(ctx context.Context, mode Mode) *Scope {
	if track := TrackFromContext(ctx); track != nil {
		return track.tracer.begin(track, mode)
	}
	return Default().Begin(ctx, mode)
}

// Export serialises the default tracer. See Tracer.Export.
func Export() ([]byte, error) {
	return Default().Export()
}

// =============================================================================
// Tracks
// =============================================================================

// NewTrack registers a new track. The returned track must only be recorded on
// by a single goroutine at a time.
func (t *Tracer) NewTrack(name string) *Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.newTrackLocked(name, false)
}

func (t *Tracer) newTrackLocked(name string, shared bool) *Track {
	track := &Track{
		id:     len(t.tracks) + 1,
		name:   name,
		tracer: t,
		shared: shared,
	}
	t.tracks = append(t.tracks, track)
	return track
}

func (t *Tracer) externalTrack() *Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.external == nil {
		t.external = t.newTrackLocked(externalTrackName, true)
	}
	return t.external
}

// Tracks returns the registered tracks in registration order.
func (t *Tracer) Tracks() []*Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Track, len(t.tracks))
	copy(out, t.tracks)
	return out
}

// Now reads the tracer clock.
func (t *Tracer) Now() time.Time {
	return t.clock.Now()
}

// Epoch is the instant exported as ts = 0.
func (t *Tracer) Epoch() time.Time {
	return t.epoch
}

// Begin opens a scope on ctx's track if it belongs to t, otherwise on t's
// external track.
func (t *Tracer) Begin(ctx context.Context, mode Mode) *Scope {
	track := TrackFromContext(ctx)
	if track == nil || track.tracer != t {
		track = t.externalTrack()
	}
	return t.begin(track, mode)
}

func (t *Tracer) begin(track *Track, mode Mode) *Scope {
	s := &Scope{
		track:    track,
		category: t.category,
	}
	if mode == ModeAuto {
		s.Start()
	}
	return s
}

// Reset drops every recorded event while keeping tracks registered.
// Same precondition as Export.
func (t *Tracer) Reset() {
	for _, track := range t.Tracks() {
		track.reset()
	}
}

// =============================================================================
// Context Helper
// =============================================================================

type trackKeyType struct{}

var trackKey trackKeyType

// WithTrack returns a context whose scopes record onto track.
func WithTrack(ctx context.Context, track *Track) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, trackKey, track)
}

// TrackFromContext returns the track carried by ctx, or nil.
func TrackFromContext(ctx context.Context) *Track {
	if ctx == nil {
		return nil
	}
	if track, ok := ctx.Value(trackKey).(*Track); ok {
		return track
	}
	return nil
}
