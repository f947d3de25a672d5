package chrometrace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrRecordingActive is returned by Export when a scope is still open.
var ErrRecordingActive = errors.New("chrometrace: recording still active")

const (
	phaseComplete = "X"
	phaseMetadata = "M"

	metadataCategory = "__metadata"
)

// traceEvent is one entry of the Trace Event Format. Field names and phase
// codes are consumed by third-party viewers and must not change.
type traceEvent struct {
	Name      string         `json:"name"`
	Category  string         `json:"cat"`
	Phase     string         `json:"ph"`
	Timestamp int64          `json:"ts"`
	Duration  *int64         `json:"dur,omitempty"`
	PID       int            `json:"pid"`
	TID       int            `json:"tid"`
	Args      map[string]any `json:"args,omitempty"`
}

type traceDocument struct {
	TraceEvents     []traceEvent `json:"traceEvents"`
	DisplayTimeUnit string       `json:"displayTimeUnit"`
}

// Snapshot returns every recorded event across all tracks, ordered by end
// time. Events of the same track keep their recording order.
func (t *Tracer) Snapshot() ([]Event, error) {
	tracks := t.Tracks()

	var events []Event
	for _, track := range tracks {
		if n := track.OpenScopes(); n > 0 {
			return nil, fmt.Errorf("%w: %d open scope(s) on track %q", ErrRecordingActive, n, track.name)
		}
		events = append(events, track.snapshot()...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].End.Before(events[j].End)
	})
	return events, nil
}

// Export serialises all tracks into a Chrome trace document.
//
// Precondition: no goroutine is recording on any of t's tracks. For a pool
// that records one interval per task this holds once the pool is stopped;
// an open interval is reported as ErrRecordingActive.
func (t *Tracer) Export() ([]byte, error) {
	doc, err := t.document()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("chrometrace: encode trace: %w", err)
	}
	return data, nil
}

// WriteTo writes the exported document to w.
func (t *Tracer) WriteTo(w io.Writer) (int64, error) {
	data, err := t.Export()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (t *Tracer) document() (*traceDocument, error) {
	events, err := t.Snapshot()
	if err != nil {
		return nil, err
	}
	tracks := t.Tracks()

	out := make([]traceEvent, 0, len(events)+len(tracks)+1)
	if t.processName != "" {
		out = append(out, traceEvent{
			Name:     "process_name",
			Category: metadataCategory,
			Phase:    phaseMetadata,
			PID:      t.pid,
			Args:     map[string]any{"name": t.processName},
		})
	}
	for _, track := range tracks {
		out = append(out, traceEvent{
			Name:     "thread_name",
			Category: metadataCategory,
			Phase:    phaseMetadata,
			PID:      t.pid,
			TID:      track.id,
			Args:     map[string]any{"name": track.name},
		})
	}

	for _, ev := range events {
		// Both ends are truncated against the epoch so that exported end
		// times keep the per-track ordering.
		ts := ev.Start.Sub(t.epoch).Microseconds()
		dur := ev.End.Sub(t.epoch).Microseconds() - ts
		out = append(out, traceEvent{
			Name:      ev.Name,
			Category:  ev.Category,
			Phase:     phaseComplete,
			Timestamp: ts,
			Duration:  &dur,
			PID:       t.pid,
			TID:       ev.TrackID,
		})
	}

	return &traceDocument{
		TraceEvents:     out,
		DisplayTimeUnit: "ms",
	}, nil
}
