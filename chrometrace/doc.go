// Package chrometrace records labelled time intervals per goroutine and exports
// them as a Chrome "trace event" JSON document (chrome://tracing, Perfetto).
//
// Each recording goroutine owns a Track. Appending to a Track takes no lock, so
// recording at task frequency never becomes a contention point. Goroutines that
// have no Track of their own record into the tracer's shared external track,
// which serialises appends.
//
// Basic usage inside a pool task:
//
//	func(ctx context.Context) {
//		s := chrometrace.Begin(ctx, chrometrace.ModeAuto).Labelf("task A [%d]", seed)
//		defer s.End()
//		...
//	}
//
// After all work has completed:
//
//	data, err := chrometrace.Export()
//
// # Export precondition
//
// Export and Reset read every Track without synchronisation. They must only be
// called once all recording goroutines are quiescent, for example after a
// TaskGroup wait has returned. Export reports ErrRecordingActive when it finds a
// scope that has begun but not ended; any other concurrent use is undefined.
package chrometrace
