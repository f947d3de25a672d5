// Package otel connects pools to OpenTelemetry: Metrics implements
// core.Metrics with otel instruments, NewLogger routes core.Logger records
// through the otelslog bridge.
package otel
