package otel

import (
	"github.com/Swind/go-taskpool/core"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// NewLogger returns a core.Logger that emits through the OpenTelemetry log
// bridge. Without options the global LoggerProvider is used.
func NewLogger(name string, opts ...otelslog.Option) core.Logger {
	if name == "" {
		name = instrumentationName
	}
	return core.NewSlogLogger(otelslog.NewLogger(name, opts...))
}
