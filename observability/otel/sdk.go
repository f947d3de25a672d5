package otel

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Swind/go-taskpool/core"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// SDK holds meter and logger providers that write to a stream.
type SDK struct {
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider

	shutdownFuncs []func(context.Context) error
}

// SetupSDK bootstraps the OpenTelemetry pipeline with stdout exporters
// writing to w, and installs the providers globally. Metrics are exported
// every interval and once more on Shutdown.
func SetupSDK(w io.Writer, interval time.Duration) (*SDK, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	sdk := &SDK{}

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	sdk.MeterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
	)
	sdk.shutdownFuncs = append(sdk.shutdownFuncs, sdk.MeterProvider.Shutdown)
	otel.SetMeterProvider(sdk.MeterProvider)

	logExporter, err := stdoutlog.New(stdoutlog.WithWriter(w))
	if err != nil {
		return nil, errors.Join(err, sdk.Shutdown(context.Background()))
	}
	sdk.LoggerProvider = sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)))
	sdk.shutdownFuncs = append(sdk.shutdownFuncs, sdk.LoggerProvider.Shutdown)
	global.SetLoggerProvider(sdk.LoggerProvider)

	return sdk, nil
}

// Metrics creates core.Metrics on the SDK meter provider.
func (s *SDK) Metrics() (*Metrics, error) {
	return NewMetrics(s.MeterProvider.Meter(instrumentationName))
}

// Logger creates a core.Logger on the SDK logger provider.
func (s *SDK) Logger(name string) core.Logger {
	return NewLogger(name, otelslog.WithLoggerProvider(s.LoggerProvider))
}

// Shutdown flushes and stops every provider. It is safe to call more than once.
func (s *SDK) Shutdown(ctx context.Context) error {
	var err error
	for _, fn := range s.shutdownFuncs {
		err = errors.Join(err, fn(ctx))
	}
	s.shutdownFuncs = nil
	return err
}
