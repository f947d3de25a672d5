package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	taskpool "github.com/Swind/go-taskpool"
	"github.com/Swind/go-taskpool/chrometrace"
	"github.com/Swind/go-taskpool/config"
	"github.com/Swind/go-taskpool/core"
	otelexp "github.com/Swind/go-taskpool/observability/otel"
	promexp "github.com/Swind/go-taskpool/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// options are the command line settings that feed a session.
type options struct {
	configPath   string
	envFiles     []string
	workers      int
	samples      int
	traceOut     string
	metricsAddr  string
	logLevel     string
	otel         bool
	otelInterval time.Duration
}

// loadConfig layers the settings: mode defaults, the config file, .env files
// and the environment, then explicit flags.
func loadConfig(m mode, opts options) (*config.FileConfig, error) {
	cfg := config.Default()
	cfg.Pool.Workers = m.workers
	if opts.configPath != "" {
		loaded, err := config.LoadFile(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnvFiles(opts.envFiles...); err != nil {
		return nil, err
	}

	if opts.workers > 0 {
		cfg.Pool.Workers = opts.workers
	}
	if opts.traceOut != "" {
		cfg.Trace.Output = opts.traceOut
		cfg.Trace.Enabled = true
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if m.name == "traced" {
		cfg.Trace.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session owns the pool of one run and everything observing it.
type session struct {
	cfg    *config.FileConfig
	pool   *taskpool.GoroutineThreadPool
	tracer *chrometrace.Tracer
	logger core.Logger

	poller   *promexp.SnapshotPoller
	server   *http.Server
	listener net.Listener
	sdk      *otelexp.SDK
}

// newSession builds and starts the pool. Diagnostics go to stderr.
func newSession(ctx context.Context, cfg *config.FileConfig, opts options, stderr io.Writer) (_ *session, err error) {
	s := &session{cfg: cfg}
	defer func() {
		if err != nil {
			s.shutdownObservers(context.Background())
		}
	}()

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}

	var collectors []core.Metrics

	if opts.otel {
		s.sdk, err = otelexp.SetupSDK(stderr, opts.otelInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to set up OpenTelemetry: %w", err)
		}
		s.logger = s.sdk.Logger("pitrace")
		m, err := s.sdk.Metrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenTelemetry metrics: %w", err)
		}
		collectors = append(collectors, m)
	} else {
		handler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
		s.logger = core.NewSlogLogger(slog.New(handler))
	}

	if cfg.Metrics.Addr != "" {
		exporter, err := s.startMetricsServer(ctx)
		if err != nil {
			return nil, err
		}
		collectors = append(collectors, exporter)
	}

	s.tracer = cfg.Tracer()

	schedCfg := cfg.SchedulerConfig(s.logger, s.tracer)
	schedCfg.Metrics = core.NewMultiMetrics(collectors...)

	s.pool = taskpool.NewGoroutineThreadPoolWithConfig(cfg.Pool.ID, cfg.Pool.Workers, schedCfg)
	s.poller.AddPool(cfg.Pool.ID, s.pool)
	s.pool.Start(ctx)

	s.logger.Info("pool started",
		core.F("pool", s.pool.ID()),
		core.F("workers", s.pool.WorkerCount()),
		core.F("tracing", s.tracer != nil),
	)
	return s, nil
}

func (s *session) startMetricsServer(ctx context.Context) (*promexp.MetricsExporter, error) {
	interval, err := s.cfg.Metrics.Interval()
	if err != nil {
		return nil, err
	}

	reg := prom.NewRegistry()
	exporter, err := promexp.NewMetricsExporter(s.cfg.Metrics.Namespace, reg, promexp.ExporterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	s.poller, err = promexp.NewSnapshotPoller(reg, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to register snapshot metrics: %w", err)
	}

	s.listener, err = net.Listen("tcp", s.cfg.Metrics.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.cfg.Metrics.Addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", core.F("error", err))
		}
	}()
	s.poller.Start(ctx)

	s.logger.Info("serving metrics", core.F("addr", s.listener.Addr().String()))
	return exporter, nil
}

// watch publishes a task group on the metrics endpoint.
func (s *session) watch(name string, group *taskpool.TaskGroup) {
	s.poller.AddGroup(name, group)
}

func (s *session) env(samples int, out io.Writer) *runEnv {
	env := newRunEnv(s.pool, samples, out)
	env.watch = s.watch
	return env
}

// Close drains the pool, writes the trace and stops the observers.
func (s *session) Close() error {
	s.pool.Stop()
	s.poller.CollectOnce()

	sum := s.pool.HistorySummary()
	s.logger.Info("run summary",
		core.F("recent", sum.Records),
		core.F("inline", sum.Inline),
		core.F("panicked", sum.Panicked),
		core.F("maxQueueDelay", sum.MaxQueueDelay),
		core.F("meanDuration", sum.MeanDuration),
	)

	var errs []error
	if s.tracer != nil {
		if err := s.writeTrace(); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.shutdownObservers(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *session) writeTrace() error {
	path := s.cfg.Trace.Output
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	n, err := s.tracer.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	s.logger.Info("trace written", core.F("path", path), core.F("bytes", n))
	return nil
}

func (s *session) shutdownObservers(ctx context.Context) error {
	var errs []error
	s.poller.Stop()
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	} else if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.sdk != nil {
		if err := s.sdk.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("OpenTelemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
