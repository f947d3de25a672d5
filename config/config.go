// Package config loads pool, trace and metrics settings from a YAML or JSON
// file, with .env files and TASKPOOL_* environment variables layered on top.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Swind/go-taskpool/chrometrace"
	"github.com/Swind/go-taskpool/core"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvWorkers     = "TASKPOOL_WORKERS"
	EnvTraceOut    = "TASKPOOL_TRACE_OUT"
	EnvMetricsAddr = "TASKPOOL_METRICS_ADDR"
	EnvLogLevel    = "TASKPOOL_LOG_LEVEL"
)

var (
	// ErrInvalidWorkers reports a worker count below one.
	ErrInvalidWorkers = errors.New("config: workers must be at least 1")
	// ErrInvalidDuration reports an unparsable duration setting.
	ErrInvalidDuration = errors.New("config: invalid duration")
)

// FileConfig is the layout of the configuration file.
type FileConfig struct {
	Pool    PoolConfig    `yaml:"pool" json:"pool"`
	Trace   TraceConfig   `yaml:"trace" json:"trace"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// PoolConfig configures the thread pool.
type PoolConfig struct {
	ID              string `yaml:"id" json:"id"`
	Workers         int    `yaml:"workers" json:"workers"`
	HistoryCapacity int    `yaml:"history_capacity" json:"history_capacity"`
}

// TraceConfig configures interval recording.
type TraceConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Output     string `yaml:"output" json:"output"`
	TraceTasks bool   `yaml:"trace_tasks" json:"trace_tasks"`
	Category   string `yaml:"category" json:"category"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr         string `yaml:"addr" json:"addr"`
	Namespace    string `yaml:"namespace" json:"namespace"`
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
}

// LogConfig configures the default logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the settings used when no file is given.
func Default() *FileConfig {
	return &FileConfig{
		Pool: PoolConfig{
			ID:      "pitrace",
			Workers: 4,
		},
		Trace: TraceConfig{
			Output:   "chrome.json",
			Category: chrometrace.DefaultCategory,
		},
		Metrics: MetricsConfig{
			Namespace:    "taskpool",
			PollInterval: "1s",
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFile reads a YAML (.yaml, .yml) or JSON (.json) file on top of Default.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return config, nil
}

// ApplyEnvFiles overrides settings from the process environment and then from
// the given .env files. Missing files are skipped; the process environment
// wins over file values.
func (f *FileConfig) ApplyEnvFiles(files ...string) error {
	vars := make(map[string]string)
	for _, file := range files {
		m, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to read env file %s: %w", file, err)
		}
		maps.Copy(vars, m)
	}

	return f.ApplyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	})
}

// ApplyEnv overrides settings from lookup. Setting TASKPOOL_TRACE_OUT also
// enables tracing.
func (f *FileConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvWorkers, v, ErrInvalidWorkers)
		}
		f.Pool.Workers = n
	}
	if v, ok := lookup(EnvTraceOut); ok && v != "" {
		f.Trace.Output = v
		f.Trace.Enabled = true
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		f.Metrics.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		f.Log.Level = v
	}
	return nil
}

// Validate checks the settings.
func (f *FileConfig) Validate() error {
	if f.Pool.Workers < 1 {
		return fmt.Errorf("pool.workers = %d: %w", f.Pool.Workers, ErrInvalidWorkers)
	}
	if f.Pool.HistoryCapacity < 0 {
		return fmt.Errorf("pool.history_capacity must be non-negative")
	}
	if f.Trace.Enabled && f.Trace.Output == "" {
		return fmt.Errorf("trace.output is required when tracing is enabled")
	}
	if _, err := f.Metrics.Interval(); err != nil {
		return err
	}
	if _, err := f.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Interval parses PollInterval, defaulting to one second.
func (m MetricsConfig) Interval() (time.Duration, error) {
	if m.PollInterval == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(m.PollInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("metrics.poll_interval %q: %w", m.PollInterval, ErrInvalidDuration)
	}
	return d, nil
}

// SlogLevel maps Level onto a slog level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// Tracer builds a tracer from the trace settings, or nil when tracing is off.
func (f *FileConfig) Tracer() *chrometrace.Tracer {
	if !f.Trace.Enabled {
		return nil
	}
	opts := []chrometrace.Option{chrometrace.WithProcessName(f.Pool.ID)}
	if f.Trace.Category != "" {
		opts = append(opts, chrometrace.WithCategory(f.Trace.Category))
	}
	return chrometrace.New(opts...)
}

// SchedulerConfig builds the pool configuration. logger may be nil.
func (f *FileConfig) SchedulerConfig(logger core.Logger, tracer *chrometrace.Tracer) *core.TaskSchedulerConfig {
	cfg := core.DefaultTaskSchedulerConfig()
	if logger != nil {
		cfg.Logger = logger
		cfg.PanicHandler = &core.DefaultPanicHandler{Logger: logger}
		cfg.RejectedTaskHandler = &core.DefaultRejectedTaskHandler{Logger: logger}
	}
	if f.Pool.HistoryCapacity > 0 {
		cfg.HistoryCapacity = f.Pool.HistoryCapacity
	}
	cfg.Tracer = tracer
	cfg.TraceTasks = tracer != nil && f.Trace.TraceTasks
	return cfg
}
