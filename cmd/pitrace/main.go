// Command pitrace runs Monte Carlo estimations of pi on a task pool and can
// record them as a Chrome trace.
//
//	pitrace group --samples 1000000
//	pitrace traced --out chrome.json
//
// Open the trace in chrome://tracing or https://ui.perfetto.dev.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

const defaultSamples = 10_000_000

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	commands := make([]*cli.Command, 0, len(modes))
	for _, m := range modes {
		commands = append(commands, modeCommand(m))
	}

	return &cli.App{
		Name:      "pitrace",
		Usage:     "estimate pi on a fixed-size task pool",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML or JSON configuration file",
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Value: cli.NewStringSlice(".env"),
				Usage: "dotenv files with TASKPOOL_* settings, missing files are skipped",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "number of worker goroutines (default depends on the command)",
			},
			&cli.IntFlag{
				Name:    "samples",
				Aliases: []string{"n"},
				Value:   defaultSamples,
				Usage:   "points drawn by a short estimation; long ones draw four times as many",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "write a Chrome trace to this file",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address, e.g. :9090",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  "otel",
				Usage: "log and export metrics through OpenTelemetry to stderr",
			},
			&cli.DurationFlag{
				Name:  "otel-interval",
				Value: 10 * time.Second,
				Usage: "OpenTelemetry metric export interval",
			},
		},
		Commands: commands,
	}
}

func modeCommand(m mode) *cli.Command {
	return &cli.Command{
		Name:  m.name,
		Usage: m.usage,
		Action: func(c *cli.Context) error {
			return modeAction(c, m)
		},
	}
}

func modeAction(c *cli.Context, m mode) error {
	// 1. Get flags
	opts := options{
		configPath:   c.String("config"),
		envFiles:     c.StringSlice("env-file"),
		workers:      c.Int("workers"),
		samples:      c.Int("samples"),
		traceOut:     c.String("out"),
		metricsAddr:  c.String("metrics-addr"),
		logLevel:     c.String("log-level"),
		otel:         c.Bool("otel"),
		otelInterval: c.Duration("otel-interval"),
	}

	// 2. Validate
	if opts.samples < 1 {
		return cli.Exit("samples must be at least 1", 1)
	}
	cfg, err := loadConfig(m, opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Invalid configuration: %v", err), 1)
	}

	// 3. Run
	s, err := newSession(c.Context, cfg, opts, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to start: %v", err), 1)
	}
	runErr := m.run(c.Context, s.env(opts.samples, c.App.Writer))
	closeErr := s.Close()

	if runErr != nil {
		return cli.Exit(fmt.Sprintf("%s failed: %v", m.name, runErr), 1)
	}
	if closeErr != nil {
		return cli.Exit(fmt.Sprintf("Failed to shut down: %v", closeErr), 1)
	}
	return nil
}
