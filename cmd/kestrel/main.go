// Kestrel - Bot account detection for social platforms.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	cli "github.com/urfave/cli/v2"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/store"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "kestrel",
		Usage:   "bot account detection",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to YAML configuration file",
			EnvVars: []string{"KESTREL_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "rules",
			Usage:   "path to YAML rule table, replaces the configured rules",
			EnvVars: []string{"KESTREL_RULES"},
		},
		&cli.StringFlag{
			Name:    "metrics-textfile",
			Usage:   "write Prometheus metrics to this file on exit (node exporter textfile format)",
			EnvVars: []string{"KESTREL_METRICS_TEXTFILE"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "enable debug logging",
			EnvVars: []string{config.EnvDebug},
		},
	}

	app.Commands = []*cli.Command{
		detectCmd,
		explainCmd,
		trainCmd,
		benchmarkCmd,
		modelsCmd,
	}

	return app.Run(args)
}

// setup holds what every command needs: the loaded config, the optional model
// store and a detector wired to both.
type setup struct {
	cfg      *domain.Config
	store    domain.ModelStore
	detector *detector.Detector

	shutdownTracing func()
	metricsPath     string
}

func (s *setup) Close() {
	if s.metricsPath != "" {
		if err := prometheus.WriteToTextfile(s.metricsPath, prometheus.DefaultGatherer); err != nil {
			slog.Warn("failed to write metrics", "path", s.metricsPath, "error", err)
		}
	}
	if s.shutdownTracing != nil {
		s.shutdownTracing()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("failed to close model store", "error", err)
		}
	}
}

// newSetup loads configuration, configures logging, opens the model store and
// loads the latest model when one exists.
func newSetup(cctx *cli.Context) (*setup, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, err
	}
	if cctx.Bool("debug") {
		cfg.Logging.Level = "debug"
	}

	if path := cctx.String("rules"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rule table: %w", err)
		}
		table, err := rules.ParseTable(data)
		if err != nil {
			return nil, err
		}
		cfg.Rules.Table = table
	}

	configureLogging(cfg.Logging)

	slog.Debug("configuration loaded",
		"version", Version,
		"use_ml", cfg.UseML,
		"use_rules", cfg.UseRules,
		"model_store", cfg.Model.Store,
		"rules", len(cfg.RuleTable()),
	)

	s := &setup{
		cfg:         cfg,
		metricsPath: cctx.String("metrics-textfile"),
	}

	s.shutdownTracing, err = setupTracing(cctx.Context, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	var opts []detector.Option
	if cfg.Model.Store != "" {
		s.store, err = store.New(cfg.Model)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open model store: %w", err)
		}
		opts = append(opts, detector.WithStore(s.store))
	}

	s.detector, err = detector.New(cfg, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}

	if s.store != nil {
		model, err := s.detector.LoadModel(cctx.Context, cfg.Model.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			slog.Info("no stored model, using fallback scorer", "name", cfg.Model.Name)
		case err != nil:
			s.Close()
			return nil, err
		default:
			slog.Info("model loaded",
				"name", cfg.Model.Name,
				"model_id", model.ID,
				"algorithm", string(model.Algorithm),
			)
		}
	}

	return s, nil
}

// configureLogging installs the default logger. Logs go to stderr so command
// output on stdout stays machine readable.
func configureLogging(lc domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// signalContext cancels on SIGINT or SIGTERM so long batches stop cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
