package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"bibstat/internal/blob"
	"bibstat/internal/config"
	"bibstat/internal/core"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// app carries the flags shared by every command and the service built from
// them before a command runs.
type app struct {
	configPath  string
	actor       string
	traceJSON   bool
	metricsFile string

	out    io.Writer
	errOut io.Writer

	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	svc      *core.Service
	closers  []func() error
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath, nil)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger, err := core.BuildZapLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	a.logger = logger
	log := core.NewZapLogger(logger)

	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	archive, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("open %s archive: %w", cfg.Blob.Driver, err)
	}

	a.registry = prometheus.NewRegistry()
	var tracer core.Tracer = core.NewOTelTracer(nil)
	if a.traceJSON {
		tracer = core.NewJSONTracer(a.errOut)
	}
	a.svc = core.NewService(store,
		core.WithLogger(log),
		core.WithAuditRecorder(core.LoggingAuditRecorder{Logger: log}),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(a.registry)),
		core.WithTracer(tracer),
		core.WithArchive(archive),
		core.WithPublishPolicy(core.PublishPolicy{
			RequiredMetadata: cfg.Publish.RequiredMetadata,
			MaxBatch:         cfg.Publish.MaxBatch,
			Concurrency:      cfg.Publish.Concurrency,
		}),
		core.WithAPIConfig(core.APIConfig{
			DefaultLimit:       cfg.API.DefaultLimit,
			LibraryBaseURL:     cfg.API.LibraryBaseURL,
			TermBaseURL:        cfg.API.TermBaseURL,
			ObservationBaseURL: cfg.API.ObservationBaseURL,
		}),
	)
	logger.Debug("service ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("archive", string(archive.Driver())),
	)
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.metricsFile != "" && a.registry != nil {
		if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if a.logger != nil {
		// Sync fails on terminals; nothing useful to report.
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
