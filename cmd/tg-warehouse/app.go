package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/archive"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/audit"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/config"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/ledger"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/loader"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/logging"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/metrics"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/pipeline"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/warehouse"
)

// app holds the components shared by the subcommands. Components are built
// lazily so each command opens only what it needs.
type app struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	writer  warehouse.Writer
	closers []func() error
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	logging.Component("main").Info("starting", "command", cmd.Name(), "version", loader.Version, "config", cfg.String())

	a := &app{cfg: cfg}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.Init(cfg.Metrics.Namespace)
		go func() {
			log.Printf("[metrics] serving on %s", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Printf("[metrics] server stopped: %v", err)
			}
		}()
	}
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[main] close: %v", err)
		}
	}
	a.closers = nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// warehouse opens the writer wrapped with bounded retry.
func (a *app) warehouse(ctx context.Context) (warehouse.Writer, error) {
	if a.writer != nil {
		return a.writer, nil
	}

	dedup, err := warehouse.ParseDedupMode(a.cfg.Warehouse.Dedup)
	if err != nil {
		return nil, err
	}
	w, err := warehouse.NewWriter(ctx, warehouse.Config{
		Driver:   a.cfg.Warehouse.Driver,
		DSN:      a.cfg.WarehouseDSN(),
		Dedup:    dedup,
		MaxConns: a.cfg.Warehouse.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	a.onClose(w.Close)

	r := a.cfg.Warehouse.Retry
	m := a.metrics
	a.writer = warehouse.NewRetryingWriter(w, warehouse.RetryConfig{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		MaxElapsedTime:  r.MaxElapsedTime,
	}, func(op string, _ error) {
		m.IncWriteRetries(op)
	})
	return a.writer, nil
}

// loader wires the scanner, warehouse, ledger, archive and audit trail.
func (a *app) loader(ctx context.Context) (*loader.Loader, error) {
	cfg := a.cfg

	scanner, err := source.NewScanner(ctx, source.Config{
		Root:     cfg.Source.Root,
		Prefix:   cfg.Source.Prefix,
		Region:   cfg.Source.Region,
		Endpoint: cfg.Source.Endpoint,
		Since:    cfg.Source.Since,
		Until:    cfg.Source.Until,
	})
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}
	a.onClose(scanner.Close)

	w, err := a.warehouse(ctx)
	if err != nil {
		return nil, err
	}

	status, err := ledger.New(ledger.Config{Enabled: cfg.Ledger.Enabled, Path: cfg.Ledger.Path})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	l := loader.New(loader.Options{
		Workers:                     cfg.Loader.Workers,
		MaxConsecutiveWriteFailures: cfg.Loader.MaxConsecutiveWriteFailures,
		RunTimeout:                  cfg.Loader.RunTimeout,
		SkipLoaded:                  cfg.Loader.SkipLoaded,
		SkipSucceeded:               cfg.Loader.SkipSucceeded,
	}, scanner, w, status).WithMetrics(a.metrics)

	if cfg.Archive.Enabled {
		acfg := archive.Config{
			Enabled:        true,
			Backend:        cfg.Archive.Backend,
			LocalDir:       cfg.Archive.LocalDir,
			Bucket:         cfg.Archive.Bucket,
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Prefix:         cfg.Archive.Prefix,
			Compression:    cfg.Archive.Compression,
			AllowOverwrite: cfg.Archive.AllowOverwrite,
		}
		store, err := archive.NewStore(ctx, acfg)
		if err != nil {
			return nil, fmt.Errorf("create archive store: %w", err)
		}
		arch := archive.NewArchiver(store, acfg, archive.ProducerInfo{
			Name:    "tg-warehouse",
			Version: loader.Version,
			GitSHA:  loader.GitSHA,
		})
		a.onClose(arch.Close)
		l.WithArchiver(arch)
	}

	emitter, err := audit.NewEmitter(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Endpoint:    cfg.Audit.Endpoint,
		BackupDir:   cfg.Audit.BackupDir,
		Timeout:     cfg.Audit.Timeout,
		MaxAttempts: cfg.Audit.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("create audit emitter: %w", err)
	}
	a.onClose(emitter.Close)
	l.WithAudit(emitter)

	return l, nil
}

// pipeline builds the load step, the optional detections step and the
// configured commands.
func (a *app) pipeline(ctx context.Context, out io.Writer) (*pipeline.Runner, error) {
	l, err := a.loader(ctx)
	if err != nil {
		return nil, err
	}

	steps := []pipeline.Step{
		pipeline.FuncStep{StepName: "load", Fn: func(ctx context.Context) error {
			sum, err := l.Run(ctx)
			printSummary(out, sum)
			return err
		}},
	}

	if path := a.cfg.Pipeline.DetectionsFile; path != "" {
		w, err := a.warehouse(ctx)
		if err != nil {
			return nil, err
		}
		steps = append(steps, pipeline.FuncStep{StepName: "load-detections", IsOptional: true, Fn: func(ctx context.Context) error {
			_, err := loader.LoadDetections(ctx, w, path)
			return err
		}})
	}

	for _, s := range a.cfg.Pipeline.Steps {
		steps = append(steps, pipeline.CommandStep{
			StepName:   s.Name,
			Command:    s.Command,
			Dir:        s.Dir,
			IsOptional: s.Optional,
			Timeout:    s.Timeout,
		})
	}
	return pipeline.NewRunner(steps...), nil
}

func printSummary(w io.Writer, sum *loader.Summary) {
	if sum == nil {
		return
	}
	fmt.Fprintf(w, "run %s: %d files found, %d succeeded, %d failed, %d skipped, %d not attempted\n",
		sum.RunID, sum.FilesFound, sum.FilesSucceeded, sum.FilesFailed, sum.FilesSkipped, sum.FilesNotAttempted)
	fmt.Fprintf(w, "rows written: %d  channel rows: %d  rows dropped: %d  field warnings: %d  duration: %s\n",
		sum.RowsWritten, sum.ChannelRows, sum.RowsDropped, sum.FieldWarnings, sum.Duration().Round(time.Millisecond))
	for _, r := range sum.Failures() {
		fmt.Fprintf(w, "  FAILED %s [%s]: %v\n", r.Path, r.Kind, r.Err)
	}
}

func printReport(w io.Writer, report pipeline.Report) {
	for _, s := range report.Steps {
		status := "ok"
		switch {
		case s.Skipped:
			status = "skipped"
		case s.Err != nil && s.Optional:
			status = "warning: " + s.Err.Error()
		case s.Err != nil:
			status = "failed: " + s.Err.Error()
		}
		fmt.Fprintf(w, "%-16s %-10s %s\n", s.Name, s.Duration.Round(time.Millisecond), status)
	}
}
