// Package worker runs the periodic sync daemon: a gocron schedule around the
// orchestrator, Prometheus metrics, and live config reloads.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/config"
	"github.com/vsalomaa/spmirror/internal/events"
	"github.com/vsalomaa/spmirror/internal/sync"
)

// Runner executes one sync run. Satisfied by *sync.Orchestrator.
type Runner interface {
	Run(ctx context.Context, opts sync.Options) (*sync.Report, error)
}

// TotalsReader supplies the catalog gauges. Satisfied by *catalog.Catalog.
type TotalsReader interface {
	GetTotals(ctx context.Context) (*catalog.Totals, error)
}

// Worker schedules sync runs at the configured interval. The first run fires
// immediately; a cycle that finds another run in progress is skipped, not
// queued.
type Worker struct {
	runner    Runner
	totals    TotalsReader
	holder    *config.Holder
	publisher events.Publisher
	metrics   *Metrics
	logger    *slog.Logger
}

// New wires a worker. A nil publisher disables event publishing.
func New(runner Runner, totals TotalsReader, holder *config.Holder, publisher events.Publisher, logger *slog.Logger) *Worker {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Worker{
		runner:    runner,
		totals:    totals,
		holder:    holder,
		publisher: publisher,
		metrics:   NewMetrics(),
		logger:    logger,
	}
}

// Run blocks until ctx ends, executing sync cycles on the configured
// interval. Interval changes via config reload take effect after a restart;
// filter and download tunables apply on the next cycle.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.holder.Config()
	interval := cfg.WorkerInterval()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("worker: creating scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { w.runCycle(ctx) }),
		gocron.WithName("sync"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("worker: scheduling sync job: %w", err)
	}

	var serverErr <-chan error

	if addr := cfg.Worker.MetricsAddr; addr != "" {
		server := newMetricsServer(addr, w.metrics, w.logger)
		serverErr = server.start()

		defer func() {
			if err := server.stop(); err != nil {
				w.logger.Warn("stopping metrics listener", slog.String("error", err.Error()))
			}
		}()
	}

	if w.holder.Path() != "" {
		watcher, err := newConfigWatcher(w.holder, w.logger)
		if err != nil {
			w.logger.Warn("config watching disabled", slog.String("error", err.Error()))
		} else {
			go watcher.run(ctx)
		}
	}

	w.logger.Info("worker started", slog.Duration("interval", interval))
	scheduler.Start()

	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			w.logger.Warn("stopping scheduler", slog.String("error", err.Error()))
		}

		if err := w.publisher.Close(); err != nil {
			w.logger.Warn("closing event publisher", slog.String("error", err.Error()))
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("worker stopping")
		return nil
	case err := <-serverErr:
		if err != nil {
			return err
		}

		return nil
	}
}

// runCycle executes one scheduled sync and records its outcome.
func (w *Worker) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	logger := w.logger.With(slog.String("cycle_id", uuid.NewString()))
	logger.Info("sync cycle starting")

	report, err := w.runner.Run(ctx, sync.Options{})

	switch {
	case errors.Is(err, catalog.ErrAlreadyRunning):
		logger.Warn("another run is in progress, skipping cycle")
		w.metrics.ObserveSkipped()

		return
	case err != nil && report == nil:
		// Failed before a run row existed (site resolution, drive
		// listing). Nothing to publish.
		logger.Error("sync cycle failed", slog.String("error", err.Error()))
		w.metrics.ObserveSkipped()

		return
	case err != nil:
		logger.Error("sync cycle failed", slog.String("error", err.Error()))
	default:
		logger.Info("sync cycle complete",
			slog.Int64("added", report.Counters.Added),
			slog.Int64("modified", report.Counters.Modified),
			slog.Int64("removed", report.Counters.Removed),
		)
	}

	if report.Run != nil {
		w.metrics.ObserveRun(report.Run)

		if err := w.publisher.PublishRun(ctx, events.SummaryOf(report.Run)); err != nil {
			logger.Warn("publishing run summary", slog.String("error", err.Error()))
		}
	}

	w.refreshTotals(ctx)
}

func (w *Worker) refreshTotals(ctx context.Context) {
	totals, err := w.totals.GetTotals(ctx)
	if err != nil {
		w.logger.Warn("reading catalog totals", slog.String("error", err.Error()))
		return
	}

	w.metrics.SetTotals(totals)
}
