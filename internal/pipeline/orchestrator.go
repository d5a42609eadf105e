// Package pipeline runs the periodic maintenance jobs next to the trading
// path: cold-storage archiving and order reconciliation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Reconciler refreshes open orders against the exchange.
type Reconciler interface {
	RunReconciler(ctx context.Context, interval time.Duration) error
}

// Orchestrator runs the configured jobs until the context ends. Either job
// may be nil.
type Orchestrator struct {
	archiver          *ArchiveJob
	archiveCron       string
	reconciler        Reconciler
	reconcileInterval time.Duration
	logger            *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	archiver *ArchiveJob,
	archiveCron string,
	reconciler Reconciler,
	reconcileInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		archiver:          archiver,
		archiveCron:       archiveCron,
		reconciler:        reconciler,
		reconcileInterval: reconcileInterval,
		logger:            logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts every job in an errgroup. A job failing for any reason other
// than cancellation stops the rest and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("archiver", o.archiver != nil),
		slog.String("archive_cron", o.archiveCron),
		slog.Bool("reconciler", o.reconciler != nil),
		slog.Duration("reconcile_interval", o.reconcileInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}
	if o.reconciler != nil && o.reconcileInterval > 0 {
		g.Go(func() error {
			err := o.reconciler.RunReconciler(ctx, o.reconcileInterval)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reconciler: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped")
	return nil
}
