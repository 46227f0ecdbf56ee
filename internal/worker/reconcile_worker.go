package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/service"
)

const (
	reconcileBatch   = 200
	reconcileTimeout = 30 * time.Second
)

// StaleMetricsLister finds attempts whose metrics lag their violation log.
type StaleMetricsLister interface {
	ListStaleMetrics(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// MetricsRecomputer rebuilds one attempt's metrics.
type MetricsRecomputer interface {
	Recompute(ctx context.Context, attemptID uuid.UUID) (*model.SecurityMetrics, error)
}

// Reescalator raises flags for escalating violations the ingest path failed to flag.
type Reescalator interface {
	ReescalateMissed(ctx context.Context, backlog service.EscalationBacklog, limit int) (int, error)
}

// ReconcileWorker periodically heals metrics left stale by lost-update races
// or failed recomputes, and flags that a failed escalation never wrote.
type ReconcileWorker struct {
	metrics StaleMetricsLister
	scorer  MetricsRecomputer
	backlog service.EscalationBacklog
	flagger Reescalator
	cron    *cron.Cron
	log     zerolog.Logger
}

// NewReconcileWorker creates a new ReconcileWorker. backlog and flagger may be
// nil, in which case only metrics are reconciled.
func NewReconcileWorker(metrics StaleMetricsLister, scorer MetricsRecomputer, backlog service.EscalationBacklog, flagger Reescalator, log zerolog.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		metrics: metrics,
		scorer:  scorer,
		backlog: backlog,
		flagger: flagger,
		cron:    cron.New(),
		log:     log.With().Str("component", "reconcile_worker").Logger(),
	}
}

// Start schedules the reconcile job on the given cron schedule and starts the scheduler.
func (w *ReconcileWorker) Start(schedule string) error {
	if _, err := w.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		w.RunOnce(ctx)
		w.ReescalateOnce(ctx)
	}); err != nil {
		return err
	}
	w.cron.Start()
	w.log.Info().Str("schedule", schedule).Msg("ReconcileWorker started")
	return nil
}

// Stop stops scheduling and waits for a running job up to ctx.
func (w *ReconcileWorker) Stop(ctx context.Context) {
	select {
	case <-w.cron.Stop().Done():
	case <-ctx.Done():
		w.log.Warn().Msg("Reconcile job still running at shutdown")
	}
}

// RunOnce recomputes one batch of stale metrics and reports how many were healed.
func (w *ReconcileWorker) RunOnce(ctx context.Context) int {
	ids, err := w.metrics.ListStaleMetrics(ctx, reconcileBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to list stale metrics")
		return 0
	}

	healed := 0
	for _, id := range ids {
		if _, err := w.scorer.Recompute(ctx, id); err != nil {
			w.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Recompute failed")
			continue
		}
		healed++
	}

	if healed > 0 {
		w.log.Info().Int("healed", healed).Msg("Stale security metrics reconciled")
	}
	return healed
}

// ReescalateOnce flags one batch of unflagged high and critical violations and
// reports how many were escalated.
func (w *ReconcileWorker) ReescalateOnce(ctx context.Context) int {
	if w.backlog == nil || w.flagger == nil {
		return 0
	}
	n, err := w.flagger.ReescalateMissed(ctx, w.backlog, reconcileBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to re-escalate violations")
		return 0
	}
	if n > 0 {
		w.log.Info().Int("escalated", n).Msg("Missed escalations recovered")
	}
	return n
}
