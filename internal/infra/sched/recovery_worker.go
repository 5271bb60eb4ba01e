// File: internal/infra/sched/recovery_worker.go
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"document-ai-indexing/internal/infra/worker"
	"document-ai-indexing/internal/usecase"
)

// RecoveryWorker re-invokes the orchestrator for jobs a crashed process
// left behind, whether mid-run or still queued. It runs one immediate
// sweep at startup and then rescans periodically, which also picks up
// jobs whose workspace lock only expired after startup.
type RecoveryWorker struct {
	interval time.Duration
	indexUC  usecase.IndexingUseCase
	pool     *worker.Pool
	log      *zerolog.Logger
}

func NewRecoveryWorker(interval time.Duration, indexUC usecase.IndexingUseCase, pool *worker.Pool, logger *zerolog.Logger) *RecoveryWorker {
	recLog := logger.With().Str("component", "RecoveryWorker").Logger()
	return &RecoveryWorker{
		interval: interval,
		indexUC:  indexUC,
		pool:     pool,
		log:      &recLog,
	}
}

func (w *RecoveryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting recovery worker")
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping recovery worker")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RecoveryWorker) sweep(ctx context.Context) {
	n, err := w.indexUC.ResumeInterrupted(ctx, func(jobID string) {
		if err := w.pool.Submit(func(taskCtx context.Context) error {
			return w.indexUC.Run(taskCtx, jobID)
		}); err != nil {
			w.log.Warn().Err(err).Str("job_id", jobID).Msg("could not submit recovered job")
		}
	})
	if err != nil {
		w.log.Error().Err(err).Msg("recovery sweep failed")
		return
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("interrupted jobs resubmitted")
	}
}
