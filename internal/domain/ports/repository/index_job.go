package repository

import (
	"context"

	"document-ai-indexing/internal/domain/model"
)

// ProgressDelta carries per-field increments applied atomically to a job's
// progress counters. Zero fields are left untouched.
type ProgressDelta struct {
	TotalDocuments     int
	ProcessedDocuments int
	TotalPages         int
	ProcessedPages     int
	AnalyzedPages      int
}

// CostDelta carries token/cost increments applied atomically alongside a
// page's analysis result.
type CostDelta struct {
	InputTokens     int64
	OutputTokens    int64
	TotalCostMicros int64
}

type IndexJobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.IndexJob) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.IndexJob, error)
	// FindActiveByWorkspace returns the single in-progress or queued job for
	// a workspace, or domain.ErrNotFound.
	FindActiveByWorkspace(ctx context.Context, tx Tx, workspaceID string) (*model.IndexJob, error)
	// FindUnfinished lists every job left in 'queued' or 'in-progress';
	// the recovery routine re-invokes the orchestrator for each. Queued
	// jobs show up when a process died between creation and the first run.
	FindUnfinished(ctx context.Context) ([]*model.IndexJob, error)
	// UpdateStatus transitions a job. Terminal statuses are never
	// overwritten: once a job reads cancelled/complete/failed, further
	// transitions return domain.ErrTerminalStatus.
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.IndexJobStatus, jobErr string) error
	// IncrementProgress applies counter deltas with a single atomic update,
	// so concurrent analysis tasks never clobber each other.
	IncrementProgress(ctx context.Context, tx Tx, id string, d ProgressDelta) error
	AddCost(ctx context.Context, tx Tx, id string, d CostDelta) error
	// ResetProgress zeroes all progress counters. Only the fresh-start path
	// calls this, before any work is scheduled.
	ResetProgress(ctx context.Context, tx Tx, id string) error
}
