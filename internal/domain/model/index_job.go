package model

import (
	"time"

	"document-ai-indexing/internal/domain"

	"github.com/google/uuid"
)

type IndexJobStatus string

const (
	IndexJobStatusQueued     IndexJobStatus = "queued"
	IndexJobStatusInProgress IndexJobStatus = "in-progress"
	IndexJobStatusComplete   IndexJobStatus = "complete"
	IndexJobStatusFailed     IndexJobStatus = "failed"
	IndexJobStatusCancelled  IndexJobStatus = "cancelled"
)

// Terminal reports whether a job in this status will never run again.
func (s IndexJobStatus) Terminal() bool {
	return s == IndexJobStatusComplete || s == IndexJobStatusFailed || s == IndexJobStatusCancelled
}

// JobProgress counters are only ever incremented during a job's lifetime;
// the single exception is the fresh-start reset which zeroes them before
// any work is scheduled.
type JobProgress struct {
	TotalDocuments     int
	ProcessedDocuments int
	TotalPages         int
	ProcessedPages     int
	AnalyzedPages      int
}

// JobCost accumulates token usage and spend across all analysis calls.
// Cost is tracked in micro-units to avoid floating point drift.
type JobCost struct {
	InputTokens     int64
	OutputTokens    int64
	TotalCostMicros int64
}

// JobConfig is the configuration snapshot captured at job creation.
// A resumed job keeps these settings even if workspace defaults change
// between crash and resume.
type JobConfig struct {
	RenderDPI     int      `json:"render_dpi"`
	RenderQuality int      `json:"render_quality"`
	Model         string   `json:"model"`
	DetailLevel   string   `json:"detail_level"`
	DocumentIDs   []string `json:"document_ids,omitempty"`
	Instructions  string   `json:"instructions,omitempty"`
}

// IndexJob is the durable record driving one indexing run for a workspace.
type IndexJob struct {
	ID          string
	WorkspaceID string
	Status      IndexJobStatus
	Progress    JobProgress
	Cost        JobCost
	Config      JobConfig
	StartedAt   time.Time // fixed at creation; epoch for ETA math
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// NewIndexJob creates a queued job with its configuration snapshot.
func NewIndexJob(workspaceID string, cfg JobConfig) (*IndexJob, error) {
	if workspaceID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &IndexJob{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Status:      IndexJobStatusQueued,
		Config:      cfg,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// RemainingPages is the number of pages still waiting for analysis as far
// as the counters know. Negative values are clamped because TotalPages is
// learned incrementally from the renderer.
func (j *IndexJob) RemainingPages() int {
	r := j.Progress.TotalPages - j.Progress.AnalyzedPages
	if r < 0 {
		return 0
	}
	return r
}

// ETASeconds estimates seconds remaining from the naive average time per
// analyzed page since the job started. The second return is false until at
// least one page has been analyzed; callers omit the estimate in that case.
// The estimate is recomputed from scratch on every call, unsmoothed.
func (j *IndexJob) ETASeconds(now time.Time) (int, bool) {
	if j.Progress.AnalyzedPages <= 0 {
		return 0, false
	}
	elapsed := now.Sub(j.StartedAt).Seconds()
	perPage := elapsed / float64(j.Progress.AnalyzedPages)
	return int(perPage * float64(j.RemainingPages())), true
}
