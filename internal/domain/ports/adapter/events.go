package adapter

import "context"

// ProgressNotice is emitted at each progress point. ETASeconds is nil
// until at least one page has been analyzed.
type ProgressNotice struct {
	JobID              string
	TotalDocuments     int
	ProcessedDocuments int
	TotalPages         int
	ProcessedPages     int
	AnalyzedPages      int
	ETASeconds         *int
	Message            string // human-readable phase message
}

// CompletionNotice is emitted once when a job reaches 'complete'.
type CompletionNotice struct {
	JobID           string
	TotalDocuments  int
	TotalPages      int
	AnalyzedPages   int
	TotalCostMicros int64
}

// EventPublisher broadcasts job notices scoped by workspace. Delivery is
// best-effort and at-most-once; consumers that care poll the job record.
type EventPublisher interface {
	PublishProgress(ctx context.Context, workspaceID string, n ProgressNotice) error
	PublishCompleted(ctx context.Context, workspaceID string, n CompletionNotice) error
	PublishError(ctx context.Context, workspaceID, jobID, message string) error
	PublishCancelled(ctx context.Context, workspaceID, jobID string) error
}
