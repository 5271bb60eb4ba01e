package repository

import (
	"context"

	"document-ai-indexing/internal/domain/model"
)

type DocumentRepository interface {
	Save(ctx context.Context, tx Tx, doc *model.Document) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Document, error)
	// ListByWorkspace returns the workspace's documents in creation order.
	// When ids is non-empty only matching documents are returned, still in
	// creation order. The orchestrator processes documents in exactly this
	// order.
	ListByWorkspace(ctx context.Context, tx Tx, workspaceID string, ids []string) ([]*model.Document, error)
	// UpdateStatus sets status, final page count and error text in one write.
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.DocumentStatus, pageCount int, docErr string) error
}
