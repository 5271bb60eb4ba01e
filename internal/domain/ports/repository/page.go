package repository

import (
	"context"

	"document-ai-indexing/internal/domain/model"
)

type PageRepository interface {
	// Save inserts a freshly rendered page. Pages are written one at a time
	// as the renderer produces them, never batched.
	Save(ctx context.Context, tx Tx, page *model.Page) error
	// ListByDocument returns a document's pages in page-number order.
	ListByDocument(ctx context.Context, tx Tx, documentID string) ([]*model.Page, error)
	// SetAnalysis records a page's analysis result. A page's analysis is
	// written exactly once; a second write returns domain.ErrAnalysisAlreadySet.
	SetAnalysis(ctx context.Context, tx Tx, pageID string, analysis *model.PageAnalysis) error
	// DeleteByWorkspace removes every page in the workspace. Only the
	// fresh-start reset calls this. Returns the number of pages removed.
	DeleteByWorkspace(ctx context.Context, tx Tx, workspaceID string) (int, error)
	// ListAnalyzedByWorkspace returns all analyzed pages across the
	// workspace's documents, ordered by document then page number.
	ListAnalyzedByWorkspace(ctx context.Context, tx Tx, workspaceID string) ([]*model.Page, error)
}
