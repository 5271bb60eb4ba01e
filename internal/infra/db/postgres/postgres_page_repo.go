package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"document-ai-indexing/internal/domain"
	"document-ai-indexing/internal/domain/model"
	"document-ai-indexing/internal/domain/ports/repository"
)

var _ repository.PageRepository = (*pageRepo)(nil)

type pageRepo struct {
	pool *pgxpool.Pool
}

func NewPageRepo(pool *pgxpool.Pool) *pageRepo {
	return &pageRepo{pool: pool}
}

const pageColumns = `id, workspace_id, document_id, page_number, image_key, width, height, analysis, analyzed_at, created_at`

func (r *pageRepo) Save(ctx context.Context, tx repository.Tx, page *model.Page) error {
	const q = `
INSERT INTO pages (id, workspace_id, document_id, page_number, image_key, width, height, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	_, err := execSQL(ctx, r.pool, tx, q,
		page.ID, page.WorkspaceID, page.DocumentID, page.PageNumber,
		page.ImageKey, page.Width, page.Height, page.CreatedAt)
	if err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	return nil
}

func (r *pageRepo) ListByDocument(ctx context.Context, tx repository.Tx, documentID string) ([]*model.Page, error) {
	q := `SELECT ` + pageColumns + ` FROM pages WHERE document_id = $1 ORDER BY page_number;`
	rows, err := pickRows(ctx, r.pool, tx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

// SetAnalysis records a page's result exactly once; the `analysis IS NULL`
// predicate is what makes the write idempotent across resumes.
func (r *pageRepo) SetAnalysis(ctx context.Context, tx repository.Tx, pageID string, analysis *model.PageAnalysis) error {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	const q = `
UPDATE pages
   SET analysis = $2, analyzed_at = $3
 WHERE id = $1
   AND analysis IS NULL;`

	tag, err := execSQL(ctx, r.pool, tx, q, pageID, raw, time.Now())
	if err != nil {
		return fmt.Errorf("set page analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		row, err := pickRow(ctx, r.pool, tx, `SELECT true FROM pages WHERE id = $1;`, pageID)
		if err != nil {
			return err
		}
		if scanErr := row.Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return domain.ErrReadDatabaseRow
		}
		return domain.ErrAnalysisAlreadySet
	}
	return nil
}

func (r *pageRepo) DeleteByWorkspace(ctx context.Context, tx repository.Tx, workspaceID string) (int, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM pages WHERE workspace_id = $1;`, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("delete workspace pages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pageRepo) ListAnalyzedByWorkspace(ctx context.Context, tx repository.Tx, workspaceID string) ([]*model.Page, error) {
	q := `
SELECT ` + pageColumns + `
  FROM pages
 WHERE workspace_id = $1 AND analysis IS NOT NULL
 ORDER BY document_id, page_number;`
	rows, err := pickRows(ctx, r.pool, tx, q, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list analyzed pages: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

func collectPages(rows pgx.Rows) ([]*model.Page, error) {
	var out []*model.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, page)
	}
	return out, rows.Err()
}

func scanPage(row pgx.Row) (*model.Page, error) {
	var (
		page       model.Page
		raw        []byte
		analyzedAt *time.Time
	)
	err := row.Scan(&page.ID, &page.WorkspaceID, &page.DocumentID, &page.PageNumber,
		&page.ImageKey, &page.Width, &page.Height, &raw, &analyzedAt, &page.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if len(raw) > 0 {
		var analysis model.PageAnalysis
		if err := json.Unmarshal(raw, &analysis); err != nil {
			return nil, fmt.Errorf("unmarshal page analysis: %w", err)
		}
		if analyzedAt != nil {
			analysis.AnalyzedAt = *analyzedAt
		}
		page.Analysis = &analysis
	}
	return &page, nil
}
