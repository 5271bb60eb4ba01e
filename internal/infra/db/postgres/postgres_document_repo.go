package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"document-ai-indexing/internal/domain"
	"document-ai-indexing/internal/domain/model"
	"document-ai-indexing/internal/domain/ports/repository"
)

var _ repository.DocumentRepository = (*documentRepo)(nil)

type documentRepo struct {
	pool *pgxpool.Pool
}

func NewDocumentRepo(pool *pgxpool.Pool) *documentRepo {
	return &documentRepo{pool: pool}
}

const documentColumns = `id, workspace_id, name, status, page_count, content_key, error, created_at, updated_at`

func (r *documentRepo) Save(ctx context.Context, tx repository.Tx, doc *model.Document) error {
	doc.UpdatedAt = time.Now()
	const q = `
INSERT INTO documents (id, workspace_id, name, status, page_count, content_key, error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  name       = EXCLUDED.name,
  status     = EXCLUDED.status,
  page_count = EXCLUDED.page_count,
  error      = EXCLUDED.error,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		doc.ID, doc.WorkspaceID, doc.Name, doc.Status, doc.PageCount, doc.ContentKey, doc.Error, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (r *documentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanDocument(row)
}

func (r *documentRepo) ListByWorkspace(ctx context.Context, tx repository.Tx, workspaceID string, ids []string) ([]*model.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE workspace_id = $1`
	args := []interface{}{workspaceID}
	if len(ids) > 0 {
		q += ` AND id = ANY($2)`
		args = append(args, ids)
	}
	q += ` ORDER BY created_at, id;`

	rows, err := pickRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (r *documentRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.DocumentStatus, pageCount int, docErr string) error {
	const q = `
UPDATE documents
   SET status = $2, page_count = $3, error = $4, updated_at = now()
 WHERE id = $1;`

	tag, err := execSQL(ctx, r.pool, tx, q, id, status, pageCount, docErr)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var doc model.Document
	var statusStr string
	err := row.Scan(&doc.ID, &doc.WorkspaceID, &doc.Name, &statusStr, &doc.PageCount,
		&doc.ContentKey, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	doc.Status = model.DocumentStatus(statusStr)
	return &doc, nil
}
