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

var _ repository.IndexJobRepository = (*indexJobRepo)(nil)

type indexJobRepo struct {
	pool *pgxpool.Pool
}

func NewIndexJobRepo(pool *pgxpool.Pool) *indexJobRepo {
	return &indexJobRepo{pool: pool}
}

const jobColumns = `
id, workspace_id, status,
total_documents, processed_documents, total_pages, processed_pages, analyzed_pages,
input_tokens, output_tokens, total_cost_micros,
config, started_at, created_at, updated_at, completed_at, error`

func (r *indexJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.IndexJob) error {
	job.UpdatedAt = time.Now()
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}

	const q = `
INSERT INTO index_jobs (
  id, workspace_id, status,
  total_documents, processed_documents, total_pages, processed_pages, analyzed_pages,
  input_tokens, output_tokens, total_cost_micros,
  config, started_at, created_at, updated_at, completed_at, error)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id) DO UPDATE SET
  status     = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at,
  error      = EXCLUDED.error;`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.WorkspaceID, job.Status,
		job.Progress.TotalDocuments, job.Progress.ProcessedDocuments,
		job.Progress.TotalPages, job.Progress.ProcessedPages, job.Progress.AnalyzedPages,
		job.Cost.InputTokens, job.Cost.OutputTokens, job.Cost.TotalCostMicros,
		cfg, job.StartedAt, job.CreatedAt, job.UpdatedAt, job.CompletedAt, job.Error,
	)
	if err != nil {
		return fmt.Errorf("save index job: %w", err)
	}
	return nil
}

func (r *indexJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.IndexJob, error) {
	q := `SELECT ` + jobColumns + ` FROM index_jobs WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *indexJobRepo) FindActiveByWorkspace(ctx context.Context, tx repository.Tx, workspaceID string) (*model.IndexJob, error) {
	q := `
SELECT ` + jobColumns + `
  FROM index_jobs
 WHERE workspace_id = $1 AND status IN ('queued', 'in-progress')
 ORDER BY created_at DESC
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *indexJobRepo) FindUnfinished(ctx context.Context) ([]*model.IndexJob, error) {
	q := `SELECT ` + jobColumns + ` FROM index_jobs WHERE status IN ('queued', 'in-progress') ORDER BY created_at;`
	rows, err := pickRows(ctx, r.pool, nil, q)
	if err != nil {
		return nil, fmt.Errorf("find unfinished jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.IndexJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// UpdateStatus refuses to overwrite a terminal status, so a cancelled job
// stays cancelled even when the orchestrator tries to finish it.
func (r *indexJobRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.IndexJobStatus, jobErr string) error {
	const q = `
UPDATE index_jobs
   SET status = $2,
       error = $3,
       updated_at = now(),
       completed_at = CASE WHEN $2 IN ('complete','failed','cancelled') THEN now() ELSE completed_at END
 WHERE id = $1
   AND status NOT IN ('complete','failed','cancelled');`

	tag, err := execSQL(ctx, r.pool, tx, q, id, status, jobErr)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, tx, id); err != nil {
			return err
		}
		return domain.ErrTerminalStatus
	}
	return nil
}

func (r *indexJobRepo) IncrementProgress(ctx context.Context, tx repository.Tx, id string, d repository.ProgressDelta) error {
	const q = `
UPDATE index_jobs
   SET total_documents     = total_documents + $2,
       processed_documents = processed_documents + $3,
       total_pages         = total_pages + $4,
       processed_pages     = processed_pages + $5,
       analyzed_pages      = analyzed_pages + $6,
       updated_at          = now()
 WHERE id = $1;`

	tag, err := execSQL(ctx, r.pool, tx, q, id,
		d.TotalDocuments, d.ProcessedDocuments, d.TotalPages, d.ProcessedPages, d.AnalyzedPages)
	if err != nil {
		return fmt.Errorf("increment job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *indexJobRepo) AddCost(ctx context.Context, tx repository.Tx, id string, d repository.CostDelta) error {
	const q = `
UPDATE index_jobs
   SET input_tokens      = input_tokens + $2,
       output_tokens     = output_tokens + $3,
       total_cost_micros = total_cost_micros + $4,
       updated_at        = now()
 WHERE id = $1;`

	tag, err := execSQL(ctx, r.pool, tx, q, id, d.InputTokens, d.OutputTokens, d.TotalCostMicros)
	if err != nil {
		return fmt.Errorf("add job cost: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *indexJobRepo) ResetProgress(ctx context.Context, tx repository.Tx, id string) error {
	const q = `
UPDATE index_jobs
   SET total_documents = 0, processed_documents = 0,
       total_pages = 0, processed_pages = 0, analyzed_pages = 0,
       input_tokens = 0, output_tokens = 0, total_cost_micros = 0,
       updated_at = now()
 WHERE id = $1;`

	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return fmt.Errorf("reset job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*model.IndexJob, error) {
	var (
		job       model.IndexJob
		statusStr string
		cfgRaw    []byte
	)
	err := row.Scan(
		&job.ID, &job.WorkspaceID, &statusStr,
		&job.Progress.TotalDocuments, &job.Progress.ProcessedDocuments,
		&job.Progress.TotalPages, &job.Progress.ProcessedPages, &job.Progress.AnalyzedPages,
		&job.Cost.InputTokens, &job.Cost.OutputTokens, &job.Cost.TotalCostMicros,
		&cfgRaw, &job.StartedAt, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt, &job.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	job.Status = model.IndexJobStatus(statusStr)
	if len(cfgRaw) > 0 {
		if err := json.Unmarshal(cfgRaw, &job.Config); err != nil {
			return nil, fmt.Errorf("unmarshal job config: %w", err)
		}
	}
	return &job, nil
}
