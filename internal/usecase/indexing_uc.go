// File: internal/usecase/indexing_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"document-ai-indexing/internal/domain"
	"document-ai-indexing/internal/domain/model"
	"document-ai-indexing/internal/domain/ports/adapter"
	"document-ai-indexing/internal/domain/ports/repository"
	"document-ai-indexing/internal/infra/metrics"
)

// Compile-time check
var _ IndexingUseCase = (*indexingUC)(nil)

type IndexingUseCase interface {
	// CreateJob persists a queued job for the workspace and takes the
	// workspace lock. The caller drives it with Run, usually in a goroutine.
	CreateJob(ctx context.Context, workspaceID string, opts CreateJobOptions) (*model.IndexJob, error)
	// Run drives a job to a terminal state. Safe to call again for a job
	// left in-progress by a crash: already-rendered pages are not
	// re-rendered and already-analyzed pages are not re-analyzed.
	Run(ctx context.Context, jobID string) error
	// Abort cancels the workspace's active job. The running orchestrator
	// observes the status change at its next batch boundary.
	Abort(ctx context.Context, workspaceID string) error
	// FailJob marks a job that never started running as failed and frees
	// the workspace lock taken at creation. Callers use it when the work
	// queue refuses the job after CreateJob already persisted it.
	FailJob(ctx context.Context, jobID, message string) error
	// ResumeInterrupted re-invokes Run for every unfinished job: ones left
	// in-progress by a crash, and queued ones whose runner never started.
	// Returns the jobs handed off; it does not wait for them.
	ResumeInterrupted(ctx context.Context, submit func(jobID string)) (int, error)
	FindJob(ctx context.Context, jobID string) (*model.IndexJob, error)
	ActiveJob(ctx context.Context, workspaceID string) (*model.IndexJob, error)
}

// CreateJobOptions carries per-job overrides; zero values fall back to the
// service defaults captured in Settings.
type CreateJobOptions struct {
	DocumentIDs   []string
	Model         string
	DetailLevel   string
	Instructions  string
	RenderDPI     int
	RenderQuality int
}

// Settings are the orchestrator's operating limits.
type Settings struct {
	Concurrency   int           // analysis window per batch
	BatchDelay    time.Duration // spacing between analysis batches
	LockTTL       time.Duration // workspace lock lifetime
	RenderDPI     int
	RenderQuality int
	Model         string
	DetailLevel   string
}

func (s *Settings) normalize() {
	if s.Concurrency <= 0 {
		s.Concurrency = 3
	}
	if s.BatchDelay < 0 {
		s.BatchDelay = 0
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 15 * time.Minute
	}
}

type lockHandle struct {
	key   string
	token string
}

type indexingUC struct {
	jobs     repository.IndexJobRepository
	docs     repository.DocumentRepository
	pages    repository.PageRepository
	blobs    adapter.BlobStore
	renderer adapter.PageRenderer
	analyzer adapter.PageAnalyzer
	events   adapter.EventPublisher
	locker   adapter.WorkspaceLocker
	tm       repository.TransactionManager
	settings Settings
	log      *zerolog.Logger

	mu    sync.Mutex
	locks map[string]lockHandle // workspaceID -> held lock
}

func NewIndexingUseCase(
	jobs repository.IndexJobRepository,
	docs repository.DocumentRepository,
	pages repository.PageRepository,
	blobs adapter.BlobStore,
	renderer adapter.PageRenderer,
	analyzer adapter.PageAnalyzer,
	events adapter.EventPublisher,
	locker adapter.WorkspaceLocker,
	tm repository.TransactionManager,
	settings Settings,
	logger *zerolog.Logger,
) *indexingUC {
	settings.normalize()
	ucLog := logger.With().Str("component", "IndexingUC").Logger()
	return &indexingUC{
		jobs:     jobs,
		docs:     docs,
		pages:    pages,
		blobs:    blobs,
		renderer: renderer,
		analyzer: analyzer,
		events:   events,
		locker:   locker,
		tm:       tm,
		settings: settings,
		log:      &ucLog,
		locks:    make(map[string]lockHandle),
	}
}

func lockKeyFor(workspaceID string) string { return "index_lock:" + workspaceID }

// CreateJob takes the workspace lock first and only then checks for an
// active job, so two concurrent creation requests cannot both pass the
// query predicate.
func (u *indexingUC) CreateJob(ctx context.Context, workspaceID string, opts CreateJobOptions) (*model.IndexJob, error) {
	if workspaceID == "" {
		return nil, domain.ErrInvalidArgument
	}

	token, err := u.locker.TryLock(ctx, lockKeyFor(workspaceID), u.settings.LockTTL)
	if err != nil {
		return nil, err
	}
	release := func() { _ = u.locker.Unlock(ctx, lockKeyFor(workspaceID), token) }

	if _, err := u.jobs.FindActiveByWorkspace(ctx, nil, workspaceID); err == nil {
		release()
		return nil, domain.ErrJobAlreadyRunning
	} else if !errors.Is(err, domain.ErrNotFound) {
		release()
		return nil, err
	}

	cfg := model.JobConfig{
		RenderDPI:     pickInt(opts.RenderDPI, u.settings.RenderDPI),
		RenderQuality: pickInt(opts.RenderQuality, u.settings.RenderQuality),
		Model:         pickString(opts.Model, u.settings.Model),
		DetailLevel:   pickString(opts.DetailLevel, u.settings.DetailLevel),
		DocumentIDs:   opts.DocumentIDs,
		Instructions:  opts.Instructions,
	}
	job, err := model.NewIndexJob(workspaceID, cfg)
	if err != nil {
		release()
		return nil, err
	}
	if err := u.jobs.Save(ctx, nil, job); err != nil {
		release()
		return nil, err
	}

	u.mu.Lock()
	u.locks[workspaceID] = lockHandle{key: lockKeyFor(workspaceID), token: token}
	u.mu.Unlock()

	u.log.Info().Str("job_id", job.ID).Str("workspace_id", workspaceID).Msg("indexing job created")
	return job, nil
}

func (u *indexingUC) FindJob(ctx context.Context, jobID string) (*model.IndexJob, error) {
	return u.jobs.FindByID(ctx, nil, jobID)
}

func (u *indexingUC) ActiveJob(ctx context.Context, workspaceID string) (*model.IndexJob, error) {
	return u.jobs.FindActiveByWorkspace(ctx, nil, workspaceID)
}

// Abort flips the active job to cancelled and publishes the notice. It
// does not stop in-flight work directly; the orchestrator notices the
// status change at its next batch boundary, so cancellation latency is
// bounded by one batch's duration.
func (u *indexingUC) Abort(ctx context.Context, workspaceID string) error {
	job, err := u.jobs.FindActiveByWorkspace(ctx, nil, workspaceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrJobNotActive
		}
		return err
	}
	if err := u.jobs.UpdateStatus(ctx, nil, job.ID, model.IndexJobStatusCancelled, ""); err != nil {
		return err
	}
	_ = u.events.PublishCancelled(ctx, workspaceID, job.ID)
	metrics.IncJobFinished(string(model.IndexJobStatusCancelled))
	u.log.Info().Str("job_id", job.ID).Str("workspace_id", workspaceID).Msg("indexing job cancelled")
	return nil
}

// FailJob is the cleanup path for a job the pool refused: CreateJob
// already persisted it and took the workspace lock, so without this the
// workspace would stay blocked until the recovery sweep picks it up.
func (u *indexingUC) FailJob(ctx context.Context, jobID, message string) error {
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if err := u.jobs.UpdateStatus(ctx, nil, job.ID, model.IndexJobStatusFailed, message); err != nil {
		if !errors.Is(err, domain.ErrTerminalStatus) {
			return err
		}
	} else {
		_ = u.events.PublishError(ctx, job.WorkspaceID, job.ID, message)
		metrics.IncJobFinished(string(model.IndexJobStatusFailed))
		u.log.Warn().Str("job_id", job.ID).Str("reason", message).Msg("job failed before it started")
	}
	u.releaseHeldLock(job.WorkspaceID)
	return nil
}

// ResumeInterrupted hands every unfinished job to submit. Jobs whose
// workspace lock is still held elsewhere are skipped; the periodic rescan
// picks them up once the stale lock expires.
func (u *indexingUC) ResumeInterrupted(ctx context.Context, submit func(jobID string)) (int, error) {
	jobs, err := u.jobs.FindUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		u.mu.Lock()
		_, held := u.locks[job.WorkspaceID]
		u.mu.Unlock()
		if held {
			continue // already running in this process
		}
		metrics.IncJobResumed()
		u.log.Info().Str("job_id", job.ID).Str("workspace_id", job.WorkspaceID).Msg("resuming interrupted indexing job")
		submit(job.ID)
		n++
	}
	return n, nil
}

// Run drives one job to a terminal state. Fresh starts destroy every page
// in the workspace before any work; resumes keep counters and skip pages
// that are already rendered or analyzed.
func (u *indexingUC) Run(ctx context.Context, jobID string) error {
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		// Cancelled between CreateJob and the pool picking this up: the
		// lock taken at creation would otherwise linger until TTL.
		u.releaseHeldLock(job.WorkspaceID)
		return nil
	}

	release, err := u.acquireRunLock(ctx, job.WorkspaceID)
	if err != nil {
		return err
	}
	defer release()

	err = u.runLocked(ctx, job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrJobCancelled):
		// Abort already set the terminal status and published the notice.
		return nil
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		// Process shutdown, not a job fault. The job stays in-progress so
		// the recovery sweep re-invokes it after restart.
		u.log.Warn().Str("job_id", job.ID).Msg("indexing run interrupted, job left for recovery")
		return err
	default:
		// Job-level failure: page- and document-level errors never reach
		// here, only a broken outer loop does.
		if stErr := u.jobs.UpdateStatus(ctx, nil, job.ID, model.IndexJobStatusFailed, err.Error()); stErr != nil && !errors.Is(stErr, domain.ErrTerminalStatus) {
			u.log.Error().Err(stErr).Str("job_id", job.ID).Msg("failed to mark job failed")
		}
		_ = u.events.PublishError(ctx, job.WorkspaceID, job.ID, err.Error())
		metrics.IncJobFinished(string(model.IndexJobStatusFailed))
		u.log.Error().Err(err).Str("job_id", job.ID).Msg("indexing job failed")
		return err
	}
}

func (u *indexingUC) releaseHeldLock(workspaceID string) {
	u.mu.Lock()
	h, held := u.locks[workspaceID]
	if held {
		delete(u.locks, workspaceID)
	}
	u.mu.Unlock()
	if held {
		_ = u.locker.Unlock(context.Background(), h.key, h.token)
	}
}

func (u *indexingUC) acquireRunLock(ctx context.Context, workspaceID string) (func(), error) {
	u.mu.Lock()
	h, held := u.locks[workspaceID]
	u.mu.Unlock()
	if !held {
		token, err := u.locker.TryLock(ctx, lockKeyFor(workspaceID), u.settings.LockTTL)
		if err != nil {
			return nil, err
		}
		h = lockHandle{key: lockKeyFor(workspaceID), token: token}
		u.mu.Lock()
		u.locks[workspaceID] = h
		u.mu.Unlock()
	}

	// Keep the lock alive for long jobs; only a dead holder lets it expire.
	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(u.settings.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				_ = u.locker.Refresh(refreshCtx, h.key, h.token, u.settings.LockTTL)
			}
		}
	}()

	return func() {
		stopRefresh()
		_ = u.locker.Unlock(context.Background(), h.key, h.token)
		u.mu.Lock()
		delete(u.locks, workspaceID)
		u.mu.Unlock()
	}, nil
}

// runState mirrors the durable counters for event emission, so progress
// notices never have to re-read the job record on every analyzed page.
type runState struct {
	job            *model.IndexJob
	totalDocs      atomic.Int64
	processedDocs  atomic.Int64
	totalPages     atomic.Int64
	processedPages atomic.Int64
	analyzedPages  atomic.Int64
	costMicros     atomic.Int64
	cancelled      atomic.Bool
}

func newRunState(job *model.IndexJob) *runState {
	st := &runState{job: job}
	st.totalDocs.Store(int64(job.Progress.TotalDocuments))
	st.processedDocs.Store(int64(job.Progress.ProcessedDocuments))
	st.totalPages.Store(int64(job.Progress.TotalPages))
	st.processedPages.Store(int64(job.Progress.ProcessedPages))
	st.analyzedPages.Store(int64(job.Progress.AnalyzedPages))
	st.costMicros.Store(job.Cost.TotalCostMicros)
	return st
}

func (st *runState) notice(message string) adapter.ProgressNotice {
	n := adapter.ProgressNotice{
		JobID:              st.job.ID,
		TotalDocuments:     int(st.totalDocs.Load()),
		ProcessedDocuments: int(st.processedDocs.Load()),
		TotalPages:         int(st.totalPages.Load()),
		ProcessedPages:     int(st.processedPages.Load()),
		AnalyzedPages:      int(st.analyzedPages.Load()),
		Message:            message,
	}
	// ETA is undefined until something has been analyzed; recomputed
	// fresh on every emission, unsmoothed.
	analyzed := st.analyzedPages.Load()
	if analyzed > 0 {
		remaining := st.totalPages.Load() - analyzed
		if remaining < 0 {
			remaining = 0
		}
		perPage := time.Since(st.job.StartedAt).Seconds() / float64(analyzed)
		eta := int(perPage * float64(remaining))
		n.ETASeconds = &eta
	}
	return n
}

func (u *indexingUC) runLocked(ctx context.Context, job *model.IndexJob) error {
	fresh := job.Status == model.IndexJobStatusQueued

	if fresh {
		// Destructive reset: a fresh run must never mix with stale pages
		// from an aborted prior run. One transaction, so a crash in the
		// middle cannot leave zeroed counters next to surviving pages.
		var removed int
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			var err error
			removed, err = u.pages.DeleteByWorkspace(ctx, tx, job.WorkspaceID)
			if err != nil {
				return fmt.Errorf("fresh-start page reset: %w", err)
			}
			if err := u.jobs.ResetProgress(ctx, tx, job.ID); err != nil {
				return fmt.Errorf("fresh-start counter reset: %w", err)
			}
			return u.jobs.UpdateStatus(ctx, tx, job.ID, model.IndexJobStatusInProgress, "")
		})
		if err != nil {
			if errors.Is(err, domain.ErrTerminalStatus) {
				return domain.ErrJobCancelled
			}
			return err
		}
		if removed > 0 {
			u.log.Info().Str("job_id", job.ID).Int("removed_pages", removed).Msg("fresh start removed stale pages")
		}
		job.Progress = model.JobProgress{}
		job.Status = model.IndexJobStatusInProgress
	} else {
		u.log.Info().Str("job_id", job.ID).
			Int("analyzed_pages", job.Progress.AnalyzedPages).
			Int("processed_documents", job.Progress.ProcessedDocuments).
			Msg("resuming job with existing progress")
	}

	// The document set is resolved on this invocation only; documents
	// added or removed between crash and resume are not reconciled.
	documents, err := u.docs.ListByWorkspace(ctx, nil, job.WorkspaceID, job.Config.DocumentIDs)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if len(documents) == 0 {
		return domain.ErrNoDocuments
	}

	st := newRunState(job)
	if delta := len(documents) - int(st.totalDocs.Load()); delta > 0 {
		if err := u.jobs.IncrementProgress(ctx, nil, job.ID, repository.ProgressDelta{TotalDocuments: delta}); err != nil {
			return err
		}
		st.totalDocs.Add(int64(delta))
	}

	for _, doc := range documents {
		cancelled, err := u.checkCancelled(ctx, job.ID, st)
		if err != nil {
			return err
		}
		if cancelled {
			return domain.ErrJobCancelled
		}

		if err := u.processDocument(ctx, job, doc, st, fresh); err != nil {
			if errors.Is(err, domain.ErrJobCancelled) {
				return err
			}
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				// An interrupted run is not a document failure: leave the
				// document and the job exactly as they are for the resume.
				return err
			}
			// Document-level failure is absorbed; the job carries on.
			u.log.Warn().Err(err).Str("job_id", job.ID).Str("document_id", doc.ID).Msg("document failed during indexing")
			if upErr := u.docs.UpdateStatus(ctx, nil, doc.ID, model.DocumentStatusFailed, doc.PageCount, err.Error()); upErr != nil {
				u.log.Error().Err(upErr).Str("document_id", doc.ID).Msg("failed to mark document failed")
			}
			metrics.IncDocumentProcessed(string(model.DocumentStatusFailed))
		}

		if err := u.jobs.IncrementProgress(ctx, nil, job.ID, repository.ProgressDelta{ProcessedDocuments: 1}); err != nil {
			return err
		}
		st.processedDocs.Add(1)
		_ = u.events.PublishProgress(ctx, job.WorkspaceID, st.notice(fmt.Sprintf("Processed %s", doc.Name)))
	}

	if err := u.jobs.UpdateStatus(ctx, nil, job.ID, model.IndexJobStatusComplete, ""); err != nil {
		if errors.Is(err, domain.ErrTerminalStatus) {
			// Cancelled in the final stretch; cancelled wins.
			return domain.ErrJobCancelled
		}
		return err
	}

	final, err := u.jobs.FindByID(ctx, nil, job.ID)
	if err != nil {
		final = job
	}
	_ = u.events.PublishCompleted(ctx, job.WorkspaceID, adapter.CompletionNotice{
		JobID:           job.ID,
		TotalDocuments:  final.Progress.TotalDocuments,
		TotalPages:      final.Progress.TotalPages,
		AnalyzedPages:   final.Progress.AnalyzedPages,
		TotalCostMicros: final.Cost.TotalCostMicros,
	})
	metrics.IncJobFinished(string(model.IndexJobStatusComplete))
	u.log.Info().Str("job_id", job.ID).
		Int("documents", final.Progress.TotalDocuments).
		Int("pages", final.Progress.TotalPages).
		Int64("cost_micros", final.Cost.TotalCostMicros).
		Msg("indexing job complete")
	return nil
}

// processDocument runs the render-then-analyze steps for one document.
// Any error it returns (other than cancellation) is a document-level
// failure the caller absorbs.
func (u *indexingUC) processDocument(ctx context.Context, job *model.IndexJob, doc *model.Document, st *runState, fresh bool) error {
	if err := u.docs.UpdateStatus(ctx, nil, doc.ID, model.DocumentStatusProcessing, doc.PageCount, ""); err != nil {
		return err
	}

	pages, err := u.pages.ListByDocument(ctx, nil, doc.ID)
	if err != nil {
		return err
	}

	// Render only when fresh or when nothing has been rendered yet; a
	// resume never redoes render work it already paid for.
	if fresh || len(pages) == 0 {
		if err := u.renderDocument(ctx, job, doc, st); err != nil {
			return fmt.Errorf("render: %w", err)
		}
		pages, err = u.pages.ListByDocument(ctx, nil, doc.ID)
		if err != nil {
			return err
		}
	}

	var pending []*model.Page
	for _, p := range pages {
		if !p.Analyzed() {
			pending = append(pending, p)
		}
	}
	if already := len(pages) - len(pending); already > 0 {
		u.log.Debug().Str("document_id", doc.ID).Int("already_analyzed", already).Msg("skipping analyzed pages")
	}

	if err := u.analyzePages(ctx, job, doc, pending, st); err != nil {
		return err
	}

	if err := u.docs.UpdateStatus(ctx, nil, doc.ID, model.DocumentStatusReady, len(pages), ""); err != nil {
		return err
	}
	metrics.IncDocumentProcessed(string(model.DocumentStatusReady))
	return nil
}

func (u *indexingUC) renderDocument(ctx context.Context, job *model.IndexJob, doc *model.Document, st *runState) error {
	content, err := u.blobs.Get(ctx, doc.ContentKey)
	if err != nil {
		return fmt.Errorf("fetch document content: %w", err)
	}

	opts := adapter.RenderOptions{DPI: job.Config.RenderDPI, Quality: job.Config.RenderQuality}
	return u.renderer.Render(ctx, content, opts, func(page adapter.RenderedPage, index, total int) error {
		if index == 0 {
			// The true page count is unknown until the renderer opens the
			// document; count it exactly once, on the first page.
			if err := u.jobs.IncrementProgress(ctx, nil, job.ID, repository.ProgressDelta{TotalPages: total}); err != nil {
				return err
			}
			st.totalPages.Add(int64(total))
			_ = u.events.PublishProgress(ctx, job.WorkspaceID, st.notice(fmt.Sprintf("Rendering %s (%d pages)", doc.Name, total)))
		}

		imageKey := fmt.Sprintf("%s/%s/page-%05d.pdf", job.WorkspaceID, doc.ID, page.PageNumber)
		if err := u.blobs.Put(ctx, imageKey, page.Image, page.MIMEType); err != nil {
			return fmt.Errorf("store page image: %w", err)
		}
		rec, err := model.NewPage(job.WorkspaceID, doc.ID, page.PageNumber, imageKey, page.Width, page.Height)
		if err != nil {
			return err
		}
		// One write per page: a crash mid-render keeps everything rendered
		// so far.
		if err := u.pages.Save(ctx, nil, rec); err != nil {
			return err
		}
		metrics.IncPageRendered()
		return nil
	})
}

// analyzePages submits unanalyzed pages in fixed-size batches. The job
// status is re-read before every batch; a cancelled read stops the run
// without touching the terminal status the abort already set.
func (u *indexingUC) analyzePages(ctx context.Context, job *model.IndexJob, doc *model.Document, pending []*model.Page, st *runState) error {
	window := u.settings.Concurrency
	for start := 0; start < len(pending); start += window {
		cancelled, err := u.checkCancelled(ctx, job.ID, st)
		if err != nil {
			return err
		}
		if cancelled {
			return domain.ErrJobCancelled
		}

		end := start + window
		if end > len(pending) {
			end = len(pending)
		}

		var g errgroup.Group
		for _, page := range pending[start:end] {
			page := page
			g.Go(func() error {
				if st.cancelled.Load() {
					return nil
				}
				u.analyzeOne(ctx, job, doc, page, st)
				return nil
			})
		}
		_ = g.Wait()

		if end < len(pending) && u.settings.BatchDelay > 0 {
			select {
			case <-time.After(u.settings.BatchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// analyzeOne analyzes a single page. Every failure here is page-level:
// logged, counted, and left for a future resume to retry.
func (u *indexingUC) analyzeOne(ctx context.Context, job *model.IndexJob, doc *model.Document, page *model.Page, st *runState) {
	image, err := u.blobs.Get(ctx, page.ImageKey)
	if err != nil {
		u.log.Warn().Err(err).Str("page_id", page.ID).Int("page", page.PageNumber).Msg("page image fetch failed")
		metrics.IncPageAnalysisFailure("image_fetch")
		u.recordAttempt(ctx, job, st)
		return
	}

	result, err := u.analyzer.Analyze(ctx, adapter.AnalyzeRequest{
		Image:        image,
		MIMEType:     "application/pdf",
		PageNumber:   page.PageNumber,
		DocumentName: doc.Name,
		Model:        job.Config.Model,
		DetailLevel:  job.Config.DetailLevel,
		Instructions: job.Config.Instructions,
	})
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, domain.ErrMalformedAnalysis), errors.Is(err, domain.ErrEmptyModelResponse):
			reason = "malformed"
		}
		u.log.Warn().Err(err).Str("page_id", page.ID).Int("page", page.PageNumber).Str("document_id", doc.ID).Msg("page analysis failed")
		metrics.IncPageAnalysisFailure(reason)
		if ctx.Err() == nil {
			// An interrupted call is retried by the resume, so it is not
			// an attempt the counters should account for.
			u.recordAttempt(ctx, job, st)
		}
		return
	}

	analysis := &model.PageAnalysis{
		Payload:      result.Payload,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		CostMicros:   result.CostMicros,
		AnalyzedAt:   time.Now(),
	}
	if err := u.pages.SetAnalysis(ctx, nil, page.ID, analysis); err != nil {
		if errors.Is(err, domain.ErrAnalysisAlreadySet) {
			return
		}
		u.log.Error().Err(err).Str("page_id", page.ID).Msg("persisting page analysis failed")
		return
	}

	// Counters and the persisted analysis move in the same step, so the
	// two can never diverge by more than the page in flight.
	if err := u.jobs.IncrementProgress(ctx, nil, job.ID, repository.ProgressDelta{ProcessedPages: 1, AnalyzedPages: 1}); err != nil {
		u.log.Error().Err(err).Str("job_id", job.ID).Msg("progress increment failed")
	}
	if err := u.jobs.AddCost(ctx, nil, job.ID, repository.CostDelta{
		InputTokens:     result.InputTokens,
		OutputTokens:    result.OutputTokens,
		TotalCostMicros: result.CostMicros,
	}); err != nil {
		u.log.Error().Err(err).Str("job_id", job.ID).Msg("cost increment failed")
	}
	st.processedPages.Add(1)
	st.analyzedPages.Add(1)
	st.costMicros.Add(result.CostMicros)
	metrics.IncPageAnalyzed()

	_ = u.events.PublishProgress(ctx, job.WorkspaceID, st.notice(fmt.Sprintf("Analyzed page %d of %s", page.PageNumber, doc.Name)))
}

// recordAttempt advances ProcessedPages for a page whose analysis was
// attempted but did not produce a result, so ProcessedPages reads "pages
// accounted for" while AnalyzedPages counts only successes.
func (u *indexingUC) recordAttempt(ctx context.Context, job *model.IndexJob, st *runState) {
	if err := u.jobs.IncrementProgress(ctx, nil, job.ID, repository.ProgressDelta{ProcessedPages: 1}); err != nil {
		u.log.Error().Err(err).Str("job_id", job.ID).Msg("progress increment failed")
		return
	}
	st.processedPages.Add(1)
}

// checkCancelled re-reads the durable job status, the single source of
// truth for cancellation.
func (u *indexingUC) checkCancelled(ctx context.Context, jobID string, st *runState) (bool, error) {
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return false, err
	}
	if job.Status == model.IndexJobStatusCancelled {
		st.cancelled.Store(true)
		return true, nil
	}
	return false, nil
}

func pickInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func pickString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
