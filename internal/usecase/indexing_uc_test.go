// File: internal/usecase/indexing_uc_test.go
package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"document-ai-indexing/internal/domain"
	"document-ai-indexing/internal/domain/model"
	"document-ai-indexing/internal/domain/ports/adapter"
	"document-ai-indexing/internal/domain/ports/repository"
)

type ucFixture struct {
	jobs     *memJobRepo
	docs     *memDocRepo
	pages    *memPageRepo
	blobs    *memBlobStore
	renderer *fakeRenderer
	analyzer *fakeAnalyzer
	events   *memEvents
	locker   *memLocker
	tm       *memTxManager
	uc       *indexingUC
}

func newUCFixture(t *testing.T, pageCount int) *ucFixture {
	t.Helper()
	f := &ucFixture{
		jobs:     newMemJobRepo(),
		docs:     newMemDocRepo(),
		pages:    newMemPageRepo(),
		blobs:    newMemBlobStore(),
		renderer: &fakeRenderer{pageCount: pageCount},
		analyzer: newFakeAnalyzer(),
		events:   newMemEvents(),
		locker:   newMemLocker(),
		tm:       &memTxManager{},
	}
	f.uc = NewIndexingUseCase(
		f.jobs, f.docs, f.pages, f.blobs,
		f.renderer, f.analyzer, f.events, f.locker, f.tm,
		Settings{Concurrency: 2, BatchDelay: 0, LockTTL: time.Minute, Model: "gpt-4o-mini", DetailLevel: "high", RenderDPI: 150, RenderQuality: 85},
		newTestLogger(),
	)
	return f
}

// seedDocument stores a document record and its source content blob.
func (f *ucFixture) seedDocument(t *testing.T, workspaceID, name string) *model.Document {
	t.Helper()
	doc, err := model.NewDocument(workspaceID, name, "sources/"+name)
	if err != nil {
		t.Fatalf("NewDocument: %v", err)
	}
	if err := f.docs.Save(context.Background(), nil, doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	if err := f.blobs.Put(context.Background(), doc.ContentKey, []byte("%PDF-1.7 fake"), "application/pdf"); err != nil {
		t.Fatalf("put content: %v", err)
	}
	return doc
}

func TestIndexingUC_CreateJob(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a queued job and holds the workspace lock", func(t *testing.T) {
		f := newUCFixture(t, 2)
		job, err := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})
		if err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if job.Status != model.IndexJobStatusQueued {
			t.Fatalf("status = %s, want queued", job.Status)
		}
		if job.Config.Model != "gpt-4o-mini" || job.Config.RenderDPI != 150 {
			t.Fatalf("defaults not applied: %+v", job.Config)
		}
		if _, held := f.locker.held[lockKeyFor("ws-1")]; !held {
			t.Fatal("workspace lock not held after CreateJob")
		}
	})

	t.Run("rejects a second job for the same workspace", func(t *testing.T) {
		f := newUCFixture(t, 2)
		if _, err := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{}); err != nil {
			t.Fatalf("first CreateJob: %v", err)
		}
		if _, err := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{}); !errors.Is(err, domain.ErrJobAlreadyRunning) {
			t.Fatalf("err = %v, want ErrJobAlreadyRunning", err)
		}
	})

	t.Run("overrides replace defaults", func(t *testing.T) {
		f := newUCFixture(t, 2)
		job, err := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{Model: "gemini-2.0-flash", RenderDPI: 300})
		if err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if job.Config.Model != "gemini-2.0-flash" || job.Config.RenderDPI != 300 {
			t.Fatalf("overrides not applied: %+v", job.Config)
		}
	})
}

func TestIndexingUC_Run_FreshStart(t *testing.T) {
	ctx := context.Background()

	t.Run("renders and analyzes every page of every document", func(t *testing.T) {
		f := newUCFixture(t, 3)
		f.seedDocument(t, "ws-1", "alpha.pdf")
		f.seedDocument(t, "ws-1", "beta.pdf")

		job, err := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})
		if err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run: %v", err)
		}

		got, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if got.Status != model.IndexJobStatusComplete {
			t.Fatalf("status = %s, want complete", got.Status)
		}
		want := model.JobProgress{TotalDocuments: 2, ProcessedDocuments: 2, TotalPages: 6, ProcessedPages: 6, AnalyzedPages: 6}
		if got.Progress != want {
			t.Fatalf("progress = %+v, want %+v", got.Progress, want)
		}
		if got.Cost.InputTokens != 600 || got.Cost.OutputTokens != 300 || got.Cost.TotalCostMicros != 1500 {
			t.Fatalf("cost = %+v", got.Cost)
		}
		if f.analyzer.callCount() != 6 {
			t.Fatalf("analyzer calls = %d, want 6", f.analyzer.callCount())
		}
		if len(f.events.completed) != 1 {
			t.Fatalf("completed events = %d, want 1", len(f.events.completed))
		}
		if _, held := f.locker.held[lockKeyFor("ws-1")]; held {
			t.Fatal("workspace lock still held after Run")
		}
		if f.tm.callCount() != 1 {
			t.Fatalf("fresh-start reset ran %d transactions, want exactly 1", f.tm.callCount())
		}

		docs, _ := f.docs.ListByWorkspace(ctx, nil, "ws-1", nil)
		for _, d := range docs {
			if d.Status != model.DocumentStatusReady || d.PageCount != 3 {
				t.Fatalf("document %s = %s/%d, want ready/3", d.Name, d.Status, d.PageCount)
			}
		}
	})

	t.Run("deletes all stale pages before any work", func(t *testing.T) {
		f := newUCFixture(t, 2)
		doc := f.seedDocument(t, "ws-1", "alpha.pdf")

		// Leftovers from a run aborted before this one.
		stale, _ := model.NewPage("ws-1", doc.ID, 1, "ws-1/"+doc.ID+"/page-00001.pdf", 612, 792)
		stale.Analysis = &model.PageAnalysis{Payload: []byte(`{}`)}
		if err := f.pages.Save(ctx, nil, stale); err != nil {
			t.Fatalf("seed stale page: %v", err)
		}

		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})
		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run: %v", err)
		}

		pages, _ := f.pages.ListByDocument(ctx, nil, doc.ID)
		if len(pages) != 2 {
			t.Fatalf("pages = %d, want 2 freshly rendered", len(pages))
		}
		for _, p := range pages {
			if p.ID == stale.ID {
				t.Fatal("stale page survived fresh start")
			}
		}
		got, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if got.Progress.TotalPages != 2 || got.Progress.AnalyzedPages != 2 {
			t.Fatalf("progress = %+v, counters not rebuilt from zero", got.Progress)
		}
	})

	t.Run("fails the job when the workspace has no documents", func(t *testing.T) {
		f := newUCFixture(t, 2)
		job, _ := f.uc.CreateJob(ctx, "ws-empty", CreateJobOptions{})

		err := f.uc.Run(ctx, job.ID)
		if !errors.Is(err, domain.ErrNoDocuments) {
			t.Fatalf("err = %v, want ErrNoDocuments", err)
		}
		got, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if got.Status != model.IndexJobStatusFailed {
			t.Fatalf("status = %s, want failed", got.Status)
		}
		if len(f.events.errors) != 1 {
			t.Fatalf("error events = %d, want 1", len(f.events.errors))
		}
	})

	t.Run("restricts the run to the configured document ids", func(t *testing.T) {
		f := newUCFixture(t, 2)
		target := f.seedDocument(t, "ws-1", "alpha.pdf")
		f.seedDocument(t, "ws-1", "beta.pdf")

		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{DocumentIDs: []string{target.ID}})
		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run: %v", err)
		}

		got, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if got.Progress.TotalDocuments != 1 || got.Progress.TotalPages != 2 {
			t.Fatalf("progress = %+v, want a single 2-page document", got.Progress)
		}
	})
}

func TestIndexingUC_Run_PartialFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("a failing document does not fail the job", func(t *testing.T) {
		f := newUCFixture(t, 2)
		f.seedDocument(t, "ws-1", "alpha.pdf")
		broken := f.seedDocument(t, "ws-1", "broken.pdf")
		f.seedDocument(t, "ws-1", "gamma.pdf")

		// The broken document's content is unreadable; its render fails.
		f.blobs.getErr[broken.ContentKey] = domain.ErrNotFound

		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})
		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run: %v", err)
		}

		got, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if got.Status != model.IndexJobStatusComplete {
			t.Fatalf("status = %s, want complete", got.Status)
		}
		if got.Progress.ProcessedDocuments != 3 || got.Progress.TotalPages != 4 {
			t.Fatalf("progress = %+v", got.Progress)
		}

		bd, _ := f.docs.FindByID(ctx, nil, broken.ID)
		if bd.Status != model.DocumentStatusFailed || bd.Error == "" {
			t.Fatalf("broken document = %s/%q, want failed with an error", bd.Status, bd.Error)
		}
		docs, _ := f.docs.ListByWorkspace(ctx, nil, "ws-1", nil)
		for _, d := range docs {
			if d.ID != broken.ID && d.Status != model.DocumentStatusReady {
				t.Fatalf("document %s = %s, want ready", d.Name, d.Status)
			}
		}
	})

	t.Run("a failing page is skipped and left unanalyzed", func(t *testing.T) {
		f := newUCFixture(t, 3)
		doc := f.seedDocument(t, "ws-1", "alpha.pdf")
		f.analyzer.failOnce[2] = true

		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})
		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run: %v", err)
		}

		got, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if got.Status != model.IndexJobStatusComplete {
			t.Fatalf("status = %s, want complete", got.Status)
		}
		if got.Progress.AnalyzedPages != 2 || got.Progress.TotalPages != 3 {
			t.Fatalf("progress = %+v, want 2 of 3 analyzed", got.Progress)
		}
		if got.Progress.ProcessedPages != 3 {
			t.Fatalf("processed pages = %d, want the failed attempt accounted for too", got.Progress.ProcessedPages)
		}

		pages, _ := f.pages.ListByDocument(ctx, nil, doc.ID)
		for _, p := range pages {
			if p.PageNumber == 2 && p.Analyzed() {
				t.Fatal("failed page should stay unanalyzed")
			}
			if p.PageNumber != 2 && !p.Analyzed() {
				t.Fatalf("page %d should be analyzed", p.PageNumber)
			}
		}
	})
}

func TestIndexingUC_Run_Resume(t *testing.T) {
	ctx := context.Background()

	// seedInterrupted reproduces a crash: job in-progress, pages rendered,
	// some already analyzed, counters matching the analyzed set.
	seedInterrupted := func(t *testing.T, f *ucFixture, doc *model.Document, analyzed map[int]bool, totalPages int) *model.IndexJob {
		t.Helper()
		job, err := model.NewIndexJob("ws-1", model.JobConfig{Model: "gpt-4o-mini", DetailLevel: "high", RenderDPI: 150, RenderQuality: 85})
		if err != nil {
			t.Fatalf("NewIndexJob: %v", err)
		}
		job.StartedAt = time.Now().Add(-time.Minute)
		if err := f.jobs.Save(ctx, nil, job); err != nil {
			t.Fatalf("save job: %v", err)
		}
		if err := f.jobs.UpdateStatus(ctx, nil, job.ID, model.IndexJobStatusInProgress, ""); err != nil {
			t.Fatalf("mark in-progress: %v", err)
		}

		nAnalyzed := 0
		for n := 1; n <= totalPages; n++ {
			key := "ws-1/" + doc.ID + "/page.pdf"
			p, _ := model.NewPage("ws-1", doc.ID, n, key, 612, 792)
			if analyzed[n] {
				p.Analysis = &model.PageAnalysis{Payload: []byte(`{"summary":"done","text":"t"}`), InputTokens: 100, OutputTokens: 50, CostMicros: 250, AnalyzedAt: time.Now()}
				nAnalyzed++
			}
			if err := f.pages.Save(ctx, nil, p); err != nil {
				t.Fatalf("seed page: %v", err)
			}
			if err := f.blobs.Put(ctx, key, []byte("page-image"), "application/pdf"); err != nil {
				t.Fatalf("seed blob: %v", err)
			}
		}
		_ = f.jobs.IncrementProgress(ctx, nil, job.ID, repository.ProgressDelta{
			TotalDocuments: 1,
			TotalPages:     totalPages,
			ProcessedPages: nAnalyzed,
			AnalyzedPages:  nAnalyzed,
		})
		return job
	}

	t.Run("re-analyzes only pages without a result", func(t *testing.T) {
		f := newUCFixture(t, 3)
		doc := f.seedDocument(t, "ws-1", "alpha.pdf")
		job := seedInterrupted(t, f, doc, map[int]bool{1: true, 3: true}, 3)

		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run: %v", err)
		}

		if f.renderer.renderCalls() != 0 {
			t.Fatalf("renderer called %d times on resume, want 0", f.renderer.renderCalls())
		}
		if f.tm.callCount() != 0 {
			t.Fatal("resume ran the destructive fresh-start reset")
		}
		if f.analyzer.callCount() != 1 {
			t.Fatalf("analyzer calls = %d, want only the unanalyzed page", f.analyzer.callCount())
		}
		if got := f.analyzer.seen[0].PageNumber; got != 2 {
			t.Fatalf("analyzed page %d, want 2", got)
		}

		final, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if final.Status != model.IndexJobStatusComplete {
			t.Fatalf("status = %s, want complete", final.Status)
		}
		if final.Progress.AnalyzedPages != 3 || final.Progress.TotalPages != 3 {
			t.Fatalf("progress = %+v, counters not preserved across resume", final.Progress)
		}
	})

	t.Run("resume across documents touches only the failed page", func(t *testing.T) {
		f := newUCFixture(t, 2)
		done := f.seedDocument(t, "ws-1", "alpha.pdf")
		partial := f.seedDocument(t, "ws-1", "beta.pdf")

		// Crash state: alpha fully analyzed, beta's page 2 failed earlier.
		job, err := model.NewIndexJob("ws-1", model.JobConfig{Model: "gpt-4o-mini", DetailLevel: "high"})
		if err != nil {
			t.Fatalf("NewIndexJob: %v", err)
		}
		job.StartedAt = time.Now().Add(-time.Minute)
		_ = f.jobs.Save(ctx, nil, job)
		_ = f.jobs.UpdateStatus(ctx, nil, job.ID, model.IndexJobStatusInProgress, "")
		analyzedCount := 0
		for _, seed := range []struct {
			doc      *model.Document
			analyzed map[int]bool
		}{
			{done, map[int]bool{1: true, 2: true}},
			{partial, map[int]bool{1: true}},
		} {
			for n := 1; n <= 2; n++ {
				key := "ws-1/" + seed.doc.ID + "/page.pdf"
				p, _ := model.NewPage("ws-1", seed.doc.ID, n, key, 612, 792)
				if seed.analyzed[n] {
					p.Analysis = &model.PageAnalysis{Payload: []byte(`{"summary":"done","text":"t"}`)}
					analyzedCount++
				}
				_ = f.pages.Save(ctx, nil, p)
				_ = f.blobs.Put(ctx, key, []byte("page-image"), "application/pdf")
			}
		}
		_ = f.jobs.IncrementProgress(ctx, nil, job.ID, repository.ProgressDelta{
			TotalDocuments: 2,
			TotalPages:     4,
			ProcessedPages: analyzedCount,
			AnalyzedPages:  analyzedCount,
		})

		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run: %v", err)
		}

		if f.analyzer.callCount() != 1 {
			t.Fatalf("analyzer calls = %d, want 1 (beta page 2 only)", f.analyzer.callCount())
		}
		seen := f.analyzer.seen[0]
		if seen.DocumentName != "beta.pdf" || seen.PageNumber != 2 {
			t.Fatalf("re-analyzed %s page %d, want beta.pdf page 2", seen.DocumentName, seen.PageNumber)
		}
		final, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if final.Status != model.IndexJobStatusComplete || final.Progress.AnalyzedPages != 4 {
			t.Fatalf("final = %s %+v", final.Status, final.Progress)
		}
	})

	t.Run("ResumeInterrupted hands off every interrupted job", func(t *testing.T) {
		f := newUCFixture(t, 2)
		doc := f.seedDocument(t, "ws-1", "alpha.pdf")
		job := seedInterrupted(t, f, doc, map[int]bool{1: true}, 2)

		var submitted []string
		n, err := f.uc.ResumeInterrupted(ctx, func(jobID string) { submitted = append(submitted, jobID) })
		if err != nil {
			t.Fatalf("ResumeInterrupted: %v", err)
		}
		if n != 1 || len(submitted) != 1 || submitted[0] != job.ID {
			t.Fatalf("submitted = %v, want [%s]", submitted, job.ID)
		}
	})

	t.Run("a queued job whose runner never started is swept up", func(t *testing.T) {
		f := newUCFixture(t, 2)
		f.seedDocument(t, "ws-1", "alpha.pdf")

		// A previous process persisted the job and died before the pool
		// ran it; after restart nothing holds the workspace lock.
		orphan, err := model.NewIndexJob("ws-1", model.JobConfig{Model: "gpt-4o-mini", RenderDPI: 150, RenderQuality: 85})
		if err != nil {
			t.Fatalf("NewIndexJob: %v", err)
		}
		if err := f.jobs.Save(ctx, nil, orphan); err != nil {
			t.Fatalf("save job: %v", err)
		}

		var submitted []string
		n, err := f.uc.ResumeInterrupted(ctx, func(jobID string) { submitted = append(submitted, jobID) })
		if err != nil {
			t.Fatalf("ResumeInterrupted: %v", err)
		}
		if n != 1 || len(submitted) != 1 || submitted[0] != orphan.ID {
			t.Fatalf("submitted = %v, want [%s]", submitted, orphan.ID)
		}

		// The handed-off run is an ordinary fresh start.
		if err := f.uc.Run(ctx, orphan.ID); err != nil {
			t.Fatalf("Run: %v", err)
		}
		final, _ := f.jobs.FindByID(ctx, nil, orphan.ID)
		if final.Status != model.IndexJobStatusComplete || final.Progress.AnalyzedPages != 2 {
			t.Fatalf("final = %s %+v", final.Status, final.Progress)
		}
	})

	t.Run("shutdown mid-run leaves the job in-progress for recovery", func(t *testing.T) {
		f := newUCFixture(t, 6)
		doc := f.seedDocument(t, "ws-1", "alpha.pdf")
		f.uc.settings.BatchDelay = 5 * time.Millisecond

		// The process context dies as the first analysis batch lands, the
		// way a SIGTERM shutdown cancels the pool's task context.
		runCtx, cancelRun := context.WithCancel(context.Background())
		defer cancelRun()
		var once sync.Once
		f.analyzer.onCall = func() { once.Do(cancelRun) }

		job, _ := f.uc.CreateJob(context.Background(), "ws-1", CreateJobOptions{})
		if err := f.uc.Run(runCtx, job.ID); !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}

		got, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if got.Status != model.IndexJobStatusInProgress {
			t.Fatalf("status = %s, want in-progress so recovery can resume it", got.Status)
		}
		d, _ := f.docs.FindByID(ctx, nil, doc.ID)
		if d.Status == model.DocumentStatusFailed {
			t.Fatalf("shutdown marked the document failed: %q", d.Error)
		}
		if len(f.events.completed) != 0 || len(f.events.errors) != 0 {
			t.Fatal("terminal events published for an interrupted run")
		}

		// After restart the sweep hands the job back and it finishes.
		n, err := f.uc.ResumeInterrupted(ctx, func(string) {})
		if err != nil || n != 1 {
			t.Fatalf("ResumeInterrupted = %d, %v", n, err)
		}
		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("resumed Run: %v", err)
		}
		final, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if final.Status != model.IndexJobStatusComplete || final.Progress.AnalyzedPages != 6 {
			t.Fatalf("final = %s %+v", final.Status, final.Progress)
		}
		if f.analyzer.callCount() != 6 {
			t.Fatalf("analyzer calls = %d, want 6 with no page re-analyzed", f.analyzer.callCount())
		}
	})

	t.Run("a terminal job is not rerun", func(t *testing.T) {
		f := newUCFixture(t, 2)
		f.seedDocument(t, "ws-1", "alpha.pdf")
		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})
		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("first Run: %v", err)
		}
		calls := f.analyzer.callCount()
		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("second Run: %v", err)
		}
		if f.analyzer.callCount() != calls {
			t.Fatal("terminal job did work on second Run")
		}
	})
}

func TestIndexingUC_Abort(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ErrJobNotActive without an active job", func(t *testing.T) {
		f := newUCFixture(t, 2)
		if err := f.uc.Abort(ctx, "ws-1"); !errors.Is(err, domain.ErrJobNotActive) {
			t.Fatalf("err = %v, want ErrJobNotActive", err)
		}
	})

	t.Run("cancellation is observed at the next batch boundary", func(t *testing.T) {
		f := newUCFixture(t, 6)
		f.seedDocument(t, "ws-1", "alpha.pdf")

		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})

		// Abort as soon as the first analysis call lands; in-flight work
		// finishes but no further batch starts.
		var once sync.Once
		f.analyzer.onCall = func() {
			once.Do(func() {
				if err := f.uc.Abort(ctx, "ws-1"); err != nil {
					t.Errorf("Abort: %v", err)
				}
			})
		}

		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run after abort returned %v, want nil", err)
		}

		got, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if got.Status != model.IndexJobStatusCancelled {
			t.Fatalf("status = %s, want cancelled (cancelled wins over complete)", got.Status)
		}
		if calls := f.analyzer.callCount(); calls > 2 {
			t.Fatalf("analyzer calls = %d, want at most one batch of 2", calls)
		}
		if len(f.events.cancelled) != 1 {
			t.Fatalf("cancelled events = %d, want 1", len(f.events.cancelled))
		}
		if len(f.events.completed) != 0 {
			t.Fatal("completion event published for a cancelled job")
		}
	})

	t.Run("abort before Run starts frees the workspace lock", func(t *testing.T) {
		f := newUCFixture(t, 2)
		f.seedDocument(t, "ws-1", "alpha.pdf")

		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})
		if err := f.uc.Abort(ctx, "ws-1"); err != nil {
			t.Fatalf("Abort: %v", err)
		}

		// The queued runner finally fires, finds the terminal status and
		// must not leave the creation-time lock behind.
		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run on cancelled job: %v", err)
		}
		if len(f.locker.held) != 0 {
			t.Fatalf("locks still held = %d, want 0", len(f.locker.held))
		}
		if _, err := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{}); err != nil {
			t.Fatalf("new job after abort: %v", err)
		}
	})
}

func TestIndexingUC_FailJob(t *testing.T) {
	ctx := context.Background()

	t.Run("marks a never-started job failed and frees the lock", func(t *testing.T) {
		f := newUCFixture(t, 2)
		f.seedDocument(t, "ws-1", "alpha.pdf")
		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})

		// The pool refused the job right after creation.
		if err := f.uc.FailJob(ctx, job.ID, "indexing queue is full"); err != nil {
			t.Fatalf("FailJob: %v", err)
		}

		got, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if got.Status != model.IndexJobStatusFailed || got.Error != "indexing queue is full" {
			t.Fatalf("job = %s/%q, want failed with the reason", got.Status, got.Error)
		}
		if len(f.locker.held) != 0 {
			t.Fatalf("locks held = %d, want 0", len(f.locker.held))
		}
		if len(f.events.errors) != 1 {
			t.Fatalf("error events = %d, want 1", len(f.events.errors))
		}
		if _, err := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{}); err != nil {
			t.Fatalf("workspace still blocked after FailJob: %v", err)
		}
	})

	t.Run("never overwrites a terminal status", func(t *testing.T) {
		f := newUCFixture(t, 2)
		f.seedDocument(t, "ws-1", "alpha.pdf")
		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})
		if err := f.uc.Abort(ctx, "ws-1"); err != nil {
			t.Fatalf("Abort: %v", err)
		}

		if err := f.uc.FailJob(ctx, job.ID, "late"); err != nil {
			t.Fatalf("FailJob: %v", err)
		}
		got, _ := f.jobs.FindByID(ctx, nil, job.ID)
		if got.Status != model.IndexJobStatusCancelled {
			t.Fatalf("status = %s, want cancelled preserved", got.Status)
		}
		if len(f.locker.held) != 0 {
			t.Fatal("lock not released for a terminal job")
		}
	})
}

func TestIndexingUC_ProgressEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("ETA is omitted until the first page is analyzed", func(t *testing.T) {
		f := newUCFixture(t, 2)
		f.seedDocument(t, "ws-1", "alpha.pdf")

		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})
		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run: %v", err)
		}

		if len(f.events.progress) == 0 {
			t.Fatal("no progress events published")
		}
		first := f.events.progress[0]
		if first.AnalyzedPages != 0 {
			t.Fatalf("first notice AnalyzedPages = %d, want 0 (render phase)", first.AnalyzedPages)
		}
		if first.ETASeconds != nil {
			t.Fatal("ETA present before any page was analyzed")
		}
		sawETA := false
		for _, n := range f.events.progress {
			if n.AnalyzedPages > 0 && n.ETASeconds != nil {
				sawETA = true
			}
		}
		if !sawETA {
			t.Fatal("no notice carried an ETA after analysis began")
		}
	})

	t.Run("counters never decrease between observations", func(t *testing.T) {
		f := newUCFixture(t, 3)
		f.uc.settings.Concurrency = 1 // serialize so notice order matches counter order
		f.seedDocument(t, "ws-1", "alpha.pdf")
		f.seedDocument(t, "ws-1", "beta.pdf")
		f.analyzer.failOnce[2] = true // include an attempt that produces no result

		job, _ := f.uc.CreateJob(ctx, "ws-1", CreateJobOptions{})

		// Each analysis call snapshots the durable record as a second,
		// independent observation stream alongside the notices.
		var mu sync.Mutex
		var costs []int64
		f.analyzer.onCall = func() {
			got, _ := f.jobs.FindByID(context.Background(), nil, job.ID)
			mu.Lock()
			costs = append(costs, got.Cost.TotalCostMicros)
			mu.Unlock()
		}

		if err := f.uc.Run(ctx, job.ID); err != nil {
			t.Fatalf("Run: %v", err)
		}

		var prev adapter.ProgressNotice
		for i, n := range f.events.progress {
			if n.TotalDocuments < prev.TotalDocuments || n.ProcessedDocuments < prev.ProcessedDocuments ||
				n.TotalPages < prev.TotalPages || n.ProcessedPages < prev.ProcessedPages ||
				n.AnalyzedPages < prev.AnalyzedPages {
				t.Fatalf("notice %d went backwards: %+v after %+v", i, n, prev)
			}
			prev = n
		}
		for i := 1; i < len(costs); i++ {
			if costs[i] < costs[i-1] {
				t.Fatalf("cost decreased between observations: %v", costs)
			}
		}
	})
}
