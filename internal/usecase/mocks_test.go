// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"document-ai-indexing/internal/domain"
	"document-ai-indexing/internal/domain/model"
	"document-ai-indexing/internal/domain/ports/adapter"
	"document-ai-indexing/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// memTxManager runs the callback with no real transaction underneath;
// calls are counted so tests can assert which paths run inside WithTx.
type memTxManager struct {
	mu    sync.Mutex
	calls int
}

var _ repository.TransactionManager = (*memTxManager)(nil)

func (m *memTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return fn(ctx, nil)
}

func (m *memTxManager) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock IndexJobRepository

type memJobRepo struct {
	mu      sync.RWMutex
	store   map[string]*model.IndexJob
	saveErr error // used by tests to simulate save failures
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.IndexJob)}
}

func (m *memJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.IndexJob) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.IndexJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) FindActiveByWorkspace(ctx context.Context, tx repository.Tx, workspaceID string) (*model.IndexJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.store {
		if j.WorkspaceID == workspaceID && !j.Status.Terminal() {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobRepo) FindUnfinished(ctx context.Context) ([]*model.IndexJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.IndexJob
	for _, j := range m.store {
		if j.Status == model.IndexJobStatusQueued || j.Status == model.IndexJobStatusInProgress {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.IndexJobStatus, jobErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.Terminal() {
		return domain.ErrTerminalStatus
	}
	j.Status = status
	j.Error = jobErr
	if status.Terminal() {
		now := time.Now()
		j.CompletedAt = &now
	}
	return nil
}

func (m *memJobRepo) IncrementProgress(ctx context.Context, tx repository.Tx, id string, d repository.ProgressDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Progress.TotalDocuments += d.TotalDocuments
	j.Progress.ProcessedDocuments += d.ProcessedDocuments
	j.Progress.TotalPages += d.TotalPages
	j.Progress.ProcessedPages += d.ProcessedPages
	j.Progress.AnalyzedPages += d.AnalyzedPages
	return nil
}

func (m *memJobRepo) AddCost(ctx context.Context, tx repository.Tx, id string, d repository.CostDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Cost.InputTokens += d.InputTokens
	j.Cost.OutputTokens += d.OutputTokens
	j.Cost.TotalCostMicros += d.TotalCostMicros
	return nil
}

func (m *memJobRepo) ResetProgress(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Progress = model.JobProgress{}
	j.Cost = model.JobCost{}
	return nil
}

// --- Mock DocumentRepository

type memDocRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Document
	order []string // insertion order stands in for created_at ordering
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{store: make(map[string]*model.Document)}
}

func (m *memDocRepo) Save(ctx context.Context, tx repository.Tx, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[doc.ID]; !ok {
		m.order = append(m.order, doc.ID)
	}
	cp := *doc
	m.store[doc.ID] = &cp
	return nil
}

func (m *memDocRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDocRepo) ListByWorkspace(ctx context.Context, tx repository.Tx, workspaceID string, ids []string) ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	var out []*model.Document
	for _, id := range m.order {
		d := m.store[id]
		if d.WorkspaceID != workspaceID {
			continue
		}
		if len(wanted) > 0 && !wanted[d.ID] {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memDocRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.DocumentStatus, pageCount int, docErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Status = status
	d.PageCount = pageCount
	d.Error = docErr
	return nil
}

// --- Mock PageRepository

type memPageRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Page
}

func newMemPageRepo() *memPageRepo {
	return &memPageRepo{store: make(map[string]*model.Page)}
}

func (m *memPageRepo) Save(ctx context.Context, tx repository.Tx, page *model.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[page.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *page
	m.store[page.ID] = &cp
	return nil
}

func (m *memPageRepo) ListByDocument(ctx context.Context, tx repository.Tx, documentID string) ([]*model.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Page
	for _, p := range m.store {
		if p.DocumentID == documentID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out, nil
}

func (m *memPageRepo) SetAnalysis(ctx context.Context, tx repository.Tx, pageID string, analysis *model.PageAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[pageID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Analysis != nil {
		return domain.ErrAnalysisAlreadySet
	}
	cp := *analysis
	p.Analysis = &cp
	return nil
}

func (m *memPageRepo) DeleteByWorkspace(ctx context.Context, tx repository.Tx, workspaceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.store {
		if p.WorkspaceID == workspaceID {
			delete(m.store, id)
			n++
		}
	}
	return n, nil
}

func (m *memPageRepo) ListAnalyzedByWorkspace(ctx context.Context, tx repository.Tx, workspaceID string) ([]*model.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Page
	for _, p := range m.store {
		if p.WorkspaceID == workspaceID && p.Analysis != nil {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].PageNumber < out[j].PageNumber
	})
	return out, nil
}

// --- Mock BlobStore

type memBlobStore struct {
	mu     sync.RWMutex
	store  map[string][]byte
	getErr map[string]error // per-key injected failures
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{store: make(map[string][]byte), getErr: make(map[string]error)}
}

func (m *memBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.store[key] = cp
	return nil
}

func (m *memBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.getErr[key]; ok {
		return nil, err
	}
	data, ok := m.store[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *memBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

// --- Mock PageRenderer

// fakeRenderer emits a fixed number of pages per document, calling back
// once per page the way the real renderer streams split results.
type fakeRenderer struct {
	pageCount  int
	renderErr  error // returned before any callback when set
	failAtPage int   // 1-based; callback error injected mid-stream when > 0

	mu    sync.Mutex
	calls int
}

func (f *fakeRenderer) Render(ctx context.Context, content []byte, opts adapter.RenderOptions, onPage adapter.OnPage) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.renderErr != nil {
		return f.renderErr
	}
	for i := 1; i <= f.pageCount; i++ {
		if f.failAtPage > 0 && i == f.failAtPage {
			return domain.ErrInvalidArgument
		}
		page := adapter.RenderedPage{
			PageNumber: i,
			Image:      []byte("page-image"),
			MIMEType:   "application/pdf",
			Width:      612,
			Height:     792,
		}
		if err := onPage(page, i-1, f.pageCount); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRenderer) renderCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// --- Mock PageAnalyzer

type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    int
	seen     []adapter.AnalyzeRequest
	failOnce map[int]bool // page number -> fail the first call only
	failErr  error        // error returned for injected failures
	onCall   func()       // hook invoked under lock at each call
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{failOnce: make(map[int]bool)}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req adapter.AnalyzeRequest) (*adapter.AnalyzeResult, error) {
	f.mu.Lock()
	f.calls++
	f.seen = append(f.seen, req)
	if f.onCall != nil {
		f.onCall()
	}
	if f.failOnce[req.PageNumber] {
		delete(f.failOnce, req.PageNumber)
		f.mu.Unlock()
		if f.failErr != nil {
			return nil, f.failErr
		}
		return nil, domain.ErrEmptyModelResponse
	}
	f.mu.Unlock()
	return &adapter.AnalyzeResult{
		Payload:      []byte(`{"summary":"a page","text":"body text"}`),
		InputTokens:  100,
		OutputTokens: 50,
		CostMicros:   250,
	}, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// --- Mock EventPublisher

type memEvents struct {
	mu        sync.Mutex
	progress  []adapter.ProgressNotice
	completed []adapter.CompletionNotice
	errors    []string
	cancelled []string
}

func newMemEvents() *memEvents { return &memEvents{} }

func (m *memEvents) PublishProgress(ctx context.Context, workspaceID string, n adapter.ProgressNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, n)
	return nil
}

func (m *memEvents) PublishCompleted(ctx context.Context, workspaceID string, n adapter.CompletionNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, n)
	return nil
}

func (m *memEvents) PublishError(ctx context.Context, workspaceID, jobID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, message)
	return nil
}

func (m *memEvents) PublishCancelled(ctx context.Context, workspaceID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, jobID)
	return nil
}

// --- Mock WorkspaceLocker

type memLocker struct {
	mu   sync.Mutex
	held map[string]string // key -> token
	next int
	fail bool // TryLock refuses when set
}

func newMemLocker() *memLocker { return &memLocker{held: make(map[string]string)} }

func (m *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", domain.ErrJobAlreadyRunning
	}
	if _, ok := m.held[key]; ok {
		return "", domain.ErrJobAlreadyRunning
	}
	m.next++
	token := "tok-" + string(rune('a'+m.next))
	m.held[key] = token
	return token, nil
}

func (m *memLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

func (m *memLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	return nil
}
