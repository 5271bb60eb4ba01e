// File: internal/infra/web/mock_test.go
package web

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"document-ai-indexing/internal/domain"
	"document-ai-indexing/internal/domain/model"
	"document-ai-indexing/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// mockIndexingUC lets each test inject exactly the behavior it needs.
type mockIndexingUC struct {
	mu         sync.Mutex
	createFunc func(ctx context.Context, workspaceID string, opts usecase.CreateJobOptions) (*model.IndexJob, error)
	runFunc    func(ctx context.Context, jobID string) error
	abortFunc  func(ctx context.Context, workspaceID string) error
	findFunc   func(ctx context.Context, jobID string) (*model.IndexJob, error)
	activeFunc func(ctx context.Context, workspaceID string) (*model.IndexJob, error)
	runCalls   []string
	failCalls  []string
}

var _ usecase.IndexingUseCase = (*mockIndexingUC)(nil)

func (m *mockIndexingUC) CreateJob(ctx context.Context, workspaceID string, opts usecase.CreateJobOptions) (*model.IndexJob, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, workspaceID, opts)
	}
	return model.NewIndexJob(workspaceID, model.JobConfig{Model: "gpt-4o-mini"})
}

func (m *mockIndexingUC) Run(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.runCalls = append(m.runCalls, jobID)
	m.mu.Unlock()
	if m.runFunc != nil {
		return m.runFunc(ctx, jobID)
	}
	return nil
}

func (m *mockIndexingUC) Abort(ctx context.Context, workspaceID string) error {
	if m.abortFunc != nil {
		return m.abortFunc(ctx, workspaceID)
	}
	return nil
}

func (m *mockIndexingUC) FailJob(ctx context.Context, jobID, message string) error {
	m.mu.Lock()
	m.failCalls = append(m.failCalls, jobID)
	m.mu.Unlock()
	return nil
}

func (m *mockIndexingUC) ResumeInterrupted(ctx context.Context, submit func(jobID string)) (int, error) {
	return 0, nil
}

func (m *mockIndexingUC) FindJob(ctx context.Context, jobID string) (*model.IndexJob, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, jobID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockIndexingUC) ActiveJob(ctx context.Context, workspaceID string) (*model.IndexJob, error) {
	if m.activeFunc != nil {
		return m.activeFunc(ctx, workspaceID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockIndexingUC) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runCalls)
}

func (m *mockIndexingUC) failCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failCalls)
}

type mockExportUC struct {
	exportFunc func(ctx context.Context, workspaceID string) ([]byte, error)
}

var _ usecase.ExportUseCase = (*mockExportUC)(nil)

func (m *mockExportUC) ExportWorkspaceXLSX(ctx context.Context, workspaceID string) ([]byte, error) {
	if m.exportFunc != nil {
		return m.exportFunc(ctx, workspaceID)
	}
	return nil, domain.ErrNotFound
}

// mockSubscriber feeds a canned event stream to the websocket bridge.
type mockSubscriber struct {
	events [][]byte
}

func (m *mockSubscriber) Subscribe(ctx context.Context, workspaceID string) (<-chan []byte, func()) {
	ch := make(chan []byte, len(m.events))
	for _, e := range m.events {
		ch <- e
	}
	close(ch)
	return ch, func() {}
}
