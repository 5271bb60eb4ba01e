package ai

import (
	"context"
	"fmt"
	"time"

	"document-ai-indexing/internal/domain/ports/adapter"
)

var _ adapter.PageAnalyzer = (*NoopAnalyzer)(nil)

// NoopAnalyzer implements adapter.PageAnalyzer for local/dev testing.
// It fabricates a valid payload instead of calling a real model service.
type NoopAnalyzer struct{}

func NewNoopAnalyzer() *NoopAnalyzer {
	return &NoopAnalyzer{}
}

func (a *NoopAnalyzer) Analyze(ctx context.Context, req adapter.AnalyzeRequest) (*adapter.AnalyzeResult, error) {
	// Simulate slight processing time and respect ctx
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	payload := fmt.Sprintf(`{"summary":"noop analysis of %s page %d","text":"","entities":[],"tables":[]}`,
		req.DocumentName, req.PageNumber)
	return &adapter.AnalyzeResult{
		Payload:      []byte(payload),
		InputTokens:  10,
		OutputTokens: 10,
		CostMicros:   0,
	}, nil
}
