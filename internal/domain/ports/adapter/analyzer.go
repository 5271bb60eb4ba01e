package adapter

import "context"

// AnalyzeRequest describes one page submitted for structured extraction.
type AnalyzeRequest struct {
	Image        []byte
	MIMEType     string
	PageNumber   int
	DocumentName string
	Model        string
	DetailLevel  string // "low" | "high" | "auto"
	Instructions string // optional custom instruction text
}

// AnalyzeResult is what a vision model call produced for one page.
// Payload is validated JSON; token counts and cost are as reported (or
// estimated) for this single call.
type AnalyzeResult struct {
	Payload      []byte
	InputTokens  int64
	OutputTokens int64
	CostMicros   int64
}

// PageAnalyzer is the port for the external vision model service. A call
// that hangs is the adapter's problem: implementations enforce a per-call
// timeout and return the expiry as an ordinary error, which the
// orchestrator treats as a page-level failure.
type PageAnalyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error)
}
