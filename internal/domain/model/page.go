package model

import (
	"crypto/rand"
	"time"

	"document-ai-indexing/internal/domain"

	"github.com/oklog/ulid/v2"
)

// PageAnalysis is the structured result of one successful model call for
// one page, together with the usage that call reported.
type PageAnalysis struct {
	Payload      []byte `json:"payload"` // validated JSON from the model
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	CostMicros   int64  `json:"cost_micros"`
	AnalyzedAt   time.Time
}

// Page is one rendered page of a document. Analysis is nil until the page
// has been analyzed; that nil is the resumability marker a resumed job
// uses to decide what still needs submitting to the model service.
type Page struct {
	ID          string // ULID, time-sortable
	WorkspaceID string
	DocumentID  string
	PageNumber  int // 1-based
	ImageKey    string
	Width       int
	Height      int
	Analysis    *PageAnalysis
	CreatedAt   time.Time
}

// NewPage creates a rendered-but-unanalyzed page record.
func NewPage(workspaceID, documentID string, pageNumber int, imageKey string, width, height int) (*Page, error) {
	if workspaceID == "" || documentID == "" || pageNumber < 1 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Page{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		WorkspaceID: workspaceID,
		DocumentID:  documentID,
		PageNumber:  pageNumber,
		ImageKey:    imageKey,
		Width:       width,
		Height:      height,
		CreatedAt:   now,
	}, nil
}

// Analyzed reports whether this page already holds a model result.
func (p *Page) Analyzed() bool { return p.Analysis != nil }
