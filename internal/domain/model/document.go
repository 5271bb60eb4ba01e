package model

import (
	"time"

	"document-ai-indexing/internal/domain"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is an uploaded or URL-sourced source file belonging to a
// workspace. The orchestrator mutates Status, PageCount and Error as a
// side effect of indexing; raw content lives in the blob store under
// ContentKey.
type Document struct {
	ID          string
	WorkspaceID string
	Name        string
	Status      DocumentStatus
	PageCount   int
	ContentKey  string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewDocument(workspaceID, name, contentKey string) (*Document, error) {
	if workspaceID == "" || name == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Document{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		Status:      DocumentStatusProcessing,
		ContentKey:  contentKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
