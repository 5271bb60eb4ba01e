// File: internal/infra/web/handlers.go
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"document-ai-indexing/internal/domain"
	"document-ai-indexing/internal/domain/model"
	"document-ai-indexing/internal/usecase"
)

// The expected JSON request body for starting an indexing run. Every
// field is optional; omitted fields fall back to service defaults.
type indexCreateRequest struct {
	DocumentIDs   []string `json:"document_ids,omitempty"`
	Model         string   `json:"model,omitempty"`
	DetailLevel   string   `json:"detail_level,omitempty"`
	Instructions  string   `json:"instructions,omitempty"`
	RenderDPI     int      `json:"render_dpi,omitempty"`
	RenderQuality int      `json:"render_quality,omitempty"`
}

type jobResponse struct {
	ID                 string  `json:"id"`
	WorkspaceID        string  `json:"workspace_id"`
	Status             string  `json:"status"`
	TotalDocuments     int     `json:"total_documents"`
	ProcessedDocuments int     `json:"processed_documents"`
	TotalPages         int     `json:"total_pages"`
	ProcessedPages     int     `json:"processed_pages"`
	AnalyzedPages      int     `json:"analyzed_pages"`
	InputTokens        int64   `json:"input_tokens"`
	OutputTokens       int64   `json:"output_tokens"`
	CostUSD            float64 `json:"cost_usd"`
	ETASeconds         *int    `json:"eta_seconds,omitempty"`
	Error              string  `json:"error,omitempty"`
	CreatedAt          string  `json:"created_at"`
	CompletedAt        string  `json:"completed_at,omitempty"`
}

func toJobResponse(job *model.IndexJob) jobResponse {
	resp := jobResponse{
		ID:                 job.ID,
		WorkspaceID:        job.WorkspaceID,
		Status:             string(job.Status),
		TotalDocuments:     job.Progress.TotalDocuments,
		ProcessedDocuments: job.Progress.ProcessedDocuments,
		TotalPages:         job.Progress.TotalPages,
		ProcessedPages:     job.Progress.ProcessedPages,
		AnalyzedPages:      job.Progress.AnalyzedPages,
		InputTokens:        job.Cost.InputTokens,
		OutputTokens:       job.Cost.OutputTokens,
		CostUSD:            float64(job.Cost.TotalCostMicros) / 1e6,
		Error:              job.Error,
		CreatedAt:          job.CreatedAt.Format(time.RFC3339),
	}
	if job.Status == model.IndexJobStatusInProgress {
		if eta, ok := job.ETASeconds(time.Now()); ok {
			resp.ETASeconds = &eta
		}
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) createIndexJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		workspaceID := chi.URLParam(r, "workspaceID")

		var req indexCreateRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
		}

		job, err := s.indexUC.CreateJob(ctx, workspaceID, usecase.CreateJobOptions{
			DocumentIDs:   req.DocumentIDs,
			Model:         req.Model,
			DetailLevel:   req.DetailLevel,
			Instructions:  req.Instructions,
			RenderDPI:     req.RenderDPI,
			RenderQuality: req.RenderQuality,
		})
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrJobAlreadyRunning):
				http.Error(w, "An indexing job is already running for this workspace", http.StatusConflict)
			case errors.Is(err, domain.ErrInvalidArgument):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				s.log.Error().Err(err).Str("workspace_id", workspaceID).Msg("create index job failed")
				http.Error(w, "Failed to create indexing job", http.StatusInternalServerError)
			}
			return
		}

		// The run outlives this request; it is driven by the pool with the
		// process context, not the request context.
		if err := s.pool.Submit(func(taskCtx context.Context) error {
			return s.indexUC.Run(taskCtx, job.ID)
		}); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("could not submit indexing job")
			// Don't strand the record in queued with the workspace locked.
			if failErr := s.indexUC.FailJob(ctx, job.ID, "indexing queue is full"); failErr != nil {
				s.log.Error().Err(failErr).Str("job_id", job.ID).Msg("could not fail rejected job")
			}
			http.Error(w, "Indexing capacity exhausted, try again later", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusAccepted, toJobResponse(job))
	}
}

func (s *Server) activeJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID := chi.URLParam(r, "workspaceID")
		job, err := s.indexUC.ActiveJob(r.Context(), workspaceID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "No active indexing job", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to load job", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func (s *Server) abortJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID := chi.URLParam(r, "workspaceID")
		if err := s.indexUC.Abort(r.Context(), workspaceID); err != nil {
			if errors.Is(err, domain.ErrJobNotActive) {
				http.Error(w, "No active indexing job", http.StatusNotFound)
				return
			}
			s.log.Error().Err(err).Str("workspace_id", workspaceID).Msg("abort failed")
			http.Error(w, "Failed to abort job", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func (s *Server) jobStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		job, err := s.indexUC.FindJob(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "Job not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to load job", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func (s *Server) exportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID := chi.URLParam(r, "workspaceID")
		data, err := s.exportUC.ExportWorkspaceXLSX(r.Context(), workspaceID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "Nothing analyzed in this workspace yet", http.StatusNotFound)
				return
			}
			s.log.Error().Err(err).Str("workspace_id", workspaceID).Msg("export failed")
			http.Error(w, "Failed to export workspace", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", workspaceID+"-analysis.xlsx"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
