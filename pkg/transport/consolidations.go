package transport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/orchestrator/pkg/consolidator"
	"github.com/cuemby/orchestrator/pkg/types"
)

// createConsolidationRequest is the payload for POST /consolidations.
type createConsolidationRequest struct {
	ProjectScope string   `json:"projectScope"`
	BaseRevision string   `json:"baseRevision"`
	WorkerIDs    []string `json:"workerIds"`
}

func (s *Server) createConsolidation(w http.ResponseWriter, r *http.Request) {
	var req createConsolidationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectScope == "" || req.BaseRevision == "" || len(req.WorkerIDs) == 0 {
		writeError(w, CodeBadRequest, "projectScope, baseRevision, and workerIds are required")
		return
	}

	participants := make([]consolidator.Participant, 0, len(req.WorkerIDs))
	for _, id := range req.WorkerIDs {
		worker, ok := s.engine.Registry.Get(id)
		if !ok {
			writeError(w, CodeNotFound, "unknown worker id: "+id)
			return
		}
		participants = append(participants, consolidator.Participant{
			WorkerID:     worker.ID,
			WorktreePath: worker.WorktreePath,
			Branch:       worker.Branch,
		})
	}

	con := s.engine.Consolidator.Create(consolidator.CreateRequest{
		ProjectScope: req.ProjectScope,
		BaseRevision: req.BaseRevision,
		Participants: participants,
	})
	writeJSON(w, http.StatusCreated, con)
}

func (s *Server) listConsolidations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Consolidator.List())
}

func (s *Server) getConsolidation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	con, ok := s.engine.Consolidator.Get(id)
	if !ok {
		writeError(w, CodeNotFound, "consolidation not found")
		return
	}
	writeJSON(w, http.StatusOK, con)
}

func (s *Server) deleteConsolidation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.engine.Consolidator.Delete(id) {
		writeError(w, CodeNotFound, "consolidation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) analyzeConsolidation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	preview, err := s.engine.Consolidator.Analyze(r.Context(), id)
	if errors.Is(err, consolidator.ErrNotFound) {
		writeError(w, CodeNotFound, "consolidation not found")
		return
	}
	if err != nil {
		writeError(w, CodeVCSUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// resolveRequest is the payload for POST /consolidations/{id}/resolve.
type resolveRequest struct {
	Resolutions []types.Resolution `json:"resolutions"`
}

func (s *Server) resolveConsolidation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	plan, err := s.engine.Consolidator.Resolve(r.Context(), id, req.Resolutions)
	switch {
	case errors.Is(err, consolidator.ErrNotFound):
		writeError(w, CodeNotFound, "consolidation not found")
	case errors.Is(err, consolidator.ErrNotReady):
		writeError(w, CodeConflict, "consolidation has not been analyzed yet")
	case errors.Is(err, consolidator.ErrInvalidPath):
		writeError(w, CodeBadRequest, err.Error())
	case err != nil:
		writeError(w, CodeInternal, err.Error())
	default:
		writeJSON(w, http.StatusOK, plan)
	}
}

// exportRequest is the payload for POST /consolidations/{id}/export.
type exportRequest struct {
	TargetBranch string `json:"targetBranch"`
	Message      string `json:"message"`
}

func (s *Server) exportConsolidation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req exportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TargetBranch == "" {
		writeError(w, CodeBadRequest, "targetBranch is required")
		return
	}

	result, err := s.engine.Consolidator.Export(r.Context(), id, req.TargetBranch, req.Message)
	switch {
	case errors.Is(err, consolidator.ErrNotFound):
		writeError(w, CodeNotFound, "consolidation not found")
	case errors.Is(err, consolidator.ErrNotReady):
		writeError(w, CodeConflict, "consolidation has no merge plan yet")
	case err != nil: // vcs-level failure from CreateWorktree/CommitAll
		writeError(w, CodeVCSUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusOK, result)
	}
}
