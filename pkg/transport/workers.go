package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/orchestrator/pkg/supervisor"
	"github.com/cuemby/orchestrator/pkg/types"
)

// listWorkers handles GET /workers?status=&project=
func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	project := r.URL.Query().Get("project")

	var out []types.Worker
	switch {
	case status != "":
		out = s.engine.Registry.ListByStatus(types.WorkerStatus(status))
	case project != "":
		out = s.engine.Registry.ListByProject(project)
	default:
		out = s.engine.Registry.List()
	}
	writeJSON(w, http.StatusOK, out)
}

// getWorker handles GET /workers/{id}
func (s *Server) getWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker, ok := s.engine.Registry.Get(id)
	if !ok {
		writeError(w, CodeNotFound, "worker not found")
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

// spawnRequest is the payload for POST /workers.
type spawnRequest struct {
	ProjectScope string            `json:"projectScope"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Task         string            `json:"task"`
	BaseRevision string            `json:"baseRevision"`
	Branch       string            `json:"branch"`
	Command      string            `json:"command"`
	Args         []string          `json:"args"`
	Env          map[string]string `json:"env"`
	Count        int               `json:"count"`
}

// spawnWorkers handles POST /workers: spawn 1-10 workers from one request.
func (s *Server) spawnWorkers(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.ProjectScope == "" || req.Name == "" || req.BaseRevision == "" {
		writeError(w, CodeBadRequest, "projectScope, name, and baseRevision are required")
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 1 || req.Count > supervisor.MaxActiveWorkers {
		writeError(w, CodeBadRequest, "count must be between 1 and 10")
		return
	}

	spawnReq := supervisor.SpawnRequest{
		ProjectScope: req.ProjectScope,
		Name:         req.Name,
		Type:         req.Type,
		BaseRevision: req.BaseRevision,
		Branch:       req.Branch,
		Task:         req.Task,
		Command:      req.Command,
		Args:         req.Args,
		Env:          req.Env,
	}

	created := make([]types.Worker, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		perCall := spawnReq
		if req.Count > 1 {
			perCall.Branch = "" // distinct auto-generated branch per worker
		}
		worker, err := s.engine.Supervisor.Spawn(r.Context(), perCall)
		if err != nil {
			if err == supervisor.ErrCapacityExceeded {
				writeError(w, CodeCapacityExceeded, "active worker cap reached")
				return
			}
			writeError(w, CodeVCSUnavailable, err.Error())
			return
		}
		created = append(created, worker)
	}

	writeJSON(w, http.StatusCreated, created)
}

// terminateWorker handles DELETE /workers/{id}. Idempotent: a second call
// for the same id returns not_found rather than erroring.
func (s *Server) terminateWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reason := types.ReasonUserInitiated
	if q := r.URL.Query().Get("reason"); q != "" {
		reason = types.TerminationReason(q)
	}

	err := s.engine.Supervisor.Terminate(r.Context(), id, reason)
	if err == supervisor.ErrNotFound {
		writeError(w, CodeNotFound, "worker not found")
		return
	}
	if err != nil {
		writeError(w, CodeInternal, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// workerLogs handles GET /workers/{id}/logs?offset=&count=
func (s *Server) workerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	offset := intQuery(r, "offset", 0)
	count := intQuery(r, "count", 100)

	stdout, stderr, err := s.engine.Supervisor.Logs(id, offset, count)
	if err == supervisor.ErrNotFound {
		writeError(w, CodeNotFound, "worker not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stdout": stdout, "stderr": stderr})
}

// workerStats handles GET /workers/{id}/stats
func (s *Server) workerStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, ok := s.engine.Monitor.Stats(id)
	if !ok {
		writeError(w, CodeNotFound, "worker not monitored")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// workerDiff handles GET /workers/{id}/diff
func (s *Server) workerDiff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	worker, ok := s.engine.Registry.Get(id)
	if !ok {
		writeError(w, CodeNotFound, "worker not found")
		return
	}

	diff, err := s.engine.VCS.Diff(r.Context(), worker.ProjectScope, worker.WorktreePath, worker.BaseRevision)
	if err != nil {
		writeError(w, CodeVCSUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"diff": diff})
}

// listWorktrees handles GET /worktrees?project=, filtered to worker-owned
// worktrees.
func (s *Server) listWorktrees(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, CodeBadRequest, "project is required")
		return
	}

	all, err := s.engine.VCS.ListWorktrees(r.Context(), project)
	if err != nil {
		writeError(w, CodeVCSUnavailable, err.Error())
		return
	}

	owned := make(map[string]bool)
	for _, worker := range s.engine.Registry.ListByProject(project) {
		owned[worker.WorktreePath] = true
	}

	out := make([]types.Worktree, 0, len(all))
	for _, wt := range all {
		if owned[wt.Path] {
			out = append(out, wt)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
