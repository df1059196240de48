package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/orchestrator/pkg/coordinator"
)

// createBarrierRequest is the payload for POST /coordination/barriers.
type createBarrierRequest struct {
	Expected []string `json:"expected"`
	Timeout  string   `json:"timeout"` // duration string, e.g. "30s"
}

func (s *Server) createBarrier(w http.ResponseWriter, r *http.Request) {
	var req createBarrierRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Expected) == 0 {
		writeError(w, CodeBadRequest, "expected must be non-empty")
		return
	}
	timeout, err := parseTimeout(req.Timeout, 30*time.Second)
	if err != nil {
		writeError(w, CodeBadRequest, err.Error())
		return
	}

	id, resultC := s.engine.Coordinator.CreateBarrier(req.Expected, timeout)

	// The future resolves asynchronously; the response carries the id so
	// callers watch the SSE stream for the barrier.resolved event
	// (completed or timeout).
	go func() { <-resultC }()

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// signalBarrierRequest is the payload for POST /coordination/barriers/{id}/signal.
type signalBarrierRequest struct {
	Worker string `json:"worker"`
}

func (s *Server) signalBarrier(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req signalBarrierRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.engine.Coordinator.SignalBarrier(id, req.Worker); err != nil {
		writeError(w, CodeNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createElectionRequest is the payload for POST /coordination/elections.
type createElectionRequest struct {
	Candidates []string `json:"candidates"`
	Timeout    string   `json:"timeout"`
}

func (s *Server) createElection(w http.ResponseWriter, r *http.Request) {
	var req createElectionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Candidates) == 0 {
		writeError(w, CodeBadRequest, "candidates must be non-empty")
		return
	}
	timeout, err := parseTimeout(req.Timeout, 30*time.Second)
	if err != nil {
		writeError(w, CodeBadRequest, err.Error())
		return
	}

	id, resultC := s.engine.Coordinator.ConductElection(req.Candidates, timeout)
	go func() { <-resultC }()

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// castVoteRequest is the payload for POST /coordination/elections/{id}/vote.
type castVoteRequest struct {
	Voter     string `json:"voter"`
	Candidate string `json:"candidate"`
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req castVoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.engine.Coordinator.CastVote(id, req.Voter, req.Candidate); err != nil {
		writeError(w, CodeConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// partitionRequest is the payload for POST /coordination/partition.
type partitionRequest struct {
	Task         map[string]any `json:"task"`
	AgentCount   int            `json:"agentCount"`
	Strategy     string         `json:"strategy"`
	PartitionKey string         `json:"partitionKey"`
}

func (s *Server) partitionTask(w http.ResponseWriter, r *http.Request) {
	var req partitionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgentCount < 1 {
		writeError(w, CodeBadRequest, "agentCount must be at least 1")
		return
	}

	strategy := coordinator.Strategy(req.Strategy)
	if strategy == "" {
		strategy = coordinator.StrategyRoundRobin
	}

	partitions := coordinator.PartitionTask(req.Task, req.AgentCount, strategy, req.PartitionKey)
	writeJSON(w, http.StatusOK, partitions)
}

func parseTimeout(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}
