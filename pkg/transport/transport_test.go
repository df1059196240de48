package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator/pkg/engine"
	"github.com/cuemby/orchestrator/pkg/metrics"
	"github.com/cuemby/orchestrator/pkg/types"
	"github.com/cuemby/orchestrator/pkg/vcs"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(engine.Config{DataDir: t.TempDir(), VCS: vcs.NewFakeAdapter()})
	require.NoError(t, eng.Start())
	for _, name := range []string{"registry", "supervisor", "messagebus", "consolidator"} {
		metrics.RegisterComponent(name, true, "started")
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
	})
	return NewServer(eng, "127.0.0.1:0"), eng
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListWorkersEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/workers", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var workers []types.Worker
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workers))
	assert.Empty(t, workers)
}

func TestGetWorkerNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/workers/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNotFound, body.Code)
}

func TestSpawnWorkersRejectsOutOfRangeCount(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/workers", spawnRequest{
		ProjectScope: "/repo",
		Name:         "reviewer",
		BaseRevision: "master",
		Command:      "true",
		Count:        11,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpawnWorkersRejectsMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/workers", spawnRequest{Name: "reviewer"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsolidationLifecycleViaTransport(t *testing.T) {
	srv, eng := newTestServer(t)

	eng.Registry.Register(&types.Worker{
		ID:           "worker-a",
		ProjectScope: "/repo",
		WorktreePath: "/repo/.orch/worktrees/worker-a",
		Status:       types.WorkerStatusActive,
	})

	createRec := doJSON(t, srv.Router(), http.MethodPost, "/consolidations", createConsolidationRequest{
		ProjectScope: "/repo",
		BaseRevision: "master",
		WorkerIDs:    []string{"worker-a"},
	})
	require.Equal(t, http.StatusCreated, createRec.Code)

	var con types.Consolidation
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &con))
	assert.Equal(t, types.ConsolidationStatusPending, con.Status)

	listRec := doJSON(t, srv.Router(), http.MethodGet, "/consolidations", nil)
	assert.Equal(t, http.StatusOK, listRec.Code)

	delRec := doJSON(t, srv.Router(), http.MethodDelete, "/consolidations/"+con.ID, nil)
	assert.Equal(t, http.StatusNoContent, delRec.Code)

	missingRec := doJSON(t, srv.Router(), http.MethodGet, "/consolidations/"+con.ID, nil)
	assert.Equal(t, http.StatusNotFound, missingRec.Code)
}

func TestCreateBarrierViaTransport(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/coordination/barriers", createBarrierRequest{
		Expected: []string{"worker-a", "worker-b"},
		Timeout:  "2s",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["id"])
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/health", "/ready", "/live", "/metrics"} {
		rec := doJSON(t, srv.Router(), http.MethodGet, path, nil)
		assert.Equalf(t, http.StatusOK, rec.Code, "path %s", path)
	}
}
