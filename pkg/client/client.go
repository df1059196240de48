// Package client is a thin HTTP wrapper around the Transport Surface, one
// method per operation, used by cmd/orchestratord's CLI subcommands.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/orchestrator/pkg/coordinator"
	"github.com/cuemby/orchestrator/pkg/resourcemon"
	"github.com/cuemby/orchestrator/pkg/types"
)

// Client wraps the orchestrator's HTTP API for CLI usage.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client targeting addr (e.g. "http://127.0.0.1:7777").
func NewClient(addr string) *Client {
	return &Client{
		baseURL: addr,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError mirrors the JSON shape of transport's unexported errorBody,
// which this package cannot refer to directly.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = *bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListWorkers fetches workers, optionally filtered by status or project.
func (c *Client) ListWorkers(ctx context.Context, status, project string) ([]types.Worker, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if project != "" {
		q.Set("project", project)
	}
	var out []types.Worker
	path := "/workers"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// GetWorker fetches a single worker by id.
func (c *Client) GetWorker(ctx context.Context, id string) (types.Worker, error) {
	var out types.Worker
	return out, c.do(ctx, http.MethodGet, "/workers/"+id, nil, &out)
}

// SpawnRequest mirrors transport's spawn payload.
type SpawnRequest struct {
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

// SpawnWorkers creates one or more workers.
func (c *Client) SpawnWorkers(ctx context.Context, req SpawnRequest) ([]types.Worker, error) {
	var out []types.Worker
	return out, c.do(ctx, http.MethodPost, "/workers", req, &out)
}

// TerminateWorker terminates a worker by id.
func (c *Client) TerminateWorker(ctx context.Context, id, reason string) error {
	path := "/workers/" + id
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// WorkerLogs fetches buffered stdout/stderr for a worker.
func (c *Client) WorkerLogs(ctx context.Context, id string, offset, count int) (stdout, stderr []string, err error) {
	var out struct {
		Stdout []string `json:"stdout"`
		Stderr []string `json:"stderr"`
	}
	path := fmt.Sprintf("/workers/%s/logs?offset=%d&count=%d", id, offset, count)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Stdout, out.Stderr, nil
}

// WorkerStats fetches resource statistics for a worker.
func (c *Client) WorkerStats(ctx context.Context, id string) (resourcemon.Stats, error) {
	var out resourcemon.Stats
	return out, c.do(ctx, http.MethodGet, "/workers/"+id+"/stats", nil, &out)
}

// WorkerDiff fetches a worker's unified diff against its base revision.
func (c *Client) WorkerDiff(ctx context.Context, id string) (string, error) {
	var out struct {
		Diff string `json:"diff"`
	}
	if err := c.do(ctx, http.MethodGet, "/workers/"+id+"/diff", nil, &out); err != nil {
		return "", err
	}
	return out.Diff, nil
}

// ListWorktrees lists worker-owned worktrees for a project.
func (c *Client) ListWorktrees(ctx context.Context, project string) ([]types.Worktree, error) {
	var out []types.Worktree
	return out, c.do(ctx, http.MethodGet, "/worktrees?project="+url.QueryEscape(project), nil, &out)
}

// CreateConsolidation registers a new consolidation over a set of workers.
func (c *Client) CreateConsolidation(ctx context.Context, projectScope, baseRevision string, workerIDs []string) (types.Consolidation, error) {
	req := map[string]any{
		"projectScope": projectScope,
		"baseRevision": baseRevision,
		"workerIds":    workerIDs,
	}
	var out types.Consolidation
	return out, c.do(ctx, http.MethodPost, "/consolidations", req, &out)
}

// ListConsolidations lists every consolidation.
func (c *Client) ListConsolidations(ctx context.Context) ([]types.Consolidation, error) {
	var out []types.Consolidation
	return out, c.do(ctx, http.MethodGet, "/consolidations", nil, &out)
}

// GetConsolidation fetches a consolidation by id.
func (c *Client) GetConsolidation(ctx context.Context, id string) (types.Consolidation, error) {
	var out types.Consolidation
	return out, c.do(ctx, http.MethodGet, "/consolidations/"+id, nil, &out)
}

// DeleteConsolidation removes a consolidation.
func (c *Client) DeleteConsolidation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/consolidations/"+id, nil, nil)
}

// AnalyzeConsolidation runs diff aggregation and conflict detection.
func (c *Client) AnalyzeConsolidation(ctx context.Context, id string) (types.MergePreview, error) {
	var out types.MergePreview
	return out, c.do(ctx, http.MethodPost, "/consolidations/"+id+"/analyze", nil, &out)
}

// ResolveConsolidation turns caller resolutions into a merge plan.
func (c *Client) ResolveConsolidation(ctx context.Context, id string, resolutions []types.Resolution) (types.MergePlan, error) {
	req := map[string]any{"resolutions": resolutions}
	var out types.MergePlan
	return out, c.do(ctx, http.MethodPost, "/consolidations/"+id+"/resolve", req, &out)
}

// ExportConsolidation applies the merge plan onto targetBranch.
func (c *Client) ExportConsolidation(ctx context.Context, id, targetBranch, message string) (types.MergeResult, error) {
	req := map[string]string{"targetBranch": targetBranch, "message": message}
	var out types.MergeResult
	return out, c.do(ctx, http.MethodPost, "/consolidations/"+id+"/export", req, &out)
}

// CreateBarrier registers a barrier over the given expected participants.
func (c *Client) CreateBarrier(ctx context.Context, expected []string, timeout time.Duration) (string, error) {
	req := map[string]any{"expected": expected, "timeout": timeout.String()}
	var out struct {
		ID string `json:"id"`
	}
	return out.ID, c.do(ctx, http.MethodPost, "/coordination/barriers", req, &out)
}

// SignalBarrier marks worker as arrived at barrier id.
func (c *Client) SignalBarrier(ctx context.Context, id, worker string) error {
	req := map[string]string{"worker": worker}
	return c.do(ctx, http.MethodPost, "/coordination/barriers/"+id+"/signal", req, nil)
}

// CreateElection starts a leader election over candidates.
func (c *Client) CreateElection(ctx context.Context, candidates []string, timeout time.Duration) (string, error) {
	req := map[string]any{"candidates": candidates, "timeout": timeout.String()}
	var out struct {
		ID string `json:"id"`
	}
	return out.ID, c.do(ctx, http.MethodPost, "/coordination/elections", req, &out)
}

// CastVote casts voter's vote for candidate in election id.
func (c *Client) CastVote(ctx context.Context, id, voter, candidate string) error {
	req := map[string]string{"voter": voter, "candidate": candidate}
	return c.do(ctx, http.MethodPost, "/coordination/elections/"+id+"/vote", req, nil)
}

// PartitionTask requests a pure partitioning of task across agentCount
// agents under strategy.
func (c *Client) PartitionTask(ctx context.Context, task map[string]any, agentCount int, strategy coordinator.Strategy, partitionKey string) ([]coordinator.Partition, error) {
	req := map[string]any{
		"task":         task,
		"agentCount":   agentCount,
		"strategy":     string(strategy),
		"partitionKey": partitionKey,
	}
	var out []coordinator.Partition
	return out, c.do(ctx, http.MethodPost, "/coordination/partition", req, &out)
}
