// Package consolidator analyzes per-worker diffs against a base revision,
// detects and classifies conflicts between workers, scores results by
// quality, and turns user resolutions into a deterministic merge plan
// that is then applied to a fresh checkout of the base revision.
package consolidator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/orchestrator/pkg/events"
	"github.com/cuemby/orchestrator/pkg/log"
	"github.com/cuemby/orchestrator/pkg/metrics"
	"github.com/cuemby/orchestrator/pkg/types"
	"github.com/cuemby/orchestrator/pkg/vcs"
)

const cacheTTL = 5 * time.Second

// ErrNotFound is returned for operations on an unknown consolidation id.
var ErrNotFound = fmt.Errorf("consolidator: not found")

// ErrInvalidPath is returned by Resolve when a resolution names a path not
// present in the preview.
var ErrInvalidPath = fmt.Errorf("consolidator: path not in preview")

// ErrNotReady is returned when Export is called before Resolve produced a
// plan.
var ErrNotReady = fmt.Errorf("consolidator: merge plan not ready")

// Participant is one worker contributing to a consolidation.
type Participant struct {
	WorkerID     string
	WorktreePath string
	Branch       string
}

// CreateRequest describes a new consolidation.
type CreateRequest struct {
	ProjectScope string
	BaseRevision string
	Participants []Participant
}

// Consolidator owns Consolidation records and the diff/scoring pipeline
// that produces their preview, plan, and result.
type Consolidator struct {
	adapter vcs.Adapter
	broker  *events.Broker
	path    string

	mu             sync.RWMutex
	consolidations map[string]*types.Consolidation
	participants   map[string][]Participant // consolidation id -> participants

	cacheMu    sync.Mutex
	cacheAt    time.Time
	cacheList  []types.Consolidation
}

// New creates a Consolidator persisting to <dataDir>/consolidations.json.
func New(dataDir string, adapter vcs.Adapter, broker *events.Broker) *Consolidator {
	return &Consolidator{
		adapter:        adapter,
		broker:         broker,
		path:           filepath.Join(dataDir, "consolidations.json"),
		consolidations: make(map[string]*types.Consolidation),
		participants:   make(map[string][]Participant),
	}
}

// Start loads any existing mirror from disk.
func (c *Consolidator) Start() error {
	if err := c.load(); err != nil {
		log.WithComponent("consolidator").Error().Err(err).Msg("failed to load consolidations mirror, starting empty")
	}
	return nil
}

// Create registers a new pending consolidation.
func (c *Consolidator) Create(req CreateRequest) types.Consolidation {
	ids := make([]string, 0, len(req.Participants))
	for _, p := range req.Participants {
		ids = append(ids, p.WorkerID)
	}

	con := &types.Consolidation{
		ID:           uuid.NewString(),
		ProjectScope: req.ProjectScope,
		BaseRevision: req.BaseRevision,
		Participants: ids,
		Status:       types.ConsolidationStatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	c.mu.Lock()
	c.consolidations[con.ID] = con
	c.participants[con.ID] = req.Participants
	c.mu.Unlock()

	c.persist()
	metrics.ConsolidationsTotal.WithLabelValues("created").Inc()
	return *con
}

// Get returns a snapshot of a consolidation by id.
func (c *Consolidator) Get(id string) (types.Consolidation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	con, ok := c.consolidations[id]
	if !ok {
		return types.Consolidation{}, false
	}
	return *con, true
}

// List returns snapshots of every consolidation, served from a 5-second
// read-through cache since the underlying records rarely change between
// Transport Surface polls.
func (c *Consolidator) List() []types.Consolidation {
	c.cacheMu.Lock()
	if time.Since(c.cacheAt) < cacheTTL && c.cacheList != nil {
		out := c.cacheList
		c.cacheMu.Unlock()
		return out
	}
	c.cacheMu.Unlock()

	c.mu.RLock()
	out := make([]types.Consolidation, 0, len(c.consolidations))
	for _, con := range c.consolidations {
		out = append(out, *con)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	c.cacheMu.Lock()
	c.cacheList = out
	c.cacheAt = time.Now()
	c.cacheMu.Unlock()

	return out
}

// Delete removes a consolidation and its derived records.
func (c *Consolidator) Delete(id string) bool {
	c.mu.Lock()
	_, ok := c.consolidations[id]
	if ok {
		delete(c.consolidations, id)
		delete(c.participants, id)
	}
	c.mu.Unlock()
	if ok {
		c.persist()
	}
	return ok
}

// Analyze fetches each participant's diff against the base revision,
// scores every changed file, detects cross-participant conflicts, and
// stores the resulting MergePreview. It transitions the consolidation
// pending -> analyzing -> analyzed.
func (c *Consolidator) Analyze(ctx context.Context, id string) (types.MergePreview, error) {
	con, participants, ok := c.snapshot(id)
	if !ok {
		return types.MergePreview{}, ErrNotFound
	}

	c.setStatus(id, types.ConsolidationStatusAnalyzing)
	timer := metrics.NewTimer()

	diffsByWorker := make(map[string]map[string]fileDiff)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range participants {
		p := p
		g.Go(func() error {
			raw, err := c.adapter.Diff(gctx, con.ProjectScope, p.WorktreePath, con.BaseRevision)
			if err != nil {
				return fmt.Errorf("diff worker %s: %w", p.WorkerID, err)
			}
			files := parseUnifiedDiff(raw)
			byPath := make(map[string]fileDiff, len(files))
			for _, f := range files {
				byPath[f.path] = f
			}
			mu.Lock()
			diffsByWorker[p.WorkerID] = byPath
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		timer.ObserveDurationVec(metrics.ConsolidationDuration, "analyze")
		return types.MergePreview{}, fmt.Errorf("vcs_failure: %w", err)
	}

	preview := buildPreview(diffsByWorker)

	c.mu.Lock()
	if con2, ok := c.consolidations[id]; ok {
		con2.Preview = &preview
		con2.Status = types.ConsolidationStatusAnalyzed
		con2.UpdatedAt = time.Now()
	}
	c.mu.Unlock()

	timer.ObserveDurationVec(metrics.ConsolidationDuration, "analyze")
	for _, conf := range preview.Conflicts {
		metrics.ConflictsDetectedTotal.WithLabelValues(string(conf.Type)).Inc()
	}
	log.WithConsolidationID(id).Info().
		Int("files", preview.TotalFiles).
		Int("conflicts", len(preview.Conflicts)).
		Msg("analysis complete")
	c.publish(id, "analyzed")
	c.persist()

	return preview, nil
}

// buildPreview aggregates per-worker file diffs into a MergePreview:
// metrics, quality scores, and cross-participant conflicts per path.
func buildPreview(diffsByWorker map[string]map[string]fileDiff) types.MergePreview {
	// pathToWorkers: every path touched, and by whom.
	pathToWorkers := make(map[string][]string)
	for workerID, byPath := range diffsByWorker {
		for path := range byPath {
			pathToWorkers[path] = append(pathToWorkers[path], workerID)
		}
	}

	paths := make([]string, 0, len(pathToWorkers))
	for path := range pathToWorkers {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var files []types.FilePreview
	var conflicts []types.Conflict

	for _, path := range paths {
		workerIDs := pathToWorkers[path]
		sort.Strings(workerIDs)

		perWorker := make(map[string]fileDiff, len(workerIDs))
		metricsByWorker := make(map[string]types.FileMetrics, len(workerIDs))
		for _, wID := range workerIDs {
			fd := diffsByWorker[wID][path]
			perWorker[wID] = fd
			metricsByWorker[wID] = computeMetrics(fd)
		}

		peers := make([]types.FileMetrics, 0, len(metricsByWorker))
		for _, m := range metricsByWorker {
			peers = append(peers, m)
		}

		// One FilePreview entry per worker that touched the path; the
		// highest-total-score worker is recorded first so downstream
		// display/sorting favors it, but all contributors are present.
		entries := make([]types.FilePreview, 0, len(workerIDs))
		for _, wID := range workerIDs {
			m := metricsByWorker[wID]
			score := computeScore(m, peers)
			entries = append(entries, types.FilePreview{
				Path:         path,
				SourceWorker: wID,
				Score:        score,
				Metrics:      m,
			})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Score.Total > entries[j].Score.Total })
		files = append(files, entries...)

		if len(workerIDs) > 1 {
			conflicts = append(conflicts, detectConflicts(path, perWorker)...)
		}
	}

	conflictingPaths := make(map[string]bool)
	for _, conf := range conflicts {
		conflictingPaths[conf.Path] = true
	}

	preview := types.MergePreview{
		TotalFiles:          len(paths),
		Conflicting:         len(conflictingPaths),
		AutoMergeable:       len(paths) - len(conflictingPaths),
		Files:               files,
		Conflicts:           conflicts,
		RecommendedStrategy: recommendStrategy(conflicts),
	}
	return preview
}

// Resolve validates a set of per-path resolutions against the stored
// preview and produces a deterministic MergePlan, transitioning the
// consolidation to ready.
func (c *Consolidator) Resolve(ctx context.Context, id string, resolutions []types.Resolution) (types.MergePlan, error) {
	con, participants, ok := c.snapshot(id)
	if !ok {
		return types.MergePlan{}, ErrNotFound
	}
	if con.Preview == nil {
		return types.MergePlan{}, ErrNotReady
	}

	byPath := make(map[string][]types.FilePreview)
	for _, f := range con.Preview.Files {
		byPath[f.Path] = append(byPath[f.Path], f)
	}

	worktreeByWorker := make(map[string]string, len(participants))
	for _, p := range participants {
		worktreeByWorker[p.WorkerID] = p.WorktreePath
	}

	conflictsByPath := make(map[string][]types.Conflict)
	for _, conf := range con.Preview.Conflicts {
		conflictsByPath[conf.Path] = append(conflictsByPath[conf.Path], conf)
	}

	sort.Slice(resolutions, func(i, j int) bool { return resolutions[i].Path < resolutions[j].Path })

	var plan types.MergePlan
	for _, res := range resolutions {
		candidates, ok := byPath[res.Path]
		if !ok {
			return types.MergePlan{}, fmt.Errorf("%w: %s", ErrInvalidPath, res.Path)
		}

		entry, err := resolveEntry(res, candidates, conflictsByPath[res.Path], worktreeByWorker, c.adapter, ctx, con)
		if err != nil {
			return types.MergePlan{}, err
		}
		if entry != nil {
			plan.Entries = append(plan.Entries, *entry)
		}
	}

	c.mu.Lock()
	if con2, ok := c.consolidations[id]; ok {
		con2.Plan = &plan
		con2.Status = types.ConsolidationStatusReady
		con2.UpdatedAt = time.Now()
	}
	c.mu.Unlock()

	c.publish(id, "ready")
	c.persist()
	return plan, nil
}

// resolveEntry turns one caller resolution into a plan entry (or nil for
// reject). For merge/keep-ours/keep-theirs/voting it reads the chosen
// worker's worktree content for the path; for union it reads the chosen
// worker's content (the highest-scoring worker's when none is chosen) and
// marks the entry as a union, without combining the other workers'
// import/export additions into it; for manual it uses caller-supplied
// bytes.
func resolveEntry(
	res types.Resolution,
	candidates []types.FilePreview,
	conflicts []types.Conflict,
	worktreeByWorker map[string]string,
	adapter vcs.Adapter,
	ctx context.Context,
	con types.Consolidation,
) (*types.PlanEntry, error) {
	switch res.Action {
	case types.ActionReject:
		return nil, nil

	case types.ActionManual:
		return &types.PlanEntry{Path: res.Path, Content: res.ManualContent}, nil

	case types.ActionKeepOurs:
		worker := firstWorker(conflicts, true)
		if worker == "" {
			worker = candidates[0].SourceWorker
		}
		return readEntry(ctx, adapter, worktreeByWorker, worker, res.Path)

	case types.ActionKeepTheirs:
		worker := firstWorker(conflicts, false)
		if worker == "" && len(candidates) > 1 {
			worker = candidates[1].SourceWorker
		} else if worker == "" {
			worker = candidates[0].SourceWorker
		}
		return readEntry(ctx, adapter, worktreeByWorker, worker, res.Path)

	case types.ActionMerge, types.ActionVoting:
		worker := res.ChosenWorker
		if worker == "" {
			worker = candidates[0].SourceWorker // highest quality score, see buildPreview
		}
		return readEntry(ctx, adapter, worktreeByWorker, worker, res.Path)

	case types.ActionUnion:
		worker := res.ChosenWorker
		if worker == "" {
			worker = candidates[0].SourceWorker
		}
		entry, err := readEntry(ctx, adapter, worktreeByWorker, worker, res.Path)
		if err != nil {
			return nil, err
		}
		entry.Union = true
		return entry, nil

	default:
		return nil, fmt.Errorf("consolidator: unknown resolution action %q", res.Action)
	}
}

func firstWorker(conflicts []types.Conflict, ours bool) string {
	for _, c := range conflicts {
		if ours {
			return c.WorkerA
		}
		return c.WorkerB
	}
	return ""
}

func readEntry(ctx context.Context, adapter vcs.Adapter, worktreeByWorker map[string]string, workerID, path string) (*types.PlanEntry, error) {
	worktree, ok := worktreeByWorker[workerID]
	if !ok {
		return nil, fmt.Errorf("consolidator: unknown participant %s", workerID)
	}
	content, err := os.ReadFile(filepath.Join(worktree, path))
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", path, workerID, err)
	}
	return &types.PlanEntry{Path: path, SourceWorker: workerID, Content: content}, nil
}

// Export applies the stored MergePlan onto a fresh checkout of the base
// revision, commits it to targetBranch, and transitions the consolidation
// to completed iff every file applied successfully.
func (c *Consolidator) Export(ctx context.Context, id, targetBranch, message string) (types.MergeResult, error) {
	con, _, ok := c.snapshot(id)
	if !ok {
		return types.MergeResult{}, ErrNotFound
	}
	if con.Plan == nil {
		return types.MergeResult{}, ErrNotReady
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ConsolidationDuration, "export")

	exportPath := filepath.Join(con.ProjectScope, ".orch", "worktrees", "export-"+id)
	_, err := c.adapter.CreateWorktree(ctx, con.ProjectScope, exportPath, targetBranch, con.BaseRevision)
	if err != nil {
		return types.MergeResult{}, fmt.Errorf("vcs_failure: %w", err)
	}
	defer func() { _ = c.adapter.RemoveWorktree(context.Background(), con.ProjectScope, exportPath) }()

	var result types.MergeResult
	for _, entry := range con.Plan.Entries {
		dest := filepath.Join(exportPath, entry.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			result.Failed = append(result.Failed, types.MergeFailure{Path: entry.Path, Error: err.Error()})
			continue
		}
		content := entry.Content
		if entry.Union {
			content = append(content, '\n')
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			result.Failed = append(result.Failed, types.MergeFailure{Path: entry.Path, Error: err.Error()})
			continue
		}
		result.Merged = append(result.Merged, entry.Path)
	}

	completed := len(result.Failed) == 0
	if len(result.Merged) > 0 {
		commitID, err := c.adapter.CommitAll(ctx, con.ProjectScope, exportPath, message)
		if err != nil {
			completed = false
			result.Failed = append(result.Failed, types.MergeFailure{Path: "*commit*", Error: err.Error()})
		} else {
			result.CommitID = commitID
		}
	}

	c.mu.Lock()
	if con2, ok := c.consolidations[id]; ok {
		con2.Result = &result
		if completed {
			con2.Status = types.ConsolidationStatusCompleted
		}
		con2.UpdatedAt = time.Now()
	}
	c.mu.Unlock()

	status := "completed"
	if !completed {
		status = "partial_failure"
	}
	log.WithConsolidationID(id).Info().
		Int("merged", len(result.Merged)).
		Int("failed", len(result.Failed)).
		Str("commit", result.CommitID).
		Msg("export " + status)
	metrics.ConsolidationsTotal.WithLabelValues(status).Inc()
	c.publish(id, status)
	c.persist()

	return result, nil
}

func (c *Consolidator) snapshot(id string) (types.Consolidation, []Participant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	con, ok := c.consolidations[id]
	if !ok {
		return types.Consolidation{}, nil, false
	}
	return *con, c.participants[id], true
}

func (c *Consolidator) setStatus(id string, status types.ConsolidationStatus) {
	c.mu.Lock()
	if con, ok := c.consolidations[id]; ok {
		con.Status = status
		con.UpdatedAt = time.Now()
	}
	c.mu.Unlock()
	c.publish(id, string(status))
}

func (c *Consolidator) publish(id, phase string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(events.TopicConsolidationPhase, phase, map[string]string{"consolidation_id": id})
}

// mirror is the on-disk document: the consolidation records plus each
// one's participants, which carry the worktree path and branch Analyze
// needs after a restart.
type mirror struct {
	Consolidations []*types.Consolidation   `json:"consolidations"`
	Participants   map[string][]Participant `json:"participants"`
}

func (c *Consolidator) persist() {
	c.mu.Lock()
	snapshot := mirror{
		Consolidations: make([]*types.Consolidation, 0, len(c.consolidations)),
		Participants:   make(map[string][]Participant, len(c.participants)),
	}
	for _, con := range c.consolidations {
		snapshot.Consolidations = append(snapshot.Consolidations, con)
	}
	for id, parts := range c.participants {
		snapshot.Participants[id] = parts
	}
	c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		log.WithComponent("consolidator").Error().Err(err).Msg("failed to create consolidations dir")
		return
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		log.WithComponent("consolidator").Error().Err(err).Msg("failed to marshal consolidations")
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.WithComponent("consolidator").Error().Err(err).Msg("failed to write consolidations temp file")
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		log.WithComponent("consolidator").Error().Err(err).Msg("failed to rename consolidations file")
	}

	c.cacheMu.Lock()
	c.cacheAt = time.Time{}
	c.cacheMu.Unlock()
}

func (c *Consolidator) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read consolidations file: %w", err)
	}

	var snapshot mirror
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.WithComponent("consolidator").Error().Err(err).Msg("consolidations mirror corrupt, resetting")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.consolidations = make(map[string]*types.Consolidation, len(snapshot.Consolidations))
	for _, con := range snapshot.Consolidations {
		c.consolidations[con.ID] = con
	}
	c.participants = make(map[string][]Participant, len(snapshot.Participants))
	for id, parts := range snapshot.Participants {
		c.participants[id] = parts
	}
	return nil
}
