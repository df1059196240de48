package consolidator

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cuemby/orchestrator/pkg/types"
)

var importRe = regexp.MustCompile(`^\s*import\s+(?:"([^"]+)"|(\w+)\s+"([^"]+)")`)
var exportRe = regexp.MustCompile(`^\s*(?:export\s+)?func\s+(\w+)\s*\(`)
var funcSigRe = regexp.MustCompile(`^\s*func\s+(\w+)\s*\(([^)]*)\)`)

// detectConflicts inspects every pair of participants that touched path
// and records a Conflict for each colliding pair of hunks.
func detectConflicts(path string, perWorker map[string]fileDiff) []types.Conflict {
	workerIDs := make([]string, 0, len(perWorker))
	for id := range perWorker {
		workerIDs = append(workerIDs, id)
	}
	sort.Strings(workerIDs)

	var conflicts []types.Conflict
	for i := 0; i < len(workerIDs); i++ {
		for j := i + 1; j < len(workerIDs); j++ {
			a, b := workerIDs[i], workerIDs[j]
			conflicts = append(conflicts, detectPairConflicts(path, a, perWorker[a], b, perWorker[b])...)
		}
	}
	return conflicts
}

func detectPairConflicts(path, aID string, a fileDiff, bID string, b fileDiff) []types.Conflict {
	var out []types.Conflict

	if a.deleted != b.deleted && (a.deleted || b.deleted) {
		out = append(out, types.Conflict{
			Path: path, Type: types.ConflictDeleteModify,
			WorkerA: aID, WorkerB: bID,
		})
	}

	for _, ha := range a.hunks {
		for _, hb := range b.hunks {
			if overlaps(ha, hb) {
				out = append(out, types.Conflict{
					Path: path, Type: types.ConflictSameLine,
					WorkerA: aID, WorkerB: bID,
					HunkA: ha, HunkB: hb,
					Overlap: overlapRange(ha, hb),
				})
			}
		}
	}

	if names := conflictingImportNames(a, b); len(names) > 0 {
		out = append(out, types.Conflict{Path: path, Type: types.ConflictImportConflict, WorkerA: aID, WorkerB: bID})
	}
	if names := conflictingExportNames(a, b); len(names) > 0 {
		out = append(out, types.Conflict{Path: path, Type: types.ConflictExportConflict, WorkerA: aID, WorkerB: bID})
	}
	if conflictingSignatures(a, b) {
		out = append(out, types.Conflict{Path: path, Type: types.ConflictStructural, WorkerA: aID, WorkerB: bID})
	}

	return out
}

func overlaps(a, b types.Hunk) bool {
	aEnd := a.StartLine + a.Length
	bEnd := b.StartLine + b.Length
	return a.StartLine < bEnd && b.StartLine < aEnd
}

func overlapRange(a, b types.Hunk) types.LineRange {
	start := a.StartLine
	if b.StartLine > start {
		start = b.StartLine
	}
	aEnd := a.StartLine + a.Length
	bEnd := b.StartLine + b.Length
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	return types.LineRange{Start: start, End: end}
}

func conflictingImportNames(a, b fileDiff) []string {
	aNames := importNames(a.added)
	bNames := importNames(b.added)
	return intersectDistinctPaths(aNames, bNames)
}

func conflictingExportNames(a, b fileDiff) []string {
	aNames := exportNames(a.added)
	bNames := exportNames(b.added)
	return intersectDistinctPaths(aNames, bNames)
}

// importNames maps imported symbol name -> import path, so two sides
// importing the same name from different paths can be distinguished from
// two sides happening to import the exact same thing (not a conflict).
func importNames(lines []string) map[string]string {
	out := make(map[string]string)
	for _, line := range lines {
		m := importRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		path := m[1]
		name := m[2]
		if path == "" {
			path = m[3]
		}
		if name == "" {
			parts := strings.Split(path, "/")
			name = parts[len(parts)-1]
		}
		out[name] = path
	}
	return out
}

func exportNames(lines []string) map[string]string {
	out := make(map[string]string)
	for _, line := range lines {
		m := exportRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out[m[1]] = line
	}
	return out
}

func intersectDistinctPaths(a, b map[string]string) []string {
	var names []string
	for name, pathA := range a {
		if pathB, ok := b[name]; ok && pathA != pathB {
			names = append(names, name)
		}
	}
	return names
}

// conflictingSignatures reports whether both sides change the signature of
// a declared function with the same name but a different parameter list.
func conflictingSignatures(a, b fileDiff) bool {
	aSigs := functionSignatures(a.added)
	bSigs := functionSignatures(b.added)
	for name, sigA := range aSigs {
		if sigB, ok := bSigs[name]; ok && sigA != sigB {
			return true
		}
	}
	return false
}

func functionSignatures(lines []string) map[string]string {
	out := make(map[string]string)
	for _, line := range lines {
		m := funcSigRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out[m[1]] = m[2]
	}
	return out
}

// recommendStrategy derives the default resolution strategy from the mix
// of conflict types observed.
func recommendStrategy(conflicts []types.Conflict) string {
	if len(conflicts) == 0 {
		return "auto"
	}

	counts := map[types.ConflictType]int{}
	for _, c := range conflicts {
		counts[c.Type]++
	}

	if counts[types.ConflictDeleteModify] > 0 {
		return "manual"
	}

	total := len(conflicts)
	importExport := counts[types.ConflictImportConflict] + counts[types.ConflictExportConflict]
	if importExport == total {
		return "union"
	}

	if counts[types.ConflictSameLine] >= (total+1)/2 {
		return "voting"
	}

	return "manual"
}
