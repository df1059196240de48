package consolidator

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/cuemby/orchestrator/pkg/types"
)

// fileDiff is one file's hunks parsed out of a unified diff.
type fileDiff struct {
	path    string
	deleted bool
	hunks   []types.Hunk
	added   []string // all added lines, across hunks, for metrics/token scans
}

// parseUnifiedDiff parses a `git diff` unified-diff body into per-file
// hunk lists. It is a minimal parser sufficient for conflict detection and
// metrics, not a general patch-apply implementation.
func parseUnifiedDiff(diff string) []fileDiff {
	var files []fileDiff
	var cur *fileDiff

	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var curHunk *types.Hunk

	flushHunk := func() {
		if cur != nil && curHunk != nil {
			cur.hunks = append(cur.hunks, *curHunk)
			curHunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			files = append(files, *cur)
			cur = nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushFile()
			path := extractPath(line)
			cur = &fileDiff{path: path}
		case strings.HasPrefix(line, "deleted file mode"):
			if cur != nil {
				cur.deleted = true
			}
		case strings.HasPrefix(line, "@@ "):
			flushHunk()
			start, length := parseHunkHeader(line)
			curHunk = &types.Hunk{StartLine: start, Length: length}
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			text := strings.TrimPrefix(line, "+")
			if curHunk != nil {
				curHunk.Added = append(curHunk.Added, text)
			}
			if cur != nil {
				cur.added = append(cur.added, text)
			}
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			if curHunk != nil {
				curHunk.Removed = append(curHunk.Removed, strings.TrimPrefix(line, "-"))
			}
		}
	}
	flushFile()

	return files
}

func extractPath(diffGitLine string) string {
	// "diff --git a/path b/path"
	fields := strings.Fields(diffGitLine)
	for _, f := range fields {
		if strings.HasPrefix(f, "b/") {
			return strings.TrimPrefix(f, "b/")
		}
	}
	if len(fields) > 0 {
		return fields[len(fields)-1]
	}
	return ""
}

func parseHunkHeader(line string) (start, length int) {
	// "@@ -a,b +c,d @@ ..." — the hunk's coordinate is the base-revision
	// ("-a,b") side: every worker's diff is computed against the same base
	// revision, so that side is comparable across workers, while the
	// "+c,d" side drifts independently per worker as soon as an earlier
	// hunk in the same worker's patch changes line count.
	parts := strings.Fields(line)
	for _, p := range parts {
		if strings.HasPrefix(p, "-") {
			spec := strings.TrimPrefix(p, "-")
			nums := strings.SplitN(spec, ",", 2)
			start, _ = strconv.Atoi(nums[0])
			length = 1
			if len(nums) == 2 {
				length, _ = strconv.Atoi(nums[1])
			}
			return start, length
		}
	}
	return 0, 0
}
