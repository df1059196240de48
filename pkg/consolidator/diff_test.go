package consolidator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHunkHeaderUsesBaseRevisionSide(t *testing.T) {
	// The base-revision ("-a,b") and new-file ("+c,d") sides diverge once
	// the worker's patch has already added or removed lines earlier in the
	// file. The hunk's coordinate must track the base-revision side, since
	// that's the only coordinate comparable across two workers' diffs.
	start, length := parseHunkHeader("@@ -42,5 +50,8 @@ func existing() {")
	assert.Equal(t, 42, start)
	assert.Equal(t, 5, length)
}

func TestParseUnifiedDiffOverlapAcrossDivergentHunkSizes(t *testing.T) {
	// Worker A's patch has already inserted lines earlier in shared.go, so
	// its hunk header's new-file side ("+16,4") is offset from the
	// base-revision side ("-10,3"). Worker B never touched anything
	// earlier in the file, so its hunk header's two sides coincide
	// ("-10,3 +10,4"). Naively comparing "+c,d" coordinates would place
	// A's hunk at new-file line 16 and B's at line 10 — no overlap.
	// Comparing "-a,b" coordinates correctly finds both hunks addressing
	// the same base-revision lines.
	diffA := `diff --git a/shared.go b/shared.go
index 1111111..2222222 100644
--- a/shared.go
+++ b/shared.go
@@ -10,3 +16,4 @@
 func existing() {}
+func addedByA() {}
`
	diffB := `diff --git a/shared.go b/shared.go
index 1111111..2222222 100644
--- a/shared.go
+++ b/shared.go
@@ -10,3 +10,4 @@
 func existing() {}
+func addedByB() {}
`

	filesA := parseUnifiedDiff(diffA)
	filesB := parseUnifiedDiff(diffB)
	require.Len(t, filesA, 1)
	require.Len(t, filesB, 1)

	conflicts := detectConflicts("shared.go", map[string]fileDiff{
		"worker-a": filesA[0],
		"worker-b": filesB[0],
	})

	var sameLine int
	for _, c := range conflicts {
		if c.Type == "same-line" {
			sameLine++
		}
	}
	assert.Equal(t, 1, sameLine, "base-revision-coordinate hunks from A and B must be detected as overlapping")
}
