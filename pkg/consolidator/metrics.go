package consolidator

import (
	"math"
	"strings"

	"github.com/cuemby/orchestrator/pkg/types"
)

var complexityTokens = []string{"if ", "if(", "for ", "for(", "case ", "while ", "while(", "catch ", "catch("}

// computeMetrics derives FileMetrics from the added lines of one worker's
// hunks against a path.
func computeMetrics(fd fileDiff) types.FileMetrics {
	m := types.FileMetrics{
		Lines:           len(fd.added),
		IsTestFile:      isTestFile(fd.path),
		NetLinesChanged: netLinesChanged(fd),
	}

	if m.Lines == 0 {
		return m
	}

	var totalLen, testLines int
	for _, line := range fd.added {
		totalLen += len(line)
		if len(line) > m.MaxLineLength {
			m.MaxLineLength = len(line)
		}
		if strings.Contains(line, "//") || strings.Contains(line, "#") || strings.Contains(line, "/*") {
			m.HasComments = true
		}
		lower := strings.ToLower(line)
		for _, tok := range complexityTokens {
			if strings.Contains(lower, tok) {
				m.Complexity++
			}
		}
		if isTestLine(line) {
			testLines++
		}
	}
	m.AvgLineLength = float64(totalLen) / float64(m.Lines)
	m.TestLineRatio = float64(testLines) / float64(m.Lines)

	return m
}

func netLinesChanged(fd fileDiff) int {
	added, removed := 0, 0
	for _, h := range fd.hunks {
		added += len(h.Added)
		removed += len(h.Removed)
	}
	return added - removed
}

func isTestFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "_test.") ||
		strings.Contains(lower, "/tests/") ||
		strings.Contains(lower, "/test/") ||
		strings.HasSuffix(lower, ".test.go") ||
		strings.HasSuffix(lower, ".spec.ts") ||
		strings.HasSuffix(lower, ".test.ts")
}

func isTestLine(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	return strings.HasPrefix(lower, "func test") ||
		strings.HasPrefix(lower, "it(") ||
		strings.HasPrefix(lower, "describe(") ||
		strings.HasPrefix(lower, "assert") ||
		strings.Contains(lower, "require.")
}

// computeScore derives the [0,1]-bounded QualityScore for one file, given
// this worker's metrics and the metrics contributed by every worker that
// touched the same path (including this one).
func computeScore(m types.FileMetrics, peers []types.FileMetrics) types.QualityScore {
	score := types.QualityScore{
		Consistency:  consistencyScore(m, peers),
		TestCoverage: testCoverageScore(m),
		CodeQuality:  codeQualityScore(m),
		Efficiency:   efficiencyScore(m),
	}
	score.Total = 0.30*score.Consistency + 0.25*score.TestCoverage + 0.30*score.CodeQuality + 0.15*score.Efficiency
	return score
}

func consistencyScore(m types.FileMetrics, peers []types.FileMetrics) float64 {
	if len(peers) <= 1 {
		return 1
	}
	contributions := make([]float64, 0, len(peers))
	for _, p := range peers {
		contributions = append(contributions, codeQualityScore(p))
	}
	return 1 - stddev(contributions)
}

func testCoverageScore(m types.FileMetrics) float64 {
	score := clamp01(m.TestLineRatio)
	if m.IsTestFile {
		score = clamp01(score + 0.2)
	}
	return score
}

func codeQualityScore(m types.FileMetrics) float64 {
	lineScore := 1.0
	if m.MaxLineLength > 120 {
		lineScore = clamp01(1 - float64(m.MaxLineLength-120)/200)
	}
	complexityScore := 1.0
	if m.Complexity > 20 {
		complexityScore = clamp01(1 - float64(m.Complexity-20)/40)
	}
	commentScore := 0.7
	if m.HasComments {
		commentScore = 1.0
	}
	return clamp01(0.4*lineScore + 0.4*complexityScore + 0.2*commentScore)
}

func efficiencyScore(m types.FileMetrics) float64 {
	abs := math.Abs(float64(m.NetLinesChanged))
	return clamp01(1 - abs/500)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sqDiffSum float64
	for _, v := range values {
		d := v - mean
		sqDiffSum += d * d
	}
	return math.Sqrt(sqDiffSum / float64(len(values)))
}
