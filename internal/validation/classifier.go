package validation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultFailureMarkers are the whole-word markers pytest prints for failed
// and errored cases.
var DefaultFailureMarkers = []string{"FAILED", "ERROR"}

var (
	// ModuleNotFoundError: No module named 'foo.bar'
	moduleNotFoundPattern = regexp.MustCompile(`ModuleNotFoundError: No module named '([^']+)'`)
	// ImportError: cannot import name 'x' from 'foo.bar' (/path/...)
	importFromPattern = regexp.MustCompile(`ImportError: .* from '([^']+)'`)

	summaryCountPattern    = regexp.MustCompile(`\b(\d+) (passed|failed|errors?|warnings?|skipped|xfailed|xpassed|deselected)\b`)
	summaryDurationPattern = regexp.MustCompile(`\bin \d+(?:\.\d+)?s\b`)
)

// Classification holds the counts derived from one execution's output.
type Classification struct {
	ErrorCount          int
	PassCount           int
	WarningCount        int
	MissingDependencies []string
}

// Classifier derives failure counts and missing dependencies from test output.
// It holds only compiled patterns and is safe for concurrent use.
type Classifier struct {
	markers *regexp.Regexp
}

// NewClassifier builds a classifier counting lines that contain any of the
// given markers as a whole word. Empty input selects DefaultFailureMarkers.
func NewClassifier(markers ...string) *Classifier {
	if len(markers) == 0 {
		markers = DefaultFailureMarkers
	}
	quoted := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			quoted = append(quoted, regexp.QuoteMeta(m))
		}
	}
	if len(quoted) == 0 {
		quoted = []string{"FAILED", "ERROR"}
	}
	return &Classifier{
		markers: regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`),
	}
}

// Classify inspects stdout and stderr. The result depends only on the input text.
func (c *Classifier) Classify(stdout, stderr string) Classification {
	var out Classification
	deps := make(map[string]struct{})
	var summary string

	for _, text := range []string{stdout, stderr} {
		for _, line := range strings.Split(text, "\n") {
			if c.markers.MatchString(line) {
				out.ErrorCount++
			}
			if m := moduleNotFoundPattern.FindStringSubmatch(line); m != nil {
				deps[m[1]] = struct{}{}
			}
			if m := importFromPattern.FindStringSubmatch(line); m != nil {
				deps[m[1]] = struct{}{}
			}
			if isSummaryLine(line) {
				summary = line
			}
		}
	}

	if summary != "" {
		counts := summaryCounts(summary)
		out.PassCount = counts["passed"]
		out.WarningCount = counts["warning"]
	}

	if len(deps) > 0 {
		out.MissingDependencies = make([]string, 0, len(deps))
		for d := range deps {
			out.MissingDependencies = append(out.MissingDependencies, d)
		}
		sort.Strings(out.MissingDependencies)
	}
	return out
}

// isSummaryLine matches the final pytest line, e.g.
// "==== 1 failed, 3 passed, 2 warnings in 0.12s ====".
func isSummaryLine(line string) bool {
	return summaryDurationPattern.MatchString(line) && summaryCountPattern.MatchString(line)
}

func summaryCounts(line string) map[string]int {
	counts := make(map[string]int)
	for _, m := range summaryCountPattern.FindAllStringSubmatch(line, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		counts[strings.TrimSuffix(m[2], "s")] += n
	}
	return counts
}
