package report

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ParseDiffStats summarizes a unified diff. An empty diff yields empty stats.
func ParseDiffStats(unified string) (*DiffStats, error) {
	stats := &DiffStats{Files: []string{}}
	if strings.TrimSpace(unified) == "" {
		return stats, nil
	}

	files, err := diff.NewMultiFileDiffReader(strings.NewReader(unified)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	for _, fd := range files {
		stats.Files = append(stats.Files, diffFileName(fd))
		s := fd.Stat()
		stats.Added += int(s.Added + s.Changed)
		stats.Deleted += int(s.Deleted + s.Changed)
	}
	return stats, nil
}

func diffFileName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix)
		}
	}
	return name
}
