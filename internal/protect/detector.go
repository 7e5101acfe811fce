package protect

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Detector checks repository-relative paths against protected globs.
// Patterns use doublestar syntax and match the path and each of its parent
// directories, so ".git/**" also covers ".git" itself.
type Detector struct {
	patterns []string
	mu       sync.RWMutex
}

// New creates a detector. With no patterns the defaults are used.
func New(patterns ...string) *Detector {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	d := &Detector{}
	for _, p := range patterns {
		d.AddPattern(p)
	}
	return d
}

// IsProtected checks if a path matches any protected pattern.
func (d *Detector) IsProtected(path string) bool {
	protected, _ := d.IsProtectedWithReason(path)
	return protected
}

// IsProtectedWithReason checks if a path is protected and returns the
// pattern that matched.
func (d *Detector) IsProtectedWithReason(path string) (bool, string) {
	if d == nil {
		return false, ""
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	normalized := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "./")
	for _, pattern := range d.patterns {
		for candidate := normalized; candidate != "" && candidate != "."; candidate = parent(candidate) {
			if ok, _ := doublestar.Match(pattern, candidate); ok {
				return true, "path matches protected pattern " + pattern
			}
			if ok, _ := doublestar.Match(pattern, candidate+"/"); ok {
				return true, "path matches protected pattern " + pattern
			}
		}
	}
	return false, ""
}

// AddPattern adds a glob pattern. Invalid and empty patterns are ignored.
func (d *Detector) AddPattern(pattern string) {
	pattern = strings.TrimSpace(filepath.ToSlash(pattern))
	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = append(d.patterns, pattern)
}

// Patterns returns a copy of the active patterns.
func (d *Detector) Patterns() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.patterns...)
}

func parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}
