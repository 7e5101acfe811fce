package remediation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// StubWriter synthesizes empty placeholder modules inside a repository so a
// dotted import resolves.
type StubWriter struct {
	root string
}

// NewStubWriter creates a writer rooted at the repository path.
func NewStubWriter(root string) *StubWriter {
	return &StubWriter{root: root}
}

// Create writes a/b/c.py for module "a.b.c", adding __init__.py to every
// directory it had to create. Existing files and packages are left alone.
// It returns the repository-relative paths it created.
func (s *StubWriter) Create(module string) ([]string, error) {
	parts := strings.Split(module, ".")
	for _, p := range parts {
		if !identifierPattern.MatchString(p) {
			return nil, fmt.Errorf("invalid module name %q", module)
		}
	}

	var created []string
	dir := s.root
	for _, p := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, p)
		info, err := os.Stat(dir)
		switch {
		case err == nil && !info.IsDir():
			return created, fmt.Errorf("stub %s: %s is not a directory", module, s.rel(dir))
		case err == nil:
			continue
		case !errors.Is(err, fs.ErrNotExist):
			return created, fmt.Errorf("stub %s: %w", module, err)
		}
		if err := os.Mkdir(dir, 0755); err != nil {
			return created, fmt.Errorf("stub %s: %w", module, err)
		}
		initPath := filepath.Join(dir, "__init__.py")
		if err := os.WriteFile(initPath, nil, 0644); err != nil {
			return created, fmt.Errorf("stub %s: %w", module, err)
		}
		created = append(created, s.rel(initPath))
	}

	leaf := parts[len(parts)-1]
	if _, err := os.Stat(filepath.Join(dir, leaf)); err == nil {
		return created, nil
	}
	file := filepath.Join(dir, leaf+".py")
	if _, err := os.Stat(file); err == nil {
		return created, nil
	}
	if err := os.WriteFile(file, nil, 0644); err != nil {
		return created, fmt.Errorf("stub %s: %w", module, err)
	}
	return append(created, s.rel(file)), nil
}

func (s *StubWriter) rel(path string) string {
	if r, err := filepath.Rel(s.root, path); err == nil {
		return filepath.ToSlash(r)
	}
	return path
}
