package patch

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

// DefaultInclude is searched when a recipe names no globs.
var DefaultInclude = []string{"**/*.py"}

// skipDirs are never searched for a patch target.
var skipDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".venv":         true,
	"venv":          true,
	"node_modules":  true,
	"__pycache__":   true,
	"site-packages": true,
	".tox":          true,
	".verifix":      true,
}

// Locate returns the repository-relative path of the first file, in lexical
// order, whose content contains header. It fails with
// errkind.PatchTargetNotFound when no file does.
func Locate(ctx context.Context, root, header string, include []string) (string, error) {
	if len(include) == 0 {
		include = DefaultInclude
	}
	fsys := os.DirFS(root)

	seen := make(map[string]bool)
	var candidates []string
	for _, pattern := range include {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return "", errkind.New(errkind.Config, "patch.locate", fmt.Errorf("glob %q: %w", pattern, err))
		}
		for _, m := range matches {
			if !seen[m] && !skipped(m) {
				seen[m] = true
				candidates = append(candidates, m)
			}
		}
	}
	sort.Strings(candidates)

	needle := []byte(header)
	for _, rel := range candidates {
		if err := errkind.FromContext(ctx, "patch.locate"); err != nil {
			return "", err
		}
		data, err := fs.ReadFile(fsys, rel)
		if err != nil {
			continue
		}
		if bytes.Contains(data, needle) {
			return filepath.FromSlash(rel), nil
		}
	}

	return "", errkind.Errorf(errkind.PatchTargetNotFound, "patch.locate",
		"no file under %s contains %q", root, header)
}

func skipped(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, p := range parts[:len(parts)-1] {
		if skipDirs[p] {
			return true
		}
	}
	return false
}
