package patch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/internal/report"
	"github.com/ShayCichocki/verifix/pkg/models"
)

// Applier performs recipe insertions against a repository checkout.
type Applier struct {
	events *report.EventLog
	logger *zap.Logger
}

// NewApplier creates an applier. events may be nil.
func NewApplier(events *report.EventLog, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{events: events, logger: logger.Named("patch")}
}

// Apply inserts recipe.Method into the class named by recipe.ClassHeader.
//
// If the signature already occurs anywhere in the target file, nothing is
// written and AlreadyPresent is reported, so repeated calls leave the file
// byte-identical to the first application. A missing class header is
// errkind.PatchTargetNotFound and must abort the run.
func (a *Applier) Apply(ctx context.Context, root string, recipe Recipe) (models.PatchRecord, error) {
	if err := recipe.Validate(); err != nil {
		return models.PatchRecord{}, err
	}

	rel, err := Locate(ctx, root, recipe.ClassHeader, recipe.Include)
	if err != nil {
		a.events.Emit(report.EventPatch, zap.String("recipe", recipe.String()), zap.String("error", err.Error()))
		return models.PatchRecord{}, err
	}
	rec := models.PatchRecord{TargetFile: filepath.ToSlash(rel)}
	path := filepath.Join(root, rel)

	info, err := os.Stat(path)
	if err != nil {
		return rec, fmt.Errorf("stat patch target: %w", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("read patch target: %w", err)
	}

	if bytes.Contains(content, []byte(recipe.Signature)) {
		rec.AlreadyPresent = true
		a.logger.Info("method already present", zap.String("file", rec.TargetFile))
		a.emit(rec)
		return rec, nil
	}

	anc, err := findAnchor(ctx, content, recipe.ClassHeader)
	if err != nil {
		return rec, errkind.New(errkind.PatchTargetNotFound, "patch.anchor", fmt.Errorf("%s: %w", rec.TargetFile, err))
	}

	updated, line := insert(string(content), anc, recipe.Method)
	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		return rec, fmt.Errorf("write patch target: %w", err)
	}

	rec.Applied = true
	rec.InsertionLine = line
	rec.Anchor = anc.Source
	a.logger.Info("method inserted",
		zap.String("file", rec.TargetFile),
		zap.Int("line", line),
		zap.String("anchor", anc.Source))
	a.emit(rec)
	return rec, nil
}

func (a *Applier) emit(rec models.PatchRecord) {
	a.events.Emit(report.EventPatch,
		zap.String("file", rec.TargetFile),
		zap.Bool("already_present", rec.AlreadyPresent),
		zap.Bool("applied", rec.Applied),
		zap.Int("insertion_line", rec.InsertionLine),
		zap.String("anchor", rec.Anchor))
}

// insert places method before anc.Line with blank-line separation on both
// sides. It returns the new content and the 1-based line of the method's
// first line.
func insert(content string, anc anchor, method string) (string, int) {
	lines := strings.Split(content, "\n")
	at := anc.Line
	if at > len(lines) {
		at = len(lines)
	}

	block := []string{""}
	block = append(block, indent(method, anc.Indent)...)
	if at < len(lines) && strings.TrimSpace(lines[at]) != "" {
		block = append(block, "")
	}

	out := make([]string, 0, len(lines)+len(block))
	out = append(out, lines[:at]...)
	out = append(out, block...)
	out = append(out, lines[at:]...)
	return strings.Join(out, "\n"), at + 2
}

// indent strips the method's common leading whitespace and re-indents every
// non-blank line with prefix.
func indent(method, prefix string) []string {
	lines := strings.Split(strings.TrimRight(method, "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}

	common := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if n := len(leadingWhitespace(l)); common < 0 || n < common {
			common = n
		}
	}
	if common < 0 {
		common = 0
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			out[i] = ""
			continue
		}
		out[i] = prefix + l[common:]
	}
	return out
}
