// Package task loads the task definition file that describes what a run
// should fix and how.
package task

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/verifix/internal/config"
	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/internal/patch"
	"github.com/ShayCichocki/verifix/pkg/models"
)

// Task is one unit of work for a single checkout.
type Task struct {
	ID          string          `yaml:"id"`
	Statement   string          `yaml:"statement"`
	TestCommand string          `yaml:"test_command,omitempty"`
	Strategy    string          `yaml:"strategy,omitempty"`
	Patch       *patch.Recipe   `yaml:"patch,omitempty"`
	Remediation RemediationTask `yaml:"remediation,omitempty"`
}

// RemediationTask overrides the dependency repair settings.
type RemediationTask struct {
	Policy  string            `yaml:"policy,omitempty"`
	Aliases map[string]string `yaml:"aliases,omitempty"`
}

const defaultStatement = "The import tests in openlibrary/tests/core/test_imports.py fail because " +
	"ImportItem has no find_staged_or_pending static method. Add it so that it " +
	"returns import items in the staged or pending state whose ia_id matches any " +
	"of the given identifiers prefixed with each source."

// Default returns the built-in task: restore the staged-or-pending import
// lookup the import tests exercise.
func Default() *Task {
	recipe := patch.DefaultRecipe()
	return &Task{
		ID:        "import-item-find-staged-or-pending",
		Statement: defaultStatement,
		Patch:     &recipe,
	}
}

// Load reads a task file. Unknown keys are rejected.
func Load(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.New(errkind.Config, "load task", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a task definition.
func Parse(data []byte) (*Task, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t Task
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errkind.Errorf(errkind.Config, "parse task", "task file is empty")
		}
		return nil, errkind.New(errkind.Config, "parse task", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the task's own fields. The patch recipe is checked only
// when the task supplies one.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errkind.Errorf(errkind.Config, "validate task", "id is required")
	}
	if t.Strategy != "" && !models.Strategy(t.Strategy).Valid() {
		return errkind.Errorf(errkind.Config, "validate task", "unknown strategy %q", t.Strategy)
	}
	if p := t.Remediation.Policy; p != "" {
		switch p {
		case "install", "reinstall", "stub":
		default:
			return errkind.Errorf(errkind.Config, "validate task", "unknown remediation policy %q", p)
		}
	}
	if t.Patch != nil {
		if err := t.Patch.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Apply overlays the task's settings onto cfg. Flags are applied after this
// and win over both.
func (t *Task) Apply(cfg *config.Config) {
	if t.TestCommand != "" {
		cfg.Validation.TestCommand = t.TestCommand
	}
	if t.Strategy != "" {
		cfg.Run.Strategy = t.Strategy
	}
	if t.Remediation.Policy != "" {
		cfg.Remediation.Policy = t.Remediation.Policy
	}
	if len(t.Remediation.Aliases) > 0 {
		merged := make(map[string]string, len(cfg.Remediation.Aliases)+len(t.Remediation.Aliases))
		for k, v := range cfg.Remediation.Aliases {
			merged[k] = v
		}
		for k, v := range t.Remediation.Aliases {
			merged[k] = v
		}
		cfg.Remediation.Aliases = merged
	}
}

// Recipe returns the patch recipe for the run. Tasks without one use the
// built-in recipe. include is used when the task names no globs.
func (t *Task) Recipe(include []string) patch.Recipe {
	recipe := patch.DefaultRecipe()
	if t.Patch != nil {
		recipe = *t.Patch
	}
	if len(recipe.Include) == 0 {
		recipe.Include = include
	}
	return recipe
}

// Prompt renders the task for the reasoning service.
func (t *Task) Prompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %s\n\n", t.ID)
	sb.WriteString(strings.TrimSpace(t.Statement))
	sb.WriteString("\n")
	if t.Patch != nil {
		fmt.Fprintf(&sb, "\nThe fix belongs in the class declared as `%s`.\n", strings.TrimSpace(t.Patch.ClassHeader))
	}
	return sb.String()
}
