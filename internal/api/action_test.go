package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/pkg/models"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Action
	}{
		{
			name: "read",
			raw:  `{"tool": "read_file", "args": {"path": "openlibrary/core/imports.py"}}`,
			want: ReadFile{Path: "openlibrary/core/imports.py"},
		},
		{
			name: "write",
			raw:  `{"tool": "write_file", "args": {"path": "a.py", "content": "x = 1\n"}}`,
			want: WriteFile{Path: "a.py", Content: "x = 1\n"},
		},
		{
			name: "edit",
			raw:  `{"tool": "edit_file", "args": {"path": "a.py", "old_text": "x = 1", "new_text": "x = 2"}}`,
			want: EditFile{Path: "a.py", Old: "x = 1", New: "x = 2"},
		},
		{
			name: "bash",
			raw:  `{"tool": "run_bash", "args": {"command": "pytest -q"}}`,
			want: RunBash{Command: "pytest -q"},
		},
		{
			name: "code fence",
			raw:  "```json\n{\"tool\": \"run_bash\", \"args\": {\"command\": \"ls\"}}\n```",
			want: RunBash{Command: "ls"},
		},
		{
			name: "leading prose",
			raw:  "I will look at the file first.\n{\"tool\": \"read_file\", \"args\": {\"path\": \"setup.py\"}}",
			want: ReadFile{Path: "setup.py"},
		},
		{
			name: "trailing prose with braces",
			raw:  "{\"tool\": \"read_file\", \"args\": {\"path\": \"setup.py\"}} then I'll check {x} and the ${HOME} setting",
			want: ReadFile{Path: "setup.py"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAction(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAction_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "empty", raw: "", wantErr: ErrNoAction},
		{name: "prose only", raw: "I think the bug is in imports.py", wantErr: ErrNoAction},
		{name: "unknown tool", raw: `{"tool": "delete_repo", "args": {}}`, wantErr: ErrUnknownTool},
		{
			name:    "two objects",
			raw:     `{"tool": "run_bash", "args": {"command": "ls"}} {"tool": "run_bash", "args": {"command": "pwd"}}`,
			wantErr: ErrMultipleActions,
		},
		{
			name:    "second object after prose",
			raw:     `{"tool": "run_bash", "args": {"command": "ls"}} and then {x} and {"tool": "run_bash", "args": {"command": "pwd"}}`,
			wantErr: ErrMultipleActions,
		},
		{name: "missing tool", raw: `{"args": {"path": "a.py"}}`},
		{name: "missing arg", raw: `{"tool": "write_file", "args": {"path": "a.py"}}`},
		{name: "extra arg", raw: `{"tool": "read_file", "args": {"path": "a.py", "offset": "3"}}`},
		{name: "wrong type", raw: `{"tool": "read_file", "args": {"path": 7}}`},
		{name: "extra envelope field", raw: `{"tool": "read_file", "args": {"path": "a.py"}, "why": "x"}`},
		{name: "truncated", raw: `{"tool": "read_file", "args": {"path": "a.py"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAction(tt.raw)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.Equal(t, errkind.MalformedAgentResponse, errkind.KindOf(err))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "error %v should wrap %v", err, tt.wantErr)
			}
		})
	}
}

func TestAction_ArgsRoundTrip(t *testing.T) {
	actions := []Action{
		ReadFile{Path: "a.py"},
		WriteFile{Path: "a.py", Content: "pass\n"},
		EditFile{Path: "a.py", Old: "a", New: "b"},
		RunBash{Command: "true"},
	}
	for _, a := range actions {
		spec, ok := LookupTool(a.Tool())
		require.True(t, ok, "tool %s not in registry", a.Tool())
		assert.Len(t, a.Args(), len(spec.Order))
		for _, key := range spec.Order {
			assert.Contains(t, a.Args(), key)
		}
	}
}

func TestToolDefinitions(t *testing.T) {
	defs := ToolDefinitions()
	require.Len(t, defs, 4)

	names := make(map[string]bool)
	for _, def := range defs {
		require.NotNil(t, def.OfTool)
		names[def.OfTool.Name] = true
		assert.NotEmpty(t, def.OfTool.InputSchema.Required, "tool %s has no required fields", def.OfTool.Name)
	}
	for _, name := range []models.ToolName{models.ToolReadFile, models.ToolWriteFile, models.ToolEditFile, models.ToolRunBash} {
		assert.True(t, names[string(name)], "missing tool definition %s", name)
	}
}

func TestSystemPrompt_ListsTools(t *testing.T) {
	prompt := SystemPrompt("pytest -q tests")
	assert.Contains(t, prompt, "pytest -q tests")
	for _, spec := range Tools() {
		assert.Contains(t, prompt, string(spec.Name))
	}
}
