package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ShayCichocki/verifix/pkg/models"
)

// ToolSpec describes one entry of the closed tool registry.
type ToolSpec struct {
	Name        models.ToolName
	Description string
	// Params maps argument name to its description. Every argument is a
	// required string.
	Params map[string]string
	// Order is the argument order used when rendering the registry.
	Order []string

	schema *jsonschema.Schema
}

// Schema returns the JSON Schema object for the tool's arguments.
func (s ToolSpec) Schema() map[string]any {
	props := make(map[string]any, len(s.Params))
	for name, desc := range s.Params {
		props[name] = map[string]any{
			"type":        "string",
			"description": desc,
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             append([]string(nil), s.Order...),
		"additionalProperties": false,
	}
}

var registry = map[models.ToolName]*ToolSpec{
	models.ToolReadFile: {
		Name:        models.ToolReadFile,
		Description: "Read a file from the repository. Returns its contents with line numbers.",
		Params: map[string]string{
			"path": "Path to the file, relative to the repository root",
		},
		Order: []string{"path"},
	},
	models.ToolWriteFile: {
		Name:        models.ToolWriteFile,
		Description: "Write the full contents of a file. Creates parent directories if needed.",
		Params: map[string]string{
			"path":    "Path to the file, relative to the repository root",
			"content": "Complete new file contents",
		},
		Order: []string{"path", "content"},
	},
	models.ToolEditFile: {
		Name:        models.ToolEditFile,
		Description: "Replace the first occurrence of old_text with new_text in a file. Fails if old_text is absent.",
		Params: map[string]string{
			"path":     "Path to the file, relative to the repository root",
			"old_text": "Exact text to replace",
			"new_text": "Replacement text",
		},
		Order: []string{"path", "old_text", "new_text"},
	},
	models.ToolRunBash: {
		Name:        models.ToolRunBash,
		Description: "Run a shell command from the repository root. Returns exit code and output.",
		Params: map[string]string{
			"command": "Shell command to run",
		},
		Order: []string{"command"},
	},
}

func init() {
	for name, spec := range registry {
		s, err := compileSchema(spec.Schema())
		if err != nil {
			panic(fmt.Sprintf("compile schema for %s: %v", name, err))
		}
		spec.schema = s
	}
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	if err := c.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// Tools returns the registry sorted by name.
func Tools() []ToolSpec {
	out := make([]ToolSpec, 0, len(registry))
	for _, spec := range registry {
		out = append(out, *spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupTool returns the registry entry for name.
func LookupTool(name models.ToolName) (ToolSpec, bool) {
	spec, ok := registry[name]
	if !ok {
		return ToolSpec{}, false
	}
	return *spec, true
}

// ToolDefinitions returns the registry as Anthropic tool params.
func ToolDefinitions() []anthropic.ToolUnionParam {
	specs := Tools()
	defs := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema := spec.Schema()
		defs = append(defs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        string(spec.Name),
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
					Required:   spec.Order,
				},
			},
		})
	}
	return defs
}

// DescribeTools renders the registry for prompts sent to providers without
// native tool calling.
func DescribeTools() string {
	var sb strings.Builder
	for _, spec := range Tools() {
		fmt.Fprintf(&sb, "- %s(%s): %s\n", spec.Name, strings.Join(spec.Order, ", "), spec.Description)
	}
	return sb.String()
}
