package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/pkg/models"
)

var (
	// ErrUnknownTool is returned for an action naming a tool outside the registry.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrNoAction is returned when a response carries no JSON object.
	ErrNoAction = errors.New("no action object in response")
	// ErrMultipleActions is returned when a response carries more than one object.
	ErrMultipleActions = errors.New("response must contain exactly one action")
)

// Action is one validated tool call. The concrete types are ReadFile,
// WriteFile, EditFile and RunBash.
type Action interface {
	Tool() models.ToolName
	Args() map[string]string
	isAction()
}

// ReadFile reads a file.
type ReadFile struct {
	Path string
}

// WriteFile replaces a file's contents.
type WriteFile struct {
	Path    string
	Content string
}

// EditFile replaces the first occurrence of Old with New.
type EditFile struct {
	Path string
	Old  string
	New  string
}

// RunBash runs a shell command.
type RunBash struct {
	Command string
}

func (ReadFile) Tool() models.ToolName  { return models.ToolReadFile }
func (WriteFile) Tool() models.ToolName { return models.ToolWriteFile }
func (EditFile) Tool() models.ToolName  { return models.ToolEditFile }
func (RunBash) Tool() models.ToolName   { return models.ToolRunBash }

func (a ReadFile) Args() map[string]string { return map[string]string{"path": a.Path} }
func (a WriteFile) Args() map[string]string {
	return map[string]string{"path": a.Path, "content": a.Content}
}
func (a EditFile) Args() map[string]string {
	return map[string]string{"path": a.Path, "old_text": a.Old, "new_text": a.New}
}
func (a RunBash) Args() map[string]string { return map[string]string{"command": a.Command} }

func (ReadFile) isAction()  {}
func (WriteFile) isAction() {}
func (EditFile) isAction()  {}
func (RunBash) isAction()   {}

// envelope is the wire shape every provider reply is normalised to.
type envelope struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// ParseAction extracts exactly one action object from a reasoner reply.
// Markdown code fences and surrounding prose are tolerated. Every failure is
// an errkind.MalformedAgentResponse.
func ParseAction(raw string) (Action, error) {
	a, err := parseAction(raw)
	if err != nil {
		return nil, errkind.New(errkind.MalformedAgentResponse, "parse action", err)
	}
	return a, nil
}

func parseAction(raw string) (Action, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(obj))
	dec.DisallowUnknownFields()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	if env.Tool == "" {
		return nil, errors.New(`action is missing "tool"`)
	}

	spec, ok := LookupTool(models.ToolName(env.Tool))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, env.Tool)
	}

	var generic any = map[string]any{}
	if len(env.Args) > 0 {
		if err := json.Unmarshal(env.Args, &generic); err != nil {
			return nil, fmt.Errorf("decode %s args: %w", spec.Name, err)
		}
	}
	if err := spec.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid %s args: %w", spec.Name, err)
	}

	var args map[string]string
	if err := json.Unmarshal(env.Args, &args); err != nil {
		return nil, fmt.Errorf("decode %s args: %w", spec.Name, err)
	}

	switch spec.Name {
	case models.ToolReadFile:
		return ReadFile{Path: args["path"]}, nil
	case models.ToolWriteFile:
		return WriteFile{Path: args["path"], Content: args["content"]}, nil
	case models.ToolEditFile:
		return EditFile{Path: args["path"], Old: args["old_text"], New: args["new_text"]}, nil
	case models.ToolRunBash:
		return RunBash{Command: args["command"]}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, env.Tool)
}

// extractObject returns the single top-level JSON object in s.
func extractObject(s string) (string, error) {
	s = stripFences(s)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoAction
	}

	dec := json.NewDecoder(strings.NewReader(s[start:]))
	var obj json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return "", fmt.Errorf("decode action: %w", err)
	}

	if hasObject(s[start+int(dec.InputOffset()):]) {
		return "", ErrMultipleActions
	}
	return string(obj), nil
}

// hasObject reports whether any '{' in s starts a complete JSON object.
// Braces in prose that do not decode are ignored.
func hasObject(s string) bool {
	for i := strings.IndexByte(s, '{'); i >= 0; {
		var obj map[string]json.RawMessage
		if json.NewDecoder(strings.NewReader(s[i:])).Decode(&obj) == nil {
			return true
		}
		next := strings.IndexByte(s[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return false
}

// stripFences removes a surrounding markdown code fence, keeping any prose.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "```")
	if open < 0 {
		return s
	}
	body := s[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
