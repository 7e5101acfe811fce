// Package api drives the reasoning service through a closed registry of
// repository tools until the test command passes or the budget runs out.
package api

import (
	"context"
	"fmt"
	"strings"
)

// Reasoner returns the next action text for a prompt. Implementations
// normalise their reply to a single {"tool": ..., "args": {...}} object when
// the service offers native tool calls, and return raw text otherwise.
type Reasoner interface {
	Next(ctx context.Context, prompt Prompt) (string, error)
	// Name identifies the provider and model in logs.
	Name() string
}

// Exchange is one completed turn as fed back to the reasoner.
type Exchange struct {
	// CallID ties the action to its result for providers with native tool calls.
	CallID string
	// Response is the raw reply text.
	Response string
	// Action is the parsed action, nil when the reply was malformed.
	Action Action
	// Result is the tool output or the parse failure.
	Result  string
	IsError bool
}

// Feedback is the text returned to the reasoner after the exchange.
func (x Exchange) Feedback() string {
	if x.Action == nil {
		return fmt.Sprintf("Your reply could not be parsed: %s\n%s", x.Result, formatInstructions)
	}
	if x.IsError {
		return fmt.Sprintf("%s failed:\n%s", x.Action.Tool(), x.Result)
	}
	return fmt.Sprintf("%s result:\n%s", x.Action.Tool(), x.Result)
}

// Prompt is the full conversation for one turn.
type Prompt struct {
	System  string
	Task    string
	History []Exchange
}

// Render flattens the prompt to plain text for the prompt log.
func (p Prompt) Render() string {
	var sb strings.Builder
	sb.WriteString("## System\n\n")
	sb.WriteString(p.System)
	sb.WriteString("\n\n## Task\n\n")
	sb.WriteString(p.Task)
	sb.WriteString("\n")
	for i, x := range p.History {
		sb.WriteString(renderTurn(i+1, x))
	}
	return sb.String()
}

func renderTurn(i int, x Exchange) string {
	return fmt.Sprintf("\n## Turn %d\n\n### Response\n\n%s\n\n### Feedback\n\n%s\n", i, x.Response, x.Feedback())
}

const formatInstructions = `Reply with exactly one JSON object of the form {"tool": "<name>", "args": {...}} and nothing else.`

// SystemPrompt builds the instructions shared by every provider.
func SystemPrompt(testCommand string) string {
	var sb strings.Builder
	sb.WriteString("You are fixing a failing test suite in a Python repository.\n")
	sb.WriteString("Work one tool call at a time. After every tool call the test command is re-run;\n")
	sb.WriteString("the task is finished when it exits 0.\n\n")
	fmt.Fprintf(&sb, "Test command: %s\n\n", testCommand)
	sb.WriteString("Available tools (all arguments are strings, paths are relative to the repository root):\n")
	sb.WriteString(DescribeTools())
	sb.WriteString("\n")
	sb.WriteString(formatInstructions)
	sb.WriteString("\n")
	return sb.String()
}
