// Package tools defines the closed set of actions the model can take
// and the executor that gates them through sanitizer, policy and
// sandbox before anything touches the workspace.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind enumerates the tool variants. There are exactly four; anything
// else a model asks for is rejected at parse time.
type Kind string

const (
	KindSearch Kind = "search"
	KindRead   Kind = "read"
	KindWrite  Kind = "write"
	KindShell  Kind = "shell"
)

// Call is one requested tool invocation
type Call struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// Search
	PathGlob string `json:"path_glob,omitempty"`
	Pattern  string `json:"pattern,omitempty"`

	// Read and Write
	Path string `json:"path,omitempty"`
	// Write
	Content string `json:"content,omitempty"`

	// Shell
	Command string `json:"command,omitempty"`
}

// Validate checks the call carries the fields its kind requires
func (c *Call) Validate() error {
	switch c.Kind {
	case KindSearch:
		if c.Pattern == "" {
			return fmt.Errorf("search call %s: pattern required", c.ID)
		}
	case KindRead:
		if c.Path == "" {
			return fmt.Errorf("read call %s: path required", c.ID)
		}
	case KindWrite:
		if c.Path == "" {
			return fmt.Errorf("write call %s: path required", c.ID)
		}
	case KindShell:
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("shell call %s: command required", c.ID)
		}
	default:
		return fmt.Errorf("unknown tool kind %q", c.Kind)
	}
	return nil
}

// ParseCalls extracts tool calls from a model response. Calls arrive as
// a JSON array, bare or fenced. Missing IDs are filled in sequentially.
func ParseCalls(response string) ([]Call, error) {
	candidate := extractJSONArray(response)
	if candidate == "" {
		return nil, fmt.Errorf("no tool call array in response")
	}

	var calls []Call
	if err := json.Unmarshal([]byte(candidate), &calls); err != nil {
		return nil, fmt.Errorf("malformed tool calls: %w", err)
	}

	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = fmt.Sprintf("call-%d", i+1)
		}
		if err := calls[i].Validate(); err != nil {
			return nil, err
		}
	}
	return calls, nil
}

func extractJSONArray(response string) string {
	if idx := strings.Index(response, "```json"); idx >= 0 {
		rest := response[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			inner := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(inner, "[") {
				return inner
			}
		}
	}

	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start >= 0 && end > start {
		return strings.TrimSpace(response[start : end+1])
	}
	return ""
}
