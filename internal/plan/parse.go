package plan

import (
	"encoding/json"
	"strings"
)

// Parse extracts a TaskPlan from a model response. The JSON may arrive
// bare, inside a ```json fence, or surrounded by prose; the first
// parseable object wins. The returned plan is validated.
func Parse(response string) (*TaskPlan, error) {
	candidate := extractJSON(response)
	if candidate == "" {
		return nil, &DecompositionError{Reason: "no JSON object in response"}
	}

	var p TaskPlan
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		return nil, &DecompositionError{Reason: "malformed plan JSON: " + err.Error()}
	}

	for _, n := range p.Nodes {
		if n.Status == "" {
			n.Status = StatusPending
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// extractJSON pulls the most plausible JSON object out of a response
func extractJSON(response string) string {
	// Fenced block first.
	if idx := strings.Index(response, "```json"); idx >= 0 {
		rest := response[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(response, "```"); idx >= 0 {
		rest := response[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			inner := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(inner, "{") {
				return inner
			}
		}
	}

	// Fall back to the outermost braces.
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		return strings.TrimSpace(response[start : end+1])
	}
	return ""
}
