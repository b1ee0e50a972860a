package orchestrator

import (
	"fmt"
	"strings"

	"github.com/eonseed/perspt/internal/diagnostics"
	"github.com/eonseed/perspt/internal/plan"
	"github.com/eonseed/perspt/internal/verify"
)

const architectSystemPrompt = `You are the planning tier of an autonomous code-modification agent.
Decompose the user's task into a plan of small, independently verifiable work nodes.

Respond with a single JSON object and nothing else:
{
  "task": "<the task restated>",
  "nodes": [
    {
      "id": "<short-kebab-id>",
      "description": "<what this node changes and why>",
      "depends_on": ["<ids of nodes that must commit first>"],
      "context_files": ["<files to read before changing anything>"],
      "output_files": ["<files this node is expected to touch>"],
      "contract": {
        "invariants": ["<behavior that must keep holding>"],
        "forbidden_patterns": ["<regexes that must not appear in the diff>"],
        "tests": [{"name": "<test name>", "criticality": "critical|high|low"}]
      }
    }
  ]
}

Rules:
- Every node must be small enough to verify with the project's test suite.
- depends_on must form a DAG over the listed node ids.
- Prefer three to seven nodes; a trivial task may be a single node.`

const actuatorSystemPrompt = `You are the change-producing tier of an autonomous code-modification agent.
You work on exactly one plan node at a time inside a sandboxed workspace.

You act only through tool calls. Respond with a JSON array of calls and nothing else:
[
  {"kind": "search", "pattern": "<regex>", "path_glob": "<optional glob>"},
  {"kind": "read", "path": "<workspace-relative path>"},
  {"kind": "write", "path": "<workspace-relative path>", "content": "<full new file content>"},
  {"kind": "shell", "command": "<command to run in the workspace>"}
]

Rules:
- write replaces the whole file; include the complete content.
- Stay within the node's scope; do not touch unrelated files.
- When the node's change is complete, respond with the single word DONE.`

const verifierSystemPrompt = `You are the review tier of an autonomous code-modification agent.
You are given a work node's behavioral invariants, the unified diff of a proposed change,
and the mechanical verification evidence. Judge which invariants the change violates.

Respond with a JSON array containing the violated invariant strings, verbatim.
If no invariant is violated, respond with the single word OK.`

const speculatorSystemPrompt = `You are a cheap gatekeeper for an expensive model call.
Given a work node and the remaining budget, judge whether attempting the change now is worthwhile.
Respond with exactly one line: PROCEED or SKIP, optionally followed by a short reason.`

func buildPlanPrompt(task string, fileListing []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task:\n%s\n", task)
	if len(fileListing) > 0 {
		sb.WriteString("\nTop-level workspace entries:\n")
		for _, f := range fileListing {
			fmt.Fprintf(&sb, "  %s\n", f)
		}
	}
	return sb.String()
}

func buildNodePrompt(node *plan.Node, contextFiles map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Work node %s:\n%s\n", node.ID, node.Description)

	if node.Contract != nil {
		if len(node.Contract.Invariants) > 0 {
			sb.WriteString("\nInvariants to preserve:\n")
			for _, inv := range node.Contract.Invariants {
				fmt.Fprintf(&sb, "  - %s\n", inv)
			}
		}
		if len(node.Contract.ForbiddenPatterns) > 0 {
			sb.WriteString("\nThe diff must not match:\n")
			for _, p := range node.Contract.ForbiddenPatterns {
				fmt.Fprintf(&sb, "  - %s\n", p)
			}
		}
		if len(node.Contract.Tests) > 0 {
			sb.WriteString("\nTests that must pass:\n")
			for _, wt := range node.Contract.Tests {
				fmt.Fprintf(&sb, "  - %s (%s)\n", wt.Name, wt.Criticality)
			}
		}
	}

	if len(node.OutputFiles) > 0 {
		fmt.Fprintf(&sb, "\nExpected output files: %s\n", strings.Join(node.OutputFiles, ", "))
	}

	for path, content := range contextFiles {
		fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", path, content)
	}
	return sb.String()
}

// buildCorrectionFeedback turns verification evidence into retry
// directions for the actuator
func buildCorrectionFeedback(outcome *verify.Outcome, total float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The previous attempt was rejected (energy %.3f). Fix the following and try again:\n", total)

	for _, d := range outcome.Diagnostics {
		if d.Severity == diagnostics.SeverityError || d.Severity == diagnostics.SeverityWarning {
			fmt.Fprintf(&sb, "  %s:%d:%d: %s: %s\n", d.Path, d.Line, d.Column, d.Severity, d.Message)
		}
	}
	for _, name := range outcome.FailedTests {
		fmt.Fprintf(&sb, "  failing test: %s\n", name)
	}
	for _, v := range outcome.Violations {
		fmt.Fprintf(&sb, "  contract violation: %s\n", v)
	}
	if len(outcome.Degraded) > 0 {
		fmt.Fprintf(&sb, "  (unavailable checks: %s)\n", strings.Join(outcome.Degraded, ", "))
	}
	return sb.String()
}

func buildVerifierPrompt(node *plan.Node, diffText string, outcome *verify.Outcome) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Work node %s: %s\n", node.ID, node.Description)

	sb.WriteString("\nInvariants:\n")
	for _, inv := range node.Contract.Invariants {
		fmt.Fprintf(&sb, "  - %s\n", inv)
	}

	if len(outcome.FailedTests) > 0 {
		fmt.Fprintf(&sb, "\nFailing tests: %s\n", strings.Join(outcome.FailedTests, ", "))
	}
	if len(outcome.Violations) > 0 {
		fmt.Fprintf(&sb, "\nMechanical violations: %s\n", strings.Join(outcome.Violations, "; "))
	}

	fmt.Fprintf(&sb, "\nProposed change:\n%s", diffText)
	return sb.String()
}

func buildSpeculatorPrompt(node *plan.Node, estCostUSD, remainingUSD float64) string {
	return fmt.Sprintf(
		"Node %s: %s\nEstimated cost of the attempt: $%.4f\nRemaining budget: $%.4f\nPROCEED or SKIP?",
		node.ID, node.Description, estCostUSD, remainingUSD)
}
