// Package plan models the task decomposition the Architect produces:
// a DAG of nodes, each with the files it may touch and a behavioral
// contract the verifier scores against.
package plan

import (
	"fmt"
	"strings"

	"github.com/eonseed/perspt/internal/energy"
)

// Status tracks a node through the orchestration loop
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCommitted  Status = "committed"
	StatusAborted    Status = "aborted"
)

// WeightedTest names a test whose failure contributes to logical energy
// according to its criticality
type WeightedTest struct {
	Name        string             `json:"name"`
	Criticality energy.Criticality `json:"criticality"`
}

// Contract is the behavioral contract a node's change must satisfy
type Contract struct {
	Invariants        []string       `json:"invariants,omitempty"`
	ForbiddenPatterns []string       `json:"forbidden_patterns,omitempty"`
	Tests             []WeightedTest `json:"tests,omitempty"`
}

// Node is one unit of work in the plan
type Node struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	DependsOn    []string  `json:"depends_on,omitempty"`
	ContextFiles []string  `json:"context_files,omitempty"`
	OutputFiles  []string  `json:"output_files,omitempty"`
	Contract     *Contract `json:"contract,omitempty"`
	Status       Status    `json:"status,omitempty"`
}

// TaskPlan is the Architect's decomposition of the user task
type TaskPlan struct {
	Task  string  `json:"task"`
	Nodes []*Node `json:"nodes"`
}

// DecompositionError reports why a plan is unusable
type DecompositionError struct {
	Reason string
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("invalid task plan: %s", e.Reason)
}

// Validate checks the structural invariants every plan must hold:
// at least one node, unique non-empty IDs, dependencies that exist,
// and no dependency cycles.
func (p *TaskPlan) Validate() error {
	if len(p.Nodes) == 0 {
		return &DecompositionError{Reason: "plan has no nodes"}
	}

	byID := make(map[string]*Node, len(p.Nodes))
	for _, n := range p.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return &DecompositionError{Reason: "node with empty id"}
		}
		if _, dup := byID[n.ID]; dup {
			return &DecompositionError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		byID[n.ID] = n
	}

	for _, n := range p.Nodes {
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return &DecompositionError{Reason: fmt.Sprintf("node %q depends on itself", n.ID)}
			}
			if _, ok := byID[dep]; !ok {
				return &DecompositionError{Reason: fmt.Sprintf("node %q depends on unknown node %q", n.ID, dep)}
			}
		}
	}

	if cycle := findCycle(p.Nodes); len(cycle) > 0 {
		return &DecompositionError{Reason: "dependency cycle: " + strings.Join(cycle, " -> ")}
	}
	return nil
}

// Ready returns pending nodes whose dependencies have all committed,
// in plan order
func (p *TaskPlan) Ready() []*Node {
	status := make(map[string]Status, len(p.Nodes))
	for _, n := range p.Nodes {
		status[n.ID] = n.Status
	}

	var ready []*Node
	for _, n := range p.Nodes {
		if n.Status != StatusPending && n.Status != "" {
			continue
		}
		ok := true
		for _, dep := range n.DependsOn {
			if status[dep] != StatusCommitted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n)
		}
	}
	return ready
}

// Done reports whether every node reached a terminal status
func (p *TaskPlan) Done() bool {
	for _, n := range p.Nodes {
		if n.Status != StatusCommitted && n.Status != StatusAborted {
			return false
		}
	}
	return true
}

// Node returns the node with the given id, or nil
func (p *TaskPlan) Node(id string) *Node {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// findCycle runs Kahn's algorithm; if nodes remain, a DFS over the
// residue reconstructs one cycle for the error message.
func findCycle(nodes []*Node) []string {
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if _, ok := indegree[n.ID]; !ok {
			indegree[n.ID] = 0
		}
		for _, dep := range n.DependsOn {
			indegree[n.ID]++
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var queue []string
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed == len(indegree) {
		return nil
	}

	// Residue nodes all sit on or behind a cycle; walk dependencies
	// until an id repeats.
	deps := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		deps[n.ID] = n.DependsOn
	}

	var start string
	for _, n := range nodes {
		if indegree[n.ID] > 0 {
			start = n.ID
			break
		}
	}

	seen := make(map[string]int)
	path := []string{}
	current := start
	for {
		if idx, ok := seen[current]; ok {
			return append(path[idx:], current)
		}
		seen[current] = len(path)
		path = append(path, current)

		next := ""
		for _, dep := range deps[current] {
			if indegree[dep] > 0 {
				next = dep
				break
			}
		}
		if next == "" {
			return path
		}
		current = next
	}
}
