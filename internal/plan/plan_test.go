package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eonseed/perspt/internal/energy"
)

func validPlan() *TaskPlan {
	return &TaskPlan{
		Task: "add feature",
		Nodes: []*Node{
			{ID: "a", Description: "first", Status: StatusPending},
			{ID: "b", Description: "second", DependsOn: []string{"a"}, Status: StatusPending},
			{ID: "c", Description: "third", DependsOn: []string{"a", "b"}, Status: StatusPending},
		},
	}
}

func TestValidateAcceptsDAG(t *testing.T) {
	assert.NoError(t, validPlan().Validate())
}

func TestValidateRejectsEmptyPlan(t *testing.T) {
	err := (&TaskPlan{}).Validate()
	var derr *DecompositionError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Reason, "no nodes")
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	p := &TaskPlan{Nodes: []*Node{{ID: "a"}, {ID: "a"}}}
	assert.ErrorContains(t, p.Validate(), "duplicate")
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	p := &TaskPlan{Nodes: []*Node{{ID: "a", DependsOn: []string{"ghost"}}}}
	assert.ErrorContains(t, p.Validate(), "unknown node")
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	p := &TaskPlan{Nodes: []*Node{{ID: "a", DependsOn: []string{"a"}}}}
	assert.ErrorContains(t, p.Validate(), "depends on itself")
}

func TestValidateRejectsCycle(t *testing.T) {
	p := &TaskPlan{Nodes: []*Node{
		{ID: "a", DependsOn: []string{"c"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}}

	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestReadyRespectsDependencies(t *testing.T) {
	p := validPlan()

	ready := p.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)

	p.Node("a").Status = StatusCommitted
	ready = p.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].ID)

	p.Node("b").Status = StatusCommitted
	ready = p.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "c", ready[0].ID)
}

func TestReadySkipsAbortedSubtree(t *testing.T) {
	p := validPlan()
	p.Node("a").Status = StatusAborted

	// b depends on a, which will never commit.
	assert.Empty(t, p.Ready())
	assert.False(t, p.Done())

	p.Node("b").Status = StatusAborted
	p.Node("c").Status = StatusAborted
	assert.True(t, p.Done())
}

func TestParseBareJSON(t *testing.T) {
	p, err := Parse(`{"task": "t", "nodes": [{"id": "a", "description": "do a"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "t", p.Task)
	require.Len(t, p.Nodes, 1)
	assert.Equal(t, StatusPending, p.Nodes[0].Status)
}

func TestParseFencedJSON(t *testing.T) {
	response := "Here is the plan:\n```json\n" +
		`{"task": "t", "nodes": [
			{"id": "a", "description": "first"},
			{"id": "b", "description": "second", "depends_on": ["a"],
			 "contract": {"tests": [{"name": "TestB", "criticality": "critical"}]}}
		]}` +
		"\n```\nLet me know.\n"

	p, err := Parse(response)
	require.NoError(t, err)
	require.Len(t, p.Nodes, 2)
	require.NotNil(t, p.Nodes[1].Contract)
	assert.Equal(t, energy.CriticalityCritical, p.Nodes[1].Contract.Tests[0].Criticality)
}

func TestParseJSONWithSurroundingProse(t *testing.T) {
	p, err := Parse(`Sure! {"task": "t", "nodes": [{"id": "a", "description": "x"}]} done.`)
	require.NoError(t, err)
	assert.Equal(t, "a", p.Nodes[0].ID)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, response := range []string{
		"no json here",
		"{not valid json}",
		`{"task": "t", "nodes": []}`,
	} {
		_, err := Parse(response)
		var derr *DecompositionError
		assert.ErrorAs(t, err, &derr, "response %q", response)
	}
}
