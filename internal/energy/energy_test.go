package energy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eonseed/perspt/internal/diagnostics"
)

func TestTotalIsWeightedSum(t *testing.T) {
	w := Weights{Alpha: 1.0, Beta: 0.5, Gamma: 2.0}
	c := Components{Syntactic: 2, Structural: 4, Logical: 3}

	assert.InDelta(t, 1.0*2+0.5*4+2.0*3, w.Total(c), 1e-9)
}

func TestTotalZeroOnlyWhenAllComponentsZero(t *testing.T) {
	w := DefaultWeights()

	assert.Zero(t, w.Total(Components{}))
	assert.True(t, Components{}.IsZero())

	for _, c := range []Components{
		{Syntactic: 0.001},
		{Structural: 0.01},
		{Logical: 1},
	} {
		assert.Greater(t, w.Total(c), 0.0, "components %+v", c)
		assert.False(t, c.IsZero())
	}
}

func TestTotalIsDeterministic(t *testing.T) {
	w := DefaultWeights()
	c := Components{Syntactic: 1.1, Structural: 0.07, Logical: 13}

	first := w.Total(c)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, w.Total(c))
	}
}

func TestStableThresholdIsInclusive(t *testing.T) {
	assert.True(t, Stable(0.1, 0.1))
	assert.True(t, Stable(0.0, 0.1))
	assert.False(t, Stable(0.100001, 0.1))
}

func TestSyntacticSeveritySum(t *testing.T) {
	diags := []diagnostics.Diagnostic{
		{Severity: diagnostics.SeverityError},
		{Severity: diagnostics.SeverityError},
		{Severity: diagnostics.SeverityWarning},
		{Severity: diagnostics.SeverityInfo},
		{Severity: diagnostics.SeverityHint},
	}

	assert.InDelta(t, 2.0+0.1+0.01+0.001, Syntactic(diags), 1e-9)
	assert.Zero(t, Syntactic(nil))
}

func TestLogicalCriticalityWeights(t *testing.T) {
	assert.Equal(t, 10.0, CriticalityCritical.Weight())
	assert.Equal(t, 3.0, CriticalityHigh.Weight())
	assert.Equal(t, 1.0, CriticalityLow.Weight())

	failed := []Criticality{CriticalityCritical, CriticalityHigh, CriticalityLow, CriticalityLow}
	assert.Equal(t, 15.0, Logical(failed))
	assert.Zero(t, Logical(nil))
}

const sampleDiff = `--- a/main.go
+++ b/main.go
@@ -1,4 +1,5 @@
 package main

-func main() {}
+func main() {
+}
`

func TestStructuralEmptyDiffIsZero(t *testing.T) {
	assert.Zero(t, Structural(""))
	assert.Zero(t, Structural("   \n"))
}

func TestStructuralCountsFilesHunksLines(t *testing.T) {
	v := Structural(sampleDiff)
	// one file, one hunk, one removed and two added lines
	assert.InDelta(t, fileCost+hunkCost+3*lineCost, v, 1e-9)
}

func TestStructuralGrowsWithSpread(t *testing.T) {
	two := sampleDiff + `--- a/other.go
+++ b/other.go
@@ -1,2 +1,2 @@
 package main
-var x = 1
+var x = 2
`
	assert.Greater(t, Structural(two), Structural(sampleDiff))
}

func TestStructuralUnparseableFallsBackToLineCount(t *testing.T) {
	garbage := "+added line\n-removed line\nnot a diff\n"
	v := Structural(garbage)
	require.Greater(t, v, 0.0)
	assert.InDelta(t, fileCost+2*lineCost, v, 1e-9)
}

func TestChangedLines(t *testing.T) {
	assert.Equal(t, 3, ChangedLines(sampleDiff))
	assert.Equal(t, 0, ChangedLines(""))
}
