// Package energy implements the stability energy function that decides
// whether a speculated change commits, retries or aborts. Evaluation is
// pure: the same components and weights always produce the same value.
package energy

import (
	"github.com/eonseed/perspt/internal/consts"
	"github.com/eonseed/perspt/internal/diagnostics"
)

// Weights scale the three energy components
type Weights struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// DefaultWeights returns the standard component weights
func DefaultWeights() Weights {
	return Weights{
		Alpha: consts.DefaultAlpha,
		Beta:  consts.DefaultBeta,
		Gamma: consts.DefaultGamma,
	}
}

// Components are the raw, unweighted energy terms. Each is non-negative;
// zero means the corresponding check found nothing wrong.
type Components struct {
	Syntactic  float64 `json:"syntactic"`
	Structural float64 `json:"structural"`
	Logical    float64 `json:"logical"`
}

// IsZero reports whether every component is exactly zero
func (c Components) IsZero() bool {
	return c.Syntactic == 0 && c.Structural == 0 && c.Logical == 0
}

// Total computes V = alpha*v_syn + beta*v_str + gamma*v_log
func (w Weights) Total(c Components) float64 {
	return w.Alpha*c.Syntactic + w.Beta*c.Structural + w.Gamma*c.Logical
}

// Stable reports whether the energy value is at or below the threshold.
// The comparison is inclusive: a value exactly at the threshold commits.
func Stable(v, threshold float64) bool {
	return v <= threshold
}

// Criticality ranks a contract test by how much its failure matters
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityLow      Criticality = "low"
)

// Weight returns the logical-energy contribution of one failing test of
// this criticality
func (c Criticality) Weight() float64 {
	switch c {
	case CriticalityCritical:
		return 10.0
	case CriticalityHigh:
		return 3.0
	case CriticalityLow:
		return 1.0
	default:
		return 1.0
	}
}

// Syntactic sums severity weights over all diagnostics
func Syntactic(diags []diagnostics.Diagnostic) float64 {
	var v float64
	for _, d := range diags {
		v += d.Severity.Weight()
	}
	return v
}

// Logical sums criticality weights over all failed tests
func Logical(failed []Criticality) float64 {
	var v float64
	for _, c := range failed {
		v += c.Weight()
	}
	return v
}
