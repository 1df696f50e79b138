package model

import (
	"github.com/pkg/errors"
)

// Density is a log-density over an unconstrained real space. Implementations
// must never panic on extreme inputs: a point that cannot be evaluated yields
// a non-finite log density instead.
type Density interface {
	Dim() int                                  // Number of unconstrained coordinates
	LogProb(theta []float64) float64           // Log density at theta
	LogProbGrad(theta, grad []float64) float64 // Log density at theta, gradient written to grad
}

// Model is a Density whose coordinates map onto named parameters. The
// sampler works in the unconstrained space and records constrained values.
type Model interface {
	Density
	Params() []Param                // Parameter layout in both spaces
	Constrain(theta, out []float64) // Map unconstrained theta to parameter values
	InitialPoint(theta []float64)   // Unperturbed starting point (unconstrained)
	Clone() Model                   // Independent evaluator, safe to use on another goroutine
}

// Param is a named (possibly vector) parameter occupying Size consecutive
// coordinates starting at Offset.
type Param struct {
	Name   string // Parameter name (tau, lam, beta, sigma)
	Size   int    // Number of scalar components
	Offset int    // Index of the first component in the flat layout
}

// ParamsDim returns the total number of coordinates used by params
func ParamsDim(params []Param) int {
	d := 0
	for _, p := range params {
		d += p.Size
	}
	return d
}

// CheckParams returns an error if the layout has duplicate names, gaps, or
// overlaps.
func CheckParams(params []Param) error {
	seen := make(map[string]bool)
	next := 0
	for _, p := range params {
		if p.Size < 1 {
			return errors.Errorf("Param %s has invalid size %d", p.Name, p.Size)
		}
		if seen[p.Name] {
			return errors.Errorf("Duplicate param name %s", p.Name)
		}
		seen[p.Name] = true

		if p.Offset != next {
			return errors.Errorf("Param %s starts at %d, expected %d", p.Name, p.Offset, next)
		}
		next += p.Size
	}
	return nil
}
