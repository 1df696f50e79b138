package model

import (
	"github.com/pkg/errors"
)

// Build-time errors. Callers branch with errors.Is; the returned errors carry
// context wrapped around these.
var (
	// ErrShapeMismatch is returned when the design matrix row count differs
	// from the response length.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDomain is returned for invalid configuration or values outside a
	// parameter's domain: no predictors, no observations, non-finite data, or
	// a non-positive scale.
	ErrDomain = errors.New("domain error")
)
