package diag

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/CraigKelly/horseshoe/trace"
)

// ErrorSuite scores the posterior of one vector variable against its known
// true values (only available for simulated data). Errors beginning with Mean
// average over the components while Max is the worst component; they compare
// the posterior mean to the truth. Coverage is the share of components whose
// central 90% interval holds the true value.
type ErrorSuite struct {
	MeanAbsError float64
	MaxAbsError  float64
	RMSError     float64
	Coverage     float64

	Estimate []float64 // Posterior mean per component
}

// NewErrorSuite returns an ErrorSuite for the named variable of tr
func NewErrorSuite(tr *trace.Trace, name string, truth []float64) (*ErrorSuite, error) {
	p, err := tr.Param(name)
	if err != nil {
		return nil, err
	}
	if len(truth) != p.Size || p.Size < 1 {
		return nil, errors.Errorf("%d true values for %s of size %d", len(truth), name, p.Size)
	}
	if tr.NumDraws() < 1 {
		return nil, errors.Wrapf(ErrTooFewDraws, "scoring %s", name)
	}

	est, err := tr.Mean(name)
	if err != nil {
		return nil, err
	}

	es := ErrorSuite{
		MeanAbsError: MeanAbsDiff(est, truth),
		MaxAbsError:  MaxAbsDiff(est, truth),
		RMSError:     floats.Distance(est, truth, 2) / math.Sqrt(float64(len(truth))),
		Estimate:     est,
	}

	covered := 0
	for j, want := range truth {
		vals, err := tr.Values(name, j)
		if err != nil {
			return nil, err
		}
		sort.Float64s(vals)
		lo := stat.Quantile(0.05, stat.LinInterp, vals, nil)
		hi := stat.Quantile(0.95, stat.LinInterp, vals, nil)
		if lo <= want && want <= hi {
			covered++
		}
	}
	es.Coverage = float64(covered) / float64(len(truth))

	return &es, nil
}

// MaxAbsDiff returns the largest absolute difference between a and b, which
// must have the same length
func MaxAbsDiff(a, b []float64) float64 {
	if len(a) < 1 {
		return 0
	}
	return floats.Distance(a, b, math.Inf(1))
}

// MeanAbsDiff returns the mean absolute difference between a and b, which
// must have the same length
func MeanAbsDiff(a, b []float64) float64 {
	if len(a) < 1 {
		return 0
	}
	return floats.Distance(a, b, 1) / float64(len(a))
}
