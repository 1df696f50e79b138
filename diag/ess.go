// Package diag computes convergence diagnostics for a posterior trace: rank
// normalized split effective sample size (bulk and tail), split R-hat, a
// summary table and trace plots.
package diag

import (
	"math"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/CraigKelly/horseshoe/trace"
)

// ErrTooFewDraws is returned when a split chain would hold fewer than
// minSplitDraws draws
var ErrTooFewDraws = errors.New("too few draws for diagnostics")

const minSplitDraws = 4

// Component names one scalar series in a trace: a parameter and the index of
// the component within it.
type Component struct {
	Name  string // Parameter name
	Index int    // Component index
	Size  int    // Size of the parameter
}

// Key is the diagnostic name of the component: the bare name for scalar
// parameters and name[j] for vector components.
func (c Component) Key() string {
	if c.Size == 1 {
		return c.Name
	}
	return c.Name + "[" + strconv.Itoa(c.Index) + "]"
}

// Components expands varNames (all parameters if empty) into their scalar
// components in layout order.
func Components(tr *trace.Trace, varNames []string) ([]Component, error) {
	if len(varNames) == 0 {
		varNames = tr.Names()
	}

	var comps []Component
	for _, name := range varNames {
		p, err := tr.Param(name)
		if err != nil {
			return nil, err
		}
		for j := 0; j < p.Size; j++ {
			comps = append(comps, Component{Name: p.Name, Index: j, Size: p.Size})
		}
	}
	return comps, nil
}

// EffectiveSampleSize returns the bulk ESS of every scalar component of the
// named variables (all variables if varNames is empty), keyed tau, sigma,
// lam[j], beta[j]. Each estimate is in (0, chains·draws].
func EffectiveSampleSize(tr *trace.Trace, varNames []string) (map[string]float64, error) {
	return perComponent(tr, varNames, BulkESS)
}

// TailESS is the tail effective sample size (the smaller of the 5% and 95%
// quantile ESS) of every scalar component of the named variables.
func TailESS(tr *trace.Trace, varNames []string) (map[string]float64, error) {
	return perComponent(tr, varNames, TailESSChains)
}

// RHat is the rank normalized split R-hat of every scalar component of the
// named variables. Values near 1 mean the chains agree.
func RHat(tr *trace.Trace, varNames []string) (map[string]float64, error) {
	return perComponent(tr, varNames, RHatChains)
}

func perComponent(tr *trace.Trace, varNames []string, fn func([][]float64) (float64, error)) (map[string]float64, error) {
	comps, err := Components(tr, varNames)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(comps))
	for _, c := range comps {
		chains, err := tr.ChainValues(c.Name, c.Index)
		if err != nil {
			return nil, err
		}
		v, err := fn(chains)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", c.Key())
		}
		out[c.Key()] = v
	}
	return out, nil
}

// BulkESS is the rank normalized split ESS of a set of chains
func BulkESS(chains [][]float64) (float64, error) {
	split, total, err := splitChains(chains)
	if err != nil {
		return 0, err
	}
	return clampESS(ess(zScale(split)), total), nil
}

// TailESSChains is the minimum of the ESS of the indicators for the 5% and
// 95% quantiles of a set of chains
func TailESSChains(chains [][]float64) (float64, error) {
	split, total, err := splitChains(chains)
	if err != nil {
		return 0, err
	}

	sorted := flatten(split)
	sort.Float64s(sorted)
	q05 := stat.Quantile(0.05, stat.LinInterp, sorted, nil)
	q95 := stat.Quantile(0.95, stat.LinInterp, sorted, nil)

	lo := indicator(split, q05)
	hi := indicator(split, q95)
	return math.Min(clampESS(ess(lo), total), clampESS(ess(hi), total)), nil
}

// RHatChains is the larger of the rank normalized split R-hat and the split
// R-hat of the folded (distance from median) draws. It is NaN for a constant
// series.
func RHatChains(chains [][]float64) (float64, error) {
	split, _, err := splitChains(chains)
	if err != nil {
		return 0, err
	}

	bulk := rhat(zScale(split))

	sorted := flatten(split)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.LinInterp, sorted, nil)

	folded := make([][]float64, len(split))
	for i, c := range split {
		folded[i] = make([]float64, len(c))
		for j, v := range c {
			folded[i][j] = math.Abs(v - median)
		}
	}
	tail := rhat(zScale(folded))

	if math.IsNaN(bulk) || math.IsNaN(tail) {
		return math.NaN(), nil
	}
	return math.Max(bulk, tail), nil
}

// splitChains trims every chain to the shortest and splits each in half,
// dropping the middle draw of odd length chains. total is the number of
// draws before splitting.
func splitChains(chains [][]float64) ([][]float64, int, error) {
	if len(chains) == 0 {
		return nil, 0, errors.Wrap(ErrTooFewDraws, "no chains")
	}

	n := len(chains[0])
	for _, c := range chains[1:] {
		if len(c) < n {
			n = len(c)
		}
	}

	half := n / 2
	if half < minSplitDraws {
		return nil, 0, errors.Wrapf(ErrTooFewDraws, "%d draws per chain, need at least %d", n, 2*minSplitDraws)
	}

	split := make([][]float64, 0, 2*len(chains))
	for _, c := range chains {
		split = append(split, c[:half], c[n-half:n])
	}
	return split, n * len(chains), nil
}

func clampESS(v float64, total int) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Min(v, float64(total))
}

func flatten(chains [][]float64) []float64 {
	var all []float64
	for _, c := range chains {
		all = append(all, c...)
	}
	return all
}

func indicator(chains [][]float64, cut float64) [][]float64 {
	out := make([][]float64, len(chains))
	for i, c := range chains {
		out[i] = make([]float64, len(c))
		for j, v := range c {
			if v <= cut {
				out[i][j] = 1
			}
		}
	}
	return out
}

// zScale replaces every draw by the normal quantile of its average rank over
// all chains
func zScale(chains [][]float64) [][]float64 {
	all := flatten(chains)
	size := float64(len(all))
	ranks := averageRanks(all)

	out := make([][]float64, len(chains))
	k := 0
	for i, c := range chains {
		out[i] = make([]float64, len(c))
		for j := range c {
			out[i][j] = distuv.UnitNormal.Quantile((ranks[k] - 0.375) / (size + 0.25))
			k++
		}
	}
	return out
}

// averageRanks returns 1-based ranks with ties sharing their mean rank
func averageRanks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	ranks := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && x[idx[j]] == x[idx[i]] {
			j++
		}
		r := float64(i+j+1) / 2 // mean of ranks i+1..j
		for k := i; k < j; k++ {
			ranks[idx[k]] = r
		}
		i = j
	}
	return ranks
}

// autocov returns the biased autocovariance of x at every lag, computed by
// FFT over a zero padded copy
func autocov(x []float64) []float64 {
	n := len(x)
	m := 2 * n

	mean := stat.Mean(x, nil)
	padded := make([]float64, m)
	for i, v := range x {
		padded[i] = v - mean
	}

	fft := fourier.NewFFT(m)
	coeff := fft.Coefficients(nil, padded)
	for i, c := range coeff {
		coeff[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	seq := fft.Sequence(nil, coeff)

	// Sequence is unnormalized
	cov := seq[:n]
	floats.Scale(1/float64(m*n), cov)
	return cov
}

// ess is the effective sample size of equal length chains using Geyer's
// initial positive then initial monotone sequence estimators
func ess(chains [][]float64) float64 {
	m := len(chains)
	n := len(chains[0])
	total := float64(m * n)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range chains {
		lo = math.Min(lo, floats.Min(c))
		hi = math.Max(hi, floats.Max(c))
	}
	if hi-lo < 1e-12*math.Max(1, math.Abs(hi)) {
		return total
	}

	acov := make([][]float64, m)
	means := make([]float64, m)
	for i, c := range chains {
		acov[i] = autocov(c)
		means[i] = stat.Mean(c, nil)
	}

	meanAcov := func(t int) float64 {
		s := 0.0
		for _, a := range acov {
			s += a[t]
		}
		return s / float64(m)
	}

	nf := float64(n)
	meanVar := meanAcov(0) * nf / (nf - 1)
	varPlus := meanVar * (nf - 1) / nf
	if m > 1 {
		varPlus += stat.Variance(means, nil)
	}

	rho := make([]float64, n)
	rhoEven := 1.0
	rho[0] = rhoEven
	rhoOdd := 1 - (meanVar-meanAcov(1))/varPlus
	rho[1] = rhoOdd

	// Initial positive sequence
	t := 1
	for t < n-3 && rhoEven+rhoOdd > 0 {
		rhoEven = 1 - (meanVar-meanAcov(t+1))/varPlus
		rhoOdd = 1 - (meanVar-meanAcov(t+2))/varPlus
		if rhoEven+rhoOdd >= 0 {
			rho[t+1] = rhoEven
			rho[t+2] = rhoOdd
		}
		t += 2
	}
	maxT := t - 2
	if rhoEven > 0 {
		rho[maxT+1] = rhoEven
	}

	// Initial monotone sequence
	for t = 1; t <= maxT-2; t += 2 {
		if rho[t+1]+rho[t+2] > rho[t-1]+rho[t] {
			rho[t+1] = (rho[t-1] + rho[t]) / 2
			rho[t+2] = rho[t+1]
		}
	}

	tau := -1 + 2*floats.Sum(rho[:maxT+1]) + rho[maxT+1]
	tau = math.Max(tau, 1/math.Log10(total))

	if floats.HasNaN(rho) {
		return math.NaN()
	}
	return total / tau
}

// rhat is the split R-hat of equal length chains
func rhat(chains [][]float64) float64 {
	m := len(chains)
	n := float64(len(chains[0]))

	means := make([]float64, m)
	vars := make([]float64, m)
	for i, c := range chains {
		means[i], vars[i] = stat.MeanVariance(c, nil)
	}

	between := n * stat.Variance(means, nil)
	within := stat.Mean(vars, nil)
	if within == 0 {
		return math.NaN()
	}
	return math.Sqrt((between/within + n - 1) / n)
}
