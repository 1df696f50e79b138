package buffer

import (
	"github.com/pkg/errors"
)

// Welford accumulates an element-wise running mean and variance of
// fixed-length vectors without storing them.
type Welford struct {
	n    int64
	mean []float64
	m2   []float64
}

// NewWelford returns an estimator for vectors of length dim
func NewWelford(dim int) *Welford {
	return &Welford{
		mean: make([]float64, dim),
		m2:   make([]float64, dim),
	}
}

// Count is the number of samples added since the last Restart
func (w *Welford) Count() int64 {
	return w.n
}

// Add folds one sample into the estimate
func (w *Welford) Add(x []float64) error {
	if len(x) != len(w.mean) {
		return errors.Errorf("Sample of length %d added to estimator of dim %d", len(x), len(w.mean))
	}

	w.n++
	for i, v := range x {
		delta := v - w.mean[i]
		w.mean[i] += delta / float64(w.n)
		w.m2[i] += delta * (v - w.mean[i])
	}
	return nil
}

// Variance writes the unbiased sample variance into dst. At least two
// samples are required.
func (w *Welford) Variance(dst []float64) error {
	if w.n < 2 {
		return errors.Errorf("Variance needs at least 2 samples, have %d", w.n)
	}
	if len(dst) != len(w.m2) {
		return errors.Errorf("Variance dest of length %d, need %d", len(dst), len(w.m2))
	}

	for i, m := range w.m2 {
		dst[i] = m / float64(w.n-1)
	}
	return nil
}

// Restart forgets all samples
func (w *Welford) Restart() {
	w.n = 0
	for i := range w.mean {
		w.mean[i] = 0
		w.m2[i] = 0
	}
}
