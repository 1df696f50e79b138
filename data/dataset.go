// Package data provides regression datasets for the Horseshoe model: a
// simulator with a known sparse coefficient vector plus a plain text format
// for saving and loading datasets.
package data

import (
	"bufio"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/CraigKelly/horseshoe/rand"
)

// Errors returned by the simulator and reader
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFormat          = errors.New("invalid dataset format")
)

// Defaults for Simulate
const (
	DefaultN         = 100
	DefaultP         = 50
	DefaultRelevant  = 5
	DefaultNoiseStd  = 0.5
	DefaultDataSeed  = 42
	maxSimulateCells = 1 << 28
)

// Dataset is a design matrix with its response. TrueBeta is only known for
// simulated data (nil otherwise).
type Dataset struct {
	X        *mat.Dense // n x p predictors
	Y        []float64  // n responses
	TrueBeta []float64  // p true coefficients, or nil
}

// Dims returns the number of observations and predictors
func (d *Dataset) Dims() (n, p int) {
	return d.X.Dims()
}

// Relevant returns the indices of the non-zero true coefficients
func (d *Dataset) Relevant() []int {
	var idx []int
	for j, b := range d.TrueBeta {
		if b != 0 {
			idx = append(idx, j)
		}
	}
	return idx
}

// Simulate draws a sparse regression problem: every entry of X is standard
// normal, nRelevant coefficients at distinct random positions are standard
// normal (the rest are zero), and y = X·beta + Normal(0, noiseStd) noise.
// The same seed always produces the same dataset.
func Simulate(n, p, nRelevant int, noiseStd float64, seed int64) (*Dataset, error) {
	switch {
	case n < 1:
		return nil, errors.Wrapf(ErrInvalidArgument, "n must be >= 1, got %d", n)
	case p < 1:
		return nil, errors.Wrapf(ErrInvalidArgument, "p must be >= 1, got %d", p)
	case nRelevant < 0 || nRelevant > p:
		return nil, errors.Wrapf(ErrInvalidArgument, "relevant count must be in [0,%d], got %d", p, nRelevant)
	case !(noiseStd >= 0):
		return nil, errors.Wrapf(ErrInvalidArgument, "noise std must be >= 0, got %v", noiseStd)
	case p > maxSimulateCells/n:
		return nil, errors.Wrapf(ErrInvalidArgument, "%d x %d is too large to simulate", n, p)
	}

	gen, err := rand.NewGenerator(seed)
	if err != nil {
		return nil, err
	}

	X := mat.NewDense(n, p, nil)
	raw := X.RawMatrix().Data
	for i := range raw {
		raw[i] = gen.NormFloat64()
	}

	beta := make([]float64, p)
	for _, j := range gen.Perm(p)[:nRelevant] {
		beta[j] = gen.NormFloat64()
	}

	yv := mat.NewVecDense(n, nil)
	yv.MulVec(X, mat.NewVecDense(p, beta))
	y := make([]float64, n)
	for i := range y {
		y[i] = yv.AtVec(i) + noiseStd*gen.NormFloat64()
	}

	return &Dataset{X: X, Y: y, TrueBeta: beta}, nil
}

// Write saves the dataset in the format read by ReadDataset
func (d *Dataset) Write(w io.Writer) error {
	n, p := d.Dims()
	if len(d.Y) != n {
		return errors.Wrapf(ErrFormat, "%d responses for %d rows", len(d.Y), n)
	}

	bw := bufio.NewWriter(w)
	ff := func(f float64) string {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}

	bw.WriteString("# horseshoe dataset: n p, then rows of y x1..xp\n")
	bw.WriteString(strconv.Itoa(n) + " " + strconv.Itoa(p) + "\n")

	for i := 0; i < n; i++ {
		bw.WriteString(ff(d.Y[i]))
		for _, x := range d.X.RawRowView(i) {
			bw.WriteByte(' ')
			bw.WriteString(ff(x))
		}
		bw.WriteByte('\n')
	}

	if d.TrueBeta != nil {
		if len(d.TrueBeta) != p {
			return errors.Wrapf(ErrFormat, "%d true coefficients for %d predictors", len(d.TrueBeta), p)
		}
		bw.WriteString("beta")
		for _, b := range d.TrueBeta {
			bw.WriteByte(' ')
			bw.WriteString(ff(b))
		}
		bw.WriteByte('\n')
	}

	return errors.Wrap(bw.Flush(), "Could not write dataset")
}
