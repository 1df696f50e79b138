package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Names of the Horseshoe regression parameters
const (
	TauName   = "tau"
	LamName   = "lam"
	BetaName  = "beta"
	SigmaName = "sigma"
)

var (
	halfLog2Pi   = 0.5 * math.Log(2*math.Pi)
	logTwoOverPi = math.Log(2 / math.Pi)
)

// Horseshoe is the joint density of a sparse linear regression with a
// Horseshoe prior on the coefficients:
//
//	tau     ~ HalfCauchy(1)
//	lam[j]  ~ HalfCauchy(1)
//	beta[j] ~ Normal(0, tau*lam[j])
//	sigma   ~ HalfNormal(1)
//	y       ~ Normal(X·beta, sigma)
//
// The positive parameters are sampled on the log scale, so the unconstrained
// layout is [log tau, log lam..., beta..., log sigma] and the density includes
// the log-Jacobian of each exp transform.
//
// X and Y are shared read-only between clones; the scratch vectors are not,
// so each goroutine needs its own Clone.
type Horseshoe struct {
	X *mat.Dense // Design matrix, n x p
	Y []float64  // Response, length n

	n, p   int
	params []Param
	y      *mat.VecDense // view over Y

	resid *mat.VecDense // y - X·beta
	xtr   *mat.VecDense // Xᵀ·resid
}

// Build is NewHorseshoe under the name used by the rest of the pipeline
func Build(X *mat.Dense, y []float64) (*Horseshoe, error) {
	return NewHorseshoe(X, y)
}

// NewHorseshoe validates the data and returns the joint density. Neither X
// nor y is copied, and neither may be modified while the model is in use.
func NewHorseshoe(X *mat.Dense, y []float64) (*Horseshoe, error) {
	if X == nil || X.IsEmpty() {
		return nil, errors.Wrap(ErrDomain, "Design matrix has no predictors or no observations")
	}

	n, p := X.Dims()
	if n != len(y) {
		return nil, errors.Wrapf(ErrShapeMismatch, "Design matrix has %d rows but response has %d values", n, len(y))
	}

	for i := 0; i < n; i++ {
		if !allFinite(X.RawRowView(i)) {
			return nil, errors.Wrapf(ErrDomain, "Design matrix row %d has a non-finite value", i)
		}
	}
	if !allFinite(y) {
		return nil, errors.Wrap(ErrDomain, "Response has a non-finite value")
	}

	h := &Horseshoe{
		X: X,
		Y: y,
		n: n,
		p: p,
		params: []Param{
			{Name: TauName, Size: 1, Offset: 0},
			{Name: LamName, Size: p, Offset: 1},
			{Name: BetaName, Size: p, Offset: 1 + p},
			{Name: SigmaName, Size: 1, Offset: 1 + 2*p},
		},
	}
	h.initScratch()

	return h, nil
}

func (h *Horseshoe) initScratch() {
	h.y = mat.NewVecDense(h.n, h.Y)
	h.resid = mat.NewVecDense(h.n, nil)
	h.xtr = mat.NewVecDense(h.p, nil)
}

// Clone returns a model sharing the data but with private scratch space
func (h *Horseshoe) Clone() Model {
	cp := &Horseshoe{
		X:      h.X,
		Y:      h.Y,
		n:      h.n,
		p:      h.p,
		params: h.params,
	}
	cp.initScratch()
	return cp
}

// N is the number of observations
func (h *Horseshoe) N() int { return h.n }

// P is the number of predictors
func (h *Horseshoe) P() int { return h.p }

// Dim implements Density: 2p+2
func (h *Horseshoe) Dim() int { return 2*h.p + 2 }

// Params implements Model. The returned slice must not be modified.
func (h *Horseshoe) Params() []Param { return h.params }

// InitialPoint writes tau=1, lam=1, beta=0, sigma=1 in unconstrained form,
// which is all zeros.
func (h *Horseshoe) InitialPoint(theta []float64) {
	h.checkLen(theta)
	for i := range theta {
		theta[i] = 0
	}
}

// Constrain maps unconstrained theta to (tau, lam, beta, sigma) in the same
// layout. theta and out may be the same slice.
func (h *Horseshoe) Constrain(theta, out []float64) {
	h.checkLen(theta)
	h.checkLen(out)

	p := h.p
	out[0] = math.Exp(theta[0])
	for j := 1; j <= p; j++ {
		out[j] = math.Exp(theta[j])
	}
	copy(out[1+p:1+2*p], theta[1+p:1+2*p])
	out[1+2*p] = math.Exp(theta[1+2*p])
}

// Unconstrain is the inverse of Constrain. It fails with ErrDomain if a
// positive parameter is not positive.
func (h *Horseshoe) Unconstrain(point, theta []float64) error {
	h.checkLen(point)
	h.checkLen(theta)

	p := h.p
	for _, i := range h.positiveIndices() {
		if !(point[i] > 0) || math.IsInf(point[i], 1) {
			return errors.Wrapf(ErrDomain, "Coordinate %d must be positive and finite, got %v", i, point[i])
		}
	}

	theta[0] = math.Log(point[0])
	for j := 1; j <= p; j++ {
		theta[j] = math.Log(point[j])
	}
	copy(theta[1+p:1+2*p], point[1+p:1+2*p])
	theta[1+2*p] = math.Log(point[1+2*p])
	return nil
}

func (h *Horseshoe) positiveIndices() []int {
	idx := make([]int, 0, h.p+2)
	for j := 0; j <= h.p; j++ {
		idx = append(idx, j)
	}
	return append(idx, 1+2*h.p)
}

// LogProb implements Density
func (h *Horseshoe) LogProb(theta []float64) float64 {
	return h.LogProbGrad(theta, nil)
}

// Grad writes the gradient of the log density at theta into grad
func (h *Horseshoe) Grad(theta, grad []float64) {
	h.LogProbGrad(theta, grad)
}

// LogProbGrad implements Density. A nil grad skips the gradient.
func (h *Horseshoe) LogProbGrad(theta, grad []float64) float64 {
	h.checkLen(theta)
	if grad != nil {
		h.checkLen(grad)
	}

	p := h.p
	logTau := theta[0]
	logLam := theta[1 : 1+p]
	beta := theta[1+p : 1+2*p]
	logSigma := theta[1+2*p]

	lp := logHalfCauchyExp(logTau)
	var dLogTau float64

	for j := 0; j < p; j++ {
		lp += logHalfCauchyExp(logLam[j])

		// beta[j] ~ Normal(0, exp(logScale))
		logScale := logTau + logLam[j]
		invScale := math.Exp(-logScale)
		z := beta[j] * invScale
		lp += -halfLog2Pi - logScale - 0.5*z*z

		if grad != nil {
			dScale := z*z - 1
			dLogTau += dScale
			grad[1+j] = dLogHalfCauchyExp(logLam[j]) + dScale
			grad[1+p+j] = -z * invScale
		}
	}

	// sigma ~ HalfNormal(1)
	sigma := math.Exp(logSigma)
	lp += math.Ln2 - halfLog2Pi - 0.5*sigma*sigma + logSigma

	// y ~ Normal(X·beta, sigma)
	h.resid.MulVec(h.X, mat.NewVecDense(p, beta))
	h.resid.SubVec(h.y, h.resid)
	ss := floats.Dot(h.resid.RawVector().Data, h.resid.RawVector().Data)
	invVar := math.Exp(-2 * logSigma)
	nf := float64(h.n)
	lp += -nf*halfLog2Pi - nf*logSigma - 0.5*ss*invVar

	if grad != nil {
		grad[0] = dLogHalfCauchyExp(logTau) + dLogTau
		grad[1+2*p] = 1 - sigma*sigma - nf + ss*invVar

		h.xtr.MulVec(h.X.T(), h.resid)
		floats.AddScaled(grad[1+p:1+2*p], invVar, h.xtr.RawVector().Data)
	}

	return lp
}

func (h *Horseshoe) checkLen(v []float64) {
	if len(v) != h.Dim() {
		panic(errors.Errorf("model: vector of length %d, need %d", len(v), h.Dim()))
	}
}

// logHalfCauchyExp is the HalfCauchy(1) log density of x = exp(u) plus the
// log-Jacobian u.
func logHalfCauchyExp(u float64) float64 {
	return logTwoOverPi - softplus(2*u) + u
}

// dLogHalfCauchyExp is the derivative of logHalfCauchyExp: (1-x²)/(1+x²)
func dLogHalfCauchyExp(u float64) float64 {
	return 1 - 2*sigmoid(2*u)
}

// softplus is log(1+exp(x)) without overflow
func softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
