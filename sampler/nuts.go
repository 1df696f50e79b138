package sampler

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/CraigKelly/horseshoe/model"
	"github.com/CraigKelly/horseshoe/rand"
	"github.com/CraigKelly/horseshoe/trace"
)

// point is a phase space point: position, momentum, and the cached log
// density and gradient at the position
type point struct {
	q, p, grad []float64
	logp       float64
}

func newPoint(dim int) *point {
	return &point{
		q:    make([]float64, dim),
		p:    make([]float64, dim),
		grad: make([]float64, dim),
	}
}

func (z *point) copyFrom(o *point) {
	copy(z.q, o.q)
	copy(z.p, o.p)
	copy(z.grad, o.grad)
	z.logp = o.logp
}

func (z *point) clone() *point {
	cp := newPoint(len(z.q))
	cp.copyFrom(z)
	return cp
}

// nuts is the No-U-Turn transition kernel with a diagonal Euclidean metric:
// multinomial sampling within subtrees, biased progressive sampling between
// them, and the generalized no-U-turn criterion checked across subtree
// boundaries as well as over each merged tree.
type nuts struct {
	target    model.Density
	gen       *rand.Generator
	invMass   []float64
	stepSize  float64
	maxDepth  int
	maxDeltaH float64

	z *point // integrator state

	// per transition counters
	divergent    bool
	nLeapfrog    int
	sumMetroProb float64
}

func newNUTS(target model.Density, gen *rand.Generator, opts Options) *nuts {
	dim := target.Dim()
	k := &nuts{
		target:    target,
		gen:       gen,
		invMass:   make([]float64, dim),
		stepSize:  opts.InitialStepSize,
		maxDepth:  opts.MaxTreeDepth,
		maxDeltaH: opts.MaxEnergyError,
		z:         newPoint(dim),
	}
	for i := range k.invMass {
		k.invMass[i] = 1
	}
	return k
}

func (k *nuts) kinetic(p []float64) float64 {
	var ke float64
	for i, v := range p {
		ke += v * v * k.invMass[i]
	}
	return 0.5 * ke
}

// hamiltonian maps NaN to +Inf so a failed evaluation reads as a divergence
func (k *nuts) hamiltonian(z *point) float64 {
	h := -z.logp + k.kinetic(z.p)
	if math.IsNaN(h) {
		return math.Inf(1)
	}
	return h
}

// velocity writes dK/dp, the "sharp" momentum
func (k *nuts) velocity(p, dst []float64) {
	floats.MulTo(dst, k.invMass, p)
}

func (k *nuts) sampleMomentum(p []float64) {
	for i := range p {
		p[i] = k.gen.NormFloat64() / math.Sqrt(k.invMass[i])
	}
}

func (k *nuts) leapfrog(z *point, eps float64) {
	floats.AddScaled(z.p, 0.5*eps, z.grad)
	for i := range z.q {
		z.q[i] += eps * k.invMass[i] * z.p[i]
	}
	z.logp = k.target.LogProbGrad(z.q, z.grad)
	floats.AddScaled(z.p, 0.5*eps, z.grad)
}

// uTurn is false once the trajectory spanned by the two end velocities and
// the summed momentum rho has started to double back
func uTurn(pSharpMinus, pSharpPlus, rho []float64) bool {
	return floats.Dot(pSharpPlus, rho) > 0 && floats.Dot(pSharpMinus, rho) > 0
}

func addTo(dst, a, b []float64) []float64 {
	return floats.AddTo(dst, a, b)
}

func logSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}

// transition moves cur to the next state of the chain and returns the stats
// for the move. cur must hold a finite log density and gradient.
func (k *nuts) transition(cur *point) trace.Stats {
	dim := len(cur.q)

	k.z.copyFrom(cur)
	k.sampleMomentum(k.z.p)
	H0 := k.hamiltonian(k.z)

	zFwd := k.z.clone()
	zBck := k.z.clone()
	zSample := k.z.clone()
	zPropose := k.z.clone()

	// Momentum and velocity at both ends of the forward and backward subtrees
	pSharp := make([]float64, dim)
	k.velocity(k.z.p, pSharp)

	pFwdFwd := append([]float64(nil), k.z.p...)
	pSharpFwdFwd := append([]float64(nil), pSharp...)
	pFwdBck := append([]float64(nil), k.z.p...)
	pSharpFwdBck := append([]float64(nil), pSharp...)
	pBckFwd := append([]float64(nil), k.z.p...)
	pSharpBckFwd := append([]float64(nil), pSharp...)
	pBckBck := append([]float64(nil), k.z.p...)
	pSharpBckBck := append([]float64(nil), pSharp...)

	rho := append([]float64(nil), k.z.p...)
	rhoFwd := make([]float64, dim)
	rhoBck := make([]float64, dim)
	rhoExt := make([]float64, dim)

	logSumWeight := 0.0 // log(exp(H0 - H0))
	k.nLeapfrog = 0
	k.sumMetroProb = 0
	k.divergent = false

	depth := 0
	for depth < k.maxDepth {
		for i := range rhoFwd {
			rhoFwd[i], rhoBck[i] = 0, 0
		}

		valid := false
		logSumWeightSubtree := math.Inf(-1)

		if k.gen.Float64() > 0.5 {
			// Extend forward
			k.z.copyFrom(zFwd)
			copy(rhoBck, rho)
			copy(pBckFwd, pFwdBck)
			copy(pSharpBckFwd, pSharpFwdBck)

			valid = k.buildTree(depth, zPropose, pSharpFwdBck, pSharpFwdFwd, rhoFwd, pFwdBck, pFwdFwd, H0, 1, &logSumWeightSubtree)
			zFwd.copyFrom(k.z)
		} else {
			// Extend backward
			k.z.copyFrom(zBck)
			copy(rhoFwd, rho)
			copy(pFwdBck, pBckFwd)
			copy(pSharpFwdBck, pSharpBckFwd)

			valid = k.buildTree(depth, zPropose, pSharpBckFwd, pSharpBckBck, rhoBck, pBckFwd, pBckBck, H0, -1, &logSumWeightSubtree)
			zBck.copyFrom(k.z)
		}

		if !valid {
			break
		}
		depth++

		// Biased progressive sampling favors the new subtree
		if logSumWeightSubtree > logSumWeight {
			zSample.copyFrom(zPropose)
		} else if k.gen.Float64() < math.Exp(logSumWeightSubtree-logSumWeight) {
			zSample.copyFrom(zPropose)
		}
		logSumWeight = logSumExp(logSumWeight, logSumWeightSubtree)

		addTo(rho, rhoBck, rhoFwd)

		// Across the merged trajectory
		persist := uTurn(pSharpBckBck, pSharpFwdFwd, rho)

		// Between the two subtrees
		addTo(rhoExt, rhoBck, pFwdBck)
		persist = uTurn(pSharpBckBck, pSharpFwdBck, rhoExt) && persist

		addTo(rhoExt, rhoFwd, pBckFwd)
		persist = uTurn(pSharpBckFwd, pSharpFwdFwd, rhoExt) && persist

		if !persist {
			break
		}
	}

	cur.copyFrom(zSample)

	return trace.Stats{
		LogProb:    cur.logp,
		AcceptStat: k.sumMetroProb / float64(k.nLeapfrog),
		StepSize:   k.stepSize,
		TreeDepth:  depth,
		NumSteps:   k.nLeapfrog,
		Diverging:  k.divergent,
		Energy:     k.hamiltonian(cur),
	}
}

// buildTree extends the trajectory from k.z by 2^depth leapfrog steps in the
// direction of sign. It returns false if the subtree diverged or turned
// back on itself, in which case the caller must discard it.
func (k *nuts) buildTree(depth int, zPropose *point,
	pSharpBeg, pSharpEnd, rho, pBeg, pEnd []float64,
	H0, sign float64, logSumWeight *float64) bool {

	if depth == 0 {
		k.leapfrog(k.z, sign*k.stepSize)
		k.nLeapfrog++

		h := k.hamiltonian(k.z)
		if h-H0 > k.maxDeltaH {
			k.divergent = true
		}

		*logSumWeight = logSumExp(*logSumWeight, H0-h)

		if H0-h > 0 {
			k.sumMetroProb++
		} else {
			k.sumMetroProb += math.Exp(H0 - h)
		}

		zPropose.copyFrom(k.z)

		k.velocity(k.z.p, pSharpBeg)
		copy(pSharpEnd, pSharpBeg)

		floats.Add(rho, k.z.p)
		copy(pBeg, k.z.p)
		copy(pEnd, pBeg)

		return !k.divergent
	}

	dim := len(rho)

	// Initial subtree
	logSumWeightInit := math.Inf(-1)
	pInitEnd := make([]float64, dim)
	pSharpInitEnd := make([]float64, dim)
	rhoInit := make([]float64, dim)

	if !k.buildTree(depth-1, zPropose, pSharpBeg, pSharpInitEnd, rhoInit, pBeg, pInitEnd, H0, sign, &logSumWeightInit) {
		return false
	}

	// Final subtree
	zProposeFinal := k.z.clone()
	logSumWeightFinal := math.Inf(-1)
	pFinalBeg := make([]float64, dim)
	pSharpFinalBeg := make([]float64, dim)
	rhoFinal := make([]float64, dim)

	if !k.buildTree(depth-1, zProposeFinal, pSharpFinalBeg, pSharpEnd, rhoFinal, pFinalBeg, pEnd, H0, sign, &logSumWeightFinal) {
		return false
	}

	// Multinomial sample from the final subtree
	logSumWeightSubtree := logSumExp(logSumWeightInit, logSumWeightFinal)
	*logSumWeight = logSumExp(*logSumWeight, logSumWeightSubtree)

	if logSumWeightFinal > logSumWeightSubtree {
		zPropose.copyFrom(zProposeFinal)
	} else if k.gen.Float64() < math.Exp(logSumWeightFinal-logSumWeightSubtree) {
		zPropose.copyFrom(zProposeFinal)
	}

	rhoSubtree := addTo(make([]float64, dim), rhoInit, rhoFinal)
	floats.Add(rho, rhoSubtree)

	persist := uTurn(pSharpBeg, pSharpEnd, rhoSubtree)

	rhoExt := addTo(make([]float64, dim), rhoInit, pFinalBeg)
	persist = uTurn(pSharpBeg, pSharpFinalBeg, rhoExt) && persist

	addTo(rhoExt, rhoFinal, pInitEnd)
	persist = uTurn(pSharpInitEnd, pSharpEnd, rhoExt) && persist

	return persist
}

// initStepSize doubles or halves the step size until the acceptance
// probability of a single leapfrog step from cur crosses 0.8. cur is left
// unchanged.
func (k *nuts) initStepSize(cur *point) {
	if k.stepSize == 0 || k.stepSize > 1e7 || math.IsNaN(k.stepSize) {
		return
	}

	const maxSearch = 100
	logTarget := math.Log(0.8)

	step := func() float64 {
		k.z.copyFrom(cur)
		k.sampleMomentum(k.z.p)
		H0 := k.hamiltonian(k.z)
		k.leapfrog(k.z, k.stepSize)
		return H0 - k.hamiltonian(k.z)
	}

	direction := -1
	if step() > logTarget {
		direction = 1
	}

	for i := 0; i < maxSearch; i++ {
		deltaH := step()
		if direction == 1 && !(deltaH > logTarget) {
			break
		}
		if direction == -1 && !(deltaH < logTarget) {
			break
		}

		if direction == 1 {
			k.stepSize *= 2
		} else {
			k.stepSize *= 0.5
		}

		if k.stepSize > 1e7 || k.stepSize < 1e-10 {
			break
		}
	}
}
