package sampler

import (
	"math"

	"github.com/CraigKelly/horseshoe/buffer"
)

// stepSizeAdapter tunes the leapfrog step size by dual averaging (Hoffman &
// Gelman 2014, section 3.2) toward a target mean acceptance statistic.
type stepSizeAdapter struct {
	delta float64 // target acceptance
	gamma float64
	kappa float64
	t0    float64

	mu      float64
	counter float64
	sBar    float64
	xBar    float64
}

func newStepSizeAdapter(delta float64) *stepSizeAdapter {
	return &stepSizeAdapter{
		delta: delta,
		gamma: 0.05,
		kappa: 0.75,
		t0:    10,
	}
}

// restart forgets the adaptation history and centers the search on 10x the
// given step size
func (a *stepSizeAdapter) restart(stepSize float64) {
	a.mu = math.Log(10 * stepSize)
	a.counter = 0
	a.sBar = 0
	a.xBar = 0
}

// learn folds in one acceptance statistic and returns the next step size
func (a *stepSizeAdapter) learn(acceptStat float64) float64 {
	a.counter++
	acceptStat = math.Min(1, acceptStat)

	eta := 1.0 / (a.counter + a.t0)
	a.sBar = (1-eta)*a.sBar + eta*(a.delta-acceptStat)

	x := a.mu - a.sBar*math.Sqrt(a.counter)/a.gamma
	xEta := math.Pow(a.counter, -a.kappa)
	a.xBar = (1-xEta)*a.xBar + xEta*x

	return math.Exp(x)
}

// final is the averaged step size used once tuning ends
func (a *stepSizeAdapter) final() float64 {
	return math.Exp(a.xBar)
}

// metricAdapter estimates a diagonal inverse mass matrix from the chain's
// positions over a series of doubling windows. The first and last parts of
// tuning (the buffers) are left to step size adaptation alone.
type metricAdapter struct {
	enabled    bool
	numWarmup  int
	initBuffer int
	termBuffer int
	baseWindow int

	counter    int
	windowSize int
	nextWindow int

	est *buffer.Welford
}

func newMetricAdapter(numWarmup, dim int, enabled bool) *metricAdapter {
	m := &metricAdapter{
		enabled:    enabled && numWarmup >= 20,
		numWarmup:  numWarmup,
		initBuffer: 75,
		termBuffer: 50,
		baseWindow: 25,
		est:        buffer.NewWelford(dim),
	}

	if m.initBuffer+m.baseWindow+m.termBuffer > numWarmup {
		m.initBuffer = int(0.15 * float64(numWarmup))
		m.termBuffer = int(0.1 * float64(numWarmup))
		m.baseWindow = numWarmup - (m.initBuffer + m.termBuffer)
	}

	m.windowSize = m.baseWindow
	m.nextWindow = m.initBuffer + m.windowSize - 1
	return m
}

func (m *metricAdapter) inWindow() bool {
	return m.counter >= m.initBuffer &&
		m.counter < m.numWarmup-m.termBuffer &&
		m.counter != m.numWarmup
}

func (m *metricAdapter) endOfWindow() bool {
	return m.counter == m.nextWindow && m.counter != m.numWarmup
}

func (m *metricAdapter) computeNextWindow() {
	last := m.numWarmup - m.termBuffer - 1
	if m.nextWindow == last {
		return
	}

	m.windowSize *= 2
	m.nextWindow = m.counter + m.windowSize

	// A window that leaves less than twice its size before the term buffer
	// runs on to the term buffer
	if m.nextWindow != last && m.nextWindow+2*m.windowSize >= m.numWarmup-m.termBuffer {
		m.nextWindow = last
	}
}

// learn adds position q to the current window. At the end of a window it
// overwrites invMass with the regularized variance estimate and returns true.
func (m *metricAdapter) learn(invMass, q []float64) bool {
	if !m.enabled {
		m.counter++
		return false
	}

	if m.inWindow() {
		m.est.Add(q)
	}

	if m.endOfWindow() {
		m.computeNextWindow()

		updated := false
		n := float64(m.est.Count())
		if err := m.est.Variance(invMass); err == nil {
			for i, v := range invMass {
				invMass[i] = (n/(n+5))*v + 1e-3*(5/(n+5))
			}
			updated = true
		}

		m.est.Restart()
		m.counter++
		return updated
	}

	m.counter++
	return false
}
