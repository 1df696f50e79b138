package sampler

import (
	"math"

	"github.com/CraigKelly/horseshoe/model"
)

// normalModel is an independent Normal(mu[i], sd[i]) density with one
// vector parameter "x"
type normalModel struct {
	mu, sd []float64
}

func newNormalModel(mu, sd []float64) *normalModel {
	return &normalModel{mu: mu, sd: sd}
}

func (m *normalModel) Dim() int { return len(m.mu) }

func (m *normalModel) LogProb(theta []float64) float64 {
	lp := 0.0
	for i, x := range theta {
		z := (x - m.mu[i]) / m.sd[i]
		lp -= 0.5 * z * z
	}
	return lp
}

func (m *normalModel) LogProbGrad(theta, grad []float64) float64 {
	for i, x := range theta {
		grad[i] = -(x - m.mu[i]) / (m.sd[i] * m.sd[i])
	}
	return m.LogProb(theta)
}

func (m *normalModel) Params() []model.Param {
	return []model.Param{{Name: "x", Size: len(m.mu), Offset: 0}}
}

func (m *normalModel) Constrain(theta, out []float64) { copy(out, theta) }

func (m *normalModel) InitialPoint(theta []float64) {
	for i := range theta {
		theta[i] = 0
	}
}

func (m *normalModel) Clone() model.Model { return m }

// halfModel is a standard normal in one coordinate restricted to x >= 0.5
type halfModel struct {
	normalModel
}

func (m *halfModel) LogProbGrad(theta, grad []float64) float64 {
	if theta[0] < 0.5 {
		grad[0] = 0
		return math.Inf(-1)
	}
	return m.normalModel.LogProbGrad(theta, grad)
}

func (m *halfModel) LogProb(theta []float64) float64 {
	if theta[0] < 0.5 {
		return math.Inf(-1)
	}
	return m.normalModel.LogProb(theta)
}

func (m *halfModel) Clone() model.Model { return m }

// brokenModel never has a finite density
type brokenModel struct {
	normalModel
}

func (m *brokenModel) LogProb(theta []float64) float64 { return math.NaN() }

func (m *brokenModel) LogProbGrad(theta, grad []float64) float64 {
	for i := range grad {
		grad[i] = 0
	}
	return math.NaN()
}

func (m *brokenModel) Clone() model.Model { return m }
