package rand

import (
	mrand "math/rand"

	"github.com/seehuhn/mt19937"
)

// A Generator is a seeded Mersenne twister PRNG with the convenience methods
// of Go's math/rand layered on top. It is NOT safe for concurrent use: each
// chain gets its own Generator (see Split).
type Generator struct {
	src *mt19937.MT19937
	rnd *mrand.Rand
}

// NewGenerator creates a new MT19937 based generator from the given seed
func NewGenerator(seed int64) (*Generator, error) {
	src := mt19937.New()
	src.Seed(seed)
	return wrap(src), nil
}

func wrap(src *mt19937.MT19937) *Generator {
	return &Generator{
		src: src,
		rnd: mrand.New(src),
	}
}

// Split returns n child seeds drawn from this generator. Draw the seeds
// before starting any goroutines so the assignment of seeds to chains does
// not depend on scheduling.
func (g *Generator) Split(n int) []int64 {
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = g.Int63()
	}
	return seeds
}

// Int63 returns a non-negative pseudo-random 63-bit integer
func (g *Generator) Int63() int64 {
	return g.src.Int63()
}

// Float64 returns a value in [0.0, 1.0)
func (g *Generator) Float64() float64 {
	return g.rnd.Float64()
}

// Uniform returns a value in [lo, hi)
func (g *Generator) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*g.rnd.Float64()
}

// NormFloat64 returns a standard normal variate
func (g *Generator) NormFloat64() float64 {
	return g.rnd.NormFloat64()
}

// Perm returns a random permutation of [0, n)
func (g *Generator) Perm(n int) []int {
	return g.rnd.Perm(n)
}
