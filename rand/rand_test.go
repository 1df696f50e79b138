package rand

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameSeedSameStream(t *testing.T) {
	assert := assert.New(t)

	g1, err := NewGenerator(42)
	assert.NoError(err)
	g2, err := NewGenerator(42)
	assert.NoError(err)

	for i := 0; i < 100; i++ {
		assert.Equal(g1.NormFloat64(), g2.NormFloat64())
		assert.Equal(g1.Float64(), g2.Float64())
	}
	assert.Equal(g1.Split(4), g2.Split(4))
}

func TestDistributionSanity(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGenerator(42)
	assert.NoError(err)

	const n = 20000
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		x := gen.NormFloat64()
		sum += x
		sumSq += x * x
	}
	mean := sum / n
	assert.InDelta(0.0, mean, 0.05)
	assert.InDelta(1.0, sumSq/n-mean*mean, 0.05)

	for i := 0; i < 1000; i++ {
		u := gen.Uniform(-1, 1)
		assert.True(u >= -1 && u < 1)
	}

	perm := gen.Perm(10)
	seen := make(map[int]bool)
	for _, v := range perm {
		seen[v] = true
	}
	assert.Len(seen, 10)
	assert.False(math.IsNaN(gen.Float64()))
}

func BenchmarkNormFloat64(b *testing.B) {
	gen, err := NewGenerator(42)
	if err != nil {
		b.Fatalf("Could not init PRNG %v", err)
	}

	var total float64
	for i := 0; i < b.N; i++ {
		total += gen.NormFloat64()
	}
	_ = total
}
