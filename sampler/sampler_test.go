package sampler

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/CraigKelly/horseshoe/data"
	"github.com/CraigKelly/horseshoe/model"
	"github.com/CraigKelly/horseshoe/trace"
)

func TestOptionsValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(DefaultOptions().Validate())

	bad := []func(*Options){
		func(o *Options) { o.Draws = 0 },
		func(o *Options) { o.Tune = -1 },
		func(o *Options) { o.TargetAccept = 0 },
		func(o *Options) { o.TargetAccept = 1 },
		func(o *Options) { o.TargetAccept = math.NaN() },
		func(o *Options) { o.Chains = 0 },
		func(o *Options) { o.Cores = 0 },
		func(o *Options) { o.MaxTreeDepth = 0 },
		func(o *Options) { o.MaxEnergyError = 0 },
		func(o *Options) { o.InitAttempts = 0 },
		func(o *Options) { o.InitJitter = -1 },
		func(o *Options) { o.InitialStepSize = 0 },
	}
	for i, mod := range bad {
		opts := DefaultOptions()
		mod(&opts)
		err := opts.Validate()
		assert.Error(err, "case %d", i)
		assert.True(errors.Is(err, ErrInvalidOption), "case %d", i)

		_, err = Sample(context.Background(), newNormalModel([]float64{0}, []float64{1}), opts)
		assert.True(errors.Is(err, ErrInvalidOption), "case %d", i)
	}

	_, err := Sample(context.Background(), nil, DefaultOptions())
	assert.True(errors.Is(err, ErrInvalidOption))
}

func TestSampleNormal(t *testing.T) {
	assert := assert.New(t)

	m := newNormalModel([]float64{1, -2}, []float64{1, 0.5})
	opts := DefaultOptions()
	opts.Draws = 1000
	opts.Tune = 500
	opts.TargetAccept = 0.8
	opts.Chains = 2
	opts.Cores = 2
	opts.Seed = 42

	tr, err := Sample(context.Background(), m, opts)
	require.NoError(t, err)
	assert.True(tr.Sealed())
	assert.Equal(2000, tr.NumDraws())

	for i, want := range []struct{ mu, sd float64 }{{1, 1}, {-2, 0.5}} {
		vals, err := tr.Values("x", i)
		require.NoError(t, err)
		mean, sd := stat.MeanStdDev(vals, nil)
		assert.InDelta(want.mu, mean, 0.15*want.sd, "x[%d] mean", i)
		assert.InDelta(want.sd, sd, 0.15*want.sd, "x[%d] sd", i)
	}

	for _, c := range tr.Chains {
		assert.Equal(1000, c.Len())
		assert.Greater(c.StepSize, 0.0)
		assert.Len(c.InvMass, 2)
		// Adapted metric tracks the target variances
		assert.InDelta(1.0, c.InvMass[0], 0.4)
		assert.InDelta(0.25, c.InvMass[1], 0.1)
		assert.Empty(c.Warmup)
	}
	assert.Equal(0, tr.Divergences())
}

func TestSampleNoTuning(t *testing.T) {
	assert := assert.New(t)

	opts := DefaultOptions()
	opts.Tune = 0
	opts.Draws = 37
	opts.InitialStepSize = 0.3

	tr, err := Sample(context.Background(), newNormalModel([]float64{0}, []float64{1}), opts)
	require.NoError(t, err)
	assert.Equal(37, tr.NumDraws())
	assert.Len(tr.Chains, 1)
}

func TestSampleKeepWarmup(t *testing.T) {
	assert := assert.New(t)

	opts := DefaultOptions()
	opts.Tune = 30
	opts.Draws = 20
	opts.KeepWarmup = true

	tr, err := Sample(context.Background(), newNormalModel([]float64{0}, []float64{1}), opts)
	require.NoError(t, err)
	assert.Len(tr.Chains[0].Warmup, 30)
	assert.Len(tr.Chains[0].WarmupStats, 30)
	assert.Equal(20, tr.NumDraws())
}

func TestSampleDeterministic(t *testing.T) {
	assert := assert.New(t)

	m := newNormalModel([]float64{0, 0}, []float64{1, 2})
	opts := DefaultOptions()
	opts.Draws = 100
	opts.Tune = 100
	opts.Chains = 3
	opts.Seed = 1234

	opts.Cores = 1
	serial, err := Sample(context.Background(), m, opts)
	require.NoError(t, err)

	opts.Cores = 3
	parallel, err := Sample(context.Background(), m, opts)
	require.NoError(t, err)

	for i := range serial.Chains {
		assert.Equal(serial.Chains[i].Seed, parallel.Chains[i].Seed)
		assert.Equal(serial.Chains[i].Draws, parallel.Chains[i].Draws)
	}
	assert.NotEqual(serial.Chains[0].Draws, serial.Chains[1].Draws)

	opts.Seed = 4321
	other, err := Sample(context.Background(), m, opts)
	require.NoError(t, err)
	assert.NotEqual(serial.Chains[0].Draws, other.Chains[0].Draws)
}

func TestSampleInitRetry(t *testing.T) {
	assert := assert.New(t)

	m := &halfModel{normalModel: *newNormalModel([]float64{1}, []float64{1})}
	opts := DefaultOptions()
	opts.Tune = 0
	opts.Draws = 10
	opts.InitialStepSize = 0.1

	tr, err := Sample(context.Background(), m, opts)
	require.NoError(t, err)
	assert.Equal(10, tr.NumDraws())
	for _, d := range tr.Chains[0].Draws {
		assert.GreaterOrEqual(d[0], 0.5)
	}
}

func TestSampleInitFailure(t *testing.T) {
	assert := assert.New(t)

	m := &brokenModel{normalModel: *newNormalModel([]float64{0, 0}, []float64{1, 1})}
	opts := DefaultOptions()
	opts.Chains = 2
	opts.InitAttempts = 5

	tr, err := Sample(context.Background(), m, opts)
	assert.Nil(tr)
	assert.True(errors.Is(err, ErrInitialization))
}

// cancelObserver cancels the run once the given draw index completes
type cancelObserver struct {
	cancel context.CancelFunc
	at     int

	mu    sync.Mutex
	tunes int
	draws int
}

func (o *cancelObserver) Observe(chain int, it Iteration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if it.Phase == Tune {
		o.tunes++
		return
	}
	o.draws++
	if it.Index == o.at {
		o.cancel()
	}
}

func TestSampleCancel(t *testing.T) {
	assert := assert.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &cancelObserver{cancel: cancel, at: 5}
	opts := DefaultOptions()
	opts.Tune = 20
	opts.Draws = 1000
	opts.Observer = obs

	tr, err := Sample(ctx, newNormalModel([]float64{0}, []float64{1}), opts)
	assert.True(errors.Is(err, context.Canceled))
	require.NotNil(t, tr)
	assert.True(tr.Sealed())
	assert.Equal(6, tr.NumDraws())
	assert.Equal(20, obs.tunes)
	assert.Equal(6, obs.draws)
}

func TestSampleWarningsDeterministic(t *testing.T) {
	assert := assert.New(t)

	m := newNormalModel([]float64{0}, []float64{0.1})
	opts := DefaultOptions()
	opts.Tune = 0
	opts.Draws = 50
	opts.InitialStepSize = 50
	opts.Chains = 4

	opts.Cores = 1
	serial, err := Sample(context.Background(), m, opts)
	require.NoError(t, err)

	opts.Cores = 4
	parallel, err := Sample(context.Background(), m, opts)
	require.NoError(t, err)

	require.NotEmpty(t, serial.Warnings)
	assert.Equal(serial.Warnings, parallel.Warnings)
	for i := 1; i < len(parallel.Warnings); i++ {
		assert.LessOrEqual(parallel.Warnings[i-1].Chain, parallel.Warnings[i].Chain)
	}
}

func TestSampleLowAcceptanceWarning(t *testing.T) {
	assert := assert.New(t)

	// Without tuning, a huge fixed step on a narrow target rarely accepts
	opts := DefaultOptions()
	opts.Tune = 0
	opts.Draws = 50
	opts.InitialStepSize = 50

	tr, err := Sample(context.Background(), newNormalModel([]float64{0}, []float64{0.1}), opts)
	require.NoError(t, err)

	kinds := make(map[string]bool)
	for _, w := range tr.Warnings {
		kinds[w.Kind] = true
	}
	assert.True(kinds[trace.WarnLowAcceptance])
	assert.True(kinds[trace.WarnDivergences])
}

func TestSampleHorseshoe(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full Horseshoe run in short mode")
	}
	assert := assert.New(t)

	ds, err := data.Simulate(100, 50, 5, 0.5, 42)
	require.NoError(t, err)

	m, err := model.NewHorseshoe(ds.X, ds.Y)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Draws = 500
	opts.Tune = 250
	opts.Chains = 2
	opts.Cores = 2
	opts.Seed = 42

	tr, err := Sample(context.Background(), m, opts)
	require.NoError(t, err)

	beta, err := tr.Get(model.BetaName)
	require.NoError(t, err)
	assert.Len(beta, 1000)
	assert.Len(beta[0], 50)

	for _, name := range []string{model.TauName, model.SigmaName} {
		vals, err := tr.Values(name, 0)
		require.NoError(t, err)
		for _, v := range vals {
			assert.Greater(v, 0.0)
		}
	}

	sigma, err := tr.Mean(model.SigmaName)
	require.NoError(t, err)
	assert.InDelta(0.5, sigma[0], 0.25)

	mean, err := tr.Mean(model.BetaName)
	require.NoError(t, err)

	relevant := 0
	for j, b := range ds.TrueBeta {
		if b != 0 {
			relevant++
		}
		assert.InDelta(b, mean[j], 0.25, "beta[%d]", j)
	}
	assert.Equal(5, relevant)
}

func BenchmarkTransition(b *testing.B) {
	ds, err := data.Simulate(100, 50, 5, 0.5, 42)
	if err != nil {
		b.Fatal(err)
	}
	m, err := model.NewHorseshoe(ds.X, ds.Y)
	if err != nil {
		b.Fatal(err)
	}

	opts := DefaultOptions()
	opts.InitialStepSize = 0.05
	tr := trace.New(m.Params(), 1)
	ch, err := NewChain(0, m, 1, tr, opts)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ch.kernel.transition(ch.current)
	}
}
