package diag

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CraigKelly/horseshoe/model"
	"github.com/CraigKelly/horseshoe/rand"
	"github.com/CraigKelly/horseshoe/trace"
)

func iidChains(t *testing.T, seed int64, chains, draws int, shift float64) [][]float64 {
	gen, err := rand.NewGenerator(seed)
	require.NoError(t, err)

	out := make([][]float64, chains)
	for i := range out {
		out[i] = make([]float64, draws)
		for j := range out[i] {
			out[i][j] = gen.NormFloat64()
			if i == chains-1 {
				out[i][j] += shift
			}
		}
	}
	return out
}

func ar1Chains(t *testing.T, seed int64, chains, draws int, phi float64) [][]float64 {
	gen, err := rand.NewGenerator(seed)
	require.NoError(t, err)

	out := make([][]float64, chains)
	for i := range out {
		out[i] = make([]float64, draws)
		x := gen.NormFloat64()
		for j := range out[i] {
			x = phi*x + math.Sqrt(1-phi*phi)*gen.NormFloat64()
			out[i][j] = x
		}
	}
	return out
}

// testTrace has tau (scalar) and beta (2 components); beta[1] is AR(1)
func testTrace(t *testing.T, chains, draws int) *trace.Trace {
	params := []model.Param{
		{Name: "tau", Size: 1, Offset: 0},
		{Name: "beta", Size: 2, Offset: 1},
	}
	tr := trace.New(params, chains)

	iid := iidChains(t, 42, chains, draws, 0)
	ar := ar1Chains(t, 43, chains, draws, 0.9)
	for c, ch := range tr.Chains {
		for d := 0; d < draws; d++ {
			row := []float64{math.Exp(iid[c][d]), iid[c][d], ar[c][d]}
			require.NoError(t, ch.Append(row, trace.Stats{}))
		}
	}
	tr.Seal()
	return tr
}

func TestAverageRanks(t *testing.T) {
	assert.Equal(t, []float64{3.5, 1, 3.5, 2}, averageRanks([]float64{3, 1, 3, 2}))
	assert.Equal(t, []float64{2, 2, 2}, averageRanks([]float64{5, 5, 5}))
}

func TestAutocov(t *testing.T) {
	x := iidChains(t, 1, 1, 37, 0)[0]
	got := autocov(x)
	require.Len(t, got, len(x))

	n := len(x)
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)

	for lag := 0; lag < n; lag++ {
		want := 0.0
		for i := 0; i+lag < n; i++ {
			want += (x[i] - mean) * (x[i+lag] - mean)
		}
		want /= float64(n)
		assert.InDelta(t, want, got[lag], 1e-9, "lag %d", lag)
	}
}

func TestBulkESS(t *testing.T) {
	assert := assert.New(t)

	iid := iidChains(t, 7, 4, 1000, 0)
	v, err := BulkESS(iid)
	require.NoError(t, err)
	assert.Greater(v, 0.7*4000)
	assert.LessOrEqual(v, 4000.0)

	// One chain stuck elsewhere: between-chain disagreement drags ESS down
	agree, err := BulkESS(iidChains(t, 12, 4, 500, 0))
	require.NoError(t, err)
	disagree, err := BulkESS(iidChains(t, 12, 4, 500, 5))
	require.NoError(t, err)
	assert.Greater(agree, 0.7*2000)
	assert.Less(disagree, 0.05*agree)
	assert.Greater(disagree, 0.0)

	ar := ar1Chains(t, 8, 4, 1000, 0.9)
	v, err = BulkESS(ar)
	require.NoError(t, err)
	assert.Less(v, 0.15*4000)
	assert.Greater(v, 0.02*4000)

	constant := [][]float64{{2, 2, 2, 2, 2, 2, 2, 2, 2}, {2, 2, 2, 2, 2, 2, 2, 2, 2}}
	v, err = BulkESS(constant)
	require.NoError(t, err)
	assert.Equal(18.0, v)

	_, err = BulkESS([][]float64{{1, 2, 3, 4, 5, 6, 7}})
	assert.True(errors.Is(err, ErrTooFewDraws))
	_, err = BulkESS(nil)
	assert.True(errors.Is(err, ErrTooFewDraws))
}

func TestTailESS(t *testing.T) {
	assert := assert.New(t)

	v, err := TailESSChains(iidChains(t, 9, 4, 1000, 0))
	require.NoError(t, err)
	assert.Greater(v, 0.5*4000)
	assert.LessOrEqual(v, 4000.0)

	slow, err := TailESSChains(ar1Chains(t, 10, 4, 1000, 0.95))
	require.NoError(t, err)
	assert.Less(slow, v)
}

func TestRHat(t *testing.T) {
	assert := assert.New(t)

	v, err := RHatChains(iidChains(t, 11, 4, 500, 0))
	require.NoError(t, err)
	assert.InDelta(1.0, v, 0.02)

	v, err = RHatChains(iidChains(t, 12, 4, 500, 5))
	require.NoError(t, err)
	assert.Greater(v, 1.5)

	v, err = RHatChains([][]float64{{1, 1, 1, 1, 1, 1, 1, 1}, {1, 1, 1, 1, 1, 1, 1, 1}})
	require.NoError(t, err)
	assert.True(math.IsNaN(v))
}

func TestEffectiveSampleSize(t *testing.T) {
	assert := assert.New(t)

	tr := testTrace(t, 2, 500)

	ess, err := EffectiveSampleSize(tr, nil)
	require.NoError(t, err)
	assert.Len(ess, 3)
	for _, k := range []string{"tau", "beta[0]", "beta[1]"} {
		assert.Contains(ess, k)
		assert.Greater(ess[k], 0.0)
		assert.LessOrEqual(ess[k], 1000.0)
	}

	// Rank normalization makes ESS invariant to monotone transforms
	assert.InDelta(ess["beta[0]"], ess["tau"], 1e-6)
	assert.Less(ess["beta[1]"], ess["beta[0]"])

	only, err := EffectiveSampleSize(tr, []string{"tau"})
	require.NoError(t, err)
	assert.Equal(map[string]float64{"tau": ess["tau"]}, only)

	_, err = EffectiveSampleSize(tr, []string{"nope"})
	assert.True(errors.Is(err, trace.ErrUnknownVar))

	short := testTrace(t, 2, 5)
	_, err = EffectiveSampleSize(short, nil)
	assert.True(errors.Is(err, ErrTooFewDraws))

	tail, err := TailESS(tr, []string{"beta"})
	require.NoError(t, err)
	assert.Len(tail, 2)

	rh, err := RHat(tr, nil)
	require.NoError(t, err)
	assert.InDelta(1.0, rh["beta[0]"], 0.05)
}

func TestSummarize(t *testing.T) {
	assert := assert.New(t)

	tr := testTrace(t, 2, 500)
	rows, err := Summarize(tr, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal("tau", rows[0].Key)
	assert.Equal("beta[0]", rows[1].Key)
	assert.Equal("beta[1]", rows[2].Key)

	b := rows[1]
	assert.InDelta(0.0, b.Mean, 0.15)
	assert.InDelta(1.0, b.SD, 0.1)
	assert.Less(b.Q5, b.Mean)
	assert.Greater(b.Q95, b.Mean)
	assert.InDelta(-1.645, b.Q5, 0.25)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, rows))
	assert.Contains(buf.String(), "ess_bulk")
	assert.Contains(buf.String(), "beta[1]")
}

func TestPlotTrace(t *testing.T) {
	assert := assert.New(t)

	tr := testTrace(t, 2, 100)

	var buf bytes.Buffer
	require.NoError(t, PlotTrace(tr, []string{"beta"}, &buf))
	assert.True(bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	dir := t.TempDir()

	fn := filepath.Join(dir, "trace.png")
	require.NoError(t, SavePlotTrace(tr, nil, fn))
	st, err := os.Stat(fn)
	require.NoError(t, err)
	assert.Greater(st.Size(), int64(0))

	assert.Error(PlotTrace(tr, []string{"nope"}, &buf))

	empty := trace.New(tr.Params, 1)
	assert.True(errors.Is(PlotTrace(empty, nil, &buf), ErrTooFewDraws))
}
