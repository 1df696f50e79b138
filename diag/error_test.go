package diag

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CraigKelly/horseshoe/trace"
)

func TestAbsDiff(t *testing.T) {
	assert := assert.New(t)

	a := []float64{1, 2, 3}
	b := []float64{1, 0, 6}
	assert.InDelta(5.0/3.0, MeanAbsDiff(a, b), 1e-12)
	assert.InDelta(3.0, MaxAbsDiff(a, b), 1e-12)
	assert.Equal(0.0, MeanAbsDiff(nil, nil))
	assert.Equal(0.0, MaxAbsDiff(nil, nil))
}

func TestErrorSuite(t *testing.T) {
	assert := assert.New(t)

	// beta[0] is centred on its truth, beta[1] is nowhere near
	tr := testTrace(t, 2, 500)
	es, err := NewErrorSuite(tr, "beta", []float64{0, 10})
	require.NoError(t, err)

	require.Len(t, es.Estimate, 2)
	assert.InDelta(0.0, es.Estimate[0], 0.15)
	assert.InDelta(0.5, es.Coverage, 1e-12)
	assert.InDelta(10.0, es.MaxAbsError, 1.0)
	assert.InDelta(5.0, es.MeanAbsError, 0.6)
	assert.Greater(es.RMSError, es.MeanAbsError)
	assert.LessOrEqual(es.RMSError, es.MaxAbsError)

	es, err = NewErrorSuite(tr, "tau", []float64{math.Exp(0)})
	require.NoError(t, err)
	assert.Equal(1.0, es.Coverage)

	_, err = NewErrorSuite(tr, "beta", []float64{0})
	assert.Error(err)
	_, err = NewErrorSuite(tr, "nope", []float64{0})
	assert.True(errors.Is(err, trace.ErrUnknownVar))

	empty := trace.New(tr.Params, 1)
	_, err = NewErrorSuite(empty, "beta", []float64{0, 0})
	assert.True(errors.Is(err, ErrTooFewDraws))
}
