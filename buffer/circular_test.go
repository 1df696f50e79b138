package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircularFloat(t *testing.T) {
	assert := assert.New(t)

	ci := NewCircularFloat(6)
	assert.Equal(6, ci.BufSize)
	assert.Equal(0, ci.Count)
	assert.Equal(0.0, ci.Mean())

	ci.Add(1)
	ci.Add(2)
	ci.Add(3)
	ci.Add(4)
	ci.Add(5)
	assert.Equal(6, ci.BufSize)
	assert.Equal(5, ci.Count)
	assert.False(ci.Full())
	assert.Nil(ci.FirstHalf())
	assert.Nil(ci.SecondHalf())
	assert.InDelta(3.0, ci.Mean(), 1e-12)

	ci.Add(6)
	assert.Equal(6, ci.BufSize)
	assert.Equal(6, ci.Count)
	assert.True(ci.Full())

	exp := 0.0
	for iter := ci.FirstHalf(); iter.Next(); {
		val := iter.Value()
		exp++
		assert.Equal(exp, val)
	}
	for iter := ci.SecondHalf(); iter.Next(); {
		val := iter.Value()
		exp++
		assert.Equal(exp, val)
	}

	// 1 2 3 4 5 6 add 8 add 8 => 8 8 3 4 5 6
	// So first=3,4,5 second=6,8,8
	ci.Add(8)
	ci.Add(8)
	assert.Equal(int64(8), ci.TotalSeen)
	assert.InDelta(34.0/6.0, ci.Mean(), 1e-12)

	expVals := []float64{3, 4, 5, 6, 8, 8}
	idx := 0
	for iter := ci.FirstHalf(); iter.Next(); {
		val := iter.Value()
		exp := expVals[idx]
		idx++
		assert.Equal(exp, val)
	}
	for iter := ci.SecondHalf(); iter.Next(); {
		val := iter.Value()
		exp := expVals[idx]
		idx++
		assert.Equal(exp, val)
	}
}

func TestCircularFloatOddSize(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(4, NewCircularFloat(5).BufSize)
	assert.Equal(2, NewCircularFloat(0).BufSize)
	assert.Equal(2, NewCircularFloat(1).BufSize)
}
