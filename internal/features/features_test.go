package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumns(t *testing.T) {
	cols := Columns()
	require.Len(t, cols, Width)
	assert.Equal(t, "Time", cols[0])
	assert.Equal(t, "V1", cols[1])
	assert.Equal(t, "V28", cols[28])
	assert.Equal(t, "Amount", cols[29])
}

func TestFromNamed_RealFieldsInPlace(t *testing.T) {
	noise := NewRandNoise(7)
	tx := FromNamed(Named{TimeMillis: 5000, V1: -1.5, V2: 2.25, Amount: 149.62}, noise, DefaultNoiseStdDev)

	assert.Equal(t, 5.0, tx[IdxTime])
	assert.Equal(t, -1.5, tx[IdxV1])
	assert.Equal(t, 2.25, tx[IdxV2])
	assert.Equal(t, 149.62, tx.Amount())
}

func TestFromNamed_NoiseDiffersBetweenCalls(t *testing.T) {
	noise := NewRandNoise(11)
	in := Named{TimeMillis: 1, V1: 1, V2: 1, Amount: 1}

	a := FromNamed(in, noise, DefaultNoiseStdDev)
	b := FromNamed(in, noise, DefaultNoiseStdDev)

	for _, i := range []int{IdxTime, IdxV1, IdxV2, IdxAmount} {
		assert.Equal(t, a[i], b[i], "column %d should be stable", i)
	}
	differs := 0
	for i := 3; i < IdxAmount; i++ {
		if a[i] != b[i] {
			differs++
		}
	}
	assert.Equal(t, 26, differs, "every noise column should be redrawn")
}

func TestFromNamed_ZeroStdDevIsFlat(t *testing.T) {
	tx := FromNamed(Named{Amount: 3}, NewRandNoise(1), 0)
	for i := 3; i < IdxAmount; i++ {
		assert.Zero(t, tx[i])
	}
}

func TestFromVector(t *testing.T) {
	v := make([]float64, Width)
	for i := range v {
		v[i] = float64(i)
	}
	tx, err := FromVector(v)
	require.NoError(t, err)
	assert.Equal(t, 29.0, tx.Amount())

	v[0] = 99
	assert.Equal(t, 0.0, tx[0], "row must not alias the input")

	_, err = FromVector(v[:10])
	assert.ErrorIs(t, err, ErrWidth)
}

func TestRandNoise_Seeded(t *testing.T) {
	a := NewRandNoise(42)
	b := NewRandNoise(42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Normal(0, 1), b.Normal(0, 1))
	}
}
