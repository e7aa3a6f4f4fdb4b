package quaternion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

var samples = []Quaternion{
	Identity,
	FromAxisAngle(1, 0, 0, 45),
	FromAxisAngle(0, 1, 0, -120),
	FromAxisAngle(0, 0, 1, 179),
	FromAxisAngle(1, 2, 3, 73),
	New(-0.5, 0.5, -0.5, 0.5),
}

func TestMultiplyByConjugateIsIdentity(t *testing.T) {
	for _, q := range samples {
		got := Multiply(q, q.Conjugate()).Normalize()
		assert.True(t, AlmostEqual(got, Identity, eps), "q=%v got=%v", q, got)
	}
}

func TestMultiplyHamiltonProduct(t *testing.T) {
	i := New(0, 1, 0, 0)
	j := New(0, 0, 1, 0)
	k := New(0, 0, 0, 1)

	assert.Equal(t, k, Multiply(i, j))
	assert.Equal(t, New(0, 0, 0, -1), Multiply(j, i))
	assert.Equal(t, i, Multiply(j, k))
	assert.Equal(t, New(-1, 0, 0, 0), Multiply(i, i))
}

func TestMultiplyComposesRotations(t *testing.T) {
	a := FromAxisAngle(0, 1, 0, 30)
	b := FromAxisAngle(0, 1, 0, 45)
	got := Multiply(a, b)
	assert.True(t, AlmostEqual(got, FromAxisAngle(0, 1, 0, 75), eps), "got=%v", got)
}

func TestInverse(t *testing.T) {
	t.Run("unit quaternion inverse equals conjugate", func(t *testing.T) {
		for _, q := range samples {
			assert.True(t, AlmostEqual(q.Inverse(), q.Conjugate(), eps))
		}
	})

	t.Run("non unit quaternion", func(t *testing.T) {
		q := New(2, 0, 0, 0)
		assert.True(t, AlmostEqual(q.Inverse(), New(0.5, 0, 0, 0), eps))
		assert.True(t, AlmostEqual(Multiply(q, q.Inverse()), Identity, eps))
	})
}

func TestNormalize(t *testing.T) {
	t.Run("scales to unit length", func(t *testing.T) {
		q := New(1, 2, 3, 4).Normalize()
		assert.InDelta(t, 1, q.Norm(), eps)
		assert.InDelta(t, 1/math.Sqrt(30), q.W, eps)
		assert.True(t, q.IsUnit(eps))
	})

	t.Run("zero quaternion falls back to identity", func(t *testing.T) {
		assert.Equal(t, Identity, New(0, 0, 0, 0).Normalize())
	})

	t.Run("nan components fall back to identity", func(t *testing.T) {
		assert.Equal(t, Identity, New(math.NaN(), 0, 0, 0).Normalize())
	})
}

func TestNegate(t *testing.T) {
	q := New(-0.5, 0.5, -0.5, 0.5)
	n := q.Negate()
	assert.Equal(t, New(0.5, -0.5, 0.5, -0.5), n)

	for _, s := range samples {
		assert.GreaterOrEqual(t, s.Negate().Negate().W, 0.0)
	}

	p := New(0.5, 0.5, 0.5, 0.5)
	assert.Equal(t, p, p.Negate())
}

func TestTare(t *testing.T) {
	zero := FromAxisAngle(0, 0, 1, 90)
	reading := Multiply(zero, FromAxisAngle(1, 0, 0, 20))

	got := Tare(reading, zero)
	assert.True(t, AlmostEqual(got, FromAxisAngle(1, 0, 0, 20), eps), "got=%v", got)
	assert.True(t, AlmostEqual(Tare(zero, zero), Identity, eps))
}

func TestFromAxisAngle(t *testing.T) {
	q := FromAxisAngle(0, 2, 0, 30)
	require.True(t, q.IsUnit(eps))
	assert.InDelta(t, math.Cos(15*math.Pi/180), q.W, eps)
	assert.InDelta(t, math.Sin(15*math.Pi/180), q.Y, eps)
	assert.Equal(t, Identity, FromAxisAngle(0, 0, 0, 45))
}

func TestStringAndArray(t *testing.T) {
	q := New(0.70710678, 0, -0.70710678, 0.0004)
	assert.Equal(t, "0.707,0.000,-0.707,0.000", q.String())
	assert.Equal(t, [4]float64{0.70710678, 0, -0.70710678, 0.0004}, q.Array())
}
