package synchronizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

func TestNewStreamRejectsEmpty(t *testing.T) {
	_, err := NewStream(0)
	assert.Error(t, err)
}

func TestStreamFiresOncePerCycle(t *testing.T) {
	s, err := NewStream(2)
	require.NoError(t, err)

	var cycles [][]quaternion.Quaternion
	s.SetHandler(func(q []quaternion.Quaternion) { cycles = append(cycles, q) })

	q0 := quaternion.FromAxisAngle(0, 1, 0, 10)
	q1 := quaternion.FromAxisAngle(0, 1, 0, 50)

	require.NoError(t, s.Submit(0, q0))
	assert.Empty(t, cycles)
	assert.Equal(t, 1, s.Filled())

	require.NoError(t, s.Submit(1, q1))
	require.Len(t, cycles, 1)
	assert.Equal(t, []quaternion.Quaternion{q0, q1}, cycles[0])
	assert.Equal(t, 0, s.Filled())
	assert.Equal(t, uint64(1), s.Stats().Cycles)
}

func TestStreamRepeatedSensorDoesNotFire(t *testing.T) {
	s, err := NewStream(2)
	require.NoError(t, err)

	fired := 0
	var last []quaternion.Quaternion
	s.SetHandler(func(q []quaternion.Quaternion) { fired++; last = q })

	first := quaternion.FromAxisAngle(1, 0, 0, 5)
	second := quaternion.FromAxisAngle(1, 0, 0, 15)
	require.NoError(t, s.Submit(0, first))
	require.NoError(t, s.Submit(0, second))
	assert.Equal(t, 0, fired)
	assert.Equal(t, uint64(1), s.Stats().Overwrites)

	require.NoError(t, s.Submit(1, quaternion.Identity))
	require.Equal(t, 1, fired)
	assert.Equal(t, second, last[0])
}

func TestStreamOutOfRange(t *testing.T) {
	s, err := NewStream(2)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Submit(2, quaternion.Identity), ErrSensorIndex)
	assert.ErrorIs(t, s.Submit(-1, quaternion.Identity), ErrSensorIndex)
	assert.Equal(t, 0, s.Filled())
}

func TestStreamNilHandler(t *testing.T) {
	s, err := NewStream(1)
	require.NoError(t, err)

	require.NoError(t, s.Submit(0, quaternion.Identity))
	require.NoError(t, s.Submit(0, quaternion.Identity))
	assert.Equal(t, uint64(2), s.Stats().Cycles)
	assert.Equal(t, uint64(0), s.Stats().Overwrites)
}
