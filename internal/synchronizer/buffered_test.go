package synchronizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
	"github.com/relabs-tech/knee_flexion/internal/transport"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// series returns n samples 40 ms apart starting offset after epoch.
func series(sensor, n int, offset time.Duration) []transport.Sample {
	out := make([]transport.Sample, n)
	for k := range out {
		out[k] = transport.Sample{
			SensorIndex: sensor,
			Quaternion:  quaternion.FromAxisAngle(0, 1, 0, float64(k)),
			Timestamp:   epoch.Add(offset + time.Duration(k)*40*time.Millisecond),
		}
	}
	return out
}

func TestBufferedWindow(t *testing.T) {
	b, err := NewBuffered(2)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, b.Window())

	b, err = NewBuffered(2, WithStreamingFrequency(100), WithErrorTolerance(0))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, b.Window())
}

func TestNewBufferedRejectsBadOptions(t *testing.T) {
	_, err := NewBuffered(0)
	assert.Error(t, err)
	_, err = NewBuffered(2, WithStreamingFrequency(0))
	assert.Error(t, err)
	_, err = NewBuffered(2, WithErrorTolerance(-1))
	assert.Error(t, err)
}

func TestBufferedWaitsForEverySensor(t *testing.T) {
	b, err := NewBuffered(2)
	require.NoError(t, err)

	rec, done, err := b.AddDataToBuffer(0, series(0, 10, 0))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, rec)
	assert.Equal(t, 10, b.Buffered(0))
}

func TestBufferedAlignment(t *testing.T) {
	cases := []struct {
		name   string
		offset time.Duration
		want   int
	}{
		{"aligned", 0, 10},
		{"within window", 30 * time.Millisecond, 10},
		{"one sample behind", 80 * time.Millisecond, 9},
		{"two samples behind", 120 * time.Millisecond, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := NewBuffered(2)
			require.NoError(t, err)

			_, _, err = b.AddDataToBuffer(0, series(0, 10, 0))
			require.NoError(t, err)
			rec, done, err := b.AddDataToBuffer(1, series(1, 10, tc.offset))
			require.NoError(t, err)
			require.True(t, done)
			require.NotNil(t, rec)

			assert.Equal(t, tc.want, rec.Count())
			assert.Equal(t, 2, rec.SensorCount())
			for k := 1; k < rec.Count(); k++ {
				assert.Equal(t, 40*time.Millisecond, rec.Timestamps[k].Sub(rec.Timestamps[k-1]))
			}
		})
	}
}

func TestBufferedAlignmentDropsLaggingHead(t *testing.T) {
	b, err := NewBuffered(2)
	require.NoError(t, err)

	_, _, err = b.AddDataToBuffer(0, series(0, 10, 0))
	require.NoError(t, err)
	rec, _, err := b.AddDataToBuffer(1, series(1, 10, 120*time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, rec)

	// sensor 0 lost its first two samples, so rows start at 80 ms
	assert.Equal(t, epoch.Add(80*time.Millisecond), rec.Timestamps[0])
	assert.Equal(t, quaternion.FromAxisAngle(0, 1, 0, 2), rec.Quats[0][0])
	assert.Equal(t, quaternion.FromAxisAngle(0, 1, 0, 0), rec.Quats[1][0])
}

func TestBufferedKeepsTail(t *testing.T) {
	b, err := NewBuffered(2)
	require.NoError(t, err)

	_, _, err = b.AddDataToBuffer(0, series(0, 12, 0))
	require.NoError(t, err)
	rec, done, err := b.AddDataToBuffer(1, series(1, 10, 0))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, 10, rec.Count())
	assert.Equal(t, 2, b.Buffered(0))
	assert.Equal(t, 0, b.Buffered(1))

	// the next round starts from the kept tail
	_, done, err = b.AddDataToBuffer(0, nil)
	require.NoError(t, err)
	assert.False(t, done)
	next := series(1, 2, 400*time.Millisecond)
	rec, done, err = b.AddDataToBuffer(1, next)
	require.NoError(t, err)
	require.True(t, done)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.Count())
	assert.Equal(t, epoch.Add(400*time.Millisecond), rec.Timestamps[0])
}

func TestBufferedBadIndexLeavesStateUntouched(t *testing.T) {
	b, err := NewBuffered(2)
	require.NoError(t, err)

	_, _, err = b.AddDataToBuffer(0, series(0, 3, 0))
	require.NoError(t, err)

	rec, done, err := b.AddDataToBuffer(2, series(2, 3, 0))
	assert.ErrorIs(t, err, ErrSensorIndex)
	assert.False(t, done)
	assert.Nil(t, rec)
	assert.Equal(t, 3, b.Buffered(0))
	assert.Equal(t, 0, b.Buffered(1))
}

func TestBufferedEmptyRound(t *testing.T) {
	b, err := NewBuffered(2)
	require.NoError(t, err)

	_, _, err = b.AddDataToBuffer(0, series(0, 5, 0))
	require.NoError(t, err)
	rec, done, err := b.AddDataToBuffer(1, nil)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Nil(t, rec)
	assert.Equal(t, 5, b.Buffered(0))
}

func TestBufferedClearBuffer(t *testing.T) {
	b, err := NewBuffered(2)
	require.NoError(t, err)

	_, _, err = b.AddDataToBuffer(0, series(0, 5, 0))
	require.NoError(t, err)
	b.ClearBuffer()
	assert.Equal(t, 0, b.Buffered(0))

	// sensor 0 must report again after a clear
	_, done, err := b.AddDataToBuffer(1, series(1, 5, 0))
	require.NoError(t, err)
	assert.False(t, done)
}

func TestBufferedFlush(t *testing.T) {
	b, err := NewBuffered(2)
	require.NoError(t, err)

	_, _, err = b.AddDataToBuffer(0, series(0, 10, 0))
	require.NoError(t, err)
	rec, _, err := b.AddDataToBuffer(1, series(1, 4, 0))
	require.NoError(t, err)
	require.Equal(t, 4, rec.Count())

	// sensor 1 keeps delivering after sensor 0 is done
	_, done, err := b.AddDataToBuffer(1, series(1, 10, 0)[4:])
	require.NoError(t, err)
	assert.False(t, done)

	rec = b.Flush()
	require.NotNil(t, rec)
	assert.Equal(t, 6, rec.Count())
	assert.Equal(t, epoch.Add(160*time.Millisecond), rec.Timestamps[0])
	assert.Nil(t, b.Flush())
}
