package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

func TestHubSubscribeUnsubscribe(t *testing.T) {
	h := NewHub(4)

	var first, second []int
	unsubFirst := h.Subscribe(func(s Sample) { first = append(first, s.SensorIndex) })
	h.Subscribe(func(s Sample) { second = append(second, s.SensorIndex) })

	h.PublishSample(Sample{SensorIndex: 0, Quaternion: quaternion.Identity})
	unsubFirst()
	unsubFirst()
	h.PublishSample(Sample{SensorIndex: 1, Quaternion: quaternion.Identity})

	assert.Equal(t, []int{0}, first)
	assert.Equal(t, []int{0, 1}, second)
}

func TestHubBatches(t *testing.T) {
	h := NewHub(1)

	var got []int
	unsub := h.OnBatch(func(i int, samples []Sample) { got = append(got, i, len(samples)) })
	h.PublishBatch(1, make([]Sample, 3))
	unsub()
	h.PublishBatch(0, make([]Sample, 2))

	assert.Equal(t, []int{1, 3}, got)
}

func TestHubEmitDropsWhenFull(t *testing.T) {
	monitoring.SetLogger(nil)
	h := NewHub(1)

	h.Emit(NewEvent(EventConnected, 0, ""))
	h.Emit(NewEvent(EventConnected, 1, ""))
	assert.Equal(t, uint64(1), h.DroppedEvents())

	e := <-h.Events()
	assert.Equal(t, 0, e.SensorIndex)
}

func TestHubClose(t *testing.T) {
	h := NewHub(2)
	called := false
	h.Subscribe(func(Sample) { called = true })

	h.Close()
	h.Close()
	h.Emit(NewEvent(EventError, AllSensors, "late"))
	h.PublishSample(Sample{})

	_, ok := <-h.Events()
	require.False(t, ok)
	assert.False(t, called)
	assert.True(t, h.Closed())
}
