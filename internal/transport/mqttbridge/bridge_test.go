package mqttbridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/quaternion"
	"github.com/relabs-tech/knee_flexion/internal/transport"
)

func newTestBridge() *Bridge {
	monitoring.SetLogger(nil)
	return New(Config{Broker: "tcp://127.0.0.1:1", ClientID: "test", TopicPrefix: "knee", Sensors: 2})
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "knee/sensor/1/quat", SensorTopic("knee", 1, LeafQuat))
	assert.Equal(t, "knee/sensor/+/log", SensorWildcard("knee", LeafLog))
	assert.Equal(t, "knee/cmd/download", DownloadTopic("knee"))
	assert.Equal(t, "knee/angles", AnglesTopic("knee"))
	assert.Equal(t, "knee/events", EventsTopic("knee"))
	assert.Equal(t, "knee/cmd/tare", TareTopic("knee"))

	idx, leaf, err := parseSensorTopic("knee", "knee/sensor/3/status")
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
	assert.Equal(t, LeafStatus, leaf)

	for _, bad := range []string{"other/sensor/1/quat", "knee/sensor/x/quat", "knee/sensor/-1/quat", "knee/sensor/1"} {
		_, _, err := parseSensorTopic("knee", bad)
		assert.Error(t, err, bad)
	}
}

func TestHandleSample(t *testing.T) {
	b := newTestBridge()
	var got []transport.Sample
	b.Subscribe(func(s transport.Sample) { got = append(got, s) })

	b.handle("knee/sensor/1/quat", []byte(`{"sensor":0,"quat":{"w":1,"x":0,"y":0,"z":0},"timestamp":"2024-03-01T10:00:00.040Z"}`))
	b.handle("knee/sensor/1/quat", []byte(`not json`))

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].SensorIndex)
	assert.Equal(t, quaternion.Identity, got[0].Quaternion)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 40_000_000, time.UTC), got[0].Timestamp.UTC())
}

func TestHandleStatus(t *testing.T) {
	b := newTestBridge()
	b.handle("knee/sensor/0/status", []byte(`{"kind":"lost_connection","description":"battery"}`))

	e := <-b.Events()
	assert.Equal(t, transport.EventLostConnection, e.Kind)
	assert.Equal(t, 0, e.SensorIndex)
	assert.Equal(t, "battery", e.Description)
	assert.False(t, e.Timestamp.IsZero())
}

func TestHandleLogChunks(t *testing.T) {
	b := newTestBridge()

	batches := map[int]int{}
	b.OnBatch(func(i int, samples []transport.Sample) {
		for _, s := range samples {
			assert.Equal(t, i, s.SensorIndex)
		}
		batches[i] += len(samples)
	})

	finished := make(chan struct{})
	progress := map[int]float64{}
	b.pending = map[int]bool{0: true, 1: true}
	b.finished = finished
	b.progress = func(i int, f float64) { progress[i] = f }

	chunk := `{"samples":[{"quat":{"w":1}},{"quat":{"w":1}}],"progress":0.5,"done":false}`
	final := `{"samples":[{"quat":{"w":1}}],"progress":0.9,"done":true}`
	b.handle("knee/sensor/0/log", []byte(chunk))
	b.handle("knee/sensor/0/log", []byte(final))
	assert.Equal(t, 1.0, progress[0])

	select {
	case <-finished:
		t.Fatal("finished before sensor 1 reported")
	default:
	}

	b.handle("knee/sensor/1/log", []byte(final))
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("download not finished")
	}
	assert.Equal(t, map[int]int{0: 3, 1: 1}, batches)
}

func TestConnectAfterCloseFails(t *testing.T) {
	b := newTestBridge()
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Connect(context.Background()), transport.ErrClosed)
	assert.ErrorIs(t, b.Download(context.Background(), nil), transport.ErrClosed)
}
