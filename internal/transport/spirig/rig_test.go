package spirig

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/orientation"
	"github.com/relabs-tech/knee_flexion/internal/quaternion"
	"github.com/relabs-tech/knee_flexion/internal/transport"
)

type fixedSource struct {
	pose orientation.Pose
	err  error
}

func (f fixedSource) Next() (orientation.Pose, error) { return f.pose, f.err }

func TestRigPublishesPoses(t *testing.T) {
	mock := clock.NewMock()
	r := NewWithSources([]orientation.Source{
		fixedSource{},
		fixedSource{pose: orientation.Pose{Pitch: 30}},
	}, 40*time.Millisecond, mock)
	defer r.Close()

	var (
		mu  sync.Mutex
		got = map[int]transport.Sample{}
	)
	r.Subscribe(func(s transport.Sample) {
		mu.Lock()
		got[s.SensorIndex] = s
		mu.Unlock()
	})
	require.NoError(t, r.Connect(context.Background()))

	require.Eventually(t, func() bool {
		mock.Add(40 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, quaternion.Identity, got[0].Quaternion)
	assert.True(t, quaternion.AlmostEqual(quaternion.FromAxisAngle(0, 1, 0, 30), got[1].Quaternion, 1e-12))
	assert.Equal(t, got[0].Timestamp, got[1].Timestamp)
}

func TestRigReportsLostBoard(t *testing.T) {
	monitoring.SetLogger(nil)
	mock := clock.NewMock()
	r := NewWithSources([]orientation.Source{fixedSource{err: errors.New("spi: no ack")}}, 10*time.Millisecond, mock)
	defer r.Close()
	require.NoError(t, r.Connect(context.Background()))

	require.Equal(t, transport.EventConnectingInitiated, (<-r.Events()).Kind)
	require.Equal(t, transport.EventConnected, (<-r.Events()).Kind)

	lost := make(chan transport.Event, 1)
	go func() {
		for e := range r.Events() {
			if e.Kind == transport.EventLostConnection {
				lost <- e
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		mock.Add(10 * time.Millisecond)
		return len(lost) == 1
	}, 5*time.Second, time.Millisecond)
	e := <-lost
	assert.Equal(t, 0, e.SensorIndex)
	assert.Contains(t, e.Description, "no ack")
}

func TestRigOpenFailure(t *testing.T) {
	r := newRig(0, clock.NewMock(), func() ([]orientation.Source, error) {
		return nil, errors.New("no spidev")
	})
	defer r.Close()
	assert.ErrorContains(t, r.Connect(context.Background()), "no spidev")
}
