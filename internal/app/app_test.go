package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/knee_flexion/internal/anatomy"
	"github.com/relabs-tech/knee_flexion/internal/config"
	"github.com/relabs-tech/knee_flexion/internal/logfile"
	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/network"
	"github.com/relabs-tech/knee_flexion/internal/quaternion"
	"github.com/relabs-tech/knee_flexion/internal/transport"
	"github.com/relabs-tech/knee_flexion/internal/transport/mqttbridge"
)

type message struct {
	topic   string
	payload []byte
}

type recorder struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (r *recorder) publish(topic string, _ byte, _ bool, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, message{topic: topic, payload: payload})
	return nil
}

func (r *recorder) messages() []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message(nil), r.msgs...)
}

func TestSampleProducerPublishesSamples(t *testing.T) {
	rec := &recorder{}
	p := &sampleProducer{publish: rec.publish, prefix: "knee"}

	s := transport.Sample{SensorIndex: 1, Quaternion: quaternion.FromAxisAngle(0, 1, 0, 30), Timestamp: time.Unix(100, 0).UTC()}
	p.publishSample(s)
	p.publishEvent(transport.NewEvent(transport.EventConnected, 0, ""))
	p.publishEvent(transport.NewEvent(transport.EventConnected, transport.AllSensors, ""))

	msgs := rec.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "knee/sensor/1/quat", msgs[0].topic)
	var got transport.Sample
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, s, got)

	assert.Equal(t, "knee/sensor/0/status", msgs[1].topic)
	var e transport.Event
	require.NoError(t, json.Unmarshal(msgs[1].payload, &e))
	assert.Equal(t, transport.EventConnected, e.Kind)
}

func TestSampleProducerCountsFailures(t *testing.T) {
	rec := &recorder{err: errors.New("broker gone")}
	p := &sampleProducer{publish: rec.publish, prefix: "knee"}
	p.publishSample(transport.Sample{})
	assert.Equal(t, uint64(1), p.failed)
	assert.Equal(t, uint64(0), p.published)
}

func TestSampleProducerRelaysDownload(t *testing.T) {
	mock := transport.NewMock(transport.MockConfig{Sensors: 2, LogSamples: 30}, clock.NewMock())
	defer mock.Close()

	rec := &recorder{}
	p := &sampleProducer{publish: rec.publish, prefix: "knee"}
	defer mock.OnBatch(p.publishBatch)()

	require.NoError(t, p.download(context.Background(), mock, 2))

	samples := map[string]int{}
	var done []string
	for _, m := range rec.messages() {
		var c mqttbridge.LogChunk
		require.NoError(t, json.Unmarshal(m.payload, &c))
		samples[m.topic] += len(c.Samples)
		if c.Done {
			assert.Equal(t, 1.0, c.Progress)
			done = append(done, m.topic)
		}
	}
	assert.Equal(t, 30, samples["knee/sensor/0/log"])
	assert.Equal(t, 30, samples["knee/sensor/1/log"])
	assert.Equal(t, []string{"knee/sensor/0/log", "knee/sensor/1/log"}, done)
}

type fakeTarer struct {
	captures, resets int
	err              error
}

func (f *fakeTarer) Tare() error {
	f.captures++
	return f.err
}

func (f *fakeTarer) ResetTare() { f.resets++ }

func TestAngleProducerTare(t *testing.T) {
	rec := &recorder{}
	tarer := &fakeTarer{}
	p := &angleProducer{publish: rec.publish, prefix: "knee", tare: tarer}

	p.handleTare([]byte("capture"))
	p.handleTare([]byte(" reset\n"))
	assert.Equal(t, 1, tarer.captures)
	assert.Equal(t, 1, tarer.resets)
	assert.Empty(t, rec.messages())

	tarer.err = network.ErrNoReading
	p.handleTare(nil)
	msgs := rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "knee/events", msgs[0].topic)
	var e transport.Event
	require.NoError(t, json.Unmarshal(msgs[0].payload, &e))
	assert.Equal(t, transport.EventError, e.Kind)
	assert.Contains(t, e.Description, "no reading")
}

func TestAngleProducerPublishesReadings(t *testing.T) {
	rec := &recorder{}
	p := &angleProducer{publish: rec.publish, prefix: "knee"}

	r := network.Reading{
		Quats:     []quaternion.Quaternion{quaternion.Identity, quaternion.Identity},
		Angles:    anatomy.Angles{Flexion: 42.5},
		Timestamp: time.Unix(5, 0).UTC(),
	}
	p.publishReading(r)

	msgs := rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "knee/angles", msgs[0].topic)
	var got network.Reading
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, r, got)
}

func TestWebAngles(t *testing.T) {
	s := newWebServer(func(string) error { return nil })
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/angles")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	payload, err := json.Marshal(network.Reading{Angles: anatomy.Angles{Flexion: 12, Rotation: -3, Varus: 1}})
	require.NoError(t, err)
	require.NoError(t, s.update(payload))
	assert.Error(t, s.update([]byte("{")))

	resp, err = http.Get(srv.URL + "/api/angles")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got network.Reading
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 12.0, got.Angles.Flexion)
}

func TestWebTare(t *testing.T) {
	var cmds []string
	fail := false
	s := newWebServer(func(cmd string) error {
		if fail {
			return errors.New("broker gone")
		}
		cmds = append(cmds, cmd)
		return nil
	})
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/tare")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/tare", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/tare?reset=true", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, []string{"capture", "reset"}, cmds)

	fail = true
	resp, err = http.Post(srv.URL+"/api/tare", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestWebSocketPushesReadings(t *testing.T) {
	s := newWebServer(func(string) error { return nil })
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/angles"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(network.Reading{Angles: anatomy.Angles{Flexion: 33}})
	require.NoError(t, err)
	require.NoError(t, s.update(payload))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(msg))

	conn.Close()
	assert.Eventually(t, func() bool { return s.clientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebLogsThroughMonitoring(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	s := newWebServer(func(string) error { return nil })
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/angles", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "web: websocket upgrade error")
}

func TestFormatEvent(t *testing.T) {
	e := transport.Event{Kind: transport.EventLostConnection, SensorIndex: 1, Description: "out of range"}
	assert.Equal(t, "[EVENT]  lost_connection sensor=1: out of range", formatEvent(e))

	e = transport.Event{Kind: transport.EventConnected, SensorIndex: transport.AllSensors}
	assert.Equal(t, "[EVENT]  connected sensor=all", formatEvent(e))
}

func TestFormatReading(t *testing.T) {
	r := network.Reading{Angles: anatomy.Angles{Flexion: 45.126, Rotation: -2, Varus: 0.5}}
	assert.Equal(t, "[ANGLES] FLEX=  45.13  ROT=  -2.00  VAR=   0.50", formatReading(r))
}

func TestReplay(t *testing.T) {
	start := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	flexed := quaternion.FromAxisAngle(0, 1, 0, 30)
	rec := logfile.NewRecord(
		[]time.Time{start, start.Add(40 * time.Millisecond), start.Add(80 * time.Millisecond)},
		[][]quaternion.Quaternion{
			{quaternion.Identity, quaternion.Identity, quaternion.Identity},
			{quaternion.Identity, quaternion.Identity, flexed},
		},
	)

	var out bytes.Buffer
	sum, err := replay(rec, anatomy.MountingStandard, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Rows)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "08:00:00.000,0.00,0.00,0.00,"))

	seq := anatomy.Extract(quaternion.Identity, flexed)
	cf := anatomy.ClosedForm(quaternion.Identity, flexed)
	assert.InDelta(t, anatomy.Divergence(seq, cf).Flexion, sum.MaxDivergence.Flexion, 1e-9)
}

func TestReplayNeedsTwoSensors(t *testing.T) {
	rec := logfile.NewRecord([]time.Time{time.Now()}, [][]quaternion.Quaternion{{quaternion.Identity}})
	_, err := replay(rec, anatomy.MountingStandard, &bytes.Buffer{})
	assert.ErrorIs(t, err, anatomy.ErrTooFewSensors)
}

func TestSyncLogs(t *testing.T) {
	mock := transport.NewMock(transport.MockConfig{Sensors: 2, LogSamples: 60}, nil)
	cfg := config.Default()
	cfg.Subject = "S11"
	svc, err := network.New(mock, networkConfig(cfg), nil)
	require.NoError(t, err)
	defer svc.Disconnect()
	require.NoError(t, svc.Connect(context.Background()))

	store, err := logfile.NewStore(t.TempDir())
	require.NoError(t, err)

	var out bytes.Buffer
	path, err := syncLogs(context.Background(), svc, store, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "100%")

	rec, err := logfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60, rec.Count())
	assert.Equal(t, "S11", rec.Metadata.Subject)
}

func TestOpenTransport(t *testing.T) {
	cfg := config.Default()
	tr, err := openTransport(cfg, "")
	require.NoError(t, err)
	_, ok := tr.(*transport.Mock)
	assert.True(t, ok)
	require.NoError(t, tr.Close())

	cfg.Transport = "pigeon"
	_, err = openTransport(cfg, "")
	assert.Error(t, err)
}
