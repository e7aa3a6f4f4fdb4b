// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

// MockConfig shapes the synthetic sensors.
type MockConfig struct {
	Sensors  int
	Interval time.Duration
	// Jitter is the maximum absolute timestamp error added to every sample.
	Jitter time.Duration
	// DropRate is the probability of skipping a sample.
	DropRate float64
	// LogSamples is the on-board log length per sensor for Download.
	LogSamples int
	// FailConnects makes the first n Connect calls fail.
	FailConnects int
	Seed         int64
}

// Mock simulates a knee swinging between extension and 90° of flexion.
// Sensor 0 is the lower leg, sensor 1 the thigh; additional sensors
// follow the thigh.
type Mock struct {
	*Hub

	cfg MockConfig
	clk clock.Clock

	mu        sync.Mutex
	rng       *rand.Rand
	start     time.Time
	failsLeft int
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMock returns an unconnected mock transport.
func NewMock(cfg MockConfig, clk clock.Clock) *Mock {
	if cfg.Sensors < 1 {
		cfg.Sensors = 2
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 40 * time.Millisecond
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Mock{
		Hub:       NewHub(64),
		cfg:       cfg,
		clk:       clk,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		start:     clk.Now(),
		failsLeft: cfg.FailConnects,
	}
}

// Pose returns the simulated orientation of a sensor at t.
func (m *Mock) Pose(sensorIndex int, t time.Time) quaternion.Quaternion {
	elapsed := t.Sub(m.start).Seconds()
	heading := quaternion.FromAxisAngle(0, 0, 1, 10*math.Sin(elapsed*0.3))
	if sensorIndex == 0 {
		return heading
	}
	flexion := 45 - 45*math.Cos(elapsed*2*math.Pi/4)
	return quaternion.Multiply(heading, quaternion.FromAxisAngle(0, 1, 0, flexion))
}

// Connect starts one streaming goroutine per sensor.
func (m *Mock) Connect(ctx context.Context) error {
	if m.Closed() {
		return ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failsLeft > 0 {
		m.failsLeft--
		return errors.New("mock: sensor did not answer")
	}
	if m.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	for i := 0; i < m.cfg.Sensors; i++ {
		// tickers are created before returning so a mocked clock cannot
		// advance past the first tick unnoticed
		ticker := m.clk.Ticker(m.cfg.Interval)
		m.wg.Add(1)
		go m.stream(runCtx, i, ticker)
		m.Emit(NewEvent(EventConnected, i, ""))
	}
	return nil
}

func (m *Mock) stream(ctx context.Context, sensorIndex int, ticker *clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			m.mu.Lock()
			drop := m.cfg.DropRate > 0 && m.rng.Float64() < m.cfg.DropRate
			jitter := m.jitter()
			m.mu.Unlock()
			if drop {
				continue
			}
			m.PublishSample(Sample{
				SensorIndex: sensorIndex,
				Quaternion:  m.Pose(sensorIndex, t),
				Timestamp:   t.Add(jitter),
			})
		}
	}
}

// jitter must be called with m.mu held.
func (m *Mock) jitter() time.Duration {
	if m.cfg.Jitter <= 0 {
		return 0
	}
	return time.Duration(m.rng.Int63n(int64(2*m.cfg.Jitter+1))) - m.cfg.Jitter
}

func (m *Mock) stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.wg.Wait()
	}
}

// DropConnection stops streaming and reports a lost connection for every
// sensor, as a radio dropout would.
func (m *Mock) DropConnection() {
	m.stop()
	for i := 0; i < m.cfg.Sensors; i++ {
		m.Emit(NewEvent(EventLostConnection, i, fmt.Sprintf("sensor %d out of range", i)))
	}
}

// Download delivers LogSamples per sensor in chunks, with the sensor's
// clock offset by a fraction of the interval and the configured jitter.
func (m *Mock) Download(ctx context.Context, progress ProgressFunc) error {
	if m.Closed() {
		return ErrClosed
	}
	const chunk = 25

	total := m.cfg.LogSamples
	for i := 0; i < m.cfg.Sensors; i++ {
		offset := time.Duration(i) * m.cfg.Interval / 4
		for from := 0; from < total; from += chunk {
			if err := ctx.Err(); err != nil {
				return err
			}
			to := from + chunk
			if to > total {
				to = total
			}
			batch := make([]Sample, 0, to-from)
			m.mu.Lock()
			for k := from; k < to; k++ {
				ts := m.start.Add(time.Duration(k)*m.cfg.Interval + offset + m.jitter())
				batch = append(batch, Sample{SensorIndex: i, Quaternion: m.Pose(i, ts), Timestamp: ts})
			}
			m.mu.Unlock()
			m.PublishBatch(i, batch)
			if progress != nil {
				progress(i, float64(to)/float64(total))
			}
		}
		if total == 0 && progress != nil {
			progress(i, 1)
		}
	}
	return nil
}

// Close stops streaming, reports the disconnect and closes the hub.
func (m *Mock) Close() error {
	if m.Closed() {
		return nil
	}
	m.stop()
	for i := 0; i < m.cfg.Sensors; i++ {
		m.Emit(NewEvent(EventDisconnected, i, ""))
	}
	m.Hub.Close()
	return nil
}
