// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package synchronizer

import (
	"fmt"
	"time"

	"github.com/relabs-tech/knee_flexion/internal/logfile"
	"github.com/relabs-tech/knee_flexion/internal/quaternion"
	"github.com/relabs-tech/knee_flexion/internal/transport"
)

const (
	DefaultStreamingFrequency = 25.0
	DefaultErrorTolerance     = 0.25
)

// BufferedOption configures a BufferedLogSynchronizer.
type BufferedOption func(*BufferedLogSynchronizer)

// WithStreamingFrequency sets the nominal sample rate in Hz.
func WithStreamingFrequency(hz float64) BufferedOption {
	return func(b *BufferedLogSynchronizer) { b.frequency = hz }
}

// WithErrorTolerance sets the fraction of a sample period a sample may lag
// behind the latest sensor before it is dropped.
func WithErrorTolerance(tolerance float64) BufferedOption {
	return func(b *BufferedLogSynchronizer) { b.tolerance = tolerance }
}

// BufferedLogSynchronizer aligns per-sensor batches of logged samples into
// records. A round completes once every sensor has contributed a batch.
type BufferedLogSynchronizer struct {
	buffers   [][]transport.Sample
	checklist []bool
	frequency float64
	tolerance float64
}

// NewBuffered returns a synchronizer for n sensors at 25 Hz with a 25%
// tolerance unless overridden.
func NewBuffered(n int, opts ...BufferedOption) (*BufferedLogSynchronizer, error) {
	if n < 1 {
		return nil, fmt.Errorf("synchronizer: need at least one sensor, got %d", n)
	}
	b := &BufferedLogSynchronizer{
		buffers:   make([][]transport.Sample, n),
		checklist: make([]bool, n),
		frequency: DefaultStreamingFrequency,
		tolerance: DefaultErrorTolerance,
	}
	for _, o := range opts {
		o(b)
	}
	if b.frequency <= 0 {
		return nil, fmt.Errorf("synchronizer: streaming frequency must be positive, got %v", b.frequency)
	}
	if b.tolerance < 0 {
		return nil, fmt.Errorf("synchronizer: tolerance must not be negative, got %v", b.tolerance)
	}
	return b, nil
}

// Window is the largest lag tolerated between aligned samples:
// one period plus tolerance times one period.
func (b *BufferedLogSynchronizer) Window() time.Duration {
	period := 1 / b.frequency
	return time.Duration((period + period*b.tolerance) * float64(time.Second))
}

// SensorCount is N.
func (b *BufferedLogSynchronizer) SensorCount() int {
	return len(b.buffers)
}

// Buffered returns the number of samples waiting for sensor i.
func (b *BufferedLogSynchronizer) Buffered(i int) int {
	if i < 0 || i >= len(b.buffers) {
		return 0
	}
	return len(b.buffers[i])
}

// AddDataToBuffer appends samples for sensorIndex and marks the sensor as
// reported. When every sensor has reported, the round is closed: buffers
// are aligned, the common prefix is exported and completed is true. rec is
// nil when the round exported nothing. An out-of-range index changes
// nothing and returns ErrSensorIndex.
func (b *BufferedLogSynchronizer) AddDataToBuffer(sensorIndex int, samples []transport.Sample) (rec *logfile.Record, completed bool, err error) {
	if sensorIndex < 0 || sensorIndex >= len(b.buffers) {
		return nil, false, fmt.Errorf("%w: %d not in [0,%d)", ErrSensorIndex, sensorIndex, len(b.buffers))
	}

	b.buffers[sensorIndex] = append(b.buffers[sensorIndex], samples...)
	b.checklist[sensorIndex] = true
	for _, ok := range b.checklist {
		if !ok {
			return nil, false, nil
		}
	}

	for i := range b.checklist {
		b.checklist[i] = false
	}
	b.synchronize()
	return b.trimAndExport(), true, nil
}

func (b *BufferedLogSynchronizer) minLength() int {
	n := len(b.buffers[0])
	for _, buf := range b.buffers[1:] {
		if len(buf) < n {
			n = len(buf)
		}
	}
	return n
}

// synchronize walks the buffers position by position. At each position the
// latest timestamp across sensors is the reference; samples of the other
// sensors lagging it by more than Window are removed until the sample in
// that position is within the window.
func (b *BufferedLogSynchronizer) synchronize() {
	window := b.Window()
	for p := 0; p < b.minLength(); p++ {
		latest := b.buffers[0][p].Timestamp
		for _, buf := range b.buffers[1:] {
			if ts := buf[p].Timestamp; ts.After(latest) {
				latest = ts
			}
		}

		for i := range b.buffers {
			for p < len(b.buffers[i]) && latest.Sub(b.buffers[i][p].Timestamp) > window {
				b.buffers[i] = append(b.buffers[i][:p], b.buffers[i][p+1:]...)
			}
		}
	}
}

// trimAndExport moves the aligned common prefix into a record, keeping any
// tail for the next round. Row timestamps come from sensor 0.
func (b *BufferedLogSynchronizer) trimAndExport() *logfile.Record {
	n := b.minLength()
	if n == 0 {
		return nil
	}

	times := make([]time.Time, n)
	for k := 0; k < n; k++ {
		times[k] = b.buffers[0][k].Timestamp
	}

	quats := make([][]quaternion.Quaternion, len(b.buffers))
	for i, buf := range b.buffers {
		quats[i] = make([]quaternion.Quaternion, n)
		for k := 0; k < n; k++ {
			quats[i][k] = buf[k].Quaternion
		}
		b.buffers[i] = append([]transport.Sample(nil), buf[n:]...)
	}
	return logfile.NewRecord(times, quats)
}

// Flush closes the current round whether or not every sensor reported, and
// exports what aligns. It is used once a download has finished.
func (b *BufferedLogSynchronizer) Flush() *logfile.Record {
	for i := range b.checklist {
		b.checklist[i] = false
	}
	b.synchronize()
	return b.trimAndExport()
}

// ClearBuffer drops every buffered sample and the round checklist.
func (b *BufferedLogSynchronizer) ClearBuffer() {
	for i := range b.buffers {
		b.buffers[i] = nil
		b.checklist[i] = false
	}
}
