// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package synchronizer aligns readings that arrive independently from each
// sensor. StreamSynchronizer groups live readings into cycles of one reading
// per sensor; BufferedLogSynchronizer aligns downloaded logs by timestamp.
//
// Neither type is safe for concurrent use. Callers serialize Submit and
// AddDataToBuffer behind one lock so that the all-filled check and the
// reset that follows are never interleaved with another sensor's update.
package synchronizer

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

// ErrSensorIndex is returned for a sensor index outside [0, N).
var ErrSensorIndex = errors.New("synchronizer: sensor index out of range")

// CycleHandler receives one reading per sensor, indexed by sensor position.
// The slice is owned by the handler.
type CycleHandler func(quats []quaternion.Quaternion)

// StreamStats counts completed cycles and readings that replaced an
// earlier reading of the same sensor within one cycle.
type StreamStats struct {
	Cycles     uint64 `json:"cycles"`
	Overwrites uint64 `json:"overwrites"`
}

// StreamSynchronizer holds the latest reading of each sensor for the
// current cycle.
type StreamSynchronizer struct {
	slots   []quaternion.Quaternion
	filled  []bool
	count   int
	handler CycleHandler
	stats   StreamStats
}

// NewStream returns a synchronizer for n sensors.
func NewStream(n int) (*StreamSynchronizer, error) {
	if n < 1 {
		return nil, fmt.Errorf("synchronizer: need at least one sensor, got %d", n)
	}
	return &StreamSynchronizer{
		slots:  make([]quaternion.Quaternion, n),
		filled: make([]bool, n),
	}, nil
}

// SensorCount is N.
func (s *StreamSynchronizer) SensorCount() int {
	return len(s.slots)
}

// SetHandler replaces the cycle handler. A nil handler discards cycles.
func (s *StreamSynchronizer) SetHandler(h CycleHandler) {
	s.handler = h
}

// Submit stores q for sensorIndex. A second reading for the same sensor in
// one cycle replaces the first. When every sensor has reported, the handler
// runs synchronously and the cycle starts over.
func (s *StreamSynchronizer) Submit(sensorIndex int, q quaternion.Quaternion) error {
	if sensorIndex < 0 || sensorIndex >= len(s.slots) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrSensorIndex, sensorIndex, len(s.slots))
	}

	s.slots[sensorIndex] = q
	if s.filled[sensorIndex] {
		s.stats.Overwrites++
		return nil
	}
	s.filled[sensorIndex] = true
	s.count++
	if s.count < len(s.slots) {
		return nil
	}

	cycle := make([]quaternion.Quaternion, len(s.slots))
	copy(cycle, s.slots)
	s.Reset()
	s.stats.Cycles++
	if s.handler != nil {
		s.handler(cycle)
	}
	return nil
}

// Reset empties the current cycle. Slot values are left in place and are
// overwritten by the next readings.
func (s *StreamSynchronizer) Reset() {
	for i := range s.filled {
		s.filled[i] = false
	}
	s.count = 0
}

// Filled reports how many sensors have reported in the current cycle.
func (s *StreamSynchronizer) Filled() int {
	return s.count
}

// Stats returns the counters since construction.
func (s *StreamSynchronizer) Stats() StreamStats {
	return s.stats
}
