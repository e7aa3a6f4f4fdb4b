// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package anatomy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

// TareMode selects how the zero reference is applied.
type TareMode int

const (
	// TareAngles subtracts the angles extracted at capture time.
	TareAngles TareMode = iota
	// TareFrames re-expresses every sensor reading relative to the
	// orientation it had at capture time, before extraction.
	TareFrames
)

func (m TareMode) String() string {
	switch m {
	case TareAngles:
		return "angles"
	case TareFrames:
		return "frames"
	default:
		return fmt.Sprintf("tare(%d)", int(m))
	}
}

// ParseTareMode accepts "angles" or "frames".
func ParseTareMode(s string) (TareMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "angles":
		return TareAngles, nil
	case "frames":
		return TareFrames, nil
	}
	return 0, fmt.Errorf("unknown tare mode %q (want angles or frames)", s)
}

// ErrTooFewSensors is returned when fewer than the lower and upper readings
// are supplied.
var ErrTooFewSensors = errors.New("anatomy: need lower and upper sensor readings")

// Tare holds the zero reference captured by the user. It is safe for
// concurrent use: readings are applied from the network callback while the
// capture request usually arrives from another goroutine.
type Tare struct {
	mode          TareMode
	mounting      Mounting
	invertFlexion bool

	mu     sync.RWMutex
	offset Angles
	frames []quaternion.Quaternion
}

// NewTare returns a Tare with no reference captured yet.
func NewTare(mode TareMode, mounting Mounting, invertFlexion bool) *Tare {
	return &Tare{mode: mode, mounting: mounting, invertFlexion: invertFlexion}
}

// Capture stores quats (index 0 lower, index 1 upper) as the new zero.
func (t *Tare) Capture(quats []quaternion.Quaternion) error {
	if len(quats) < 2 {
		return ErrTooFewSensors
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.mode {
	case TareFrames:
		t.frames = append(t.frames[:0], quats...)
		t.offset = Angles{}
	default:
		t.offset = t.mounting.Extract(quats[0], quats[1])
		t.frames = nil
	}
	return nil
}

// Reset drops the captured reference.
func (t *Tare) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = Angles{}
	t.frames = nil
}

// Raw extracts untared angles using the configured mounting.
func (t *Tare) Raw(quats []quaternion.Quaternion) (Angles, error) {
	if len(quats) < 2 {
		return Angles{}, ErrTooFewSensors
	}
	return t.mounting.Extract(quats[0], quats[1]), nil
}

// Apply extracts angles from quats relative to the captured reference.
func (t *Tare) Apply(quats []quaternion.Quaternion) (Angles, error) {
	if len(quats) < 2 {
		return Angles{}, ErrTooFewSensors
	}

	t.mu.RLock()
	lower, upper := quats[0], quats[1]
	if t.mode == TareFrames && len(t.frames) >= 2 {
		lower = quaternion.Tare(lower, t.frames[0])
		upper = quaternion.Tare(upper, t.frames[1])
	}
	offset := t.offset
	t.mu.RUnlock()

	a := t.mounting.Extract(lower, upper).Sub(offset)
	if t.invertFlexion {
		a.Flexion = -a.Flexion
	}
	return a, nil
}
