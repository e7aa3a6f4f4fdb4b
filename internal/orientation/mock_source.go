// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

type mockSource struct {
	clk   clock.Clock
	start time.Time
	phase float64
}

// NewMockSource creates a mock orientation source that generates smooth
// changing values, shifted in time by phase seconds so that two mock
// sources on one leg do not move in lockstep.
func NewMockSource(clk clock.Clock, phase float64) Source {
	if clk == nil {
		clk = clock.New()
	}
	return &mockSource{clk: clk, start: clk.Now(), phase: phase}
}

func (m *mockSource) Next() (Pose, error) {
	elapsed := m.clk.Since(m.start).Seconds() + m.phase

	return Pose{
		Roll:  20 * math.Sin(elapsed),
		Pitch: 45 - 45*math.Cos(elapsed*0.7),
		Yaw:   0,
	}, nil
}
