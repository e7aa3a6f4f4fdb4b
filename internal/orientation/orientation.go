// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

// Pose is a sensor orientation as roll/pitch/yaw in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Source is anything that can provide poses over time: a wired IMU, the mock
// source, or a replay.
type Source interface {
	Next() (Pose, error)
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is 0 (no magnetometer fusion on the bench rig).
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
		Yaw:   0,
	}
}

// Quaternion converts the pose using the aerospace Z-Y-X sequence: yaw
// about Z, then pitch about the new Y, then roll about the new X.
func (p Pose) Quaternion() quaternion.Quaternion {
	yaw := quaternion.FromAxisAngle(0, 0, 1, p.Yaw)
	pitch := quaternion.FromAxisAngle(0, 1, 0, p.Pitch)
	roll := quaternion.FromAxisAngle(1, 0, 0, p.Roll)
	return quaternion.Multiply(yaw, quaternion.Multiply(pitch, roll))
}
