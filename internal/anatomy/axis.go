// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package anatomy

import (
	"math"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

func unsignedAbout(rotation, reference quaternion.Quaternion, a axis) float64 {
	angle := magnitude(project(relative(reference, rotation), a))
	if angle > 180 {
		return 360 - angle
	}
	return angle
}

// AngleAboutXAxis is the unsigned rotation of rotation relative to reference,
// measured about the reference X axis. Angles above 180 are folded to
// 360 - angle.
func AngleAboutXAxis(rotation, reference quaternion.Quaternion) float64 {
	return unsignedAbout(rotation, reference, axisX)
}

// AngleAboutYAxis is AngleAboutXAxis for the Y axis.
func AngleAboutYAxis(rotation, reference quaternion.Quaternion) float64 {
	return unsignedAbout(rotation, reference, axisY)
}

// AngleAboutZAxis is AngleAboutXAxis for the Z axis. With polarity set the
// result is signed, computed as 2*asin(z) of the projected rotation.
func AngleAboutZAxis(rotation, reference quaternion.Quaternion, polarity bool) float64 {
	if !polarity {
		return unsignedAbout(rotation, reference, axisZ)
	}
	q := project(relative(reference, rotation), axisZ)
	return degrees(2 * math.Asin(clampUnit(q.Z)))
}
