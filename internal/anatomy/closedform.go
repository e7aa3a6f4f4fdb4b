// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package anatomy

import (
	"math"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

// Closed-form single-axis angles of a relative rotation q. They agree with
// the sequential decomposition for single-axis motion and drift apart as
// the other axes grow; see Divergence.

// atanRatio returns -atan(num/den) in degrees, or 0 when the ratio is
// undefined.
func atanRatio(num, den float64) float64 {
	if num == 0 && den == 0 {
		return 0
	}
	return -degrees(math.Atan(num / den))
}

// FlexAngle is -atan((2wz+2xy) / (2y²+2z²-1)).
func FlexAngle(q quaternion.Quaternion) float64 {
	return atanRatio(2*q.W*q.Z+2*q.X*q.Y, 2*q.Y*q.Y+2*q.Z*q.Z-1)
}

// RotAngle is -atan((2wx-2yz) / (2x²+2z²-1)).
func RotAngle(q quaternion.Quaternion) float64 {
	return atanRatio(2*q.W*q.X-2*q.Y*q.Z, 2*q.X*q.X+2*q.Z*q.Z-1)
}

// VarAngle is asin(2wz+2xy) in degrees. Older exports computed π minus
// this angle, mixing radians and degrees, so their varus column is not
// comparable with this one.
func VarAngle(q quaternion.Quaternion) float64 {
	return degrees(math.Asin(clampUnit(2*q.W*q.Z + 2*q.X*q.Y)))
}

// ClosedForm applies FlexAngle, RotAngle and VarAngle to the relative
// rotation of upper with respect to lower.
func ClosedForm(lower, upper quaternion.Quaternion) Angles {
	q := relative(lower, upper)
	return Angles{
		Flexion:  FlexAngle(q),
		Rotation: RotAngle(q),
		Varus:    VarAngle(q),
	}
}

// Divergence is the absolute per-axis difference between two readings.
func Divergence(a, b Angles) Angles {
	d := a.Sub(b)
	return Angles{
		Flexion:  math.Abs(d.Flexion),
		Rotation: math.Abs(d.Rotation),
		Varus:    math.Abs(d.Varus),
	}
}
