// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package anatomy turns the orientation of two sensors strapped across a
// knee into flexion/extension, internal/external rotation and varus/valgus.
//
// The decomposition is sequential: flexion is isolated first about the
// flexion axis of the mounting, the lower frame is then rotated by that
// flexion, and the two remaining axes are measured against the flexed frame.
// All angles are in degrees, in (-180, 180].
package anatomy

import (
	"fmt"
	"math"
	"strings"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

// Mounting selects which sensor axis the knee flexes about.
type Mounting int

const (
	// MountingStandard: flexion about Y, rotation about X, varus about Z.
	MountingStandard Mounting = iota
	// MountingLateral: flexion about Z, rotation about X, varus about Y.
	MountingLateral
)

func (m Mounting) String() string {
	switch m {
	case MountingStandard:
		return "standard"
	case MountingLateral:
		return "lateral"
	default:
		return fmt.Sprintf("mounting(%d)", int(m))
	}
}

// ParseMounting accepts "standard" or "lateral", case-insensitive.
func ParseMounting(s string) (Mounting, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard":
		return MountingStandard, nil
	case "lateral":
		return MountingLateral, nil
	}
	return 0, fmt.Errorf("unknown mounting %q (want standard or lateral)", s)
}

// Angles is one anatomical reading in degrees.
type Angles struct {
	Flexion  float64 `json:"flexion"`
	Rotation float64 `json:"rotation"`
	Varus    float64 `json:"varus"`
}

// Sub returns a - b component-wise.
func (a Angles) Sub(b Angles) Angles {
	return Angles{
		Flexion:  a.Flexion - b.Flexion,
		Rotation: a.Rotation - b.Rotation,
		Varus:    a.Varus - b.Varus,
	}
}

// Array returns [flexion, rotation, varus].
func (a Angles) Array() [3]float64 {
	return [3]float64{a.Flexion, a.Rotation, a.Varus}
}

type axis int

const (
	axisX axis = iota
	axisY
	axisZ
)

// project keeps only the scalar part and the component along a, then
// renormalizes, giving a pure rotation about a.
func project(q quaternion.Quaternion, a axis) quaternion.Quaternion {
	switch a {
	case axisX:
		q.Y, q.Z = 0, 0
	case axisY:
		q.X, q.Z = 0, 0
	case axisZ:
		q.X, q.Y = 0, 0
	}
	return q.Normalize()
}

func component(q quaternion.Quaternion, a axis) float64 {
	switch a {
	case axisX:
		return q.X
	case axisY:
		return q.Y
	default:
		return q.Z
	}
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// magnitude is the rotation angle of a unit quaternion, in [0, 360].
func magnitude(q quaternion.Quaternion) float64 {
	return degrees(2 * math.Acos(clampUnit(q.W)))
}

// signedAngle is the angle of the single-axis rotation q about a, negative
// when the axis component is negative. -180 is reported as 180.
func signedAngle(q quaternion.Quaternion, a axis) float64 {
	angle := magnitude(q)
	if component(q, a) < 0 {
		angle = -angle
	}
	return fold(angle)
}

func fold(angle float64) float64 {
	switch {
	case angle > 180:
		return angle - 360
	case angle <= -180:
		return angle + 360
	}
	return angle
}

// relative is the rotation from the reference frame to rotation,
// canonicalized to w >= 0.
func relative(reference, rotation quaternion.Quaternion) quaternion.Quaternion {
	return quaternion.Multiply(reference.Conjugate(), rotation).Negate()
}

func decompose(lower, upper quaternion.Quaternion, flexAxis, rotAxis, varAxis axis) Angles {
	flex := project(relative(lower, upper), flexAxis)
	flexed := quaternion.Multiply(lower, flex)
	diff := relative(flexed, upper)

	return Angles{
		Flexion:  signedAngle(flex, flexAxis),
		Rotation: signedAngle(project(diff, rotAxis), rotAxis),
		Varus:    signedAngle(project(diff, varAxis), varAxis),
	}
}

// Extract decomposes the relative orientation of upper with respect to lower
// for a standard mounting.
func Extract(lower, upper quaternion.Quaternion) Angles {
	return decompose(lower, upper, axisY, axisX, axisZ)
}

// ExtractLateral decomposes for sensors mounted on the side of the leg.
func ExtractLateral(lower, upper quaternion.Quaternion) Angles {
	return decompose(lower, upper, axisZ, axisX, axisY)
}

// Extract dispatches to the decomposition matching the mounting.
func (m Mounting) Extract(lower, upper quaternion.Quaternion) Angles {
	if m == MountingLateral {
		return ExtractLateral(lower, upper)
	}
	return Extract(lower, upper)
}
