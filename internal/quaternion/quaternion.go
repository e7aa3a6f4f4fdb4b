// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package quaternion is the rotation value type shared by the angle
// extraction and the synchronizers.
//
// A Quaternion is [w,x,y,z] where w is the scalar part. For a rotation of
// angle a about the unit axis (ax,ay,az):
//
//	w = cos(a/2)
//	x = ax * sin(a/2)
//	y = ay * sin(a/2)
//	z = az * sin(a/2)
//
// Every operation returns a new value; nothing is mutated in place.
package quaternion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Quaternion is a 3D rotation. Only unit quaternions represent rotations;
// call Normalize before extracting angles from an arbitrary reading.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity is the zero rotation [1,0,0,0].
var Identity = Quaternion{W: 1}

// New returns the quaternion [w,x,y,z].
func New(w, x, y, z float64) Quaternion {
	return Quaternion{W: w, X: x, Y: y, Z: z}
}

// FromAxisAngle builds the unit quaternion rotating by angleDeg degrees
// about the axis (ax,ay,az). The axis does not need to be normalized; a zero
// axis yields Identity.
func FromAxisAngle(ax, ay, az, angleDeg float64) Quaternion {
	n := math.Sqrt(ax*ax + ay*ay + az*az)
	if n == 0 {
		return Identity
	}
	half := angleDeg * math.Pi / 360
	s := math.Sin(half) / n
	return Quaternion{W: math.Cos(half), X: ax * s, Y: ay * s, Z: az * s}
}

func fromNumber(n quat.Number) Quaternion {
	return Quaternion{W: n.Real, X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

// Multiply returns the Hamilton product q*r: the composition of rotation r
// applied in the local frame of q. The product is not commutative.
func Multiply(q, r Quaternion) Quaternion {
	return fromNumber(quat.Mul(q.number(), r.number()))
}

// Tare re-expresses rotation relative to the zero-reference orientation
// tare, i.e. conjugate(tare)*rotation.
func Tare(rotation, tare Quaternion) Quaternion {
	return Multiply(tare.Conjugate(), rotation)
}

// Conjugate negates the vector part. For unit quaternions this is the
// inverse and is cheaper than Inverse.
func (q Quaternion) Conjugate() Quaternion {
	return fromNumber(quat.Conj(q.number()))
}

// Inverse is the conjugate divided by the squared norm. The inverse of the
// zero quaternion has infinite components.
func (q Quaternion) Inverse() Quaternion {
	return fromNumber(quat.Inv(q.number()))
}

// Norm is the Euclidean length sqrt(w²+x²+y²+z²).
func (q Quaternion) Norm() float64 {
	return quat.Abs(q.number())
}

// Normalize scales q to unit length. The zero quaternion has no direction;
// it normalizes to Identity instead of propagating NaN.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Identity
	}
	return fromNumber(quat.Scale(1/n, q.number()))
}

// Negate picks the w >= 0 representative of the rotation. q and -q are the
// same rotation, so downstream angle extraction always sees one branch.
func (q Quaternion) Negate() Quaternion {
	if q.W < 0 {
		return fromNumber(quat.Scale(-1, q.number()))
	}
	return q
}

// IsUnit reports whether the squared norm is within eps of 1.
func (q Quaternion) IsUnit(eps float64) bool {
	n := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
	return math.Abs(n-1) <= eps
}

// AlmostEqual compares component-wise within eps.
func AlmostEqual(a, b Quaternion, eps float64) bool {
	return math.Abs(a.W-b.W) <= eps &&
		math.Abs(a.X-b.X) <= eps &&
		math.Abs(a.Y-b.Y) <= eps &&
		math.Abs(a.Z-b.Z) <= eps
}

// Array returns [w,x,y,z].
func (q Quaternion) Array() [4]float64 {
	return [4]float64{q.W, q.X, q.Y, q.Z}
}

// String formats the components as comma separated values with three
// decimals, which is also the log body representation.
func (q Quaternion) String() string {
	return fmt.Sprintf("%.3f,%.3f,%.3f,%.3f", q.W, q.X, q.Y, q.Z)
}
