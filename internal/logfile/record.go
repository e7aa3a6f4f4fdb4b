// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package logfile holds synchronized multi-sensor recordings and their
// on-disk representation: a CSV body of one row per aligned instant wrapped
// in a JSON envelope carrying the session metadata.
package logfile

import (
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

var (
	// ErrMalformed wraps every parse failure of a persisted record.
	ErrMalformed = errors.New("logfile: malformed record")
	// ErrSensorCount is returned when combining data with a different
	// number of sensors.
	ErrSensorCount = errors.New("logfile: sensor count mismatch")
)

// Record is a synchronized recording. Quats[i][k] is the reading of sensor
// i at Timestamps[k]. The sequences may temporarily differ in length; Count
// is the number of complete rows.
type Record struct {
	Timestamps []time.Time
	Quats      [][]quaternion.Quaternion
	Metadata   Metadata
}

// NewRecord wraps aligned data with default metadata created now.
func NewRecord(times []time.Time, quats [][]quaternion.Quaternion) *Record {
	return &Record{
		Timestamps: times,
		Quats:      quats,
		Metadata:   DefaultMetadata(time.Now()),
	}
}

// SensorCount is the number of quaternion sequences.
func (r *Record) SensorCount() int {
	return len(r.Quats)
}

// Count is the minimum length across the timestamps and every sensor
// sequence.
func (r *Record) Count() int {
	n := len(r.Timestamps)
	for _, q := range r.Quats {
		if len(q) < n {
			n = len(q)
		}
	}
	return n
}

// Row returns the timestamp and the per-sensor readings of row k.
func (r *Record) Row(k int) (time.Time, []quaternion.Quaternion) {
	row := make([]quaternion.Quaternion, len(r.Quats))
	for i := range r.Quats {
		row[i] = r.Quats[i][k]
	}
	return r.Timestamps[k], row
}

// Copy returns a deep copy.
func (r *Record) Copy() *Record {
	c := &Record{
		Timestamps: append([]time.Time(nil), r.Timestamps...),
		Quats:      make([][]quaternion.Quaternion, len(r.Quats)),
		Metadata:   r.Metadata,
	}
	for i, q := range r.Quats {
		c.Quats[i] = append([]quaternion.Quaternion(nil), q...)
	}
	return c
}

// AppendSamples extends every sequence. quats must have one sequence per
// sensor; an empty record adopts the sensor count of the first append.
func (r *Record) AppendSamples(times []time.Time, quats [][]quaternion.Quaternion) error {
	if len(r.Quats) == 0 && len(r.Timestamps) == 0 {
		r.Quats = make([][]quaternion.Quaternion, len(quats))
	}
	if len(quats) != len(r.Quats) {
		return fmt.Errorf("%w: have %d sensors, appending %d", ErrSensorCount, len(r.Quats), len(quats))
	}
	r.Timestamps = append(r.Timestamps, times...)
	for i := range quats {
		r.Quats[i] = append(r.Quats[i], quats[i]...)
	}
	return nil
}

// Append adds the rows of other after the rows of r. Metadata of r is kept.
func (r *Record) Append(other *Record) error {
	return r.AppendSamples(other.Timestamps, other.Quats)
}

// RemoveLeadingData drops the first n rows. Removing more rows than the
// record holds leaves it empty.
func (r *Record) RemoveLeadingData(n int) {
	if n <= 0 {
		return
	}
	r.Timestamps = dropFirst(r.Timestamps, n)
	for i := range r.Quats {
		r.Quats[i] = dropFirst(r.Quats[i], n)
	}
}

func dropFirst[T any](s []T, n int) []T {
	if n >= len(s) {
		return s[:0]
	}
	return append(s[:0:0], s[n:]...)
}
