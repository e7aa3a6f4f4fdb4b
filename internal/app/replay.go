// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/relabs-tech/knee_flexion/internal/anatomy"
	"github.com/relabs-tech/knee_flexion/internal/config"
	"github.com/relabs-tech/knee_flexion/internal/logfile"
)

// replaySummary is the largest divergence per axis between the sequential
// decomposition and the closed-form angles over a record.
type replaySummary struct {
	Rows          int
	MaxDivergence anatomy.Angles
}

// replay prints both angle computations for every row of rec.
func replay(rec *logfile.Record, mounting anatomy.Mounting, out io.Writer) (replaySummary, error) {
	if rec.SensorCount() < 2 {
		return replaySummary{}, anatomy.ErrTooFewSensors
	}

	var sum replaySummary
	fmt.Fprintln(out, "time,flexion,rotation,varus,cf_flexion,cf_rotation,cf_varus,d_flexion,d_rotation,d_varus")
	for k := 0; k < rec.Count(); k++ {
		ts, quats := rec.Row(k)
		lower, upper := quats[0].Normalize(), quats[1].Normalize()
		seq := mounting.Extract(lower, upper)
		cf := anatomy.ClosedForm(lower, upper)
		d := anatomy.Divergence(seq, cf)

		sum.MaxDivergence.Flexion = math.Max(sum.MaxDivergence.Flexion, d.Flexion)
		sum.MaxDivergence.Rotation = math.Max(sum.MaxDivergence.Rotation, d.Rotation)
		sum.MaxDivergence.Varus = math.Max(sum.MaxDivergence.Varus, d.Varus)
		sum.Rows++

		fmt.Fprintf(out, "%s,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f\n",
			ts.UTC().Format("15:04:05.000"),
			seq.Flexion, seq.Rotation, seq.Varus,
			cf.Flexion, cf.Rotation, cf.Varus,
			d.Flexion, d.Rotation, d.Varus,
		)
	}
	return sum, nil
}

// RunReplay prints the angles of a stored log and how far the two angle
// computations diverge on it.
func RunReplay(cfg *config.Config, path string) error {
	rec, err := logfile.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("# %s subject=%s test=%s created=%s\n", path, rec.Metadata.Subject, rec.Metadata.TestType, rec.Metadata.CreationDate.Format(logfile.CreationDateLayout))

	sum, err := replay(rec, cfg.Mounting, os.Stdout)
	if err != nil {
		return err
	}
	fmt.Printf("# %d rows, max divergence flexion=%.2f rotation=%.2f varus=%.2f\n",
		sum.Rows, sum.MaxDivergence.Flexion, sum.MaxDivergence.Rotation, sum.MaxDivergence.Varus)
	return nil
}
