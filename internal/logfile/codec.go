// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package logfile

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

const (
	// CreationDateLayout is ISO-8601 with milliseconds and zone offset.
	CreationDateLayout = "2006-01-02T15:04:05.000Z07:00"
	rowDateLayout      = "2006-01-02"
	rowTimeLayout      = "15:04:05.000"

	// HeaderSensors is the number of quaternion column groups every body
	// header names, whatever the record's sensor count. Rows only carry
	// the record's sensors.
	HeaderSensors = 4
)

// Header returns the CSV header naming n sensors,
// "year,time,q0w,q0x,q0y,q0z,q1w,...".
func Header(n int) []string {
	h := make([]string, 0, 2+4*n)
	h = append(h, "year", "time")
	for i := 0; i < n; i++ {
		for _, c := range []string{"w", "x", "y", "z"} {
			h = append(h, fmt.Sprintf("q%d%s", i, c))
		}
	}
	return h
}

func formatComponent(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// WriteBody writes the CSV body: the header for HeaderSensors sensors (more
// when the record has more) then one row per complete instant. Times are
// written in UTC with millisecond precision and every row ends with a
// trailing separator.
func WriteBody(w io.Writer, r *Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(max(HeaderSensors, r.SensorCount()))); err != nil {
		return err
	}

	n := r.Count()
	row := make([]string, 0, 3+4*r.SensorCount())
	for k := 0; k < n; k++ {
		ts := r.Timestamps[k].UTC()
		row = append(row[:0], ts.Format(rowDateLayout), ts.Format(rowTimeLayout))
		for i := range r.Quats {
			q := r.Quats[i][k]
			row = append(row, formatComponent(q.W), formatComponent(q.X), formatComponent(q.Y), formatComponent(q.Z))
		}
		row = append(row, "")
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// ReadBody parses a CSV body written by WriteBody. The header may name more
// sensors than the rows carry; the sensor count is taken from the first
// row and every other row must match it. A body without rows has the
// header's sensor count.
func ReadBody(rd io.Reader) ([]time.Time, [][]quaternion.Quaternion, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, malformed("header: %v", err)
	}
	header = trimTrailingEmpty(header)
	if len(header) < 2 || header[0] != "year" || header[1] != "time" || (len(header)-2)%4 != 0 {
		return nil, nil, malformed("unexpected header %q", strings.Join(header, ","))
	}
	named := (len(header) - 2) / 4

	var (
		times   = []time.Time{}
		quats   [][]quaternion.Quaternion
		sensors = -1
	)
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, malformed("line %d: %v", line, err)
		}
		fields = trimTrailingEmpty(fields)

		if sensors < 0 {
			if len(fields) < 6 || (len(fields)-2)%4 != 0 {
				return nil, nil, malformed("line %d: %d fields is not a whole number of sensors", line, len(fields))
			}
			sensors = (len(fields) - 2) / 4
			if sensors > named {
				return nil, nil, malformed("line %d: %d sensors, header names %d", line, sensors, named)
			}
			quats = make([][]quaternion.Quaternion, sensors)
		} else if len(fields) != 2+4*sensors {
			return nil, nil, malformed("line %d: %d fields, want %d", line, len(fields), 2+4*sensors)
		}

		ts, err := time.ParseInLocation(rowDateLayout+" "+rowTimeLayout, fields[0]+" "+fields[1], time.UTC)
		if err != nil {
			return nil, nil, malformed("line %d: timestamp: %v", line, err)
		}
		times = append(times, ts)

		for i := 0; i < sensors; i++ {
			var c [4]float64
			for j := range c {
				f := fields[2+4*i+j]
				if c[j], err = strconv.ParseFloat(f, 64); err != nil {
					return nil, nil, malformed("line %d: component %q: %v", line, f, err)
				}
			}
			quats[i] = append(quats[i], quaternion.New(c[0], c[1], c[2], c[3]))
		}
	}
	if sensors < 0 {
		quats = make([][]quaternion.Quaternion, named)
	}
	return times, quats, nil
}

func trimTrailingEmpty(fields []string) []string {
	if n := len(fields); n > 0 && fields[n-1] == "" {
		return fields[:n-1]
	}
	return fields
}

type envelope struct {
	CreationDate     string `json:"creationDate"`
	Subject          string `json:"subject"`
	User             string `json:"user"`
	Data             string `json:"data"`
	Notes            string `json:"notes"`
	TestType         string `json:"testType"`
	Timepoint        string `json:"timepoint"`
	ReplacementType  string `json:"replacementType"`
	SurgicalApproach string `json:"surgicalApproach,omitempty"`
	OperativeSide    string `json:"operativeSide"`
	WalkingAid       string `json:"walkingAid"`
	Armrest          string `json:"armrest"`
}

var requiredKeys = []string{
	"creationDate", "subject", "user", "data", "notes", "testType",
	"timepoint", "replacementType", "operativeSide", "walkingAid", "armrest",
}

// Marshal encodes r as a JSON envelope with the CSV body in "data".
func Marshal(r *Record) ([]byte, error) {
	var body bytes.Buffer
	if err := WriteBody(&body, r); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}

	m := r.Metadata
	env := envelope{
		CreationDate:    m.CreationDate.UTC().Format(CreationDateLayout),
		Subject:         m.Subject,
		User:            m.User,
		Data:            body.String(),
		Notes:           m.Notes,
		TestType:        string(m.TestType),
		Timepoint:       string(m.Timepoint),
		ReplacementType: string(m.ReplacementType),
		OperativeSide:   string(m.OperativeSide),
		WalkingAid:      string(m.WalkingAid),
		Armrest:         string(m.Armrest),
	}
	if m.SurgicalApproach != "" && m.SurgicalApproach != ApproachNotSpecified {
		env.SurgicalApproach = string(m.SurgicalApproach)
	}
	return json.Marshal(env)
}

// Unmarshal parses a JSON envelope. Every key written by Marshal except
// surgicalApproach is required; enumerations must hold one of their known
// values.
func Unmarshal(data []byte) (*Record, error) {
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, malformed("envelope: %v", err)
	}
	for _, k := range requiredKeys {
		if _, ok := fields[k]; !ok {
			return nil, malformed("missing key %q", k)
		}
	}

	var (
		m   Metadata
		err error
	)
	if m.CreationDate, err = time.Parse(time.RFC3339, fields["creationDate"]); err != nil {
		return nil, malformed("creationDate: %v", err)
	}
	m.Subject = fields["subject"]
	m.User = fields["user"]
	m.Notes = fields["notes"]
	if m.TestType, err = ParseTestType(fields["testType"]); err != nil {
		return nil, err
	}
	if m.Timepoint, err = ParseTimepoint(fields["timepoint"]); err != nil {
		return nil, err
	}
	if m.ReplacementType, err = ParseReplacementType(fields["replacementType"]); err != nil {
		return nil, err
	}
	if m.OperativeSide, err = ParseOperativeSide(fields["operativeSide"]); err != nil {
		return nil, err
	}
	if m.WalkingAid, err = ParseWalkingAid(fields["walkingAid"]); err != nil {
		return nil, err
	}
	if m.Armrest, err = ParseArmrest(fields["armrest"]); err != nil {
		return nil, err
	}
	m.SurgicalApproach = ApproachNotSpecified
	if s, ok := fields["surgicalApproach"]; ok {
		if m.SurgicalApproach, err = ParseSurgicalApproach(s); err != nil {
			return nil, err
		}
	}

	times, quats, err := ReadBody(strings.NewReader(fields["data"]))
	if err != nil {
		return nil, err
	}
	return &Record{Timestamps: times, Quats: quats, Metadata: m}, nil
}
