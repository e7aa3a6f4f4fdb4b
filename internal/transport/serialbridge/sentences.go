// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package serialbridge

import (
	"fmt"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
	"github.com/relabs-tech/knee_flexion/internal/transport"
)

// The dongle speaks NMEA-style sentences with talker ID "MW":
//
//	$MWQUA,<sensor>,<epoch ms>,<w>,<x>,<y>,<z>*CS              live sample
//	$MWLOG,<sensor>,<epoch ms>,<w>,<x>,<y>,<z>,<remaining>*CS  logged sample
//	$MWSTA,<sensor>,<status>[,<description>]*CS                connection status
//
// and accepts $MWCMD,<STREAM|DOWNLOAD|STOP>*CS commands.
const (
	Talker  = "MW"
	TypeQUA = "QUA"
	TypeLOG = "LOG"
	TypeSTA = "STA"
	TypeCMD = "CMD"
)

// QUA is a live orientation sample.
type QUA struct {
	nmea.BaseSentence
	Sensor      int64
	EpochMillis int64
	W, X, Y, Z  float64
}

// LOG is one sample of the on-board log. Remaining counts the samples still
// to come for this sensor.
type LOG struct {
	QUA
	Remaining int64
}

// STA reports a sensor connection state by event kind name.
type STA struct {
	nmea.BaseSentence
	Sensor      int64
	Status      string
	Description string
}

func init() {
	for typ, fn := range map[string]nmea.ParserFunc{
		TypeQUA: parseQUA,
		TypeLOG: parseLOG,
		TypeSTA: parseSTA,
	} {
		if err := nmea.RegisterParser(typ, fn); err != nil {
			panic(fmt.Sprintf("serialbridge: register %s: %v", typ, err))
		}
	}
}

func quaFields(p *nmea.Parser, s nmea.BaseSentence) QUA {
	return QUA{
		BaseSentence: s,
		Sensor:       p.Int64(0, "sensor"),
		EpochMillis:  p.Int64(1, "timestamp"),
		W:            p.Float64(2, "w"),
		X:            p.Float64(3, "x"),
		Y:            p.Float64(4, "y"),
		Z:            p.Float64(5, "z"),
	}
}

func parseQUA(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	q := quaFields(p, s)
	return q, p.Err()
}

func parseLOG(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	l := LOG{QUA: quaFields(p, s), Remaining: p.Int64(6, "remaining")}
	return l, p.Err()
}

func parseSTA(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	st := STA{
		BaseSentence: s,
		Sensor:       p.Int64(0, "sensor"),
		Status:       p.String(1, "status"),
	}
	if len(s.Fields) > 2 {
		st.Description = p.String(2, "description")
	}
	return st, p.Err()
}

// Sample converts a QUA to a transport sample.
func (q QUA) Sample() transport.Sample {
	return transport.Sample{
		SensorIndex: int(q.Sensor),
		Quaternion:  quaternion.New(q.W, q.X, q.Y, q.Z),
		Timestamp:   time.UnixMilli(q.EpochMillis).UTC(),
	}
}

// Event converts a STA to a transport event.
func (st STA) Event() (transport.Event, error) {
	kind, err := transport.ParseEventKind(strings.ToLower(st.Status))
	if err != nil {
		return transport.Event{}, err
	}
	return transport.NewEvent(kind, int(st.Sensor), st.Description), nil
}

// Sentence frames fields as $MW<typ>,<fields>*CS.
func Sentence(typ string, fields ...string) string {
	body := Talker + typ
	if len(fields) > 0 {
		body += "," + strings.Join(fields, ",")
	}
	return "$" + body + "*" + nmea.Checksum(body)
}

// Command builds a $MWCMD sentence.
func Command(cmd string) string {
	return Sentence(TypeCMD, cmd)
}
