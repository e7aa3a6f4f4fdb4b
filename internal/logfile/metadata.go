// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package logfile

import (
	"fmt"
	"time"
)

// NotSpecified is the sentinel shared by every metadata enumeration.
const NotSpecified = "Not Specified"

// Unknown is the default subject and user.
const Unknown = "UNKNOWN"

type TestType string

const (
	TestTypeNotSpecified TestType = NotSpecified
	TestTypeTUG          TestType = "TUG"
)

var TestTypes = []TestType{TestTypeNotSpecified, TestTypeTUG}

type Armrest string

const (
	ArmrestNotSpecified Armrest = NotSpecified
	ArmrestNone         Armrest = "None"
	ArmrestToStand      Armrest = "Used to Stand"
	ArmrestToSit        Armrest = "Used to Sit"
	ArmrestBoth         Armrest = "Used for Sitting and Standing"
)

var Armrests = []Armrest{ArmrestNotSpecified, ArmrestNone, ArmrestToStand, ArmrestToSit, ArmrestBoth}

type Timepoint string

const (
	TimepointNotSpecified Timepoint = NotSpecified
	TimepointPreOp        Timepoint = "Pre-Op"
	TimepointOneWeek      Timepoint = "1 Week"
	TimepointTwoWeek      Timepoint = "2 Week"
	TimepointThreeWeek    Timepoint = "3 Week"
	TimepointOneMonth     Timepoint = "1 Month"
	TimepointSixWeek      Timepoint = "6 Week"
	TimepointThreeMonth   Timepoint = "3 Month"
	TimepointFourMonth    Timepoint = "4 Month"
	TimepointFiveMonth    Timepoint = "5 Month"
	TimepointSixMonth     Timepoint = "6 Month"
	TimepointOneYear      Timepoint = "1 Year"
	TimepointEighteenMo   Timepoint = "18 Month"
	TimepointTwoYear      Timepoint = "2 Year"
)

var Timepoints = []Timepoint{
	TimepointNotSpecified, TimepointPreOp, TimepointOneWeek, TimepointTwoWeek,
	TimepointThreeWeek, TimepointOneMonth, TimepointSixWeek, TimepointThreeMonth,
	TimepointFourMonth, TimepointFiveMonth, TimepointSixMonth, TimepointOneYear,
	TimepointEighteenMo, TimepointTwoYear,
}

type ReplacementType string

const (
	ReplacementNotSpecified ReplacementType = NotSpecified
	ReplacementHip          ReplacementType = "Hip"
	ReplacementKnee         ReplacementType = "Knee"
)

var ReplacementTypes = []ReplacementType{ReplacementNotSpecified, ReplacementHip, ReplacementKnee}

type SurgicalApproach string

const (
	ApproachNotSpecified      SurgicalApproach = NotSpecified
	ApproachGapBalancing      SurgicalApproach = "Knee, Gap Balancing"
	ApproachMeasuredResection SurgicalApproach = "Knee, Measured Resection"
	ApproachDirectLateral     SurgicalApproach = "Hip, Direct Lateral"
	ApproachDirectAnterior    SurgicalApproach = "Hip, Direct Anterior"
)

var SurgicalApproaches = []SurgicalApproach{
	ApproachNotSpecified, ApproachGapBalancing, ApproachMeasuredResection,
	ApproachDirectLateral, ApproachDirectAnterior,
}

type OperativeSide string

const (
	SideNotSpecified OperativeSide = NotSpecified
	SideLeft         OperativeSide = "Left"
	SideRight        OperativeSide = "Right"
)

var OperativeSides = []OperativeSide{SideNotSpecified, SideLeft, SideRight}

type WalkingAid string

const (
	WalkingAidNotSpecified WalkingAid = NotSpecified
	WalkingAidNone         WalkingAid = "No Aid"
	WalkingAidLeftCane     WalkingAid = "Left Cane"
	WalkingAidRightCane    WalkingAid = "Right Cane"
	WalkingAidCrutches     WalkingAid = "Crutches"
	WalkingAidWalker       WalkingAid = "Walker"
	WalkingAidRollator     WalkingAid = "Rollator"
)

var WalkingAids = []WalkingAid{
	WalkingAidNotSpecified, WalkingAidNone, WalkingAidLeftCane, WalkingAidRightCane,
	WalkingAidCrutches, WalkingAidWalker, WalkingAidRollator,
}

func parseEnum[T ~string](name, s string, values []T) (T, error) {
	for _, v := range values {
		if string(v) == s {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: unknown %s %q", ErrMalformed, name, s)
}

func ParseTestType(s string) (TestType, error) { return parseEnum("test type", s, TestTypes) }

func ParseArmrest(s string) (Armrest, error) { return parseEnum("armrest", s, Armrests) }

func ParseTimepoint(s string) (Timepoint, error) { return parseEnum("timepoint", s, Timepoints) }

func ParseReplacementType(s string) (ReplacementType, error) {
	return parseEnum("replacement type", s, ReplacementTypes)
}

func ParseSurgicalApproach(s string) (SurgicalApproach, error) {
	return parseEnum("surgical approach", s, SurgicalApproaches)
}

func ParseOperativeSide(s string) (OperativeSide, error) {
	return parseEnum("operative side", s, OperativeSides)
}

func ParseWalkingAid(s string) (WalkingAid, error) { return parseEnum("walking aid", s, WalkingAids) }

// Metadata describes the session a record was captured in.
type Metadata struct {
	CreationDate     time.Time
	Subject          string
	User             string
	Notes            string
	TestType         TestType
	Timepoint        Timepoint
	ReplacementType  ReplacementType
	SurgicalApproach SurgicalApproach
	OperativeSide    OperativeSide
	WalkingAid       WalkingAid
	Armrest          Armrest
}

// DefaultMetadata is an unknown subject doing a TUG test, created at
// created.
func DefaultMetadata(created time.Time) Metadata {
	return Metadata{
		CreationDate:     created,
		Subject:          Unknown,
		User:             Unknown,
		TestType:         TestTypeTUG,
		Timepoint:        TimepointNotSpecified,
		ReplacementType:  ReplacementNotSpecified,
		SurgicalApproach: ApproachNotSpecified,
		OperativeSide:    SideNotSpecified,
		WalkingAid:       WalkingAidNotSpecified,
		Armrest:          ArmrestNotSpecified,
	}
}
