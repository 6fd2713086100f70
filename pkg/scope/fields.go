// Field-descriptor tables for the channel, trigger, and timebase
// subsystems
//
// Table order is push order: enable before probe, probe before scale,
// scale before offset, because each later field's legal domain depends
// on the earlier ones.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package scope

import (
	"fmt"

	"scopectl/pkg/errors"
	"scopectl/pkg/scpi"
)

// ChannelFields builds the field table for analog channel n (1 or 2).
func ChannelFields(n int) []Field[ChannelSettings] {
	stem := fmt.Sprintf(":CHANnel%d", n)

	return []Field[ChannelSettings]{
		{
			Name:  "Enabled",
			Write: stem + ":DISPlay",
			Query: stem + ":DISPlay?",
			Kind:  scpi.KindBool,
			Get:   func(s *ChannelSettings) scpi.Value { return scpi.Bool(s.Enabled) },
			Set:   func(s *ChannelSettings, v scpi.Value) { s.Enabled = v.AsBool() },
		},
		{
			Name:  "ProbeRatio",
			Write: stem + ":PROBe",
			Query: stem + ":PROBe?",
			Kind:  scpi.KindFloat,
			Get:   func(s *ChannelSettings) scpi.Value { return scpi.Float(s.ProbeRatio) },
			Set:   func(s *ChannelSettings, v scpi.Value) { s.ProbeRatio = v.AsFloat() },
			Clamp: func(s *ChannelSettings, v scpi.Value) (scpi.Value, error) {
				// Probe ratio is an enumerated numeric: out-of-set
				// values are rejected, never rounded.
				if !legalProbeRatio(v.AsFloat()) {
					return scpi.Value{}, errors.EnumError("ProbeRatio",
						v.String(), []string{"1", "10", "100"})
				}
				return v, nil
			},
		},
		{
			Name:  "VerticalScale",
			Write: stem + ":SCALe",
			Query: stem + ":SCALe?",
			Kind:  scpi.KindFloat,
			Get:   func(s *ChannelSettings) scpi.Value { return scpi.Float(s.VerticalScale) },
			Set:   func(s *ChannelSettings, v scpi.Value) { s.VerticalScale = v.AsFloat() },
			Clamp: func(s *ChannelSettings, v scpi.Value) (scpi.Value, error) {
				return scpi.Float(SnapScale(v.AsFloat(), s.ProbeRatio)), nil
			},
		},
		{
			Name:  "VerticalOffset",
			Write: stem + ":OFFSet",
			Query: stem + ":OFFSet?",
			Kind:  scpi.KindFloat,
			Get:   func(s *ChannelSettings) scpi.Value { return scpi.Float(s.VerticalOffset) },
			Set:   func(s *ChannelSettings, v scpi.Value) { s.VerticalOffset = v.AsFloat() },
			Clamp: func(s *ChannelSettings, v scpi.Value) (scpi.Value, error) {
				r := OffsetRange(s.VerticalScale, s.ProbeRatio)
				return scpi.Float(ClampOffset(v.AsFloat(), r)), nil
			},
		},
		{
			Name:  "Coupling",
			Write: stem + ":COUPling",
			Query: stem + ":COUPling?",
			Kind:  scpi.KindEnum,
			Enum:  CouplingTokens,
			Get:   func(s *ChannelSettings) scpi.Value { return scpi.Enum(s.Coupling) },
			Set:   func(s *ChannelSettings, v scpi.Value) { s.Coupling = v.AsEnum() },
		},
		{
			Name:  "BandwidthLimit",
			Write: stem + ":BWLimit",
			Query: stem + ":BWLimit?",
			Kind:  scpi.KindEnum,
			Enum:  BandwidthTokens,
			Get:   func(s *ChannelSettings) scpi.Value { return scpi.Enum(s.BandwidthLimit) },
			Set:   func(s *ChannelSettings, v scpi.Value) { s.BandwidthLimit = v.AsEnum() },
		},
		{
			Name:  "Units",
			Write: stem + ":UNITs",
			Query: stem + ":UNITs?",
			Kind:  scpi.KindEnum,
			Enum:  UnitTokens,
			Get:   func(s *ChannelSettings) scpi.Value { return scpi.Enum(s.Units) },
			Set:   func(s *ChannelSettings, v scpi.Value) { s.Units = v.AsEnum() },
		},
		{
			Name:  "Invert",
			Write: stem + ":INVert",
			Query: stem + ":INVert?",
			Kind:  scpi.KindBool,
			Get:   func(s *ChannelSettings) scpi.Value { return scpi.Bool(s.Invert) },
			Set:   func(s *ChannelSettings, v scpi.Value) { s.Invert = v.AsBool() },
		},
		{
			Name:  "Vernier",
			Write: stem + ":VERNier",
			Query: stem + ":VERNier?",
			Kind:  scpi.KindBool,
			Get:   func(s *ChannelSettings) scpi.Value { return scpi.Bool(s.Vernier) },
			Set:   func(s *ChannelSettings, v scpi.Value) { s.Vernier = v.AsBool() },
		},
	}
}

// TriggerFields builds the trigger field table. levelRange supplies the
// legal trigger level interval derived from the source channel's
// current vertical settings; it is consulted at validation time so the
// clamp always uses the mirrors' present state.
func TriggerFields(levelRange func() Range) []Field[TriggerSettings] {
	return []Field[TriggerSettings]{
		{
			Name:  "Mode",
			Write: ":TRIGger:MODE",
			Query: ":TRIGger:MODE?",
			Kind:  scpi.KindEnum,
			Enum:  TriggerModeTokens,
			Get:   func(s *TriggerSettings) scpi.Value { return scpi.Enum(s.Mode) },
			Set:   func(s *TriggerSettings, v scpi.Value) { s.Mode = v.AsEnum() },
		},
		{
			Name:  "Sweep",
			Write: ":TRIGger:SWEep",
			Query: ":TRIGger:SWEep?",
			Kind:  scpi.KindEnum,
			Enum:  SweepTokens,
			Get:   func(s *TriggerSettings) scpi.Value { return scpi.Enum(s.Sweep) },
			Set:   func(s *TriggerSettings, v scpi.Value) { s.Sweep = v.AsEnum() },
		},
		{
			Name:  "Source",
			Write: ":TRIGger:EDGE:SOURce",
			Query: ":TRIGger:EDGE:SOURce?",
			Kind:  scpi.KindEnum,
			Enum:  SourceTokens,
			Get:   func(s *TriggerSettings) scpi.Value { return scpi.Enum(s.Source) },
			Set:   func(s *TriggerSettings, v scpi.Value) { s.Source = v.AsEnum() },
		},
		{
			Name:  "Slope",
			Write: ":TRIGger:EDGE:SLOPe",
			Query: ":TRIGger:EDGE:SLOPe?",
			Kind:  scpi.KindEnum,
			Enum:  SlopeTokens,
			Get:   func(s *TriggerSettings) scpi.Value { return scpi.Enum(s.Slope) },
			Set:   func(s *TriggerSettings, v scpi.Value) { s.Slope = v.AsEnum() },
		},
		{
			Name:  "Coupling",
			Write: ":TRIGger:COUPling",
			Query: ":TRIGger:COUPling?",
			Kind:  scpi.KindEnum,
			Enum:  TriggerCouplingTokens,
			Get:   func(s *TriggerSettings) scpi.Value { return scpi.Enum(s.Coupling) },
			Set:   func(s *TriggerSettings, v scpi.Value) { s.Coupling = v.AsEnum() },
		},
		{
			Name:  "Level",
			Write: ":TRIGger:EDGE:LEVel",
			Query: ":TRIGger:EDGE:LEVel?",
			Kind:  scpi.KindFloat,
			Get:   func(s *TriggerSettings) scpi.Value { return scpi.Float(s.Level) },
			Set:   func(s *TriggerSettings, v scpi.Value) { s.Level = v.AsFloat() },
			Clamp: func(s *TriggerSettings, v scpi.Value) (scpi.Value, error) {
				if levelRange == nil {
					return v, nil
				}
				return scpi.Float(ClampOffset(v.AsFloat(), levelRange())), nil
			},
		},
		{
			Name:  "Holdoff",
			Write: ":TRIGger:HOLDoff",
			Query: ":TRIGger:HOLDoff?",
			Kind:  scpi.KindFloat,
			Get:   func(s *TriggerSettings) scpi.Value { return scpi.Float(s.Holdoff) },
			Set:   func(s *TriggerSettings, v scpi.Value) { s.Holdoff = v.AsFloat() },
			Clamp: func(s *TriggerSettings, v scpi.Value) (scpi.Value, error) {
				return scpi.Float(ClampHoldoff(v.AsFloat())), nil
			},
		},
		{
			Name:  "NoiseReject",
			Write: ":TRIGger:NREJect",
			Query: ":TRIGger:NREJect?",
			Kind:  scpi.KindBool,
			Get:   func(s *TriggerSettings) scpi.Value { return scpi.Bool(s.NoiseReject) },
			Set:   func(s *TriggerSettings, v scpi.Value) { s.NoiseReject = v.AsBool() },
		},
	}
}

// TimebaseFields builds the horizontal-system field table. MainOffset
// carries no host-side clamp; the instrument applies its own
// memory-depth dependent limits.
func TimebaseFields() []Field[TimebaseSettings] {
	return []Field[TimebaseSettings]{
		{
			Name:  "Mode",
			Write: ":TIMebase:MODE",
			Query: ":TIMebase:MODE?",
			Kind:  scpi.KindEnum,
			Enum:  TimebaseModeTokens,
			Get:   func(s *TimebaseSettings) scpi.Value { return scpi.Enum(s.Mode) },
			Set:   func(s *TimebaseSettings, v scpi.Value) { s.Mode = v.AsEnum() },
		},
		{
			Name:  "MainScale",
			Write: ":TIMebase:MAIN:SCALe",
			Query: ":TIMebase:MAIN:SCALe?",
			Kind:  scpi.KindFloat,
			Get:   func(s *TimebaseSettings) scpi.Value { return scpi.Float(s.MainScale) },
			Set:   func(s *TimebaseSettings, v scpi.Value) { s.MainScale = v.AsFloat() },
			Clamp: func(s *TimebaseSettings, v scpi.Value) (scpi.Value, error) {
				return scpi.Float(SnapTimebaseScale(v.AsFloat())), nil
			},
		},
		{
			Name:  "MainOffset",
			Write: ":TIMebase:MAIN:OFFSet",
			Query: ":TIMebase:MAIN:OFFSet?",
			Kind:  scpi.KindFloat,
			Get:   func(s *TimebaseSettings) scpi.Value { return scpi.Float(s.MainOffset) },
			Set:   func(s *TimebaseSettings, v scpi.Value) { s.MainOffset = v.AsFloat() },
		},
		{
			Name:  "DelayEnabled",
			Write: ":TIMebase:DELay:ENABle",
			Query: ":TIMebase:DELay:ENABle?",
			Kind:  scpi.KindBool,
			Get:   func(s *TimebaseSettings) scpi.Value { return scpi.Bool(s.DelayEnabled) },
			Set:   func(s *TimebaseSettings, v scpi.Value) { s.DelayEnabled = v.AsBool() },
		},
	}
}
