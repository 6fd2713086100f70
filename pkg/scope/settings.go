// Per-subsystem settings records
//
// These are plain value types: handing one to a caller always hands a
// copy, never the mirror's authoritative state.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package scope

// Coupling tokens.
var CouplingTokens = []string{"DC", "AC", "GND"}

// Bandwidth limit tokens (20 MHz limiter on or wide open).
var BandwidthTokens = []string{"20M", "OFF"}

// Vertical unit tokens.
var UnitTokens = []string{"VOLTage", "WATT", "AMPere", "UNKNown"}

// Trigger mode tokens.
var TriggerModeTokens = []string{"EDGE", "PULSe"}

// Trigger sweep tokens.
var SweepTokens = []string{"AUTO", "NORMal", "SINGle"}

// Trigger source tokens.
var SourceTokens = []string{"CHANnel1", "CHANnel2", "EXT", "ACLine"}

// Trigger slope tokens.
var SlopeTokens = []string{"POSitive", "NEGative"}

// Trigger coupling tokens.
var TriggerCouplingTokens = []string{"AC", "DC", "LFReject", "HFReject"}

// Timebase mode tokens.
var TimebaseModeTokens = []string{"MAIN", "XY", "ROLL"}

// ProbeRatios is the fixed set of legal probe attenuation ratios.
var ProbeRatios = []float64{1, 10, 100}

// ChannelSettings mirrors one analog channel's vertical system.
type ChannelSettings struct {
	Enabled        bool    `json:"enabled"`
	ProbeRatio     float64 `json:"probe_ratio"`
	VerticalScale  float64 `json:"vertical_scale"`
	VerticalOffset float64 `json:"vertical_offset"`
	Coupling       string  `json:"coupling"`
	BandwidthLimit string  `json:"bandwidth_limit"`
	Units          string  `json:"units"`
	Invert         bool    `json:"invert"`
	Vernier        bool    `json:"vernier"`
}

// DefaultChannelSettings returns the instrument's power-on channel
// configuration: 10x probe, 1 V/div, DC coupled, full bandwidth.
func DefaultChannelSettings() ChannelSettings {
	return ChannelSettings{
		Enabled:        true,
		ProbeRatio:     10,
		VerticalScale:  1.0,
		VerticalOffset: 0,
		Coupling:       "DC",
		BandwidthLimit: "OFF",
		Units:          "VOLTage",
		Invert:         false,
		Vernier:        false,
	}
}

// TriggerSettings mirrors the trigger system (edge trigger subset).
type TriggerSettings struct {
	Mode        string  `json:"mode"`
	Sweep       string  `json:"sweep"`
	Source      string  `json:"source"`
	Slope       string  `json:"slope"`
	Coupling    string  `json:"coupling"`
	Level       float64 `json:"level"`
	Holdoff     float64 `json:"holdoff"`
	NoiseReject bool    `json:"noise_reject"`
}

// DefaultTriggerSettings returns the power-on trigger configuration.
func DefaultTriggerSettings() TriggerSettings {
	return TriggerSettings{
		Mode:        "EDGE",
		Sweep:       "AUTO",
		Source:      "CHANnel1",
		Slope:       "POSitive",
		Coupling:    "DC",
		Level:       0,
		Holdoff:     16e-9,
		NoiseReject: false,
	}
}

// TimebaseSettings mirrors the horizontal system.
type TimebaseSettings struct {
	Mode         string  `json:"mode"`
	MainScale    float64 `json:"main_scale"`
	MainOffset   float64 `json:"main_offset"`
	DelayEnabled bool    `json:"delay_enabled"`
}

// DefaultTimebaseSettings returns the power-on horizontal configuration.
func DefaultTimebaseSettings() TimebaseSettings {
	return TimebaseSettings{
		Mode:         "MAIN",
		MainScale:    1e-6,
		MainOffset:   0,
		DelayEnabled: false,
	}
}

// legalProbeRatio reports whether v is one of the fixed probe ratios.
func legalProbeRatio(v float64) bool {
	for _, r := range ProbeRatios {
		if v == r {
			return true
		}
	}
	return false
}
