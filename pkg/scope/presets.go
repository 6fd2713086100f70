// Named setting presets
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package scope

import (
	"fmt"
	"sort"
)

// presets maps a preset name to a full settings bundle. Presets cover
// the bench situations the original front panel shipped shortcuts for.
var presets = map[string]SettingsBundle{
	// Factory power-on state.
	"default": {
		Channel1: DefaultChannelSettings(),
		Channel2: DefaultChannelSettings(),
		Trigger:  DefaultTriggerSettings(),
		Timebase: DefaultTimebaseSettings(),
	},

	// Direct 1x probing of small signals, AC coupled.
	"smallsignal-1x": {
		Channel1: ChannelSettings{
			Enabled:        true,
			ProbeRatio:     1,
			VerticalScale:  0.02,
			VerticalOffset: 0,
			Coupling:       "AC",
			BandwidthLimit: "20M",
			Units:          "VOLTage",
		},
		Channel2: ChannelSettings{
			Enabled:        false,
			ProbeRatio:     1,
			VerticalScale:  0.02,
			Coupling:       "AC",
			BandwidthLimit: "20M",
			Units:          "VOLTage",
		},
		Trigger: TriggerSettings{
			Mode:     "EDGE",
			Sweep:    "AUTO",
			Source:   "CHANnel1",
			Slope:    "POSitive",
			Coupling: "AC",
			Level:    0,
			Holdoff:  16e-9,
		},
		Timebase: TimebaseSettings{
			Mode:      "MAIN",
			MainScale: 1e-3,
		},
	},

	// Two-channel logic-level work with 10x probes, normal sweep.
	"logic-10x": {
		Channel1: ChannelSettings{
			Enabled:        true,
			ProbeRatio:     10,
			VerticalScale:  2,
			VerticalOffset: -4,
			Coupling:       "DC",
			BandwidthLimit: "OFF",
			Units:          "VOLTage",
		},
		Channel2: ChannelSettings{
			Enabled:        true,
			ProbeRatio:     10,
			VerticalScale:  2,
			VerticalOffset: -4,
			Coupling:       "DC",
			BandwidthLimit: "OFF",
			Units:          "VOLTage",
		},
		Trigger: TriggerSettings{
			Mode:     "EDGE",
			Sweep:    "NORMal",
			Source:   "CHANnel1",
			Slope:    "POSitive",
			Coupling: "DC",
			Level:    1.5,
			Holdoff:  16e-9,
		},
		Timebase: TimebaseSettings{
			Mode:      "MAIN",
			MainScale: 1e-6,
		},
	},
}

// PresetNames returns the available preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset looks up a named preset bundle.
func Preset(name string) (SettingsBundle, error) {
	b, ok := presets[name]
	if !ok {
		return SettingsBundle{}, fmt.Errorf("unknown preset %q (have %v)", name, PresetNames())
	}
	return b, nil
}

// ApplyPreset pushes a named preset through every mirror in the fixed
// subsystem order.
func (o *Oscilloscope) ApplyPreset(name string) error {
	b, err := Preset(name)
	if err != nil {
		return err
	}
	o.logger.Info("applying preset %q", name)
	return o.PushSettings(b)
}
