// Simulated instrument state machine
//
// The simulator mirrors the real instrument's front panel behavior:
// numeric settings are clamped or snapped against the current state,
// unknown or malformed commands are silently ignored, and queries
// answer in the instrument's wire formats (exponent floats, 1/0
// booleans, abbreviated enum tokens).
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sim

import (
	"strconv"
	"strings"
	"sync"

	"scopectl/pkg/scope"
	"scopectl/pkg/scpi"
)

// Identity is the canned *IDN? response.
const Identity = "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA_SIMULATED,00.04.04.SP4"

// Device holds the simulated instrument state. Safe for concurrent use
// by multiple connections.
type Device struct {
	mu sync.Mutex

	ch      [2]scope.ChannelSettings
	trig    scope.TriggerSettings
	tb      scope.TimebaseSettings
	running bool
}

// NewDevice creates a device at the documented power-on state.
func NewDevice() *Device {
	return &Device{
		ch:      [2]scope.ChannelSettings{scope.DefaultChannelSettings(), scope.DefaultChannelSettings()},
		trig:    scope.DefaultTriggerSettings(),
		tb:      scope.DefaultTimebaseSettings(),
		running: true,
	}
}

// Running reports whether acquisition is running.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Channel returns a copy of channel n's state (n is 1 or 2).
func (d *Device) Channel(n int) scope.ChannelSettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch[n-1]
}

// Trigger returns a copy of the trigger state.
func (d *Device) Trigger() scope.TriggerSettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trig
}

// Timebase returns a copy of the timebase state.
func (d *Device) Timebase() scope.TimebaseSettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tb
}

// Handle processes one command line and returns the response, if the
// command is a query. Set commands and unknown commands produce no
// response, exactly like the real instrument.
func (d *Device) Handle(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}

	cmd, arg := splitCommand(line)
	query := strings.HasSuffix(cmd, "?")
	cmd = strings.TrimSuffix(cmd, "?")
	path := normalizePath(cmd)

	d.mu.Lock()
	defer d.mu.Unlock()

	if query {
		return d.handleQuery(path)
	}
	d.handleSet(path, arg)
	return "", false
}

// splitCommand separates the command path from its argument.
func splitCommand(line string) (cmd, arg string) {
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+1:])
	}
	return line, ""
}

// normalizePath reduces every segment of a command path to its
// abbreviated form so long and short spellings land on the same
// handler ("CHANnel1:SCALe" and "CHAN1:SCAL" both become "CHAN1:SCAL").
func normalizePath(cmd string) string {
	cmd = strings.TrimPrefix(cmd, ":")
	segs := strings.Split(cmd, ":")
	for i, s := range segs {
		segs[i] = strings.ToUpper(scpi.ShortForm(s))
	}
	return strings.Join(segs, ":")
}

func (d *Device) handleQuery(path string) (string, bool) {
	if path == "*IDN" {
		return Identity, true
	}
	if ch, rest, ok := channelPath(path); ok {
		s := &d.ch[ch-1]
		switch rest {
		case "DISP":
			return fmtBool(s.Enabled), true
		case "PROB":
			return fmtFloat(s.ProbeRatio), true
		case "SCAL":
			return fmtFloat(s.VerticalScale), true
		case "OFFS":
			return fmtFloat(s.VerticalOffset), true
		case "COUP":
			return scpi.ShortForm(s.Coupling), true
		case "BWL":
			return s.BandwidthLimit, true
		case "UNIT":
			return scpi.ShortForm(s.Units), true
		case "INV":
			return fmtBool(s.Invert), true
		case "VERN":
			return fmtBool(s.Vernier), true
		}
		return "", false
	}

	switch path {
	case "TRIG:MODE":
		return scpi.ShortForm(d.trig.Mode), true
	case "TRIG:SWE":
		return scpi.ShortForm(d.trig.Sweep), true
	case "TRIG:EDGE:SOUR":
		return scpi.ShortForm(d.trig.Source), true
	case "TRIG:EDGE:SLOP":
		return scpi.ShortForm(d.trig.Slope), true
	case "TRIG:COUP":
		return scpi.ShortForm(d.trig.Coupling), true
	case "TRIG:EDGE:LEV":
		return fmtFloat(d.trig.Level), true
	case "TRIG:HOLD":
		return fmtFloat(d.trig.Holdoff), true
	case "TRIG:NREJ":
		return fmtBool(d.trig.NoiseReject), true
	case "TRIG:STAT":
		if d.running {
			return "RUN", true
		}
		return "STOP", true
	case "TIM:MODE":
		return scpi.ShortForm(d.tb.Mode), true
	case "TIM:MAIN:SCAL":
		return fmtFloat(d.tb.MainScale), true
	case "TIM:MAIN:OFFS":
		return fmtFloat(d.tb.MainOffset), true
	case "TIM:DEL:ENAB":
		return fmtBool(d.tb.DelayEnabled), true
	}
	return "", false
}

func (d *Device) handleSet(path, arg string) {
	switch path {
	case "RUN":
		d.running = true
		return
	case "STOP":
		d.running = false
		return
	case "SING":
		d.running = true
		return
	case "CLE", "AUT", "TFOR":
		return
	}

	if ch, rest, ok := channelPath(path); ok {
		d.setChannel(&d.ch[ch-1], rest, arg)
		return
	}

	switch path {
	case "TRIG:MODE":
		setEnum(&d.trig.Mode, arg, scope.TriggerModeTokens)
	case "TRIG:SWE":
		setEnum(&d.trig.Sweep, arg, scope.SweepTokens)
	case "TRIG:EDGE:SOUR":
		setEnum(&d.trig.Source, arg, scope.SourceTokens)
	case "TRIG:EDGE:SLOP":
		setEnum(&d.trig.Slope, arg, scope.SlopeTokens)
	case "TRIG:COUP":
		setEnum(&d.trig.Coupling, arg, scope.TriggerCouplingTokens)
	case "TRIG:EDGE:LEV":
		if v, ok := parseFloat(arg); ok {
			d.trig.Level = scope.ClampOffset(v, d.levelRange())
		}
	case "TRIG:HOLD":
		if v, ok := parseFloat(arg); ok {
			d.trig.Holdoff = scope.ClampHoldoff(v)
		}
	case "TRIG:NREJ":
		setBool(&d.trig.NoiseReject, arg)
	case "TIM:MODE":
		setEnum(&d.tb.Mode, arg, scope.TimebaseModeTokens)
	case "TIM:MAIN:SCAL":
		if v, ok := parseFloat(arg); ok {
			d.tb.MainScale = scope.SnapTimebaseScale(v)
		}
	case "TIM:MAIN:OFFS":
		if v, ok := parseFloat(arg); ok {
			d.tb.MainOffset = v
		}
	case "TIM:DEL:ENAB":
		setBool(&d.tb.DelayEnabled, arg)
	}
}

func (d *Device) setChannel(s *scope.ChannelSettings, rest, arg string) {
	switch rest {
	case "DISP":
		setBool(&s.Enabled, arg)
	case "PROB":
		// Illegal probe ratios are ignored, not rounded.
		if v, ok := parseFloat(arg); ok {
			for _, r := range scope.ProbeRatios {
				if v == r {
					s.ProbeRatio = v
					break
				}
			}
		}
	case "SCAL":
		if v, ok := parseFloat(arg); ok {
			s.VerticalScale = scope.SnapScale(v, s.ProbeRatio)
		}
	case "OFFS":
		if v, ok := parseFloat(arg); ok {
			r := scope.OffsetRange(s.VerticalScale, s.ProbeRatio)
			s.VerticalOffset = scope.ClampOffset(v, r)
		}
	case "COUP":
		setEnum(&s.Coupling, arg, scope.CouplingTokens)
	case "BWL":
		setEnum(&s.BandwidthLimit, arg, scope.BandwidthTokens)
	case "UNIT":
		setEnum(&s.Units, arg, scope.UnitTokens)
	case "INV":
		setBool(&s.Invert, arg)
	case "VERN":
		setBool(&s.Vernier, arg)
	}
}

// levelRange mirrors the instrument's trigger level window for the
// current edge source. Callers hold d.mu.
func (d *Device) levelRange() scope.Range {
	switch d.trig.Source {
	case "CHANnel1":
		return scope.TriggerLevelRange(d.ch[0].VerticalScale, d.ch[0].VerticalOffset)
	case "CHANnel2":
		return scope.TriggerLevelRange(d.ch[1].VerticalScale, d.ch[1].VerticalOffset)
	case "EXT":
		return scope.Range{Min: -0.8, Max: 0.8}
	default:
		return scope.Range{Min: -1e9, Max: 1e9}
	}
}

// channelPath matches CHAN1:... / CHAN2:... paths, returning the
// channel number and the remaining path.
func channelPath(path string) (ch int, rest string, ok bool) {
	for n, prefix := range map[int]string{1: "CHAN1:", 2: "CHAN2:"} {
		if strings.HasPrefix(path, prefix) {
			return n, strings.TrimPrefix(path, prefix), true
		}
	}
	return 0, "", false
}

func fmtBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'e', 6, 64)
}

func parseFloat(arg string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func setBool(dst *bool, arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "1", "ON":
		*dst = true
	case "0", "OFF":
		*dst = false
	}
}

func setEnum(dst *string, arg string, allowed []string) {
	if tok, err := scpi.MatchEnum(arg, allowed); err == nil {
		*dst = tok
	}
}
