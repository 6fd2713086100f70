// Package scope implements the device-settings synchronization engine:
// it mirrors the instrument's channel, trigger, and timebase
// configuration into memory, pushes validated changes back as discrete
// commands, and recovers predictably when the transport fails.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package scope

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"scopectl/pkg/errors"
	"scopectl/pkg/log"
	"scopectl/pkg/transport"
)

// DeviceInfo holds the instrument identity parsed from *IDN?.
type DeviceInfo struct {
	Vendor   string `json:"vendor"`
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
}

// SettingsBundle aggregates all four subsystem snapshots.
type SettingsBundle struct {
	Channel1 ChannelSettings  `json:"channel1"`
	Channel2 ChannelSettings  `json:"channel2"`
	Trigger  TriggerSettings  `json:"trigger"`
	Timebase TimebaseSettings `json:"timebase"`
}

// Oscilloscope coordinates the four settings mirrors over one
// instrument session.
type Oscilloscope struct {
	tr transport.Transport

	Ch1  *Mirror[ChannelSettings]
	Ch2  *Mirror[ChannelSettings]
	Trig *Mirror[TriggerSettings]
	TB   *Mirror[TimebaseSettings]

	ident  DeviceInfo
	busy   atomic.Bool
	logger *log.Logger
}

// New creates an oscilloscope handle over the given transport. Mirrors
// start at the instrument's documented power-on defaults until the
// first pull.
func New(tr transport.Transport) *Oscilloscope {
	o := &Oscilloscope{
		tr:     tr,
		logger: log.GetLogger("scope"),
	}

	o.Ch1 = NewMirror("channel1", tr, ChannelFields(1), DefaultChannelSettings())
	o.Ch2 = NewMirror("channel2", tr, ChannelFields(2), DefaultChannelSettings())
	o.Trig = NewMirror("trigger", tr, TriggerFields(o.triggerLevelRange), DefaultTriggerSettings())
	o.TB = NewMirror("timebase", tr, TimebaseFields(), DefaultTimebaseSettings())

	return o
}

// Transport returns the underlying instrument transport.
func (o *Oscilloscope) Transport() transport.Transport { return o.tr }

// triggerLevelRange derives the legal trigger level interval from the
// trigger's current source channel. External and line sources get the
// instrument's fixed windows.
func (o *Oscilloscope) triggerLevelRange() Range {
	switch o.Trig.Snapshot().Source {
	case "CHANnel1":
		ch := o.Ch1.Snapshot()
		return TriggerLevelRange(ch.VerticalScale, ch.VerticalOffset)
	case "CHANnel2":
		ch := o.Ch2.Snapshot()
		return TriggerLevelRange(ch.VerticalScale, ch.VerticalOffset)
	case "EXT":
		return Range{-0.8, 0.8}
	default:
		// ACLine triggers on the mains phase; the level is ignored by
		// the instrument, so pass it through.
		return Range{math.Inf(-1), math.Inf(1)}
	}
}

// Identify queries *IDN? and records the parsed device identity.
func (o *Oscilloscope) Identify() (DeviceInfo, error) {
	raw, err := o.tr.Query("*IDN?")
	if err != nil {
		return DeviceInfo{}, err
	}
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) < 4 {
		return DeviceInfo{}, errors.ParseError(raw, "vendor,model,serial,firmware")
	}
	o.ident = DeviceInfo{
		Vendor:   strings.TrimSpace(parts[0]),
		Model:    strings.TrimSpace(parts[1]),
		Serial:   strings.TrimSpace(parts[2]),
		Firmware: strings.TrimSpace(parts[3]),
	}
	o.logger.Info("instrument: %s %s (serial %s, fw %s)",
		o.ident.Vendor, o.ident.Model, o.ident.Serial, o.ident.Firmware)
	return o.ident, nil
}

// Device returns the identity recorded by the last Identify.
func (o *Oscilloscope) Device() DeviceInfo { return o.ident }

// Settings returns copies of all four subsystem snapshots.
func (o *Oscilloscope) Settings() SettingsBundle {
	return SettingsBundle{
		Channel1: o.Ch1.Snapshot(),
		Channel2: o.Ch2.Snapshot(),
		Trigger:  o.Trig.Snapshot(),
		Timebase: o.TB.Snapshot(),
	}
}

// OnChange registers a callback invoked with the subsystem name after
// any successful mutation of that subsystem's mirror.
func (o *Oscilloscope) OnChange(fn func(subsystem string)) {
	o.Ch1.OnChange(func(ChannelSettings) { fn("channel1") })
	o.Ch2.OnChange(func(ChannelSettings) { fn("channel2") })
	o.Trig.OnChange(func(TriggerSettings) { fn("trigger") })
	o.TB.OnChange(func(TimebaseSettings) { fn("timebase") })
}

// acquire claims the batch slot. Batch operations are sequential by
// contract; a second batch started while one runs is rejected, not
// queued.
func (o *Oscilloscope) acquire(op string) error {
	if !o.busy.CompareAndSwap(false, true) {
		return errors.BusyError(op)
	}
	return nil
}

// PullAll pulls channel 1, channel 2, trigger, and timebase in that
// fixed order. Every mirror is attempted regardless of earlier
// failures, so one subsystem's unavailability never blocks visibility
// into the others. The returned error is nil only if all four pulled
// cleanly.
func (o *Oscilloscope) PullAll() error {
	if err := o.acquire("pull-all"); err != nil {
		return err
	}
	defer o.busy.Store(false)
	return o.pullAll()
}

// PullAllAsync runs PullAll on a background goroutine and reports the
// result to done (which may be nil). It returns a busy error without
// starting anything if a batch is already running.
func (o *Oscilloscope) PullAllAsync(done func(error)) error {
	if err := o.acquire("pull-all"); err != nil {
		return err
	}
	go func() {
		defer o.busy.Store(false)
		err := o.pullAll()
		if done != nil {
			done(err)
		}
	}()
	return nil
}

func (o *Oscilloscope) pullAll() error {
	var failures []string
	if err := o.Ch1.Pull(); err != nil {
		failures = append(failures, err.Error())
	}
	if err := o.Ch2.Pull(); err != nil {
		failures = append(failures, err.Error())
	}
	if err := o.Trig.Pull(); err != nil {
		failures = append(failures, err.Error())
	}
	if err := o.TB.Pull(); err != nil {
		failures = append(failures, err.Error())
	}
	if len(failures) > 0 {
		o.logger.Warn("pull-all incomplete: %s", strings.Join(failures, "; "))
		return fmt.Errorf("pull-all: %s", strings.Join(failures, "; "))
	}
	o.logger.Info("pull-all complete")
	return nil
}

// PushSettings pushes a whole settings bundle through the mirrors in
// the fixed subsystem order.
func (o *Oscilloscope) PushSettings(b SettingsBundle) error {
	if err := o.acquire("push-settings"); err != nil {
		return err
	}
	defer o.busy.Store(false)
	return o.pushSettings(b)
}

func (o *Oscilloscope) pushSettings(b SettingsBundle) error {
	var failures []string
	if err := o.Ch1.SetSettings(b.Channel1); err != nil {
		failures = append(failures, err.Error())
	}
	if err := o.Ch2.SetSettings(b.Channel2); err != nil {
		failures = append(failures, err.Error())
	}
	if err := o.Trig.SetSettings(b.Trigger); err != nil {
		failures = append(failures, err.Error())
	}
	if err := o.TB.SetSettings(b.Timebase); err != nil {
		failures = append(failures, err.Error())
	}
	if len(failures) > 0 {
		return fmt.Errorf("push settings: %s", strings.Join(failures, "; "))
	}
	return nil
}

// ApplySnapshots overwrites all four mirrors from a bundle without any
// device I/O. Used when restoring a setup document for inspection.
func (o *Oscilloscope) ApplySnapshots(b SettingsBundle) error {
	var failures []string
	if err := o.Ch1.ApplySnapshot(b.Channel1); err != nil {
		failures = append(failures, err.Error())
	}
	if err := o.Ch2.ApplySnapshot(b.Channel2); err != nil {
		failures = append(failures, err.Error())
	}
	if err := o.Trig.ApplySnapshot(b.Trigger); err != nil {
		failures = append(failures, err.Error())
	}
	if err := o.TB.ApplySnapshot(b.Timebase); err != nil {
		failures = append(failures, err.Error())
	}
	if len(failures) > 0 {
		return fmt.Errorf("apply snapshots: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Device control verbs: fire-and-forget commands with no paired query,
// routed straight through the transport.

// Run starts acquisition.
func (o *Oscilloscope) Run() error { return o.tr.Send(":RUN") }

// Stop stops acquisition.
func (o *Oscilloscope) Stop() error { return o.tr.Send(":STOP") }

// Single arms a single acquisition.
func (o *Oscilloscope) Single() error { return o.tr.Send(":SINGle") }

// Clear clears the display.
func (o *Oscilloscope) Clear() error { return o.tr.Send(":CLEar") }

// Autoscale runs the instrument's autoscale routine. The instrument
// rewrites most settings while doing so; callers should PullAll after.
func (o *Oscilloscope) Autoscale() error { return o.tr.Send(":AUToscale") }

// ForceTrigger forces a trigger event.
func (o *Oscilloscope) ForceTrigger() error { return o.tr.Send(":TFORce") }

// ControlVerb routes a named control verb. Used by the CLI and API
// boundaries.
func (o *Oscilloscope) ControlVerb(verb string) error {
	switch strings.ToLower(verb) {
	case "run":
		return o.Run()
	case "stop":
		return o.Stop()
	case "single":
		return o.Single()
	case "clear":
		return o.Clear()
	case "autoscale":
		return o.Autoscale()
	case "force-trigger", "tforce":
		return o.ForceTrigger()
	}
	return fmt.Errorf("unknown control verb %q", verb)
}
