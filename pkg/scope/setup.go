// Setup document persistence
//
// A setup document is the versioned, timestamped aggregate of all four
// subsystem snapshots plus the device identity. Export writes through a
// temp file and rename so a crash never leaves a half-written document.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package scope

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SetupVersion is the current setup document format version.
const SetupVersion = 1

// SetupDocument is the persisted aggregate of a full instrument setup.
type SetupDocument struct {
	Version  int            `json:"version"`
	SavedAt  time.Time      `json:"saved_at"`
	Device   DeviceInfo     `json:"device"`
	Settings SettingsBundle `json:"settings"`
}

// SetupDocument captures the mirrors' current state as a document ready
// to persist.
func (o *Oscilloscope) SetupDocument() SetupDocument {
	return SetupDocument{
		Version:  SetupVersion,
		SavedAt:  time.Now().UTC(),
		Device:   o.ident,
		Settings: o.Settings(),
	}
}

// ExportSetup writes the current setup document to path as JSON.
func (o *Oscilloscope) ExportSetup(path string) error {
	doc := o.SetupDocument()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("export setup: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".setup-*.json")
	if err != nil {
		return fmt.Errorf("export setup: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("export setup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("export setup: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("export setup: %w", err)
	}

	o.logger.Info("setup exported to %s", path)
	return nil
}

// LoadSetup reads and validates a setup document from path.
func LoadSetup(path string) (SetupDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SetupDocument{}, fmt.Errorf("load setup: %w", err)
	}
	var doc SetupDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return SetupDocument{}, fmt.Errorf("load setup %s: %w", path, err)
	}
	if doc.Version != SetupVersion {
		return SetupDocument{}, fmt.Errorf("load setup %s: unsupported version %d (want %d)",
			path, doc.Version, SetupVersion)
	}
	return doc, nil
}

// ImportSetup restores a persisted setup document. With push true the
// settings are pushed to the instrument field by field; otherwise only
// the local mirrors are overwritten (no device I/O).
func (o *Oscilloscope) ImportSetup(path string, push bool) error {
	doc, err := LoadSetup(path)
	if err != nil {
		return err
	}
	o.logger.Info("importing setup from %s (saved %s, %s %s)",
		path, doc.SavedAt.Format(time.RFC3339), doc.Device.Vendor, doc.Device.Model)

	if push {
		return o.PushSettings(doc.Settings)
	}
	return o.ApplySnapshots(doc.Settings)
}
