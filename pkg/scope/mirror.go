// Settings mirror
//
// A Mirror holds the last-known values of one subsystem's fields and
// keeps them consistent with the instrument: Pull overwrites the local
// record from device queries, Push validates a change, sends it, and
// only then updates the local record. A mirror-wide guard rejects a
// synchronization started while another is running, so device-originated
// and caller-originated updates can never feed back into each other.
//
// One generic Mirror serves every subsystem; a field-descriptor table
// supplies the per-field commands, codec kinds, and validators, which
// keeps channel 1 and channel 2 from ever drifting apart.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package scope

import (
	"fmt"
	"strings"
	"sync"

	"scopectl/pkg/errors"
	"scopectl/pkg/log"
	"scopectl/pkg/scpi"
	"scopectl/pkg/transport"
)

// Field describes one mirrored setting: its protocol commands, wire
// type, and how it is read from and written into the settings record.
type Field[S any] struct {
	// Name is the field's caller-visible name, e.g. "VerticalOffset".
	Name string

	// Write is the command stem, e.g. ":CHANnel1:OFFSet".
	Write string

	// Query is the query command, e.g. ":CHANnel1:OFFSet?".
	Query string

	// Kind is the wire type of the value.
	Kind scpi.Kind

	// Enum is the token set for KindEnum fields. Out-of-set values are
	// rejected outright, never clamped.
	Enum []string

	// Get reads the field from a settings record.
	Get func(*S) scpi.Value

	// Set writes the field into a settings record.
	Set func(*S, scpi.Value)

	// Clamp validates a caller-supplied value against the current
	// settings record, clamping or snapping numeric values into their
	// legal domain. Nil means any value of the right kind is legal.
	Clamp func(*S, scpi.Value) (scpi.Value, error)
}

// Mirror keeps one subsystem's settings consistent with the instrument.
type Mirror[S any] struct {
	mu       sync.Mutex
	name     string
	tr       transport.Transport
	fields   []Field[S]
	snap     S
	syncing  bool
	onChange []func(S)
	logger   *log.Logger
}

// NewMirror creates a mirror over the given transport with the field
// table's push order and the provided initial settings.
func NewMirror[S any](name string, tr transport.Transport, fields []Field[S], initial S) *Mirror[S] {
	return &Mirror[S]{
		name:   name,
		tr:     tr,
		fields: fields,
		snap:   initial,
		logger: log.GetLogger("mirror." + name),
	}
}

// Name returns the subsystem name.
func (m *Mirror[S]) Name() string { return m.name }

// FieldNames returns the field names in push order.
func (m *Mirror[S]) FieldNames() []string {
	names := make([]string, len(m.fields))
	for i := range m.fields {
		names[i] = m.fields[i].Name
	}
	return names
}

// Snapshot returns a copy of the current settings record.
func (m *Mirror[S]) Snapshot() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// OnChange registers a callback invoked with a settings copy after any
// successful mutation. Callbacks run outside the mirror's lock.
func (m *Mirror[S]) OnChange(fn func(S)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// beginSync engages the reentrancy guard. It fails with a busy error if
// a synchronization is already running on this mirror.
func (m *Mirror[S]) beginSync(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncing {
		return errors.BusyError(m.name + " " + op)
	}
	m.syncing = true
	return nil
}

// endSync releases the guard. Always paired with beginSync via defer so
// the guard is released on every path, including failures.
func (m *Mirror[S]) endSync() {
	m.mu.Lock()
	m.syncing = false
	m.mu.Unlock()
}

func (m *Mirror[S]) notify() {
	m.mu.Lock()
	snap := m.snap
	callbacks := make([]func(S), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(snap)
	}
}

// parseField parses a raw response for a field, resolving enum tokens
// against the field's allowed set.
func parseField[S any](f *Field[S], raw string) (scpi.Value, error) {
	if f.Enum != nil {
		tok, err := scpi.MatchEnum(raw, f.Enum)
		if err != nil {
			return scpi.Value{}, errors.ParseError(raw, "one of "+strings.Join(f.Enum, "/"))
		}
		return scpi.Enum(tok), nil
	}
	return scpi.ParseResponse(raw, f.Kind)
}

// Pull reads every field from the instrument and overwrites the local
// record with the values that parsed cleanly. A field whose query or
// parse fails keeps its previous value; the pull continues through the
// remaining fields regardless. The returned error is nil only if every
// field pulled cleanly.
func (m *Mirror[S]) Pull() error {
	if err := m.beginSync("pull"); err != nil {
		return err
	}
	defer m.endSync()

	var failed []string
	changed := false
	for i := range m.fields {
		f := &m.fields[i]

		raw, err := m.tr.Query(f.Query)
		if err != nil {
			m.logger.WithError(err).Warn("pull %s: query failed, keeping last value", f.Name)
			failed = append(failed, f.Name)
			continue
		}
		v, err := parseField(f, raw)
		if err != nil {
			m.logger.WithError(err).Warn("pull %s: response unusable, keeping last value", f.Name)
			failed = append(failed, f.Name)
			continue
		}

		m.mu.Lock()
		if f.Get(&m.snap) != v {
			f.Set(&m.snap, v)
			changed = true
		}
		m.mu.Unlock()
	}

	if changed {
		m.notify()
	}
	if len(failed) > 0 {
		return fmt.Errorf("pull %s: %d of %d fields failed (%s)",
			m.name, len(failed), len(m.fields), strings.Join(failed, ", "))
	}
	return nil
}

// Push validates one field value, sends it to the instrument, and on
// transport success updates the local record and notifies subscribers.
// On any failure the local record is left untouched. Values that depend
// on other fields are clamped against the current record, not against
// other values in flight.
func (m *Mirror[S]) Push(field string, v scpi.Value) error {
	f := m.findField(field)
	if f == nil {
		return errors.New(errors.ErrValidationEnum,
			fmt.Sprintf("no field %q in %s", field, m.name)).SetField(field)
	}

	if err := m.beginSync("push"); err != nil {
		return err
	}
	defer m.endSync()

	return m.push(f, v)
}

// push validates, sends, and records one field value. Callers hold the
// sync guard.
func (m *Mirror[S]) push(f *Field[S], v scpi.Value) error {
	v, err := m.validate(f, v)
	if err != nil {
		m.logger.WithError(err).Warn("push %s rejected", f.Name)
		return err
	}

	cmd := scpi.FormatCommand(f.Write, v)
	if err := m.tr.Send(cmd); err != nil {
		m.logger.WithError(err).Error("push %s failed, mirror unchanged", f.Name)
		return err
	}

	m.mu.Lock()
	f.Set(&m.snap, v)
	m.mu.Unlock()
	m.logger.Debug("pushed %s = %s", f.Name, v.String())

	m.notify()
	return nil
}

// validate applies kind checking, enum rejection, and numeric clamping
// for a field. Callers hold the sync guard, not the mutex.
func (m *Mirror[S]) validate(f *Field[S], v scpi.Value) (scpi.Value, error) {
	if v.Kind != f.Kind && !(numericKind(v.Kind) && numericKind(f.Kind)) {
		return scpi.Value{}, errors.KindError(f.Name, v.Kind.String(), f.Kind.String())
	}
	if f.Enum != nil {
		tok, err := scpi.MatchEnum(v.AsEnum(), f.Enum)
		if err != nil {
			return scpi.Value{}, errors.EnumError(f.Name, v.AsEnum(), f.Enum)
		}
		v = scpi.Enum(tok)
	}
	if f.Clamp != nil {
		m.mu.Lock()
		snap := m.snap
		m.mu.Unlock()
		clamped, err := f.Clamp(&snap, v)
		if err != nil {
			return scpi.Value{}, err
		}
		if clamped != v {
			m.logger.Debug("clamped %s: %s -> %s", f.Name, v.String(), clamped.String())
		}
		v = clamped
	}
	return v, nil
}

// SetSettings pushes every field of the given record in the field
// table's fixed order (enable, probe, scale, then offset, so dependent
// values are always validated against their prerequisites). Fields that
// fail are reported but do not stop the remaining pushes. The guard is
// held for the whole batch, so nothing can interleave between pushes.
func (m *Mirror[S]) SetSettings(s S) error {
	if err := m.beginSync("set"); err != nil {
		return err
	}
	defer m.endSync()

	var failed []string
	for i := range m.fields {
		f := &m.fields[i]
		if err := m.push(f, f.Get(&s)); err != nil {
			failed = append(failed, f.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("set %s: %d of %d fields failed (%s)",
			m.name, len(failed), len(m.fields), strings.Join(failed, ", "))
	}
	return nil
}

// ApplySnapshot overwrites the local record from a provided settings
// record without any device I/O, firing a single change notification.
// Used when restoring a persisted setup document.
func (m *Mirror[S]) ApplySnapshot(s S) error {
	if err := m.beginSync("apply"); err != nil {
		return err
	}
	defer m.endSync()

	m.mu.Lock()
	m.snap = s
	m.mu.Unlock()

	m.notify()
	return nil
}

// numericKind reports whether a kind is one of the interchangeable
// numeric wire types. Integer fields accept float values and vice
// versa; every other kind pairing is a mismatch.
func numericKind(k scpi.Kind) bool {
	return k == scpi.KindInt || k == scpi.KindFloat
}

func (m *Mirror[S]) findField(name string) *Field[S] {
	for i := range m.fields {
		if strings.EqualFold(m.fields[i].Name, name) {
			return &m.fields[i]
		}
	}
	return nil
}
