// Package scpi formats typed field values into SCPI command strings and
// parses instrument responses back into typed values.
//
// All numeric rendering and parsing is locale-independent: '.' is always
// the decimal separator and there is never digit grouping, so the
// instrument parses exactly what the host formats regardless of the
// host's locale.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package scpi

import (
	"strconv"
	"strings"

	"scopectl/pkg/errors"
)

// Kind identifies the wire type of a settings field.
type Kind int

const (
	// KindBool is rendered as ON/OFF and parsed from 1/0 (or ON/OFF)
	KindBool Kind = iota
	// KindInt is an integer numeric field (e.g. probe ratio)
	KindInt
	// KindFloat is a real numeric field (e.g. scale, offset)
	KindFloat
	// KindEnum is a protocol token from a fixed set (e.g. DC/AC/GND)
	KindEnum
)

// String returns the name of the kind, for error messages.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Value is a typed field value. The zero Value is a false bool.
type Value struct {
	Kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

// Bool creates a boolean value.
func Bool(v bool) Value { return Value{Kind: KindBool, b: v} }

// Int creates an integer value.
func Int(v int64) Value { return Value{Kind: KindInt, i: v} }

// Float creates a float value.
func Float(v float64) Value { return Value{Kind: KindFloat, f: v} }

// Enum creates an enum token value.
func Enum(tok string) Value { return Value{Kind: KindEnum, s: tok} }

// AsBool returns the boolean payload.
func (v Value) AsBool() bool { return v.b }

// AsInt returns the integer payload. Float values are truncated.
func (v Value) AsInt() int64 {
	if v.Kind == KindFloat {
		return int64(v.f)
	}
	return v.i
}

// AsFloat returns the numeric payload as a float.
func (v Value) AsFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// AsEnum returns the enum token payload.
func (v Value) AsEnum() string { return v.s }

// String renders the value exactly as it appears on the wire.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		if v.b {
			return "ON"
		}
		return "OFF"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return FormatFloat(v.f)
	case KindEnum:
		return v.s
	default:
		return ""
	}
}

// FormatFloat renders a float the way the instrument expects: plain
// decimal or exponent notation, '.' decimal point, no grouping.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FormatCommand renders a write command for the given command stem,
// e.g. FormatCommand(":CHANnel1:OFFSet", Float(0.5)) -> ":CHANnel1:OFFSet 0.5".
func FormatCommand(stem string, v Value) string {
	return stem + " " + v.String()
}

// responseCutset covers line terminators and padding the instrument may
// append to a response.
const responseCutset = " \t\r\n\x00"

// ParseResponse parses a raw instrument response as the expected kind.
// On failure the returned error is a PROTOCOL_PARSE error and the caller
// must leave its prior value unchanged; a default is never substituted.
func ParseResponse(raw string, kind Kind) (Value, error) {
	s := strings.Trim(raw, responseCutset)
	if s == "" {
		return Value{}, errors.ParseError(raw, kind.String())
	}

	switch kind {
	case KindBool:
		switch strings.ToUpper(s) {
		case "1", "ON":
			return Bool(true), nil
		case "0", "OFF":
			return Bool(false), nil
		}
		return Value{}, errors.ParseError(raw, "bool")

	case KindInt:
		// Instruments commonly answer integer queries in exponent
		// notation ("1.000000E+01"), so parse as float first.
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, errors.ParseError(raw, "int")
		}
		return Int(int64(f + 0.5*sign(f))), nil

	case KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, errors.ParseError(raw, "float")
		}
		return Float(f), nil

	case KindEnum:
		return Enum(strings.ToUpper(s)), nil
	}

	return Value{}, errors.ParseError(raw, kind.String())
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

// ShortForm returns the SCPI short form of a token: the token with its
// lowercase letters removed (e.g. "POSitive" -> "POS", "CHANnel1" ->
// "CHAN1").
func ShortForm(token string) string {
	var sb strings.Builder
	for _, r := range token {
		if r < 'a' || r > 'z' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// MatchEnum resolves a raw instrument response against a set of allowed
// tokens, accepting either the full or the short form of each token,
// case-insensitively. It returns the canonical token from the allowed
// set.
func MatchEnum(raw string, allowed []string) (string, error) {
	s := strings.Trim(raw, responseCutset)
	for _, tok := range allowed {
		if strings.EqualFold(s, tok) || strings.EqualFold(s, ShortForm(tok)) {
			return tok, nil
		}
	}
	return "", errors.EnumError("", s, allowed)
}
