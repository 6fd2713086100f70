package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger() (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New("test")
	l.SetWriter(buf)
	l.SetColorize(false)
	return l, buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger()
	l.SetLevel(WARN)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN should be suppressed, got: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("WARN and ERROR messages missing, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"ERROR", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestTextFormatWithFields(t *testing.T) {
	l, buf := newTestLogger()

	l.WithField("device", "/dev/usbtmc0").WithField("cmd", ":CHANnel1:SCALe?").Info("query")

	out := buf.String()
	if !strings.Contains(out, "test: query") {
		t.Errorf("missing prefix/message, got: %s", out)
	}
	// Fields are sorted by key
	if !strings.Contains(out, "{cmd=:CHANnel1:SCALe?, device=/dev/usbtmc0}") {
		t.Errorf("fields not rendered sorted, got: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	l, buf := newTestLogger()
	l.SetFormat(FormatJSON)

	l.WithField("resource", "tcp:127.0.0.1:5555").Error("connect failed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v (%s)", err, buf.String())
	}
	if entry["level"] != "ERROR" || entry["message"] != "connect failed" {
		t.Errorf("unexpected entry: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]interface{})
	if !ok || fields["resource"] != "tcp:127.0.0.1:5555" {
		t.Errorf("missing structured fields: %v", entry)
	}
}

func TestFormatArgs(t *testing.T) {
	l, buf := newTestLogger()

	l.Info("pulled %d of %d fields", 8, 9)
	if !strings.Contains(buf.String(), "pulled 8 of 9 fields") {
		t.Errorf("printf args not applied: %s", buf.String())
	}
}

func TestWithPrefix(t *testing.T) {
	l, buf := newTestLogger()
	sub := l.WithPrefix("mirror.ch1")

	sub.Info("changed")
	if !strings.Contains(buf.String(), "mirror.ch1: changed") {
		t.Errorf("prefix not applied: %s", buf.String())
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scopectl.log")

	w, err := NewRotatingFileWriter(RotationConfig{Filename: path, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingFileWriter: %v", err)
	}
	defer w.Close()

	// Push past 1 MB to force a rotation
	line := bytes.Repeat([]byte("x"), 64*1024)
	for i := 0; i < 20; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("expected backup file after rotation: %v", err)
	}
}
