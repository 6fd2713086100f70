package scope

import (
	"strings"
	"testing"

	"scopectl/pkg/errors"
	"scopectl/pkg/scpi"
	"scopectl/pkg/transport"
)

// channel1Responses scripts a clean read-back of every channel 1 field.
func channel1Responses() map[string]string {
	return map[string]string{
		":CHANnel1:DISPlay?":  "1",
		":CHANnel1:PROBe?":    "1.000000E+01",
		":CHANnel1:SCALe?":    "5.000000E-01",
		":CHANnel1:OFFSet?":   "2.000000E+00",
		":CHANnel1:COUPling?": "AC",
		":CHANnel1:BWLimit?":  "20M",
		":CHANnel1:UNITs?":    "VOLT",
		":CHANnel1:INVert?":   "0",
		":CHANnel1:VERNier?":  "1",
	}
}

func newChannelMirror(f *transport.Fake) *Mirror[ChannelSettings] {
	return NewMirror("channel1", f, ChannelFields(1), DefaultChannelSettings())
}

func TestPullUpdatesSnapshot(t *testing.T) {
	f := transport.NewFake(channel1Responses())
	m := newChannelMirror(f)

	if err := m.Pull(); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	s := m.Snapshot()
	if !s.Enabled || s.ProbeRatio != 10 || s.VerticalScale != 0.5 || s.VerticalOffset != 2 {
		t.Errorf("numeric fields wrong after pull: %+v", s)
	}
	if s.Coupling != "AC" || s.BandwidthLimit != "20M" || s.Units != "VOLTage" {
		t.Errorf("enum fields wrong after pull: %+v", s)
	}
	if s.Invert || !s.Vernier {
		t.Errorf("bool fields wrong after pull: %+v", s)
	}
}

func TestPullPartialFailureKeepsLastValue(t *testing.T) {
	f := transport.NewFake(channel1Responses())
	f.FailQueries = map[string]bool{":CHANnel1:OFFSet?": true}
	m := newChannelMirror(f)
	before := m.Snapshot()

	err := m.Pull()
	if err == nil {
		t.Fatalf("Pull with a failing field should report failure")
	}
	if !strings.Contains(err.Error(), "VerticalOffset") {
		t.Errorf("failure should name the field: %v", err)
	}

	s := m.Snapshot()
	if s.VerticalOffset != before.VerticalOffset {
		t.Errorf("failed field must keep its previous value, got %g", s.VerticalOffset)
	}
	// The pull did not abort early: later fields still updated.
	if s.Coupling != "AC" || !s.Vernier {
		t.Errorf("fields after the failed one were not pulled: %+v", s)
	}
}

func TestPullParseFailureKeepsLastValue(t *testing.T) {
	resp := channel1Responses()
	resp[":CHANnel1:SCALe?"] = "not-a-number"
	f := transport.NewFake(resp)
	m := newChannelMirror(f)
	before := m.Snapshot()

	if err := m.Pull(); err == nil {
		t.Fatalf("Pull with unparseable response should report failure")
	}
	if got := m.Snapshot().VerticalScale; got != before.VerticalScale {
		t.Errorf("unparseable field must keep its previous value, got %g", got)
	}
}

func TestPushClampsOffsetAgainstCurrentState(t *testing.T) {
	// Default snapshot: probe 10x, scale 1.0 -> offset range (-100, 100).
	f := transport.NewFake(nil)
	m := newChannelMirror(f)

	if err := m.Push("VerticalOffset", scpi.Float(150)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !f.SentContaining(":CHANnel1:OFFSet 100") {
		t.Errorf("offset 150 should clamp to 100 before formatting, sent: %v", f.Sent)
	}
	if got := m.Snapshot().VerticalOffset; got != 100 {
		t.Errorf("snapshot offset = %g, want 100", got)
	}
}

func TestPushScaleSnapsToLadder(t *testing.T) {
	f := transport.NewFake(nil)
	m := newChannelMirror(f)

	if err := m.Push("VerticalScale", scpi.Float(0.3)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !f.SentContaining(":CHANnel1:SCALe 0.2") {
		t.Errorf("scale 0.3 should snap to 0.2 on the 10x ladder, sent: %v", f.Sent)
	}
}

func TestPushEnumRejectedWithoutSending(t *testing.T) {
	f := transport.NewFake(nil)
	m := newChannelMirror(f)
	before := m.Snapshot()

	err := m.Push("Coupling", scpi.Enum("XYZ"))
	if !errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.Sent) != 0 {
		t.Errorf("rejected push must not send any command, sent: %v", f.Sent)
	}
	if m.Snapshot() != before {
		t.Errorf("rejected push must not mutate the snapshot")
	}
}

func TestPushProbeRatioOutOfSetRejected(t *testing.T) {
	f := transport.NewFake(nil)
	m := newChannelMirror(f)

	err := m.Push("ProbeRatio", scpi.Float(5))
	if !errors.IsValidation(err) {
		t.Fatalf("probe ratio 5 should be rejected, got %v", err)
	}
	if len(f.Sent) != 0 {
		t.Errorf("rejected probe ratio must not send, sent: %v", f.Sent)
	}
}

func TestPushAcceptsShortEnumForm(t *testing.T) {
	f := transport.NewFake(nil)
	m := newChannelMirror(f)

	if err := m.Push("Units", scpi.Enum("volt")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got := m.Snapshot().Units; got != "VOLTage" {
		t.Errorf("short token should resolve to canonical form, got %q", got)
	}
}

func TestFailedPushLeavesSnapshotUntouched(t *testing.T) {
	f := transport.NewFake(nil)
	f.FailSends = map[string]bool{":CHANnel1:OFFSet 50": true}
	m := newChannelMirror(f)
	before := m.Snapshot()

	err := m.Push("VerticalOffset", scpi.Float(50))
	if !errors.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if m.Snapshot() != before {
		t.Errorf("snapshot changed on failed push: before %+v after %+v", before, m.Snapshot())
	}
}

func TestPushUnknownField(t *testing.T) {
	m := newChannelMirror(transport.NewFake(nil))
	if err := m.Push("Wavelength", scpi.Float(1)); err == nil {
		t.Errorf("unknown field should be rejected")
	}
}

func TestSetSettingsPushOrder(t *testing.T) {
	f := transport.NewFake(nil)
	m := newChannelMirror(f)

	s := DefaultChannelSettings()
	s.ProbeRatio = 1
	s.VerticalScale = 0.5
	s.VerticalOffset = 10
	if err := m.SetSettings(s); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}

	wantOrder := []string{":DISPlay", ":PROBe", ":SCALe", ":OFFSet", ":COUPling"}
	idx := -1
	for _, frag := range wantOrder {
		found := -1
		for i, cmd := range f.Sent {
			if strings.Contains(cmd, frag) {
				found = i
				break
			}
		}
		if found < 0 {
			t.Fatalf("no %s command sent: %v", frag, f.Sent)
		}
		if found < idx {
			t.Errorf("%s sent out of order: %v", frag, f.Sent)
		}
		idx = found
	}

	// With probe 1x and scale 0.5 the offset range is (-20, 20): the
	// offset was validated against the newly-pushed scale, not the old
	// default.
	if !f.SentContaining(":CHANnel1:OFFSet 10") {
		t.Errorf("offset should pass through at 10, sent: %v", f.Sent)
	}
}

func TestApplySnapshotNoDeviceIO(t *testing.T) {
	f := transport.NewFake(nil)
	m := newChannelMirror(f)

	notified := 0
	m.OnChange(func(ChannelSettings) { notified++ })

	s := DefaultChannelSettings()
	s.VerticalScale = 0.2
	s.Coupling = "GND"
	if err := m.ApplySnapshot(s); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	if len(f.Sent) != 0 || len(f.Queried) != 0 {
		t.Errorf("ApplySnapshot must not touch the device: sent %v queried %v", f.Sent, f.Queried)
	}
	if notified != 1 {
		t.Errorf("ApplySnapshot should notify exactly once, got %d", notified)
	}
	if got := m.Snapshot(); got != s {
		t.Errorf("snapshot not applied: %+v", got)
	}
}

func TestChangeNotificationOnPush(t *testing.T) {
	m := newChannelMirror(transport.NewFake(nil))

	var seen []float64
	m.OnChange(func(s ChannelSettings) { seen = append(seen, s.VerticalOffset) })

	if err := m.Push("VerticalOffset", scpi.Float(5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(seen) != 1 || seen[0] != 5 {
		t.Errorf("change notification wrong: %v", seen)
	}
}

// A callback fired by a push that tries to start another sync on the
// same mirror is rejected: this is the feedback-loop suppression the
// guard exists for.
func TestReentrantSyncRejected(t *testing.T) {
	f := transport.NewFake(channel1Responses())
	m := newChannelMirror(f)

	var reentrant error
	m.OnChange(func(ChannelSettings) {
		reentrant = m.Pull()
	})

	if err := m.Push("VerticalOffset", scpi.Float(1)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !errors.IsBusy(reentrant) {
		t.Errorf("reentrant pull should be rejected busy, got %v", reentrant)
	}

	// The guard was released on exit: a later pull works.
	if err := m.Pull(); err != nil {
		t.Errorf("pull after push failed: %v", err)
	}
}

func TestPushWrongKindRejectedWithoutSending(t *testing.T) {
	f := transport.NewFake(channel1Responses())
	m := newChannelMirror(f)
	before := m.Snapshot()

	// An enum value for a numeric field must not clamp the zero float.
	err := m.Push("VerticalOffset", scpi.Enum("garbage"))
	if !errors.IsValidation(err) {
		t.Fatalf("enum value for a float field should be rejected, got %v", err)
	}

	// A numeric value for a switch must not reach the device: the wire
	// command would flip the channel while the record kept the bool
	// zero value, splitting the record from the instrument for good.
	err = m.Push("Enabled", scpi.Float(1))
	if !errors.IsValidation(err) {
		t.Fatalf("float value for a bool field should be rejected, got %v", err)
	}

	if len(f.Sent) != 0 {
		t.Errorf("rejected pushes must not send commands, sent %v", f.Sent)
	}
	if m.Snapshot() != before {
		t.Errorf("rejected pushes must not mutate the record")
	}
}

func TestPushIntAcceptedForFloatField(t *testing.T) {
	f := transport.NewFake(channel1Responses())
	m := newChannelMirror(f)

	if err := m.Push("ProbeRatio", scpi.Int(1)); err != nil {
		t.Fatalf("integer for a numeric field should be accepted: %v", err)
	}
	if !f.SentContaining(":CHANnel1:PROBe 1") {
		t.Errorf("expected probe command, sent %v", f.Sent)
	}
	if got := m.Snapshot().ProbeRatio; got != 1 {
		t.Errorf("ProbeRatio = %g, want 1", got)
	}
}

func TestPullDuringSetSettingsRejectedBusy(t *testing.T) {
	f := transport.NewFake(channel1Responses())
	m := newChannelMirror(f)

	// The batch holds the guard across all of its field pushes, so a
	// pull arriving between them is turned away.
	var interleaved []error
	m.OnChange(func(ChannelSettings) {
		interleaved = append(interleaved, m.Pull())
	})

	if err := m.SetSettings(DefaultChannelSettings()); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	if len(interleaved) == 0 {
		t.Fatalf("expected change notifications during the batch")
	}
	for _, err := range interleaved {
		if !errors.IsBusy(err) {
			t.Errorf("mid-batch pull should be rejected busy, got %v", err)
		}
	}

	// Guard released after the batch.
	if err := m.Pull(); err != nil {
		t.Errorf("pull after batch failed: %v", err)
	}
}

func TestPullNotifiesOnceOnChange(t *testing.T) {
	f := transport.NewFake(channel1Responses())
	m := newChannelMirror(f)

	notified := 0
	m.OnChange(func(ChannelSettings) { notified++ })

	if err := m.Pull(); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if notified != 1 {
		t.Errorf("pull should notify once, got %d", notified)
	}

	// A second identical pull changes nothing and stays quiet.
	if err := m.Pull(); err != nil {
		t.Fatalf("second Pull: %v", err)
	}
	if notified != 1 {
		t.Errorf("unchanged pull should not notify, got %d", notified)
	}
}

func TestFieldNames(t *testing.T) {
	m := newChannelMirror(transport.NewFake(nil))
	names := m.FieldNames()
	if names[0] != "Enabled" || names[1] != "ProbeRatio" || names[2] != "VerticalScale" {
		t.Errorf("field order wrong: %v", names)
	}
}
