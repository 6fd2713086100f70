package scope

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scopectl/pkg/errors"
	"scopectl/pkg/scpi"
	"scopectl/pkg/transport"
)

// fullResponses scripts a clean read-back of every subsystem. Enum
// answers use the abbreviated forms the instrument actually returns.
func fullResponses() map[string]string {
	resp := map[string]string{
		"*IDN?": "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA000000001,00.04.04.SP4",

		":TRIGger:MODE?":        "EDGE",
		":TRIGger:SWEep?":       "NORM",
		":TRIGger:EDGE:SOURce?": "CHAN2",
		":TRIGger:EDGE:SLOPe?":  "NEG",
		":TRIGger:COUPling?":    "DC",
		":TRIGger:EDGE:LEVel?":  "1.000000E+00",
		":TRIGger:HOLDoff?":     "1.600000E-08",
		":TRIGger:NREJect?":     "0",

		":TIMebase:MODE?":         "MAIN",
		":TIMebase:MAIN:SCALe?":   "2.000000E-06",
		":TIMebase:MAIN:OFFSet?":  "0.000000E+00",
		":TIMebase:DELay:ENABle?": "0",
	}
	for _, stem := range []string{":CHANnel1", ":CHANnel2"} {
		resp[stem+":DISPlay?"] = "1"
		resp[stem+":PROBe?"] = "1.000000E+01"
		resp[stem+":SCALe?"] = "2.000000E+00"
		resp[stem+":OFFSet?"] = "0.000000E+00"
		resp[stem+":COUPling?"] = "DC"
		resp[stem+":BWLimit?"] = "OFF"
		resp[stem+":UNITs?"] = "VOLT"
		resp[stem+":INVert?"] = "0"
		resp[stem+":VERNier?"] = "0"
	}
	return resp
}

func TestIdentify(t *testing.T) {
	f := transport.NewFake(fullResponses())
	o := New(f)

	info, err := o.Identify()
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if info.Vendor != "RIGOL TECHNOLOGIES" || info.Model != "DS1104Z" {
		t.Errorf("identity wrong: %+v", info)
	}
	if info.Serial != "DS1ZA000000001" || info.Firmware != "00.04.04.SP4" {
		t.Errorf("identity wrong: %+v", info)
	}
	if o.Device() != info {
		t.Errorf("Device() should return the recorded identity")
	}
}

func TestIdentifyMalformed(t *testing.T) {
	f := transport.NewFake(map[string]string{"*IDN?": "garbage"})
	o := New(f)
	if _, err := o.Identify(); !errors.IsProtocol(err) {
		t.Errorf("short *IDN? response should be a parse error, got %v", err)
	}
}

func TestPullAllUpdatesEverySubsystem(t *testing.T) {
	f := transport.NewFake(fullResponses())
	o := New(f)

	if err := o.PullAll(); err != nil {
		t.Fatalf("PullAll: %v", err)
	}

	b := o.Settings()
	if b.Channel1.VerticalScale != 2 || b.Channel2.VerticalScale != 2 {
		t.Errorf("channel scales not pulled: %+v", b)
	}
	if b.Trigger.Source != "CHANnel2" || b.Trigger.Sweep != "NORMal" || b.Trigger.Slope != "NEGative" {
		t.Errorf("trigger enums should resolve to canonical tokens: %+v", b.Trigger)
	}
	if b.Timebase.MainScale != 2e-6 {
		t.Errorf("timebase scale not pulled: %+v", b.Timebase)
	}

	// Fixed subsystem order: channel 1, channel 2, trigger, timebase.
	order := []string{":CHANnel1:DISPlay?", ":CHANnel2:DISPlay?", ":TRIGger:MODE?", ":TIMebase:MODE?"}
	last := -1
	for _, q := range order {
		idx := -1
		for i, got := range f.Queried {
			if got == q {
				idx = i
				break
			}
		}
		if idx < 0 {
			t.Fatalf("%s never queried: %v", q, f.Queried)
		}
		if idx < last {
			t.Errorf("%s queried out of order: %v", q, f.Queried)
		}
		last = idx
	}
}

func TestPullAllContinuesPastFailingSubsystem(t *testing.T) {
	f := transport.NewFake(fullResponses())
	f.FailQueries = map[string]bool{
		":TRIGger:MODE?":        true,
		":TRIGger:SWEep?":       true,
		":TRIGger:EDGE:SOURce?": true,
		":TRIGger:EDGE:SLOPe?":  true,
		":TRIGger:COUPling?":    true,
		":TRIGger:EDGE:LEVel?":  true,
		":TRIGger:HOLDoff?":     true,
		":TRIGger:NREJect?":     true,
	}
	o := New(f)

	err := o.PullAll()
	if err == nil {
		t.Fatalf("PullAll with a dead subsystem should report failure")
	}

	b := o.Settings()
	if b.Channel1.VerticalScale != 2 || b.Timebase.MainScale != 2e-6 {
		t.Errorf("healthy subsystems should still be pulled: %+v", b)
	}
	if b.Trigger != DefaultTriggerSettings() {
		t.Errorf("failed subsystem should keep its previous record: %+v", b.Trigger)
	}
}

// slowTransport stretches every query so a batch stays in flight long
// enough for a second one to collide with it.
type slowTransport struct {
	*transport.Fake
	delay time.Duration
}

func (s *slowTransport) Query(cmd string) (string, error) {
	time.Sleep(s.delay)
	return s.Fake.Query(cmd)
}

func TestConcurrentBatchRejectedBusy(t *testing.T) {
	tr := &slowTransport{Fake: transport.NewFake(fullResponses()), delay: 5 * time.Millisecond}
	o := New(tr)

	var wg sync.WaitGroup
	wg.Add(1)
	var asyncErr error
	if err := o.PullAllAsync(func(err error) {
		asyncErr = err
		wg.Done()
	}); err != nil {
		t.Fatalf("PullAllAsync: %v", err)
	}

	// The batch is running; a second one must be rejected, not queued.
	err := o.PullAll()
	if !errors.IsBusy(err) {
		t.Errorf("overlapping batch should be rejected busy, got %v", err)
	}

	wg.Wait()
	if asyncErr != nil {
		t.Fatalf("async pull failed: %v", asyncErr)
	}

	// The slot is free again once the batch finished.
	if err := o.PullAll(); err != nil {
		t.Errorf("pull after batch completion failed: %v", err)
	}
}

func TestTriggerLevelClampedToSourceChannelWindow(t *testing.T) {
	f := transport.NewFake(nil)
	o := New(f)

	// Source CHANnel1 at 1 V/div, zero offset: the level window is +-5 V.
	if err := o.Trig.Push("Level", scpi.Float(10)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !f.SentContaining(":TRIGger:EDGE:LEVel 5") {
		t.Errorf("level 10 should clamp to 5, sent: %v", f.Sent)
	}
	if got := o.Trig.Snapshot().Level; got != 5 {
		t.Errorf("trigger level = %g, want 5", got)
	}
}

func TestTriggerLevelWindowFollowsChannelScale(t *testing.T) {
	f := transport.NewFake(nil)
	o := New(f)

	// Widen channel 1 to 2 V/div: the window becomes +-10 V and the
	// same level now passes through unclamped.
	if err := o.Ch1.Push("VerticalScale", scpi.Float(2)); err != nil {
		t.Fatalf("Push scale: %v", err)
	}
	if err := o.Trig.Push("Level", scpi.Float(8)); err != nil {
		t.Fatalf("Push level: %v", err)
	}
	if !f.SentContaining(":TRIGger:EDGE:LEVel 8") {
		t.Errorf("level 8 should pass at 2 V/div, sent: %v", f.Sent)
	}
}

func TestApplyPreset(t *testing.T) {
	f := transport.NewFake(nil)
	o := New(f)

	if err := o.ApplyPreset("logic-10x"); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}

	b := o.Settings()
	if b.Channel1.VerticalScale != 2 || !b.Channel2.Enabled {
		t.Errorf("preset channels not applied: %+v", b)
	}
	if b.Trigger.Sweep != "NORMal" || b.Trigger.Level != 1.5 {
		t.Errorf("preset trigger not applied: %+v", b.Trigger)
	}
	if !f.SentContaining(":TRIGger:SWEep NORMal") {
		t.Errorf("preset should push through the device, sent: %v", f.Sent)
	}

	if err := o.ApplyPreset("no-such-preset"); err == nil {
		t.Errorf("unknown preset should be rejected")
	}
}

func TestControlVerbs(t *testing.T) {
	f := transport.NewFake(nil)
	o := New(f)

	verbs := map[string]string{
		"run":           ":RUN",
		"stop":          ":STOP",
		"single":        ":SINGle",
		"clear":         ":CLEar",
		"autoscale":     ":AUToscale",
		"force-trigger": ":TFORce",
	}
	for verb, cmd := range verbs {
		f.Reset()
		if err := o.ControlVerb(verb); err != nil {
			t.Errorf("ControlVerb(%q): %v", verb, err)
		}
		if len(f.Sent) != 1 || f.Sent[0] != cmd {
			t.Errorf("ControlVerb(%q) sent %v, want [%s]", verb, f.Sent, cmd)
		}
	}

	if err := o.ControlVerb("explode"); err == nil {
		t.Errorf("unknown verb should be rejected")
	}
}

func TestOnChangeReportsSubsystem(t *testing.T) {
	f := transport.NewFake(nil)
	o := New(f)

	var seen []string
	o.OnChange(func(subsystem string) { seen = append(seen, subsystem) })

	if err := o.Ch2.Push("VerticalOffset", scpi.Float(1)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := o.TB.Push("MainScale", scpi.Float(1e-3)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if len(seen) != 2 || seen[0] != "channel2" || seen[1] != "timebase" {
		t.Errorf("change subsystems = %v", seen)
	}
}

func TestSetupExportImportRoundTrip(t *testing.T) {
	f := transport.NewFake(fullResponses())
	o := New(f)
	if _, err := o.Identify(); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if err := o.PullAll(); err != nil {
		t.Fatalf("PullAll: %v", err)
	}
	// A value that must survive JSON with full precision.
	if err := o.TB.Push("MainScale", scpi.Float(5e-9)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	path := filepath.Join(t.TempDir(), "bench.json")
	if err := o.ExportSetup(path); err != nil {
		t.Fatalf("ExportSetup: %v", err)
	}

	doc, err := LoadSetup(path)
	if err != nil {
		t.Fatalf("LoadSetup: %v", err)
	}
	if doc.Version != SetupVersion || doc.Device.Model != "DS1104Z" {
		t.Errorf("document header wrong: %+v", doc)
	}
	if doc.Settings != o.Settings() {
		t.Errorf("settings did not round-trip:\nsaved  %+v\nlive   %+v", doc.Settings, o.Settings())
	}
	if doc.Settings.Timebase.MainScale != 5e-9 {
		t.Errorf("timebase scale lost precision: %g", doc.Settings.Timebase.MainScale)
	}

	// Local-only import overwrites a fresh handle without device I/O.
	f2 := transport.NewFake(nil)
	o2 := New(f2)
	if err := o2.ImportSetup(path, false); err != nil {
		t.Fatalf("ImportSetup: %v", err)
	}
	if len(f2.Sent) != 0 || len(f2.Queried) != 0 {
		t.Errorf("local import must not touch the device: %v %v", f2.Sent, f2.Queried)
	}
	if o2.Settings() != doc.Settings {
		t.Errorf("import did not apply the saved settings")
	}

	// Import with push replays the setup to the instrument.
	f3 := transport.NewFake(nil)
	o3 := New(f3)
	if err := o3.ImportSetup(path, true); err != nil {
		t.Fatalf("ImportSetup push: %v", err)
	}
	if !f3.SentContaining(":TIMebase:MAIN:SCALe 5e-09") {
		t.Errorf("pushed import should write the timebase scale, sent: %v", f3.Sent)
	}
}

func TestLoadSetupRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.json")
	body := `{"version": 99, "saved_at": "2026-01-02T03:04:05Z", "device": {}, "settings": {}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadSetup(path)
	if err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("unsupported version should be rejected, got %v", err)
	}
}

func TestPresetNames(t *testing.T) {
	names := PresetNames()
	if len(names) < 3 {
		t.Fatalf("expected at least three presets, got %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("preset names not sorted: %v", names)
		}
	}
}
