package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := CreateDefault()
	if got.Port != want.Port || got.VolumeStep != want.VolumeStep || got.MuteMode != want.MuteMode {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
	if !got.IsServerEnabled() {
		t.Error("default ServerEnabled should be true")
	}
}

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"port": 9001}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got.Port != 9001 {
		t.Errorf("Port = %d, want 9001 (explicit value preserved)", got.Port)
	}
	if got.VolumeStep != DefaultVolumeStep {
		t.Errorf("VolumeStep = %v, want default %v", got.VolumeStep, DefaultVolumeStep)
	}
	if got.MuteMode != MuteModeHardware {
		t.Errorf("MuteMode = %q, want default %q", got.MuteMode, MuteModeHardware)
	}
}

func TestLoadRejectsInvalidMuteMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"port": 8765, "muteMode": "bogus"}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() with invalid muteMode should fail validation")
	}
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"port": 70000}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() with out-of-range port should fail validation")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() with malformed JSON should return an error")
	}
}

func TestLoadPreservesExplicitValuesAcrossFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	raw := `{"serverEnabled": false, "port": 9100, "volumeStep": 0.25, "muteMode": "scalar_zero", "requestCount": 42}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got.IsServerEnabled() {
		t.Error("ServerEnabled should be false, not defaulted")
	}
	if got.Port != 9100 || got.VolumeStep != 0.25 || got.MuteMode != MuteModeScalarZero || got.RequestCount != 42 {
		t.Errorf("got %+v, fields should round-trip unchanged", got)
	}
}

func TestSaveRoundTripsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	raw := `{"port": 9100, "volumeStep": 0.25, "muteMode": "hardware", "requestCount": 1, "futureField": {"nested": true}}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got.Port = 9200
	if err := Save(path, got); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var roundTripped map[string]json.RawMessage
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	future, ok := roundTripped["futureField"]
	if !ok {
		t.Fatal("futureField was dropped on save, want it preserved")
	}
	// Save indents the whole document, nested values included, so compare
	// the preserved value with whitespace removed.
	var compact bytes.Buffer
	if err := json.Compact(&compact, future); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if compact.String() != `{"nested":true}` {
		t.Errorf("futureField = %s, want unchanged nested value", future)
	}
}

func TestSaveDefaultThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	if err := SaveDefault(path); err != nil {
		t.Fatalf("SaveDefault() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after SaveDefault error = %v", err)
	}

	want := CreateDefault()
	if got.Port != want.Port || got.VolumeStep != want.VolumeStep || got.MuteMode != want.MuteMode {
		t.Errorf("round-tripped settings = %+v, want %+v", got, want)
	}
}

func TestSaveWritesIndentedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := CreateDefault()
	s.Port = 9999

	if err := Save(path, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Contains(data, []byte("\n  \"port\": 9999")) {
		t.Errorf("saved settings are not two-space indented:\n%s", data)
	}

	var roundTripped Settings
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if roundTripped.Port != 9999 {
		t.Errorf("Port = %d, want 9999", roundTripped.Port)
	}
}

func TestIsServerEnabledDefaultsToTrueWhenNil(t *testing.T) {
	s := Settings{}
	if !s.IsServerEnabled() {
		t.Error("IsServerEnabled() should default to true when ServerEnabled is nil")
	}

	s.ServerEnabled = BoolPtr(false)
	if s.IsServerEnabled() {
		t.Error("IsServerEnabled() should reflect an explicit false")
	}
}
