package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPort is the listener port used when Settings omits one.
const DefaultPort = 8765

// DefaultVolumeStep is the increment applied by volume_up/volume_down.
const DefaultVolumeStep = 0.10

// Load reads and parses settings.v2 from path. If the file doesn't exist,
// it returns defaults. Settings' own UnmarshalJSON stashes any key it
// doesn't recognize so a later Save writes it back out unchanged; missing
// fields take defaults via applyDefaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CreateDefault(), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file (invalid JSON): %w", err)
	}

	applyDefaults(&s)

	if err := validateSettings(&s); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}

	return &s, nil
}

// CreateDefault creates Settings with sensible defaults.
func CreateDefault() *Settings {
	return &Settings{
		ServerEnabled: BoolPtr(true),
		Port:          DefaultPort,
		VolumeStep:    DefaultVolumeStep,
		MuteMode:      MuteModeHardware,
		RequestCount:  0,
	}
}

// Save writes s to path as settings.v2, atomically (write to a temp file in
// the same directory, then rename).
func Save(path string, s *Settings) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp settings file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// SaveDefault creates and saves a default settings file.
func SaveDefault(path string) error {
	return Save(path, CreateDefault())
}

// validateSettings checks that loaded settings are well formed.
func validateSettings(s *Settings) error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535 (got %d)", s.Port)
	}
	if s.VolumeStep <= 0 || s.VolumeStep > 1 {
		return fmt.Errorf("volumeStep must be in (0,1] (got %v)", s.VolumeStep)
	}
	switch s.MuteMode {
	case MuteModeHardware, MuteModeScalarZero:
	default:
		return fmt.Errorf("muteMode must be %q or %q (got %q)", MuteModeHardware, MuteModeScalarZero, s.MuteMode)
	}
	if s.RequestCount < 0 {
		return fmt.Errorf("requestCount must not be negative (got %d)", s.RequestCount)
	}
	return nil
}

// applyDefaults fills in default values for zero-valued optional fields.
func applyDefaults(s *Settings) {
	if s.ServerEnabled == nil {
		s.ServerEnabled = BoolPtr(true)
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.VolumeStep == 0 {
		s.VolumeStep = DefaultVolumeStep
	}
	if s.MuteMode == "" {
		s.MuteMode = MuteModeHardware
	}
}
