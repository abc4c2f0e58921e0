package config

import "encoding/json"

// MuteMode selects how the Audio Device Adapter applies a local mic mute.
type MuteMode string

const (
	MuteModeHardware   MuteMode = "hardware"
	MuteModeScalarZero MuteMode = "scalar_zero"
)

// Settings is the coordinator's persisted configuration (settings.v2).
type Settings struct {
	ServerEnabled *bool    `json:"serverEnabled,omitempty"`
	Port          int      `json:"port"`
	VolumeStep    float64  `json:"volumeStep"`
	MuteMode      MuteMode `json:"muteMode"`
	RequestCount  int      `json:"requestCount"`

	// extra holds JSON object keys this build of Settings doesn't
	// recognize. They are carried through Load/Save unmodified so a
	// settings.v2 file written by a newer build round-trips through an
	// older one without losing data.
	extra map[string]json.RawMessage
}

// knownSettingsKeys lists every JSON key Settings' struct tags declare.
// Kept in sync with the field list above.
var knownSettingsKeys = []string{"serverEnabled", "port", "volumeStep", "muteMode", "requestCount"}

// settingsAlias has the same fields and tags as Settings but none of its
// methods, so marshaling/unmarshaling through it can't recurse into
// Settings' own MarshalJSON/UnmarshalJSON.
type settingsAlias Settings

// MarshalJSON writes the known fields plus any preserved unknown keys.
func (s Settings) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(settingsAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields and stashes every other object
// key in extra so a later MarshalJSON can write it back out.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var alias settingsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*s = Settings(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range knownSettingsKeys {
		delete(raw, key)
	}
	if len(raw) > 0 {
		s.extra = raw
	} else {
		s.extra = nil
	}
	return nil
}

// IsServerEnabled reports the effective server_enabled value, defaulting to
// true when the field is omitted.
func (s Settings) IsServerEnabled() bool {
	if s.ServerEnabled == nil {
		return true
	}
	return *s.ServerEnabled
}

// BoolPtr returns a pointer to b, for building a Settings literal with an
// explicit serverEnabled value.
func BoolPtr(b bool) *bool {
	return &b
}
