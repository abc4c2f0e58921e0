package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pozitronik/micdrop-go/internal/bus"
	"github.com/pozitronik/micdrop-go/internal/logring"
)

// registerHandlers installs the full §6.1 route table.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/toggle-mic", s.handleToggleMic)
	mux.HandleFunc("/toggle-mic/fast", s.handleToggleMicFast)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/bridge/mic-state", s.handleBridgeMicState)
	mux.HandleFunc("/bridge/poll", s.handleBridgePoll)
	mux.HandleFunc("/volume/increase", s.handleVolumeIncrease)
	mux.HandleFunc("/volume/decrease", s.handleVolumeDecrease)
	mux.HandleFunc("/volume/set", s.handleVolumeSet)
	mux.HandleFunc("/volume/toggle-mute", s.handleVolumeToggleMute)
	mux.HandleFunc("/restart", s.handleRestart)
}

type toggleResponse struct {
	Status    string `json:"status"`
	Muted     bool   `json:"muted"`
	Confirmed bool   `json:"confirmed"`
	Source    string `json:"source"`
}

type volumeResponse struct {
	Status string  `json:"status"`
	Volume float64 `json:"volume"`
	Muted  bool    `json:"muted"`
}

type statusResponse struct {
	Muted              bool    `json:"muted"`
	OutputVolume       float64 `json:"outputVolume"`
	OutputMuted        bool    `json:"outputMuted"`
	MuteMode           string  `json:"muteMode"`
	CurrentInputDevice string  `json:"currentInputDevice"`
	RealMic            bool    `json:"realMic"`
}

// handleToggleMic is the confirming toggle: the reply is suspended until the
// extension reports the actual state or T_conf elapses.
func (s *Server) handleToggleMic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.doToggle(w, r, true)
}

// handleToggleMicFast applies the toggle locally and replies immediately.
func (s *Server) handleToggleMicFast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.doToggle(w, r, false)
}

func (s *Server) doToggle(w http.ResponseWriter, r *http.Request, confirming bool) {
	snap := s.deps.State.Snapshot()
	expected := !snap.MicMuted

	s.deps.State.SetMicMuted(expected)
	if err := s.applyLocalMute(expected); err != nil {
		s.logEntry(logring.LevelWarning, "local mute apply failed: "+err.Error())
	}

	muteEvent := bus.EventUnmuteMic
	if expected {
		muteEvent = bus.EventMuteMic
	}
	s.deps.Bus.Broadcast(muteEvent)
	s.deps.Bus.Broadcast(bus.EventToggleMic)

	if s.deps.OnToggleAccepted != nil {
		s.deps.OnToggleAccepted()
	}

	if !confirming || !snap.ExtensionAttached {
		respondJSON(w, toggleResponse{Status: "ok", Muted: expected, Confirmed: false, Source: "local"})
		return
	}

	id, result := s.deps.Confirm.Register(expected)
	select {
	case res := <-result:
		status, source := "ok", "extension"
		if !res.Confirmed {
			status, source = "timeout", "local"
		}
		respondJSON(w, toggleResponse{Status: status, Muted: res.Muted, Confirmed: res.Confirmed, Source: source})
	case <-r.Context().Done():
		s.deps.Confirm.Cancel(id)
	}
}

// applyLocalMute drives the device adapter according to the configured
// mute_mode. set_input_volume(0) and set_hardware_mute(true) are never
// conflated (§4.1).
func (s *Server) applyLocalMute(muted bool) error {
	mode := s.deps.Settings().MuteMode
	if mode == "scalar_zero" {
		if muted {
			return s.deps.Device.SetInputVolume(0)
		}
		return s.deps.Device.SetInputVolume(1)
	}
	return s.deps.Device.SetHardwareMute(muted)
}

// handleStatus returns a full BridgeState snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	snap := s.deps.State.Snapshot()
	realMic := !snap.MicMuted
	if s.deps.Device.HardwareMuteSupported() {
		if hwMuted, err := s.deps.Device.HardwareMute(); err == nil {
			realMic = !hwMuted
		}
	}
	respondJSON(w, statusResponse{
		Muted:              snap.MicMuted,
		OutputVolume:       snap.OutputScalar,
		OutputMuted:        snap.OutputMuted,
		MuteMode:           s.deps.Settings().MuteMode,
		CurrentInputDevice: snap.InputDeviceName,
		RealMic:            realMic,
	})
}

// handleBridgeMicState is the extension's post-action state report. It
// always updates BridgeState, even with no pending confirmations.
func (s *Server) handleBridgeMicState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		Muted *bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Muted == nil {
		respondError(w, "missing muted", http.StatusBadRequest)
		return
	}

	s.deps.State.ApplyMicReport(*req.Muted)
	s.deps.Confirm.ResolveByReport(*req.Muted)

	respondJSON(w, toggleResponse{Status: "ok", Muted: *req.Muted, Confirmed: true, Source: "extension"})
}

// handleBridgePoll suspends until the next bus event.
func (s *Server) handleBridgePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	s.deps.State.MarkAttached(time.Now())
	defer func() { s.deps.State.MarkDetached(time.Now()) }()

	event, err := s.deps.Bus.WaitNext(r.Context())
	if err != nil {
		if errors.Is(err, bus.ErrShutdown) {
			respondError(w, "shutting down", http.StatusServiceUnavailable)
		}
		return
	}
	respondJSON(w, map[string]string{"event": event.Wire()})
}

func (s *Server) handleVolumeIncrease(w http.ResponseWriter, r *http.Request) {
	s.adjustVolume(w, r, s.deps.Settings().VolumeStep)
}

func (s *Server) handleVolumeDecrease(w http.ResponseWriter, r *http.Request) {
	s.adjustVolume(w, r, -s.deps.Settings().VolumeStep)
}

func (s *Server) adjustVolume(w http.ResponseWriter, r *http.Request, delta float64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	current, err := s.deps.Device.OutputVolume()
	if err != nil {
		s.respondDeviceErr(w, err)
		return
	}
	if err := s.deps.Device.SetOutputVolume(current + delta); err != nil {
		s.respondDeviceErr(w, err)
		return
	}
	s.publishOutputChange(w, delta >= 0)
}

// handleVolumeSet sets the output volume to an absolute value.
func (s *Server) handleVolumeSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		respondError(w, "missing volume", http.StatusBadRequest)
		return
	}
	if err := s.deps.Device.SetOutputVolume(*req.Volume); err != nil {
		s.respondDeviceErr(w, err)
		return
	}
	s.publishOutputChange(w, true)
}

// handleVolumeToggleMute toggles output mute by swinging the scalar between
// 0 and full; it never touches mic state.
func (s *Server) handleVolumeToggleMute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	snap := s.deps.State.Snapshot()
	target := 0.0
	if snap.OutputMuted {
		target = 1.0
	}
	if err := s.deps.Device.SetOutputVolume(target); err != nil {
		s.respondDeviceErr(w, err)
		return
	}

	applied, err := s.deps.Device.OutputVolume()
	if err != nil {
		s.respondDeviceErr(w, err)
		return
	}
	s.deps.State.ApplyOutputChange(applied)
	s.deps.Bus.Broadcast(bus.EventToggleSpeaker)
	respondJSON(w, volumeResponse{Status: "ok", Volume: applied, Muted: applied == 0})
}

func (s *Server) publishOutputChange(w http.ResponseWriter, up bool) {
	applied, err := s.deps.Device.OutputVolume()
	if err != nil {
		s.respondDeviceErr(w, err)
		return
	}
	s.deps.State.ApplyOutputChange(applied)

	event := bus.EventVolumeDown
	if up {
		event = bus.EventVolumeUp
	}
	s.deps.Bus.Broadcast(event)

	respondJSON(w, volumeResponse{Status: "ok", Volume: applied, Muted: applied == 0})
}

// handleRestart replies before scheduling the actual restart, so the caller
// sees delivery before the HTTP surface goes down.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	respondJSON(w, map[string]string{"status": "restarting", "message": "restarting HTTP surface"})
	if s.deps.OnRestartRequested != nil {
		go func() {
			time.Sleep(500 * time.Millisecond)
			s.deps.OnRestartRequested()
		}()
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(fallbackHTML))
}

// respondDeviceErr surfaces an Audio Device Adapter failure as §6.2's
// "internal component unavailable" status.
func (s *Server) respondDeviceErr(w http.ResponseWriter, err error) {
	s.logEntry(logring.LevelError, err.Error())
	respondError(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) logEntry(level logring.Level, message string) {
	if s.deps.Logs == nil {
		return
	}
	s.deps.Logs.Push(level, message)
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

const fallbackHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>MicDrop</title>
    <style>body { font-family: system-ui, sans-serif; max-width: 640px; margin: 4rem auto; color: #333; }</style>
</head>
<body>
    <h1>MicDrop bridge coordinator</h1>
    <p>This is a local control plane, not a web app. See <code>/status</code> for the current state.</p>
</body>
</html>`
