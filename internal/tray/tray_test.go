package tray

import (
	"testing"

	"github.com/pozitronik/micdrop-go/internal/state"
)

func TestNewManager(t *testing.T) {
	toggled := false
	restarted := false
	exited := false

	m := NewManager(
		func() state.Snapshot { return state.Snapshot{} },
		"",
		func() { toggled = true },
		func() { restarted = true },
		func() { exited = true },
	)

	if m == nil {
		t.Fatal("NewManager() returned nil")
	}
	if m.onToggleMic == nil || m.onRestart == nil || m.onExit == nil {
		t.Fatal("callbacks should not be nil")
	}

	m.onToggleMic()
	if !toggled {
		t.Error("onToggleMic callback was not invoked")
	}
	m.onRestart()
	if !restarted {
		t.Error("onRestart callback was not invoked")
	}
	m.onExit()
	if !exited {
		t.Error("onExit callback was not invoked")
	}
}

func TestNewManagerNilCallbacks(t *testing.T) {
	m := NewManager(nil, "", nil, nil, nil)
	if m == nil {
		t.Fatal("NewManager() returned nil")
	}
	// refreshStatus and onQuit must tolerate nil snapshot/callbacks.
	m.refreshStatus()
	m.onQuit()
}

func TestRefreshStatusNoopsBeforeMenuIsBuilt(t *testing.T) {
	m := NewManager(
		func() state.Snapshot { return state.Snapshot{MicMuted: true, ExtensionAttached: false} },
		"", nil, nil, nil,
	)
	// menuStatus is only built by onReady (which requires a live systray
	// host); refreshStatus must no-op before that without panicking.
	m.refreshStatus()
}
