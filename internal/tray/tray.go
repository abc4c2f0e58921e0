// Package tray hosts the menu-bar icon: a status line, a mute toggle, a
// restart action, quit, and a log file shortcut. Icon artwork and a
// settings window are out of scope; this is plumbing only.
package tray

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/getlantern/systray"

	"github.com/pozitronik/micdrop-go/internal/bus"
	"github.com/pozitronik/micdrop-go/internal/state"
)

// Manager hosts the tray icon and its menu. It reflects Bridge State and
// forwards clicks to the Supervisor via callbacks; it owns no coordinator
// state itself.
type Manager struct {
	snapshot func() state.Snapshot
	logPath  string

	onToggleMic func()
	onRestart   func()
	onExit      func()

	menuStatus  *systray.MenuItem
	menuToggle  *systray.MenuItem
	menuRestart *systray.MenuItem
	menuOpenLog *systray.MenuItem
	menuExit    *systray.MenuItem

	readyChan       chan struct{}
	onReadyCallback func()
}

// NewManager creates a tray manager. snapshot is polled on a short interval
// to keep the status line current; onToggleMic/onRestart/onExit are wired
// to the corresponding menu items.
func NewManager(snapshot func() state.Snapshot, logPath string, onToggleMic, onRestart, onExit func()) *Manager {
	return &Manager{
		snapshot:    snapshot,
		logPath:     logPath,
		onToggleMic: onToggleMic,
		onRestart:   onRestart,
		onExit:      onExit,
		readyChan:   make(chan struct{}),
	}
}

// Run starts the system tray. It blocks until Quit is called or the OS tray
// host shuts down.
func (m *Manager) Run() {
	systray.Run(m.onReady, m.onQuit)
}

func (m *Manager) onReady() {
	systray.SetIcon(getIcon())
	systray.SetTitle("MicDrop")
	systray.SetTooltip("MicDrop - microphone bridge")

	m.menuStatus = systray.AddMenuItem("", "")
	m.menuStatus.Disable()
	systray.AddSeparator()
	m.menuToggle = systray.AddMenuItem("Toggle Mute", "Toggle microphone mute")
	m.menuRestart = systray.AddMenuItem("Restart HTTP Surface", "Restart the bridge's HTTP listener")
	m.menuOpenLog = systray.AddMenuItem("Open Log", "Open the log file")
	systray.AddSeparator()
	m.menuExit = systray.AddMenuItem("Exit", "Exit MicDrop")

	m.refreshStatus()

	close(m.readyChan)
	if m.onReadyCallback != nil {
		go m.onReadyCallback()
	}

	go m.pollStatus()
	go m.handleMenuClicks()
}

// pollStatus refreshes the status line every second so the tray reflects
// extension-reported mute changes it wasn't itself responsible for.
func (m *Manager) pollStatus() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.refreshStatus()
	}
}

func (m *Manager) refreshStatus() {
	if m.menuStatus == nil || m.snapshot == nil {
		return
	}
	snap := m.snapshot()
	muted := "unmuted"
	if snap.MicMuted {
		muted = "muted"
	}
	attached := "no extension"
	if snap.ExtensionAttached {
		attached = "extension attached"
	}
	m.menuStatus.SetTitle(fmt.Sprintf("Mic %s · %s", muted, attached))
}

func (m *Manager) onQuit() {
	if m.onExit != nil {
		m.onExit()
	}
}

func (m *Manager) handleMenuClicks() {
	for {
		select {
		case <-m.menuToggle.ClickedCh:
			if m.onToggleMic != nil {
				m.onToggleMic()
			}
			m.refreshStatus()
		case <-m.menuRestart.ClickedCh:
			if m.onRestart != nil {
				m.onRestart()
			}
		case <-m.menuOpenLog.ClickedCh:
			m.handleOpenLog()
		case <-m.menuExit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (m *Manager) handleOpenLog() {
	if m.logPath == "" {
		log.Println("no log file configured")
		return
	}
	absPath, err := filepath.Abs(m.logPath)
	if err != nil {
		log.Printf("failed to resolve log path: %v", err)
		return
	}
	if _, err := os.Stat(absPath); err != nil {
		log.Printf("log file not available: %v", err)
		return
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", absPath)
	case "darwin":
		cmd = exec.Command("open", "-t", absPath)
	default:
		cmd = exec.Command("xdg-open", absPath)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("failed to open log: %v", err)
	}
}

// Quit stops the system tray.
func (m *Manager) Quit() {
	systray.Quit()
}

// OnReady sets a callback invoked once the tray has finished building its
// menu.
func (m *Manager) OnReady(callback func()) {
	m.onReadyCallback = callback
}

// WaitReady blocks until the tray is ready.
func (m *Manager) WaitReady() {
	<-m.readyChan
}

// BroadcastHint lets a caller nudge the status line immediately after a
// local action instead of waiting for the next poll tick, e.g. after a
// hotkey-driven toggle delivered via the Event Bus.
func (m *Manager) BroadcastHint(_ bus.Event) {
	m.refreshStatus()
}

func getIcon() []byte {
	return []byte{}
}
