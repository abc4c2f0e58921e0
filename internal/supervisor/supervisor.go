// Package supervisor composes the Bridge Coordinator's components into one
// managed lifecycle: it owns the Event Bus, the Confirmation Registry, the
// Bridge State, and the Audio Device Adapter outright, and drives the HTTP
// Surface and Hotkey Listener up and down in response to settings changes
// and task failures.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pozitronik/micdrop-go/internal/audio"
	"github.com/pozitronik/micdrop-go/internal/bus"
	"github.com/pozitronik/micdrop-go/internal/config"
	"github.com/pozitronik/micdrop-go/internal/confirm"
	"github.com/pozitronik/micdrop-go/internal/hotkey"
	"github.com/pozitronik/micdrop-go/internal/httpapi"
	"github.com/pozitronik/micdrop-go/internal/logring"
	"github.com/pozitronik/micdrop-go/internal/portcustodian"
	"github.com/pozitronik/micdrop-go/internal/state"
)

// State is one of the Supervisor's lifecycle states.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	CrashedCooldown
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case CrashedCooldown:
		return "crashed_cooldown"
	default:
		return "unknown"
	}
}

// NMax is the number of consecutive crashes tolerated before giving up and
// settling into Stopped.
const NMax = 3

// TCool is the backoff applied after each crash before the next restart
// attempt.
const TCool = 5 * time.Second

// ownIdentityPrefixes is the allow-list the Port Custodian uses to decide
// whether a port's owner is a stale instance of this same program.
var ownIdentityPrefixes = []string{"AudioRemote", "MicDrop", "micdrop"}

// Supervisor owns every shared-mutable-state component and drives the HTTP
// Surface and Hotkey Listener through the §4.8 state machine.
type Supervisor struct {
	store *config.Store

	Bus     *bus.Bus
	Confirm *confirm.Registry
	State   *state.State
	Device  audio.Device
	Logs    *logring.Ring

	mu        sync.Mutex
	state     State
	server    *httpapi.Server
	hk        hotkey.Listener
	restartCh chan struct{}
}

// New constructs a Supervisor around an opened config Store. It does not
// start anything; call Run to begin serving and block until ctx is
// canceled.
func New(store *config.Store, device audio.Device, logs *logring.Ring) *Supervisor {
	if logs == nil {
		logs = logring.New(logring.DefaultCapacity)
	}
	return &Supervisor{
		store:     store,
		Bus:       bus.New(),
		Confirm:   confirm.New(confirm.DefaultTimeout),
		State:     state.New(),
		Device:    device,
		Logs:      logs,
		state:     Stopped,
		restartCh: make(chan struct{}, 1),
	}
}

func (sv *Supervisor) log(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	log.Println(line)
	sv.Logs.Push(logring.LevelInfo, line)
}

func (sv *Supervisor) setState(s State) {
	sv.mu.Lock()
	sv.state = s
	sv.mu.Unlock()
}

// Current reports the Supervisor's current lifecycle state.
func (sv *Supervisor) Current() State {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.state
}

// Port reports the HTTP surface's bound port, or 0 if it is not currently
// running.
func (sv *Supervisor) Port() int {
	sv.mu.Lock()
	srv := sv.server
	sv.mu.Unlock()
	if srv == nil {
		return 0
	}
	return srv.Port()
}

// RequestRestart asks the Supervisor to cycle the HTTP surface through
// Stopping -> Starting without changing persisted settings, the same way a
// POST /restart request does.
func (sv *Supervisor) RequestRestart() {
	select {
	case sv.restartCh <- struct{}{}:
	default:
	}
}

// outcome is what ended one pass of the running HTTP surface + hotkey
// listener: either a new settings value arrived, or an underlying task
// failed and the crash-restart policy must be applied, or the parent
// context was canceled outright.
type outcome int

const (
	outcomeCanceled outcome = iota
	outcomeSettingsChanged
	outcomeTaskFailed
	outcomeStartFailed
)

// Run blocks serving the coordinator until ctx is canceled, the HTTP
// surface fails to start, or the bounded restart policy is exhausted. It
// subscribes to the Config Store's change
// stream and reacts to enable/disable and port changes; the initial load is
// never treated as a change, per §4.8.
func (sv *Supervisor) Run(ctx context.Context) error {
	defer sv.State.Close()

	subID, changes := sv.store.Subscribe()
	defer sv.store.Unsubscribe(subID)

	settings := sv.store.Snapshot()
	errorCount := 0

	for {
		if !settings.IsServerEnabled() {
			sv.log("supervisor: server disabled, waiting for settings change")
			select {
			case <-ctx.Done():
				sv.setState(Stopped)
				return nil
			case next := <-changes:
				settings = next
				continue
			}
		}

		result, next, taskErr := sv.runOnce(ctx, settings, changes)

		switch result {
		case outcomeCanceled:
			sv.setState(Stopped)
			return nil

		case outcomeStartFailed:
			// Starting -> Stopped on a port conflict the custodian could not
			// reclaim; this is not a crash, so it does not consume the
			// bounded-restart budget.
			sv.log("supervisor: failed to start: %v", taskErr)
			sv.setState(Stopped)
			return taskErr

		case outcomeSettingsChanged:
			errorCount = 0
			settings = next
			continue

		case outcomeTaskFailed:
			errorCount++
			sv.setState(CrashedCooldown)
			sv.log("supervisor: task failure (error_count=%d/%d): %v", errorCount, NMax, taskErr)

			if errorCount >= NMax {
				sv.log("supervisor: giving up after %d consecutive crashes", errorCount)
				sv.setState(Stopped)
				return taskErr
			}

			sv.log("supervisor: cooling down for %v before restart attempt", TCool)
			select {
			case <-time.After(TCool):
			case <-ctx.Done():
				sv.setState(Stopped)
				return nil
			}
			continue
		}
	}
}

// runOnce starts the HTTP surface and hotkey listener and blocks until one
// of: ctx cancellation, a settings change to the port or to server_enabled,
// a restart request, or a task failure. Other settings changes are absorbed
// without a restart. It always tears down what it started before returning.
func (sv *Supervisor) runOnce(ctx context.Context, settings config.Settings, changes <-chan config.Settings) (outcome, config.Settings, error) {
	sv.setState(Starting)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	if err := sv.startHTTP(ctx, settings); err != nil {
		return outcomeStartFailed, config.Settings{}, err
	}
	defer sv.stopHTTP()

	unregisterHotkey := sv.startHotkey()
	defer unregisterHotkey()

	stopObserving := sv.startDeviceObserver(gctx, g)
	defer stopObserving()

	g.Go(func() error { return sv.watchServer(gctx) })

	sv.setState(Running)
	sv.log("supervisor: running on port %d", settings.Port)

	failed := make(chan error, 1)
	go func() { failed <- g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			sv.setState(Stopping)
			cancel()
			<-failed
			return outcomeCanceled, config.Settings{}, nil

		case next := <-changes:
			if next.Port == settings.Port && next.IsServerEnabled() == settings.IsServerEnabled() {
				// Volume step, mute mode and the request counter are read
				// live through Deps.Settings; they need no restart.
				settings = next
				continue
			}
			sv.setState(Stopping)
			sv.log("supervisor: settings changed, restarting HTTP surface")
			cancel()
			<-failed
			return outcomeSettingsChanged, next, nil

		case <-sv.restartCh:
			sv.setState(Stopping)
			sv.log("supervisor: restarting HTTP surface by request")
			cancel()
			<-failed
			return outcomeSettingsChanged, settings, nil

		case err := <-failed:
			if err == nil {
				// gctx was canceled from inside (shouldn't happen without an
				// error, but treat as a clean stop rather than a crash).
				return outcomeCanceled, config.Settings{}, nil
			}
			cancel()
			return outcomeTaskFailed, config.Settings{}, err
		}
	}
}

// watchServer polls the HTTP surface and reports a task failure if it stops
// running without the Supervisor itself having torn it down.
func (sv *Supervisor) watchServer(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !sv.server.IsRunning() {
				return fmt.Errorf("supervisor: HTTP surface stopped unexpectedly")
			}
		}
	}
}

// startDeviceObserver subscribes to output-volume and default-input change
// notifications and applies them to BridgeState on a plain goroutine owned
// by g, never on whatever thread the OS callback fired on. It returns a
// cleanup function that unregisters both subscriptions.
func (sv *Supervisor) startDeviceObserver(ctx context.Context, g *errgroup.Group) func() {
	events := make(chan audio.ChangeEvent, 4)
	deliver := func(e audio.ChangeEvent) {
		select {
		case events <- e:
		default:
		}
	}

	cancelOutput, err := sv.Device.Observe(audio.ObserveOutputVolume, deliver)
	if err != nil {
		sv.log("supervisor: output-volume observation unavailable: %v", err)
		cancelOutput = func() {}
	}
	cancelInput, err := sv.Device.Observe(audio.ObserveDefaultInput, deliver)
	if err != nil {
		sv.log("supervisor: default-input observation unavailable: %v", err)
		cancelInput = func() {}
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-events:
				sv.handleDeviceEvent(e)
			}
		}
	})

	return func() {
		cancelOutput()
		cancelInput()
	}
}

func (sv *Supervisor) handleDeviceEvent(e audio.ChangeEvent) {
	switch e.Kind {
	case audio.ObserveOutputVolume:
		if v, err := sv.Device.OutputVolume(); err == nil {
			sv.State.ApplyOutputChange(v)
		}
	case audio.ObserveDefaultInput:
		sv.log("supervisor: default input device changed")
	}
}

func (sv *Supervisor) startHTTP(ctx context.Context, settings config.Settings) error {
	deps := httpapi.Deps{
		Bus:     sv.Bus,
		Confirm: sv.Confirm,
		State:   sv.State,
		Device:  sv.Device,
		Logs:    sv.Logs,
		Settings: func() httpapi.Settings {
			s := sv.store.Snapshot()
			return httpapi.Settings{VolumeStep: s.VolumeStep, MuteMode: string(s.MuteMode)}
		},
		OnToggleAccepted: func() {
			_, _ = sv.store.Update(func(s *config.Settings) { s.RequestCount++ })
		},
		OnRestartRequested: sv.RequestRestart,
	}

	srv := httpapi.New(deps)
	sv.mu.Lock()
	sv.server = srv
	sv.mu.Unlock()

	port := settings.Port
	err := sv.server.Start(port)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		return fmt.Errorf("supervisor: failed to start HTTP surface: %w", err)
	}

	sv.log("supervisor: port %d busy, attempting reclaim", port)
	if recErr := portcustodian.Reclaim(ctx, port, ownIdentityPrefixes); recErr != nil {
		return fmt.Errorf("supervisor: port %d unavailable: %w", port, recErr)
	}
	if err := sv.server.Start(port); err != nil {
		return fmt.Errorf("supervisor: port %d still unavailable after reclaim: %w", port, err)
	}
	return nil
}

func (sv *Supervisor) stopHTTP() {
	if sv.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sv.server.Stop(ctx); err != nil {
		sv.log("supervisor: HTTP shutdown error: %v", err)
	}
}

func (sv *Supervisor) startHotkey() func() {
	l, err := hotkey.Listen(func() {
		sv.State.SetMicMuted(!sv.State.Snapshot().MicMuted)
		sv.Bus.Broadcast(bus.EventToggleMic)
	})
	if err != nil {
		sv.log("supervisor: hotkey registration unavailable: %v", err)
	}
	sv.hk = l
	return func() {
		if sv.hk != nil {
			_ = sv.hk.Close()
		}
	}
}
