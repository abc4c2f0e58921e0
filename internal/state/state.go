// Package state holds the authoritative in-memory mute/volume state shared
// between the HTTP surface and the UI adapter. All mutation happens on a
// single owning goroutine; readers receive consistent snapshots.
package state

import (
	"sync"
	"time"
)

// AttachmentWindow is how long extension_attached stays true after the last
// long-poll waiter detaches.
const AttachmentWindow = 45 * time.Second

// Snapshot is a read-only view of BridgeState at a point in time.
type Snapshot struct {
	MicMuted          bool
	MicScalar         float64
	OutputScalar      float64
	OutputMuted       bool
	InputDeviceName   string
	ExtensionAttached bool
}

type data struct {
	micMuted        bool
	micScalar       float64
	outputScalar    float64
	inputDeviceName string
	parkedWaiters   int
	lastAttachedAt  time.Time
}

func (d *data) extensionAttached(now time.Time) bool {
	if d.parkedWaiters > 0 {
		return true
	}
	if d.lastAttachedAt.IsZero() {
		return false
	}
	return now.Sub(d.lastAttachedAt) < AttachmentWindow
}

func (d *data) snapshot(now time.Time) Snapshot {
	return Snapshot{
		MicMuted:          d.micMuted,
		MicScalar:         d.micScalar,
		OutputScalar:      d.outputScalar,
		OutputMuted:       d.outputScalar == 0,
		InputDeviceName:   d.inputDeviceName,
		ExtensionAttached: d.extensionAttached(now),
	}
}

// request is a single-writer operation: fn runs against the owned data under
// the dispatcher goroutine, then done is closed.
type request struct {
	fn   func(*data)
	done chan struct{}
}

// State is BridgeState: a process-wide singleton mutated by exactly one
// goroutine, observed via O(1) snapshot reads.
type State struct {
	ops    chan request
	stop   chan struct{}
	nowFn  func() time.Time
	once   sync.Once
	closed chan struct{}
}

// New creates a State and starts its single-writer dispatcher goroutine.
func New() *State {
	s := &State{
		ops:    make(chan request),
		stop:   make(chan struct{}),
		nowFn:  time.Now,
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *State) run() {
	defer close(s.closed)
	d := &data{}
	for {
		select {
		case req := <-s.ops:
			req.fn(d)
			close(req.done)
		case <-s.stop:
			return
		}
	}
}

// Close stops the dispatcher goroutine. Safe to call once.
func (s *State) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.closed
}

func (s *State) do(fn func(*data)) {
	done := make(chan struct{})
	select {
	case s.ops <- request{fn: fn, done: done}:
		<-done
	case <-s.closed:
	}
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	var out Snapshot
	s.do(func(d *data) { out = d.snapshot(s.nowFn()) })
	return out
}

// ApplyMicReport sets mic_muted from an extension report and mirrors
// mic_scalar to the canonical 1.0/0.0.
func (s *State) ApplyMicReport(muted bool) {
	s.do(func(d *data) {
		d.micMuted = muted
		if muted {
			d.micScalar = 0
		} else {
			d.micScalar = 1
		}
	})
}

// SetMicMuted is the optimistic, locally-driven counterpart to
// ApplyMicReport, used before a report has arrived or when no extension is
// attached at all.
func (s *State) SetMicMuted(muted bool) {
	s.ApplyMicReport(muted)
}

// ApplyOutputChange clamps scalar to [0,1] and recomputes output_muted.
func (s *State) ApplyOutputChange(scalar float64) {
	s.do(func(d *data) { d.outputScalar = clamp(scalar) })
}

// SetInputDeviceName records the name of the current default input device.
func (s *State) SetInputDeviceName(name string) {
	s.do(func(d *data) { d.inputDeviceName = name })
}

// MarkAttached records that a long-poll waiter has parked.
func (s *State) MarkAttached(now time.Time) {
	s.do(func(d *data) {
		d.parkedWaiters++
		d.lastAttachedAt = now
	})
}

// MarkDetached records that a long-poll waiter has left (delivered,
// canceled, or shut down).
func (s *State) MarkDetached(now time.Time) {
	s.do(func(d *data) {
		if d.parkedWaiters > 0 {
			d.parkedWaiters--
		}
		d.lastAttachedAt = now
	})
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
