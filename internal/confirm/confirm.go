// Package confirm implements the confirmation protocol: a toggle request's
// HTTP reply is suspended until the browser extension reports the actual
// post-action state, or a bounded deadline elapses.
package confirm

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is T_conf, the deadline after which an unresolved pending
// confirmation times out.
const DefaultTimeout = 3 * time.Second

// Resolution is delivered to a suspended caller exactly once.
type Resolution struct {
	Muted     bool
	Confirmed bool
	// Reason is "" on a report-driven resolution, "timeout" on deadline
	// expiry, or "aborted" on shutdown.
	Reason string
}

type entry struct {
	expectedNewState bool
	timer            *time.Timer
	resultCh         chan Resolution
}

// Registry tracks pending confirmations keyed by opaque id, resolving each
// on state report, timeout, or shutdown — whichever happens first.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*entry
	timeout time.Duration
}

// New creates a Registry. timeout <= 0 uses DefaultTimeout.
func New(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		pending: make(map[string]*entry),
		timeout: timeout,
	}
}

// Register allocates a new pending confirmation and arms its deadline
// timer. It returns the id and a channel that receives exactly one
// Resolution.
func (r *Registry) Register(expectedNewState bool) (id string, result <-chan Resolution) {
	id = uuid.NewString()
	resultCh := make(chan Resolution, 1)
	e := &entry{expectedNewState: expectedNewState, resultCh: resultCh}

	r.mu.Lock()
	r.pending[id] = e
	r.mu.Unlock()

	e.timer = time.AfterFunc(r.timeout, func() { r.resolveTimeout(id) })

	return id, resultCh
}

func (r *Registry) resolveTimeout(id string) {
	r.mu.Lock()
	e, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	e.resultCh <- Resolution{Muted: e.expectedNewState, Confirmed: false, Reason: "timeout"}
}

// ResolveByReport resolves every currently pending confirmation with the
// extension-reported value, confirmed=true. It returns how many were
// resolved. Multiple concurrent confirming requests share a single report.
func (r *Registry) ResolveByReport(muted bool) int {
	pending := r.drain()
	for _, e := range pending {
		e.timer.Stop()
		e.resultCh <- Resolution{Muted: muted, Confirmed: true}
	}
	return len(pending)
}

// CancelAll resolves every currently pending confirmation with
// confirmed=false, reason=aborted. Used only at shutdown.
func (r *Registry) CancelAll() {
	pending := r.drain()
	for _, e := range pending {
		e.timer.Stop()
		e.resultCh <- Resolution{Muted: e.expectedNewState, Confirmed: false, Reason: "aborted"}
	}
}

// Cancel removes a single pending confirmation without resolving it, for use
// when the caller that registered id has already gone away (client
// disconnect) and nobody is reading its result channel. It is a no-op if id
// was already resolved by a report or a timeout.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	e, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if ok {
		e.timer.Stop()
	}
}

// Len reports how many confirmations are currently pending.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) drain() map[string]*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.pending
	r.pending = make(map[string]*entry)
	return pending
}
