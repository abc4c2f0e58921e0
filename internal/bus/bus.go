// Package bus delivers toggle/volume events to long-poll waiters.
package bus

import (
	"context"
	"errors"
	"sync"
)

// Event is one of a closed set of toggle/volume notifications. Events carry
// no payload and are never queued: a waiter only ever observes an event that
// arrives while it is parked.
type Event int

const (
	EventToggleMic Event = iota
	EventMuteMic
	EventUnmuteMic
	EventToggleSpeaker
	EventVolumeUp
	EventVolumeDown
)

// Wire returns the event's external string representation, as used in
// GET /bridge/poll responses.
func (e Event) Wire() string {
	switch e {
	case EventToggleMic:
		return "toggle-mic"
	case EventMuteMic:
		return "mute-mic"
	case EventUnmuteMic:
		return "unmute-mic"
	case EventToggleSpeaker:
		return "toggle-speaker"
	case EventVolumeUp:
		return "volume-up"
	case EventVolumeDown:
		return "volume-down"
	default:
		return "unknown"
	}
}

// ErrShutdown is delivered to every parked waiter when the bus is torn down.
var ErrShutdown = errors.New("bus: shutdown")

// delivery is what a parked waiter receives: either an event or an error
// (cancellation is handled by the caller's context, not by delivery).
type delivery struct {
	event Event
	err   error
}

// Bus fans out events to whichever waiters are currently parked and no one
// else. There is no per-waiter queue and no replay: a waiter that is not
// parked when an event is broadcast simply never sees it.
type Bus struct {
	mu      sync.Mutex
	waiters map[uint64]chan delivery
	nextID  uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{waiters: make(map[uint64]chan delivery)}
}

// WaitNext parks the caller until an event is broadcast, the bus is shut
// down, or ctx is canceled. Cancellation is safe: if ctx is done first, the
// waiter is removed and no delivery occurs.
func (b *Bus) WaitNext(ctx context.Context) (Event, error) {
	ch := make(chan delivery, 1)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.waiters[id] = ch
	b.mu.Unlock()

	select {
	case d := <-ch:
		return d.event, d.err
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.waiters, id)
		b.mu.Unlock()
		return 0, ctx.Err()
	}
}

// Broadcast resumes every currently parked waiter exactly once with e and
// empties the waiter set. It returns the number of waiters resumed.
func (b *Bus) Broadcast(e Event) int {
	waiters := b.swap()
	for _, ch := range waiters {
		ch <- delivery{event: e}
	}
	return len(waiters)
}

// CancelAll resumes every currently parked waiter with ErrShutdown. Used
// only at teardown.
func (b *Bus) CancelAll() {
	waiters := b.swap()
	for _, ch := range waiters {
		ch <- delivery{err: ErrShutdown}
	}
}

// Waiting reports how many waiters are currently parked.
func (b *Bus) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

func (b *Bus) swap() map[uint64]chan delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	waiters := b.waiters
	b.waiters = make(map[uint64]chan delivery)
	return waiters
}
