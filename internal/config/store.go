package config

import (
	"fmt"
	"sync"
)

// Store is the Config Store: a loaded Settings value plus a change stream.
// Every successful Update saves to disk and fans the new value out to every
// current subscriber; a subscriber that is not currently receiving never
// misses the latest value because each subscriber channel is buffered by
// one and only ever holds the latest value (send-or-replace, never blocks
// the writer). Intermediate values it did not read in time are dropped.
type Store struct {
	mu   sync.Mutex
	path string
	cur  Settings

	subs   map[uint64]chan Settings
	nextID uint64
}

// OpenStore loads settings from path (or defaults if absent) and returns a
// Store ready to be read and subscribed to.
func OpenStore(path string) (*Store, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{
		path: path,
		cur:  *s,
		subs: make(map[uint64]chan Settings),
	}, nil
}

// Snapshot returns the current settings value.
func (st *Store) Snapshot() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cur
}

// Update applies fn to a copy of the current settings, validates and
// persists the result, and publishes it to every subscriber. The first
// Update after OpenStore is a genuine change; OpenStore itself never
// publishes, so the subscriber set sees only changes after startup.
func (st *Store) Update(fn func(*Settings)) (Settings, error) {
	st.mu.Lock()
	next := st.cur
	fn(&next)
	applyDefaults(&next)
	if err := validateSettings(&next); err != nil {
		st.mu.Unlock()
		return Settings{}, fmt.Errorf("config: update rejected: %w", err)
	}
	if err := Save(st.path, &next); err != nil {
		st.mu.Unlock()
		return Settings{}, fmt.Errorf("config: save failed: %w", err)
	}
	st.cur = next
	subs := make([]chan Settings, 0, len(st.subs))
	for _, ch := range st.subs {
		subs = append(subs, ch)
	}
	st.mu.Unlock()

	for _, ch := range subs {
		publish(ch, next)
	}
	return next, nil
}

// Subscribe registers for change notifications. The returned channel is
// buffered by one and always holds only the most recent unconsumed value.
// Unsubscribe with the returned id when done.
func (st *Store) Subscribe() (id uint64, ch <-chan Settings) {
	st.mu.Lock()
	defer st.mu.Unlock()
	id = st.nextID
	st.nextID++
	c := make(chan Settings, 1)
	st.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscriber registered via Subscribe.
func (st *Store) Unsubscribe(id uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.subs, id)
}

// publish sends v to ch, dropping a stale unread value rather than
// blocking: subscribers only ever care about the latest settings.
func publish(ch chan Settings, v Settings) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
