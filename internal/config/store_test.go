package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestOpenStoreLoadsDefaultsWithoutPublishing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	st, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}

	_, ch := st.Subscribe()
	select {
	case v := <-ch:
		t.Fatalf("OpenStore should not publish, got %+v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStoreUpdatePublishesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	st, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}

	_, ch := st.Subscribe()

	got, err := st.Update(func(s *Settings) { s.Port = 9500 })
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Port != 9500 {
		t.Errorf("Port = %d, want 9500", got.Port)
	}

	select {
	case published := <-ch:
		if published.Port != 9500 {
			t.Errorf("published Port = %d, want 9500", published.Port)
		}
	case <-time.After(time.Second):
		t.Fatal("Update did not publish to subscriber")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after Update error = %v", err)
	}
	if reloaded.Port != 9500 {
		t.Errorf("reloaded Port = %d, want 9500", reloaded.Port)
	}
}

func TestStoreUpdateRejectsInvalidValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	st, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}

	before := st.Snapshot()

	if _, err := st.Update(func(s *Settings) { s.Port = -1 }); err == nil {
		t.Error("Update() with invalid port should fail")
	}

	if after := st.Snapshot(); after.Port != before.Port {
		t.Errorf("rejected Update mutated state: before=%d after=%d", before.Port, after.Port)
	}
}

func TestStoreUnsubscribeStopsDelivery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	st, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}

	id, ch := st.Subscribe()
	st.Unsubscribe(id)

	if _, err := st.Update(func(s *Settings) { s.Port = 9600 }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	select {
	case v := <-ch:
		t.Fatalf("unsubscribed channel received %+v", v)
	case <-time.After(20 * time.Millisecond):
	}
}
