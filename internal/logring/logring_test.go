package logring

import "testing"

func TestSnapshotOrderBeforeWraparound(t *testing.T) {
	r := New(3)
	r.Push(LevelInfo, "a")
	r.Push(LevelInfo, "b")

	got := r.Snapshot()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Message != "a" || got[1].Message != "b" {
		t.Errorf("order = %q, %q, want a, b", got[0].Message, got[1].Message)
	}
}

func TestDiscardsOldestPastCapacity(t *testing.T) {
	r := New(3)
	r.Push(LevelInfo, "a")
	r.Push(LevelInfo, "b")
	r.Push(LevelInfo, "c")
	r.Push(LevelInfo, "d")

	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{"b", "c", "d"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("entry[%d] = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestDefaultCapacity(t *testing.T) {
	r := New(0)
	if r.capacity != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", r.capacity, DefaultCapacity)
	}
}
