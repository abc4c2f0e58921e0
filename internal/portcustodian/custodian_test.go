package portcustodian

import (
	"context"
	"errors"
	"testing"
	"time"
)

func withFakes(t *testing.T, owner int32, name string, killErr error, portFreeAfter int) {
	t.Helper()
	origLookup, origName, origKill, origCheck := lookupOwner, processName, killProcess, checkListens
	t.Cleanup(func() {
		lookupOwner, processName, killProcess, checkListens = origLookup, origName, origKill, origCheck
	})

	lookupOwner = func(port int) (int32, error) { return owner, nil }
	processName = func(pid int32) (string, error) { return name, nil }
	killProcess = func(pid int32) error { return killErr }

	checks := 0
	checkListens = func(port int) bool {
		checks++
		return checks >= portFreeAfter
	}
}

func TestReclaimSelfOwnerSucceeds(t *testing.T) {
	withFakes(t, 1234, "MicDrop", nil, 1)
	settleBefore := settleWait
	defer func() { settleWait = settleBefore }()
	settleWait = time.Millisecond

	err := Reclaim(context.Background(), 8765, []string{"AudioRemote", "MicDrop"})
	if err != nil {
		t.Fatalf("Reclaim() = %v, want nil", err)
	}
}

func TestReclaimForeignOwnerNeverTerminated(t *testing.T) {
	killed := false
	withFakes(t, 999, "chrome.exe", nil, 1)
	origKill := killProcess
	killProcess = func(pid int32) error { killed = true; return nil }
	defer func() { killProcess = origKill }()

	err := Reclaim(context.Background(), 8765, []string{"AudioRemote", "MicDrop"})

	var foreignErr *ForeignProcessError
	if !errors.As(err, &foreignErr) {
		t.Fatalf("err = %v, want *ForeignProcessError", err)
	}
	if killed {
		t.Error("foreign process was terminated, want untouched")
	}
}

func TestReclaimNoOwnerFound(t *testing.T) {
	withFakes(t, 0, "", nil, 1)

	err := Reclaim(context.Background(), 8765, []string{"MicDrop"})
	if !errors.Is(err, ErrNoProcessFound) {
		t.Errorf("err = %v, want ErrNoProcessFound", err)
	}
}

func TestReclaimStillBusyAfterRetries(t *testing.T) {
	withFakes(t, 1234, "MicDrop", nil, retryAttempts+100)
	settleBefore, intervalBefore := settleWait, retryInterval
	defer func() { settleWait, retryInterval = settleBefore, intervalBefore }()
	settleWait = time.Millisecond

	err := Reclaim(context.Background(), 8765, []string{"MicDrop"})
	if !errors.Is(err, ErrStillBusyAfterReclaim) {
		t.Errorf("err = %v, want ErrStillBusyAfterReclaim", err)
	}
}

func TestMatchesAllowListPrefix(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"MicDrop.exe", true},
		{"MicDropHelper", true},
		{"AudioRemote", true},
		{"chrome.exe", false},
	}
	allowed := []string{"AudioRemote", "MicDrop"}
	for _, c := range cases {
		if got := matchesAllowList(c.name, allowed); got != c.want {
			t.Errorf("matchesAllowList(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}
