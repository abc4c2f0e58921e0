// Package portcustodian reclaims the HTTP listener port from a stale
// instance of this same program, and only from a stale instance of this
// same program. Foreign processes are never terminated.
package portcustodian

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrNoProcessFound means the port appeared free on a second check — there
// was nothing to reclaim.
var ErrNoProcessFound = errors.New("portcustodian: no process found holding the port")

// ErrTerminationFailed means the owning process was identified as self but
// could not be killed.
var ErrTerminationFailed = errors.New("portcustodian: failed to terminate owning process")

// ErrStillBusyAfterReclaim means the owning process was terminated but the
// port did not become available within the retry budget.
var ErrStillBusyAfterReclaim = errors.New("portcustodian: port still busy after reclaim")

// ForeignProcessError means the port's owner is not in the allow-list and
// was left untouched.
type ForeignProcessError struct {
	Port  int
	Owner string
}

func (e *ForeignProcessError) Error() string {
	return fmt.Sprintf("portcustodian: port %d held by foreign process %q", e.Port, e.Owner)
}

const retryAttempts = 10

// settleWait and retryInterval are vars (not consts) so tests can shrink
// them; production callers never change them.
var (
	settleWait    = 2 * time.Second
	retryInterval = 200 * time.Millisecond
)

// Dependencies, overridden in tests to avoid depending on real OS process
// state.
var (
	lookupOwner  = lookupOwnerGopsutil
	processName  = processNameGopsutil
	killProcess  = killProcessGopsutil
	checkListens = checkPortFree
)

// Reclaim identifies the process holding port, verifies its executable name
// is prefix-matched by one of allowedNames, and if so terminates it and
// waits for the port to free up. A foreign owner is reported via
// ForeignProcessError and never terminated.
func Reclaim(ctx context.Context, port int, allowedNames []string) error {
	pid, err := lookupOwner(port)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoProcessFound, err)
	}
	if pid == 0 {
		return ErrNoProcessFound
	}

	name, err := processName(pid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoProcessFound, err)
	}

	if !matchesAllowList(name, allowedNames) {
		return &ForeignProcessError{Port: port, Owner: name}
	}

	if err := killProcess(pid); err != nil {
		return fmt.Errorf("%w: %v", ErrTerminationFailed, err)
	}

	select {
	case <-time.After(settleWait):
	case <-ctx.Done():
		return ctx.Err()
	}

	for attempt := 0; attempt < retryAttempts; attempt++ {
		if checkListens(port) {
			return nil
		}
		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrStillBusyAfterReclaim
}

// matchesAllowList reports whether name is prefix-matched by any entry in
// allowedNames.
func matchesAllowList(name string, allowedNames []string) bool {
	for _, allowed := range allowedNames {
		if strings.HasPrefix(name, allowed) {
			return true
		}
	}
	return false
}

// checkPortFree reports whether port can currently be bound.
func checkPortFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
