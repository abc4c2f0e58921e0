//go:build !windows

package hotkey

import "errors"

// ErrUnsupportedPlatform is returned by Listen on platforms with no global
// hotkey implementation. Per the registration-can-fail-silently contract,
// callers are expected to log this and continue without a hotkey.
var ErrUnsupportedPlatform = errors.New("hotkey: global hotkeys unsupported on this platform")

type noopListener struct{}

func (noopListener) Close() error { return nil }

// Listen always fails on this platform; callback is never invoked.
func Listen(callback func()) (Listener, error) {
	return noopListener{}, ErrUnsupportedPlatform
}
