//go:build !windows

package audio

import "errors"

// ErrUnsupportedPlatform is returned by every operation on non-Windows
// platforms, where no Core Audio backend is wired.
var ErrUnsupportedPlatform = errors.New("audio: not supported on this platform")

type stubDevice struct{}

// New returns a Device stub on platforms without a Core Audio backend. Every
// device query, setter and Observe fails with ErrUnsupportedPlatform;
// HardwareMuteSupported reports false and Close is a no-op returning nil.
// The rest of the coordinator must keep functioning with audio control
// simply unavailable.
func New() (Device, error) {
	return stubDevice{}, nil
}

func (stubDevice) DefaultInputID() (DeviceID, error)  { return "", ErrUnsupportedPlatform }
func (stubDevice) DefaultOutputID() (DeviceID, error) { return "", ErrUnsupportedPlatform }

func (stubDevice) InputVolume() (float64, error)    { return 0, ErrUnsupportedPlatform }
func (stubDevice) SetInputVolume(v float64) error   { return ErrUnsupportedPlatform }
func (stubDevice) OutputVolume() (float64, error)   { return 0, ErrUnsupportedPlatform }
func (stubDevice) SetOutputVolume(v float64) error  { return ErrUnsupportedPlatform }
func (stubDevice) HardwareMuteSupported() bool      { return false }
func (stubDevice) HardwareMute() (bool, error)      { return false, ErrUnsupportedPlatform }
func (stubDevice) SetHardwareMute(mute bool) error  { return ErrUnsupportedPlatform }

func (stubDevice) Observe(kind ObserveKind, callback func(ChangeEvent)) (func(), error) {
	return func() {}, ErrUnsupportedPlatform
}

func (stubDevice) Close() error { return nil }
