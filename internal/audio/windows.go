//go:build windows

package audio

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"
)

// endpoint bundles one activated IAudioEndpointVolume with the IMMDevice it
// was activated from and the IAudioEndpointVolumeCallback registered on it,
// so all three are released together.
type endpoint struct {
	device      *wca.IMMDevice
	volume      *wca.IAudioEndpointVolume
	volCallback *volumeCallback
}

func (e *endpoint) release() {
	if e == nil {
		return
	}
	if e.volume != nil {
		unregisterVolumeCallback(e.volume, e.volCallback)
		e.volume.Release()
		e.volume = nil
	}
	if e.device != nil {
		e.device.Release()
		e.device = nil
	}
}

// wcaDevice implements Device using Windows Core Audio (WASAPI) via go-wca,
// following the same COM lifecycle discipline as the teacher's volume
// reader: one CoInitializeEx per owning thread, S_FALSE treated as already
// initialized, everything released in reverse order on Close.
type wcaDevice struct {
	mu             sync.Mutex
	comInitialized bool
	threadLocked   bool
	mmde           *wca.IMMDeviceEnumerator
	render         *endpoint // default output (speakers)
	capture        *endpoint // default input (microphone)
	notifier       *deviceNotifier
}

// New creates a Device backed by the default Windows Core Audio render and
// capture endpoints.
func New() (Device, error) {
	d := &wcaDevice{}
	if err := d.initialize(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *wcaDevice) initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	runtime.LockOSThread()
	d.threadLocked = true

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		var oleErr *ole.OleError
		if errors.As(err, &oleErr) && (oleErr.Code() == 0x00000001 || oleErr.Code() == 0x80000001) {
			log.Printf("[AUDIO] COM already initialized on this thread")
		} else {
			runtime.UnlockOSThread()
			d.threadLocked = false
			return fmt.Errorf("CoInitializeEx failed: %w", err)
		}
	} else {
		d.comInitialized = true
	}

	var mmde *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &mmde); err != nil {
		d.cleanupLocked()
		return fmt.Errorf("CoCreateInstance failed: %w", err)
	}
	d.mmde = mmde

	notifier, err := newDeviceNotifier(mmde)
	if err != nil {
		log.Printf("[AUDIO] Warning: device change notifications unavailable: %v", err)
	}
	d.notifier = notifier

	render, err := activate(mmde, wca.ERender, notifier, ObserveOutputVolume)
	if err != nil {
		log.Printf("[AUDIO] Warning: no default render device: %v", err)
	}
	d.render = render

	capture, err := activate(mmde, wca.ECapture, notifier, ObserveInputVolume)
	if err != nil {
		log.Printf("[AUDIO] Warning: no default capture device: %v", err)
	}
	d.capture = capture

	return nil
}

// activate binds the default endpoint for flow and, if notifier is
// non-nil, registers a volume-change callback on it tagged with kind so
// external volume/mute changes surface as the right ObserveKind instead of
// being conflated with device-topology events.
func activate(mmde *wca.IMMDeviceEnumerator, flow uint32, notifier *deviceNotifier, kind ObserveKind) (*endpoint, error) {
	var dev *wca.IMMDevice
	if err := mmde.GetDefaultAudioEndpoint(flow, wca.EConsole, &dev); err != nil {
		return nil, fmt.Errorf("GetDefaultAudioEndpoint failed: %w", err)
	}

	var vol *wca.IAudioEndpointVolume
	if err := dev.Activate(wca.IID_IAudioEndpointVolume, wca.CLSCTX_ALL, nil, &vol); err != nil {
		dev.Release()
		return nil, fmt.Errorf("Activate failed: %w", err)
	}

	ep := &endpoint{device: dev, volume: vol}
	if notifier != nil {
		vc, err := registerVolumeCallback(vol, notifier, kind)
		if err != nil {
			log.Printf("[AUDIO] Warning: RegisterControlChangeNotify failed: %v", err)
		} else {
			ep.volCallback = vc
		}
	}

	return ep, nil
}

func (d *wcaDevice) cleanupLocked() {
	d.render.release()
	d.render = nil
	d.capture.release()
	d.capture = nil

	if d.notifier != nil {
		d.notifier.stop()
		d.notifier = nil
	}

	if d.mmde != nil {
		d.mmde.Release()
		d.mmde = nil
	}

	if d.comInitialized {
		ole.CoUninitialize()
		d.comInitialized = false
	}

	if d.threadLocked {
		runtime.UnlockOSThread()
		d.threadLocked = false
	}
}

func (d *wcaDevice) DefaultOutputID() (DeviceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.render == nil {
		return "", &DeviceUnavailableError{Op: "default_output_id", Err: errNoDevice}
	}
	var id string
	if err := d.render.device.GetId(&id); err != nil {
		return "", &DeviceUnavailableError{Op: "default_output_id", Err: err}
	}
	return DeviceID(id), nil
}

func (d *wcaDevice) DefaultInputID() (DeviceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capture == nil {
		return "", &DeviceUnavailableError{Op: "default_input_id", Err: errNoDevice}
	}
	var id string
	if err := d.capture.device.GetId(&id); err != nil {
		return "", &DeviceUnavailableError{Op: "default_input_id", Err: err}
	}
	return DeviceID(id), nil
}

func (d *wcaDevice) OutputVolume() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.render == nil {
		return 0, &DeviceUnavailableError{Op: "output_volume", Err: errNoDevice}
	}
	var level float32
	if err := d.render.volume.GetMasterVolumeLevelScalar(&level); err != nil {
		return 0, &DeviceUnavailableError{Op: "output_volume", Err: err}
	}
	return float64(level), nil
}

func (d *wcaDevice) SetOutputVolume(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.render == nil {
		return &DeviceUnavailableError{Op: "set_output_volume", Err: errNoDevice}
	}
	if err := d.render.volume.SetMasterVolumeLevelScalar(float32(clamp(v)), nil); err != nil {
		return &DeviceUnavailableError{Op: "set_output_volume", Err: err}
	}
	return nil
}

func (d *wcaDevice) InputVolume() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capture == nil {
		return 0, &DeviceUnavailableError{Op: "input_volume", Err: errNoDevice}
	}
	var level float32
	if err := d.capture.volume.GetMasterVolumeLevelScalar(&level); err != nil {
		return 0, &DeviceUnavailableError{Op: "input_volume", Err: err}
	}
	return float64(level), nil
}

func (d *wcaDevice) SetInputVolume(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capture == nil {
		return &DeviceUnavailableError{Op: "set_input_volume", Err: errNoDevice}
	}
	if err := d.capture.volume.SetMasterVolumeLevelScalar(float32(clamp(v)), nil); err != nil {
		return &DeviceUnavailableError{Op: "set_input_volume", Err: err}
	}
	return nil
}

// HardwareMuteSupported reports whether a capture endpoint is available at
// all. go-wca exposes GetMute/SetMute unconditionally on IAudioEndpointVolume
// so the only real failure mode is "no capture device".
func (d *wcaDevice) HardwareMuteSupported() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capture != nil
}

func (d *wcaDevice) HardwareMute() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capture == nil {
		return false, &UnsupportedError{Op: "hardware_mute"}
	}
	var muted bool
	if err := d.capture.volume.GetMute(&muted); err != nil {
		return false, &DeviceUnavailableError{Op: "hardware_mute", Err: err}
	}
	return muted, nil
}

func (d *wcaDevice) SetHardwareMute(mute bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capture == nil {
		return &UnsupportedError{Op: "set_hardware_mute"}
	}
	if err := d.capture.volume.SetMute(mute, nil); err != nil {
		return &DeviceUnavailableError{Op: "set_hardware_mute", Err: err}
	}
	return nil
}

func (d *wcaDevice) Observe(kind ObserveKind, callback func(ChangeEvent)) (func(), error) {
	d.mu.Lock()
	notifier := d.notifier
	d.mu.Unlock()

	if notifier == nil {
		return func() {}, &UnsupportedError{Op: "observe"}
	}
	return notifier.subscribe(kind, callback), nil
}

func (d *wcaDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanupLocked()
	return nil
}

var errNoDevice = fmt.Errorf("no default device present")
