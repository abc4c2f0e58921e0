//go:build windows

package audio

import (
	"fmt"
	"log"
	"sync"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"
)

var iidIMMNotificationClient = ole.NewGUID("{7991EEC9-7E89-4D85-8390-6C703CEC60C0}")
var iidIAudioEndpointVolumeCallback = ole.NewGUID("{657804FA-D6AD-4496-8A60-352752AF4F89}")

// deviceNotifier registers one IMMNotificationClient with the device
// enumerator, plus one IAudioEndpointVolumeCallback per activated endpoint,
// and fans out every signal to subscribers of the matching ObserveKind on a
// regular goroutine — the COM callback thread itself only ever does a
// non-blocking channel send, never subscriber-supplied work.
//
// Device topology changes (add/remove/state/default-device) and actual
// volume-level changes arrive on distinct channels and are never conflated:
// a topology signal only ever wakes ObserveDefaultInput subscribers, and a
// volume signal carries the ObserveKind of the endpoint it came from.
type deviceNotifier struct {
	mu       sync.Mutex
	mmde     *wca.IMMDeviceEnumerator
	client   *notificationClient
	topology chan struct{}
	volume   chan ObserveKind
	subs     map[uint64]subscriber
	nextID   uint64
	stopCh   chan struct{}
	once     sync.Once
}

type subscriber struct {
	kind ObserveKind
	fn   func(ChangeEvent)
}

type notificationClient struct {
	lpVtbl   *notificationClientVtbl
	refCount uint32
	notifier *deviceNotifier
}

type notificationClientVtbl struct {
	QueryInterface         uintptr
	AddRef                 uintptr
	Release                uintptr
	OnDeviceStateChanged   uintptr
	OnDeviceAdded          uintptr
	OnDeviceRemoved        uintptr
	OnDefaultDeviceChanged uintptr
	OnPropertyValueChanged uintptr
}

func newDeviceNotifier(mmde *wca.IMMDeviceEnumerator) (*deviceNotifier, error) {
	dn := &deviceNotifier{
		mmde:     mmde,
		topology: make(chan struct{}, 1),
		volume:   make(chan ObserveKind, 4),
		subs:     make(map[uint64]subscriber),
		stopCh:   make(chan struct{}),
	}
	dn.client = newNotificationClient(dn)

	hr, _, _ := syscall.SyscallN(
		mmde.VTable().RegisterEndpointNotificationCallback,
		uintptr(unsafe.Pointer(mmde)),
		uintptr(unsafe.Pointer(dn.client)),
	)
	if hr != 0 {
		log.Printf("[AUDIO] Warning: RegisterEndpointNotificationCallback failed: 0x%08X", hr)
	}

	go dn.pump()
	return dn, nil
}

// pump runs on a plain goroutine and turns raw signals into subscriber
// callbacks, decoupling delivery from whatever thread the COM callback fired
// on. Each signal carries the ObserveKind it actually pertains to; only
// subscribers registered for that exact kind are invoked.
func (dn *deviceNotifier) pump() {
	for {
		select {
		case <-dn.topology:
			dn.deliver(ObserveDefaultInput)
		case kind := <-dn.volume:
			dn.deliver(kind)
		case <-dn.stopCh:
			return
		}
	}
}

func (dn *deviceNotifier) deliver(kind ObserveKind) {
	dn.mu.Lock()
	fns := make([]func(ChangeEvent), 0, len(dn.subs))
	for _, s := range dn.subs {
		if s.kind == kind {
			fns = append(fns, s.fn)
		}
	}
	dn.mu.Unlock()
	for _, fn := range fns {
		fn(ChangeEvent{Kind: kind})
	}
}

// signalTopology reports a device add/remove/state/default-device change.
func (dn *deviceNotifier) signalTopology() {
	select {
	case dn.topology <- struct{}{}:
	default:
	}
}

// signalVolume reports an actual volume-level or mute change on the
// endpoint that kind was registered for.
func (dn *deviceNotifier) signalVolume(kind ObserveKind) {
	select {
	case dn.volume <- kind:
	default:
	}
}

func (dn *deviceNotifier) subscribe(kind ObserveKind, fn func(ChangeEvent)) func() {
	dn.mu.Lock()
	id := dn.nextID
	dn.nextID++
	dn.subs[id] = subscriber{kind: kind, fn: fn}
	dn.mu.Unlock()

	return func() {
		dn.mu.Lock()
		delete(dn.subs, id)
		dn.mu.Unlock()
	}
}

func (dn *deviceNotifier) stop() {
	dn.once.Do(func() {
		close(dn.stopCh)
		if dn.mmde != nil && dn.client != nil {
			syscall.SyscallN(
				dn.mmde.VTable().UnregisterEndpointNotificationCallback,
				uintptr(unsafe.Pointer(dn.mmde)),
				uintptr(unsafe.Pointer(dn.client)),
			)
		}
	})
}

func newNotificationClient(notifier *deviceNotifier) *notificationClient {
	client := &notificationClient{refCount: 1, notifier: notifier}
	client.lpVtbl = &notificationClientVtbl{
		QueryInterface:         syscall.NewCallback(ncQueryInterface),
		AddRef:                 syscall.NewCallback(ncAddRef),
		Release:                syscall.NewCallback(ncRelease),
		OnDeviceStateChanged:   syscall.NewCallback(ncOnDeviceStateChanged),
		OnDeviceAdded:          syscall.NewCallback(ncOnDeviceAdded),
		OnDeviceRemoved:        syscall.NewCallback(ncOnDeviceRemoved),
		OnDefaultDeviceChanged: syscall.NewCallback(ncOnDefaultDeviceChanged),
		OnPropertyValueChanged: syscall.NewCallback(ncOnPropertyValueChanged),
	}
	return client
}

func ncQueryInterface(this *notificationClient, riid *ole.GUID, ppvObject *unsafe.Pointer) uintptr {
	if ole.IsEqualGUID(riid, ole.IID_IUnknown) || ole.IsEqualGUID(riid, iidIMMNotificationClient) {
		*ppvObject = unsafe.Pointer(this)
		this.refCount++
		return 0
	}
	*ppvObject = nil
	return 0x80004002 // E_NOINTERFACE
}

func ncAddRef(this *notificationClient) uintptr {
	this.refCount++
	return uintptr(this.refCount)
}

func ncRelease(this *notificationClient) uintptr {
	this.refCount--
	return uintptr(this.refCount)
}

func ncOnDeviceStateChanged(this *notificationClient, _ *uint16, _ uint32) uintptr {
	if this.notifier != nil {
		this.notifier.signalTopology()
	}
	return 0
}

func ncOnDeviceAdded(this *notificationClient, _ *uint16) uintptr {
	if this.notifier != nil {
		this.notifier.signalTopology()
	}
	return 0
}

func ncOnDeviceRemoved(this *notificationClient, _ *uint16) uintptr {
	if this.notifier != nil {
		this.notifier.signalTopology()
	}
	return 0
}

func ncOnDefaultDeviceChanged(this *notificationClient, flow uint32, _ uint32, _ *uint16) uintptr {
	if this.notifier != nil && (flow == wca.ERender || flow == wca.ECapture) {
		this.notifier.signalTopology()
	}
	return 0
}

func ncOnPropertyValueChanged(_ *notificationClient, _ *uint16, _ uintptr) uintptr { return 0 }

// volumeCallback implements IAudioEndpointVolumeCallback for exactly one
// endpoint. kind identifies which ObserveKind its OnNotify firings map to,
// so a render endpoint's callback and a capture endpoint's callback never
// get confused with each other even though both run the same vtable code.
type volumeCallback struct {
	lpVtbl   *volumeCallbackVtbl
	refCount uint32
	notifier *deviceNotifier
	kind     ObserveKind
}

type volumeCallbackVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr
	OnNotify       uintptr
}

// audioVolumeNotificationData mirrors AUDIO_VOLUME_NOTIFICATION_DATA; its
// fields are never read, OnNotify only cares that it fired.
type audioVolumeNotificationData struct {
	guidEventContext ole.GUID
	bMuted           int32
	fMasterVolume    float32
	nChannels        uint32
	afChannelVolumes [1]float32
}

func newVolumeCallback(notifier *deviceNotifier, kind ObserveKind) *volumeCallback {
	vc := &volumeCallback{refCount: 1, notifier: notifier, kind: kind}
	vc.lpVtbl = &volumeCallbackVtbl{
		QueryInterface: syscall.NewCallback(vcQueryInterface),
		AddRef:         syscall.NewCallback(vcAddRef),
		Release:        syscall.NewCallback(vcRelease),
		OnNotify:       syscall.NewCallback(vcOnNotify),
	}
	return vc
}

// registerVolumeCallback subscribes vc to volume's control-change
// notifications, the source of real external volume/mute changes that
// device-topology events never report.
func registerVolumeCallback(volume *wca.IAudioEndpointVolume, notifier *deviceNotifier, kind ObserveKind) (*volumeCallback, error) {
	vc := newVolumeCallback(notifier, kind)
	hr, _, _ := syscall.SyscallN(
		volume.VTable().RegisterControlChangeNotify,
		uintptr(unsafe.Pointer(volume)),
		uintptr(unsafe.Pointer(vc)),
	)
	if hr != 0 {
		return nil, fmt.Errorf("RegisterControlChangeNotify failed: 0x%08X", hr)
	}
	return vc, nil
}

func unregisterVolumeCallback(volume *wca.IAudioEndpointVolume, vc *volumeCallback) {
	if volume == nil || vc == nil {
		return
	}
	syscall.SyscallN(
		volume.VTable().UnregisterControlChangeNotify,
		uintptr(unsafe.Pointer(volume)),
		uintptr(unsafe.Pointer(vc)),
	)
}

func vcQueryInterface(this *volumeCallback, riid *ole.GUID, ppvObject *unsafe.Pointer) uintptr {
	if ole.IsEqualGUID(riid, ole.IID_IUnknown) || ole.IsEqualGUID(riid, iidIAudioEndpointVolumeCallback) {
		*ppvObject = unsafe.Pointer(this)
		this.refCount++
		return 0
	}
	*ppvObject = nil
	return 0x80004002 // E_NOINTERFACE
}

func vcAddRef(this *volumeCallback) uintptr {
	this.refCount++
	return uintptr(this.refCount)
}

func vcRelease(this *volumeCallback) uintptr {
	this.refCount--
	return uintptr(this.refCount)
}

func vcOnNotify(this *volumeCallback, _ *audioVolumeNotificationData) uintptr {
	if this.notifier != nil {
		this.notifier.signalVolume(this.kind)
	}
	return 0
}
