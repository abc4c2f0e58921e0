//go:build windows

package hotkey

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32              = windows.NewLazySystemDLL("user32.dll")
	kernel32            = windows.NewLazySystemDLL("kernel32.dll")
	procRegisterKey     = user32.NewProc("RegisterHotKey")
	procUnregKey        = user32.NewProc("UnregisterHotKey")
	procGetMessage      = user32.NewProc("GetMessageW")
	procTranslateMsg    = user32.NewProc("TranslateMessage")
	procDispatchMsg     = user32.NewProc("DispatchMessageW")
	procPostThreadMsg   = user32.NewProc("PostThreadMessageW")
	procGetCurrentThrID = kernel32.NewProc("GetCurrentThreadId")
)

const (
	modAlt   = 0x0001
	vkM      = 0x4D
	wmHotkey = 0x0312
	wmQuit   = 0x0012
	hotkeyID = 1
)

type msg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

type listener struct {
	done     chan struct{}
	once     sync.Once
	threads  sync.WaitGroup
	threadID atomic.Uint32
}

// Listen registers the global Alt+M hotkey and invokes callback on a plain
// goroutine whenever it is pressed — never on the message-loop's OS thread.
func Listen(callback func()) (Listener, error) {
	events := make(chan struct{}, 1)
	l := &listener{done: make(chan struct{})}

	ready := make(chan error, 1)
	l.threads.Add(1)
	go l.messageLoop(ready, events)

	if err := <-ready; err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-events:
				callback()
			case <-l.done:
				return
			}
		}
	}()

	return l, nil
}

// messageLoop owns the registration for its entire life: it locks an OS
// thread, records that thread's ID so Close can reach it, registers the
// hotkey, and only unregisters and releases the thread once GetMessageW
// returns — which happens either on a real message or on the WM_QUIT
// Close() posts to unblock it.
func (l *listener) messageLoop(ready chan<- error, events chan<- struct{}) {
	defer l.threads.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.threadID.Store(currentThreadID())

	ok, _, err := procRegisterKey.Call(0, hotkeyID, modAlt, vkM)
	if ok == 0 {
		ready <- fmt.Errorf("hotkey: RegisterHotKey failed: %w", err)
		return
	}
	defer procUnregKey.Call(0, hotkeyID)

	ready <- nil

	var m msg
	for {
		r, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(r) <= 0 {
			return
		}
		if m.message == wmHotkey && m.wParam == hotkeyID {
			select {
			case events <- struct{}{}:
			default:
			}
		}
		procTranslateMsg.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMsg.Call(uintptr(unsafe.Pointer(&m)))
	}
}

func currentThreadID() uint32 {
	r, _, _ := procGetCurrentThrID.Call()
	return uint32(r)
}

// Close posts WM_QUIT to the message-loop thread to unblock its pending
// GetMessageW call, then waits for that thread to actually unregister the
// hotkey and exit before returning — so a caller that immediately tries to
// re-register the same hotkey never races the old registration's teardown.
func (l *listener) Close() error {
	l.once.Do(func() {
		if tid := l.threadID.Load(); tid != 0 {
			procPostThreadMsg.Call(uintptr(tid), wmQuit, 0, 0)
		}
		l.threads.Wait()
		close(l.done)
	})
	return nil
}
