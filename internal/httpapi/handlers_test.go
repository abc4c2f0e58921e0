package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pozitronik/micdrop-go/internal/audio"
	"github.com/pozitronik/micdrop-go/internal/bus"
	"github.com/pozitronik/micdrop-go/internal/confirm"
	"github.com/pozitronik/micdrop-go/internal/logring"
	"github.com/pozitronik/micdrop-go/internal/state"
)

type fakeDevice struct {
	mu                   sync.Mutex
	inputVol, outputVol  float64
	hwMuted              bool
	hardwareMuteSupports bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{inputVol: 1, outputVol: 0.5, hardwareMuteSupports: true}
}

func (d *fakeDevice) DefaultInputID() (audio.DeviceID, error)  { return "in", nil }
func (d *fakeDevice) DefaultOutputID() (audio.DeviceID, error) { return "out", nil }

func (d *fakeDevice) InputVolume() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inputVol, nil
}

func (d *fakeDevice) SetInputVolume(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputVol = clampTest(v)
	return nil
}

func (d *fakeDevice) OutputVolume() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outputVol, nil
}

func (d *fakeDevice) SetOutputVolume(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputVol = clampTest(v)
	return nil
}

func (d *fakeDevice) HardwareMuteSupported() bool { return d.hardwareMuteSupports }

func (d *fakeDevice) HardwareMute() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hwMuted, nil
}

func (d *fakeDevice) SetHardwareMute(mute bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hwMuted = mute
	return nil
}

func (d *fakeDevice) Observe(kind audio.ObserveKind, callback func(audio.ChangeEvent)) (func(), error) {
	return func() {}, nil
}

func (d *fakeDevice) Close() error { return nil }

func clampTest(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type testHarness struct {
	server      *Server
	device      *fakeDevice
	state       *state.State
	bus         *bus.Bus
	confirm     *confirm.Registry
	restartHits int
	mu          sync.Mutex
	baseURL     string
}

func newHarness(t *testing.T, confirmTimeout time.Duration) *testHarness {
	t.Helper()

	h := &testHarness{
		device:  newFakeDevice(),
		state:   state.New(),
		bus:     bus.New(),
		confirm: confirm.New(confirmTimeout),
	}

	deps := Deps{
		Bus:     h.bus,
		Confirm: h.confirm,
		State:   h.state,
		Device:  h.device,
		Logs:    logring.New(50),
		Settings: func() Settings {
			return Settings{VolumeStep: 0.1, MuteMode: "hardware"}
		},
		OnRestartRequested: func() {
			h.mu.Lock()
			h.restartHits++
			h.mu.Unlock()
		},
	}

	h.server = New(deps)
	if err := h.server.Start(0); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.baseURL = fmt.Sprintf("http://127.0.0.1:%d", h.server.Port())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.server.Stop(ctx)
		h.state.Close()
	})

	return h
}

func (h *testHarness) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	resp, err := http.Post(h.baseURL+path, "application/json", reader)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (h *testHarness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestToggleMicFastNeverWaits(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	var got toggleResponse
	decode(t, h.post(t, "/toggle-mic/fast", nil), &got)

	if got.Status != "ok" || got.Confirmed || got.Source != "local" || !got.Muted {
		t.Errorf("got %+v, want {ok false local true}", got)
	}
}

func TestToggleMicWithNoExtensionReturnsLocalImmediately(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	var got toggleResponse
	decode(t, h.post(t, "/toggle-mic", nil), &got)

	if got.Status != "ok" || got.Confirmed || got.Source != "local" {
		t.Errorf("got %+v, want status=ok confirmed=false source=local", got)
	}
}

func TestToggleMicTimesOutWhenAttachedButNoReport(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		resp := h.get(t, "/bridge/poll")
		resp.Body.Close()
	}()
	time.Sleep(10 * time.Millisecond) // let the poller park

	var got toggleResponse
	decode(t, h.post(t, "/toggle-mic", nil), &got)

	if got.Status != "timeout" || got.Confirmed || got.Source != "local" {
		t.Errorf("got %+v, want status=timeout confirmed=false source=local", got)
	}
	<-pollDone
}

func TestToggleMicConfirmedByExtensionReport(t *testing.T) {
	h := newHarness(t, time.Second)

	pollResult := make(chan string, 1)
	go func() {
		resp := h.get(t, "/bridge/poll")
		var body map[string]string
		decode(t, resp, &body)
		pollResult <- body["event"]
	}()
	time.Sleep(10 * time.Millisecond)

	toggleResult := make(chan toggleResponse, 1)
	go func() {
		var got toggleResponse
		decode(t, h.post(t, "/toggle-mic", nil), &got)
		toggleResult <- got
	}()
	time.Sleep(10 * time.Millisecond)

	reportResp := h.post(t, "/bridge/mic-state", map[string]bool{"muted": true})
	reportResp.Body.Close()

	select {
	case got := <-toggleResult:
		if got.Status != "ok" || !got.Confirmed || got.Source != "extension" || !got.Muted {
			t.Errorf("got %+v, want status=ok confirmed=true source=extension muted=true", got)
		}
	case <-time.After(time.Second):
		t.Fatal("toggle-mic did not resolve")
	}

	select {
	case event := <-pollResult:
		if event != "mute-mic" {
			t.Errorf("poll event = %q, want mute-mic", event)
		}
	case <-time.After(time.Second):
		t.Fatal("bridge/poll never delivered")
	}
}

func TestBridgeMicStateWithNoPendingStillUpdatesState(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	var got toggleResponse
	decode(t, h.post(t, "/bridge/mic-state", map[string]bool{"muted": true}), &got)

	if got.Status != "ok" || !got.Confirmed || !got.Muted {
		t.Errorf("got %+v, want status=ok confirmed=true muted=true", got)
	}

	snap := h.state.Snapshot()
	if !snap.MicMuted {
		t.Error("state was not updated by out-of-band report")
	}
}

func TestBridgeMicStateRejectsMissingField(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	resp := h.post(t, "/bridge/mic-state", map[string]string{})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestVolumeIncreaseClampsAtOne(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	_ = h.device.SetOutputVolume(0.95)

	var got volumeResponse
	decode(t, h.post(t, "/volume/increase", nil), &got)

	if got.Volume != 1.0 {
		t.Errorf("Volume = %v, want 1.0", got.Volume)
	}
}

func TestVolumeSetAbsolute(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	var got volumeResponse
	decode(t, h.post(t, "/volume/set", map[string]float64{"volume": 0.25}), &got)

	if got.Volume != 0.25 || got.Muted {
		t.Errorf("got %+v, want volume=0.25 muted=false", got)
	}
}

func TestVolumeToggleMuteSwingsBetweenZeroAndFull(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	_ = h.device.SetOutputVolume(0.6)
	h.state.ApplyOutputChange(0.6)

	var got volumeResponse
	decode(t, h.post(t, "/volume/toggle-mute", nil), &got)
	if got.Volume != 0 || !got.Muted {
		t.Fatalf("first toggle: got %+v, want muted at 0", got)
	}

	decode(t, h.post(t, "/volume/toggle-mute", nil), &got)
	if got.Volume != 1.0 || got.Muted {
		t.Fatalf("second toggle: got %+v, want unmuted at 1.0", got)
	}
}

func TestStatusReflectsDeviceAndState(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.state.ApplyOutputChange(0.4)

	var got statusResponse
	decode(t, h.get(t, "/status"), &got)

	if got.OutputVolume != 0.4 || got.MuteMode != "hardware" {
		t.Errorf("got %+v, want outputVolume=0.4 muteMode=hardware", got)
	}
}

func TestRestartRespondsThenSchedulesCallback(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	resp := h.post(t, "/restart", nil)
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "restarting" {
		t.Errorf("status = %q, want restarting", body["status"])
	}

	h.mu.Lock()
	before := h.restartHits
	h.mu.Unlock()
	if before != 0 {
		t.Error("restart callback fired before the response was written")
	}

	time.Sleep(700 * time.Millisecond)
	h.mu.Lock()
	after := h.restartHits
	h.mu.Unlock()
	if after != 1 {
		t.Errorf("restartHits = %d, want 1 after grace period", after)
	}
}

func TestCORSPreflightAllowsAllOrigins(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	req, _ := http.NewRequest(http.MethodOptions, h.baseURL+"/status", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
