package decklink

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// ModeRequest asks the hardware for a display mode. Framerate is expressed as
// a rational so NTSC rates survive intact (30000/1001 and so on); the shim
// applies the vendor's matching rules, including the 24/23.98, 30/29.97 and
// 60/59.94 equivalences.
type ModeRequest struct {
	Width     int
	Height    int
	FPSNum    int
	FPSDen    int
	PortIndex int
}

// FrameCallback delivers one raw 4:2:2 frame from the capture thread. valid
// is false when the card flags the frame as having no input source. The data
// slice aliases shim memory and must not be retained past the call.
type FrameCallback func(data []byte, width, height int, valid bool)

// frame flag bits from the shim, matching the vendor SDK.
const flagNoInputSource = 1 << 0

// Callbacks arrive on a shim-owned thread with only a user token; this table
// maps tokens back to inputs. purego.NewCallback allocations are permanent,
// so one trampoline is shared by every input.
var (
	cbMu     sync.Mutex
	cbNext   uintptr = 1
	cbInputs         = map[uintptr]*Input{}

	trampolineOnce sync.Once
	trampoline     uintptr
)

func frameTrampoline(data uintptr, size, width, height, flags int32, user uintptr) uintptr {
	cbMu.Lock()
	in := cbInputs[user]
	cbMu.Unlock()
	if in == nil {
		return 0
	}

	var buf []byte
	if data != 0 && size > 0 {
		buf = unsafe.Slice((*byte)(unsafe.Pointer(data)), int(size))
	}
	in.onFrame(buf, int(width), int(height), flags&flagNoInputSource == 0)
	return 0
}

// Input is one opened capture input on a card. It serializes its own
// lifecycle; the frame callback runs on the shim's capture thread.
type Input struct {
	mu       sync.Mutex
	handle   uint64
	token    uintptr
	callback FrameCallback
	running  bool
	device   int
}

// OpenInput opens a capture input on the device at the given enumeration
// index.
func (c *Context) OpenInput(deviceIndex int) (*Input, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == 0 {
		return nil, ErrHardware
	}

	h := shimInputOpen(c.handle, int32(deviceIndex))
	if h == 0 {
		return nil, fmt.Errorf("decklink: open input on device %d: %w", deviceIndex, ErrNoSuchDevice)
	}
	return &Input{handle: h, device: deviceIndex}, nil
}

func (in *Input) onFrame(data []byte, width, height int, valid bool) {
	in.mu.Lock()
	cb := in.callback
	running := in.running
	in.mu.Unlock()
	if running && cb != nil {
		cb(data, width, height, valid)
	}
}

// Start selects the requested port, negotiates a display mode, and begins
// streaming frames into cb. A failed start leaves the input stopped with no
// half-initialized hardware binding.
func (in *Input) Start(req ModeRequest, cb FrameCallback) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.handle == 0 {
		return ErrHardware
	}
	if in.running {
		return fmt.Errorf("decklink: input on device %d already started: %w", in.device, ErrDeviceBusy)
	}

	if rc := shimInputSelectPort(in.handle, int32(req.PortIndex)); rc != rcOK {
		return fmt.Errorf("decklink: select port %d: %w", req.PortIndex, rcErr(rc))
	}

	trampolineOnce.Do(func() {
		trampoline = purego.NewCallback(frameTrampoline)
	})

	cbMu.Lock()
	token := cbNext
	cbNext++
	cbInputs[token] = in
	cbMu.Unlock()

	fpsNum, fpsDen := req.FPSNum, req.FPSDen
	if fpsDen == 0 {
		fpsDen = 1
	}

	rc := shimInputStart(in.handle, int32(req.Width), int32(req.Height),
		int32(fpsNum), int32(fpsDen), trampoline, token)
	if rc != rcOK {
		cbMu.Lock()
		delete(cbInputs, token)
		cbMu.Unlock()
		return fmt.Errorf("decklink: start %dx%d@%d/%d: %w",
			req.Width, req.Height, fpsNum, fpsDen, rcErr(rc))
	}

	in.token = token
	in.callback = cb
	in.running = true
	return nil
}

// Stop halts streaming. Best-effort and idempotent; the shim guarantees no
// callback is in flight once it returns.
func (in *Input) Stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.running {
		return nil
	}
	in.running = false
	in.callback = nil

	rc := shimInputStop(in.handle)

	cbMu.Lock()
	delete(cbInputs, in.token)
	cbMu.Unlock()
	in.token = 0

	if rc != rcOK {
		return fmt.Errorf("decklink: stop input on device %d: %w", in.device, rcErr(rc))
	}
	return nil
}

// Close stops the input if needed and releases the hardware binding.
func (in *Input) Close() {
	_ = in.Stop()
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.handle != 0 {
		shimInputClose(in.handle)
		in.handle = 0
	}
}
