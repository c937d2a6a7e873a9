// Package decklink binds the DeckLink capture shim at runtime. The shim is a
// small C library wrapping the vendor DeckLink SDK; this package loads it
// with purego, so the module stays pure Go and degrades to a clean error on
// machines without the hardware stack installed.
package decklink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Typed failures surfaced from the shim. Start-time failures are hard errors
// per the capture contract; callers match with errors.Is.
var (
	ErrNotAvailable   = errors.New("decklink: capture shim library not found")
	ErrNoSuchDevice   = errors.New("decklink: no such device")
	ErrNoMatchingMode = errors.New("decklink: no matching display mode")
	ErrDeviceBusy     = errors.New("decklink: device busy or in use by another application")
	ErrHardware       = errors.New("decklink: hardware error")
)

// Shim result codes, mirrored from decklink_shim.h.
const (
	rcOK       = 0
	rcNoDevice = 1
	rcNoMode   = 2
	rcBusy     = 3
	rcHardware = 4
)

var (
	loadOnce sync.Once
	loadErr  error

	shimContextCreate   func() uint64
	shimContextFree     func(ctx uint64)
	shimDeviceCount     func(ctx uint64) int32
	shimDeviceName      func(ctx uint64, device int32) uintptr
	shimPortCount       func(ctx uint64, device int32) int32
	shimPortName        func(ctx uint64, device, port int32) uintptr
	shimChannelCount    func(ctx uint64, device int32) int32
	shimInputOpen       func(ctx uint64, device int32) uint64
	shimInputSelectPort func(input uint64, port int32) int32
	shimInputStart      func(input uint64, width, height, fpsNum, fpsDen int32, callback, user uintptr) int32
	shimInputStop       func(input uint64) int32
	shimInputClose      func(input uint64)
	shimFreeString      func(ptr uintptr)
)

const shimEnv = "DECKLINK_SHIM_PATH"

func shimName() string {
	if runtime.GOOS == "darwin" {
		return "libdecklink_shim.dylib"
	}
	return "libdecklink_shim.so"
}

// findLibrary searches for the shim in common locations.
func findLibrary(libName string) string {
	searchPaths := []string{
		os.Getenv(shimEnv),
	}
	if exe, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Dir(exe))
	}
	searchPaths = append(searchPaths,
		"/usr/local/lib",
		"/usr/lib",
	)

	for _, p := range searchPaths {
		if p == "" {
			continue
		}
		candidate := filepath.Join(p, libName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func load() error {
	loadOnce.Do(func() {
		libPath := findLibrary(shimName())
		if libPath == "" {
			loadErr = fmt.Errorf("%w (set %s)", ErrNotAvailable, shimEnv)
			return
		}

		handle, err := purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			loadErr = fmt.Errorf("decklink: load %s: %w", libPath, err)
			return
		}

		purego.RegisterLibFunc(&shimContextCreate, handle, "decklink_context_create")
		purego.RegisterLibFunc(&shimContextFree, handle, "decklink_context_free")
		purego.RegisterLibFunc(&shimDeviceCount, handle, "decklink_device_count")
		purego.RegisterLibFunc(&shimDeviceName, handle, "decklink_device_name")
		purego.RegisterLibFunc(&shimPortCount, handle, "decklink_input_port_count")
		purego.RegisterLibFunc(&shimPortName, handle, "decklink_input_port_name")
		purego.RegisterLibFunc(&shimChannelCount, handle, "decklink_device_channel_count")
		purego.RegisterLibFunc(&shimInputOpen, handle, "decklink_input_open")
		purego.RegisterLibFunc(&shimInputSelectPort, handle, "decklink_input_select_port")
		purego.RegisterLibFunc(&shimInputStart, handle, "decklink_input_start")
		purego.RegisterLibFunc(&shimInputStop, handle, "decklink_input_stop")
		purego.RegisterLibFunc(&shimInputClose, handle, "decklink_input_close")
		purego.RegisterLibFunc(&shimFreeString, handle, "decklink_free_string")
	})
	return loadErr
}

// IsAvailable reports whether the shim could be loaded.
func IsAvailable() bool {
	return load() == nil
}

func goString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	defer shimFreeString(ptr)
	var n int
	for *(*byte)(unsafe.Pointer(ptr + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}

func rcErr(rc int32) error {
	switch rc {
	case rcOK:
		return nil
	case rcNoDevice:
		return ErrNoSuchDevice
	case rcNoMode:
		return ErrNoMatchingMode
	case rcBusy:
		return ErrDeviceBusy
	default:
		return ErrHardware
	}
}

// DeviceInfo describes one physical capture card at enumeration time.
type DeviceInfo struct {
	Index           int
	Name            string
	InputPorts      []string
	ChannelCapacity int // advisory; some cards report a placeholder
}

// Context owns the shim-side enumeration handle. Create one per process; the
// device list returned by Devices is a fresh immutable snapshot per call, so
// no iterator state is shared between queries.
type Context struct {
	mu     sync.Mutex
	handle uint64
}

// NewContext loads the shim and creates an enumeration context.
func NewContext() (*Context, error) {
	if err := load(); err != nil {
		return nil, err
	}
	h := shimContextCreate()
	if h == 0 {
		return nil, fmt.Errorf("decklink: create context: %w", ErrHardware)
	}
	return &Context{handle: h}, nil
}

// Devices enumerates the installed capture cards. Each call rescans the
// hardware and returns an independent snapshot.
func (c *Context) Devices() ([]DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == 0 {
		return nil, ErrHardware
	}

	count := int(shimDeviceCount(c.handle))
	devices := make([]DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		info := DeviceInfo{
			Index:           i,
			Name:            goString(shimDeviceName(c.handle, int32(i))),
			ChannelCapacity: 1,
		}
		if n := shimChannelCount(c.handle, int32(i)); n > 0 {
			info.ChannelCapacity = int(n)
		}
		ports := int(shimPortCount(c.handle, int32(i)))
		for p := 0; p < ports; p++ {
			info.InputPorts = append(info.InputPorts, goString(shimPortName(c.handle, int32(i), int32(p))))
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// Close releases the enumeration handle. Idempotent.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != 0 {
		shimContextFree(c.handle)
		c.handle = 0
	}
}
