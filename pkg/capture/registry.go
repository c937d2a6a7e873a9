package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/video-system/go-decklink-capture/pkg/decklink"
)

// Backend is the slice of the hardware layer the registry needs: fresh
// enumeration snapshots and input opening. The decklink context satisfies it
// through a thin adapter; tests substitute fakes.
type Backend interface {
	Devices() ([]decklink.DeviceInfo, error)
	OpenInput(deviceIndex int) (Source, error)
}

type contextBackend struct {
	ctx *decklink.Context
}

func (b contextBackend) Devices() ([]decklink.DeviceInfo, error) {
	return b.ctx.Devices()
}

func (b contextBackend) OpenInput(deviceIndex int) (Source, error) {
	in, err := b.ctx.OpenInput(deviceIndex)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// Registry owns the open devices and, through them, every running channel
// pipeline. Teardown ordering is its one real job: channels stop before their
// device releases the hardware, devices close before the registry does.
type Registry struct {
	backend Backend
	log     *slog.Logger

	mu      sync.Mutex
	devices map[int]*Device
}

// NewRegistry wraps an enumeration context. The registry does not take
// ownership of the context; the caller closes it after the registry.
func NewRegistry(ctx *decklink.Context, logger *slog.Logger) *Registry {
	return newRegistry(contextBackend{ctx}, logger)
}

func newRegistry(b Backend, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend: b,
		log:     logger,
		devices: make(map[int]*Device),
	}
}

// OpenDevice opens the capture card at the given enumeration index. Opening
// the same index twice returns the already-open device.
func (r *Registry) OpenDevice(index int) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[index]; ok {
		return d, nil
	}

	infos, err := r.backend.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	if index < 0 || index >= len(infos) {
		return nil, fmt.Errorf("open device %d: %w", index, decklink.ErrNoSuchDevice)
	}

	d := &Device{
		info:     infos[index],
		log:      r.log.With("device", infos[index].Name),
		channels: make(map[string]*Pipeline),
		open: func() (Source, error) {
			return r.backend.OpenInput(index)
		},
	}
	r.devices[index] = d
	r.log.Info("device opened", "index", index, "name", infos[index].Name,
		"ports", len(infos[index].InputPorts))
	return d, nil
}

// Devices returns a fresh enumeration snapshot.
func (r *Registry) Devices() ([]decklink.DeviceInfo, error) {
	return r.backend.Devices()
}

// Channel finds a running channel by id across all open devices.
func (r *Registry) Channel(id string) (*Pipeline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if p, ok := d.Channel(id); ok {
			return p, true
		}
	}
	return nil, false
}

// ListChannels returns the ids of every channel across all open devices.
func (r *Registry) ListChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, d := range r.devices {
		ids = append(ids, d.ChannelIDs()...)
	}
	return ids
}

// AllStatuses returns a status snapshot for every channel.
func (r *Registry) AllStatuses() map[string]ChannelStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make(map[string]ChannelStatus)
	for _, d := range r.devices {
		for id, p := range d.snapshot() {
			statuses[id] = p.Status()
		}
	}
	return statuses
}

// Close tears down every open device, channels first.
func (r *Registry) Close() {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[int]*Device)
	r.mu.Unlock()

	for _, d := range devices {
		d.Close()
	}
	r.log.Info("registry closed")
}

// Device is one open capture card hosting zero or more independent channel
// pipelines. Channels on the same device share nothing but the card; each
// runs its own buffer, tables, and tracker.
type Device struct {
	info decklink.DeviceInfo
	log  *slog.Logger
	open func() (Source, error)

	mu       sync.Mutex
	channels map[string]*Pipeline
	closed   bool
}

// Info returns the enumeration-time description of the card.
func (d *Device) Info() decklink.DeviceInfo {
	return d.info
}

// ChannelCapacity reports how many simultaneous channels the card claims to
// support. Advisory only: some firmware reports a placeholder here, so
// channel creation is refused by the hardware, not by this number.
func (d *Device) ChannelCapacity() int {
	return d.info.ChannelCapacity
}

// CreateChannel opens a hardware input on the card and builds a pipeline
// around it. The pipeline is created, not started.
func (d *Device) CreateChannel(cfg ChannelConfig) (*Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("create channel on %s: device closed", d.info.Name)
	}

	src, err := d.open()
	if err != nil {
		return nil, fmt.Errorf("create channel on %s: %w", d.info.Name, err)
	}

	p := NewPipeline(cfg, src, d.log)
	if _, dup := d.channels[p.ID()]; dup {
		if c, ok := src.(interface{ Close() }); ok {
			c.Close()
		}
		return nil, fmt.Errorf("create channel on %s: duplicate id %q", d.info.Name, p.ID())
	}
	d.channels[p.ID()] = p
	d.log.Info("channel created", "channel", p.ID(), "port", cfg.Port)
	return p, nil
}

// Channel returns a channel by id.
func (d *Device) Channel(id string) (*Pipeline, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.channels[id]
	return p, ok
}

// ChannelIDs returns the ids of the device's channels.
func (d *Device) ChannelIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.channels))
	for id := range d.channels {
		ids = append(ids, id)
	}
	return ids
}

func (d *Device) snapshot() map[string]*Pipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]*Pipeline, len(d.channels))
	for id, p := range d.channels {
		out[id] = p
	}
	return out
}

// DestroyChannel stops and removes one channel, releasing its hardware input.
func (d *Device) DestroyChannel(id string) {
	d.mu.Lock()
	p, ok := d.channels[id]
	delete(d.channels, id)
	d.mu.Unlock()
	if !ok {
		return
	}
	d.destroyPipeline(p)
}

// Close stops and destroys every channel, then marks the device unusable.
// Idempotent.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	channels := d.channels
	d.channels = make(map[string]*Pipeline)
	d.mu.Unlock()

	for _, p := range channels {
		d.destroyPipeline(p)
	}
	d.log.Info("device closed")
}

func (d *Device) destroyPipeline(p *Pipeline) {
	p.Close()
	// Release the hardware input after the pipeline has quiesced.
	if c, ok := p.source.(interface{ Close() }); ok {
		c.Close()
	}
}
