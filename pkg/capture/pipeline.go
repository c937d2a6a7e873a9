// Package capture orchestrates per-channel capture pipelines over a DeckLink
// card: each channel owns a triple buffer, a signal tracker, and a set of
// conversion tables, and is driven by exactly one hardware producer thread
// and one polling consumer.
package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/video-system/go-decklink-capture/pkg/decklink"
	"github.com/video-system/go-decklink-capture/pkg/frame"
	"github.com/video-system/go-decklink-capture/pkg/signal"
)

// Capture mode presets: how long a read may wait for the front slot.
const (
	ModeLowLatency   = 75 * time.Millisecond  // latency-critical consumers
	ModeNoFrameDrops = 500 * time.Millisecond // frame-critical consumers
)

// State is the pipeline lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateCapturing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Source is the hardware capture backend bound to a channel. Start begins
// delivering frames to the callback from the backend's own thread; Stop must
// guarantee no callback is in flight once it returns. decklink.Input is the
// production implementation.
type Source interface {
	Start(req decklink.ModeRequest, cb decklink.FrameCallback) error
	Stop() error
}

// Pipeline is one capture channel: a triple buffer between the hardware
// frame callback and the polling consumer, plus signal-quality tracking.
type Pipeline struct {
	id     string
	cfg    ChannelConfig
	source Source
	log    *slog.Logger

	buf     *frame.TripleBuffer
	tables  *frame.Tables
	tracker *signal.Tracker

	mu    sync.Mutex // guards lifecycle transitions
	state atomic.Int32

	budget atomic.Int64 // slot read lock-wait budget, nanoseconds
	width  atomic.Int64 // most recently ingested dimensions
	height atomic.Int64
}

// NewPipeline creates a channel pipeline in the created state. src may be
// nil when frames are pushed through Ingest directly. No hardware resources
// are bound until Start.
func NewPipeline(cfg ChannelConfig, src Source, logger *slog.Logger) *Pipeline {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		id:      cfg.ID,
		cfg:     cfg,
		source:  src,
		log:     logger.With("channel", cfg.ID),
		buf:     frame.NewTripleBuffer(),
		tables:  frame.NewTables(),
		tracker: signal.NewTracker(),
	}
	p.state.Store(int32(StateCreated))
	p.budget.Store(int64(cfg.Budget()))
	p.width.Store(int64(cfg.Width))
	p.height.Store(int64(cfg.Height))
	if cfg.Signal.MinFrames > 0 || cfg.Signal.MaxLostFrames > 0 {
		p.tracker.SetParameters(cfg.Signal.MinFrames, cfg.Signal.MaxLostFrames)
	}
	return p
}

// ID returns the channel identifier.
func (p *Pipeline) ID() string {
	return p.id
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Start binds the hardware backend and begins capturing. If the pipeline is
// already capturing it stops first, so a restart is a single call. A backend
// failure is a hard error and leaves the pipeline out of the capturing state
// with nothing half-bound.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == StateCapturing {
		p.stopLocked()
	}

	if p.source != nil {
		num, den := p.cfg.FramerateRational()
		req := decklink.ModeRequest{
			Width:     p.cfg.Width,
			Height:    p.cfg.Height,
			FPSNum:    num,
			FPSDen:    den,
			PortIndex: p.cfg.Port,
		}
		if err := p.source.Start(req, p.Ingest); err != nil {
			return fmt.Errorf("start channel %s: %w", p.id, err)
		}
	}

	p.state.Store(int32(StateCapturing))
	p.log.Info("capture started",
		"width", p.cfg.Width, "height", p.cfg.Height,
		"framerate", p.cfg.Framerate, "budget", p.Budget())
	return nil
}

// Stop halts capture and releases the hardware binding. No-op when the
// pipeline is not capturing.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// stopLocked marks the pipeline stopped before stopping the backend, so the
// callback quiesces while every slot lock is still valid for in-flight reads.
func (p *Pipeline) stopLocked() {
	if p.State() != StateCapturing {
		return
	}
	p.state.Store(int32(StateStopped))
	if p.source != nil {
		if err := p.source.Stop(); err != nil {
			p.log.Warn("backend stop failed", "error", err)
		}
	}
	p.log.Info("capture stopped", "frames", p.tracker.FrameCount())
}

// Close stops the pipeline if it is capturing and releases owned resources.
// Safe to call from any state, any number of times.
func (p *Pipeline) Close() {
	p.Stop()
	p.log.Debug("pipeline destroyed")
}

// Ingest is the producer path, invoked once per physical frame by the
// hardware backend. data is copied before return, so callers may hand in
// memory they immediately reuse. Never blocks beyond the O(1) role swap.
func (p *Pipeline) Ingest(data []byte, width, height int, valid bool) {
	// A payload too short for its claimed dimensions, or an odd pixel count
	// that 4:2:2 packing cannot represent, is demoted to an invalid frame:
	// publishing it would let a later conversion run past the raw buffer.
	pixels := width * height
	if len(data) > 0 && (pixels <= 0 || pixels%2 != 0 || len(data) < pixels*2) {
		p.log.Warn("malformed frame dropped",
			"bytes", len(data), "width", width, "height", height)
		data = nil
		valid = false
	} else if width > 0 && height > 0 {
		p.width.Store(int64(width))
		p.height.Store(int64(height))
	}

	wasLocked := p.tracker.Locked()
	p.tracker.Observe(valid)
	if locked := p.tracker.Locked(); locked != wasLocked {
		if locked {
			p.log.Info("signal locked", "frames", p.tracker.FrameCount())
		} else {
			p.log.Warn("signal lost", "frames", p.tracker.FrameCount())
		}
	}

	if len(data) == 0 {
		return
	}

	p.buf.Publish(data, width, height)

	// During the first few frames, prime the remaining roles so the very
	// first consumer read already sees a frame.
	if p.tracker.FrameCount() <= uint64(p.tracker.MinFramesForLock()) {
		p.buf.Publish(data, width, height)
		p.buf.Advance()
	}
}

// Update rotates the newest fully-published frame into view. Returns whether
// a new frame became visible; false before capture starts or before the
// first frame arrives.
func (p *Pipeline) Update() bool {
	if p.State() != StateCapturing {
		return false
	}
	count := p.tracker.FrameCount()
	if count == 0 {
		return false
	}
	// The priming window already made a frame visible.
	if count <= uint64(p.tracker.MinFramesForLock()) {
		return true
	}
	return p.buf.Advance()
}

// Read copies the front frame into dst in the requested format, deriving it
// from the raw data if the cached plane is stale. Returns false on lock
// timeout, undersized dst, or no data yet; info (optional) receives the
// buffered frame dimensions either way.
func (p *Pipeline) Read(f frame.Format, dst []byte, info *frame.Info) bool {
	if p.State() != StateCapturing {
		return false
	}
	return p.buf.Read(f, dst, info, p.Budget(), p.tables)
}

// RequiredSize returns the destination size in bytes for the format at the
// current channel dimensions. Tracks dimension changes immediately, even
// while older slots still hold their previous size.
func (p *Pipeline) RequiredSize(f frame.Format) int {
	return frame.RequiredSize(f, int(p.width.Load()), int(p.height.Load()))
}

// Budget returns the active slot-read lock-wait budget.
func (p *Pipeline) Budget() time.Duration {
	return time.Duration(p.budget.Load())
}

// SetBudget overrides the lock-wait budget with an arbitrary positive value.
func (p *Pipeline) SetBudget(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	p.budget.Store(int64(d))
	return true
}

// HasValidSignal reports whether the channel is locked onto a stable signal.
func (p *Pipeline) HasValidSignal() bool {
	if p.State() != StateCapturing {
		return false
	}
	return p.tracker.HasValidSignal()
}

// HasStableFrameRate reports whether frames are arriving at a steady cadence.
func (p *Pipeline) HasStableFrameRate() bool {
	if p.State() != StateCapturing {
		return false
	}
	return p.tracker.HasStableFrameRate()
}

// FrameCount returns the number of frames received since construction.
func (p *Pipeline) FrameCount() uint64 {
	return p.tracker.FrameCount()
}

// SetSignalParameters updates the hysteresis thresholds. Both values must be
// at least 1; otherwise the change is rejected and nothing is modified.
func (p *Pipeline) SetSignalParameters(minFrames, maxBadFrames int) bool {
	return p.tracker.SetParameters(minFrames, maxBadFrames)
}

// ChannelStatus is a point-in-time snapshot of one channel, served by the
// control API.
type ChannelStatus struct {
	ID              string  `json:"id"`
	State           string  `json:"state"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Framerate       float64 `json:"framerate"`
	FrameCount      uint64  `json:"frame_count"`
	SignalLocked    bool    `json:"signal_locked"`
	StableFrameRate bool    `json:"stable_frame_rate"`
	BudgetMS        int64   `json:"budget_ms"`
}

// Status returns a snapshot of the channel.
func (p *Pipeline) Status() ChannelStatus {
	return ChannelStatus{
		ID:              p.id,
		State:           p.State().String(),
		Width:           int(p.width.Load()),
		Height:          int(p.height.Load()),
		Framerate:       p.cfg.Framerate,
		FrameCount:      p.FrameCount(),
		SignalLocked:    p.HasValidSignal(),
		StableFrameRate: p.HasStableFrameRate(),
		BudgetMS:        p.Budget().Milliseconds(),
	}
}
