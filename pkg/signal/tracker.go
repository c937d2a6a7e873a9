// Package signal turns the hardware's noisy per-frame valid/invalid flags
// into a debounced signal-present decision, plus a frame-arrival cadence
// watchdog.
package signal

import (
	"sync/atomic"
	"time"
)

const (
	// DefaultMinFramesForLock is how many consecutive valid frames are
	// needed before the signal is considered locked.
	DefaultMinFramesForLock = 3
	// DefaultMaxLostFrames is how many consecutive invalid frames are
	// tolerated before lock is dropped.
	DefaultMaxLostFrames = 5

	// watchdog thresholds: at least this many frames observed, and the
	// latest one no older than this, for the cadence to count as stable.
	minFramesForCadence = 10
	maxFrameGap         = 500 * time.Millisecond
)

// Tracker is the per-channel signal-lock state machine. Observe is called
// only from the producer path; every read-side accessor is an atomic load,
// so the consumer may poll at any time and tolerate one frame of staleness.
type Tracker struct {
	stableCount atomic.Int64 // consecutive valid frames
	lostCount   atomic.Int64 // consecutive invalid frames
	locked      atomic.Bool
	frameCount  atomic.Uint64
	lastFrame   atomic.Int64 // unix nanos of the last arrival

	minFramesForLock atomic.Int64
	maxLostFrames    atomic.Int64
}

func NewTracker() *Tracker {
	t := &Tracker{}
	t.minFramesForLock.Store(DefaultMinFramesForLock)
	t.maxLostFrames.Store(DefaultMaxLostFrames)
	return t
}

// Observe records one frame arrival. Producer-only.
func (t *Tracker) Observe(valid bool) {
	t.lastFrame.Store(time.Now().UnixNano())
	t.frameCount.Add(1)

	if valid {
		stable := t.stableCount.Add(1)
		t.lostCount.Store(0)
		if stable >= t.minFramesForLock.Load() {
			t.locked.Store(true)
		}
	} else {
		lost := t.lostCount.Add(1)
		t.stableCount.Store(0)
		if lost >= t.maxLostFrames.Load() {
			t.locked.Store(false)
		}
	}
}

// HasValidSignal reports whether the channel is locked onto a stable signal.
// Requires both the lock flag and a full run of recent valid frames.
func (t *Tracker) HasValidSignal() bool {
	return t.locked.Load() && t.stableCount.Load() >= t.minFramesForLock.Load()
}

// HasStableFrameRate reports whether frames are arriving at a steady cadence.
// Independent of signal lock; only measures arrival regularity.
func (t *Tracker) HasStableFrameRate() bool {
	if t.frameCount.Load() < minFramesForCadence {
		return false
	}
	last := time.Unix(0, t.lastFrame.Load())
	return time.Since(last) < maxFrameGap
}

// FrameCount returns total frames observed since construction.
func (t *Tracker) FrameCount() uint64 {
	return t.frameCount.Load()
}

// Locked reports the raw lock flag without the stable-count double check.
func (t *Tracker) Locked() bool {
	return t.locked.Load()
}

// SetParameters updates the hysteresis thresholds. Both must be >= 1 or the
// change is rejected and the previous thresholds stay in effect.
func (t *Tracker) SetParameters(minFrames, maxBadFrames int) bool {
	if minFrames < 1 || maxBadFrames < 1 {
		return false
	}
	t.minFramesForLock.Store(int64(minFrames))
	t.maxLostFrames.Store(int64(maxBadFrames))
	return true
}

// MinFramesForLock returns the current lock threshold.
func (t *Tracker) MinFramesForLock() int {
	return int(t.minFramesForLock.Load())
}

// MaxLostFrames returns the current loss threshold.
func (t *Tracker) MaxLostFrames() int {
	return int(t.maxLostFrames.Load())
}
