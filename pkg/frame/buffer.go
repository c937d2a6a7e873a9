package frame

import (
	"sync"
	"time"
)

// TripleBuffer rotates three fixed slots between back/middle/front roles.
// The producer only ever writes the back slot; the consumer only ever reads
// the front slot. Role reassignment is an index swap, never a data copy, and
// the role mutex is held only for those swaps, so producer-side blocking is
// O(1) regardless of frame size.
type TripleBuffer struct {
	slots [3]*Slot

	mu     sync.Mutex
	back   int
	middle int
	front  int
	fresh  bool // a publish completed since the last advance
}

func NewTripleBuffer() *TripleBuffer {
	return &TripleBuffer{
		slots:  [3]*Slot{newSlot(), newSlot(), newSlot()},
		back:   0,
		middle: 1,
		front:  2,
	}
}

// Publish installs a raw frame into the back slot and promotes it to middle.
// Producer-only. The slot write happens outside the role mutex; the slot's
// own lock covers the rare case where a just-demoted front slot is still
// being read while it cycles back to the producer.
func (t *TripleBuffer) Publish(yuv []byte, width, height int) {
	t.mu.Lock()
	slot := t.slots[t.back]
	t.mu.Unlock()

	slot.store(yuv, width, height)

	t.mu.Lock()
	t.back, t.middle = t.middle, t.back
	t.fresh = true
	t.mu.Unlock()
}

// Advance swaps middle and front, making the most recently completed frame
// visible to the consumer. Consumer-only. Returns whether a logically new
// frame became visible; when nothing was published since the last advance the
// roles are left alone.
func (t *TripleBuffer) Advance() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.fresh {
		return false
	}
	t.middle, t.front = t.front, t.middle
	t.fresh = false
	return true
}

// Front returns the slot currently playing the front role. It does not lock
// the slot; callers go through Slot.Read for that.
func (t *TripleBuffer) Front() *Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[t.front]
}

// Read locks the front slot within budget and copies the requested format
// into dst. See Slot.Read for the failure modes.
func (t *TripleBuffer) Read(f Format, dst []byte, info *Info, budget time.Duration, tables *Tables) bool {
	return t.Front().Read(f, dst, info, budget, tables)
}
