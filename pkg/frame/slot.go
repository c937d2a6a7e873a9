package frame

import "time"

// Slot buffers one raw frame plus lazily derived RGB and gray planes. The
// derived planes are valid only while their flag is set; every raw write
// clears both flags under the slot lock, so a derived buffer can never
// outlive the raw data it was computed from.
//
// The lock is a channel semaphore so acquisition can be bounded by the
// pipeline's latency budget. Slots are allocated once per buffer and reused;
// only the byte slices grow when dimensions change.
type Slot struct {
	sem chan struct{}

	yuv       []byte
	rgb       []byte
	gray      []byte
	rgbValid  bool
	grayValid bool
	width     int
	height    int
}

func newSlot() *Slot {
	return &Slot{sem: make(chan struct{}, 1)}
}

func (s *Slot) lock() {
	s.sem <- struct{}{}
}

// lockTimeout acquires the slot lock, giving up after d. A false return is
// the expected "no frame ready in time" outcome, not a fault.
func (s *Slot) lockTimeout(d time.Duration) bool {
	if d <= 0 {
		select {
		case s.sem <- struct{}{}:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Slot) unlock() {
	<-s.sem
}

// store installs raw 4:2:2 data, replacing the previous contents. Clearing
// the derived flags happens under the same lock as the raw write, which is
// what keeps the "derived implies current" invariant.
func (s *Slot) store(yuv []byte, width, height int) {
	s.lock()
	defer s.unlock()

	s.yuv = append(s.yuv[:0], yuv...)
	s.width = width
	s.height = height
	s.rgbValid = false
	s.grayValid = false
}

// Read locks the slot for at most budget, derives the requested format if its
// cache is stale, and copies it into dst. Returns false on lock timeout, raw
// data that is empty or short of its claimed dimensions, or an undersized dst
// (dst is left untouched in that case). info,
// when non-nil, receives the buffered dimensions even on a failed read.
func (s *Slot) Read(f Format, dst []byte, info *Info, budget time.Duration, tables *Tables) bool {
	if !s.lockTimeout(budget) {
		return false
	}
	defer s.unlock()

	if info != nil {
		info.Width = s.width
		info.Height = s.height
		info.Channels = f.Channels()
	}

	if len(s.yuv) == 0 {
		return false
	}

	pixels := s.width * s.height
	// The conversions index the raw buffer by pixel count; a payload that
	// does not cover its claimed dimensions is unreadable.
	if pixels <= 0 || pixels%2 != 0 || len(s.yuv) < pixels*2 {
		return false
	}

	var src []byte
	switch f {
	case FormatRGB:
		if !s.rgbValid {
			if cap(s.rgb) < pixels*3 {
				s.rgb = make([]byte, pixels*3)
			}
			s.rgb = s.rgb[:pixels*3]
			tables.yuvToRGB(s.yuv, s.rgb, pixels)
			s.rgbValid = true
		}
		src = s.rgb
	case FormatYUV:
		src = s.yuv
	case FormatGray:
		if !s.grayValid {
			if cap(s.gray) < pixels {
				s.gray = make([]byte, pixels)
			}
			s.gray = s.gray[:pixels]
			yuvToGray(s.yuv, s.gray, pixels)
			s.grayValid = true
		}
		src = s.gray
	default:
		return false
	}

	if len(dst) < len(src) {
		return false
	}
	copy(dst, src)
	return true
}
