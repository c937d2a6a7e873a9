package capture

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/video-system/go-decklink-capture/pkg/decklink"
	"github.com/video-system/go-decklink-capture/pkg/frame"
)

// fakeSource stands in for a decklink input in tests. It records lifecycle
// calls and lets tests drive the frame callback directly.
type fakeSource struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	closes   int
	req      decklink.ModeRequest
	cb       decklink.FrameCallback
}

func (f *fakeSource) Start(req decklink.ModeRequest, cb decklink.FrameCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.req = req
	f.cb = cb
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.cb = nil
	return nil
}

func (f *fakeSource) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func testChannelConfig() ChannelConfig {
	return ChannelConfig{
		ID:        "ch-test",
		Width:     2,
		Height:    2,
		Framerate: 30,
		Mode:      "low_latency",
	}
}

// testFrame is a 2x2 4:2:2 frame: two pixel pairs.
var testFrame = []byte{128, 10, 128, 20, 128, 30, 128, 40}

func TestPipelineLifecycle(t *testing.T) {
	src := &fakeSource{}
	p := NewPipeline(testChannelConfig(), src, nil)

	if p.State() != StateCreated {
		t.Fatalf("initial state = %v, want created", p.State())
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.State() != StateCapturing {
		t.Fatalf("state after start = %v", p.State())
	}
	if src.starts != 1 {
		t.Errorf("backend starts = %d, want 1", src.starts)
	}

	// Restart while capturing stops first.
	if err := p.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if src.stops != 1 || src.starts != 2 {
		t.Errorf("after restart: starts=%d stops=%d, want 2/1", src.starts, src.stops)
	}

	p.Stop()
	if p.State() != StateStopped {
		t.Fatalf("state after stop = %v", p.State())
	}
	// Stopping a stopped pipeline is a no-op.
	p.Stop()
	if src.stops != 2 {
		t.Errorf("stops = %d, want 2", src.stops)
	}
}

func TestPipelineStartFailure(t *testing.T) {
	src := &fakeSource{startErr: decklink.ErrNoMatchingMode}
	p := NewPipeline(testChannelConfig(), src, nil)

	err := p.Start()
	if err == nil {
		t.Fatal("Start succeeded despite backend failure")
	}
	if !errors.Is(err, decklink.ErrNoMatchingMode) {
		t.Errorf("error = %v, want ErrNoMatchingMode", err)
	}
	if p.State() == StateCapturing {
		t.Error("pipeline capturing after failed start")
	}
}

func TestPipelineModeRequest(t *testing.T) {
	src := &fakeSource{}
	cfg := testChannelConfig()
	cfg.Framerate = 29.97
	cfg.Port = 1
	p := NewPipeline(cfg, src, nil)

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if src.req.FPSNum != 30000 || src.req.FPSDen != 1001 {
		t.Errorf("framerate = %d/%d, want 30000/1001", src.req.FPSNum, src.req.FPSDen)
	}
	if src.req.PortIndex != 1 {
		t.Errorf("port = %d, want 1", src.req.PortIndex)
	}
}

func TestPipelineUpdateBeforeFrames(t *testing.T) {
	p := NewPipeline(testChannelConfig(), nil, nil)

	if p.Update() {
		t.Error("Update true before Start")
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.Update() {
		t.Error("Update true before any frame arrived")
	}
}

func TestPipelineIngestAndRead(t *testing.T) {
	p := NewPipeline(testChannelConfig(), nil, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.Ingest(testFrame, 2, 2, true)

	// Priming makes the very first frame visible without waiting for a
	// full rotation.
	if !p.Update() {
		t.Fatal("Update false right after the first frame")
	}

	dst := make([]byte, p.RequiredSize(frame.FormatYUV))
	var info frame.Info
	if !p.Read(frame.FormatYUV, dst, &info) {
		t.Fatal("Read failed after priming")
	}
	if info.Width != 2 || info.Height != 2 {
		t.Errorf("info = %+v, want 2x2", info)
	}

	gray := make([]byte, p.RequiredSize(frame.FormatGray))
	if !p.Read(frame.FormatGray, gray, nil) {
		t.Fatal("gray read failed")
	}
	want := []byte{10, 20, 30, 40}
	for i := range want {
		if gray[i] != want[i] {
			t.Fatalf("gray = %v, want %v", gray, want)
		}
	}
}

func TestPipelineUpdateAfterPrimingWindow(t *testing.T) {
	p := NewPipeline(testChannelConfig(), nil, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Push past the priming window.
	for i := 0; i < 6; i++ {
		p.Ingest(testFrame, 2, 2, true)
	}

	if !p.Update() {
		t.Fatal("Update false with fresh frames pending")
	}
	if p.Update() {
		t.Error("Update true with no new frame since last rotation")
	}

	p.Ingest(testFrame, 2, 2, true)
	if !p.Update() {
		t.Error("Update false after a new frame arrived")
	}
}

func TestPipelineMalformedIngest(t *testing.T) {
	p := NewPipeline(testChannelConfig(), nil, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Half the bytes a 2x2 frame needs, flagged valid by the backend.
	short := []byte{10, 20, 30, 40}
	for i := 0; i < 3; i++ {
		p.Ingest(short, 2, 2, true)
	}

	dst := make([]byte, p.RequiredSize(frame.FormatGray))
	if p.Read(frame.FormatGray, dst, nil) {
		t.Error("read served a frame built from a short payload")
	}
	// Short payloads count as invalid frames, never toward signal lock.
	if p.HasValidSignal() {
		t.Error("signal locked on malformed frames")
	}

	// An odd pixel count is rejected the same way.
	p.Ingest(make([]byte, 3*1*2), 3, 1, true)
	if p.Read(frame.FormatGray, dst, nil) {
		t.Error("read served a frame with an odd pixel count")
	}

	// A well-formed frame afterwards flows through normally.
	p.Ingest(testFrame, 2, 2, true)
	if !p.Update() {
		t.Fatal("Update false after a well-formed frame")
	}
	if !p.Read(frame.FormatGray, dst, nil) {
		t.Fatal("read failed after a well-formed frame")
	}
}

func TestPipelineReadWhenNotCapturing(t *testing.T) {
	p := NewPipeline(testChannelConfig(), nil, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Ingest(testFrame, 2, 2, true)
	p.Update()
	p.Stop()

	dst := make([]byte, p.RequiredSize(frame.FormatYUV))
	if p.Read(frame.FormatYUV, dst, nil) {
		t.Error("Read succeeded on a stopped pipeline")
	}
	if p.HasValidSignal() {
		t.Error("HasValidSignal true on a stopped pipeline")
	}
	if p.HasStableFrameRate() {
		t.Error("HasStableFrameRate true on a stopped pipeline")
	}
}

func TestPipelineSignalScenario(t *testing.T) {
	p := NewPipeline(testChannelConfig(), nil, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 3; i++ {
		p.Ingest(testFrame, 2, 2, true)
	}
	if !p.HasValidSignal() {
		t.Fatal("no signal lock after 3 valid frames")
	}

	for i := 0; i < 5; i++ {
		p.Ingest(testFrame, 2, 2, false)
	}
	if p.HasValidSignal() {
		t.Fatal("signal still locked after 5 invalid frames")
	}
}

func TestPipelineSetSignalParameters(t *testing.T) {
	p := NewPipeline(testChannelConfig(), nil, nil)
	if p.SetSignalParameters(0, 5) {
		t.Error("accepted min_frames=0")
	}
	if !p.SetSignalParameters(2, 4) {
		t.Error("rejected valid thresholds")
	}
}

func TestPipelineDimensionChange(t *testing.T) {
	p := NewPipeline(testChannelConfig(), nil, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := p.RequiredSize(frame.FormatRGB); got != 2*2*3 {
		t.Fatalf("initial RequiredSize = %d", got)
	}

	// New dimensions take effect for size queries immediately.
	bigFrame := make([]byte, 4*2*2)
	p.Ingest(bigFrame, 4, 2, true)
	if got := p.RequiredSize(frame.FormatRGB); got != 4*2*3 {
		t.Errorf("RequiredSize after resize = %d, want %d", got, 4*2*3)
	}
}

func TestPipelineCustomBudget(t *testing.T) {
	cfg := testChannelConfig()
	cfg.BudgetMS = 120
	p := NewPipeline(cfg, nil, nil)
	if got := p.Budget(); got != 120*time.Millisecond {
		t.Errorf("Budget = %v, want 120ms", got)
	}

	if p.SetBudget(0) {
		t.Error("accepted zero budget")
	}
	if !p.SetBudget(ModeNoFrameDrops) {
		t.Error("rejected preset budget")
	}
	if got := p.Budget(); got != ModeNoFrameDrops {
		t.Errorf("Budget = %v, want %v", got, ModeNoFrameDrops)
	}
}

func TestPipelineGeneratedID(t *testing.T) {
	cfg := testChannelConfig()
	cfg.ID = ""
	p := NewPipeline(cfg, nil, nil)
	if p.ID() == "" {
		t.Error("pipeline without configured id got no generated id")
	}
}
