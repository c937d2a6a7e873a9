package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
mode: no_frame_drops
log_level: debug
api:
  host: 127.0.0.1
  port: 9000
signal:
  min_frames: 4
devices:
  - device: 0
    channels:
      - id: cam-1
        port: 1
        width: 3840
        height: 2160
        framerate: 59.94
      - id: cam-2
        mode: low_latency
        signal:
          min_frames: 2
          max_lost_frames: 10
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.API.Port != 9000 || cfg.API.Host != "127.0.0.1" {
		t.Errorf("api = %+v", cfg.API)
	}
	if len(cfg.Devices) != 1 || len(cfg.Devices[0].Channels) != 2 {
		t.Fatalf("devices = %+v", cfg.Devices)
	}

	cam1 := cfg.Devices[0].Channels[0]
	if cam1.Width != 3840 || cam1.Height != 2160 {
		t.Errorf("cam-1 dimensions = %dx%d", cam1.Width, cam1.Height)
	}
	// Mode and signal thresholds inherit from the global level.
	if cam1.Mode != "no_frame_drops" {
		t.Errorf("cam-1 mode = %q", cam1.Mode)
	}
	if cam1.Signal.MinFrames != 4 || cam1.Signal.MaxLostFrames != 5 {
		t.Errorf("cam-1 signal = %+v", cam1.Signal)
	}

	cam2 := cfg.Devices[0].Channels[1]
	if cam2.Width != 1920 || cam2.Height != 1080 || cam2.Framerate != 30 {
		t.Errorf("cam-2 defaults = %dx%d@%v", cam2.Width, cam2.Height, cam2.Framerate)
	}
	if cam2.Mode != "low_latency" {
		t.Errorf("cam-2 mode = %q", cam2.Mode)
	}
	if cam2.Signal.MinFrames != 2 || cam2.Signal.MaxLostFrames != 10 {
		t.Errorf("cam-2 signal = %+v", cam2.Signal)
	}
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("TEST_CHANNEL_ID", "env-cam")
	path := writeConfig(t, `
devices:
  - device: 0
    channels:
      - id: ${TEST_CHANNEL_ID}
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Devices[0].Channels[0].ID; got != "env-cam" {
		t.Errorf("channel id = %q, want env-cam", got)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("no error for missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "devices: [broken")); err == nil {
		t.Error("no error for malformed yaml")
	}
}

func TestApplyDefaultsGlobal(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Mode != "low_latency" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Signal.MinFrames != 3 || cfg.Signal.MaxLostFrames != 5 {
		t.Errorf("signal = %+v", cfg.Signal)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("api port = %d", cfg.API.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestChannelBudget(t *testing.T) {
	cases := []struct {
		name string
		cfg  ChannelConfig
		want time.Duration
	}{
		{"default", ChannelConfig{}, ModeLowLatency},
		{"low latency", ChannelConfig{Mode: "low_latency"}, ModeLowLatency},
		{"no frame drops", ChannelConfig{Mode: "no_frame_drops"}, ModeNoFrameDrops},
		{"explicit override", ChannelConfig{Mode: "no_frame_drops", BudgetMS: 150}, 150 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := tc.cfg.Budget(); got != tc.want {
			t.Errorf("%s: budget = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFramerateRational(t *testing.T) {
	cases := []struct {
		fps      float64
		num, den int
	}{
		{23.98, 24000, 1001},
		{24, 24000, 1000},
		{25, 25000, 1000},
		{29.97, 30000, 1001},
		{30, 30000, 1000},
		{59.94, 60000, 1001},
		{60, 60000, 1000},
	}
	for _, tc := range cases {
		num, den := ChannelConfig{Framerate: tc.fps}.FramerateRational()
		if num != tc.num || den != tc.den {
			t.Errorf("%v fps: got %d/%d, want %d/%d", tc.fps, num, den, tc.num, tc.den)
		}
	}
}
