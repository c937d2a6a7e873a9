package capture

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all capture configuration
type Config struct {
	Devices []DeviceConfig `yaml:"devices"`

	// Shared configuration
	API      APIConfig    `yaml:"api"`
	Signal   SignalConfig `yaml:"signal"`
	Mode     string       `yaml:"mode"` // default capture mode for all channels
	LogLevel string       `yaml:"log_level"`
}

// DeviceConfig configures one physical capture card and its channels
type DeviceConfig struct {
	Device   int             `yaml:"device"` // enumeration index
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig holds per-channel configuration
type ChannelConfig struct {
	ID        string       `yaml:"id"`
	Port      int          `yaml:"port"`      // input port index on the card
	Width     int          `yaml:"width"`     // 1920, 3840
	Height    int          `yaml:"height"`    // 1080, 2160
	Framerate float64      `yaml:"framerate"` // 24, 29.97, 30, 59.94, 60
	Mode      string       `yaml:"mode"`      // low_latency, no_frame_drops
	BudgetMS  int          `yaml:"budget_ms"` // explicit read budget, overrides mode
	Signal    SignalConfig `yaml:"signal"`
}

// SignalConfig configures the signal-lock hysteresis thresholds
type SignalConfig struct {
	MinFrames     int `yaml:"min_frames"`      // valid frames needed for lock
	MaxLostFrames int `yaml:"max_lost_frames"` // invalid frames before lock drops
}

// APIConfig configures the control API
type APIConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Budget returns the slot-read lock-wait budget for the channel: the explicit
// budget if set, otherwise the configured mode preset.
func (c ChannelConfig) Budget() time.Duration {
	if c.BudgetMS > 0 {
		return time.Duration(c.BudgetMS) * time.Millisecond
	}
	switch c.Mode {
	case "no_frame_drops":
		return ModeNoFrameDrops
	default:
		return ModeLowLatency
	}
}

// FramerateRational converts the configured framerate into the numerator and
// denominator the hardware negotiates with. The common NTSC rates map to
// their exact /1001 forms.
func (c ChannelConfig) FramerateRational() (num, den int) {
	switch c.Framerate {
	case 23.98:
		return 24000, 1001
	case 29.97:
		return 30000, 1001
	case 59.94:
		return 60000, 1001
	default:
		return int(c.Framerate * 1000), 1000
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields: global defaults first, then each channel
// inherits whatever it left blank from the global level.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "low_latency"
	}
	if c.Signal.MinFrames == 0 {
		c.Signal.MinFrames = 3
	}
	if c.Signal.MaxLostFrames == 0 {
		c.Signal.MaxLostFrames = 5
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	for di := range c.Devices {
		for i := range c.Devices[di].Channels {
			ch := &c.Devices[di].Channels[i]
			if ch.Width == 0 {
				ch.Width = 1920
			}
			if ch.Height == 0 {
				ch.Height = 1080
			}
			if ch.Framerate == 0 {
				ch.Framerate = 30
			}
			if ch.Mode == "" {
				ch.Mode = c.Mode
			}
			if ch.Signal.MinFrames == 0 {
				ch.Signal.MinFrames = c.Signal.MinFrames
			}
			if ch.Signal.MaxLostFrames == 0 {
				ch.Signal.MaxLostFrames = c.Signal.MaxLostFrames
			}
		}
	}
}
