// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"headset/internal/analysis"
	"headset/internal/fault"
	applog "headset/internal/log"
	"headset/pkg/bitint"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // "debug", "info", "warn", "error".
	Audio     AudioConfig     `yaml:"audio"`
	Timing    TimingConfig    `yaml:"timing"`
	Volume    VolumeConfig    `yaml:"volume"`
	Presence  PresenceConfig  `yaml:"presence"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig holds the transport and analysis constants.
type AudioConfig struct {
	InputDevice  int     `yaml:"input_device"`  // PortAudio device index, -1 for default.
	OutputDevice int     `yaml:"output_device"` // PortAudio device index, -1 for default.
	SampleRate   float64 `yaml:"sample_rate"`
	BlockSize    int     `yaml:"block_size"`
	FFTSize      int     `yaml:"fft_size"`      // Power of two, multiple of block_size.
	DelaySamples int     `yaml:"delay_samples"` // Reference alignment lag.
	FFTWindow    string  `yaml:"fft_window"`
	ReadyBlocks  int     `yaml:"ready_blocks"`
	MaxBacklog   int     `yaml:"max_backlog"`
	LowLatency   bool    `yaml:"low_latency"`
}

// TimingConfig holds run durations in whole seconds.
type TimingConfig struct {
	PrimingSeconds int           `yaml:"priming_seconds"`
	MeasureSeconds int           `yaml:"measure_seconds"`
	LeakSeconds    int           `yaml:"leak_seconds"`
	ToneSeconds    int           `yaml:"tone_seconds"`
	ToneFrequency  float64       `yaml:"tone_frequency"`
	StallTimeout   time.Duration `yaml:"stall_timeout"` // 0 disables the watchdog.
}

// VolumeConfig holds the playback gain per test family (0..1).
type VolumeConfig struct {
	Default float64 `yaml:"default"`
	Leak    float64 `yaml:"leak"`
}

// PresenceConfig seeds the presence flags when no detector is attached.
type PresenceConfig struct {
	HeadsetConnected bool `yaml:"headset_connected"`
	IdentityReadable bool `yaml:"identity_readable"`
}

// RecordingConfig holds settings for the WAV capture tap.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
}

// TransportConfig holds settings related to publishing results over the network.
type TransportConfig struct {
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"` // e.g. "127.0.0.1:9090".
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddress string        `yaml:"websocket_address"` // e.g. ":8080".
}

// Default returns the configuration of the reference rig.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:  MinDeviceID,
			OutputDevice: MinDeviceID,
			SampleRate:   DefaultSampleRate,
			BlockSize:    DefaultBlockSize,
			FFTSize:      DefaultFFTSize,
			DelaySamples: DefaultDelaySamples,
			FFTWindow:    DefaultFFTWindow,
			ReadyBlocks:  DefaultReadyBlocks,
			MaxBacklog:   DefaultMaxBacklog,
		},
		Timing: TimingConfig{
			PrimingSeconds: DefaultPrimingSeconds,
			MeasureSeconds: DefaultMeasureSeconds,
			LeakSeconds:    DefaultLeakSeconds,
			ToneSeconds:    DefaultToneSeconds,
			ToneFrequency:  DefaultToneFrequency,
			StallTimeout:   2 * time.Second,
		},
		Volume: VolumeConfig{
			Default: DefaultVolume,
			Leak:    DefaultLeakVolume,
		},
		Presence: PresenceConfig{
			HeadsetConnected: true,
			IdentityReadable: true,
		},
		Recording: RecordingConfig{
			OutputDir: "./recordings",
		},
		Transport: TransportConfig{
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  100 * time.Millisecond,
			WebSocketAddress: ":8080",
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		applog.Debugf("configuration: loaded %s", path)
	}

	// Environment overrides apply after the file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects malformed constants. Every failure wraps fault.ErrBadConfig.
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fault.Newf("config.validate", fault.ErrBadConfig, format, args...)
	}

	a := c.Audio
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return bad("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.BlockSize <= 0 {
		return bad("audio.block_size must be positive, got %d", a.BlockSize)
	}
	if !bitint.IsPowerOfTwo(a.FFTSize) || a.FFTSize > MaxFFTSize {
		return bad("audio.fft_size %d must be a power of two up to %d", a.FFTSize, MaxFFTSize)
	}
	if a.FFTSize < a.BlockSize || a.FFTSize%a.BlockSize != 0 {
		return bad("audio.fft_size %d must be a multiple of audio.block_size %d", a.FFTSize, a.BlockSize)
	}
	if a.DelaySamples < 0 {
		return bad("audio.delay_samples must not be negative, got %d", a.DelaySamples)
	}
	if a.ReadyBlocks < 1 {
		return bad("audio.ready_blocks must be at least 1, got %d", a.ReadyBlocks)
	}
	if a.MaxBacklog < a.ReadyBlocks {
		return bad("audio.max_backlog %d below audio.ready_blocks %d", a.MaxBacklog, a.ReadyBlocks)
	}
	if _, err := analysis.ParseWindowFunc(a.FFTWindow); err != nil {
		return bad("audio.fft_window: %v", err)
	}
	if a.InputDevice < MinDeviceID || a.OutputDevice < MinDeviceID {
		return bad("audio device indices must be >= %d", MinDeviceID)
	}

	t := c.Timing
	if t.PrimingSeconds < 0 {
		return bad("timing.priming_seconds must not be negative, got %d", t.PrimingSeconds)
	}
	for name, secs := range map[string]int{
		"timing.measure_seconds": t.MeasureSeconds,
		"timing.leak_seconds":    t.LeakSeconds,
		"timing.tone_seconds":    t.ToneSeconds,
	} {
		if c.Windows(secs) < 1 {
			return bad("%s = %d yields no complete analysis window", name, secs)
		}
	}
	if t.ToneFrequency <= 0 || t.ToneFrequency >= a.SampleRate/2 {
		return bad("timing.tone_frequency %.1f must lie in (0, %.1f)", t.ToneFrequency, a.SampleRate/2)
	}
	if t.StallTimeout < 0 {
		return bad("timing.stall_timeout must not be negative")
	}

	for name, v := range map[string]float64{"volume.default": c.Volume.Default, "volume.leak": c.Volume.Leak} {
		if v < 0 || v > 1 {
			return bad("%s %.2f outside [0, 1]", name, v)
		}
	}

	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		return bad("log_level %q not recognized", c.LogLevel)
	}

	if c.Recording.Enabled && c.Recording.OutputDir == "" {
		return bad("recording.output_dir must be set when recording is enabled")
	}

	tr := c.Transport
	if tr.UDPEnabled {
		if tr.UDPTargetAddress == "" {
			return bad("transport.udp_target_address must be set when UDP is enabled")
		}
		if tr.UDPSendInterval <= 0 {
			return bad("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	if tr.WebSocketEnabled && tr.WebSocketAddress == "" {
		return bad("transport.websocket_address must be set when the websocket is enabled")
	}

	return nil
}

// Windows converts whole seconds into analysis windows, rounding down.
func (c *Config) Windows(seconds int) int {
	if c.Audio.FFTSize <= 0 {
		return 0
	}
	return seconds * int(c.Audio.SampleRate) / c.Audio.FFTSize
}

// applyEnvOverrides applies ENV_* variables on top of the loaded values.
// Unparseable values are logged and ignored.
func (c *Config) applyEnvOverrides() {
	str := func(key string, dst *string) {
		if val, ok := os.LookupEnv(key); ok {
			*dst = val
			applog.Infof("configuration: overriding %s from env: %s", key, val)
		}
	}
	boolean := func(key string, dst *bool) {
		if val, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				applog.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
				return
			}
			*dst = b
			applog.Infof("configuration: overriding %s from env: %v", key, b)
		}
	}
	integer := func(key string, dst *int) {
		if val, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				applog.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
				return
			}
			*dst = n
			applog.Infof("configuration: overriding %s from env: %d", key, n)
		}
	}
	duration := func(key string, dst *time.Duration) {
		if val, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(val)
			if err != nil {
				applog.Warnf("configuration: ignoring %s=%q: %v", key, val, err)
				return
			}
			*dst = d
			applog.Infof("configuration: overriding %s from env: %s", key, d)
		}
	}

	// ENV_{...} general overrides.
	str("ENV_LOG_LEVEL", &c.LogLevel)
	integer("ENV_INPUT_DEVICE", &c.Audio.InputDevice)
	integer("ENV_OUTPUT_DEVICE", &c.Audio.OutputDevice)
	integer("ENV_DELAY_SAMPLES", &c.Audio.DelaySamples)
	boolean("ENV_HEADSET_CONNECTED", &c.Presence.HeadsetConnected)
	boolean("ENV_IDENTITY_READABLE", &c.Presence.IdentityReadable)
	boolean("ENV_RECORDING_ENABLED", &c.Recording.Enabled)

	// ENV_UDP_{...} and ENV_WS_{...} transport overrides.
	boolean("ENV_UDP_ENABLED", &c.Transport.UDPEnabled)
	str("ENV_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	duration("ENV_UDP_SEND_INTERVAL", &c.Transport.UDPSendInterval)
	boolean("ENV_WS_ENABLED", &c.Transport.WebSocketEnabled)
	str("ENV_WS_ADDRESS", &c.Transport.WebSocketAddress)
}

// IsBadConfig reports whether err came from Validate.
func IsBadConfig(err error) bool {
	return errors.Is(err, fault.ErrBadConfig)
}
