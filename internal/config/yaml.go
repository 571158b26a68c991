// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"trackmix/pkg/bitint"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`     // Device and stream settings.
	Recording RecordingConfig `yaml:"recording"` // Where and how track recordings are written.
	Meter     MeterConfig     `yaml:"meter"`     // Live level meter side channel.
	Project   ProjectConfig   `yaml:"project"`   // Project persistence.
}

// AudioConfig holds settings related to audio input/output streams.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // Index into the device snapshot for new capture tracks (-1 for default).
	OutputDevice    int     `yaml:"output_device"`     // Index into the device snapshot for the master output (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Stream sample rate in Hz, 0 uses the device default.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per device callback, must be a power of two.
	InputChannels   int     `yaml:"input_channels"`    // Requested capture channels, clamped to what the device offers.
	OutputChannels  int     `yaml:"output_channels"`   // Requested playback channels, clamped to what the device offers.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio.
	RingSeconds     float64 `yaml:"ring_seconds"`      // Seconds of audio held by each track's ring buffer.
}

// RecordingConfig holds settings related to track recording.
type RecordingConfig struct {
	OutputDir     string        `yaml:"output_dir"`     // Directory for recorded takes.
	DrainInterval time.Duration `yaml:"drain_interval"` // How often the record drain loop empties its buffer.
}

// MeterConfig holds settings for the level meter side channel.
type MeterConfig struct {
	Enabled          bool          `yaml:"enabled"`            // Publish peak/RMS levels per track.
	Interval         time.Duration `yaml:"interval"`           // Interval between published frames.
	Transport        string        `yaml:"transport"`          // "websocket", "udp" or "log".
	WebSocketAddr    string        `yaml:"websocket_addr"`     // Listen address for the websocket transport.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target for the UDP transport (e.g., "127.0.0.1:9090").
}

// ProjectConfig holds settings for project persistence.
type ProjectConfig struct {
	Dir string `yaml:"dir"` // Project directory loaded at startup, empty for a fresh project.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			OutputDevice:    DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   DefaultChannels,
			OutputChannels:  DefaultChannels,
			LowLatency:      DefaultLowLatency,
			RingSeconds:     DefaultRingSeconds,
		},
		Recording: RecordingConfig{
			OutputDir:     DefaultRecordingDir,
			DrainInterval: DefaultDrainInterval,
		},
		Meter: MeterConfig{
			Enabled:          false,
			Interval:         DefaultMeterInterval,
			Transport:        DefaultMeterTransport,
			WebSocketAddr:    DefaultWebSocketAddr,
			UDPTargetAddress: DefaultUDPTarget,
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
		candidates := []string{"config.yaml", "trackmix.yaml"}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration against the engine's limits.
func (c *Config) Validate() error {
	var errs []error

	a := c.Audio
	if a.InputDevice < MinDeviceID || a.OutputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio device ids must be >= %d", MinDeviceID))
	}
	if a.SampleRate != 0 && (a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f outside %d..%d", a.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if !bitint.IsPowerOfTwo(a.FramesPerBuffer) || a.FramesPerBuffer > MaxBufferFrames {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must be a power of two <= %d, got %d", MaxBufferFrames, a.FramesPerBuffer))
	}
	if a.InputChannels < 1 || a.InputChannels > MaxChannels {
		errs = append(errs, fmt.Errorf("audio.input_channels must be 1..%d, got %d", MaxChannels, a.InputChannels))
	}
	if a.OutputChannels < 1 || a.OutputChannels > MaxChannels {
		errs = append(errs, fmt.Errorf("audio.output_channels must be 1..%d, got %d", MaxChannels, a.OutputChannels))
	}
	if a.RingSeconds <= 0 {
		errs = append(errs, fmt.Errorf("audio.ring_seconds must be positive, got %v", a.RingSeconds))
	}

	if c.Recording.DrainInterval <= 0 {
		errs = append(errs, fmt.Errorf("recording.drain_interval must be positive"))
	}

	if c.Meter.Enabled {
		switch c.Meter.Transport {
		case TransportWebSocket:
			if c.Meter.WebSocketAddr == "" {
				errs = append(errs, fmt.Errorf("meter.websocket_addr must be set for the websocket transport"))
			}
		case TransportUDP:
			if c.Meter.UDPTargetAddress == "" {
				errs = append(errs, fmt.Errorf("meter.udp_target_address must be set for the udp transport"))
			}
		case TransportLog:
		default:
			errs = append(errs, fmt.Errorf("meter.transport %q is not one of websocket, udp, log", c.Meter.Transport))
		}
		if c.Meter.Interval <= 0 {
			errs = append(errs, fmt.Errorf("meter.interval must be positive"))
		}
	}

	return errors.Join(errs...)
}

// applyEnvOverrides lets the environment take precedence over the file.
// Recognised variables: ENV_LOG_LEVEL, ENV_RECORDING_DIR, ENV_METER_ENABLED,
// ENV_METER_TRANSPORT, ENV_METER_UDP_TARGET.
func (cfg *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
	}
	if val, ok := os.LookupEnv("ENV_RECORDING_DIR"); ok {
		cfg.Recording.OutputDir = val
	}
	if val, ok := os.LookupEnv("ENV_METER_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Meter.Enabled = bVal
		}
	}
	if val, ok := os.LookupEnv("ENV_METER_TRANSPORT"); ok {
		cfg.Meter.Transport = val
	}
	if val, ok := os.LookupEnv("ENV_METER_UDP_TARGET"); ok {
		cfg.Meter.UDPTargetAddress = val
	}
}
