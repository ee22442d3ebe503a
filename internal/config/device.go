// Package config loads the device configuration file. Every field is
// optional: omitted values fall back to the defaults returned by the Get*
// accessors, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/cyton.report/internal/cyton"
	"github.com/banshee-data/cyton.report/internal/serialmux"
)

const (
	DefaultPort   = "/dev/ttyUSB0"
	DefaultDBPath = "cyton.db"
	DefaultListen = "localhost:8080"
)

// maxFileSize caps the config file at 1MB.
const maxFileSize = 1 * 1024 * 1024

// DeviceConfig is the root of the JSON config file.
type DeviceConfig struct {
	Port        *string `json:"port,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty"` // duration string like "1s"

	// Setup params
	Setup      *bool                      `json:"setup,omitempty"`
	Firmware   *string                    `json:"firmware,omitempty"`
	ModeAck    *string                    `json:"mode_ack,omitempty"`
	ChannelAck *string                    `json:"channel_ack,omitempty"`
	Channels   map[string]ChannelOverride `json:"channels,omitempty"` // keyed by channel number "1".."16"

	// Delivery and storage
	QueueCapacity *int    `json:"queue_capacity,omitempty"`
	DBPath        *string `json:"db_path,omitempty"`
	Listen        *string `json:"listen,omitempty"`
}

// ChannelOverride changes selected settings of one channel; nil fields keep
// the channel default.
type ChannelOverride struct {
	PowerDown *bool   `json:"power_down,omitempty"`
	Gain      *int    `json:"gain,omitempty"`
	Input     *string `json:"input,omitempty"`
	Bias      *bool   `json:"bias,omitempty"`
	SRB2      *bool   `json:"srb2,omitempty"`
	SRB1      *bool   `json:"srb1,omitempty"`
}

// DefaultDeviceConfig returns a config with every field unset.
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{}
}

// LoadDeviceConfig loads a DeviceConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadDeviceConfig(path string) (*DeviceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultDeviceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *DeviceConfig) Validate() error {
	if c.ReadTimeout != nil && *c.ReadTimeout != "" {
		d, err := time.ParseDuration(*c.ReadTimeout)
		if err != nil {
			return fmt.Errorf("invalid read_timeout '%s': %w", *c.ReadTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("read_timeout must be positive, got %s", d)
		}
	}

	if _, err := c.GetPortOptions().Normalise(); err != nil {
		return err
	}

	if c.QueueCapacity != nil && *c.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must be non-negative, got %d", *c.QueueCapacity)
	}

	for key, o := range c.Channels {
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 || n > cyton.ChannelCount {
			return fmt.Errorf("channel key %q must be a number from 1 to %d", key, cyton.ChannelCount)
		}
		if o.Gain != nil {
			if _, err := cyton.GainFor(*o.Gain); err != nil {
				return fmt.Errorf("channel %d: %w", n, err)
			}
		}
		if o.Input != nil {
			if _, err := cyton.ParseInputType(*o.Input); err != nil {
				return fmt.Errorf("channel %d: %w", n, err)
			}
		}
	}
	return nil
}

// GetPort returns the serial device path or the default.
func (c *DeviceConfig) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return DefaultPort
	}
	return *c.Port
}

// GetReadTimeout parses and returns the ReadTimeout as a time.Duration.
func (c *DeviceConfig) GetReadTimeout() time.Duration {
	if c.ReadTimeout == nil || *c.ReadTimeout == "" {
		return serialmux.DefaultReadTimeout
	}
	d, err := time.ParseDuration(*c.ReadTimeout)
	if err != nil || d <= 0 {
		return serialmux.DefaultReadTimeout
	}
	return d
}

// GetPortOptions returns the serial parameters. The board is fixed at 8N1.
func (c *DeviceConfig) GetPortOptions() serialmux.PortOptions {
	opts := serialmux.PortOptions{
		BaudRate:      serialmux.DefaultBaudRate,
		ReadTimeoutMs: int(c.GetReadTimeout() / time.Millisecond),
	}
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	return opts
}

// GetSetupEnabled reports whether the handshake runs before acquisition.
func (c *DeviceConfig) GetSetupEnabled() bool {
	if c.Setup == nil {
		return true
	}
	return *c.Setup
}

// GetSetupConfig returns the handshake with any overrides applied. Call
// Validate first: invalid overrides are skipped here.
func (c *DeviceConfig) GetSetupConfig() cyton.SetupConfig {
	cfg := cyton.DefaultSetupConfig()
	if c.Firmware != nil {
		cfg.Firmware = *c.Firmware
	}
	if c.ModeAck != nil {
		cfg.ModeAck = *c.ModeAck
	}
	if c.ChannelAck != nil {
		cfg.ChannelAck = *c.ChannelAck
	}
	for key, o := range c.Channels {
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 || n > cyton.ChannelCount {
			continue
		}
		o.apply(&cfg.Channels[n-1])
	}
	return cfg
}

func (o ChannelOverride) apply(s *cyton.ChannelSettings) {
	if o.PowerDown != nil {
		s.PowerDown = *o.PowerDown
	}
	if o.Gain != nil {
		if g, err := cyton.GainFor(*o.Gain); err == nil {
			s.Gain = g
		}
	}
	if o.Input != nil {
		if it, err := cyton.ParseInputType(*o.Input); err == nil {
			s.Input = it
		}
	}
	if o.Bias != nil {
		s.Bias = *o.Bias
	}
	if o.SRB2 != nil {
		s.SRB2 = *o.SRB2
	}
	if o.SRB1 != nil {
		s.SRB1 = *o.SRB1
	}
}

// GetQueueCapacity returns the delivery queue bound; 0 means unbounded.
func (c *DeviceConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 0
	}
	return *c.QueueCapacity
}

// GetDBPath returns the SQLite path or the default.
func (c *DeviceConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetListen returns the HTTP listen address or the default.
func (c *DeviceConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}
