// Package config loads the speedometer's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/speedometer/internal/serialmux"
)

// Defaults applied when a field is absent from the file.
const (
	DefaultScaleFactor    = 0.5
	DefaultUpdateInterval = 100 * time.Millisecond
	DefaultListen         = "0.0.0.0:5000"
	DefaultSerialPort     = "/dev/ttyACM0"
)

// SpeedometerConfig is the root of the configuration file. Every field is
// optional so partial files are safe; the Get* accessors supply defaults.
type SpeedometerConfig struct {
	// Estimator params
	ScaleFactor          *float64 `json:"scale_factor,omitempty"`
	UpdateInterval       *string  `json:"update_interval,omitempty"` // duration string like "100ms"
	MaxConsecutiveErrors *int     `json:"max_consecutive_errors,omitempty"`

	// Serving params
	Listen *string `json:"listen,omitempty"`

	// Sensor params
	SerialPort   *string                `json:"serial_port,omitempty"`
	Serial       *serialmux.PortOptions `json:"serial,omitempty"`
	InitCommands []string               `json:"init_commands,omitempty"`
}

// Load reads a SpeedometerConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func Load(path string) (*SpeedometerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SpeedometerConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *SpeedometerConfig) Validate() error {
	if c.ScaleFactor != nil {
		f := *c.ScaleFactor
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return fmt.Errorf("scale_factor must be a finite non-negative number, got %v", f)
		}
	}

	if c.UpdateInterval != nil && *c.UpdateInterval != "" {
		d, err := time.ParseDuration(*c.UpdateInterval)
		if err != nil {
			return fmt.Errorf("invalid update_interval '%s': %w", *c.UpdateInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("update_interval must be positive, got %s", d)
		}
	}

	if c.MaxConsecutiveErrors != nil && *c.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("max_consecutive_errors must be >= 0, got %d", *c.MaxConsecutiveErrors)
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}

	return nil
}

// GetScaleFactor returns the scale factor or the default.
func (c *SpeedometerConfig) GetScaleFactor() float64 {
	if c.ScaleFactor == nil {
		return DefaultScaleFactor
	}
	return *c.ScaleFactor
}

// GetUpdateInterval returns the parsed update interval or the default.
func (c *SpeedometerConfig) GetUpdateInterval() time.Duration {
	if c.UpdateInterval == nil || *c.UpdateInterval == "" {
		return DefaultUpdateInterval
	}
	d, err := time.ParseDuration(*c.UpdateInterval)
	if err != nil || d <= 0 {
		return DefaultUpdateInterval
	}
	return d
}

// GetMaxConsecutiveErrors returns the failure budget, 0 by default.
func (c *SpeedometerConfig) GetMaxConsecutiveErrors() int {
	if c.MaxConsecutiveErrors == nil {
		return 0
	}
	return *c.MaxConsecutiveErrors
}

// GetListen returns the HTTP bind address or the default.
func (c *SpeedometerConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}

// GetSerialPort returns the serial device path or the default.
func (c *SpeedometerConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return DefaultSerialPort
	}
	return *c.SerialPort
}

// GetSerial returns the serial options; zero fields are defaulted when the
// port is opened.
func (c *SpeedometerConfig) GetSerial() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{}
	}
	return *c.Serial
}
