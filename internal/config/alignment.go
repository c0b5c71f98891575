// Package config loads the alignment daemon's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/alignment.defaults.json"

// AlignmentConfig is the root configuration for the alignment daemon. Every
// field is optional; the Get* methods supply defaults for omitted fields, so
// partial files are safe.
type AlignmentConfig struct {
	// Strategy params
	Mode            *string `json:"mode,omitempty"`
	UpdateFrequency *string `json:"update_frequency,omitempty"` // duration string like "20ms"; "0s" recomputes every tick

	// Driver params
	TickInterval      *string     `json:"tick_interval,omitempty"`      // duration string like "16ms"
	ViewpointPosition *[3]float64 `json:"viewpoint_position,omitempty"` // fixed viewer position used when no tracker feeds one

	// Storage and outputs
	DBPath     *string `json:"db_path,omitempty"`
	FramesFile *string `json:"frames_file,omitempty"` // JSON frame document imported at startup
	PlotDir    *string `json:"plot_dir,omitempty"`    // where layout plots and timelines are written on shutdown

	// Listeners
	Listen     *string `json:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`

	Verbose *bool `json:"verbose,omitempty"`
}

// EmptyAlignmentConfig returns a config with all fields unset.
func EmptyAlignmentConfig() *AlignmentConfig {
	return &AlignmentConfig{}
}

// LoadAlignmentConfig loads an AlignmentConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadAlignmentConfig(path string) (*AlignmentConfig, error) {
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

	cfg := EmptyAlignmentConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *AlignmentConfig) Validate() error {
	if c.Mode != nil && alignment.Mode(*c.Mode) != alignment.ModeNearestNeighbor {
		return fmt.Errorf("unsupported mode %q", *c.Mode)
	}

	if c.UpdateFrequency != nil && *c.UpdateFrequency != "" {
		d, err := time.ParseDuration(*c.UpdateFrequency)
		if err != nil {
			return fmt.Errorf("invalid update_frequency '%s': %w", *c.UpdateFrequency, err)
		}
		if d < 0 {
			return fmt.Errorf("update_frequency must be non-negative, got %v", d)
		}
	}

	if c.TickInterval != nil && *c.TickInterval != "" {
		d, err := time.ParseDuration(*c.TickInterval)
		if err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick_interval must be positive, got %v", d)
		}
	}

	if c.FramesFile != nil && *c.FramesFile != "" {
		if ext := filepath.Ext(*c.FramesFile); ext != ".json" {
			return fmt.Errorf("frames_file must have .json extension, got %q", ext)
		}
	}

	return nil
}

// GetMode returns the strategy mode or the default.
func (c *AlignmentConfig) GetMode() alignment.Mode {
	if c.Mode == nil || *c.Mode == "" {
		return alignment.ModeNearestNeighbor
	}
	return alignment.Mode(*c.Mode)
}

// GetUpdateFrequency parses and returns the UpdateFrequency as a time.Duration.
func (c *AlignmentConfig) GetUpdateFrequency() time.Duration {
	if c.UpdateFrequency == nil || *c.UpdateFrequency == "" {
		return alignment.DefaultUpdateFrequency
	}
	d, err := time.ParseDuration(*c.UpdateFrequency)
	if err != nil || d < 0 {
		return alignment.DefaultUpdateFrequency
	}
	return d
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *AlignmentConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return alignment.DefaultTickInterval
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil || d <= 0 {
		return alignment.DefaultTickInterval
	}
	return d
}

// GetViewpoint returns the configured viewer position as an unrotated pose.
// The second result is false when none is configured.
func (c *AlignmentConfig) GetViewpoint() (alignment.Pose, bool) {
	if c.ViewpointPosition == nil {
		return alignment.Pose{}, false
	}
	v := *c.ViewpointPosition
	return alignment.At(v[0], v[1], v[2]), true
}

// GetDBPath returns the db_path value or the default.
func (c *AlignmentConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "alignment.db"
	}
	return *c.DBPath
}

// GetFramesFile returns the frames_file value, empty when unset.
func (c *AlignmentConfig) GetFramesFile() string {
	if c.FramesFile == nil {
		return ""
	}
	return *c.FramesFile
}

// GetPlotDir returns the plot_dir value, empty when plotting is disabled.
func (c *AlignmentConfig) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return *c.PlotDir
}

// GetListen returns the HTTP listen address or the default.
func (c *AlignmentConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetGRPCListen returns the gRPC health listen address or the default.
func (c *AlignmentConfig) GetGRPCListen() string {
	if c.GRPCListen == nil || *c.GRPCListen == "" {
		return ":9090"
	}
	return *c.GRPCListen
}

// GetVerbose returns the verbose value or the default.
func (c *AlignmentConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}
