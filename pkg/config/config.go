// Package config provides configuration loading and management for alinify.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Stitching parameters
	Stitching struct {
		// OverlapPixels is the nominal horizontal overlap between
		// consecutive scan strips
		OverlapPixels int `yaml:"overlapPixels"`

		// MinCorrelation is the phase-correlation confidence below which
		// a strip falls back to its nominal offset
		MinCorrelation float64 `yaml:"minCorrelation"`

		// ReversalCompensationPx corrects the mechanical backlash of
		// reverse-direction passes in bidirectional scanning
		ReversalCompensationPx float64 `yaml:"reversalCompensationPx"`

		// Bidirectional indicates the scan head alternates direction
		// between strips
		Bidirectional bool `yaml:"bidirectional"`

		// PixelsPerMM converts reported head positions to pixel offsets
		PixelsPerMM float64 `yaml:"pixelsPerMM"`
	} `yaml:"stitching"`

	// Manual correction parameters
	Correction struct {
		// RadiusPixels is the influence radius of a control-point pair
		RadiusPixels float64 `yaml:"radiusPixels"`

		// CutoffSigmas bounds how far, in standard deviations, a
		// correction reaches before it is treated as zero
		CutoffSigmas float64 `yaml:"cutoffSigmas"`
	} `yaml:"correction"`

	// Warping parameters
	Warp struct {
		// NumWorkers is the tile worker pool size, defaulting to all
		// available cores
		NumWorkers int `yaml:"numWorkers"`

		// SinglePassMaxPixels is the largest output warped without tiling
		SinglePassMaxPixels int `yaml:"singlePassMaxPixels"`

		// TileSize is the tile edge length for large outputs
		TileSize int `yaml:"tileSize"`

		// TileOverlap is the cross-faded margin between adjacent tiles
		TileOverlap int `yaml:"tileOverlap"`
	} `yaml:"warp"`

	// Output parameters
	Output struct {
		// SaveField determines whether the computed deformation field is
		// written alongside the corrected image
		SaveField bool `yaml:"saveField"`

		// FieldPreview determines whether a field visualization PNG is
		// rendered for inspection
		FieldPreview bool `yaml:"fieldPreview"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Stitching.OverlapPixels = 100
	cfg.Stitching.MinCorrelation = 0.7
	cfg.Stitching.ReversalCompensationPx = 0
	cfg.Stitching.Bidirectional = true
	cfg.Stitching.PixelsPerMM = 0

	cfg.Correction.RadiusPixels = 250
	cfg.Correction.CutoffSigmas = 4

	cfg.Warp.NumWorkers = runtime.NumCPU()
	cfg.Warp.SinglePassMaxPixels = 50_000_000
	cfg.Warp.TileSize = 4096
	cfg.Warp.TileOverlap = 128

	cfg.Output.SaveField = true
	cfg.Output.FieldPreview = false
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
