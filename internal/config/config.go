// Package config loads conversion parameters from JSON. Fields omitted
// from a config file keep their defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neurodata-tools/eegbridge/internal/eeg"
)

// maxFileSize bounds config reads (config files are tiny; anything larger
// is a wrong path).
const maxFileSize = 1 * 1024 * 1024

// Config holds the conversion parameters. Pointer fields distinguish "not
// set" from explicit zero values when merging a file over the defaults.
type Config struct {
	// Cap hardware expectations
	ExpectedDigPoints  *int    `json:"expected_dig_points,omitempty"`
	ExpectedElectrodes *int    `json:"expected_electrodes,omitempty"`
	MontageName        *string `json:"montage_name,omitempty"`

	// Output handling
	Overwrite *bool   `json:"overwrite,omitempty"`
	PlotDir   *string `json:"plot_dir,omitempty"`

	// Catalog
	CatalogPath *string `json:"catalog_path,omitempty"`
}

// Default returns the built-in configuration for the standard cap.
func Default() *Config {
	return &Config{
		ExpectedDigPoints:  ptrInt(eeg.NumDigPoints),
		ExpectedElectrodes: ptrInt(eeg.NumElectrodes),
		MontageName:        ptrString("duke129_dig"),
		Overwrite:          ptrBool(false),
	}
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// Load reads a JSON config file and merges it over the defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	cfg.Merge(&loaded)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", cleanPath, err)
	}
	return cfg, nil
}

// Merge copies every set field of other into the receiver.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.ExpectedDigPoints != nil {
		c.ExpectedDigPoints = other.ExpectedDigPoints
	}
	if other.ExpectedElectrodes != nil {
		c.ExpectedElectrodes = other.ExpectedElectrodes
	}
	if other.MontageName != nil {
		c.MontageName = other.MontageName
	}
	if other.Overwrite != nil {
		c.Overwrite = other.Overwrite
	}
	if other.PlotDir != nil {
		c.PlotDir = other.PlotDir
	}
	if other.CatalogPath != nil {
		c.CatalogPath = other.CatalogPath
	}
}

// Validate rejects configurations that cannot describe a real cap.
func (c *Config) Validate() error {
	points := c.DigPoints()
	electrodes := c.Electrodes()
	if electrodes <= 0 {
		return fmt.Errorf("expected_electrodes must be positive, got %d", electrodes)
	}
	if points != electrodes+eeg.NumLandmarks {
		return fmt.Errorf("expected_dig_points (%d) must equal expected_electrodes (%d) plus %d landmarks",
			points, electrodes, eeg.NumLandmarks)
	}
	return nil
}

// DigPoints returns the expected total digitized point count.
func (c *Config) DigPoints() int {
	if c.ExpectedDigPoints != nil {
		return *c.ExpectedDigPoints
	}
	return eeg.NumDigPoints
}

// Electrodes returns the expected electrode count.
func (c *Config) Electrodes() int {
	if c.ExpectedElectrodes != nil {
		return *c.ExpectedElectrodes
	}
	return eeg.NumElectrodes
}

// Montage returns the montage name to stamp on registered digitizations.
func (c *Config) Montage() string {
	if c.MontageName != nil && *c.MontageName != "" {
		return *c.MontageName
	}
	return "duke129_dig"
}

// OverwriteOutputs reports whether existing output files may be replaced.
func (c *Config) OverwriteOutputs() bool {
	return c.Overwrite != nil && *c.Overwrite
}

// PlotOutputDir returns the configured sensor-plot directory, or "" when
// plots are disabled.
func (c *Config) PlotOutputDir() string {
	if c.PlotDir != nil {
		return *c.PlotDir
	}
	return ""
}

// Catalog returns the configured conversion catalog path, or "" when no
// catalog is kept.
func (c *Config) Catalog() string {
	if c.CatalogPath != nil {
		return *c.CatalogPath
	}
	return ""
}
