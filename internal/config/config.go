// Package config holds the run configuration of the host program. Values
// come from defaults, an optional YAML file, and command-line flags, in
// increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/kmeansbirch/internal/input"
	"github.com/cwbudde/kmeansbirch/internal/raster"
)

// Outputs names the files written for each accelerator output buffer.
type Outputs struct {
	KMeans string `yaml:"kmeans"`
	Birch  string `yaml:"birch"`
}

// Config is the full run configuration.
type Config struct {
	Geometry raster.Geometry `yaml:"geometry"`

	// Backend selects the driver: "opencl" or "emu".
	Backend string `yaml:"backend"`
	// Vendor is the exact platform name a device must belong to.
	Vendor string `yaml:"vendor"`
	// Kernel is the entry point looked up in the program binary.
	Kernel string `yaml:"kernel"`

	// SearchPaths lists raw input candidates in priority order.
	SearchPaths []string `yaml:"search_paths"`

	OutDir  string  `yaml:"out_dir"`
	Outputs Outputs `yaml:"outputs"`
	// Preview optionally writes an extra png, bmp or tiff per output.
	Preview string `yaml:"preview"`

	// ChdirToExecutable moves the working directory next to the binary
	// before any relative path is resolved.
	ChdirToExecutable bool `yaml:"chdir_executable"`

	// RunsDir stores run records and stage journals; empty disables them.
	RunsDir string `yaml:"runs_dir"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Geometry:    raster.DefaultGeometry(),
		Backend:     "opencl",
		Vendor:      "Xilinx",
		Kernel:      "kmeans_birch_kernel",
		SearchPaths: input.DefaultSearchPaths(),
		OutDir:      ".",
		Outputs: Outputs{
			KMeans: "kmeans_output.ppm",
			Birch:  "birch_output.ppm",
		},
		ChdirToExecutable: true,
	}
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Encode writes cfg as YAML to w.
func Encode(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return enc.Close()
}

// Save writes cfg as YAML. The result loads back unchanged.
func Save(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := Encode(&buf, cfg); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// OutputPath joins OutDir with an output file name.
func (c Config) OutputPath(name string) string {
	if c.OutDir == "" {
		return name
	}
	return filepath.Join(c.OutDir, name)
}

// Validate checks the configuration for values the pipeline cannot use.
func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return &ValidationError{Field: "geometry", Reason: err.Error()}
	}
	if c.Backend == "" {
		return &ValidationError{Field: "backend", Reason: "cannot be empty"}
	}
	if c.Vendor == "" {
		return &ValidationError{Field: "vendor", Reason: "cannot be empty"}
	}
	if c.Kernel == "" {
		return &ValidationError{Field: "kernel", Reason: "cannot be empty"}
	}
	if c.Outputs.KMeans == "" {
		return &ValidationError{Field: "outputs.kmeans", Reason: "cannot be empty"}
	}
	if c.Outputs.Birch == "" {
		return &ValidationError{Field: "outputs.birch", Reason: "cannot be empty"}
	}
	if c.Outputs.KMeans == c.Outputs.Birch {
		return &ValidationError{Field: "outputs", Reason: "kmeans and birch outputs must differ"}
	}
	if _, err := raster.ParsePreviewFormat(c.Preview); err != nil {
		return &ValidationError{Field: "preview", Reason: err.Error()}
	}
	return nil
}

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
