package config

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/kmeansbirch/internal/raster"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kmeansbirch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Xilinx", cfg.Vendor)
	assert.Equal(t, "kmeans_birch_kernel", cfg.Kernel)
	assert.Equal(t, raster.DefaultGeometry(), cfg.Geometry)
	assert.Equal(t, "kmeans_output.ppm", cfg.Outputs.KMeans)
	assert.Equal(t, "birch_output.ppm", cfg.Outputs.Birch)
	assert.True(t, cfg.ChdirToExecutable)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
geometry:
  height: 4
  width: 8
backend: emu
search_paths:
  - /data/a.raw
  - ./b.raw
preview: bmp
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, raster.Geometry{Height: 4, Width: 8, Dim: 3}, cfg.Geometry, "dim keeps its default")
	assert.Equal(t, "emu", cfg.Backend)
	assert.Equal(t, []string{"/data/a.raw", "./b.raw"}, cfg.SearchPaths)
	assert.Equal(t, "bmp", cfg.Preview)
	assert.Equal(t, "Xilinx", cfg.Vendor)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "vendr: Xilinx\n"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "geometry:\n  dim: 1\n"))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "geometry", verr.Field)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Backend = "emu"
	cfg.Geometry = raster.Geometry{Height: 2, Width: 3, Dim: 3}
	cfg.RunsDir = "/tmp/runs"

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Default()))

	out := buf.String()
	assert.Contains(t, out, "vendor: Xilinx\n")
	assert.Contains(t, out, "kernel: kmeans_birch_kernel\n")
	assert.Contains(t, out, "  height: 612\n")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty backend", func(c *Config) { c.Backend = "" }, "backend"},
		{"empty vendor", func(c *Config) { c.Vendor = "" }, "vendor"},
		{"empty kernel", func(c *Config) { c.Kernel = "" }, "kernel"},
		{"empty kmeans output", func(c *Config) { c.Outputs.KMeans = "" }, "outputs.kmeans"},
		{"same outputs", func(c *Config) { c.Outputs.Birch = c.Outputs.KMeans }, "outputs"},
		{"bad preview", func(c *Config) { c.Preview = "gif" }, "preview"},
		{"zero width", func(c *Config) { c.Geometry.Width = 0 }, "geometry"},
		{"height overflows size", func(c *Config) { c.Geometry.Height = math.MaxInt / 2 }, "geometry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			var verr *ValidationError
			require.ErrorAs(t, cfg.Validate(), &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestOutputPath(t *testing.T) {
	cfg := Default()
	cfg.OutDir = "/out"
	assert.Equal(t, filepath.Join("/out", "x.ppm"), cfg.OutputPath("x.ppm"))

	cfg.OutDir = ""
	assert.Equal(t, "x.ppm", cfg.OutputPath("x.ppm"))
}
