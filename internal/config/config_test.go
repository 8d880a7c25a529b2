package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, UnitTrace, cfg.Panel.CountUnit)
	assert.Equal(t, OrderTraceName, cfg.Panel.Order)
	assert.Equal(t, 1.5, cfg.Gaps.GapFactor)
	assert.Equal(t, 10.0, cfg.Gaps.BreakFactor)
	assert.Equal(t, "zstd", cfg.Compression.Algorithm)
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /var/waveforms
use_temp_data: true
panel:
  count_unit: station
  units_in_frame: 3
gaps:
  gap_factor: 2.0
  break_factor: 20.0
load:
  source_timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/waveforms", cfg.DataDir)
	assert.True(t, cfg.UseTempData)
	assert.Equal(t, UnitStation, cfg.Panel.CountUnit)
	assert.Equal(t, 3, cfg.Panel.UnitsInFrame)
	assert.Equal(t, 2.0, cfg.Gaps.GapFactor)
	assert.Equal(t, 30*time.Second, cfg.Load.SourceTimeout)

	// Unset fields keep defaults.
	assert.Equal(t, "data/temp", cfg.TempDir)
	assert.Equal(t, OrderTraceName, cfg.Panel.Order)
	assert.Equal(t, 4, cfg.Load.Parallelism)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty temp dir", func(c *Config) { c.TempDir = "" }},
		{"bad count unit", func(c *Config) { c.Panel.CountUnit = "frame" }},
		{"bad order", func(c *Config) { c.Panel.Order = "alphabetical" }},
		{"zero units in frame", func(c *Config) { c.Panel.UnitsInFrame = 0 }},
		{"negative gap factor", func(c *Config) { c.Gaps.GapFactor = -1 }},
		{"break below gap", func(c *Config) { c.Gaps.BreakFactor = 1.0 }},
		{"bad compression", func(c *Config) { c.Compression.Algorithm = "lzma" }},
		{"zero parallelism", func(c *Config) { c.Load.Parallelism = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, xerrors.IsValidation(err), "want validation error, got %v", err)
		})
	}
}

func TestUnitsInFrameIgnoredForUnitAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Panel.CountUnit = UnitAll
	cfg.Panel.UnitsInFrame = 0
	assert.NoError(t, cfg.Validate())
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.TempDir = filepath.Join(base, "data", "temp")

	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.DataDir, cfg.TempDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
