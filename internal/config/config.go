// Package config defines the YAML configuration for the waveform data core.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
)

// PanelCountUnit selects how a display window over the channel list is
// counted during pagination.
type PanelCountUnit string

const (
	// UnitAll pages the whole channel list as one window.
	UnitAll PanelCountUnit = "all"
	// UnitTrace counts a fixed number of traces per window.
	UnitTrace PanelCountUnit = "trace"
	// UnitChannel counts distinct channel names per window.
	UnitChannel PanelCountUnit = "channel"
	// UnitChannelType counts distinct channel types (last character of the
	// channel name) per window.
	UnitChannelType PanelCountUnit = "channel_type"
	// UnitStation counts distinct stations per window.
	UnitStation PanelCountUnit = "station"
)

// ValidPanelCountUnits contains all valid panel count unit values.
var ValidPanelCountUnits = []PanelCountUnit{UnitAll, UnitTrace, UnitChannel, UnitChannelType, UnitStation}

// PanelOrder selects the comparator used to order the channel list.
type PanelOrder string

const (
	OrderTraceName             PanelOrder = "trace_name"
	OrderNetworkStationChannel PanelOrder = "network_station_channel"
	OrderChannel               PanelOrder = "channel"
	OrderChannelType           PanelOrder = "channel_type"
	OrderStation               PanelOrder = "station"
)

// ValidPanelOrders contains all valid panel order values.
var ValidPanelOrders = []PanelOrder{OrderTraceName, OrderNetworkStationChannel, OrderChannel, OrderChannelType, OrderStation}

// Config represents the complete data-core configuration.
type Config struct {
	// DataDir is the directory scanned for waveform block files.
	DataDir string `yaml:"data_dir"`

	// TempDir is the temporary storage area for dumped channels.
	TempDir string `yaml:"temp_dir"`

	// UseTempData enables restoring channels from temporary storage
	// before parsing configured sources.
	UseTempData bool `yaml:"use_temp_data"`

	// StationFile is the fixed-width station metadata file.
	StationFile string `yaml:"station_file"`

	// ResponseDirs are candidate directories searched, in order, for
	// RESP.<net>.<sta>.<loc>.<cha> files. The config file directory and
	// "." are always searched first.
	ResponseDirs []string `yaml:"response_dirs"`

	// Panel configures channel list ordering and pagination.
	Panel PanelConfig `yaml:"panel"`

	// Gaps configures discontinuity detection thresholds.
	Gaps GapConfig `yaml:"gaps"`

	// Compression configures temp-storage payload compression.
	Compression CompressionConfig `yaml:"compression"`

	// Load configures source parsing and loading behavior.
	Load LoadConfig `yaml:"load"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// PanelConfig configures channel list ordering and pagination.
type PanelConfig struct {
	// CountUnit is the pagination unit: all, trace, channel,
	// channel_type, station.
	CountUnit PanelCountUnit `yaml:"count_unit"`

	// UnitsInFrame is the number of units per display window.
	UnitsInFrame int `yaml:"units_in_frame"`

	// Order is the channel list ordering: trace_name,
	// network_station_channel, channel, channel_type, station.
	Order PanelOrder `yaml:"order"`
}

// GapConfig configures discontinuity detection thresholds, expressed as
// multiples of the expected sample interval (1/sampleRate).
type GapConfig struct {
	// GapFactor is the threshold beyond which a discontinuity counts as
	// a gap (continuity area boundary).
	GapFactor float64 `yaml:"gap_factor"`

	// BreakFactor is the threshold beyond which a discontinuity counts
	// as a break (new logical series).
	BreakFactor float64 `yaml:"break_factor"`
}

// CompressionConfig configures temp-storage payload compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: zstd, none.
	Algorithm string `yaml:"algorithm"`

	// Level is the zstd compression level (1-4, fastest to best).
	Level int `yaml:"level"`
}

// LoadConfig configures source parsing and loading behavior.
type LoadConfig struct {
	// Parallelism bounds the number of sources parsed concurrently.
	Parallelism int `yaml:"parallelism"`

	// SourceTimeout bounds a single blocking source read. Zero disables
	// the timeout.
	SourceTimeout time.Duration `yaml:"source_timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		TempDir: "data/temp",
		Panel: PanelConfig{
			CountUnit:    UnitTrace,
			UnitsInFrame: 10,
			Order:        OrderTraceName,
		},
		Gaps: GapConfig{
			GapFactor:   1.5,
			BreakFactor: 10.0,
		},
		Compression: CompressionConfig{
			Algorithm: "zstd",
			Level:     2,
		},
		Load: LoadConfig{
			Parallelism:   4,
			SourceTimeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFile loads configuration from a YAML file, applying defaults for
// unset fields.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return xerrors.NewMissingField("data_dir")
	}
	if c.TempDir == "" {
		return xerrors.NewMissingField("temp_dir")
	}
	if !validUnit(c.Panel.CountUnit) {
		return xerrors.NewValidation("panel.count_unit", string(c.Panel.CountUnit))
	}
	if !validOrder(c.Panel.Order) {
		return xerrors.NewValidation("panel.order", string(c.Panel.Order))
	}
	if c.Panel.CountUnit != UnitAll && c.Panel.UnitsInFrame <= 0 {
		return xerrors.NewValidation("panel.units_in_frame", "must be positive")
	}
	if c.Gaps.GapFactor <= 0 {
		return xerrors.NewValidation("gaps.gap_factor", "must be positive")
	}
	if c.Gaps.BreakFactor < c.Gaps.GapFactor {
		return xerrors.NewValidation("gaps.break_factor", "must be >= gaps.gap_factor")
	}
	switch strings.ToLower(c.Compression.Algorithm) {
	case "zstd", "none", "":
	default:
		return xerrors.NewValidation("compression.algorithm", c.Compression.Algorithm)
	}
	if c.Load.Parallelism <= 0 {
		return xerrors.NewValidation("load.parallelism", "must be positive")
	}
	return nil
}

// EnsureDirectories creates the data and temp directories if absent.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func validUnit(u PanelCountUnit) bool {
	for _, v := range ValidPanelCountUnits {
		if u == v {
			return true
		}
	}
	return false
}

func validOrder(o PanelOrder) bool {
	for _, v := range ValidPanelOrders {
		if o == v {
			return true
		}
	}
	return false
}
