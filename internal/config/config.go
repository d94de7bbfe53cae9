package config

import (
	"fmt"
	"time"

	"github.com/ossyrian/evoswf/internal/parser"
)

// Config holds app configuration
type Config struct {
	OutputDir  string `mapstructure:"output_dir"`
	OutputFile string `mapstructure:"output"`

	// Workers bounds per-tag classification, or per-file extraction when
	// the input is a directory.
	Workers int `mapstructure:"workers"`

	// CacheDir holds the persistent classification cache. Empty keeps the
	// cache in memory for the run.
	CacheDir string        `mapstructure:"cache_dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// Declared-length sanity band, as a ratio of the decompressed body.
	SizeToleranceMin float64 `mapstructure:"size_tolerance_min"`
	SizeToleranceMax float64 `mapstructure:"size_tolerance_max"`
	// LengthField is "disk" (on-disk file size) or "body" (uncompressed
	// size, as Flash Player writes it).
	LengthField string `mapstructure:"length_field"`

	// PositionXOR enables the position-seeded XOR trials for unknown
	// high-entropy tags.
	PositionXOR bool `mapstructure:"position_xor"`

	DryRun       bool   `mapstructure:"dry_run"`
	LogLevel     string `mapstructure:"log_level"`
	LogOutputDir string `mapstructure:"log_output_dir"`
}

// ParserOptions converts the size-check settings.
func (c *Config) ParserOptions() (parser.Options, error) {
	opts := parser.DefaultOptions()
	if c.SizeToleranceMin > 0 {
		opts.ToleranceMin = c.SizeToleranceMin
	}
	if c.SizeToleranceMax > 0 {
		opts.ToleranceMax = c.SizeToleranceMax
	}
	if opts.ToleranceMin > opts.ToleranceMax {
		return parser.Options{}, fmt.Errorf("size_tolerance_min %.2f exceeds size_tolerance_max %.2f", opts.ToleranceMin, opts.ToleranceMax)
	}

	lf, err := parser.ParseLengthField(c.LengthField)
	if err != nil {
		return parser.Options{}, err
	}
	opts.LengthField = lf
	return opts, nil
}
