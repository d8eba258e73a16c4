package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/burrow/convert"
	"github.com/pithecene-io/burrow/sampling"
	"github.com/pithecene-io/burrow/types"
)

// Config represents a burrow.yaml configuration file.
// All values are optional. Load parses and validates the file; the CLI
// commands do not read it, so it sets no flag defaults.
type Config struct {
	Strategy string         `yaml:"strategy"`
	Sampling SamplingConfig `yaml:"sampling"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Output   OutputConfig   `yaml:"output"`
	Overhead OverheadConfig `yaml:"overhead"`
	Adapter  AdapterConfig  `yaml:"adapter"`
}

// SamplingConfig holds the sampling parameters from the config file.
type SamplingConfig struct {
	SampleRateSmall       float64 `yaml:"sample_rate_small"`
	SampleRateMedium      float64 `yaml:"sample_rate_medium"`
	SizeThresholdMedium   uint64  `yaml:"size_threshold_medium"`
	SizeThresholdCritical uint64  `yaml:"size_threshold_critical"`
	FrequencyInterval     uint64  `yaml:"frequency_interval"`
	MaxRecordsPerThread   uint64  `yaml:"max_records_per_thread"`
	Seed                  uint64  `yaml:"seed"`
}

// BufferConfig holds ring buffer defaults.
type BufferConfig struct {
	// Capacity is the per-ring capacity; must be a power of two.
	Capacity int `yaml:"capacity"`
	// OnOverflow is "drop" (default) or "block" (offline/testing only).
	OnOverflow string `yaml:"on_overflow"`
}

// OutputConfig holds export defaults.
type OutputConfig struct {
	// Format is "binary", "json_views", or "both".
	Format string `yaml:"format"`
	// Compression is "none" or "zstd".
	Compression string `yaml:"compression"`
	// Dir is the export directory for the fs backend.
	Dir string `yaml:"dir"`
	// Backend is "fs" (default) or "s3".
	Backend string `yaml:"backend"`
	// Path is the S3 "bucket/prefix" for the s3 backend.
	Path string `yaml:"path"`
	// Region is the AWS region for the s3 backend.
	Region string `yaml:"region"`
	// Endpoint overrides the S3 endpoint for compatible providers.
	Endpoint string `yaml:"endpoint"`
	// S3PathStyle forces path-style addressing.
	S3PathStyle bool `yaml:"s3_path_style"`
	// Prefix names artifacts; defaults to "burrow".
	Prefix string `yaml:"prefix"`
	// Views selects JSON views; empty means all.
	Views []string `yaml:"views,omitempty"`
	// SpillDir bounds aggregator memory between snapshots.
	SpillDir string `yaml:"spill_dir"`
}

// OverheadConfig holds the self-observation ceiling.
type OverheadConfig struct {
	// MaxPercent is the overhead ceiling; zero disables the governor.
	MaxPercent float64 `yaml:"max_percent"`
}

// AdapterConfig holds notification adapter defaults. Retry policy is
// not configured here: delivery runs under the profiler's recovery
// engine.
type AdapterConfig struct {
	Type    string            `yaml:"type"` // "webhook" or "redis"
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// SamplingParams converts the file section into decider parameters,
// filling unset fields from the production defaults.
func (c *Config) SamplingParams() sampling.Config {
	out := sampling.DefaultConfig()
	s := c.Sampling
	if s.SampleRateSmall > 0 {
		out.SmallSampleRate = s.SampleRateSmall
	}
	if s.SampleRateMedium > 0 {
		out.MediumSampleRate = s.SampleRateMedium
	}
	if s.SizeThresholdMedium > 0 {
		out.MediumSizeThreshold = s.SizeThresholdMedium
	}
	if s.SizeThresholdCritical > 0 {
		out.CriticalSizeThreshold = s.SizeThresholdCritical
	}
	if s.FrequencyInterval > 0 {
		out.FrequencySampleInterval = s.FrequencyInterval
	}
	out.MaxRecordsPerThread = s.MaxRecordsPerThread
	out.Seed = s.Seed
	return out
}

// Topology returns the configured strategy, defaulting to auto.
func (c *Config) Topology() types.Topology {
	if c.Strategy == "" {
		return types.TopologyAuto
	}
	return types.Topology(c.Strategy)
}

// Validate rejects values outside the recognized vocabulary.
func (c *Config) Validate() error {
	if !c.Topology().Valid() {
		return fmt.Errorf("invalid strategy %q", c.Strategy)
	}
	switch c.Output.Compression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("invalid compression %q (use none or zstd)", c.Output.Compression)
	}
	switch c.Output.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("invalid output backend %q (use fs or s3)", c.Output.Backend)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("invalid adapter type %q (use webhook or redis)", c.Adapter.Type)
	}
	known := make(map[string]bool)
	for _, v := range convert.AllViews() {
		known[v] = true
	}
	for _, v := range c.Output.Views {
		if !known[v] {
			return fmt.Errorf("unknown view %q", v)
		}
	}
	return nil
}
