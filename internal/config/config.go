// Package config loads quantization settings from YAML.
//
// Pointer fields distinguish "not set" from zero values, so a file only
// overrides what it names and command-line flags can override the rest.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/ptq/internal/algorithms"
	"github.com/born-ml/ptq/internal/algorithms/fbc"
	"github.com/born-ml/ptq/internal/algorithms/minmax"
)

// DefaultNumSamples is the calibration subset size.
const DefaultNumSamples = 100

// Config is the quantization configuration file.
type Config struct {
	// Backend names the model representation; empty detects it from the model.
	Backend    string `yaml:"backend"`
	NumSamples *int   `yaml:"num_samples"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	FastBiasCorrection FastBiasCorrection `yaml:"fast_bias_correction"`
	MinMax             MinMax             `yaml:"min_max"`
}

// FastBiasCorrection configures fast bias correction.
type FastBiasCorrection struct {
	Enabled         *bool    `yaml:"enabled"`
	Threshold       *float64 `yaml:"threshold"`
	ApplyToAllNodes *bool    `yaml:"apply_to_all_nodes"`
}

// MinMax configures min-max quantization.
type MinMax struct {
	Enabled              *bool    `yaml:"enabled"`
	PerChannelWeights    *bool    `yaml:"per_channel_weights"`
	SymmetricActivations *bool    `yaml:"symmetric_activations"`
	IgnoredNames         []string `yaml:"ignored_names"`
}

func ptr[T any](v T) *T {
	return &v
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// Default returns a configuration with every field set to its default.
func Default() Config {
	return Config{
		NumSamples: ptr(DefaultNumSamples),
		LogLevel:   "info",
		LogFormat:  "text",
		FastBiasCorrection: FastBiasCorrection{
			Enabled:         ptr(true),
			Threshold:       ptr(fbc.DefaultThreshold),
			ApplyToAllNodes: ptr(false),
		},
		MinMax: MinMax{
			Enabled:              ptr(true),
			PerChannelWeights:    ptr(true),
			SymmetricActivations: ptr(false),
		},
	}
}

// Parse decodes YAML. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and names.
func (c Config) Validate() error {
	var errs []error
	if c.Backend != "" {
		if _, err := algorithms.ParseBackendType(c.Backend); err != nil {
			errs = append(errs, err)
		}
	}
	if c.NumSamples != nil && *c.NumSamples < 0 {
		errs = append(errs, fmt.Errorf("num_samples must not be negative, got %d", *c.NumSamples))
	}
	if t := c.FastBiasCorrection.Threshold; t != nil && !(*t >= 0) {
		errs = append(errs, fmt.Errorf("fast_bias_correction.threshold must be a non-negative number, got %v", *t))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SampleCount returns the calibration subset size; 0 means every sample.
func (c Config) SampleCount() int {
	return valueOr(c.NumSamples, DefaultNumSamples)
}

// FBCEnabled reports whether fast bias correction runs.
func (c Config) FBCEnabled() bool {
	return valueOr(c.FastBiasCorrection.Enabled, true)
}

// FBCParams resolves the fast bias correction parameters.
func (c Config) FBCParams() fbc.Params {
	return fbc.Params{
		Threshold:       valueOr(c.FastBiasCorrection.Threshold, fbc.DefaultThreshold),
		NumSamples:      c.SampleCount(),
		ApplyToAllNodes: valueOr(c.FastBiasCorrection.ApplyToAllNodes, false),
	}
}

// MinMaxEnabled reports whether min-max quantization runs.
func (c Config) MinMaxEnabled() bool {
	return valueOr(c.MinMax.Enabled, true)
}

// MinMaxParams resolves the min-max parameters.
func (c Config) MinMaxParams() minmax.Params {
	return minmax.Params{
		NumSamples:           c.SampleCount(),
		PerChannelWeights:    valueOr(c.MinMax.PerChannelWeights, true),
		SymmetricActivations: valueOr(c.MinMax.SymmetricActivations, false),
		IgnoredNames:         c.MinMax.IgnoredNames,
	}
}

// SetThreshold overrides the fast bias correction threshold.
func (c *Config) SetThreshold(v float64) {
	c.FastBiasCorrection.Threshold = ptr(v)
}

// SetNumSamples overrides the calibration subset size.
func (c *Config) SetNumSamples(n int) {
	c.NumSamples = ptr(n)
}

// SetApplyToAllNodes overrides fast bias correction gating.
func (c *Config) SetApplyToAllNodes(v bool) {
	c.FastBiasCorrection.ApplyToAllNodes = ptr(v)
}
