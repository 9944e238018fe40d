// Package config loads design parameters from YAML with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/sewernet/engine/domain"
)

// Config is the content of a design parameter file.
type Config struct {
	Design      domain.DesignConfig `yaml:"design"`
	Demand      domain.DemandModel  `yaml:"demand"`
	Trace       TraceConfig         `yaml:"trace"`
	AutoReorder bool                `yaml:"auto_reorder"`
}

// TraceConfig controls network discovery.
type TraceConfig struct {
	Tolerance  float64 `yaml:"tolerance"`
	Geographic bool    `yaml:"geographic"`
}

// Default returns the parameters used when no file is given.
func Default() Config {
	return Config{
		Design: domain.DefaultDesignConfig(),
		Demand: domain.DefaultDemandModel(),
		Trace:  TraceConfig{Tolerance: 0.01},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from SEWER_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	floats := []struct {
		key string
		dst *float64
	}{
		{"SEWER_MIN_DIAMETER", &c.Design.MinDiameter},
		{"SEWER_MAX_VELOCITY", &c.Design.MaxVelocity},
		{"SEWER_MIN_FLOW", &c.Design.MinFlow},
		{"SEWER_POPULATION_INITIAL", &c.Demand.PopulationInitial},
		{"SEWER_POPULATION_FINAL", &c.Demand.PopulationFinal},
	}
	for _, f := range floats {
		v, ok := lookup(f.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", domain.ErrInvalidConfig, f.key, v, err)
		}
		*f.dst = n
	}
	if v, ok := lookup("SEWER_SLOPE_FORMULA"); ok && v != "" {
		c.Design.MinSlopeFormula = domain.SlopeFormula(v)
	}
	if v, ok := lookup("SEWER_DIRECTION"); ok && v != "" {
		c.Design.Direction = domain.Direction(v)
	}
	return nil
}

// Validate checks the design parameters and the demand model together.
func (c Config) Validate() error {
	var errs []error
	if err := c.Design.Validate(); err != nil {
		errs = append(errs, err)
	}
	d := c.Demand
	if d.PopulationInitial < 0 || d.PopulationFinal < 0 {
		errs = append(errs, fmt.Errorf("%w: population must not be negative", domain.ErrInvalidConfig))
	}
	if d.PerCapitaFlow < 0 || d.ReturnCoefficient < 0 || d.InfiltrationRate < 0 {
		errs = append(errs, fmt.Errorf("%w: demand coefficients must not be negative", domain.ErrInvalidConfig))
	}
	if d.DailyPeakFactor <= 0 || d.HourlyPeakFactor <= 0 {
		errs = append(errs, fmt.Errorf("%w: peak factors must be positive", domain.ErrInvalidConfig))
	}
	if c.Trace.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("%w: trace tolerance must not be negative", domain.ErrInvalidConfig))
	}
	return errors.Join(errs...)
}
