package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/WessleyAI/sewernet/engine/domain"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"SEWER_MIN_DIAMETER", "SEWER_MAX_VELOCITY", "SEWER_MIN_FLOW",
		"SEWER_POPULATION_INITIAL", "SEWER_POPULATION_FINAL", "SEWER_SLOPE_FORMULA", "SEWER_DIRECTION"} {
		t.Setenv(k, "")
	}
}

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "design.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Design.MinDiameter != 150 || cfg.Demand.PerCapitaFlow != 150 || cfg.Trace.Tolerance != 0.01 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := write(t, `
design:
  min_diameter: 200
  min_slope_formula: B
  diameter_table:
    - {diameter: 200, manning_n: 0.013}
    - {diameter: 300, manning_n: 0.013}
demand:
  population_final: 12000
auto_reorder: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Design.MinDiameter != 200 || cfg.Design.MinSlopeFormula != domain.SlopeFormulaB || len(cfg.Design.DiameterTable) != 2 {
		t.Fatalf("design = %+v", cfg.Design)
	}
	if cfg.Design.MaxVelocity != domain.DefaultDesignConfig().MaxVelocity {
		t.Fatal("unset fields must keep their defaults")
	}
	if cfg.Demand.PopulationFinal != 12000 || cfg.Demand.DailyPeakFactor != 1.2 || !cfg.AutoReorder {
		t.Fatalf("demand = %+v", cfg.Demand)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(write(t, "")); err != nil {
		t.Fatalf("empty file should load defaults: %v", err)
	}
}

func TestLoad_UnknownField(t *testing.T) {
	clearEnv(t)
	if _, err := Load(write(t, "design:\n  min_diamter: 200\n")); err == nil {
		t.Fatal("misspelled field should be rejected")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEWER_MIN_DIAMETER", "200")
	t.Setenv("SEWER_MAX_VELOCITY", "4.5")
	t.Setenv("SEWER_SLOPE_FORMULA", "manual")
	t.Setenv("SEWER_DIRECTION", "ascending")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	d := cfg.Design
	if d.MinDiameter != 200 || d.MaxVelocity != 4.5 || d.MinSlopeFormula != domain.SlopeFormulaManual || d.Direction != domain.Ascending {
		t.Fatalf("design = %+v", d)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		body string
	}{
		{"bad number", map[string]string{"SEWER_MAX_VELOCITY": "fast"}, ""},
		{"bad formula", map[string]string{"SEWER_SLOPE_FORMULA": "C"}, ""},
		{"negative population", nil, "demand:\n  population_initial: -1\n"},
		{"zero peak factor", nil, "demand:\n  daily_peak_factor: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(write(t, tt.body))
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
