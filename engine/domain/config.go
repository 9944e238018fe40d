package domain

import (
	"errors"
	"fmt"
	"sort"
)

// SlopeFormula selects how the minimum slope of a projected segment is found.
type SlopeFormula string

const (
	SlopeFormulaA      SlopeFormula = "A"
	SlopeFormulaB      SlopeFormula = "B"
	SlopeFormulaManual SlopeFormula = "manual"
)

// Direction is the order in which run numbers advance during sizing.
type Direction string

const (
	Ascending  Direction = "ascending"
	Descending Direction = "descending"
)

// DiameterEntry is one commercial diameter (mm) and its roughness.
type DiameterEntry struct {
	Diameter float64 `json:"diameter" yaml:"diameter"`
	ManningN float64 `json:"manning_n" yaml:"manning_n"`
}

// DesignConfig is the immutable parameter set of one run. Lengths and
// elevations are meters, flows L/s, diameters mm.
type DesignConfig struct {
	MinDiameter          float64         `json:"min_diameter" yaml:"min_diameter"`
	MinFlow              float64         `json:"min_flow" yaml:"min_flow"`
	MaxForcedDrop        float64         `json:"max_forced_drop" yaml:"max_forced_drop"`
	IgnorableStep        float64         `json:"ignorable_step" yaml:"ignorable_step"`
	MinStep              float64         `json:"min_step" yaml:"min_step"`
	MaxStep              float64         `json:"max_step" yaml:"max_step"`
	ProgressiveDiameters bool            `json:"progressive_diameters" yaml:"progressive_diameters"`
	EqualizeCrown        bool            `json:"equalize_crown" yaml:"equalize_crown"`
	MaxVelocity          float64         `json:"max_velocity" yaml:"max_velocity"`
	MinSlopeFormula      SlopeFormula    `json:"min_slope_formula" yaml:"min_slope_formula"`
	DiameterTable        []DiameterEntry `json:"diameter_table" yaml:"diameter_table"`
	Direction            Direction       `json:"direction" yaml:"direction"`

	// Segment defaults and warning thresholds.
	DefaultMinCover     float64 `json:"default_min_cover" yaml:"default_min_cover"`
	DefaultMaxFillRatio float64 `json:"default_max_fill_ratio" yaml:"default_max_fill_ratio"`
	MaxDepth            float64 `json:"max_depth" yaml:"max_depth"`
	SolverTolerance     float64 `json:"solver_tolerance" yaml:"solver_tolerance"`
}

// DefaultDesignConfig returns the parameter set used when nothing is configured.
func DefaultDesignConfig() DesignConfig {
	return DesignConfig{
		MinDiameter:     150,
		MinFlow:         1.5,
		MaxForcedDrop:   0,
		IgnorableStep:   0.02,
		MinStep:         0,
		MaxStep:         0.5,
		MaxVelocity:     5,
		MinSlopeFormula: SlopeFormulaA,
		DiameterTable: []DiameterEntry{
			{100, 0.013}, {150, 0.013}, {200, 0.013}, {250, 0.013}, {300, 0.013},
			{350, 0.013}, {400, 0.013}, {450, 0.013}, {500, 0.013}, {600, 0.013},
			{700, 0.013}, {800, 0.013}, {900, 0.013}, {1000, 0.013}, {1200, 0.013}, {1500, 0.013},
		},
		Direction:           Descending,
		DefaultMinCover:     0.9,
		DefaultMaxFillRatio: 0.75,
		MaxDepth:            5,
		SolverTolerance:     1e-8,
	}
}

// Validate checks the configuration, reporting every problem at once.
func (c DesignConfig) Validate() error {
	var errs []error
	if c.MinDiameter <= 0 {
		errs = append(errs, fmt.Errorf("min_diameter must be positive"))
	}
	if c.MinFlow < 0 {
		errs = append(errs, fmt.Errorf("min_flow must not be negative"))
	}
	if c.MaxVelocity <= 0 {
		errs = append(errs, fmt.Errorf("max_velocity must be positive"))
	}
	if c.MaxForcedDrop < 0 || c.IgnorableStep < 0 || c.MinStep < 0 || c.MaxStep < 0 {
		errs = append(errs, fmt.Errorf("step and drop limits must not be negative"))
	}
	if c.MinStep > c.MaxStep {
		errs = append(errs, fmt.Errorf("min_step %.3f exceeds max_step %.3f", c.MinStep, c.MaxStep))
	}
	switch c.MinSlopeFormula {
	case SlopeFormulaA, SlopeFormulaB, SlopeFormulaManual:
	default:
		errs = append(errs, fmt.Errorf("unknown min_slope_formula %q", c.MinSlopeFormula))
	}
	switch c.Direction {
	case Ascending, Descending:
	default:
		errs = append(errs, fmt.Errorf("unknown direction %q", c.Direction))
	}
	if len(c.DiameterTable) == 0 {
		errs = append(errs, fmt.Errorf("diameter_table is empty"))
	}
	if !sort.SliceIsSorted(c.DiameterTable, func(i, j int) bool {
		return c.DiameterTable[i].Diameter < c.DiameterTable[j].Diameter
	}) {
		errs = append(errs, fmt.Errorf("diameter_table must be sorted ascending"))
	}
	for _, e := range c.DiameterTable {
		if e.Diameter <= 0 || e.ManningN <= 0 {
			errs = append(errs, fmt.Errorf("diameter_table entry %v must be positive", e))
			break
		}
	}
	if len(c.DiameterTable) > 0 && c.DiameterTable[len(c.DiameterTable)-1].Diameter < c.MinDiameter {
		errs = append(errs, fmt.Errorf("no tabled diameter reaches min_diameter %.0f", c.MinDiameter))
	}
	if c.DefaultMaxFillRatio < 0 || c.DefaultMaxFillRatio > 1 {
		errs = append(errs, fmt.Errorf("default_max_fill_ratio must be within [0,1]"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Candidates returns the tabled diameters not smaller than minDiameter.
func (c DesignConfig) Candidates(minDiameter float64) []DiameterEntry {
	for i, e := range c.DiameterTable {
		if e.Diameter >= minDiameter {
			return c.DiameterTable[i:]
		}
	}
	return nil
}

// TableMinimum is the smallest tabled diameter allowed by MinDiameter.
func (c DesignConfig) TableMinimum() DiameterEntry {
	if cands := c.Candidates(c.MinDiameter); len(cands) > 0 {
		return cands[0]
	}
	return c.Largest()
}

// Largest is the last entry of the diameter table.
func (c DesignConfig) Largest() DiameterEntry {
	if len(c.DiameterTable) == 0 {
		return DiameterEntry{}
	}
	return c.DiameterTable[len(c.DiameterTable)-1]
}

// DemandModel holds the population scalars behind the system design flows.
type DemandModel struct {
	PopulationInitial float64 `json:"population_initial" yaml:"population_initial"`
	PopulationFinal   float64 `json:"population_final" yaml:"population_final"`
	PerCapitaFlow     float64 `json:"per_capita_flow" yaml:"per_capita_flow"` // L/inhabitant/day
	DailyPeakFactor   float64 `json:"daily_peak_factor" yaml:"daily_peak_factor"`
	HourlyPeakFactor  float64 `json:"hourly_peak_factor" yaml:"hourly_peak_factor"`
	ReturnCoefficient float64 `json:"return_coefficient" yaml:"return_coefficient"`
	InfiltrationRate  float64 `json:"infiltration_rate" yaml:"infiltration_rate"` // L/s/m
}

// DefaultDemandModel returns the usual peaking and return coefficients with no population.
func DefaultDemandModel() DemandModel {
	return DemandModel{
		PerCapitaFlow:     150,
		DailyPeakFactor:   1.2,
		HourlyPeakFactor:  1.5,
		ReturnCoefficient: 0.8,
		InfiltrationRate:  0.0001,
	}
}

// FormatDisplayID renders a run/sequence pair as "run-seq".
func FormatDisplayID(runNo, seqNo int) string {
	return fmt.Sprintf("%d-%02d", runNo, seqNo)
}
