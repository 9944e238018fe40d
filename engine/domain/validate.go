package domain

import (
	"fmt"
	"math"
)

// ValidateSegment checks the topology fields every stage relies on.
func ValidateSegment(s PipeSegment) error {
	if s.ID == "" {
		return MissingField("<unnamed>", "id")
	}
	if s.UpstreamNode == "" {
		return MissingField(s.ID, "upstream_node")
	}
	if s.DownstreamNode == "" {
		return MissingField(s.ID, "downstream_node")
	}
	if s.UpstreamNode == s.DownstreamNode {
		return &SegmentError{SegmentID: s.ID, Field: "downstream_node", Reason: "segment loops on its own node", Wrapped: ErrInvalidTopology}
	}
	if !(s.Length > 0) || math.IsInf(s.Length, 0) {
		return &SegmentError{SegmentID: s.ID, Field: "length", Reason: fmt.Sprintf("length %v must be positive", s.Length), Wrapped: ErrMissingRequiredField}
	}
	if s.SidesContributing < 0 || s.SidesContributing > 2 {
		return &SegmentError{SegmentID: s.ID, Field: "sides_contributing", Reason: "must be 0, 1 or 2", Wrapped: ErrMissingRequiredField}
	}
	if s.DesignStage < StageExisting || s.DesignStage > StageTwo {
		return &SegmentError{SegmentID: s.ID, Field: "design_stage", Reason: "must be 0, 1 or 2", Wrapped: ErrMissingRequiredField}
	}
	return nil
}

// ValidateForSizing checks that a segment carries every value the sizing
// engine needs. It does not modify the segment.
func ValidateForSizing(s PipeSegment, cfg DesignConfig) error {
	if err := ValidateSegment(s); err != nil {
		return err
	}
	if _, err := EffectiveMaxFillRatio(s, cfg); err != nil {
		return err
	}
	if !s.DesignStage.Projected() {
		switch {
		case s.Diameter == nil || *s.Diameter <= 0:
			return MissingField(s.ID, "diameter")
		case s.ManningN == nil || *s.ManningN <= 0:
			return MissingField(s.ID, "manning_n")
		case s.InvertUp == nil:
			return MissingField(s.ID, "invert_up")
		case s.InvertDown == nil:
			return MissingField(s.ID, "invert_down")
		}
		return nil
	}
	if s.GroundElevUp == nil {
		return MissingField(s.ID, "ground_elev_up")
	}
	if s.GroundElevDown == nil {
		return MissingField(s.ID, "ground_elev_down")
	}
	if _, err := EffectiveMinCover(s, cfg); err != nil {
		return err
	}
	if cfg.MinSlopeFormula == SlopeFormulaManual && (s.MinSlopeOverride == nil || *s.MinSlopeOverride <= 0) {
		return MissingField(s.ID, "min_slope_override")
	}
	return nil
}

// EffectiveMinCover returns the segment cover or the configured default.
func EffectiveMinCover(s PipeSegment, cfg DesignConfig) (float64, error) {
	if s.MinCover != nil {
		return *s.MinCover, nil
	}
	if cfg.DefaultMinCover > 0 {
		return cfg.DefaultMinCover, nil
	}
	return 0, MissingField(s.ID, "min_cover")
}

// EffectiveMaxFillRatio returns the segment y/d limit or the configured default.
func EffectiveMaxFillRatio(s PipeSegment, cfg DesignConfig) (float64, error) {
	v := cfg.DefaultMaxFillRatio
	if s.MaxFillRatio != nil {
		v = *s.MaxFillRatio
	}
	if !(v > 0 && v <= 1) {
		return 0, MissingField(s.ID, "max_fill_ratio")
	}
	return v, nil
}
