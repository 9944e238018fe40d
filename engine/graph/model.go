// Package graph stores sewer networks in Neo4j. Manholes are :Manhole
// nodes, pipes are :PIPE relationships between them and interferences are
// :Interference nodes keyed to the pipe they cross.
package graph

import (
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/WessleyAI/sewernet/engine/domain"
)

// Graph vocabulary.
const (
	LabelManhole      = "Manhole"
	LabelInterference = "Interference"
	RelPipe           = "PIPE"
)

func pipeToMap(s domain.PipeSegment) map[string]any {
	return map[string]any{
		"id":                 s.ID,
		"run_no":             int64(s.RunNo),
		"seq_no":             int64(s.SeqNo),
		"upstream_node":      s.UpstreamNode,
		"downstream_node":    s.DownstreamNode,
		"is_dry_end":         s.IsDryEnd,
		"sides_contributing": int64(s.SidesContributing),
		"length":             s.Length,
		"ground_elev_up":     optValue(s.GroundElevUp),
		"ground_elev_down":   optValue(s.GroundElevDown),
		"local_flow_initial": s.LocalFlowInitial,
		"local_flow_final":   s.LocalFlowFinal,
		"design_stage":       int64(s.DesignStage),
		"min_cover":          optValue(s.MinCover),
		"max_fill_ratio":     optValue(s.MaxFillRatio),
		"min_slope_override": optValue(s.MinSlopeOverride),
		"diameter":           optValue(s.Diameter),
		"manning_n":          optValue(s.ManningN),
		"invert_up":          optValue(s.InvertUp),
		"invert_down":        optValue(s.InvertDown),

		"flow_initial":       s.FlowInitial,
		"flow_final":         s.FlowFinal,
		"slope":              s.Slope,
		"min_slope":          s.MinSlope,
		"water_surface_up":   s.WaterSurfaceUp,
		"water_surface_down": s.WaterSurfaceDown,
		"cover_up":           s.CoverUp,
		"cover_down":         s.CoverDown,
		"velocity_initial":   s.VelocityInitial,
		"velocity_final":     s.VelocityFinal,
		"critical_velocity":  s.CriticalVelocity,
		"tractive_stress":    s.TractiveStress,
		"fill_ratio_initial": s.FillRatioInitial,
		"fill_ratio_final":   s.FillRatioFinal,
		"drop":               s.Drop,
		"drop_kind":          string(s.DropKind),
		"remarks":            s.Remarks.String(),
	}
}

func pipeFromRecord(rec *neo4j.Record) (domain.PipeSegment, error) {
	rel, _, err := neo4j.GetRecordValue[dbtype.Relationship](rec, "n")
	if err != nil {
		return domain.PipeSegment{}, err
	}
	return pipeFromProps(rel.Props)
}

func pipeFromProps(p map[string]any) (domain.PipeSegment, error) {
	remarks, err := domain.ParseRemarks(strProp(p, "remarks"))
	if err != nil {
		return domain.PipeSegment{}, fmt.Errorf("pipe %s: %w", strProp(p, "id"), err)
	}
	s := domain.PipeSegment{
		ID:                strProp(p, "id"),
		RunNo:             intProp(p, "run_no"),
		SeqNo:             intProp(p, "seq_no"),
		UpstreamNode:      strProp(p, "upstream_node"),
		DownstreamNode:    strProp(p, "downstream_node"),
		IsDryEnd:          boolProp(p, "is_dry_end"),
		SidesContributing: intProp(p, "sides_contributing"),
		Length:            floatProp(p, "length"),
		GroundElevUp:      optProp(p, "ground_elev_up"),
		GroundElevDown:    optProp(p, "ground_elev_down"),
		LocalFlowInitial:  floatProp(p, "local_flow_initial"),
		LocalFlowFinal:    floatProp(p, "local_flow_final"),
		DesignStage:       domain.DesignStage(intProp(p, "design_stage")),
		MinCover:          optProp(p, "min_cover"),
		MaxFillRatio:      optProp(p, "max_fill_ratio"),
		MinSlopeOverride:  optProp(p, "min_slope_override"),
		Diameter:          optProp(p, "diameter"),
		ManningN:          optProp(p, "manning_n"),
		InvertUp:          optProp(p, "invert_up"),
		InvertDown:        optProp(p, "invert_down"),
	}
	s.Hydraulics = domain.Hydraulics{
		FlowInitial:      floatProp(p, "flow_initial"),
		FlowFinal:        floatProp(p, "flow_final"),
		Slope:            floatProp(p, "slope"),
		MinSlope:         floatProp(p, "min_slope"),
		WaterSurfaceUp:   floatProp(p, "water_surface_up"),
		WaterSurfaceDown: floatProp(p, "water_surface_down"),
		CoverUp:          floatProp(p, "cover_up"),
		CoverDown:        floatProp(p, "cover_down"),
		VelocityInitial:  floatProp(p, "velocity_initial"),
		VelocityFinal:    floatProp(p, "velocity_final"),
		CriticalVelocity: floatProp(p, "critical_velocity"),
		TractiveStress:   floatProp(p, "tractive_stress"),
		FillRatioInitial: floatProp(p, "fill_ratio_initial"),
		FillRatioFinal:   floatProp(p, "fill_ratio_final"),
		Drop:             floatProp(p, "drop"),
		DropKind:         domain.DropKind(strProp(p, "drop_kind")),
		Remarks:          remarks,
	}
	return s, nil
}

func interferenceToMap(it domain.Interference) map[string]any {
	return map[string]any{
		"id":                     it.ID,
		"segment_id":             it.SegmentID,
		"kind":                   string(it.Kind),
		"distance_from_upstream": it.DistanceFromUpstream,
		"top_elevation":          it.TopElevation,
		"bottom_elevation":       it.BottomElevation,
		"object_diameter":        optValue(it.ObjectDiameter),
		"object_invert":          optValue(it.ObjectInvert),
	}
}

func interferenceFromRecord(rec *neo4j.Record) (domain.Interference, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Interference{}, err
	}
	p := node.Props
	return domain.Interference{
		ID:                   strProp(p, "id"),
		SegmentID:            strProp(p, "segment_id"),
		Kind:                 domain.InterferenceKind(strProp(p, "kind")),
		DistanceFromUpstream: floatProp(p, "distance_from_upstream"),
		TopElevation:         floatProp(p, "top_elevation"),
		BottomElevation:      floatProp(p, "bottom_elevation"),
		ObjectDiameter:       optProp(p, "object_diameter"),
		ObjectInvert:         optProp(p, "object_invert"),
	}, nil
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func boolProp(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}

// Neo4j returns integers as int64 and may hand back whole floats as either.
func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatProp(props map[string]any, key string) float64 {
	if p := optProp(props, key); p != nil {
		return *p
	}
	return 0
}

func optProp(props map[string]any, key string) *float64 {
	switch v := props[key].(type) {
	case float64:
		return domain.Ptr(v)
	case int64:
		return domain.Ptr(float64(v))
	}
	return nil
}

// optValue turns an unset field into a null property, which SET += removes.
func optValue(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
