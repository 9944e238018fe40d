// Package interference moves a trial invert line clear of point obstructions.
package interference

import (
	"cmp"
	"math"
	"slices"

	"github.com/WessleyAI/sewernet/engine/domain"
)

const eps = 1e-9

// Line is a straight invert line over a segment. Diameter is mm.
type Line struct {
	InvertUp   float64
	InvertDown float64
	Length     float64
	Diameter   float64
}

// Slope is the fall per meter of the line.
func (l Line) Slope() float64 { return (l.InvertUp - l.InvertDown) / l.Length }

// InvertAt is the invert elevation x meters from the upstream end.
func (l Line) InvertAt(x float64) float64 { return l.InvertUp - l.Slope()*x }

// CrownAt is the crown elevation x meters from the upstream end.
func (l Line) CrownAt(x float64) float64 { return l.InvertAt(x) + l.Diameter/1000 }

// Collides reports whether the pipe band overlaps the obstruction band.
func (l Line) Collides(it domain.Interference) bool {
	x := it.DistanceFromUpstream
	return l.InvertAt(x) < it.TopElevation-eps && l.CrownAt(x) > it.BottomElevation+eps
}

// Action names how a collision was cleared.
type Action string

const (
	ActionPivot Action = "pivot"
	ActionLower Action = "lower"
)

// Adjustment records one collision and how it was cleared. Both drops are
// in meters.
type Adjustment struct {
	InterferenceID string  `json:"interference_id"`
	Action         Action  `json:"action"`
	LoweredUp      float64 `json:"lowered_up"`
	LoweredDown    float64 `json:"lowered_down"`
}

// Limits bound the resolver. A regraded line keeps its slope within
// [MinSlope, MaxSlope]; a zero MaxSlope means unbounded.
type Limits struct {
	MinSlope   float64
	MaxSlope   float64
	GroundUp   float64
	GroundDown float64
}

// ObjectBand derives a buried object's elevation band from its diameter (mm)
// and invert when neither elevation is given.
func ObjectBand(it domain.Interference) domain.Interference {
	if it.TopElevation != 0 || it.BottomElevation != 0 || it.ObjectInvert == nil || it.ObjectDiameter == nil {
		return it
	}
	it.BottomElevation = *it.ObjectInvert
	it.TopElevation = *it.ObjectInvert + *it.ObjectDiameter/1000
	return it
}

// ClampGround raises a ground-surface obstruction's top to the higher ground
// elevation so that only its bottom decides the collision.
func ClampGround(it domain.Interference, groundUp, groundDown float64) domain.Interference {
	if it.Kind == domain.KindGroundSurface {
		it.TopElevation = math.Max(groundUp, groundDown)
	}
	return it
}

// Resolve clears each obstruction in order of distance from the upstream
// end. A collision in the upstream half is first cleared by regrading the line
// about its downstream invert, so only the upstream end drops, provided the
// new slope stays within the limits; otherwise, and for the downstream half,
// both ends are lowered by the overlap. Every adjustment is carried into the
// next check.
func Resolve(line Line, items []domain.Interference, lim Limits) (Line, []Adjustment) {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b domain.Interference) int {
		return cmp.Compare(a.DistanceFromUpstream, b.DistanceFromUpstream)
	})

	var adj []Adjustment
	d := line.Diameter / 1000
	for _, raw := range sorted {
		it := ClampGround(ObjectBand(raw), lim.GroundUp, lim.GroundDown)
		if !line.Collides(it) {
			continue
		}
		x := it.DistanceFromUpstream
		if x >= 0 && x < line.Length/2 {
			// Line through the cleared point and the fixed downstream invert.
			slope := (it.BottomElevation - d - line.InvertDown) / (line.Length - x)
			if slope > 0 && slope >= lim.MinSlope-eps && (lim.MaxSlope <= 0 || slope <= lim.MaxSlope+eps) {
				up := line.InvertDown + slope*line.Length
				adj = append(adj, Adjustment{InterferenceID: it.ID, Action: ActionPivot, LoweredUp: line.InvertUp - up})
				line.InvertUp = up
				continue
			}
		}
		overlap := line.CrownAt(x) - it.BottomElevation
		line.InvertUp -= overlap
		line.InvertDown -= overlap
		adj = append(adj, Adjustment{InterferenceID: it.ID, Action: ActionLower, LoweredUp: overlap, LoweredDown: overlap})
	}
	return line, adj
}
