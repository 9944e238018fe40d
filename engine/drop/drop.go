// Package drop measures the elevation discontinuity at each segment's
// downstream manhole once every invert is final.
package drop

import (
	"math"

	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/topology"
)

// Elevations closer than this are the same.
const tolerance = 1e-9

// Classify returns the kind of discontinuity for a drop (m).
func Classify(drop, maxStep float64) domain.DropKind {
	switch {
	case drop < -tolerance:
		return domain.DropNegative
	case drop <= tolerance:
		return domain.DropNone
	case drop <= maxStep:
		return domain.DropStep
	default:
		return domain.DropStructure
	}
}

// Measure returns segs[i].InvertDown minus the lowest upstream invert of the
// segments leaving its downstream node. A segment with no outgoing segment
// has zero drop.
func Measure(segs []domain.PipeSegment, x *topology.Index, i int) float64 {
	s := segs[i]
	if s.InvertDown == nil {
		return 0
	}
	lowest := math.Inf(1)
	for _, j := range x.Next(i) {
		if segs[j].InvertUp != nil {
			lowest = math.Min(lowest, *segs[j].InvertUp)
		}
	}
	if math.IsInf(lowest, 1) {
		return 0
	}
	return *s.InvertDown - lowest
}

// Apply measures and classifies segs[i] in place, setting the negative-drop
// remark. It returns true when the drop is negative.
func Apply(segs []domain.PipeSegment, x *topology.Index, i int, maxStep float64) bool {
	d := Measure(segs, x, i)
	s := &segs[i]
	s.Drop = d
	s.DropKind = Classify(d, maxStep)
	s.Remarks &^= domain.RemarkNegativeDrop
	if s.DropKind == domain.DropNegative {
		s.Remarks |= domain.RemarkNegativeDrop
		return true
	}
	return false
}
