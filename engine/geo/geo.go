// Package geo locates manholes so the chain tracer can join segments whose
// endpoints are digitized a little apart.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/trace"
)

// Index maps manhole ids to points.
type Index struct {
	points     map[string]orb.Point
	geographic bool
}

// NewIndex indexes the manholes of a network. Geographic coordinates are
// measured with the haversine formula, projected ones in the plane.
func NewIndex(manholes []domain.Manhole, geographic bool) *Index {
	x := &Index{points: make(map[string]orb.Point, len(manholes)), geographic: geographic}
	for _, m := range manholes {
		x.points[m.ID] = orb.Point{m.X, m.Y}
	}
	return x
}

// Len is the number of located manholes.
func (x *Index) Len() int { return len(x.points) }

// Point returns the location of a manhole.
func (x *Index) Point(id string) (orb.Point, bool) {
	p, ok := x.points[id]
	return p, ok
}

// Distance is a trace.DistanceFunc. Unlocated manholes only touch themselves.
func (x *Index) Distance(a, b string) float64 {
	pa, okA := x.points[a]
	pb, okB := x.points[b]
	if !okA || !okB {
		return trace.SameNode(a, b)
	}
	return x.measure(pa, pb)
}

func (x *Index) measure(a, b orb.Point) float64 {
	if x.geographic {
		return geo.DistanceHaversine(a, b)
	}
	return planar.Distance(a, b)
}

// Line is the straight run of a segment between its manholes.
func (x *Index) Line(s domain.PipeSegment) (orb.LineString, bool) {
	up, okU := x.points[s.UpstreamNode]
	down, okD := x.points[s.DownstreamNode]
	if !okU || !okD {
		return nil, false
	}
	return orb.LineString{up, down}, true
}

// Length measures a segment between its manholes.
func (x *Index) Length(s domain.PipeSegment) (float64, bool) {
	ls, ok := x.Line(s)
	if !ok {
		return 0, false
	}
	if x.geographic {
		return geo.LengthHaversine(ls), true
	}
	return planar.Length(ls), true
}

// Nearest returns the manhole closest to p within maxDist.
func (x *Index) Nearest(p orb.Point, maxDist float64) (string, bool) {
	best, bestID := math.Inf(1), ""
	for id, q := range x.points {
		d := x.measure(p, q)
		if d < best || (d == best && id < bestID) {
			best, bestID = d, id
		}
	}
	return bestID, bestID != "" && best <= maxDist
}

// Bound covers every manhole.
func (x *Index) Bound() orb.Bound {
	mp := make(orb.MultiPoint, 0, len(x.points))
	for _, p := range x.points {
		mp = append(mp, p)
	}
	return mp.Bound()
}

// LengthMismatch is a segment whose recorded length disagrees with its geometry.
type LengthMismatch struct {
	SegmentID string  `json:"segment_id"`
	Recorded  float64 `json:"recorded"`
	Measured  float64 `json:"measured"`
}

// CheckLengths lists segments whose recorded length differs from the
// manhole-to-manhole distance by more than tol (fraction of the measured length).
func (x *Index) CheckLengths(segs []domain.PipeSegment, tol float64) []LengthMismatch {
	var out []LengthMismatch
	for _, s := range segs {
		m, ok := x.Length(s)
		if !ok || m == 0 {
			continue
		}
		if math.Abs(s.Length-m) > tol*m {
			out = append(out, LengthMismatch{SegmentID: s.ID, Recorded: s.Length, Measured: m})
		}
	}
	return out
}

// TraceOptions returns tracer options that join endpoints within tolerance
// meters of each other.
func (x *Index) TraceOptions(tolerance float64, stopAtBifurcation bool) trace.Options {
	return trace.Options{Tolerance: tolerance, StopAtBifurcation: stopAtBifurcation, Distance: x.Distance}
}
