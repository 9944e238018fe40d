package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/trace"
)

func manholes() []domain.Manhole {
	return []domain.Manhole{
		{ID: "PV1", X: 0, Y: 0},
		{ID: "PV2", X: 30, Y: 40},
		{ID: "PV2b", X: 30.02, Y: 40},
		{ID: "PV3", X: 30, Y: 100},
	}
}

func TestDistance(t *testing.T) {
	x := NewIndex(manholes(), false)
	if d := x.Distance("PV1", "PV2"); math.Abs(d-50) > 1e-12 {
		t.Fatalf("distance = %v", d)
	}
	if d := x.Distance("PV1", "nowhere"); !math.IsInf(d, 1) {
		t.Fatalf("unlocated manhole distance = %v", d)
	}
	if d := x.Distance("nowhere", "nowhere"); d != 0 {
		t.Fatalf("same unlocated manhole = %v", d)
	}
}

func TestGeographicDistance(t *testing.T) {
	x := NewIndex([]domain.Manhole{{ID: "a", X: 0, Y: 0}, {ID: "b", X: 0, Y: 1}}, true)
	// One degree of latitude is about 111 km.
	if d := x.Distance("a", "b"); d < 110e3 || d > 112e3 {
		t.Fatalf("distance = %v", d)
	}
}

func TestLengthAndMismatch(t *testing.T) {
	x := NewIndex(manholes(), false)
	segs := []domain.PipeSegment{
		{ID: "a", UpstreamNode: "PV1", DownstreamNode: "PV2", Length: 50.2},
		{ID: "b", UpstreamNode: "PV2", DownstreamNode: "PV3", Length: 75},
		{ID: "c", UpstreamNode: "PV3", DownstreamNode: "PV9", Length: 10},
	}
	if l, ok := x.Length(segs[1]); !ok || math.Abs(l-60) > 1e-12 {
		t.Fatalf("length = %v, %v", l, ok)
	}
	got := x.CheckLengths(segs, 0.01)
	if len(got) != 1 || got[0].SegmentID != "b" || got[0].Measured != 60 {
		t.Fatalf("mismatches = %+v", got)
	}
}

func TestNearest(t *testing.T) {
	x := NewIndex(manholes(), false)
	id, ok := x.Nearest(orb.Point{29, 41}, 5)
	if !ok || id != "PV2" {
		t.Fatalf("nearest = %s, %v", id, ok)
	}
	if _, ok := x.Nearest(orb.Point{500, 500}, 5); ok {
		t.Fatal("nothing should be within range")
	}
	b := x.Bound()
	if b.Min != (orb.Point{0, 0}) || b.Max != (orb.Point{30.02, 100}) {
		t.Fatalf("bound = %v", b)
	}
}

func TestTraceJoinsNearbyEndpoints(t *testing.T) {
	x := NewIndex(manholes(), false)
	segs := []domain.PipeSegment{
		{ID: "a", UpstreamNode: "PV1", DownstreamNode: "PV2", Length: 50},
		{ID: "b", UpstreamNode: "PV2b", DownstreamNode: "PV3", Length: 60},
	}
	strict, err := trace.Trace(segs, "a", trace.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(strict.Segments) != 1 {
		t.Fatalf("exact matching should stop at a, got %v", strict.Segments)
	}
	loose, err := trace.Trace(segs, "a", x.TraceOptions(0.05, true))
	if err != nil {
		t.Fatal(err)
	}
	if len(loose.Segments) != 2 {
		t.Fatalf("segments = %v", loose.Segments)
	}
}
