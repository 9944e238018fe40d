// Package trace walks pipe runs downstream by endpoint proximity. It is used
// to discover and renumber a network, never for hydraulic computation.
package trace

import (
	"fmt"
	"math"

	"github.com/WessleyAI/sewernet/engine/domain"
)

// DefaultTolerance applies when Options.Tolerance is not positive.
const DefaultTolerance = 0.01

// DistanceFunc measures the distance between two node endpoints.
type DistanceFunc func(a, b string) float64

// SameNode treats endpoints as touching only when they are the same node.
func SameNode(a, b string) float64 {
	if a == b {
		return 0
	}
	return math.Inf(1)
}

// Options configures a trace.
type Options struct {
	Tolerance         float64
	StopAtBifurcation bool
	Distance          DistanceFunc
	// Skip excludes segments from being picked up as candidates.
	Skip func(domain.PipeSegment) bool
}

func (o Options) withDefaults() Options {
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.Distance == nil {
		o.Distance = SameNode
	}
	return o
}

// Bifurcation records a segment whose downstream end touches more than one
// live candidate.
type Bifurcation struct {
	After      string   `json:"after"`
	Node       string   `json:"node"`
	Candidates []string `json:"candidates"`
}

// Result is the ordered run and the bifurcations met on the way.
type Result struct {
	Segments     []string      `json:"segments"`
	Bifurcations []Bifurcation `json:"bifurcations,omitempty"`
	Stopped      bool          `json:"stopped"`
}

// Trace returns the run that starts at segment start. Dry-end candidates
// begin another run and are never followed. At a bifurcation the trace
// either stops, returning the run up to and including the segment before the
// ambiguous tail, or follows every candidate breadth-first.
func Trace(segs []domain.PipeSegment, start string, opt Options) (Result, error) {
	opt = opt.withDefaults()
	first := -1
	for i := range segs {
		if segs[i].ID == start {
			first = i
			break
		}
	}
	if first < 0 {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrUnknownSegment, start)
	}

	var res Result
	visited := map[int]bool{first: true}
	queue := []int{first}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		res.Segments = append(res.Segments, segs[cur].ID)

		next := candidates(segs, cur, visited, opt)
		if len(next) > 1 {
			b := Bifurcation{After: segs[cur].ID, Node: segs[cur].DownstreamNode}
			for _, j := range next {
				b.Candidates = append(b.Candidates, segs[j].ID)
			}
			res.Bifurcations = append(res.Bifurcations, b)
			if opt.StopAtBifurcation {
				res.Stopped = true
				return res, nil
			}
		}
		for _, j := range next {
			visited[j] = true
			queue = append(queue, j)
		}
	}
	return res, nil
}

func candidates(segs []domain.PipeSegment, cur int, visited map[int]bool, opt Options) []int {
	var out []int
	for j := range segs {
		if visited[j] || segs[j].IsDryEnd {
			continue
		}
		if opt.Skip != nil && opt.Skip(segs[j]) {
			continue
		}
		if opt.Distance(segs[cur].DownstreamNode, segs[j].UpstreamNode) < opt.Tolerance {
			out = append(out, j)
		}
	}
	return out
}
