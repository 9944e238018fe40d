package trace

import (
	"slices"

	"github.com/WessleyAI/sewernet/engine/domain"
)

// Numbering is the outcome of Renumber.
type Numbering struct {
	Segments     []domain.PipeSegment `json:"segments"`
	Unreached    []string             `json:"unreached,omitempty"`
	Bifurcations []Bifurcation        `json:"bifurcations,omitempty"`
}

// Renumber traces one run from each start segment, in order, and assigns
// run k and sequence 1..n to the segments it reaches. A run ends where it
// meets a segment numbered by an earlier run, so later runs feed earlier
// ones and the result sizes correctly in descending run order.
// The input slice is not modified; numbering of unreached segments is cleared.
func Renumber(segs []domain.PipeSegment, starts []string, opt Options) (Numbering, error) {
	out := slices.Clone(segs)
	pos := make(map[string]int, len(out))
	for i := range out {
		out[i].RunNo, out[i].SeqNo = 0, 0
		pos[out[i].ID] = i
	}
	numbered := make(map[string]bool, len(out))
	opt.StopAtBifurcation = true
	skip := opt.Skip
	opt.Skip = func(s domain.PipeSegment) bool {
		return numbered[s.ID] || (skip != nil && skip(s))
	}

	var n Numbering
	run := 0
	for _, start := range starts {
		if numbered[start] {
			continue
		}
		res, err := Trace(out, start, opt)
		if err != nil {
			return n, err
		}
		run++
		for k, id := range res.Segments {
			i := pos[id]
			out[i].RunNo, out[i].SeqNo = run, k+1
			numbered[id] = true
		}
		n.Bifurcations = append(n.Bifurcations, res.Bifurcations...)
	}
	for _, s := range out {
		if !numbered[s.ID] {
			n.Unreached = append(n.Unreached, s.ID)
		}
	}
	n.Segments = out
	return n, nil
}
