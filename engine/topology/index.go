// Package topology indexes a flat pipe table by node so that every stage can
// answer "what feeds this node" and "what leaves this node" without rescanning
// the table, and checks the numbering and outlet rules the sizing order relies on.
package topology

import (
	"fmt"

	"github.com/WessleyAI/sewernet/engine/domain"
)

type runSeq struct{ run, seq int }

// Index maps node ids to segment positions in the caller's slice.
type Index struct {
	ids      []string
	up, down []string
	dry      []bool

	byID     map[string]int
	byRunSeq map[runSeq]int
	incoming map[string][]int // segments whose downstream node is the key
	outgoing map[string][]int // segments whose upstream node is the key
	nodes    []string         // first-appearance order
}

// Build indexes segs. Positions returned by the index refer to segs.
func Build(segs []domain.PipeSegment) (*Index, error) {
	x := &Index{
		ids:      make([]string, len(segs)),
		up:       make([]string, len(segs)),
		down:     make([]string, len(segs)),
		dry:      make([]bool, len(segs)),
		byID:     make(map[string]int, len(segs)),
		byRunSeq: make(map[runSeq]int, len(segs)),
		incoming: make(map[string][]int),
		outgoing: make(map[string][]int),
	}
	seen := make(map[string]bool)
	addNode := func(n string) {
		if !seen[n] {
			seen[n] = true
			x.nodes = append(x.nodes, n)
		}
	}
	for i, s := range segs {
		if err := domain.ValidateSegment(s); err != nil {
			return nil, err
		}
		if j, dup := x.byID[s.ID]; dup {
			return nil, &domain.SegmentError{SegmentID: s.ID, Field: "id",
				Reason: fmt.Sprintf("duplicate id at positions %d and %d", j, i), Wrapped: domain.ErrInvalidTopology}
		}
		x.ids[i], x.up[i], x.down[i], x.dry[i] = s.ID, s.UpstreamNode, s.DownstreamNode, s.IsDryEnd
		x.byID[s.ID] = i
		if _, ok := x.byRunSeq[runSeq{s.RunNo, s.SeqNo}]; !ok {
			x.byRunSeq[runSeq{s.RunNo, s.SeqNo}] = i
		}
		x.incoming[s.DownstreamNode] = append(x.incoming[s.DownstreamNode], i)
		x.outgoing[s.UpstreamNode] = append(x.outgoing[s.UpstreamNode], i)
		addNode(s.UpstreamNode)
		addNode(s.DownstreamNode)
	}
	return x, nil
}

// Len is the number of indexed segments.
func (x *Index) Len() int { return len(x.ids) }

// Lookup returns the position of a segment id.
func (x *Index) Lookup(id string) (int, bool) {
	i, ok := x.byID[id]
	return i, ok
}

// ID returns the id of the segment at position i.
func (x *Index) ID(i int) string { return x.ids[i] }

// Incoming returns the segments ending at node.
func (x *Index) Incoming(node string) []int { return x.incoming[node] }

// Outgoing returns every segment starting at node, dry-end or not.
func (x *Index) Outgoing(node string) []int { return x.outgoing[node] }

// LiveOutlet returns the single non-dry segment leaving node.
func (x *Index) LiveOutlet(node string) (int, bool) {
	for _, i := range x.outgoing[node] {
		if !x.dry[i] {
			return i, true
		}
	}
	return 0, false
}

// Feeders returns the segments whose flow reaches segment i. Dry-end
// segments have none.
func (x *Index) Feeders(i int) []int {
	if x.dry[i] {
		return nil
	}
	return x.incoming[x.up[i]]
}

// Next returns the segments leaving segment i's downstream node.
func (x *Index) Next(i int) []int { return x.outgoing[x.down[i]] }

// Previous returns the segment numbered just before i in the same run.
func (x *Index) Previous(i int, runNo, seqNo int) (int, bool) {
	if seqNo <= 1 {
		return 0, false
	}
	j, ok := x.byRunSeq[runSeq{runNo, seqNo - 1}]
	if !ok || j == i {
		return 0, false
	}
	return j, true
}

// Nodes returns node ids in order of first appearance.
func (x *Index) Nodes() []string { return x.nodes }

// ValidateOutlets enforces the single-live-outlet rule: at most one non-dry
// segment may leave a node, and a node that receives flow and has outlets
// must have a live one. The first offending node in table order is reported.
func (x *Index) ValidateOutlets() error {
	for _, node := range x.nodes {
		outs := x.outgoing[node]
		if len(outs) == 0 {
			continue
		}
		var live []string
		for _, i := range outs {
			if !x.dry[i] {
				live = append(live, x.ids[i])
			}
		}
		if len(live) > 1 {
			return &domain.TopologyError{Node: node, Segments: live, Reason: "more than one live outlet"}
		}
		if len(live) == 0 && len(x.incoming[node]) > 0 {
			return &domain.TopologyError{Node: node, Segments: x.idsOf(outs), Reason: "node receives flow but every outlet is a dry end"}
		}
	}
	return nil
}

// VerifyUpstreamOrder checks that every feeder precedes the segment it feeds.
// A violation cannot be fixed by reordering on run and sequence numbers, so it
// is reported as incomplete upstream flow rather than as a numbering error.
func (x *Index) VerifyUpstreamOrder() error {
	for i := range x.ids {
		for _, j := range x.Feeders(i) {
			if j > i {
				return &domain.SegmentError{SegmentID: x.ids[i], Field: "upstream_node",
					Reason: fmt.Sprintf("fed by %s which is sized later", x.ids[j]), Wrapped: domain.ErrIncompleteUpstreamFlow}
			}
		}
	}
	return nil
}

func (x *Index) idsOf(pos []int) []string {
	out := make([]string, len(pos))
	for k, i := range pos {
		out[k] = x.ids[i]
	}
	return out
}
