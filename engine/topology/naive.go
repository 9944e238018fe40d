package topology

import "github.com/WessleyAI/sewernet/engine/domain"

// The Naive helpers answer the same questions as Index by scanning the whole
// table. They exist to cross-check the index.

// NaiveIncoming returns the positions of segments ending at node.
func NaiveIncoming(segs []domain.PipeSegment, node string) []int {
	var out []int
	for i, s := range segs {
		if s.DownstreamNode == node {
			out = append(out, i)
		}
	}
	return out
}

// NaiveOutgoing returns the positions of segments starting at node.
func NaiveOutgoing(segs []domain.PipeSegment, node string) []int {
	var out []int
	for i, s := range segs {
		if s.UpstreamNode == node {
			out = append(out, i)
		}
	}
	return out
}

// NaiveFeeders returns the segments feeding segment i.
func NaiveFeeders(segs []domain.PipeSegment, i int) []int {
	if segs[i].IsDryEnd {
		return nil
	}
	return NaiveIncoming(segs, segs[i].UpstreamNode)
}
