package topology

import (
	"cmp"
	"slices"

	"github.com/WessleyAI/sewernet/engine/domain"
)

// VerifyOrder walks the table once and checks run/sequence numbering: each
// run starts at sequence 1, sequences advance by exactly one, and run numbers
// move in the configured direction without coming back.
func VerifyOrder(segs []domain.PipeSegment, dir domain.Direction) error {
	seenRuns := make(map[int]bool)
	for i, s := range segs {
		if i == 0 {
			if s.SeqNo != 1 {
				return orderErr(s, 0, 0, "run does not start at sequence 1")
			}
			seenRuns[s.RunNo] = true
			continue
		}
		p := segs[i-1]
		if s.RunNo == p.RunNo {
			switch {
			case s.SeqNo == p.SeqNo:
				return orderErr(s, p.RunNo, p.SeqNo, "duplicate sequence number")
			case s.SeqNo < p.SeqNo:
				return orderErr(s, p.RunNo, p.SeqNo, "sequence number decreases")
			case s.SeqNo > p.SeqNo+1:
				return orderErr(s, p.RunNo, p.SeqNo, "sequence number skips")
			}
			continue
		}
		if s.SeqNo != 1 {
			return orderErr(s, p.RunNo, p.SeqNo, "run does not start at sequence 1")
		}
		if seenRuns[s.RunNo] {
			return orderErr(s, p.RunNo, p.SeqNo, "run number appears twice")
		}
		if (dir == domain.Descending && s.RunNo > p.RunNo) || (dir != domain.Descending && s.RunNo < p.RunNo) {
			return orderErr(s, p.RunNo, p.SeqNo, "run number moves against the "+string(dir)+" direction")
		}
		seenRuns[s.RunNo] = true
	}
	return nil
}

func orderErr(s domain.PipeSegment, prevRun, prevSeq int, reason string) *domain.OrderError {
	return &domain.OrderError{SegmentID: s.ID, RunNo: s.RunNo, SeqNo: s.SeqNo, PrevRunNo: prevRun, PrevSeqNo: prevSeq, Reason: reason}
}

// Reorder returns a copy of segs stably sorted by run number in the given
// direction, then by ascending sequence number. The input is not modified.
func Reorder(segs []domain.PipeSegment, dir domain.Direction) []domain.PipeSegment {
	out := slices.Clone(segs)
	slices.SortStableFunc(out, func(a, b domain.PipeSegment) int {
		c := cmp.Compare(a.RunNo, b.RunNo)
		if dir == domain.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.SeqNo, b.SeqNo)
	})
	return out
}
