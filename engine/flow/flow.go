// Package flow accumulates design flows down the network: each segment
// carries what its feeders deliver plus its own point and distributed
// contributions.
package flow

import (
	"fmt"

	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/topology"
)

const secondsPerDay = 86400

// Totals are the system-wide scalars computed once per run.
type Totals struct {
	SystemInitial        float64 `json:"system_initial"` // L/s
	SystemFinal          float64 `json:"system_final"`
	VirtualLengthInitial float64 `json:"virtual_length_initial"` // m
	VirtualLengthFinal   float64 `json:"virtual_length_final"`
	UnitInitial          float64 `json:"unit_initial"` // L/s per virtual meter
	UnitFinal            float64 `json:"unit_final"`
}

// Vazoes returns the initial and final domestic design flows (L/s) of the
// whole system. Only the final horizon takes the daily peak factor.
func Vazoes(m domain.DemandModel) (initial, final float64) {
	base := m.PerCapitaFlow * m.ReturnCoefficient * m.HourlyPeakFactor / secondsPerDay
	initial = m.PopulationInitial * base
	final = m.PopulationFinal * base * m.DailyPeakFactor
	return initial, final
}

// VirtualLength sums length·sides/2. The initial total covers segments in
// service at the start of the horizon (existing and stage 1); the final
// total covers every segment.
func VirtualLength(segs []domain.PipeSegment) (initial, final float64) {
	for _, s := range segs {
		v := s.Length * float64(s.SidesContributing) / 2
		final += v
		if s.DesignStage != domain.StageTwo {
			initial += v
		}
	}
	return initial, final
}

// ComputeTotals derives the unit flows. A network with no contributing
// length gets zero unit flows.
func ComputeTotals(segs []domain.PipeSegment, m domain.DemandModel) Totals {
	var t Totals
	t.SystemInitial, t.SystemFinal = Vazoes(m)
	t.VirtualLengthInitial, t.VirtualLengthFinal = VirtualLength(segs)
	if t.VirtualLengthInitial > 0 {
		t.UnitInitial = t.SystemInitial / t.VirtualLengthInitial
	}
	if t.VirtualLengthFinal > 0 {
		t.UnitFinal = t.SystemFinal / t.VirtualLengthFinal
	}
	return t
}

// Contribution returns the segment's own inflow for both horizons.
func (t Totals) Contribution(s domain.PipeSegment, infiltration float64) (initial, final float64) {
	half := float64(s.SidesContributing) / 2
	final = s.LocalFlowFinal + (infiltration+t.UnitFinal*half)*s.Length
	initial = s.LocalFlowInitial
	if s.DesignStage != domain.StageTwo {
		initial += (infiltration + t.UnitInitial*half) * s.Length
	}
	return initial, final
}

// Upstream sums the flows delivered to segment i by its feeders. done marks
// the segments whose flows are already final.
func Upstream(segs []domain.PipeSegment, x *topology.Index, i int, done []bool) (initial, final float64, err error) {
	for _, j := range x.Feeders(i) {
		if !done[j] {
			return 0, 0, &domain.SegmentError{
				SegmentID: segs[i].ID,
				Field:     "flow_initial",
				Reason:    fmt.Sprintf("feeder %s has no accumulated flow", segs[j].ID),
				Wrapped:   domain.ErrIncompleteUpstreamFlow,
			}
		}
		initial += segs[j].FlowInitial
		final += segs[j].FlowFinal
	}
	return initial, final, nil
}

// Accumulate fills FlowInitial and FlowFinal of every segment in slice order.
// A feeder that appears after the segment it feeds aborts the pass.
func Accumulate(segs []domain.PipeSegment, x *topology.Index, m domain.DemandModel) (Totals, error) {
	t := ComputeTotals(segs, m)
	done := make([]bool, len(segs))
	for i := range segs {
		upI, upF, err := Upstream(segs, x, i, done)
		if err != nil {
			return t, err
		}
		ownI, ownF := t.Contribution(segs[i], m.InfiltrationRate)
		segs[i].FlowInitial = upI + ownI
		segs[i].FlowFinal = upF + ownF
		done[i] = true
	}
	return t, nil
}
