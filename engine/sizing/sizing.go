// Package sizing decides diameter, slope and invert line for each segment,
// upstream first, and derives the resulting hydraulics.
//
// Existing segments are only evaluated. Projected segments go through:
// minimum slope, minimum diameter, cover-bound invert line, velocity clamp,
// diameter search (optionally forcing a deeper downstream end), crown
// equalization, interference resolution and the water-surface step.
package sizing

import (
	"errors"
	"log/slog"
	"math"

	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/hydraulics"
	"github.com/WessleyAI/sewernet/engine/interference"
	"github.com/WessleyAI/sewernet/engine/topology"
)

// Minimum slope coefficients, I = k·Q^-0.47 with Q in L/s.
const (
	slopeCoefA    = 0.0055
	slopeCoefB    = 0.0035
	slopeExponent = -0.47

	fillRatioSlack = 0.01
)

// Engine sizes segments against one configuration and topology.
type Engine struct {
	cfg           domain.DesignConfig
	idx           *topology.Index
	interferences map[string][]domain.Interference
	log           *slog.Logger
}

// New creates an Engine. interferences is keyed by segment id.
func New(cfg domain.DesignConfig, idx *topology.Index, interferences map[string][]domain.Interference, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, idx: idx, interferences: interferences, log: log}
}

// Result describes what happened while sizing one segment.
type Result struct {
	SegmentID     string                    `json:"segment_id"`
	ClampedSlope  bool                      `json:"clamped_slope,omitempty"`
	ForcedDrop    float64                   `json:"forced_drop,omitempty"`
	CrownShift    float64                   `json:"crown_shift,omitempty"`
	StepLowered   float64                   `json:"step_lowered,omitempty"`
	Interferences []interference.Adjustment `json:"interferences,omitempty"`
}

// MinSlope returns the minimum slope for a segment carrying flow (L/s).
func MinSlope(cfg domain.DesignConfig, s domain.PipeSegment, flow float64) float64 {
	q := math.Max(flow, cfg.MinFlow)
	switch cfg.MinSlopeFormula {
	case domain.SlopeFormulaB:
		return slopeCoefB * math.Pow(q, slopeExponent)
	case domain.SlopeFormulaManual:
		return domain.Val(s.MinSlopeOverride)
	default:
		return slopeCoefA * math.Pow(q, slopeExponent)
	}
}

// Size sizes segs[i] in place. Every feeder of i must already be sized.
// Physical problems become remarks on the segment; only missing inputs
// return an error.
func (e *Engine) Size(segs []domain.PipeSegment, i int) (Result, error) {
	s := &segs[i]
	res := Result{SegmentID: s.ID}
	if err := domain.ValidateForSizing(*s, e.cfg); err != nil {
		return res, err
	}
	s.Remarks = 0
	s.MinSlope = MinSlope(e.cfg, *s, s.FlowInitial)

	if !s.DesignStage.Projected() {
		e.evaluate(s)
		e.log.Debug("evaluated existing segment", "segment", s.ID, "slope", s.Slope)
		return res, nil
	}

	cover, _ := domain.EffectiveMinCover(*s, e.cfg)
	yd, _ := domain.EffectiveMaxFillRatio(*s, e.cfg)
	qf := math.Max(s.FlowFinal, e.cfg.MinFlow)
	b := e.bounds(segs, i, cover)

	minD := e.cfg.TableMinimum().Diameter
	if e.cfg.ProgressiveDiameters && b.feederDiameter > minD {
		minD = b.feederDiameter
	}
	cands := e.cfg.Candidates(minD)
	if len(cands) == 0 {
		cands = []domain.DiameterEntry{e.cfg.Largest()}
	}
	maxSlope, _ := hydraulics.MaxSlopeForVelocity(qf, e.cfg.MaxVelocity, yd, cands)

	entry, line, forced, ok := e.choose(s, b, cands, qf, yd, maxSlope)
	if !ok {
		s.Remarks |= domain.RemarkDiameterInsufficient
		e.log.Warn("largest diameter insufficient", "segment", s.ID, "diameter", entry.Diameter, "flow", qf)
	}
	res.ForcedDrop = forced
	res.ClampedSlope = forced == 0 && math.Abs(line.Slope()-maxSlope) < 1e-12

	if e.cfg.EqualizeCrown && s.SeqNo > 1 {
		if j, found := e.idx.Previous(i, s.RunNo, s.SeqNo); found && segs[j].InvertDown != nil {
			_, prevCrown := segs[j].Crown()
			if shift := line.InvertUp + entry.Diameter/1000 - prevCrown; shift > 0 {
				line.InvertUp -= shift
				line.InvertDown -= shift
				res.CrownShift = shift
			}
		}
	}

	if items := e.interferences[s.ID]; len(items) > 0 {
		line, res.Interferences = interference.Resolve(line, items, interference.Limits{
			MinSlope:   s.MinSlope,
			MaxSlope:   maxSlope,
			GroundUp:   *s.GroundElevUp,
			GroundDown: *s.GroundElevDown,
		})
	}

	s.Diameter = domain.Ptr(entry.Diameter)
	s.ManningN = domain.Ptr(entry.ManningN)
	s.InvertUp = domain.Ptr(line.InvertUp)
	s.InvertDown = domain.Ptr(line.InvertDown)
	e.evaluate(s)

	if !math.IsInf(b.feederSurface, 1) {
		if excess := s.WaterSurfaceUp - b.feederSurface; excess > e.cfg.IgnorableStep {
			lower := math.Min(math.Max(excess, e.cfg.MinStep), e.cfg.MaxStep)
			if lower > 0 {
				*s.InvertUp -= lower
				*s.InvertDown -= lower
				res.StepLowered = lower
				e.evaluate(s)
			}
		}
	}

	e.log.Debug("sized segment", "segment", s.ID, "diameter", entry.Diameter, "slope", s.Slope, "remarks", s.Remarks.String())
	return res, nil
}

type bounds struct {
	groundUp, groundDown float64
	cover                float64
	length               float64
	feederDiameter       float64
	feederInvert         float64
	feederCrown          float64
	feederSurface        float64
}

func (e *Engine) bounds(segs []domain.PipeSegment, i int, cover float64) bounds {
	s := segs[i]
	b := bounds{
		groundUp:      *s.GroundElevUp,
		groundDown:    *s.GroundElevDown,
		cover:         cover,
		length:        s.Length,
		feederInvert:  math.Inf(1),
		feederCrown:   math.Inf(1),
		feederSurface: math.Inf(1),
	}
	for _, j := range e.idx.Feeders(i) {
		f := segs[j]
		b.feederDiameter = math.Max(b.feederDiameter, domain.Val(f.Diameter))
		if f.InvertDown != nil {
			_, crown := f.Crown()
			b.feederInvert = math.Min(b.feederInvert, *f.InvertDown)
			b.feederCrown = math.Min(b.feederCrown, crown)
			b.feederSurface = math.Min(b.feederSurface, f.WaterSurfaceDown)
		}
	}
	return b
}

// line returns the cover-bound invert line for a diameter (mm) under the
// governing slope max(economic, minSlope), clamped to maxSlope. The upstream
// end sits no higher than any feeder's downstream invert and its crown no
// higher than any feeder's downstream crown. Feeder water surfaces are
// matched afterwards by the manhole step.
func (b bounds) line(diameter, minSlope, maxSlope float64) interference.Line {
	d := diameter / 1000
	upMax := math.Min(b.groundUp-b.cover-d, math.Min(b.feederInvert, b.feederCrown-d))
	downMax := b.groundDown - b.cover - d
	slope := math.Max((upMax-downMax)/b.length, minSlope)
	if slope >= maxSlope {
		slope = maxSlope
	}
	up := math.Min(upMax, downMax+slope*b.length)
	return interference.Line{InvertUp: up, InvertDown: up - slope*b.length, Length: b.length, Diameter: diameter}
}

// choose walks the candidates smallest first and returns the first that
// carries qf at its governing slope, or at a steeper slope reached by
// lowering the downstream end no more than MaxForcedDrop. When none does, the
// largest candidate is returned with ok false.
func (e *Engine) choose(s *domain.PipeSegment, b bounds, cands []domain.DiameterEntry, qf, yd, maxSlope float64) (domain.DiameterEntry, interference.Line, float64, bool) {
	for _, c := range cands {
		l := b.line(c.Diameter, s.MinSlope, maxSlope)
		if hydraulics.RequiredDiameter(qf, c.ManningN, l.Slope(), yd) <= c.Diameter {
			return c, l, 0, true
		}
		if e.cfg.MaxForcedDrop <= 0 {
			continue
		}
		req := hydraulics.RequiredSlope(qf, c.ManningN, c.Diameter, yd)
		if req > maxSlope {
			continue
		}
		down := l.InvertUp - req*l.Length
		if extra := l.InvertDown - down; extra <= e.cfg.MaxForcedDrop {
			l.InvertDown = down
			return c, l, extra, true
		}
	}
	last := cands[len(cands)-1]
	return last, b.line(last.Diameter, s.MinSlope, maxSlope), 0, false
}

// evaluate derives slope, water surfaces, covers, velocities and warning
// flags from the committed diameter and invert line.
func (e *Engine) evaluate(s *domain.PipeSegment) {
	d := *s.Diameter
	n := *s.ManningN
	yd, _ := domain.EffectiveMaxFillRatio(*s, e.cfg)
	s.Slope = (*s.InvertUp - *s.InvertDown) / s.Length

	qi := math.Max(s.FlowInitial, e.cfg.MinFlow)
	qf := math.Max(s.FlowFinal, e.cfg.MinFlow)
	secI, errI := hydraulics.FlowSection(qi, n, s.Slope, d, e.cfg.SolverTolerance)
	secF, errF := hydraulics.FlowSection(qf, n, s.Slope, d, e.cfg.SolverTolerance)
	s.Remarks &^= domain.RemarkSurcharge | domain.RemarkIterationLimit |
		domain.RemarkExcessVelocity | domain.RemarkCriticalVelocity | domain.RemarkExcessDepth | domain.RemarkFillRatio
	for _, err := range []error{errI, errF} {
		switch {
		case errors.Is(err, domain.ErrSurcharge):
			s.Remarks |= domain.RemarkSurcharge
		case errors.Is(err, domain.ErrIterationLimit):
			s.Remarks |= domain.RemarkIterationLimit
		}
	}

	s.FillRatioInitial, s.FillRatioFinal = secI.FillRatio, secF.FillRatio
	s.VelocityInitial, s.VelocityFinal = secI.Velocity, secF.Velocity
	s.WaterSurfaceUp = *s.InvertUp + secF.Depth
	s.WaterSurfaceDown = *s.InvertDown + secF.Depth
	s.CriticalVelocity = hydraulics.CriticalVelocity(secF.HydraulicRadius)
	s.TractiveStress = hydraulics.TractiveStress(secI.HydraulicRadius, s.Slope)

	var depthUp, depthDown float64
	if s.GroundElevUp != nil {
		depthUp = *s.GroundElevUp - *s.InvertUp
		s.CoverUp = depthUp - d/1000
	}
	if s.GroundElevDown != nil {
		depthDown = *s.GroundElevDown - *s.InvertDown
		s.CoverDown = depthDown - d/1000
	}

	if math.Max(depthUp, depthDown) > e.cfg.MaxDepth && e.cfg.MaxDepth > 0 {
		s.Remarks |= domain.RemarkExcessDepth
	}
	if s.VelocityFinal > e.cfg.MaxVelocity {
		s.Remarks |= domain.RemarkExcessVelocity
	}
	if s.VelocityFinal > s.CriticalVelocity {
		s.Remarks |= domain.RemarkCriticalVelocity
	}
	if s.FillRatioFinal > yd+fillRatioSlack {
		s.Remarks |= domain.RemarkFillRatio
	}
}
