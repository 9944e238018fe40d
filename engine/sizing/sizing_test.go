package sizing

import (
	"errors"
	"math"
	"testing"

	"github.com/WessleyAI/sewernet/engine/domain"
	"github.com/WessleyAI/sewernet/engine/hydraulics"
	"github.com/WessleyAI/sewernet/engine/topology"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func projected(id string, seq int, up, down string, length, groundUp, groundDown, flow float64) domain.PipeSegment {
	return domain.PipeSegment{
		ID: id, RunNo: 1, SeqNo: seq, UpstreamNode: up, DownstreamNode: down,
		Length: length, GroundElevUp: domain.Ptr(groundUp), GroundElevDown: domain.Ptr(groundDown),
		DesignStage: domain.StageOne,
		Hydraulics:  domain.Hydraulics{FlowInitial: flow, FlowFinal: flow},
	}
}

func sizeAll(t *testing.T, cfg domain.DesignConfig, segs []domain.PipeSegment, inter map[string][]domain.Interference) []Result {
	t.Helper()
	x, err := topology.Build(segs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	e := New(cfg, x, inter, nil)
	var out []Result
	for i := range segs {
		r, err := e.Size(segs, i)
		if err != nil {
			t.Fatalf("Size %s: %v", segs[i].ID, err)
		}
		out = append(out, r)
	}
	return out
}

func TestSize_SingleSegmentExample(t *testing.T) {
	segs := []domain.PipeSegment{projected("PV1-PV2", 1, "PV1", "PV2", 50, 100, 98, 2)}
	segs[0].MinCover = domain.Ptr(0.9)
	sizeAll(t, domain.DefaultDesignConfig(), segs, nil)
	s := segs[0]

	if !near(s.MinSlope, 0.0055*math.Pow(2, -0.47), 1e-12) {
		t.Fatalf("min slope = %v", s.MinSlope)
	}
	if *s.Diameter != 150 {
		t.Fatalf("diameter = %v, want table minimum 150", *s.Diameter)
	}
	if !near(*s.InvertUp, 98.95, 1e-9) || !near(*s.InvertDown, 96.95, 1e-9) {
		t.Fatalf("inverts = %v/%v", *s.InvertUp, *s.InvertDown)
	}
	if !near(s.Slope, 0.04, 1e-12) {
		t.Fatalf("slope = %v", s.Slope)
	}
	if !near(s.CoverUp, 0.9, 1e-9) || !near(s.CoverDown, 0.9, 1e-9) {
		t.Fatalf("covers = %v/%v", s.CoverUp, s.CoverDown)
	}
	if !near(s.VelocityFinal, 0.974, 0.005) {
		t.Fatalf("velocity = %v", s.VelocityFinal)
	}
	if s.Remarks != 0 {
		t.Fatalf("unexpected remarks %s", s.Remarks)
	}
}

func TestSize_MinSlopeGoverns(t *testing.T) {
	segs := []domain.PipeSegment{projected("a", 1, "A", "B", 50, 100, 100, 2)}
	sizeAll(t, domain.DefaultDesignConfig(), segs, nil)
	s := segs[0]
	if !near(s.Slope, s.MinSlope, 1e-12) {
		t.Fatalf("flat ground should take the minimum slope, got %v vs %v", s.Slope, s.MinSlope)
	}
	if !near(*s.InvertUp, 98.95, 1e-9) {
		t.Fatalf("upstream invert should sit at minimum cover, got %v", *s.InvertUp)
	}
}

func TestSize_VelocityClamp(t *testing.T) {
	cfg := domain.DefaultDesignConfig()
	segs := []domain.PipeSegment{projected("a", 1, "A", "B", 50, 100, 60, 2)}
	res := sizeAll(t, cfg, segs, nil)
	s := segs[0]
	maxSlope, _ := hydraulics.MaxSlopeForVelocity(2, cfg.MaxVelocity, 0.75, cfg.Candidates(150))
	if !res[0].ClampedSlope || !near(s.Slope, maxSlope, 1e-12) {
		t.Fatalf("slope %v should clamp to %v", s.Slope, maxSlope)
	}
	if !near(*s.InvertDown, 60-0.9-0.15, 1e-9) {
		t.Fatalf("downstream invert should stay at cover bound, got %v", *s.InvertDown)
	}
	if *s.InvertUp > 100-0.9-0.15 {
		t.Fatalf("upstream invert %v violates cover", *s.InvertUp)
	}
}

func TestSize_DiameterGrows(t *testing.T) {
	segs := []domain.PipeSegment{projected("a", 1, "A", "B", 50, 100, 100, 100)}
	sizeAll(t, domain.DefaultDesignConfig(), segs, nil)
	s := segs[0]
	if *s.Diameter != 600 {
		t.Fatalf("100 L/s at minimum slope needs 600 mm, got %v", *s.Diameter)
	}
	if req := hydraulics.RequiredDiameter(s.FlowFinal, *s.ManningN, s.Slope, 0.75); req > *s.Diameter {
		t.Fatalf("diameter %v below required %v", *s.Diameter, req)
	}
}

func TestSize_ForcedDrop(t *testing.T) {
	cfg := domain.DefaultDesignConfig()
	cfg.MaxForcedDrop = 0.5
	segs := []domain.PipeSegment{projected("a", 1, "A", "B", 50, 100, 100, 100)}
	res := sizeAll(t, cfg, segs, nil)
	s := segs[0]
	if *s.Diameter != 350 {
		t.Fatalf("forcing the downstream end should allow 350 mm, got %v", *s.Diameter)
	}
	if !near(s.Slope, hydraulics.RequiredSlope(100, 0.013, 350, 0.75), 1e-9) {
		t.Fatalf("slope = %v", s.Slope)
	}
	if res[0].ForcedDrop <= 0 || res[0].ForcedDrop > 0.5 {
		t.Fatalf("forced drop = %v", res[0].ForcedDrop)
	}
}

func TestSize_DiameterInsufficient(t *testing.T) {
	cfg := domain.DefaultDesignConfig()
	cfg.DiameterTable = []domain.DiameterEntry{{Diameter: 150, ManningN: 0.013}, {Diameter: 200, ManningN: 0.013}}
	segs := []domain.PipeSegment{projected("a", 1, "A", "B", 50, 100, 99.5, 500)}
	sizeAll(t, cfg, segs, nil)
	s := segs[0]
	if !s.Remarks.Has(domain.RemarkDiameterInsufficient) {
		t.Fatalf("expected DI, got %q", s.Remarks)
	}
	if *s.Diameter != 200 {
		t.Fatalf("should keep the largest diameter, got %v", *s.Diameter)
	}
}

// a feeds b at PV2; b carries much more flow than a.
func feederPair() []domain.PipeSegment {
	a := projected("a", 1, "PV1", "PV2", 50, 100, 99.5, 1.5)
	b := projected("b", 2, "PV2", "PV3", 50, 100, 99, 60)
	return []domain.PipeSegment{a, b}
}

func TestSize_FeederBound(t *testing.T) {
	cfg := domain.DefaultDesignConfig()
	cfg.IgnorableStep = 10
	segs := feederPair()
	sizeAll(t, cfg, segs, nil)
	a, b := segs[0], segs[1]
	if !near(*a.InvertDown, 98.45, 1e-9) {
		t.Fatalf("a downstream invert = %v", *a.InvertDown)
	}
	if *b.InvertUp > *a.InvertDown+1e-12 {
		t.Fatalf("b upstream invert %v above feeder invert %v", *b.InvertUp, *a.InvertDown)
	}
	if *b.Diameter <= 150 {
		t.Fatalf("b should need a larger pipe, got %v", *b.Diameter)
	}
	_, aCrown := a.Crown()
	bCrown, _ := b.Crown()
	if bCrown > aCrown+1e-9 {
		t.Fatalf("b crown %v above feeder crown %v", bCrown, aCrown)
	}
	if !near(bCrown, aCrown, 1e-9) {
		t.Fatalf("crown bound should govern: %v vs %v", bCrown, aCrown)
	}
}

func TestSize_EqualizeCrown(t *testing.T) {
	cfg := domain.DefaultDesignConfig()
	cfg.IgnorableStep = 10
	cfg.EqualizeCrown = true
	// b follows a in the run but starts at its own manhole.
	a := projected("a", 1, "PV1", "PV2", 50, 100, 99.5, 1.5)
	b := projected("b", 2, "PV9", "PV3", 50, 100, 99, 60)
	segs := []domain.PipeSegment{a, b}
	res := sizeAll(t, cfg, segs, nil)
	_, aCrown := segs[0].Crown()
	bCrown, _ := segs[1].Crown()
	if res[1].CrownShift <= 0 {
		t.Fatal("expected a crown shift")
	}
	if !near(bCrown, aCrown, 1e-9) {
		t.Fatalf("crowns not equalized: %v vs %v", bCrown, aCrown)
	}
}

func TestSize_WaterSurfaceStep(t *testing.T) {
	// Same diameter, so the crowns line up and the fuller pipe b sits
	// with its water surface above a's.
	a := projected("a", 1, "PV1", "PV2", 50, 100, 99.5, 1.5)
	b := projected("b", 2, "PV2", "PV3", 50, 100, 99, 10)
	segs := []domain.PipeSegment{a, b}
	res := sizeAll(t, domain.DefaultDesignConfig(), segs, nil)
	if *segs[1].Diameter != 150 {
		t.Fatalf("b diameter = %v, want 150", *segs[1].Diameter)
	}
	if res[1].StepLowered <= 0.02 {
		t.Fatalf("expected a step, got %v", res[1].StepLowered)
	}
	if !near(segs[1].WaterSurfaceUp, segs[0].WaterSurfaceDown, 1e-9) {
		t.Fatalf("water surfaces %v vs %v", segs[1].WaterSurfaceUp, segs[0].WaterSurfaceDown)
	}
}

func TestSize_SmallPipeIntoLarger(t *testing.T) {
	cfg := domain.DefaultDesignConfig()
	cfg.IgnorableStep = 0.3
	a := projected("a", 1, "PV1", "PV2", 50, 100, 99.5, 1.5)
	b := projected("b", 2, "PV2", "PV3", 50, 100, 99.9, 40)
	segs := []domain.PipeSegment{a, b}
	sizeAll(t, cfg, segs, nil)
	if *segs[0].Diameter != 150 || *segs[1].Diameter < 300 {
		t.Fatalf("diameters %v/%v", *segs[0].Diameter, *segs[1].Diameter)
	}
	_, aCrown := segs[0].Crown()
	bCrown, _ := segs[1].Crown()
	if bCrown > aCrown+1e-9 {
		t.Fatalf("300 mm crown %v above the 150 mm feeder crown %v", bCrown, aCrown)
	}
}

func TestSize_Interference(t *testing.T) {
	segs := []domain.PipeSegment{projected("a", 1, "A", "B", 50, 100, 98, 2)}
	inter := map[string][]domain.Interference{
		"a": {{ID: "gas", SegmentID: "a", Kind: domain.KindBuried, DistanceFromUpstream: 40, TopElevation: 98, BottomElevation: 97.4}},
	}
	res := sizeAll(t, domain.DefaultDesignConfig(), segs, inter)
	s := segs[0]
	if len(res[0].Interferences) != 1 {
		t.Fatalf("expected one adjustment, got %+v", res[0].Interferences)
	}
	crownAt := *s.InvertUp - s.Slope*40 + 0.15
	if crownAt > 97.4+1e-9 {
		t.Fatalf("crown %v still hits the obstruction", crownAt)
	}
	if *s.InvertDown > *s.InvertUp {
		t.Fatal("negative slope")
	}
}

func TestSize_Existing(t *testing.T) {
	s := domain.PipeSegment{
		ID: "old", RunNo: 1, SeqNo: 1, UpstreamNode: "A", DownstreamNode: "B", Length: 50,
		GroundElevUp: domain.Ptr(101), GroundElevDown: domain.Ptr(100.5),
		Diameter: domain.Ptr(200), ManningN: domain.Ptr(0.013),
		InvertUp: domain.Ptr(99), InvertDown: domain.Ptr(98.5),
		Hydraulics: domain.Hydraulics{FlowInitial: 5, FlowFinal: 8},
	}
	segs := []domain.PipeSegment{s}
	sizeAll(t, domain.DefaultDesignConfig(), segs, nil)
	got := segs[0]
	if *got.Diameter != 200 || *got.InvertUp != 99 || *got.InvertDown != 98.5 {
		t.Fatal("existing segment geometry must not change")
	}
	if !near(got.Slope, 0.01, 1e-12) {
		t.Fatalf("slope = %v", got.Slope)
	}
	if got.VelocityFinal <= got.VelocityInitial {
		t.Fatalf("velocities %v/%v", got.VelocityInitial, got.VelocityFinal)
	}
	if !near(got.CoverUp, 101-99-0.2, 1e-9) {
		t.Fatalf("cover up = %v", got.CoverUp)
	}

	segs[0].Diameter = domain.Ptr(100)
	segs[0].FlowFinal = 200
	sizeAll(t, domain.DefaultDesignConfig(), segs, nil)
	if !segs[0].Remarks.Has(domain.RemarkSurcharge) {
		t.Fatalf("expected surcharge remark, got %q", segs[0].Remarks)
	}
}

func TestSize_MissingField(t *testing.T) {
	segs := []domain.PipeSegment{projected("a", 1, "A", "B", 50, 100, 98, 2)}
	segs[0].GroundElevDown = nil
	x, _ := topology.Build(segs)
	_, err := New(domain.DefaultDesignConfig(), x, nil, nil).Size(segs, 0)
	if !errors.Is(err, domain.ErrMissingRequiredField) {
		t.Fatalf("expected ErrMissingRequiredField, got %v", err)
	}
	var se *domain.SegmentError
	if !errors.As(err, &se) || se.Field != "ground_elev_down" {
		t.Fatalf("expected field ground_elev_down, got %v", err)
	}
}

func TestMinSlope(t *testing.T) {
	cfg := domain.DefaultDesignConfig()
	s := domain.PipeSegment{MinSlopeOverride: domain.Ptr(0.007)}
	if got := MinSlope(cfg, s, 0.5); !near(got, 0.0055*math.Pow(1.5, -0.47), 1e-12) {
		t.Fatalf("formula A below min flow = %v", got)
	}
	cfg.MinSlopeFormula = domain.SlopeFormulaB
	if got := MinSlope(cfg, s, 4); !near(got, 0.0035*math.Pow(4, -0.47), 1e-12) {
		t.Fatalf("formula B = %v", got)
	}
	cfg.MinSlopeFormula = domain.SlopeFormulaManual
	if got := MinSlope(cfg, s, 4); got != 0.007 {
		t.Fatalf("manual = %v", got)
	}
}
