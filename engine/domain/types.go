// Package domain defines the sewer network entities, design configuration,
// warning flags and error taxonomy shared by every engine stage. It also
// holds the precondition checks that gate a sizing run.
package domain

import "slices"

// DesignStage tells whether a segment already exists or is built in a
// given construction stage.
type DesignStage int

const (
	StageExisting DesignStage = 0
	StageOne      DesignStage = 1
	StageTwo      DesignStage = 2
)

// Projected reports whether the segment is designed by the engine.
func (s DesignStage) Projected() bool { return s > StageExisting }

// PipeSegment is one gravity pipe between two manholes. Input fields are
// supplied by the feature store; Hydraulics is filled by the engine.
type PipeSegment struct {
	ID    string `json:"id" yaml:"id"`
	RunNo int    `json:"run_no" yaml:"run_no"`
	SeqNo int    `json:"seq_no" yaml:"seq_no"`

	UpstreamNode      string `json:"upstream_node" yaml:"upstream_node"`
	DownstreamNode    string `json:"downstream_node" yaml:"downstream_node"`
	IsDryEnd          bool   `json:"is_dry_end" yaml:"is_dry_end"`
	SidesContributing int    `json:"sides_contributing" yaml:"sides_contributing"`

	Length         float64  `json:"length" yaml:"length"`
	GroundElevUp   *float64 `json:"ground_elev_up,omitempty" yaml:"ground_elev_up,omitempty"`
	GroundElevDown *float64 `json:"ground_elev_down,omitempty" yaml:"ground_elev_down,omitempty"`

	LocalFlowInitial float64     `json:"local_flow_initial" yaml:"local_flow_initial"`
	LocalFlowFinal   float64     `json:"local_flow_final" yaml:"local_flow_final"`
	DesignStage      DesignStage `json:"design_stage" yaml:"design_stage"`

	MinCover         *float64 `json:"min_cover,omitempty" yaml:"min_cover,omitempty"`
	MaxFillRatio     *float64 `json:"max_fill_ratio,omitempty" yaml:"max_fill_ratio,omitempty"`
	MinSlopeOverride *float64 `json:"min_slope_override,omitempty" yaml:"min_slope_override,omitempty"`

	// Inputs for existing segments, outputs for projected ones.
	Diameter   *float64 `json:"diameter,omitempty" yaml:"diameter,omitempty"` // mm
	ManningN   *float64 `json:"manning_n,omitempty" yaml:"manning_n,omitempty"`
	InvertUp   *float64 `json:"invert_up,omitempty" yaml:"invert_up,omitempty"`
	InvertDown *float64 `json:"invert_down,omitempty" yaml:"invert_down,omitempty"`

	Hydraulics `yaml:",inline"`
}

// Hydraulics holds the values computed for a segment.
type Hydraulics struct {
	FlowInitial      float64  `json:"flow_initial" yaml:"flow_initial"`
	FlowFinal        float64  `json:"flow_final" yaml:"flow_final"`
	Slope            float64  `json:"slope" yaml:"slope"`
	MinSlope         float64  `json:"min_slope" yaml:"min_slope"`
	WaterSurfaceUp   float64  `json:"water_surface_up" yaml:"water_surface_up"`
	WaterSurfaceDown float64  `json:"water_surface_down" yaml:"water_surface_down"`
	CoverUp          float64  `json:"cover_up" yaml:"cover_up"`
	CoverDown        float64  `json:"cover_down" yaml:"cover_down"`
	VelocityInitial  float64  `json:"velocity_initial" yaml:"velocity_initial"`
	VelocityFinal    float64  `json:"velocity_final" yaml:"velocity_final"`
	CriticalVelocity float64  `json:"critical_velocity" yaml:"critical_velocity"`
	TractiveStress   float64  `json:"tractive_stress" yaml:"tractive_stress"`
	FillRatioInitial float64  `json:"fill_ratio_initial" yaml:"fill_ratio_initial"`
	FillRatioFinal   float64  `json:"fill_ratio_final" yaml:"fill_ratio_final"`
	Drop             float64  `json:"drop" yaml:"drop"`
	DropKind         DropKind `json:"drop_kind" yaml:"drop_kind"`
	Remarks          Remarks  `json:"remarks" yaml:"remarks"`
}

// Crown returns the upstream and downstream crown elevations.
func (p *PipeSegment) Crown() (up, down float64) {
	d := Val(p.Diameter) / 1000
	return Val(p.InvertUp) + d, Val(p.InvertDown) + d
}

// DisplayID renders the run/sequence pair the way renumbering writes it.
func (p *PipeSegment) DisplayID() string {
	return FormatDisplayID(p.RunNo, p.SeqNo)
}

// InterferenceKind distinguishes the terrain itself from buried objects.
type InterferenceKind string

const (
	KindGroundSurface InterferenceKind = "ground-surface"
	KindBuried        InterferenceKind = "buried"
)

// Interference is a point obstruction along a segment.
type Interference struct {
	ID                   string           `json:"id" yaml:"id"`
	SegmentID            string           `json:"segment_id" yaml:"segment_id"`
	Kind                 InterferenceKind `json:"kind" yaml:"kind"`
	DistanceFromUpstream float64          `json:"distance_from_upstream" yaml:"distance_from_upstream"`
	TopElevation         float64          `json:"top_elevation" yaml:"top_elevation"`
	BottomElevation      float64          `json:"bottom_elevation" yaml:"bottom_elevation"`
	ObjectDiameter       *float64         `json:"object_diameter,omitempty" yaml:"object_diameter,omitempty"`
	ObjectInvert         *float64         `json:"object_invert,omitempty" yaml:"object_invert,omitempty"`
}

// Manhole locates a node. Coordinates are projected meters, or longitude
// and latitude for geographic networks.
type Manhole struct {
	ID string  `json:"id" yaml:"id"`
	X  float64 `json:"x" yaml:"x"`
	Y  float64 `json:"y" yaml:"y"`
}

// Network is the record set owned by one design run.
type Network struct {
	Segments      []PipeSegment  `json:"segments" yaml:"segments"`
	Interferences []Interference `json:"interferences,omitempty" yaml:"interferences,omitempty"`
	Manholes      []Manhole      `json:"manholes,omitempty" yaml:"manholes,omitempty"`
}

// InterferencesBySegment groups interferences by the segment they cross.
func (n *Network) InterferencesBySegment() map[string][]Interference {
	out := make(map[string][]Interference)
	for _, it := range n.Interferences {
		out[it.SegmentID] = append(out[it.SegmentID], it)
	}
	return out
}

// Clone returns a copy of the network that shares no memory with n.
func (n Network) Clone() Network {
	out := Network{
		Segments:      make([]PipeSegment, len(n.Segments)),
		Interferences: make([]Interference, len(n.Interferences)),
		Manholes:      slices.Clone(n.Manholes),
	}
	for i, s := range n.Segments {
		out.Segments[i] = s.Clone()
	}
	for i, it := range n.Interferences {
		it.ObjectDiameter = clonePtr(it.ObjectDiameter)
		it.ObjectInvert = clonePtr(it.ObjectInvert)
		out.Interferences[i] = it
	}
	return out
}

// Clone returns a copy of p with its own optional fields.
func (p PipeSegment) Clone() PipeSegment {
	for _, f := range []**float64{
		&p.GroundElevUp, &p.GroundElevDown, &p.MinCover, &p.MaxFillRatio, &p.MinSlopeOverride,
		&p.Diameter, &p.ManningN, &p.InvertUp, &p.InvertDown,
	} {
		*f = clonePtr(*f)
	}
	return p
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Ptr(*p)
}

// Ptr returns a pointer to v.
func Ptr(v float64) *float64 { return &v }

// Val dereferences p, returning 0 for nil.
func Val(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
