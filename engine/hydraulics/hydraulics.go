// Package hydraulics implements Manning partial-flow relations for circular
// pipes. Flows are L/s, diameters mm, slopes m/m; lengths and areas are SI.
package hydraulics

import (
	"fmt"
	"math"

	"github.com/WessleyAI/sewernet/engine/domain"
)

const (
	// ThetaPeak is the wetted angle at which partial-flow capacity peaks.
	ThetaPeak = 5.27810713800479
	// PeakCapacity is the capacity coefficient M at ThetaPeak.
	PeakCapacity = 0.335282
	// MaxIterations bounds the bisection in WettedAngle.
	MaxIterations = 1000
	// DefaultTolerance is used when a caller passes a non-positive tolerance.
	DefaultTolerance = 1e-8
	// Gravity in m/s².
	Gravity = 9.81
	// FullAngle is the wetted angle of a pipe running full.
	FullAngle = 2 * math.Pi
)

// Capacity is the dimensionless Manning capacity M(θ) of a circular section.
func Capacity(theta float64) float64 {
	if theta <= 0 {
		return 0
	}
	a := theta - math.Sin(theta)
	return (a / 8) * math.Pow(a/(4*theta), 2.0/3)
}

// CapacityCoefficient is M = n·Q/(√I·D^(8/3)) for a flow in L/s and diameter in mm.
func CapacityCoefficient(flow, manningN, slope, diameter float64) float64 {
	d := diameter / 1000
	return manningN * (flow / 1000) / (math.Sqrt(slope) * math.Pow(d, 8.0/3))
}

// AngleForCapacity inverts M(θ) by bisection on the rising branch (0, ThetaPeak].
// It returns FullAngle with domain.ErrSurcharge when m reaches PeakCapacity, and
// the best estimate with domain.ErrIterationLimit when the tolerance is not met.
func AngleForCapacity(m, tolerance float64) (float64, error) {
	if m <= 0 {
		return 0, nil
	}
	if m >= PeakCapacity || math.IsNaN(m) {
		return FullAngle, domain.ErrSurcharge
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	lo, hi := 0.0, ThetaPeak
	best, bestErr := hi, math.Inf(1)
	for i := 0; i < MaxIterations; i++ {
		mid := (lo + hi) / 2
		diff := Capacity(mid) - m
		if math.Abs(diff) < bestErr {
			best, bestErr = mid, math.Abs(diff)
		}
		if bestErr <= tolerance {
			return best, nil
		}
		if diff < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return best, fmt.Errorf("%w: |ΔM|=%.3g after %d iterations", domain.ErrIterationLimit, bestErr, MaxIterations)
}

// WettedAngle solves the wetted central angle carrying flow at the given slope.
func WettedAngle(flow, manningN, slope, diameter, tolerance float64) (float64, error) {
	if flow <= 0 {
		return 0, nil
	}
	if slope <= 0 || diameter <= 0 {
		return FullAngle, domain.ErrSurcharge
	}
	return AngleForCapacity(CapacityCoefficient(flow, manningN, slope, diameter), tolerance)
}

// AngleFromFill returns θ for a fill ratio y/d.
func AngleFromFill(fillRatio float64) float64 {
	fillRatio = math.Max(0, math.Min(1, fillRatio))
	return 2 * math.Acos(1-2*fillRatio)
}

// FillFromAngle returns y/d for a wetted angle θ.
func FillFromAngle(theta float64) float64 {
	return (1 - math.Cos(theta/2)) / 2
}

// sectionFactors returns the area and hydraulic radius per unit diameter
// (A/D² and Rh/D) at angle θ.
func sectionFactors(theta float64) (area, radius float64) {
	if theta <= 0 {
		return 0, 0
	}
	a := theta - math.Sin(theta)
	return a / 8, a / (4 * theta)
}

// RequiredDiameter returns the diameter (mm) that carries flow at slope with
// the given fill ratio.
func RequiredDiameter(flow, manningN, slope, maxFillRatio float64) float64 {
	if flow <= 0 {
		return 0
	}
	am, rh := sectionFactors(AngleFromFill(maxFillRatio))
	q := flow / 1000
	return math.Pow(manningN*q/(math.Sqrt(slope)*am*math.Pow(rh, 2.0/3)), 3.0/8) * 1000
}

// RequiredSlope returns the slope at which diameter (mm) carries flow with
// the given fill ratio.
func RequiredSlope(flow, manningN, diameter, maxFillRatio float64) float64 {
	if flow <= 0 {
		return 0
	}
	am, rh := sectionFactors(AngleFromFill(maxFillRatio))
	q := flow / 1000
	d := diameter / 1000
	return math.Pow(manningN*q/(am*math.Pow(rh, 2.0/3)*math.Pow(d, 8.0/3)), 2)
}

// MaxSlopeForVelocity finds the smallest tabled diameter whose section at the
// fill ratio carries flow below maxVelocity, and the slope that produces
// maxVelocity at that fill. When no diameter qualifies it falls back to
// I = 4.65·Q^(-2/3) with the largest entry.
func MaxSlopeForVelocity(flow, maxVelocity, maxFillRatio float64, table []domain.DiameterEntry) (float64, domain.DiameterEntry) {
	if len(table) == 0 {
		return math.Inf(1), domain.DiameterEntry{}
	}
	am, rh := sectionFactors(AngleFromFill(maxFillRatio))
	q := math.Max(flow, 0) / 1000
	for _, e := range table {
		d := e.Diameter / 1000
		if q/(am*d*d) <= maxVelocity {
			return math.Pow(maxVelocity*e.ManningN/math.Pow(rh*d, 2.0/3), 2), e
		}
	}
	return 4.65 * math.Pow(flow, -2.0/3), table[len(table)-1]
}

// Section is the flow geometry of a partially full pipe.
type Section struct {
	Theta           float64
	Area            float64 // m²
	Velocity        float64 // m/s
	HydraulicRadius float64 // m
	FillRatio       float64
	Depth           float64 // m
}

// FlowSection composes WettedAngle with the section geometry. A surcharge or
// iteration-limit error is returned alongside a usable section.
func FlowSection(flow, manningN, slope, diameter, tolerance float64) (Section, error) {
	theta, err := WettedAngle(flow, manningN, slope, diameter, tolerance)
	if theta == 0 {
		return Section{}, err
	}
	d := diameter / 1000
	am, rh := sectionFactors(theta)
	s := Section{
		Theta:           theta,
		Area:            am * d * d,
		HydraulicRadius: rh * d,
		FillRatio:       FillFromAngle(theta),
	}
	s.Depth = s.FillRatio * d
	if s.Area > 0 {
		s.Velocity = (flow / 1000) / s.Area
	}
	return s, err
}

// CriticalVelocity is 6·√(g·Rh).
func CriticalVelocity(hydraulicRadius float64) float64 {
	return 6 * math.Sqrt(Gravity*hydraulicRadius)
}

// TractiveStress is γ·Rh·I in Pa with γ = 10⁴ N/m³.
func TractiveStress(hydraulicRadius, slope float64) float64 {
	return 10000 * hydraulicRadius * slope
}
