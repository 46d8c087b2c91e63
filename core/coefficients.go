package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// MinAspectRatio floors the aspect ratio used in induced-drag terms.
const MinAspectRatio = 0.5

// ErrUnknownCoefficientModel is returned by CoefficientModelByName.
var ErrUnknownCoefficientModel = errors.New("unknown coefficient model")

// CoefficientModel maps angle of attack (radians, 0..pi/2) and aspect ratio
// to lift and drag coefficients. Implementations always return finite
// values.
type CoefficientModel interface {
	Name() string
	Coefficients(alpha, aspectRatio float64) (cl, cd float64)
}

// RayleighModel is the flat-plate normal-force model: CN = sin 2a,
// CL = K*CN and CD = CD0 + CL^2/(pi*AR*E).
type RayleighModel struct {
	K   float64 // lift slope multiplier
	CD0 float64 // parasitic drag
	E   float64 // Oswald efficiency
}

// DefaultRayleighModel returns K=1, CD0=0.1, E=0.8.
func DefaultRayleighModel() RayleighModel {
	return RayleighModel{K: 1, CD0: 0.1, E: 0.8}
}

func (RayleighModel) Name() string { return "rayleigh" }

func (m RayleighModel) Coefficients(alpha, aspectRatio float64) (float64, float64) {
	alpha = clampAlpha(alpha)
	cl := m.K * math.Sin(2*alpha)
	cd := m.CD0 + inducedDrag(cl, aspectRatio, m.E)
	return finiteOr(cl, 0), finiteOr(cd, m.CD0)
}

// LinearSlopeModel is a thin-airfoil lift line, CL = Slope*(a - Alpha0), up
// to StallAngle, followed by a quadratic fall-off to zero at 90 degrees.
// Drag uses the same induced polar as RayleighModel.
type LinearSlopeModel struct {
	Slope      float64 // per radian
	Alpha0     float64 // zero-lift angle, radians
	StallAngle float64 // radians
	CD0        float64
	E          float64
}

// DefaultLinearSlopeModel stalls at 18 degrees with a slope of 3.5/rad.
func DefaultLinearSlopeModel() LinearSlopeModel {
	return LinearSlopeModel{
		Slope:      3.5,
		StallAngle: 18 * math.Pi / 180,
		CD0:        0.08,
		E:          0.8,
	}
}

func (LinearSlopeModel) Name() string { return "linear" }

func (m LinearSlopeModel) Coefficients(alpha, aspectRatio float64) (float64, float64) {
	alpha = clampAlpha(alpha)
	stall := math.Min(math.Max(m.StallAngle, 0), math.Pi/2)
	clMax := m.Slope * (stall - m.Alpha0)

	var cl float64
	if alpha <= stall {
		cl = m.Slope * (alpha - m.Alpha0)
	} else {
		cl = clMax * postStall(alpha, stall)
	}
	cd := m.CD0 + inducedDrag(cl, aspectRatio, m.E)
	return finiteOr(cl, 0), finiteOr(cd, m.CD0)
}

// PlateModel is the reference flat plate: CL0 = 2*pi*a with the low aspect
// ratio correction CL = CL0/(1+CL0/(pi*AR)), CD = 1.28 sin a + CL^2/(0.7*pi*AR).
// Past StallAngle lift falls off like LinearSlopeModel.
type PlateModel struct {
	StallAngle float64 // radians
}

// DefaultPlateModel stalls at 15 degrees.
func DefaultPlateModel() PlateModel {
	return PlateModel{StallAngle: 15 * math.Pi / 180}
}

func (PlateModel) Name() string { return "plate" }

func (m PlateModel) Coefficients(alpha, aspectRatio float64) (float64, float64) {
	alpha = clampAlpha(alpha)
	ar := math.Max(aspectRatio, MinAspectRatio)
	if math.IsNaN(aspectRatio) {
		ar = MinAspectRatio
	}
	stall := math.Min(math.Max(m.StallAngle, 0), math.Pi/2)

	lift := func(a float64) float64 {
		cl0 := 2 * math.Pi * a
		return cl0 / (1 + cl0/(math.Pi*ar))
	}
	var cl float64
	if alpha <= stall {
		cl = lift(alpha)
	} else {
		cl = lift(stall) * postStall(alpha, stall)
	}
	cd := 1.28*math.Sin(alpha) + cl*cl/(0.7*math.Pi*ar)
	return finiteOr(cl, 0), finiteOr(cd, 1.28)
}

// CoefficientModelByName returns the default-tuned model called name
// (rayleigh, linear or plate).
func CoefficientModelByName(name string) (CoefficientModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "rayleigh":
		return DefaultRayleighModel(), nil
	case "linear", "linear-slope", "linear_slope":
		return DefaultLinearSlopeModel(), nil
	case "plate", "flat-plate", "flat_plate":
		return DefaultPlateModel(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCoefficientModel, name)
	}
}

// postStall is 1 at the stall angle and falls quadratically to 0 at 90
// degrees.
func postStall(alpha, stall float64) float64 {
	span := math.Pi/2 - stall
	if span <= 0 {
		return 0
	}
	x := (alpha - stall) / span
	return math.Max(0, 1-x*x)
}

func inducedDrag(cl, aspectRatio, e float64) float64 {
	ar := aspectRatio
	if !(ar >= MinAspectRatio) {
		ar = MinAspectRatio
	}
	if !(e > 0) {
		e = 1
	}
	return cl * cl / (math.Pi * ar * e)
}

func clampAlpha(alpha float64) float64 {
	if math.IsNaN(alpha) || alpha < 0 {
		return 0
	}
	return math.Min(alpha, math.Pi/2)
}

func finiteOr(x, fallback float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fallback
	}
	return x
}
