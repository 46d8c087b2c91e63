package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/model"
)

// slackTolerance is how far inside its rest length a line may sit and still
// count as taut for display.
const slackTolerance = 1e-3

// LineTension is the display estimate for one control line. It is never
// applied to the body.
type LineTension struct {
	Tension  float64 // N
	Sag      float64 // m, mid-span catenary approximation
	Distance float64 // control point to handle, m
	Taut     bool
}

// TensionEstimate holds line and bridle display tensions.
type TensionEstimate struct {
	Lines   [2]LineTension
	Bridles [2][3]float64 // N, indexed like model.BridleLengths
}

// EstimateTensions derives line tensions from the aerodynamic force
// projected on each taut line (halved between the two lines), plus
// pre-tension and the stiffness/damping terms, clamped to MaxTension.
// Bridle tensions split each line's tension by how well every segment is
// aligned with that line.
func EstimateTensions(body *model.Body, anchors *model.AnchorSet, lines Lines, spec model.LineSpec, aeroForce mgl64.Vec3, gravity float64) TensionEstimate {
	var est TensionEstimate
	for _, side := range model.Sides {
		ctrl := anchors.World(body, side.ControlAnchor())
		n, dist, ok := model.Direction(ctrl.Sub(lines.Handles[side]), model.Up, 1e-9)
		rest := lines.RestLengths[side]
		lt := LineTension{Distance: dist}

		if ok && dist >= rest-slackTolerance {
			lt.Taut = true
			t := spec.PreTension + math.Max(0, aeroForce.Dot(n))/2
			t += spec.Stiffness * math.Max(0, dist-rest)
			t += spec.Damping * math.Max(0, body.PointVelocity(ctrl).Dot(n))
			if spec.MaxTension > 0 {
				t = math.Min(t, spec.MaxTension)
			}
			lt.Tension = math.Max(0, t)
		}
		lt.Sag = sag(spec.LinearMass, gravity, rest, lt.Tension)
		est.Lines[side] = lt

		est.Bridles[side] = splitBridleTension(body, anchors, side, n, lt.Tension)
	}
	return est
}

func sag(linearMass, gravity, length, tension float64) float64 {
	maxSag := length / 4
	if tension <= 0 {
		return maxSag
	}
	return math.Min(linearMass*gravity*length*length/(8*tension), maxSag)
}

func splitBridleTension(body *model.Body, anchors *model.AnchorSet, side model.Side, lineDir mgl64.Vec3, tension float64) [3]float64 {
	var out [3]float64
	if tension <= 0 {
		return out
	}
	ctrl := anchors.World(body, side.ControlAnchor())
	var weights [3]float64
	var sum float64
	for i, id := range side.BridleAnchors() {
		u, _, ok := model.Direction(anchors.World(body, id).Sub(ctrl), model.Up, 1e-9)
		if ok {
			weights[i] = math.Max(0, u.Dot(lineDir))
		}
		sum += weights[i]
	}
	for i := range out {
		if sum > 0 {
			out[i] = tension * weights[i] / sum
		} else {
			out[i] = tension / 3
		}
	}
	return out
}
