package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/model"
)

// ErrInfeasibleBridle is returned when three bridle lengths cannot meet at
// a single control point.
var ErrInfeasibleBridle = errors.New("infeasible bridle lengths")

// Trilaterate returns the point at distance r[i] from p[i] for all three
// anchors. Of the two mirror solutions it picks the one on the front face
// (larger body-frame Z).
func Trilaterate(p [3]mgl64.Vec3, r [3]float64) (mgl64.Vec3, error) {
	ex, d, ok := model.Direction(p[1].Sub(p[0]), model.Up, 1e-9)
	if !ok {
		return mgl64.Vec3{}, fmt.Errorf("%w: coincident anchors", ErrInfeasibleBridle)
	}
	rel := p[2].Sub(p[0])
	i := ex.Dot(rel)
	ey, _, ok := model.Direction(rel.Sub(ex.Mul(i)), model.Up, 1e-9)
	if !ok {
		return mgl64.Vec3{}, fmt.Errorf("%w: collinear anchors", ErrInfeasibleBridle)
	}
	ez := ex.Cross(ey)
	j := ey.Dot(rel)

	x := (r[0]*r[0] - r[1]*r[1] + d*d) / (2 * d)
	y := (r[0]*r[0]-r[2]*r[2]+i*i+j*j)/(2*j) - (i/j)*x
	z2 := r[0]*r[0] - x*x - y*y
	if z2 < -1e-9 {
		return mgl64.Vec3{}, fmt.Errorf("%w: spheres do not intersect (z^2=%.3g)", ErrInfeasibleBridle, z2)
	}
	z := math.Sqrt(math.Max(z2, 0))

	base := p[0].Add(ex.Mul(x)).Add(ey.Mul(y))
	a, b := base.Add(ez.Mul(z)), base.Sub(ez.Mul(z))
	if b.Z() > a.Z() {
		return b, nil
	}
	return a, nil
}

// PlaceControlPoints returns anchors with both control points moved to
// where their three bridles meet. Control points stay rigid body-frame
// points; only their local coordinates change.
func PlaceControlPoints(anchors model.AnchorSet, bridles model.BridleLengths) (model.AnchorSet, error) {
	if !bridles.Positive() {
		return anchors, fmt.Errorf("%w: lengths must be positive", ErrInfeasibleBridle)
	}
	out := anchors
	for _, side := range model.Sides {
		ids := side.BridleAnchors()
		pts := [3]mgl64.Vec3{anchors[ids[0]], anchors[ids[1]], anchors[ids[2]]}
		p, err := Trilaterate(pts, bridles[side])
		if err != nil {
			return anchors, fmt.Errorf("%s side: %w", side, err)
		}
		out[side.ControlAnchor()] = p
	}
	return out, nil
}

// SpawnPose is the reset attitude: the kite sits downwind of the handler at
// Elevation above the horizon with its spine tilted Tilt degrees from
// vertical towards the handler. The angle of attack in level wind is
// 90 - Tilt degrees.
type SpawnPose struct {
	Elevation float64 // degrees
	Tilt      float64 // degrees
}

// DefaultSpawnPose keeps the elevation above the tilt so the lines pull
// towards the tail and steering acts in the usual sense.
func DefaultSpawnPose() SpawnPose {
	return SpawnPose{Elevation: 75, Tilt: 65}
}

// Orientation faces the front of the kite upwind, towards the handler.
func (sp SpawnPose) Orientation(windDirDeg float64) mgl64.Quat {
	yaw := mgl64.QuatRotate(-math.Pi/2-mgl64.DegToRad(windDirDeg), model.Up)
	tilt := mgl64.QuatRotate(mgl64.DegToRad(sp.Tilt), mgl64.Vec3{1, 0, 0})
	return yaw.Mul(tilt)
}

// Place puts the body at rest in the spawn pose with both lines as long as
// possible without exceeding their rest lengths; for a symmetric setup both
// end up exactly taut.
func (sp SpawnPose) Place(body *model.Body, anchors *model.AnchorSet, lines Lines, windDirDeg float64) {
	q := sp.Orientation(windDirDeg)
	rad := mgl64.DegToRad(windDirDeg)
	el := mgl64.DegToRad(sp.Elevation)
	downwind := mgl64.Vec3{math.Cos(rad), 0, math.Sin(rad)}
	dir := downwind.Mul(math.Cos(el)).Add(model.Up.Mul(math.Sin(el)))

	mid := lines.Handles[model.Left].Add(lines.Handles[model.Right]).Mul(0.5)
	ctrlMid := anchors[model.CtrlLeft].Add(anchors[model.CtrlRight]).Mul(0.5)

	reach := math.Inf(1)
	for _, side := range model.Sides {
		w := mid.Add(q.Rotate(anchors[side.ControlAnchor()].Sub(ctrlMid))).Sub(lines.Handles[side])
		we := w.Dot(dir)
		disc := we*we - w.Dot(w) + lines.RestLengths[side]*lines.RestLengths[side]
		dist := 0.0
		if disc > 0 {
			dist = math.Max(0, -we+math.Sqrt(disc))
		}
		reach = math.Min(reach, dist)
	}

	body.Orientation = q
	body.Position = mid.Add(dir.Mul(reach)).Sub(q.Rotate(ctrlMid))
	body.Velocity = mgl64.Vec3{}
	body.AngularVelocity = mgl64.Vec3{}
	body.ClearAccumulators()
}

// angularVelocityBetween is the constant angular velocity that rotates q0
// into q1 over dt.
func angularVelocityBetween(q0, q1 mgl64.Quat, dt float64) mgl64.Vec3 {
	dq := q1.Mul(q0.Inverse())
	if dq.W < 0 {
		dq = mgl64.Quat{W: -dq.W, V: dq.V.Mul(-1)}
	}
	s := dq.V.Len()
	if s < 1e-12 || !(dt > 0) {
		return mgl64.Vec3{}
	}
	angle := 2 * math.Atan2(s, dq.W)
	return dq.V.Mul(angle / (s * dt))
}
