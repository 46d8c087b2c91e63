package core

import (
	"context"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/internal/diag"
	"github.com/signalsfoundry/kitesim/internal/logging"
	"github.com/signalsfoundry/kitesim/model"
)

// SolverConfig tunes the position-based constraint solver.
type SolverConfig struct {
	// Iterations of the line+bridle pass per step.
	Iterations int
	// BridleTolerance is the stretch (m) a bridle may show before it is
	// corrected.
	BridleTolerance float64
	// BridleFraction of the bridle error removed per correction.
	BridleFraction float64
	// LineVelocityDamping is the fraction of outward radial velocity removed
	// after a line correction.
	LineVelocityDamping float64
	// LineTolerance bounds how far a control point may end up beyond its
	// line length after Solve.
	LineTolerance float64

	GroundHeight   float64
	GroundFriction float64 // horizontal velocity scale while in contact
	SnapVelocity   float64 // components below this snap to zero on contact
}

// DefaultSolverConfig returns the tuning used by the simulation.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Iterations:          2,
		BridleTolerance:     0.01,
		BridleFraction:      0.4,
		LineVelocityDamping: 0.9,
		LineTolerance:       1e-6,
		GroundHeight:        0,
		GroundFriction:      0.8,
		SnapVelocity:        1e-3,
	}
}

// Lines is the per-step line geometry: the two handle positions and the
// effective rest length of each line.
type Lines struct {
	Handles     [2]mgl64.Vec3
	RestLengths [2]float64
}

// SolveReport summarises one Solve call.
type SolveReport struct {
	// Impulse is the sum of line corrections -lambda*n (kg*m). Divided by
	// dt^2 it is the equivalent constraint force.
	Impulse mgl64.Vec3
	// AngularImpulse is sum r x (-lambda*n), the moment of Impulse about the
	// centre of mass.
	AngularImpulse mgl64.Vec3

	Taut              [2]bool
	BridleCorrections int
	GroundContact     bool
	Penetration       float64
}

// ConstraintSolver enforces lines, bridles and the ground plane on the
// kite body, in that order.
type ConstraintSolver struct {
	cfg  SolverConfig
	sink *diag.Sink
}

// NewConstraintSolver builds a solver; non-positive iteration counts fall
// back to one pass.
func NewConstraintSolver(cfg SolverConfig, sink *diag.Sink) *ConstraintSolver {
	if cfg.Iterations < 1 {
		cfg.Iterations = 1
	}
	return &ConstraintSolver{cfg: cfg, sink: sink}
}

// Config returns the solver tuning.
func (s *ConstraintSolver) Config() SolverConfig { return s.cfg }

// Solve corrects the body so no control point lies beyond its line, bridles
// are within tolerance and no anchor is below the ground.
func (s *ConstraintSolver) Solve(ctx context.Context, body *model.Body, anchors *model.AnchorSet, lines Lines, bridles model.BridleLengths) SolveReport {
	var rep SolveReport
	if body.Kinematic {
		return rep
	}

	for range s.cfg.Iterations {
		for _, side := range model.Sides {
			s.solveLine(ctx, body, anchors, lines, side, &rep)
		}
		s.solveBridles(ctx, body, anchors, bridles, &rep)
	}
	s.enforceLineLimits(ctx, body, anchors, lines)
	rep.GroundContact, rep.Penetration = s.solveGroundWithLines(ctx, body, anchors, lines)

	for _, side := range model.Sides {
		p := anchors.World(body, side.ControlAnchor())
		rep.Taut[side] = p.Sub(lines.Handles[side]).Len() >= lines.RestLengths[side]-s.cfg.LineTolerance
	}
	return rep
}

// groundPasses bounds the alternation between the ground plane and the line
// limits. The line projection runs last.
const groundPasses = 8

// solveGroundWithLines lifts the body out of the ground and re-applies the
// line limits the lift may have broken, then applies contact velocity once.
func (s *ConstraintSolver) solveGroundWithLines(ctx context.Context, body *model.Body, anchors *model.AnchorSet, lines Lines) (bool, float64) {
	pen := s.penetration(body, anchors)
	if pen < 0 {
		return false, 0
	}
	depth := pen
	for range groundPasses {
		body.Position[1] += pen
		s.enforceLineLimits(ctx, body, anchors, lines)
		if pen = s.penetration(body, anchors); pen <= 1e-12 {
			break
		}
	}
	s.ApplyContactVelocity(body)
	return true, depth
}

func (s *ConstraintSolver) penetration(body *model.Body, anchors *model.AnchorSet) float64 {
	_, lowest := anchors.Lowest(body)
	return s.cfg.GroundHeight - lowest.Y()
}

// solveLine applies one PBD correction for a taut line: position and a
// small rotation, weighted by inverse mass and inverse inertia.
func (s *ConstraintSolver) solveLine(ctx context.Context, body *model.Body, anchors *model.AnchorSet, lines Lines, side model.Side, rep *SolveReport) {
	p := anchors.World(body, side.ControlAnchor())
	h := lines.Handles[side]
	n, dist, ok := model.Direction(p.Sub(h), model.Up, 1e-9)
	c := dist - lines.RestLengths[side]
	if c <= 0 {
		return
	}
	if !ok {
		s.sink.Report(ctx, diag.Fault{Kind: diag.KindGeometry, Component: "solver", Message: "control point on handle"})
		return
	}

	wm, wi := body.InvMass(), body.InvInertia()
	r := p.Sub(body.Position)
	a := r.Cross(n)
	denom := wm + a.Dot(a)*wi
	if !(denom > 0) {
		return
	}
	lambda := c / denom

	body.Position = body.Position.Sub(n.Mul(wm * lambda))
	if wi > 0 {
		body.Orientation = model.IntegrateRotation(body.Orientation, a.Mul(-wi*lambda))
	}

	rep.Impulse = rep.Impulse.Sub(n.Mul(lambda))
	rep.AngularImpulse = rep.AngularImpulse.Add(r.Cross(n.Mul(-lambda)))

	if vr := body.Velocity.Dot(n); vr > 0 {
		body.Velocity = body.Velocity.Sub(n.Mul(s.cfg.LineVelocityDamping * vr))
	}
}

// solveBridles moves the body along each over-stretched bridle. Control
// points are rigid body points, so only the body moves.
func (s *ConstraintSolver) solveBridles(ctx context.Context, body *model.Body, anchors *model.AnchorSet, bridles model.BridleLengths, rep *SolveReport) {
	for _, side := range model.Sides {
		ctrl := side.ControlAnchor()
		for i, id := range side.BridleAnchors() {
			a := anchors.World(body, id)
			c := anchors.World(body, ctrl)
			n, dist, ok := model.Direction(c.Sub(a), model.Up, 1e-9)
			if !ok {
				s.sink.Report(ctx, diag.Fault{
					Kind:      diag.KindGeometry,
					Component: "solver",
					Message:   "bridle anchor coincides with control point",
					Fields:    []logging.Field{logging.String("anchor", id.String())},
				})
				continue
			}
			err := dist - bridles[side][i]
			if err <= s.cfg.BridleTolerance {
				continue
			}
			body.Position = body.Position.Add(n.Mul(s.cfg.BridleFraction * err))
			rep.BridleCorrections++
		}
	}
}

// enforceLineLimits translates the body onto the set of positions where
// both control points are within their line lengths. With the orientation
// fixed, each line admits a ball of body positions; the body is moved to
// the nearest point of a single ball when that point satisfies the other
// line, otherwise onto the circle where both spheres meet.
func (s *ConstraintSolver) enforceLineLimits(ctx context.Context, body *model.Body, anchors *model.AnchorSet, lines Lines) {
	var centers [2]mgl64.Vec3
	for _, side := range model.Sides {
		centers[side] = lines.Handles[side].Sub(body.Orientation.Rotate(anchors[side.ControlAnchor()]))
	}
	radii := lines.RestLengths
	tol := s.cfg.LineTolerance
	x := body.Position

	inside := func(p mgl64.Vec3, side model.Side) bool {
		return p.Sub(centers[side]).Len() <= radii[side]+tol
	}
	if inside(x, model.Left) && inside(x, model.Right) {
		return
	}

	best, found := mgl64.Vec3{}, false
	for _, side := range model.Sides {
		other := model.Right
		if side == model.Right {
			other = model.Left
		}
		p := projectOntoBall(x, centers[side], radii[side])
		if !inside(p, other) {
			continue
		}
		if !found || p.Sub(x).Len() < best.Sub(x).Len() {
			best, found = p, true
		}
	}
	if !found {
		p, ok := projectOntoCircle(x, centers[model.Left], centers[model.Right], radii[model.Left], radii[model.Right])
		if !ok {
			s.sink.Report(ctx, diag.Fault{Kind: diag.KindGeometry, Component: "solver", Message: "line limits have no common position"})
			return
		}
		best = p
	}
	body.Position = best
}

func projectOntoBall(x, center mgl64.Vec3, radius float64) mgl64.Vec3 {
	d := x.Sub(center)
	l := d.Len()
	if l <= radius || l == 0 {
		return x
	}
	return center.Add(d.Mul(radius / l))
}

// projectOntoCircle returns the point of the circle where the spheres
// (ca, ra) and (cb, rb) intersect that is closest to x.
func projectOntoCircle(x, ca, cb mgl64.Vec3, ra, rb float64) (mgl64.Vec3, bool) {
	axis, d, ok := model.Direction(cb.Sub(ca), model.Up, 1e-12)
	if !ok {
		return mgl64.Vec3{}, false
	}
	t := (d*d + ra*ra - rb*rb) / (2 * d)
	rho2 := ra*ra - t*t
	if rho2 < 0 {
		return mgl64.Vec3{}, false
	}
	center := ca.Add(axis.Mul(t))
	off := x.Sub(center)
	radial := off.Sub(axis.Mul(off.Dot(axis)))
	dir, _, ok := model.Direction(radial, anyPerpendicular(axis), 1e-12)
	if !ok {
		dir = anyPerpendicular(axis)
	}
	return center.Add(dir.Mul(math.Sqrt(rho2))), true
}

func anyPerpendicular(v mgl64.Vec3) mgl64.Vec3 {
	ref := model.Up
	if math.Abs(v.Dot(ref)) > 0.9 {
		ref = mgl64.Vec3{1, 0, 0}
	}
	return v.Cross(ref).Normalize()
}

// ApplyContactVelocity zeroes downward velocity, applies ground friction
// and snaps tiny components to zero.
func (s *ConstraintSolver) ApplyContactVelocity(body *model.Body) {
	v := body.Velocity
	if v[1] < 0 {
		v[1] = 0
	}
	v[0] *= s.cfg.GroundFriction
	v[2] *= s.cfg.GroundFriction
	for i := range v {
		if math.Abs(v[i]) < s.cfg.SnapVelocity {
			v[i] = 0
		}
	}
	body.Velocity = v
}
