package model

import "github.com/go-gl/mathgl/mgl64"

// Body is the kite's rigid-body state. It is owned by the simulation and
// mutated only by the integrator and the constraint solver.
type Body struct {
	Position        mgl64.Vec3
	Orientation     mgl64.Quat
	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3

	Mass    float64
	Inertia float64 // isotropic moment of inertia

	// Kinematic bodies are never advanced by the integrator.
	Kinematic bool

	force  mgl64.Vec3
	torque mgl64.Vec3
}

// Pose is the position/orientation pair restored after a numerical fault.
type Pose struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// NewBody constructs a resting body at the origin with identity orientation.
func NewBody(mass, inertia float64) *Body {
	return &Body{
		Orientation: mgl64.QuatIdent(),
		Mass:        mass,
		Inertia:     inertia,
	}
}

// InvMass is zero for kinematic or massless bodies.
func (b *Body) InvMass() float64 {
	if b.Kinematic || b.Mass <= 0 {
		return 0
	}
	return 1 / b.Mass
}

// InvInertia is zero for kinematic bodies or non-positive inertia.
func (b *Body) InvInertia() float64 {
	if b.Kinematic || b.Inertia <= 0 {
		return 0
	}
	return 1 / b.Inertia
}

// LocalToWorld maps a body-frame point into world space.
func (b *Body) LocalToWorld(p mgl64.Vec3) mgl64.Vec3 {
	return b.Position.Add(b.Orientation.Rotate(p))
}

// WorldToLocal maps a world point into the body frame.
func (b *Body) WorldToLocal(p mgl64.Vec3) mgl64.Vec3 {
	return b.Orientation.Inverse().Rotate(p.Sub(b.Position))
}

// PointVelocity is the velocity of a world-space point rigidly attached to
// the body: v + w x (p - x).
func (b *Body) PointVelocity(p mgl64.Vec3) mgl64.Vec3 {
	return b.Velocity.Add(b.AngularVelocity.Cross(p.Sub(b.Position)))
}

// Pose snapshots the current position and orientation.
func (b *Body) Pose() Pose {
	return Pose{Position: b.Position, Orientation: b.Orientation}
}

// SetPose restores a snapshot taken with Pose.
func (b *Body) SetPose(p Pose) {
	b.Position = p.Position
	b.Orientation = p.Orientation
}

// Finite reports whether the kinematic state holds only real numbers.
func (b *Body) Finite() bool {
	return IsFinite(b.Position) && IsFiniteQuat(b.Orientation) &&
		IsFinite(b.Velocity) && IsFinite(b.AngularVelocity)
}

// Force returns the accumulated force for the current step.
func (b *Body) Force() mgl64.Vec3 { return b.force }

// Torque returns the accumulated torque for the current step.
func (b *Body) Torque() mgl64.Vec3 { return b.torque }

// AddForce accumulates a force through the centre of mass. Non-finite input
// is rejected and leaves the accumulator untouched.
func (b *Body) AddForce(f mgl64.Vec3) bool {
	if !IsFinite(f) {
		return false
	}
	b.force = b.force.Add(f)
	return true
}

// AddForceAtPoint accumulates f applied at the world point p together with
// the torque (p - x) x f. Either both are accumulated or neither.
func (b *Body) AddForceAtPoint(f, p mgl64.Vec3) bool {
	tau := p.Sub(b.Position).Cross(f)
	if !IsFinite(f) || !IsFinite(tau) {
		return false
	}
	b.force = b.force.Add(f)
	b.torque = b.torque.Add(tau)
	return true
}

// ClearAccumulators zeroes force and torque.
func (b *Body) ClearAccumulators() {
	b.force = mgl64.Vec3{}
	b.torque = mgl64.Vec3{}
}
