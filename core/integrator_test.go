package core

import (
	"context"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/internal/diag"
	"github.com/signalsfoundry/kitesim/model"
)

func TestIntegrateSemiImplicitEuler(t *testing.T) {
	in := NewIntegrator(IntegratorConfig{MaxSpeed: 100, MaxAngularSpeed: 60}, quietSink())
	b := model.NewBody(2, 1)
	b.AddForce(mgl64.Vec3{0, -20, 0})

	dt := 0.01
	if !in.Integrate(context.Background(), b, dt) {
		t.Fatalf("Integrate reported a skip")
	}
	if !vecAlmostEqual(b.Velocity, mgl64.Vec3{0, -0.1, 0}, 1e-15) {
		t.Fatalf("velocity = %v", b.Velocity)
	}
	// Position uses the updated velocity.
	if !vecAlmostEqual(b.Position, mgl64.Vec3{0, -0.001, 0}, 1e-15) {
		t.Fatalf("position = %v", b.Position)
	}
	if b.Force() != (mgl64.Vec3{}) || b.Torque() != (mgl64.Vec3{}) {
		t.Fatalf("accumulators not cleared")
	}
	if b.Orientation != mgl64.QuatIdent() {
		t.Fatalf("orientation changed without spin: %v", b.Orientation)
	}
}

func TestIntegrateDamping(t *testing.T) {
	in := NewIntegrator(IntegratorConfig{LinearDamping: 0.5, AngularDamping: 2, MaxSpeed: 100, MaxAngularSpeed: 60}, quietSink())
	b := model.NewBody(1, 1)
	b.Velocity = mgl64.Vec3{4, 0, 0}
	b.AngularVelocity = mgl64.Vec3{0, 1, 0}

	in.Integrate(context.Background(), b, 0.1)
	if !almostEqual(b.Velocity.X(), 4*math.Exp(-0.05), 1e-12) {
		t.Fatalf("linear damping: %v", b.Velocity)
	}
	if !almostEqual(b.AngularVelocity.Y(), 0.8, 1e-12) {
		t.Fatalf("angular damping: %v", b.AngularVelocity)
	}
	if l := b.Orientation.Len(); !almostEqual(l, 1, 1e-12) {
		t.Fatalf("orientation not normalised: |q|=%v", l)
	}

	// Angular damping never reverses the spin.
	in.SetDamping(0, 50)
	in.Integrate(context.Background(), b, 0.1)
	if b.AngularVelocity != (mgl64.Vec3{}) {
		t.Fatalf("overdamped spin = %v, want zero", b.AngularVelocity)
	}
}

func TestIntegrateRunawayZeroesVelocity(t *testing.T) {
	sink := quietSink()
	in := NewIntegrator(DefaultIntegratorConfig(), sink)
	b := model.NewBody(0.31, 0.08)
	b.AddForceAtPoint(mgl64.Vec3{1e6, 0, 0}, mgl64.Vec3{0, 1, 0})

	in.Integrate(context.Background(), b, 1.0/60)
	if b.Velocity != (mgl64.Vec3{}) || b.AngularVelocity != (mgl64.Vec3{}) {
		t.Fatalf("runaway velocities kept: %v %v", b.Velocity, b.AngularVelocity)
	}
	if got := sink.Count(diag.KindNumerical); got != 1 {
		t.Fatalf("numerical faults = %d, want 1", got)
	}
}

func TestIntegrateSkipsNonFiniteState(t *testing.T) {
	sink := quietSink()
	in := NewIntegrator(DefaultIntegratorConfig(), sink)
	b := model.NewBody(1, 1)
	b.Velocity = mgl64.Vec3{math.NaN(), 0, 0}

	if in.Integrate(context.Background(), b, 0.01) {
		t.Fatalf("Integrate accepted NaN velocity")
	}
	if b.Position != (mgl64.Vec3{}) {
		t.Fatalf("position moved: %v", b.Position)
	}
	if sink.Count(diag.KindNumerical) == 0 {
		t.Fatalf("fault not reported")
	}
}

func TestIntegrateKinematicBodyUntouched(t *testing.T) {
	in := NewIntegrator(DefaultIntegratorConfig(), quietSink())
	b := model.NewBody(1, 1)
	b.Kinematic = true
	b.Velocity = mgl64.Vec3{1, 2, 3}
	b.AddForce(mgl64.Vec3{0, -10, 0})

	in.Integrate(context.Background(), b, 0.1)
	if b.Position != (mgl64.Vec3{}) || b.Velocity != (mgl64.Vec3{1, 2, 3}) {
		t.Fatalf("kinematic body changed: %+v", b)
	}
	if b.Force() != (mgl64.Vec3{}) {
		t.Fatalf("accumulators not cleared for kinematic body")
	}
}
