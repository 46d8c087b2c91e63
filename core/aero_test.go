package core

import (
	"context"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/model"
)

func newAeroFixture(t *testing.T, wind WindParams, parallel bool) (*AeroModel, *WindModel, *model.Body, model.AnchorSet) {
	t.Helper()
	body, anchors, _ := restingKite(t, SpawnPose{Elevation: 90, Tilt: 65}, 10)
	sink := quietSink()
	w := NewWindModel(wind, NewRandomWalk(1), sink)
	a := NewAeroModel(model.DefaultKite(), DefaultRayleighModel(), DefaultAeroConfig(), sink, WithParallelPanels(parallel))
	return a, w, body, anchors
}

func TestAeroZeroWindOnlyGravity(t *testing.T) {
	a, w, body, anchors := newAeroFixture(t, WindParams{Speed: 0}, false)
	res := a.Apply(context.Background(), body, &anchors, w)

	if res.AeroForce != (mgl64.Vec3{}) || res.AeroTorque != (mgl64.Vec3{}) {
		t.Fatalf("calm air produced aero force %v torque %v", res.AeroForce, res.AeroTorque)
	}
	weight := model.DefaultKite().Mass * DefaultAeroConfig().Gravity
	if !vecAlmostEqual(res.Force, mgl64.Vec3{0, -weight, 0}, 1e-12) {
		t.Fatalf("force = %v, want pure weight %v", res.Force, weight)
	}
	// Gravity shares are area weighted, so they act through the centroid.
	if !vecAlmostEqual(res.Torque, mgl64.Vec3{}, 1e-12) {
		t.Fatalf("gravity torque = %v, want zero", res.Torque)
	}
}

func TestAeroSymmetricReferenceForces(t *testing.T) {
	a, w, body, anchors := newAeroFixture(t, WindParams{Speed: 3}, false)
	res := a.Apply(context.Background(), body, &anchors, w)

	wantLift := mgl64.Vec3{0.8097807833987551, 1.736580494094288, 0}
	wantDrag := mgl64.Vec3{0.3474676079318966, 0, 0}
	if !vecAlmostEqual(res.Lift, wantLift, 1e-9) {
		t.Fatalf("lift = %v, want %v", res.Lift, wantLift)
	}
	if !vecAlmostEqual(res.Drag, wantDrag, 1e-9) {
		t.Fatalf("drag = %v, want %v", res.Drag, wantDrag)
	}
	if !vecAlmostEqual(res.AeroTorque, mgl64.Vec3{}, 1e-12) {
		t.Fatalf("symmetric aero torque = %v, want zero", res.AeroTorque)
	}

	// Vertical lift stays below the weight at this wind speed.
	weight := model.DefaultKite().Mass * DefaultAeroConfig().Gravity
	if res.Lift.Y() >= weight {
		t.Fatalf("lift %.4f should be below weight %.4f", res.Lift.Y(), weight)
	}

	for _, p := range res.Panels {
		if p.Culled {
			t.Fatalf("panel %s culled with front wind", p.Name)
		}
		if !almostEqual(p.CL, 0.766044443118978, 1e-12) || !almostEqual(p.CD, 0.13891498102635147, 1e-12) {
			t.Fatalf("panel %s coefficients = (%v, %v)", p.Name, p.CL, p.CD)
		}
		if !almostEqual(mgl64.RadToDeg(p.Alpha), 25, 1e-9) {
			t.Fatalf("panel %s alpha = %v deg, want 25", p.Name, mgl64.RadToDeg(p.Alpha))
		}
	}
}

func TestAeroMatchesClosedForm(t *testing.T) {
	a, w, body, anchors := newAeroFixture(t, WindParams{Speed: 7, Direction: 20}, false)
	res := a.Apply(context.Background(), body, &anchors, w)

	def := model.DefaultKite()
	normal := body.Orientation.Rotate(mgl64.Vec3{0, 0, 1})
	wind := w.Ambient()
	what := wind.Normalize()
	d := normal.Dot(what)
	if d >= 0 {
		t.Fatalf("fixture should face the wind, d=%v", d)
	}
	cl, cd := DefaultRayleighModel().Coefficients(math.Asin(math.Abs(d)), def.AspectRatio())
	q := 0.5 * DefaultAeroConfig().AirDensity * wind.Dot(wind)
	area := def.TotalArea()
	want := normal.Mul(-cl * q * area).Add(what.Mul(cd * q * area))

	if !vecAlmostEqual(res.AeroForce, want, 1e-9) {
		t.Fatalf("aero force = %v, want %v", res.AeroForce, want)
	}
	for _, p := range res.Panels {
		if p.Lift.Len() == 0 {
			t.Fatalf("panel %s produced no lift", p.Name)
		}
	}
}

func TestAeroBackfaceIsCulled(t *testing.T) {
	a, w, body, anchors := newAeroFixture(t, WindParams{Speed: 8, Direction: 180}, false)
	res := a.Apply(context.Background(), body, &anchors, w)

	if res.AeroForce != (mgl64.Vec3{}) {
		t.Fatalf("wind on the back face produced %v", res.AeroForce)
	}
	for _, p := range res.Panels {
		if !p.Culled {
			t.Fatalf("panel %s not culled", p.Name)
		}
	}
}

func TestAeroParallelMatchesSequential(t *testing.T) {
	seq, ws, bs, as := newAeroFixture(t, WindParams{Speed: 9, Direction: 15}, false)
	par, wp, bp, ap := newAeroFixture(t, WindParams{Speed: 9, Direction: 15}, true)
	for _, b := range []*model.Body{bs, bp} {
		b.Velocity = mgl64.Vec3{0.4, -1.1, 0.3}
		b.AngularVelocity = mgl64.Vec3{0.2, 0.5, -0.7}
	}

	rs := seq.Apply(context.Background(), bs, &as, ws)
	rp := par.Apply(context.Background(), bp, &ap, wp)

	if rs != rp {
		t.Fatalf("parallel result differs:\nseq=%+v\npar=%+v", rs, rp)
	}
	if bs.Force() != bp.Force() || bs.Torque() != bp.Torque() {
		t.Fatalf("accumulators differ: seq=(%v, %v) par=(%v, %v)", bs.Force(), bs.Torque(), bp.Force(), bp.Torque())
	}
}

func TestAeroScalesMultiplyForces(t *testing.T) {
	a, w, body, anchors := newAeroFixture(t, WindParams{Speed: 3}, false)
	base := a.Apply(context.Background(), body, &anchors, w)
	body.ClearAccumulators()

	a.SetScales(2, 0)
	scaled := a.Apply(context.Background(), body, &anchors, w)
	if !vecAlmostEqual(scaled.Lift, base.Lift.Mul(2), 1e-12) {
		t.Fatalf("lift scale: got %v, want %v", scaled.Lift, base.Lift.Mul(2))
	}
	if scaled.Drag != (mgl64.Vec3{}) {
		t.Fatalf("zero drag scale left %v", scaled.Drag)
	}
}
