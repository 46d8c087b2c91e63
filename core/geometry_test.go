package core

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/model"
)

func TestTrilaterateReproducesDefaultControlPoints(t *testing.T) {
	def := model.DefaultKite()
	placed, err := PlaceControlPoints(def.Anchors, def.Bridles)
	if err != nil {
		t.Fatalf("PlaceControlPoints: %v", err)
	}
	want := map[model.AnchorID]mgl64.Vec3{
		model.CtrlLeft:  {-0.15, 0.05, 0.40},
		model.CtrlRight: {0.15, 0.05, 0.40},
	}
	for id, w := range want {
		if !vecAlmostEqual(placed[id], w, 1e-9) {
			t.Fatalf("%s = %v, want %v", id, placed[id], w)
		}
	}
}

func TestTrilaterateRejectsInfeasibleLengths(t *testing.T) {
	def := model.DefaultKite()
	bridles := def.Bridles
	bridles[model.Left][0] = 0.05 // nose bridle far too short to meet the others

	_, err := PlaceControlPoints(def.Anchors, bridles)
	if !errors.Is(err, ErrInfeasibleBridle) {
		t.Fatalf("err = %v, want ErrInfeasibleBridle", err)
	}

	bridles = def.Bridles
	bridles[model.Right][2] = 0
	if _, err := PlaceControlPoints(def.Anchors, bridles); !errors.Is(err, ErrInfeasibleBridle) {
		t.Fatalf("zero length: err = %v, want ErrInfeasibleBridle", err)
	}
}

func TestTrilaterateCollinearAnchors(t *testing.T) {
	pts := [3]mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}}
	if _, err := Trilaterate(pts, [3]float64{1, 1, 1}); !errors.Is(err, ErrInfeasibleBridle) {
		t.Fatalf("err = %v, want ErrInfeasibleBridle", err)
	}
}

func TestSpawnLeavesBothLinesTaut(t *testing.T) {
	for _, pose := range []SpawnPose{DefaultSpawnPose(), {Elevation: 90, Tilt: 65}, {Elevation: 60, Tilt: 30}} {
		body, anchors, lines := restingKite(t, pose, 10)
		for _, side := range model.Sides {
			if d := lineDistance(body, &anchors, lines, side); !almostEqual(d, 10, 1e-9) {
				t.Fatalf("pose %+v: %s line distance = %.12f, want 10", pose, side, d)
			}
		}
		if body.Velocity != (mgl64.Vec3{}) || body.AngularVelocity != (mgl64.Vec3{}) {
			t.Fatalf("pose %+v: spawn velocities not zero", pose)
		}
		if body.Force() != (mgl64.Vec3{}) || body.Torque() != (mgl64.Vec3{}) {
			t.Fatalf("pose %+v: spawn accumulators not empty", pose)
		}
	}
}

func TestSpawnOrientationFacesUpwind(t *testing.T) {
	q := DefaultSpawnPose().Orientation(0)
	normal := q.Rotate(mgl64.Vec3{0, 0, 1})
	want := mgl64.Vec3{-math.Sin(mgl64.DegToRad(25)), -math.Cos(mgl64.DegToRad(25)), 0}
	if !vecAlmostEqual(normal, want, 1e-12) {
		t.Fatalf("front normal = %v, want %v", normal, want)
	}
	if dot := normal.Dot(mgl64.Vec3{1, 0, 0}); dot >= 0 {
		t.Fatalf("front normal faces downwind (dot=%v)", dot)
	}
}

func TestSymmetricSpawnPosition(t *testing.T) {
	body, _, _ := restingKite(t, SpawnPose{Elevation: 90, Tilt: 65}, 10)
	want := mgl64.Vec3{0.21436269404811292, 11.340892189227, 0}
	if !vecAlmostEqual(body.Position, want, 1e-9) {
		t.Fatalf("position = %v, want %v", body.Position, want)
	}

	body, _, _ = restingKite(t, DefaultSpawnPose(), 10)
	want = mgl64.Vec3{2.8024237323153685, 11.000167489630488, 0}
	if !vecAlmostEqual(body.Position, want, 1e-9) {
		t.Fatalf("default position = %v, want %v", body.Position, want)
	}
}

func TestAngularVelocityBetweenRecoversRotation(t *testing.T) {
	q0 := DefaultSpawnPose().Orientation(30)
	w := mgl64.Vec3{0.3, -1.2, 0.7}
	dt := 0.01
	q1 := mgl64.QuatRotate(w.Len()*dt, w.Normalize()).Mul(q0)

	got := angularVelocityBetween(q0, q1, dt)
	if !vecAlmostEqual(got, w, 1e-9) {
		t.Fatalf("angular velocity = %v, want %v", got, w)
	}
	if got := angularVelocityBetween(q0, q0, dt); got != (mgl64.Vec3{}) {
		t.Fatalf("identical orientations gave %v", got)
	}
}
