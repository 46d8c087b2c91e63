package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/internal/diag"
	"github.com/signalsfoundry/kitesim/internal/logging"
	"github.com/signalsfoundry/kitesim/model"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func vecAlmostEqual(a, b mgl64.Vec3, tol float64) bool {
	return almostEqual(a[0], b[0], tol) && almostEqual(a[1], b[1], tol) && almostEqual(a[2], b[2], tol)
}

func quietSink() *diag.Sink {
	return diag.NewSink(logging.Noop())
}

// restingKite returns a default kite body in the spawn pose for wind from
// direction 0, together with its placed anchors and line geometry.
func restingKite(t interface{ Fatalf(string, ...any) }, pose SpawnPose, length float64) (*model.Body, model.AnchorSet, Lines) {
	def := model.DefaultKite()
	anchors, err := PlaceControlPoints(def.Anchors, def.Bridles)
	if err != nil {
		t.Fatalf("PlaceControlPoints: %v", err)
	}
	lines := Lines{
		Handles:     model.DefaultHandler().Handles(0),
		RestLengths: [2]float64{length, length},
	}
	body := model.NewBody(def.Mass, def.Inertia)
	pose.Place(body, &anchors, lines, 0)
	return body, anchors, lines
}

func lineDistance(body *model.Body, anchors *model.AnchorSet, lines Lines, side model.Side) float64 {
	return anchors.World(body, side.ControlAnchor()).Sub(lines.Handles[side]).Len()
}
