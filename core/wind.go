package core

import (
	"context"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/internal/diag"
	"github.com/signalsfoundry/kitesim/internal/logging"
	"github.com/signalsfoundry/kitesim/model"
)

// MinWindSpeed is the apparent speed (m/s) below which a sample counts as
// calm and produces no aerodynamic force.
const MinWindSpeed = 0.01

// WindParams are the externally tuned wind inputs.
type WindParams struct {
	Speed      float64 // m/s
	Direction  float64 // degrees, 0 = +X, horizontal plane
	Turbulence float64 // percent, 0..100
}

// WindModel turns the configured wind into ambient and apparent wind
// vectors. Turbulence is sampled once per tick by Advance.
type WindModel struct {
	params     WindParams
	source     TurbulenceSource
	sink       *diag.Sink
	turbulence mgl64.Vec3
}

// NewWindModel constructs a wind model. Invalid initial parameters fall back
// to calm air and are reported like any other configuration fault.
func NewWindModel(p WindParams, source TurbulenceSource, sink *diag.Sink) *WindModel {
	if source == nil {
		source = NewRandomWalk(1)
	}
	w := &WindModel{source: source, sink: sink}
	w.SetParams(context.Background(), p)
	return w
}

// SetParams validates and stores p field by field. A non-finite or
// out-of-range field keeps its last valid value and is reported once.
func (w *WindModel) SetParams(ctx context.Context, p WindParams) {
	if model.IsFiniteScalar(p.Speed) && p.Speed >= 0 {
		w.params.Speed = p.Speed
		w.sink.Clear("wind.speed")
	} else {
		w.reportConfig(ctx, "wind.speed", "wind speed rejected", p.Speed, w.params.Speed)
	}

	if model.IsFiniteScalar(p.Direction) {
		w.params.Direction = normalizeDegrees(p.Direction)
		w.sink.Clear("wind.direction")
	} else {
		w.reportConfig(ctx, "wind.direction", "wind direction rejected", p.Direction, w.params.Direction)
	}

	if model.IsFiniteScalar(p.Turbulence) && p.Turbulence >= 0 && p.Turbulence <= 100 {
		w.params.Turbulence = p.Turbulence
		w.sink.Clear("wind.turbulence")
	} else {
		w.reportConfig(ctx, "wind.turbulence", "turbulence rejected", p.Turbulence, w.params.Turbulence)
	}
}

func (w *WindModel) reportConfig(ctx context.Context, key, msg string, got, kept float64) {
	w.sink.ReportOnce(ctx, diag.Fault{
		Kind:      diag.KindConfig,
		Component: "wind",
		Key:       key,
		Message:   msg,
		Fields:    []logging.Field{logging.Float("value", got), logging.Float("kept", kept)},
	})
}

// Params returns the last valid parameters.
func (w *WindModel) Params() WindParams { return w.params }

// Advance steps the turbulence source by dt.
func (w *WindModel) Advance(dt float64) {
	w.turbulence = w.source.Sample(dt, w.params.Speed, w.params.Turbulence/100)
}

// Reset clears turbulence and rewinds the source.
func (w *WindModel) Reset() {
	w.source.Reset()
	w.turbulence = mgl64.Vec3{}
}

// Ambient is (cos dir, 0, sin dir) * speed.
func (w *WindModel) Ambient() mgl64.Vec3 {
	rad := mgl64.DegToRad(w.params.Direction)
	return mgl64.Vec3{math.Cos(rad), 0, math.Sin(rad)}.Mul(w.params.Speed)
}

// Turbulence is the component sampled by the last Advance.
func (w *WindModel) Turbulence() mgl64.Vec3 { return w.turbulence }

// ApparentAt is the wind seen by the body point p (world space): ambient
// minus the point's velocity plus turbulence.
func (w *WindModel) ApparentAt(b *model.Body, p mgl64.Vec3) mgl64.Vec3 {
	return w.Ambient().Sub(b.PointVelocity(p)).Add(w.turbulence)
}

// State summarises the wind at the body's centre of mass. Apparent wind
// below MinWindSpeed is reported as calm.
func (w *WindModel) State(b *model.Body) model.WindState {
	apparent := w.ApparentAt(b, b.Position)
	speed := apparent.Len()
	if !(speed >= MinWindSpeed) {
		return model.WindState{Ambient: w.Ambient()}
	}
	return model.WindState{
		Ambient:   w.Ambient(),
		Apparent:  apparent,
		Speed:     speed,
		Direction: normalizeDegrees(mgl64.RadToDeg(math.Atan2(apparent.Z(), apparent.X()))),
	}
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
