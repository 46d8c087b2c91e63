package core

import (
	"context"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/kitesim/internal/diag"
	"github.com/signalsfoundry/kitesim/internal/logging"
	"github.com/signalsfoundry/kitesim/model"
)

// AeroConfig holds the environment constants and the externally tuned
// force multipliers.
type AeroConfig struct {
	AirDensity float64 // kg/m^3
	Gravity    float64 // m/s^2
	LiftScale  float64
	DragScale  float64
}

// DefaultAeroConfig is sea-level air with unit multipliers.
func DefaultAeroConfig() AeroConfig {
	return AeroConfig{AirDensity: 1.225, Gravity: 9.81, LiftScale: 1, DragScale: 1}
}

// PanelForce is the per-panel breakdown published for debug rendering.
type PanelForce struct {
	Name         string
	Area         float64
	Centroid     mgl64.Vec3
	Normal       mgl64.Vec3
	ApparentWind mgl64.Vec3
	Alpha        float64 // radians
	CL, CD       float64
	Lift         mgl64.Vec3
	Drag         mgl64.Vec3
	Gravity      mgl64.Vec3
	// Culled is set when the wind strikes the back face.
	Culled bool
}

// Total is lift + drag + gravity share.
func (p PanelForce) Total() mgl64.Vec3 {
	return p.Lift.Add(p.Drag).Add(p.Gravity)
}

// AeroResult is everything one Apply call accumulated.
type AeroResult struct {
	Panels [model.PanelCount]PanelForce

	Lift    mgl64.Vec3
	Drag    mgl64.Vec3
	Gravity mgl64.Vec3

	// AeroForce and AeroTorque cover lift and drag only.
	AeroForce  mgl64.Vec3
	AeroTorque mgl64.Vec3

	// Force and Torque are what reached the body accumulators.
	Force  mgl64.Vec3
	Torque mgl64.Vec3
}

// AeroModel computes per-panel lift, drag and gravity share and accumulates
// them into the body.
type AeroModel struct {
	cfg         AeroConfig
	coeff       CoefficientModel
	aspectRatio float64
	parallel    bool
	sink        *diag.Sink
}

// AeroOption customises an AeroModel.
type AeroOption func(*AeroModel)

// WithParallelPanels evaluates panels concurrently. Results are reduced in
// table order, so they match the sequential path bit for bit.
func WithParallelPanels(enabled bool) AeroOption {
	return func(a *AeroModel) { a.parallel = enabled }
}

// NewAeroModel builds the force model for def.
func NewAeroModel(def model.KiteDefinition, coeff CoefficientModel, cfg AeroConfig, sink *diag.Sink, opts ...AeroOption) *AeroModel {
	if coeff == nil {
		coeff = DefaultRayleighModel()
	}
	a := &AeroModel{
		cfg:         cfg,
		coeff:       coeff,
		aspectRatio: math.Max(def.AspectRatio(), MinAspectRatio),
		sink:        sink,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the active configuration.
func (a *AeroModel) Config() AeroConfig { return a.cfg }

// SetScales replaces the lift and drag multipliers.
func (a *AeroModel) SetScales(lift, drag float64) {
	a.cfg.LiftScale = lift
	a.cfg.DragScale = drag
}

// CoefficientModel returns the strategy in use.
func (a *AeroModel) CoefficientModel() CoefficientModel { return a.coeff }

// AspectRatio is the floored aspect ratio fed to the coefficient model.
func (a *AeroModel) AspectRatio() float64 { return a.aspectRatio }

type panelResult struct {
	force PanelForce
	fault string
	kind  diag.Kind
}

// Apply samples every panel at the body's current pose and adds the
// resulting forces and torques to the body accumulators.
func (a *AeroModel) Apply(ctx context.Context, body *model.Body, anchors *model.AnchorSet, wind *WindModel) AeroResult {
	var results [model.PanelCount]panelResult

	if a.parallel {
		var g errgroup.Group
		for i := range model.Panels {
			g.Go(func() error {
				results[i] = a.panel(model.Panels[i], body, anchors, wind)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range model.Panels {
			results[i] = a.panel(model.Panels[i], body, anchors, wind)
		}
	}

	return a.reduce(ctx, body, &results)
}

func (a *AeroModel) panel(p model.Panel, body *model.Body, anchors *model.AnchorSet, wind *WindModel) panelResult {
	s := p.Sample(anchors, body)
	out := PanelForce{Name: p.Name, Area: s.Area, Centroid: s.Centroid, Normal: s.Normal}
	if s.Degenerate {
		return panelResult{force: out, fault: "degenerate panel", kind: diag.KindGeometry}
	}

	w := wind.ApparentAt(body, s.Centroid)
	out.ApparentWind = w
	what, speed, ok := model.Direction(w, mgl64.Vec3{}, MinWindSpeed)
	if !ok {
		return panelResult{force: out}
	}

	// Wind must strike the front face; the normal points upwind there.
	d := s.Normal.Dot(what)
	if d >= 0 {
		out.Culled = true
		return panelResult{force: out}
	}

	// Incidence is measured from the panel plane: 0 edge-on, pi/2 face-on.
	alpha := math.Asin(math.Min(math.Abs(d), 1))
	cl, cd := a.coeff.Coefficients(alpha, a.aspectRatio)
	q := 0.5 * a.cfg.AirDensity * speed * speed

	out.Alpha, out.CL, out.CD = alpha, cl, cd
	out.Lift = s.Normal.Mul(-cl * q * s.Area * a.cfg.LiftScale)
	out.Drag = what.Mul(cd * q * s.Area * a.cfg.DragScale)
	if !model.IsFinite(out.Lift) || !model.IsFinite(out.Drag) {
		out.Lift, out.Drag = mgl64.Vec3{}, mgl64.Vec3{}
		return panelResult{force: out, fault: "non-finite panel force", kind: diag.KindNumerical}
	}
	return panelResult{force: out}
}

func (a *AeroModel) reduce(ctx context.Context, body *model.Body, results *[model.PanelCount]panelResult) AeroResult {
	var res AeroResult

	var totalArea float64
	for i := range results {
		totalArea += results[i].force.Area
	}
	weight := body.Mass * a.cfg.Gravity

	for i := range results {
		r := &results[i]
		if r.fault != "" {
			a.sink.Report(ctx, diag.Fault{
				Kind:      r.kind,
				Component: "aero",
				Message:   r.fault,
				Fields:    []logging.Field{logging.String("panel", r.force.Name)},
			})
		}

		pf := &r.force
		if totalArea > 0 {
			pf.Gravity = mgl64.Vec3{0, -weight * pf.Area / totalArea, 0}
		}

		lever := pf.Centroid.Sub(body.Position)
		aero := pf.Lift.Add(pf.Drag)
		total := aero.Add(pf.Gravity)
		if !body.AddForceAtPoint(total, pf.Centroid) {
			a.sink.Report(ctx, diag.Fault{
				Kind:      diag.KindNumerical,
				Component: "aero",
				Message:   "dropped non-finite panel contribution",
				Fields:    []logging.Field{logging.String("panel", pf.Name)},
			})
			pf.Lift, pf.Drag, pf.Gravity = mgl64.Vec3{}, mgl64.Vec3{}, mgl64.Vec3{}
			res.Panels[i] = *pf
			continue
		}

		res.Panels[i] = *pf
		res.Lift = res.Lift.Add(pf.Lift)
		res.Drag = res.Drag.Add(pf.Drag)
		res.Gravity = res.Gravity.Add(pf.Gravity)
		res.AeroForce = res.AeroForce.Add(aero)
		res.AeroTorque = res.AeroTorque.Add(lever.Cross(aero))
		res.Force = res.Force.Add(total)
		res.Torque = res.Torque.Add(lever.Cross(total))
	}
	return res
}
