package core

import (
	"context"
	"math"

	"github.com/signalsfoundry/kitesim/internal/diag"
	"github.com/signalsfoundry/kitesim/internal/logging"
	"github.com/signalsfoundry/kitesim/model"
)

// minAngularSpeedSq is the |w|^2 below which the orientation is left alone.
const minAngularSpeedSq = 1e-12

// IntegratorConfig holds damping and runaway limits.
type IntegratorConfig struct {
	LinearDamping   float64 // 1/s, exponential
	AngularDamping  float64 // 1/s, multiplicative
	MaxSpeed        float64 // m/s
	MaxAngularSpeed float64 // rad/s
}

// DefaultIntegratorConfig returns the tuning used by the simulation.
func DefaultIntegratorConfig() IntegratorConfig {
	return IntegratorConfig{
		LinearDamping:   0.05,
		AngularDamping:  2.0,
		MaxSpeed:        100,
		MaxAngularSpeed: 60,
	}
}

// Integrator advances a body with semi-implicit Euler.
type Integrator struct {
	cfg  IntegratorConfig
	sink *diag.Sink
}

// NewIntegrator builds an integrator.
func NewIntegrator(cfg IntegratorConfig, sink *diag.Sink) *Integrator {
	return &Integrator{cfg: cfg, sink: sink}
}

// Config returns the current tuning.
func (in *Integrator) Config() IntegratorConfig { return in.cfg }

// SetDamping replaces both damping coefficients.
func (in *Integrator) SetDamping(linear, angular float64) {
	in.cfg.LinearDamping = linear
	in.cfg.AngularDamping = angular
}

// Integrate advances body by dt and clears its accumulators. It returns
// false when the update was skipped because of non-finite state or force.
func (in *Integrator) Integrate(ctx context.Context, body *model.Body, dt float64) bool {
	defer body.ClearAccumulators()

	if body.Kinematic {
		return true
	}
	if !body.Finite() || !model.IsFinite(body.Force()) || !model.IsFinite(body.Torque()) {
		in.sink.Report(ctx, diag.Fault{
			Kind:      diag.KindNumerical,
			Component: "integrator",
			Message:   "non-finite state, update skipped",
		})
		return false
	}

	v := body.Velocity.Add(body.Force().Mul(body.InvMass() * dt))
	v = v.Mul(math.Exp(-in.cfg.LinearDamping * dt))

	w := body.AngularVelocity.Add(body.Torque().Mul(body.InvInertia() * dt))
	w = w.Mul(math.Max(0, 1-in.cfg.AngularDamping*dt))

	speed, spin := v.Len(), w.Len()
	if (in.cfg.MaxSpeed > 0 && speed > in.cfg.MaxSpeed) || (in.cfg.MaxAngularSpeed > 0 && spin > in.cfg.MaxAngularSpeed) {
		in.sink.Report(ctx, diag.Fault{
			Kind:      diag.KindNumerical,
			Component: "integrator",
			Message:   "runaway velocity zeroed",
			Fields:    []logging.Field{logging.Float("speed", speed), logging.Float("angular_speed", spin)},
		})
		v[0], v[1], v[2] = 0, 0, 0
		w[0], w[1], w[2] = 0, 0, 0
	}

	body.Velocity = v
	body.AngularVelocity = w
	body.Position = body.Position.Add(v.Mul(dt))
	if w.Dot(w) > minAngularSpeedSq {
		body.Orientation = model.IntegrateRotation(body.Orientation, w.Mul(dt))
	}
	return true
}
