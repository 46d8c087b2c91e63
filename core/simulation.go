package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/kitesim/internal/diag"
	"github.com/signalsfoundry/kitesim/internal/logging"
	"github.com/signalsfoundry/kitesim/model"
)

// MaxDeltaTime caps the time advanced by a single Step.
const MaxDeltaTime = 1.0 / 30.0

// MaxDeltaDuration is MaxDeltaTime as a wall-clock duration, for frame clocks.
const MaxDeltaDuration = time.Second / 30

// StepMode selects how integration and constraint projection interleave.
type StepMode int

const (
	// StepIntegrateThenProject integrates velocity and pose, then lets the
	// solver correct pose and velocity.
	StepIntegrateThenProject StepMode = iota
	// StepPredictCorrect treats the integrated pose as a prediction, corrects
	// it and re-derives velocity from the corrected displacement.
	StepPredictCorrect
)

func (m StepMode) String() string {
	if m == StepPredictCorrect {
		return "predict-correct"
	}
	return "integrate-then-project"
}

// ParseStepMode accepts the names produced by StepMode.String.
func ParseStepMode(name string) (StepMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "integrate-then-project", "integrate":
		return StepIntegrateThenProject, nil
	case "predict-correct", "pbd":
		return StepPredictCorrect, nil
	default:
		return 0, fmt.Errorf("unknown step mode %q", name)
	}
}

// Inputs are the externally tuned parameters. They are stored by SetInputs
// and sampled at the start of the next Step, never mid-step.
type Inputs struct {
	WindSpeed     float64 // m/s
	WindDirection float64 // degrees
	Turbulence    float64 // percent

	LineLength float64 // m, shared rest length
	// Steer shortens the left line by Steer metres when positive and the
	// right line by -Steer when negative.
	Steer float64
	// Bridles left all-zero means "unchanged".
	Bridles model.BridleLengths

	LiftScale      float64
	DragScale      float64
	LinearDamping  float64
	AngularDamping float64

	Paused bool
	// Reset is a trigger: it is consumed by the next Step.
	Reset bool
}

// Frame is the read-only state published after every step.
type Frame struct {
	Tick   uint64
	Time   float64 // simulated seconds
	Paused bool

	Position        mgl64.Vec3
	Orientation     mgl64.Quat
	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3

	Panels     [model.PanelCount]PanelForce
	AeroForce  mgl64.Vec3
	AeroTorque mgl64.Vec3

	// ConstraintForce and ConstraintTorque are the line corrections of the
	// step expressed as equivalent force and torque.
	ConstraintForce  mgl64.Vec3
	ConstraintTorque mgl64.Vec3

	Wind          model.WindState
	Lines         [2]LineTension
	Bridles       [2][3]float64
	GroundContact bool
	Faults        uint64
}

// Finite reports whether the published pose and velocities are real numbers.
func (f Frame) Finite() bool {
	return model.IsFinite(f.Position) && model.IsFiniteQuat(f.Orientation) &&
		model.IsFinite(f.Velocity) && model.IsFinite(f.AngularVelocity)
}

// MetricsRecorder receives every published frame with the wall time the
// step took.
type MetricsRecorder interface {
	ObserveStep(frame Frame, elapsed time.Duration)
}

type simOptions struct {
	coeff      CoefficientModel
	turbulence TurbulenceSource
	mode       StepMode
	sink       *diag.Sink
	metrics    MetricsRecorder
	parallel   bool
	maxDelta   float64
	handler    model.Handler
	lineSpec   model.LineSpec
	spawn      SpawnPose
	solver     SolverConfig
	integrator IntegratorConfig
	aero       AeroConfig
	wind       WindParams
}

// Option customises NewSimulation.
type Option func(*simOptions)

// WithCoefficientModel selects the lift/drag strategy.
func WithCoefficientModel(m CoefficientModel) Option {
	return func(o *simOptions) {
		if m != nil {
			o.coeff = m
		}
	}
}

// WithTurbulence replaces the default seeded random walk.
func WithTurbulence(src TurbulenceSource) Option {
	return func(o *simOptions) {
		if src != nil {
			o.turbulence = src
		}
	}
}

// WithStepMode selects the pipeline ordering.
func WithStepMode(m StepMode) Option {
	return func(o *simOptions) { o.mode = m }
}

// WithSink routes faults to sink instead of a private silent one.
func WithSink(sink *diag.Sink) Option {
	return func(o *simOptions) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithMetricsRecorder wires a recorder that observes every step.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(o *simOptions) { o.metrics = r }
}

// WithParallelAero evaluates panels concurrently.
func WithParallelAero(enabled bool) Option {
	return func(o *simOptions) { o.parallel = enabled }
}

// WithMaxDeltaTime lowers the per-step clamp; values above MaxDeltaTime
// are ignored.
func WithMaxDeltaTime(d float64) Option {
	return func(o *simOptions) {
		if d > 0 && d <= MaxDeltaTime {
			o.maxDelta = d
		}
	}
}

// WithHandler places the handler.
func WithHandler(h model.Handler) Option {
	return func(o *simOptions) { o.handler = h }
}

// WithLineSpec sets line rest length and display parameters.
func WithLineSpec(spec model.LineSpec) Option {
	return func(o *simOptions) { o.lineSpec = spec }
}

// WithSpawnPose sets the reset attitude.
func WithSpawnPose(p SpawnPose) Option {
	return func(o *simOptions) { o.spawn = p }
}

// WithSolverConfig overrides the constraint solver tuning.
func WithSolverConfig(cfg SolverConfig) Option {
	return func(o *simOptions) { o.solver = cfg }
}

// WithIntegratorConfig overrides damping and runaway limits.
func WithIntegratorConfig(cfg IntegratorConfig) Option {
	return func(o *simOptions) { o.integrator = cfg }
}

// WithAeroConfig overrides air density, gravity and force multipliers.
func WithAeroConfig(cfg AeroConfig) Option {
	return func(o *simOptions) { o.aero = cfg }
}

// WithWind sets the initial wind.
func WithWind(p WindParams) Option {
	return func(o *simOptions) { o.wind = p }
}

// Simulation owns the kite body and runs Wind -> Aero -> Integrator ->
// Constraint Solver once per Step.
//
// Step, Reset and AddStepListener must be called from one goroutine.
// SetInputs, RequestReset and Frame are safe from any goroutine.
type Simulation struct {
	def      model.KiteDefinition
	anchors  model.AnchorSet
	bridles  model.BridleLengths
	body     *model.Body
	handler  model.Handler
	spawn    SpawnPose
	lineSpec model.LineSpec
	lines    Lines

	wind       *WindModel
	aero       *AeroModel
	solver     *ConstraintSolver
	integrator *Integrator
	mode       StepMode
	maxDelta   float64
	sink       *diag.Sink
	metrics    MetricsRecorder
	listeners  []func(Frame)

	inputs   Inputs
	lastGood model.Pose
	tick     uint64
	simTime  float64

	pendingMu      sync.Mutex
	pending        *Inputs
	resetRequested bool

	frameMu sync.RWMutex
	frame   Frame
}

// NewSimulation validates def, places the control points from its bridle
// lengths and spawns the kite with both lines taut.
func NewSimulation(def model.KiteDefinition, opts ...Option) (*Simulation, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	o := simOptions{
		mode:       StepIntegrateThenProject,
		maxDelta:   MaxDeltaTime,
		handler:    model.DefaultHandler(),
		lineSpec:   model.DefaultLineSpec(),
		spawn:      DefaultSpawnPose(),
		solver:     DefaultSolverConfig(),
		integrator: DefaultIntegratorConfig(),
		aero:       DefaultAeroConfig(),
		wind:       WindParams{Speed: 6},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.coeff == nil {
		o.coeff = DefaultRayleighModel()
	}
	if o.turbulence == nil {
		o.turbulence = NewRandomWalk(1)
	}
	if o.sink == nil {
		o.sink = diag.NewSink(logging.Noop())
	}
	if !(o.lineSpec.RestLength > 0) || math.IsInf(o.lineSpec.RestLength, 0) {
		return nil, fmt.Errorf("%w: line rest length must be positive, got %v", model.ErrInvalidDefinition, o.lineSpec.RestLength)
	}

	anchors, err := PlaceControlPoints(def.Anchors, def.Bridles)
	if err != nil {
		return nil, fmt.Errorf("kite %q: %w", def.Name, err)
	}

	s := &Simulation{
		def:        def,
		anchors:    anchors,
		bridles:    def.Bridles,
		body:       model.NewBody(def.Mass, def.Inertia),
		handler:    o.handler,
		spawn:      o.spawn,
		lineSpec:   o.lineSpec,
		wind:       NewWindModel(o.wind, o.turbulence, o.sink),
		aero:       NewAeroModel(def, o.coeff, o.aero, o.sink, WithParallelPanels(o.parallel)),
		solver:     NewConstraintSolver(o.solver, o.sink),
		integrator: NewIntegrator(o.integrator, o.sink),
		mode:       o.mode,
		maxDelta:   o.maxDelta,
		sink:       o.sink,
		metrics:    o.metrics,
	}
	s.inputs = Inputs{
		WindSpeed:      s.wind.Params().Speed,
		WindDirection:  s.wind.Params().Direction,
		Turbulence:     s.wind.Params().Turbulence,
		LineLength:     o.lineSpec.RestLength,
		Bridles:        def.Bridles,
		LiftScale:      o.aero.LiftScale,
		DragScale:      o.aero.DragScale,
		LinearDamping:  o.integrator.LinearDamping,
		AngularDamping: o.integrator.AngularDamping,
	}
	s.updateLineLengths()
	s.Reset()
	return s, nil
}

// Definition returns the kite preset the simulation was built from.
func (s *Simulation) Definition() model.KiteDefinition { return s.def }

// Anchors returns the current body-frame anchors, including control points
// re-placed after bridle changes.
func (s *Simulation) Anchors() model.AnchorSet { return s.anchors }

// Inputs returns the last applied inputs with Reset cleared.
func (s *Simulation) Inputs() Inputs { return s.inputs }

// Lines returns the current handle positions and effective line lengths.
func (s *Simulation) Lines() Lines { return s.lines }

// Mode returns the pipeline ordering.
func (s *Simulation) Mode() StepMode { return s.mode }

// AddStepListener registers fn to receive every published frame.
func (s *Simulation) AddStepListener(fn func(Frame)) {
	s.listeners = append(s.listeners, fn)
}

// SetInputs stores in for the next Step. Later calls before that Step
// replace earlier ones, except that a Reset trigger is kept.
func (s *Simulation) SetInputs(in Inputs) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	cp := in
	s.pending = &cp
	if in.Reset {
		s.resetRequested = true
	}
}

// RequestReset asks the next Step to respawn the kite.
func (s *Simulation) RequestReset() {
	s.pendingMu.Lock()
	s.resetRequested = true
	s.pendingMu.Unlock()
}

// Frame returns the last committed frame.
func (s *Simulation) Frame() Frame {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frame
}

// Reset respawns the kite in the spawn pose with both lines taut, zero
// velocities and empty accumulators, then publishes the spawn frame.
func (s *Simulation) Reset() {
	s.wind.Reset()
	s.lines.Handles = s.handler.Handles(s.wind.Params().Direction)
	s.spawn.Place(s.body, &s.anchors, s.lines, s.wind.Params().Direction)
	s.lastGood = s.body.Pose()

	frame := s.baseFrame()
	frame.Wind = s.wind.State(s.body)
	tension := EstimateTensions(s.body, &s.anchors, s.lines, s.lineSpec, mgl64.Vec3{}, s.aero.Config().Gravity)
	frame.Lines, frame.Bridles = tension.Lines, tension.Bridles
	s.publish(frame)
}

// Step advances the simulation by dt seconds, clamped to the maximum delta.
// Non-positive or non-finite dt leaves the state untouched.
func (s *Simulation) Step(ctx context.Context, dt float64) Frame {
	if !(dt > 0) || math.IsInf(dt, 0) {
		if math.IsNaN(dt) || math.IsInf(dt, 0) {
			s.sink.Report(ctx, diag.Fault{Kind: diag.KindConfig, Component: "simulation", Message: "non-finite delta time ignored"})
		}
		return s.Frame()
	}
	dt = math.Min(dt, s.maxDelta)

	in, reset := s.takePending()
	if in != nil {
		s.applyInputs(ctx, *in)
	}
	if reset {
		s.Reset()
	}
	if s.inputs.Paused {
		frame := s.Frame()
		frame.Paused = true
		frame.Faults = s.sink.Total()
		s.publish(frame)
		if s.metrics != nil {
			s.metrics.ObserveStep(frame, 0)
		}
		return frame
	}

	start := time.Now()
	s.wind.Advance(dt)
	wind := s.wind.State(s.body)

	var (
		res AeroResult
		rep SolveReport
	)
	switch s.mode {
	case StepPredictCorrect:
		res, rep = s.predictCorrect(ctx, dt)
	default:
		res, rep = s.integrateThenProject(ctx, dt)
	}
	s.guardState(ctx)

	s.tick++
	s.simTime += dt

	frame := s.baseFrame()
	frame.Panels = res.Panels
	frame.AeroForce = res.AeroForce
	frame.AeroTorque = res.AeroTorque
	frame.ConstraintForce = rep.Impulse.Mul(1 / (dt * dt))
	frame.ConstraintTorque = rep.AngularImpulse.Mul(1 / (dt * dt))
	frame.GroundContact = rep.GroundContact
	frame.Wind = wind
	tension := EstimateTensions(s.body, &s.anchors, s.lines, s.lineSpec, res.AeroForce, s.aero.Config().Gravity)
	frame.Lines, frame.Bridles = tension.Lines, tension.Bridles

	s.publish(frame)
	if s.metrics != nil {
		s.metrics.ObserveStep(frame, time.Since(start))
	}
	return frame
}

func (s *Simulation) integrateThenProject(ctx context.Context, dt float64) (AeroResult, SolveReport) {
	res := s.aero.Apply(ctx, s.body, &s.anchors, s.wind)
	s.integrator.Integrate(ctx, s.body, dt)
	rep := s.solver.Solve(ctx, s.body, &s.anchors, s.lines, s.bridles)
	return res, rep
}

func (s *Simulation) predictCorrect(ctx context.Context, dt float64) (AeroResult, SolveReport) {
	prev := s.body.Pose()
	res := s.aero.Apply(ctx, s.body, &s.anchors, s.wind)
	if !s.integrator.Integrate(ctx, s.body, dt) || s.body.Kinematic {
		return res, SolveReport{}
	}
	rep := s.solver.Solve(ctx, s.body, &s.anchors, s.lines, s.bridles)

	s.body.Velocity = s.body.Position.Sub(prev.Position).Mul(1 / dt)
	s.body.AngularVelocity = angularVelocityBetween(prev.Orientation, s.body.Orientation, dt)
	if rep.GroundContact {
		s.solver.ApplyContactVelocity(s.body)
	}
	return res, rep
}

// guardState restores the last good pose if anything non-finite slipped
// through, leaving the kite stationary until parameters are corrected.
func (s *Simulation) guardState(ctx context.Context) {
	if s.body.Finite() {
		s.lastGood = s.body.Pose()
		return
	}
	s.sink.Report(ctx, diag.Fault{
		Kind:      diag.KindNumerical,
		Component: "simulation",
		Message:   "non-finite body state, restored last good pose",
	})
	s.body.SetPose(s.lastGood)
	s.body.Velocity = mgl64.Vec3{}
	s.body.AngularVelocity = mgl64.Vec3{}
	s.body.ClearAccumulators()
}

func (s *Simulation) takePending() (*Inputs, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	in, reset := s.pending, s.resetRequested
	s.pending, s.resetRequested = nil, false
	return in, reset
}

// applyInputs validates each field; an invalid one keeps its last valid
// value and is reported once until it becomes valid again.
func (s *Simulation) applyInputs(ctx context.Context, in Inputs) {
	s.wind.SetParams(ctx, WindParams{Speed: in.WindSpeed, Direction: in.WindDirection, Turbulence: in.Turbulence})
	wp := s.wind.Params()
	if wp.Direction != s.inputs.WindDirection {
		// The handler turns to keep facing downwind.
		s.lines.Handles = s.handler.Handles(wp.Direction)
	}
	s.inputs.WindSpeed, s.inputs.WindDirection, s.inputs.Turbulence = wp.Speed, wp.Direction, wp.Turbulence

	s.inputs.LineLength = s.acceptScalar(ctx, "lines.length", in.LineLength, s.inputs.LineLength, func(v float64) bool { return v > 0 })
	s.inputs.Steer = s.acceptScalar(ctx, "lines.steer", in.Steer, s.inputs.Steer, func(v float64) bool {
		return math.Abs(v) < s.inputs.LineLength
	})
	s.updateLineLengths()

	if in.Bridles != (model.BridleLengths{}) && in.Bridles != s.bridles {
		s.applyBridles(ctx, in.Bridles)
	}

	nonNegative := func(v float64) bool { return v >= 0 }
	s.inputs.LiftScale = s.acceptScalar(ctx, "aero.lift_scale", in.LiftScale, s.inputs.LiftScale, nonNegative)
	s.inputs.DragScale = s.acceptScalar(ctx, "aero.drag_scale", in.DragScale, s.inputs.DragScale, nonNegative)
	s.aero.SetScales(s.inputs.LiftScale, s.inputs.DragScale)

	s.inputs.LinearDamping = s.acceptScalar(ctx, "damping.linear", in.LinearDamping, s.inputs.LinearDamping, nonNegative)
	s.inputs.AngularDamping = s.acceptScalar(ctx, "damping.angular", in.AngularDamping, s.inputs.AngularDamping, nonNegative)
	s.integrator.SetDamping(s.inputs.LinearDamping, s.inputs.AngularDamping)

	s.inputs.Paused = in.Paused
}

func (s *Simulation) acceptScalar(ctx context.Context, key string, v, last float64, valid func(float64) bool) float64 {
	if model.IsFiniteScalar(v) && valid(v) {
		s.sink.Clear(key)
		return v
	}
	s.sink.ReportOnce(ctx, diag.Fault{
		Kind:      diag.KindConfig,
		Component: "simulation",
		Key:       key,
		Message:   "input rejected, keeping last valid value",
		Fields:    []logging.Field{logging.String("input", key), logging.Float("value", v), logging.Float("kept", last)},
	})
	return last
}

func (s *Simulation) applyBridles(ctx context.Context, lengths model.BridleLengths) {
	anchors, err := PlaceControlPoints(s.anchors, lengths)
	if err != nil {
		s.sink.ReportOnce(ctx, diag.Fault{
			Kind:      diag.KindConfig,
			Component: "simulation",
			Key:       "bridles",
			Message:   "bridle lengths rejected, keeping last valid lengths",
			Fields:    []logging.Field{logging.Any("lengths", lengths), logging.Err(err)},
		})
		return
	}
	s.sink.Clear("bridles")
	s.anchors = anchors
	s.bridles = lengths
	s.inputs.Bridles = lengths
}

func (s *Simulation) updateLineLengths() {
	l := s.inputs.LineLength
	s.lines.RestLengths = [2]float64{
		model.Left:  l - math.Max(s.inputs.Steer, 0),
		model.Right: l - math.Max(-s.inputs.Steer, 0),
	}
}

func (s *Simulation) baseFrame() Frame {
	return Frame{
		Tick:            s.tick,
		Time:            s.simTime,
		Paused:          s.inputs.Paused,
		Position:        s.body.Position,
		Orientation:     s.body.Orientation,
		Velocity:        s.body.Velocity,
		AngularVelocity: s.body.AngularVelocity,
		Faults:          s.sink.Total(),
	}
}

func (s *Simulation) publish(f Frame) {
	s.frameMu.Lock()
	s.frame = f
	s.frameMu.Unlock()
	for _, fn := range s.listeners {
		fn(f)
	}
}
