// Package runner drives a Simulation from a FrameClock and fans every
// published frame out to tracing, the flight recorder and the log.
package runner

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/kitesim/core"
	"github.com/signalsfoundry/kitesim/internal/logging"
	"github.com/signalsfoundry/kitesim/internal/observability"
	"github.com/signalsfoundry/kitesim/timectrl"
)

// FrameRecorder persists frames. recorder.Recorder implements it.
type FrameRecorder interface {
	Record(ctx context.Context, f core.Frame) error
	Flush(ctx context.Context) error
}

// Cue applies Inputs once simulation time reaches At seconds.
type Cue struct {
	At     float64
	Inputs core.Inputs
}

// Summary describes a finished run.
type Summary struct {
	RunID          string
	Kite           string
	Frames         uint64
	SimTime        float64
	MaxAltitude    float64
	MaxTension     float64
	GroundContacts uint64
	Faults         uint64
	Final          core.Frame
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder stores every published frame in rec.
func WithRecorder(rec FrameRecorder) Option {
	return func(r *Runner) { r.rec = rec }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// WithCues schedules input changes by simulation time.
func WithCues(cues ...Cue) Option {
	return func(r *Runner) { r.cues = append(r.cues, cues...) }
}

// WithLogEvery logs a progress line every n frames; 0 disables it.
func WithLogEvery(n uint64) Option {
	return func(r *Runner) { r.logEvery = n }
}

// Runner owns the frame loop. Run may be called once.
type Runner struct {
	sim   *core.Simulation
	clock *timectrl.FrameClock
	log   logging.Logger

	rec      FrameRecorder
	runID    string
	cues     []Cue
	logEvery uint64

	mu        sync.Mutex
	ctx       context.Context
	summary   Summary
	recordErr error
}

// New wires sim to clock. Listeners are registered here so the clock can
// also be advanced manually with Advance in tests.
func New(sim *core.Simulation, clock *timectrl.FrameClock, log logging.Logger, opts ...Option) *Runner {
	if log == nil {
		log = logging.Noop()
	}
	r := &Runner{
		sim:      sim,
		clock:    clock,
		log:      log,
		ctx:      logging.ContextWithLogger(context.Background(), log),
		logEvery: 600,
	}
	for _, opt := range opts {
		opt(r)
	}
	sort.SliceStable(r.cues, func(i, j int) bool { return r.cues[i].At < r.cues[j].At })
	r.summary.RunID = r.runID
	r.summary.Kite = sim.Definition().Name
	clock.AddListener(r.onFrame)
	return r
}

// RunID returns the id the run is logged and recorded under.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Run starts the clock and blocks until duration of simulation time has
// passed (0 runs until ctx is cancelled). It flushes the recorder before
// returning.
func (r *Runner) Run(ctx context.Context, duration time.Duration) (Summary, error) {
	if id := r.RunID(); id != "" {
		ctx = logging.ContextWithRunID(ctx, id)
	}
	ctx, runID := logging.EnsureRunID(ctx)
	ctx, log := logging.WithRunLogger(ctx, r.log)
	ctx = logging.ContextWithLogger(ctx, log)

	r.mu.Lock()
	r.ctx = ctx
	r.runID = runID
	r.summary.RunID = runID
	r.mu.Unlock()

	log.Info(ctx, "flight started",
		logging.String("kite", r.summary.Kite),
		logging.String("step_mode", r.sim.Mode().String()),
		logging.String("clock_mode", r.clock.Mode.String()),
		logging.String("duration", duration.String()),
	)

	<-r.clock.Start(ctx, duration)

	var flushErr error
	if r.rec != nil {
		flushErr = r.rec.Flush(context.WithoutCancel(ctx))
	}

	r.mu.Lock()
	s := r.summary
	err := errors.Join(r.recordErr, flushErr)
	r.mu.Unlock()

	log.Info(ctx, "flight finished",
		logging.Uint64("frames", s.Frames),
		logging.Float("sim_time", s.SimTime),
		logging.Float("max_altitude", s.MaxAltitude),
		logging.Float("max_tension", s.MaxTension),
		logging.Uint64("faults", s.Faults),
	)
	return s, err
}

// Summary returns a snapshot of the statistics so far.
func (r *Runner) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *Runner) onFrame(_ time.Time, dt float64) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = r.log
	}

	r.applyCues()

	stepCtx, span := observability.StartStep(ctx, r.sim.Frame().Tick+1, dt)
	f := r.sim.Step(stepCtx, dt)
	observability.EndStep(span, f)

	var recErr error
	if r.rec != nil {
		recErr = r.rec.Record(ctx, f)
	}

	r.mu.Lock()
	r.observe(f)
	if recErr != nil && r.recordErr == nil {
		r.recordErr = recErr
	}
	frames := r.summary.Frames
	r.mu.Unlock()

	if recErr != nil {
		log.Warn(ctx, "frame not recorded", logging.Uint64("tick", f.Tick), logging.Err(recErr))
	}
	if r.logEvery > 0 && frames%r.logEvery == 0 {
		log.Debug(ctx, "flight progress",
			logging.Uint64("tick", f.Tick),
			logging.Float("altitude", f.Position.Y()),
			logging.Float("tension_left", f.Lines[0].Tension),
			logging.Float("tension_right", f.Lines[1].Tension),
			logging.Bool("ground_contact", f.GroundContact),
		)
	}
}

// applyCues hands every due cue to the simulation; the latest one wins when
// several fall due in the same frame.
func (r *Runner) applyCues() {
	now := r.sim.Frame().Time
	for len(r.cues) > 0 && r.cues[0].At <= now {
		r.sim.SetInputs(r.cues[0].Inputs)
		r.cues = r.cues[1:]
	}
}

func (r *Runner) observe(f core.Frame) {
	s := &r.summary
	s.Frames++
	s.SimTime = f.Time
	s.Faults = f.Faults
	s.Final = f
	s.MaxAltitude = math.Max(s.MaxAltitude, f.Position.Y())
	for _, l := range f.Lines {
		s.MaxTension = math.Max(s.MaxTension, l.Tension)
	}
	if f.GroundContact {
		s.GroundContacts++
	}
}
