package runner

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/kitesim/core"
	"github.com/signalsfoundry/kitesim/internal/logging"
	"github.com/signalsfoundry/kitesim/internal/recorder"
	"github.com/signalsfoundry/kitesim/model"
	"github.com/signalsfoundry/kitesim/timectrl"
)

type recorderStub struct {
	frames  []core.Frame
	flushes int
	err     error
}

func (r *recorderStub) Record(_ context.Context, f core.Frame) error {
	r.frames = append(r.frames, f)
	return r.err
}

func (r *recorderStub) Flush(context.Context) error {
	r.flushes++
	return nil
}

func newRunner(t *testing.T, opts ...Option) (*Runner, *core.Simulation) {
	t.Helper()
	sim, err := core.NewSimulation(model.DefaultKite(), core.WithWind(core.WindParams{Speed: 5}))
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	clock := timectrl.NewFrameClock(time.Unix(0, 0), 10*time.Millisecond, 30*time.Millisecond, timectrl.Accelerated)
	return New(sim, clock, logging.Noop(), opts...), sim
}

func TestRunAcceleratedDrivesSimulation(t *testing.T) {
	rec := &recorderStub{}
	r, sim := newRunner(t, WithRecorder(rec), WithRunID("fixed-run"))

	s, err := r.Run(context.Background(), 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Frames != 50 || len(rec.frames) != 50 {
		t.Fatalf("frames = %d (recorded %d), want 50", s.Frames, len(rec.frames))
	}
	if rec.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", rec.flushes)
	}
	if math.Abs(s.SimTime-0.5) > 1e-9 {
		t.Fatalf("sim time = %v, want 0.5", s.SimTime)
	}
	if s.RunID != "fixed-run" || r.RunID() != "fixed-run" {
		t.Fatalf("run id = %q", s.RunID)
	}
	if s.Kite != model.DefaultKite().Name {
		t.Fatalf("kite = %q", s.Kite)
	}
	if s.Final.Tick != sim.Frame().Tick || s.MaxAltitude <= 0 {
		t.Fatalf("summary = %+v", s)
	}
	for i, f := range rec.frames {
		if f.Tick != uint64(i+1) {
			t.Fatalf("frame %d has tick %d", i, f.Tick)
		}
	}
}

func TestRunLogsProgressWithRunID(t *testing.T) {
	var buf bytes.Buffer
	sim, err := core.NewSimulation(model.DefaultKite(), core.WithWind(core.WindParams{Speed: 5}))
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	clock := timectrl.NewFrameClock(time.Unix(0, 0), 10*time.Millisecond, 30*time.Millisecond, timectrl.Accelerated)
	log := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
	r := New(sim, clock, log, WithRunID("logged-run"), WithLogEvery(5))

	if _, err := r.Run(context.Background(), 50*time.Millisecond); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var progress int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, `"run_id":"logged-run"`) {
			t.Fatalf("log line without run id: %s", line)
		}
		if strings.Contains(line, `"msg":"flight progress"`) {
			progress++
			if !strings.Contains(line, `"ground_contact":`) {
				t.Fatalf("progress line without ground_contact: %s", line)
			}
		}
	}
	if progress != 1 {
		t.Fatalf("progress lines = %d, want 1", progress)
	}
}

func TestRunAppliesCuesInTimeOrder(t *testing.T) {
	integ := core.DefaultIntegratorConfig()
	base := core.Inputs{
		WindSpeed:      5,
		LineLength:     10,
		LiftScale:      1,
		DragScale:      1,
		LinearDamping:  integ.LinearDamping,
		AngularDamping: integ.AngularDamping,
	}
	left, right := base, base
	left.Steer = 0.4
	right.Steer = -0.2

	r, sim := newRunner(t, WithCues(Cue{At: 0.3, Inputs: right}, Cue{At: 0.1, Inputs: left}))
	if _, err := r.Run(context.Background(), 200*time.Millisecond); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := sim.Inputs().Steer; got != 0.4 {
		t.Fatalf("steer after 0.2s = %v, want the 0.1s cue", got)
	}
	lines := sim.Lines()
	if math.Abs(lines.RestLengths[model.Left]-9.6) > 1e-12 || lines.RestLengths[model.Right] != 10 {
		t.Fatalf("rest lengths = %v", lines.RestLengths)
	}
}

func TestRunReportsRecordErrors(t *testing.T) {
	rec := &recorderStub{err: errors.New("disk full")}
	r, _ := newRunner(t, WithRecorder(rec))

	s, err := r.Run(context.Background(), 50*time.Millisecond)
	if err == nil {
		t.Fatalf("expected record error")
	}
	if s.Frames != 5 {
		t.Fatalf("frames = %d, want the loop to keep running", s.Frames)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sim, err := core.NewSimulation(model.DefaultKite())
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	clock := timectrl.NewFrameClock(time.Unix(0, 0), time.Millisecond, 30*time.Millisecond, timectrl.RealTime)
	r := New(sim, clock, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_, _ = r.Run(ctx, 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop after context deadline")
	}
	if r.RunID() == "" {
		t.Fatalf("expected a generated run id")
	}
}

func TestRunWritesFlightRecorder(t *testing.T) {
	rec, err := recorder.Open(filepath.Join(t.TempDir(), "flight.db"), recorder.WithFlushEvery(16))
	if err != nil {
		t.Fatalf("recorder.Open: %v", err)
	}
	defer rec.Close()

	ctx := context.Background()
	if err := rec.StartRun(ctx, recorder.Run{ID: "rec-run", Kite: model.DefaultKite().Name, StepMode: "integrate-then-project"}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	r, _ := newRunner(t, WithRecorder(rec), WithRunID("rec-run"))
	if _, err := r.Run(ctx, 400*time.Millisecond); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows, err := rec.Frames(ctx, "rec-run")
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	if len(rows) != 40 {
		t.Fatalf("stored %d frames, want 40", len(rows))
	}
}
