package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/kitesim/core"
	"github.com/signalsfoundry/kitesim/internal/config"
	"github.com/signalsfoundry/kitesim/internal/diag"
	"github.com/signalsfoundry/kitesim/internal/logging"
	"github.com/signalsfoundry/kitesim/internal/observability"
	"github.com/signalsfoundry/kitesim/internal/recorder"
	"github.com/signalsfoundry/kitesim/internal/runner"
	"github.com/signalsfoundry/kitesim/kb"
	"github.com/signalsfoundry/kitesim/model"
	"github.com/signalsfoundry/kitesim/timectrl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// flight is everything one run needs, built from settings.
type flight struct {
	log       logging.Logger
	settings  config.Settings
	runID     string
	sim       *core.Simulation
	runner    *runner.Runner
	collector *observability.SimCollector
	rec       *recorder.Recorder
	metrics   *http.Server
	shutdown  func(context.Context) error
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("kitesim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configDir := fs.String("config", ".", "directory searched for kitesim.yaml")
	duration := fs.Duration("duration", 0, "simulated flight time (overrides sim.duration)")
	kite := fs.String("kite", "", "kite preset name (overrides sim.kite)")
	catalog := fs.String("catalog", "", "JSON kite catalog loaded before the run")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus /metrics on this address")
	recordPath := fs.String("record", "", "write frames to this SQLite file")
	accelerated := fs.Bool("accelerated", false, "run frames back to back instead of in real time")
	steer := fs.Float64("steer", 0, "steering input applied at -steer-at")
	steerAt := fs.Float64("steer-at", -1, "simulated second at which -steer is applied")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	settings, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "kitesim: %v\n", err)
		return 1
	}
	if *duration > 0 {
		settings.Sim.Duration = *duration
	}
	if *kite != "" {
		settings.Sim.Kite = *kite
	}
	if *catalog != "" {
		settings.Sim.Catalog = *catalog
	}
	if *metricsAddr != "" {
		settings.Metrics.Enabled = true
		settings.Metrics.Addr = *metricsAddr
	}
	if *recordPath != "" {
		settings.Recorder.Enabled = true
		settings.Recorder.Path = *recordPath
	}
	if *accelerated {
		settings.Sim.ClockMode = timectrl.Accelerated.String()
	}

	log := logging.New(logging.Config{Level: settings.Log.Level, Format: settings.Log.Format, Output: stderr})

	var cues []runner.Cue
	if *steerAt >= 0 {
		in := settings.Inputs()
		in.Steer = *steer
		cues = append(cues, runner.Cue{At: *steerAt, Inputs: in})
	}

	fl, err := build(ctx, settings, log, prometheus.NewRegistry(), cues...)
	if err != nil {
		log.Error(ctx, "failed to set up flight", logging.Err(err))
		return 1
	}
	defer fl.close(ctx)

	summary, err := fl.runner.Run(ctx, settings.Sim.Duration)
	printSummary(stdout, summary)
	if err != nil {
		log.Error(ctx, "flight finished with errors", logging.Err(err))
		return 1
	}
	return 0
}

// build assembles the kite store, observability, recorder, simulation and
// runner from settings.
func build(ctx context.Context, s config.Settings, log logging.Logger, reg prometheus.Registerer, cues ...runner.Cue) (*flight, error) {
	fl := &flight{log: log, settings: s, runID: uuid.NewString()}

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     s.Tracing.Enabled,
		ServiceName: s.Tracing.ServiceName,
		Exporter:    s.Tracing.Exporter,
		Endpoint:    s.Tracing.Endpoint,
		SampleRatio: 1,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	fl.shutdown = shutdown

	store := kb.NewWithDefaults()
	if s.Sim.Catalog != "" {
		if err := loadCatalog(store, s.Sim.Catalog); err != nil {
			fl.close(ctx)
			return nil, err
		}
	}
	def, err := store.GetKite(s.Sim.Kite)
	if err != nil {
		fl.close(ctx)
		return nil, err
	}

	fl.collector, err = observability.NewSimCollector(reg)
	if err != nil {
		fl.close(ctx)
		return nil, fmt.Errorf("metrics: %w", err)
	}
	faultRecorders := []diag.Recorder{fl.collector}

	if s.Recorder.Enabled {
		recMetrics, err := observability.NewRecorderCollector(reg)
		if err != nil {
			fl.close(ctx)
			return nil, fmt.Errorf("recorder metrics: %w", err)
		}
		fl.rec, err = recorder.Open(s.Recorder.Path,
			recorder.WithFlushEvery(s.Recorder.FlushEvery),
			recorder.WithFlushObserver(recMetrics))
		if err != nil {
			fl.close(ctx)
			return nil, fmt.Errorf("open recorder: %w", err)
		}
		if err := fl.rec.StartRun(ctx, recorder.Run{ID: fl.runID, Kite: def.Name, StepMode: s.Sim.StepMode}); err != nil {
			fl.close(ctx)
			return nil, err
		}
		faultRecorders = append(faultRecorders, fl.rec)
	}

	opts, err := s.SimulationOptions()
	if err != nil {
		fl.close(ctx)
		return nil, err
	}
	sink := diag.NewSink(log.With(logging.String("kite", def.Name)), diag.WithRecorder(diag.Recorders(faultRecorders...)))
	opts = append(opts, core.WithSink(sink), core.WithMetricsRecorder(fl.collector))

	fl.sim, err = core.NewSimulation(def, opts...)
	if err != nil {
		fl.close(ctx)
		return nil, err
	}
	if in := s.Inputs(); in.Steer != 0 || in.Bridles != (model.BridleLengths{}) {
		fl.sim.SetInputs(in)
	}

	clock := timectrl.NewFrameClock(time.Unix(0, 0).UTC(), s.FramePeriod(),
		core.MaxDeltaDuration, timectrl.ParseMode(s.Sim.ClockMode))

	runOpts := []runner.Option{runner.WithRunID(fl.runID), runner.WithCues(cues...)}
	if fl.rec != nil {
		runOpts = append(runOpts, runner.WithRecorder(fl.rec))
	}
	fl.runner = runner.New(fl.sim, clock, log, runOpts...)

	if s.Metrics.Enabled {
		fl.metrics = serveMetrics(s.Metrics.Addr, fl.collector, log)
	}
	return fl, nil
}

func (fl *flight) close(ctx context.Context) {
	if fl.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		_ = fl.metrics.Shutdown(shutdownCtx)
		cancel()
	}
	if fl.rec != nil {
		if err := fl.rec.Close(); err != nil {
			fl.log.Warn(ctx, "closing recorder failed", logging.Err(err))
		}
	}
	observability.ShutdownWithTimeout(context.WithoutCancel(ctx), fl.shutdown, fl.log)
}

func loadCatalog(store *kb.KnowledgeBase, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open kite catalog %q: %w", path, err)
	}
	defer f.Close()
	if _, err := core.LoadKiteCatalog(store, f); err != nil {
		return err
	}
	return nil
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func printSummary(w io.Writer, s runner.Summary) {
	f := s.Final
	fmt.Fprintf(w, "run %s kite=%s frames=%d sim_time=%.2fs\n", s.RunID, s.Kite, s.Frames, s.SimTime)
	fmt.Fprintf(w, "  final position (%.2f, %.2f, %.2f) m\n", f.Position.X(), f.Position.Y(), f.Position.Z())
	fmt.Fprintf(w, "  max altitude %.2f m, max line tension %.1f N\n", s.MaxAltitude, s.MaxTension)
	fmt.Fprintf(w, "  ground contacts %d, faults %d\n", s.GroundContacts, s.Faults)
}
